package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"SipExchange/internal/config"
	"SipExchange/internal/console"
	"SipExchange/internal/softphone"
	"SipExchange/internal/transport"
	"SipExchange/pkg/logger"
)

const (
	defaultUser     = "1001"
	defaultPassword = "defaultpassword"
	closeTimeout    = 2 * time.Second
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		fmt.Fprintf(os.Stderr, "softphone: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadClient(os.Args[1:])
	if err != nil {
		return err
	}
	if err := logger.Setup(cfg.LogLevel, os.Stdout); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	con := console.New(os.Stdin, os.Stdout)
	con.Println("=== SIP Console Client ===")

	username, err := promptDefault(ctx, con, cfg.Username, "Enter SIP username: ", defaultUser)
	if err != nil {
		return err
	}
	password, err := promptDefault(ctx, con, cfg.Password, "Enter SIP password: ", defaultPassword)
	if err != nil {
		return err
	}

	session := softphone.New(softphone.Identity{
		Username: username,
		Password: password,
		Domain:   cfg.Domain,
		Server:   cfg.Server,
	}, softphone.WithNotifier(func(ev softphone.Event) {
		con.Println("\n" + ev.String())
	}))

	conn, err := transport.Dial(ctx, cfg.Server, transport.DialOptions{
		Retries: cfg.ConnectRetries,
		Delay:   cfg.ConnectDelay,
		Timeout: cfg.ConnectTimeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		con.Println("Failed to connect to server. Please check:")
		con.Printf("- Server URL: %s\n- Is the server running?\n- Network connectivity\n", cfg.Server)
		log.Error().Err(err).Msg("[WS] giving up")
	} else {
		session.Attach(conn)
		go func() {
			if err := conn.ReadLoop(ctx, session.HandleFrame); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("[WS] receive loop ended")
			}
			session.Detach()
		}()
	}

	err = commandLoop(ctx, con, session)

	if conn != nil {
		conn.Close()
		select {
		case <-conn.Done():
		case <-time.After(closeTimeout):
		}
	}
	return err
}

func promptDefault(ctx context.Context, con *console.Console, value, label, def string) (string, error) {
	if value != "" {
		return value, nil
	}
	v, err := con.Prompt(ctx, label)
	if err != nil {
		return "", err
	}
	if v == "" {
		v = def
	}
	return v, nil
}

// commandLoop runs the menu until Exit, end of input or cancellation.
func commandLoop(ctx context.Context, con *console.Console, session *softphone.Session) error {
	for {
		con.Println("\n" + session.Status().String())

		cmd, err := con.ReadCommand(ctx)
		if err != nil {
			return err
		}

		switch cmd {
		case console.CmdRegister:
			err = session.Register()
		case console.CmdUnregister:
			err = session.Unregister()
		case console.CmdMakeCall:
			if !session.Status().Registered {
				err = softphone.ErrNotRegistered
				break
			}
			var dest string
			dest, err = con.Prompt(ctx, "Enter destination (e.g., 1002): ")
			if err != nil {
				return err
			}
			if dest != "" {
				err = session.MakeCall(dest)
			}
		case console.CmdHangUp:
			err = session.HangUp()
		case console.CmdExit:
			return nil
		default:
			con.Println("Invalid option")
			continue
		}

		if err != nil {
			con.Printf("Error: %v\n", err)
		}
	}
}
