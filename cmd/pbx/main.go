package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"SipExchange/internal/config"
	"SipExchange/internal/console"
	httpserver "SipExchange/internal/http_server"
	"SipExchange/internal/metrics"
	"SipExchange/internal/registrar"
	"SipExchange/internal/repository/user"
	"SipExchange/internal/router"
	"SipExchange/internal/sipserver"
	"SipExchange/pkg/dbconnecter"
	"SipExchange/pkg/logger"
)

const (
	retry           int = 3
	shutdownTimeout     = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pbx: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServer(os.Args[1:])
	if err != nil {
		return err
	}
	if err := logger.Setup(cfg.LogLevel, os.Stdout); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	roster, err := loadRoster(ctx, cfg)
	if err != nil {
		return err
	}

	reg := registrar.New(cfg.Domain, roster)
	sip := sipserver.New(reg, cfg.Domain)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.MustRegister(promReg)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.NewRouter(httpserver.NewHttpServer(reg, sip.Calls()), sip, cfg.WSPath, promReg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("path", cfg.WSPath).Msgf("[WS] SIP server running on ws://%s%s", cfg.Domain, cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	logins := make([]string, 0, len(roster))
	for _, u := range roster {
		logins = append(logins, u.Login)
	}
	log.Info().Strs("users", logins).Msg("roster loaded, press s for status, q to quit")

	go serverConsole(ctx, console.New(os.Stdin, os.Stdout), sip, stop)

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	sip.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info().Msg("shutdown")
	return nil
}

func loadRoster(ctx context.Context, cfg *config.Server) ([]user.User, error) {
	if cfg.RosterSource != config.RosterPostgres {
		return user.StaticRoster(cfg.Roster, cfg.DefaultPassword), nil
	}

	db, dbCloser, err := dbconnecter.DbConnecter(cfg.Postgres.Params(), false, retry)
	if err != nil {
		return nil, err
	}
	defer dbCloser()

	users, err := user.NewUserRepo(db).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	return users, nil
}

// serverConsole handles the operator keys until input ends or ctx is done.
func serverConsole(ctx context.Context, c *console.Console, sip *sipserver.Server, quit context.CancelFunc) {
	for {
		line, err := c.ReadLine(ctx)
		if err != nil {
			return
		}
		switch console.ParseServerKey(line) {
		case console.KeyStatus:
			reg := sip.Registrar()
			console.WriteServerStatus(c, sip.Calls().List(), reg.List(), reg.Now())
		case console.KeyQuit:
			quit()
			return
		}
	}
}
