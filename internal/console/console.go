package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

type Command int

const (
	CmdInvalid Command = iota
	CmdRegister
	CmdUnregister
	CmdMakeCall
	CmdHangUp
	CmdExit
)

func (c Command) String() string {
	switch c {
	case CmdRegister:
		return "Register"
	case CmdUnregister:
		return "Unregister"
	case CmdMakeCall:
		return "Make Call"
	case CmdHangUp:
		return "Hang Up"
	case CmdExit:
		return "Exit"
	}
	return "Invalid"
}

var menuOrder = []Command{CmdRegister, CmdUnregister, CmdMakeCall, CmdHangUp, CmdExit}

// ParseCommand maps a menu selection ("1".."5") to its command.
func ParseCommand(s string) Command {
	switch strings.TrimSpace(s) {
	case "1":
		return CmdRegister
	case "2":
		return CmdUnregister
	case "3":
		return CmdMakeCall
	case "4":
		return CmdHangUp
	case "5":
		return CmdExit
	}
	return CmdInvalid
}

// Console reads lines from in on its own goroutine so reads can be abandoned
// on cancellation. Writes to out are serialized.
type Console struct {
	lines <-chan string
	errc  <-chan error
	// err is the terminal input error, kept once the reader has stopped.
	err error

	mu  sync.Mutex
	out io.Writer
}

func New(in io.Reader, out io.Writer) *Console {
	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
		err := sc.Err()
		if err == nil {
			err = io.EOF
		}
		errc <- err
	}()

	return &Console{lines: lines, errc: errc, out: out}
}

// ReadLine waits for the next input line. It returns io.EOF when input ends,
// on this and every later call, and ctx.Err() when ctx is cancelled first.
// It is not safe for concurrent use.
func (c *Console) ReadLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			if c.err == nil {
				c.err = <-c.errc
			}
			return "", c.err
		}
		return strings.TrimSpace(line), nil
	}
}

func (c *Console) Prompt(ctx context.Context, label string) (string, error) {
	c.Printf("%s", label)
	return c.ReadLine(ctx)
}

// Write makes the console usable as an io.Writer.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

func (c *Console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) Println(args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, args...)
}

func (c *Console) Menu() {
	var b strings.Builder
	b.WriteString("\nOptions:\n")
	for i, cmd := range menuOrder {
		fmt.Fprintf(&b, "%d. %s\n", i+1, cmd)
	}
	b.WriteString("Select option: ")
	c.Printf("%s", b.String())
}

// ReadCommand shows the menu and reads one selection.
func (c *Console) ReadCommand(ctx context.Context) (Command, error) {
	c.Menu()
	line, err := c.ReadLine(ctx)
	if err != nil {
		return CmdInvalid, err
	}
	return ParseCommand(line), nil
}
