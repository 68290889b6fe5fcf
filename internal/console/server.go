package console

import (
	"fmt"
	"io"
	"strings"
	"time"

	"SipExchange/internal/registrar"
	"SipExchange/internal/sipserver"
)

type ServerKey int

const (
	KeyNone ServerKey = iota
	KeyStatus
	KeyQuit
)

// ParseServerKey maps server console input: s prints status, q quits.
func ParseServerKey(s string) ServerKey {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "s":
		return KeyStatus
	case "q":
		return KeyQuit
	}
	return KeyNone
}

// WriteServerStatus prints active calls and registered users with the
// seconds left on each registration.
func WriteServerStatus(w io.Writer, calls []sipserver.ActiveCall, bindings []registrar.Binding, now time.Time) {
	fmt.Fprintf(w, "\n[%s] === Server Status ===\n", now.Format(time.RFC3339))
	fmt.Fprintf(w, "Active calls: %d\n", len(calls))
	for _, call := range calls {
		fmt.Fprintf(w, "- %s: %s->%s (%ds)\n", call.CallID, call.Caller, call.Callee, int(now.Sub(call.StartedAt).Seconds()))
	}

	fmt.Fprintln(w, "Registered users:")
	for _, b := range bindings {
		if !b.IsRegistered(now) {
			continue
		}
		fmt.Fprintf(w, "- %s (expires: %.0fs)\n", b.Username, b.ExpiresAt.Sub(now).Seconds())
	}
}
