package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrConnectFailed = errors.New("transport: connect failed")

type DialOptions struct {
	Retries int
	Delay   time.Duration
	Timeout time.Duration
}

func DefaultDialOptions() DialOptions {
	return DialOptions{Retries: 3, Delay: 2 * time.Second, Timeout: 5 * time.Second}
}

// Dial connects to url, retrying a fixed number of times with a fixed delay
// between attempts. Each attempt is bounded by opts.Timeout.
func Dial(ctx context.Context, url string, opts DialOptions) (*Conn, error) {
	if opts.Retries <= 0 {
		opts.Retries = 1
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: opts.Timeout,
		Subprotocols:     []string{"sip"},
	}

	var lastErr error
	for attempt := 1; attempt <= opts.Retries; attempt++ {
		log.Info().Str("url", url).Msgf("[WS] connecting (attempt %d/%d)", attempt, opts.Retries)

		attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		ws, _, err := dialer.DialContext(attemptCtx, url, nil)
		cancel()
		if err == nil {
			log.Info().Str("url", url).Msg("[WS] connected")
			return NewConn(ws), nil
		}

		lastErr = err
		log.Warn().Err(err).Str("url", url).Msg("[WS] connection attempt failed")

		if attempt < opts.Retries {
			select {
			case <-time.After(opts.Delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrConnectFailed, opts.Retries, lastErr)
}
