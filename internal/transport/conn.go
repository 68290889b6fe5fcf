package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	sendQueueSize  = 64
	maxMessageSize = 64 * 1024
)

var (
	ErrClosed    = errors.New("transport: connection is not open")
	ErrQueueFull = errors.New("transport: outbound queue is full")
)

// Sender is the handle registry bindings and calls keep to reach a peer.
// Send never blocks; a dropped frame is reported through the error.
type Sender interface {
	Send(data []byte) error
	RemoteAddr() string
}

// Conn is one WebSocket carrying whole signaling messages as text frames.
// Writes go through a bounded queue drained by a single pump goroutine.
type Conn struct {
	ws     *websocket.Conn
	remote string

	mu     sync.Mutex
	closed bool
	out    chan []byte
	done   chan struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	Subprotocols:    []string{"sip"},
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Upgrade turns an HTTP request into a Conn.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewConn(ws), nil
}

func NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:     ws,
		remote: ws.RemoteAddr().String(),
		out:    make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *Conn) RemoteAddr() string {
	return c.remote
}

func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	select {
	case c.out <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close flushes queued frames, sends a close frame and releases the socket.
// It is safe to call more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
}

// Done is closed once the socket has been released.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// ReadLoop hands every inbound text frame to handle until the peer closes,
// the socket fails or ctx is cancelled. A normal close returns nil.
func (c *Conn) ReadLoop(ctx context.Context, handle func(data []byte)) error {
	stop := context.AfterFunc(ctx, c.Close)
	defer stop()
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if typ != websocket.TextMessage {
			log.Warn().Str("remote", c.remote).Int("type", typ).Msg("[WS] ignoring non-text frame")
			continue
		}
		handle(data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case data, ok := <-c.out:
			if !ok {
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
					time.Now().Add(writeWait))
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("remote", c.remote).Msg("[WS] write failed")
				c.Close()
				c.discard()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("remote", c.remote).Msg("[WS] ping failed")
				c.Close()
				c.discard()
				return
			}
		}
	}
}

func (c *Conn) discard() {
	for range c.out {
	}
}
