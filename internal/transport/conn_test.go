package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startEchoServer(t *testing.T, loopErr chan<- error) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r)
		if err != nil {
			return
		}
		err = conn.ReadLoop(context.Background(), func(data []byte) {
			_ = conn.Send(append([]byte("echo:"), data...))
		})
		if loopErr != nil {
			loopErr <- err
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestConnEchoesTextFrames(t *testing.T) {
	ts := startEchoServer(t, nil)

	c, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.WriteMessage(websocket.BinaryMessage, []byte("ignored")); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	if err := c.WriteMessage(websocket.TextMessage, []byte("OPTIONS")); err != nil {
		t.Fatalf("write text: %v", err)
	}

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.TextMessage || string(data) != "echo:OPTIONS" {
		t.Errorf("got %d %q, want text echo:OPTIONS", typ, data)
	}
}

func TestReadLoopEndsOnNormalClose(t *testing.T) {
	loopErr := make(chan error, 1)
	ts := startEchoServer(t, loopErr)

	c, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second))
	defer c.Close()

	select {
	case err := <-loopErr:
		if err != nil {
			t.Errorf("ReadLoop() = %v, want nil on normal close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadLoop did not return")
	}
}

func TestReadLoopStopsOnCancel(t *testing.T) {
	ts := startEchoServer(t, nil)

	conn, err := Dial(context.Background(), wsURL(ts), DialOptions{Retries: 1, Timeout: time.Second})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- conn.ReadLoop(ctx, func([]byte) {}) }()

	cancel()
	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("ReadLoop() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadLoop ignored cancellation")
	}

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("socket not released")
	}
	if err := conn.Send([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after close = %v, want ErrClosed", err)
	}
}

func TestDialRoundTrip(t *testing.T) {
	ts := startEchoServer(t, nil)

	conn, err := Dial(context.Background(), wsURL(ts), DefaultDialOptions())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	got := make(chan string, 1)
	go func() {
		_ = conn.ReadLoop(context.Background(), func(data []byte) { got <- string(data) })
	}()

	if err := conn.Send([]byte("REGISTER")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case msg := <-got:
		if msg != "echo:REGISTER" {
			t.Errorf("got %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no echo")
	}
}

func TestDialGivesUpAfterRetries(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	start := time.Now()
	_, err = Dial(context.Background(), "ws://"+addr, DialOptions{
		Retries: 3,
		Delay:   20 * time.Millisecond,
		Timeout: 500 * time.Millisecond,
	})
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Dial() = %v, want ErrConnectFailed", err)
	}
	if !strings.Contains(err.Error(), "3 attempts") {
		t.Errorf("error %q does not report attempts", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("retries did not wait between attempts (%v)", elapsed)
	}
}

func TestSendQueueBound(t *testing.T) {
	c := &Conn{out: make(chan []byte, 1), done: make(chan struct{})}

	if err := c.Send([]byte("a")); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if err := c.Send([]byte("b")); !errors.Is(err, ErrQueueFull) {
		t.Errorf("second Send = %v, want ErrQueueFull", err)
	}
	c.Close()
	c.Close()
	if err := c.Send([]byte("c")); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}
