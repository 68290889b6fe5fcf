package registrar

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"SipExchange/internal/repository/user"
)

type fakeConn struct {
	addr string
}

func (f *fakeConn) Send([]byte) error  { return nil }
func (f *fakeConn) RemoteAddr() string { return f.addr }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistrar() (*Registrar, *clock) {
	clk := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	roster := user.StaticRoster([]string{"1001", "1002"}, "defaultpassword")
	return New("localhost", roster, WithClock(clk.Now)), clk
}

func TestRegisterUnknownUser(t *testing.T) {
	reg, _ := newTestRegistrar()

	err := reg.Register("9999", time.Hour, "", &fakeConn{})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("Register() = %v, want ErrUserNotFound", err)
	}
	if reg.IsRegistered("9999") {
		t.Errorf("unknown user reported registered")
	}
	if _, ok := reg.Get("9999"); ok {
		t.Errorf("unknown user has a binding")
	}
}

func TestRegisterExpiresLazily(t *testing.T) {
	reg, clk := newTestRegistrar()
	conn := &fakeConn{addr: "10.0.0.1:5000"}

	if err := reg.Register("1001", 3600*time.Second, "<sip:1001@localhost;transport=ws>", conn); err != nil {
		t.Fatalf("Register() = %v", err)
	}
	if !reg.IsRegistered("1001") {
		t.Fatalf("1001 not registered")
	}

	b, _ := reg.Get("1001")
	if b.Conn != conn || b.Source != "10.0.0.1:5000" || b.Contact != "<sip:1001@localhost;transport=ws>" {
		t.Errorf("unexpected binding %+v", b)
	}

	clk.Advance(3599 * time.Second)
	if !reg.IsRegistered("1001") {
		t.Errorf("expired before 3600s")
	}
	clk.Advance(time.Second)
	if reg.IsRegistered("1001") {
		t.Errorf("still registered at 3600s")
	}
}

func TestRegisterIdempotent(t *testing.T) {
	reg, _ := newTestRegistrar()
	conn := &fakeConn{}

	_ = reg.Register("1001", time.Hour, "", conn)
	first, _ := reg.Get("1001")
	_ = reg.Register("1001", time.Hour, "", conn)
	second, _ := reg.Get("1001")

	if !first.ExpiresAt.Equal(second.ExpiresAt) {
		t.Errorf("expiry moved: %v vs %v", first.ExpiresAt, second.ExpiresAt)
	}
	if !reg.IsRegistered("1001") {
		t.Errorf("not registered after repeat")
	}
}

func TestUnregisterClearsState(t *testing.T) {
	reg, _ := newTestRegistrar()
	conn := &fakeConn{}

	_ = reg.Register("1001", time.Hour, "", conn)
	if err := reg.Register("1001", 0, "", conn); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if reg.IsRegistered("1001") {
		t.Errorf("still registered after zero expiry")
	}
	if b, _ := reg.Get("1001"); b.Conn != nil {
		t.Errorf("transport kept after unregister")
	}
}

func TestDefaultContact(t *testing.T) {
	reg, _ := newTestRegistrar()
	b, ok := reg.Get("1002")
	if !ok || b.Contact != "sip:1002@localhost" || b.Password != "defaultpassword" {
		t.Errorf("unexpected roster binding %+v", b)
	}
}

func TestScrub(t *testing.T) {
	reg, _ := newTestRegistrar()
	a, b := &fakeConn{addr: "a"}, &fakeConn{addr: "b"}

	_ = reg.Register("1001", time.Hour, "", a)
	_ = reg.Register("1002", time.Hour, "", b)

	if got := reg.Scrub(a); len(got) != 1 || got[0] != "1001" {
		t.Errorf("Scrub() = %v, want [1001]", got)
	}
	if reg.IsRegistered("1001") {
		t.Errorf("1001 registered after its transport closed")
	}
	if bind, _ := reg.Get("1001"); bind.Conn != nil {
		t.Errorf("dangling transport reference")
	}
	if !reg.IsRegistered("1002") {
		t.Errorf("1002 scrubbed by unrelated transport")
	}
	if got := reg.Scrub(nil); got != nil {
		t.Errorf("Scrub(nil) = %v", got)
	}
	if reg.Count() != 1 {
		t.Errorf("Count() = %d, want 1", reg.Count())
	}
}

func TestListOrdered(t *testing.T) {
	reg := New("localhost", user.StaticRoster([]string{"3", "1", "2"}, ""))
	var got []string
	for _, b := range reg.List() {
		got = append(got, b.Username)
	}
	if fmt.Sprint(got) != "[1 2 3]" {
		t.Errorf("List() order = %v", got)
	}
}

func TestConcurrentRegister(t *testing.T) {
	reg, _ := newTestRegistrar()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := &fakeConn{addr: fmt.Sprint(i)}
			_ = reg.Register("1001", time.Hour, "", conn)
			_ = reg.IsRegistered("1001")
			reg.Scrub(conn)
		}(i)
	}
	wg.Wait()
}
