package sipserver

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"SipExchange/internal/message"
	"SipExchange/internal/registrar"
	"SipExchange/internal/repository/user"
	"SipExchange/internal/transport"
)

type fakeConn struct {
	mu     sync.Mutex
	addr   string
	frames [][]byte
	closed bool
}

func newFakeConn(addr string) *fakeConn {
	return &fakeConn{addr: addr}
}

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) RemoteAddr() string { return f.addr }

func (f *fakeConn) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

func (f *fakeConn) last(t *testing.T) *message.Message {
	t.Helper()
	frames := f.sent()
	if len(frames) == 0 {
		t.Fatalf("%s received nothing", f.addr)
	}
	msg, err := message.Parse(frames[len(frames)-1])
	if err != nil {
		t.Fatalf("%s received unparseable frame: %v", f.addr, err)
	}
	return msg
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestServer() (*Server, *testClock) {
	clk := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	reg := registrar.New("localhost", user.StaticRoster([]string{"1001", "1002"}, "defaultpassword"), registrar.WithClock(clk.Now))
	return New(reg, "localhost"), clk
}

func parse(t *testing.T, text string) *message.Message {
	t.Helper()
	msg, err := message.Parse([]byte(text))
	if err != nil {
		t.Fatalf("Parse(%q): %v", text, err)
	}
	return msg
}

func registerText(login string, expires int) string {
	return "REGISTER sip:localhost SIP/2.0\r\n" +
		"Via: SIP/2.0/WS localhost;branch=z9hG4bKreg" + login + "\r\n" +
		"Max-Forwards: 70\r\n" +
		"To: <sip:" + login + "@localhost>\r\n" +
		"From: <sip:" + login + "@localhost>;tag=abcd1234\r\n" +
		"Call-ID: reg-" + login + "@localhost\r\n" +
		"CSeq: 1 REGISTER\r\n" +
		"Contact: <sip:" + login + "@localhost;transport=ws>\r\n" +
		fmt.Sprintf("Expires: %d\r\n", expires) +
		"Content-Length: 0\r\n\r\n"
}

func inviteText(from, to, callID string) string {
	return "INVITE sip:" + to + "@localhost SIP/2.0\r\n" +
		"Via: SIP/2.0/WS localhost;branch=z9hG4bKinv\r\n" +
		"Max-Forwards: 70\r\n" +
		"To: <sip:" + to + "@localhost>\r\n" +
		"From: <sip:" + from + "@localhost>;tag=11112222\r\n" +
		"Call-ID: " + callID + "\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Contact: <sip:" + from + "@localhost;transport=ws>\r\n" +
		"Content-Type: application/sdp\r\n" +
		"Content-Length: 0\r\n\r\n"
}

func byeText(from, callID string) string {
	return "BYE sip:" + from + "@localhost SIP/2.0\r\n" +
		"Via: SIP/2.0/WS localhost;branch=z9hG4bKbye\r\n" +
		"Max-Forwards: 70\r\n" +
		"To: <sip:" + from + "@localhost>\r\n" +
		"From: <sip:" + from + "@localhost>;tag=33334444\r\n" +
		"Call-ID: " + callID + "\r\n" +
		"CSeq: 2 BYE\r\n" +
		"Content-Length: 0\r\n\r\n"
}

func responseText(code int, reason, callID string) string {
	return fmt.Sprintf("SIP/2.0 %d %s\r\n", code, reason) +
		"Via: SIP/2.0/WS localhost;branch=z9hG4bKinv\r\n" +
		"To: <sip:1002@localhost>;tag=99990000\r\n" +
		"From: <sip:1001@localhost>;tag=11112222\r\n" +
		"Call-ID: " + callID + "\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Content-Length: 0\r\n\r\n"
}

func assertCode(t *testing.T, res *message.Message, code int) {
	t.Helper()
	if res == nil {
		t.Fatalf("no reply, want %d", code)
	}
	if res.Code() != code {
		t.Fatalf("reply %q, want %d", res.Summary(), code)
	}
}

// registerBoth registers 1001 and 1002 on their own connections.
func registerBoth(t *testing.T, s *Server) (*fakeConn, *fakeConn) {
	t.Helper()
	a, b := newFakeConn("a"), newFakeConn("b")
	assertCode(t, s.Handle(a, parse(t, registerText("1001", 3600))), message.StatusOK)
	assertCode(t, s.Handle(b, parse(t, registerText("1002", 3600))), message.StatusOK)
	return a, b
}

func TestRegisterUnknownUser(t *testing.T) {
	s, _ := newTestServer()
	conn := newFakeConn("x")

	assertCode(t, s.Handle(conn, parse(t, registerText("9999", 3600))), message.StatusNotFound)
	if s.reg.IsRegistered("9999") {
		t.Errorf("9999 registered")
	}
}

func TestRegister(t *testing.T) {
	s, clk := newTestServer()
	conn := newFakeConn("a")

	res := s.Handle(conn, parse(t, registerText("1001", 3600)))
	assertCode(t, res, message.StatusOK)

	if v, _ := res.Header("Expires"); v != "3600" {
		t.Errorf("Expires = %q, want 3600", v)
	}
	if v, _ := res.Header("Contact"); v != "<sip:1001@localhost>;expires=3600" {
		t.Errorf("Contact = %q", v)
	}
	if v, _ := res.Header("Call-ID"); v != "reg-1001@localhost" {
		t.Errorf("Call-ID = %q", v)
	}
	if !s.reg.IsRegistered("1001") {
		t.Fatalf("1001 not registered")
	}
	if b, _ := s.reg.Get("1001"); b.Contact != "sip:1001@localhost;transport=ws" || b.Conn != transport.Sender(conn) {
		t.Errorf("binding = %+v", b)
	}

	clk.Advance(3601 * time.Second)
	if s.reg.IsRegistered("1001") {
		t.Errorf("registration outlived Expires")
	}
}

func TestUnregister(t *testing.T) {
	s, _ := newTestServer()
	conn := newFakeConn("a")

	s.Handle(conn, parse(t, registerText("1001", 3600)))
	res := s.Handle(conn, parse(t, registerText("1001", 0)))
	assertCode(t, res, message.StatusOK)
	if v, _ := res.Header("Expires"); v != "0" {
		t.Errorf("Expires = %q, want 0", v)
	}
	if s.reg.IsRegistered("1001") {
		t.Errorf("still registered")
	}
}

func TestRegisterFailures(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"bad expires", strings.Replace(registerText("1001", 60), "Expires: 60", "Expires: soon", 1)},
		{"negative expires", registerText("1001", -5)},
		{"from without user", strings.Replace(registerText("1001", 60), "From: <sip:1001@localhost>", "From: anonymous", 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer()
			assertCode(t, s.Handle(newFakeConn("a"), parse(t, tt.text)), message.StatusServerError)
			if s.reg.IsRegistered("1001") {
				t.Errorf("failed REGISTER registered the user")
			}
		})
	}
}

func TestRegisterWithoutExpiresUnregisters(t *testing.T) {
	s, _ := newTestServer()
	conn := newFakeConn("a")

	s.Handle(conn, parse(t, registerText("1001", 3600)))
	text := strings.Replace(registerText("1001", 0), "Expires: 0\r\n", "", 1)
	assertCode(t, s.Handle(conn, parse(t, text)), message.StatusOK)
	if s.reg.IsRegistered("1001") {
		t.Errorf("REGISTER without Expires kept registration")
	}
}

func TestInviteUnregisteredCallee(t *testing.T) {
	s, _ := newTestServer()
	a := newFakeConn("a")
	s.Handle(a, parse(t, registerText("1001", 3600)))

	assertCode(t, s.Handle(a, parse(t, inviteText("1001", "1002", "call-1"))), message.StatusNotFound)
	if s.calls.Len() != 0 {
		t.Errorf("call recorded for unregistered callee")
	}
}

func TestInviteUnknownCallee(t *testing.T) {
	s, _ := newTestServer()
	a := newFakeConn("a")
	s.Handle(a, parse(t, registerText("1001", 3600)))

	assertCode(t, s.Handle(a, parse(t, inviteText("1001", "4242", "call-1"))), message.StatusNotFound)
}

func TestInviteRoutesToCallee(t *testing.T) {
	s, _ := newTestServer()
	a, b := registerBoth(t, s)

	invite := inviteText("1001", "1002", "call-1@localhost")
	res := s.Handle(a, parse(t, invite))
	assertCode(t, res, message.StatusRinging)

	for _, name := range []string{"To", "From", "Call-ID"} {
		want, _ := parse(t, invite).Header(name)
		if got, _ := res.Header(name); got != want {
			t.Errorf("180 %s = %q, want %q", name, got, want)
		}
	}

	frames := b.sent()
	if len(frames) != 1 || string(frames[0]) != invite {
		t.Fatalf("callee received %q, want the INVITE verbatim", frames)
	}

	call, ok := s.calls.Get("call-1@localhost")
	if !ok {
		t.Fatalf("no call recorded")
	}
	if call.Caller != "1001" || call.Callee != "1002" || call.CallerConn != transport.Sender(a) || call.CalleeConn != transport.Sender(b) {
		t.Errorf("call = %+v", call)
	}
	if s.calls.Len() != 1 {
		t.Errorf("Len() = %d", s.calls.Len())
	}
}

func TestInviteFailures(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"missing to", strings.Replace(inviteText("1001", "1002", "c"), "To: <sip:1002@localhost>\r\n", "", 1)},
		{"missing call id", strings.Replace(inviteText("1001", "1002", "c"), "Call-ID: c\r\n", "", 1)},
		{"caller outside roster", inviteText("7777", "1002", "c")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer()
			a, _ := registerBoth(t, s)
			assertCode(t, s.Handle(a, parse(t, tt.text)), message.StatusServerError)
			if s.calls.Len() != 0 {
				t.Errorf("call recorded")
			}
		})
	}
}

func TestCallIDUnique(t *testing.T) {
	s, _ := newTestServer()
	a, _ := registerBoth(t, s)

	s.Handle(a, parse(t, inviteText("1001", "1002", "dup")))
	s.Handle(a, parse(t, inviteText("1001", "1002", "dup")))
	if s.calls.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.calls.Len())
	}
}

func TestResponseForwardedToCaller(t *testing.T) {
	s, _ := newTestServer()
	a, b := registerBoth(t, s)
	s.Handle(a, parse(t, inviteText("1001", "1002", "call-1")))

	ok := responseText(200, "OK", "call-1")
	if res := s.Handle(b, parse(t, ok)); res != nil {
		t.Fatalf("callee got a reply %q", res.Summary())
	}

	frames := a.sent()
	if got := string(frames[len(frames)-1]); got != ok {
		t.Errorf("caller received %q, want 200 OK verbatim", got)
	}
}

func TestResponseWithoutCall(t *testing.T) {
	s, _ := newTestServer()
	_, b := registerBoth(t, s)

	res := s.Handle(b, parse(t, responseText(486, "Busy Here", "nope")))
	assertCode(t, res, message.StatusCallDoesNotExist)
	if res.Response.Reason != "Call/Transaction Does Not Exist" {
		t.Errorf("reason = %q", res.Response.Reason)
	}
}

func TestByeRouting(t *testing.T) {
	tests := []struct {
		name      string
		sender    string
		recipient string
	}{
		{"caller hangs up", "1001", "1002"},
		{"callee hangs up", "1002", "1001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer()
			a, b := registerBoth(t, s)
			conns := map[string]*fakeConn{"1001": a, "1002": b}
			s.Handle(a, parse(t, inviteText("1001", "1002", "call-1")))

			before := len(conns[tt.recipient].sent())
			bye := byeText(tt.sender, "call-1")
			assertCode(t, s.Handle(conns[tt.sender], parse(t, bye)), message.StatusOK)

			frames := conns[tt.recipient].sent()
			if len(frames) != before+1 || string(frames[len(frames)-1]) != bye {
				t.Errorf("recipient did not receive the BYE")
			}
			if _, ok := s.calls.Get("call-1"); ok {
				t.Errorf("call still recorded")
			}
		})
	}
}

func TestByeWithoutCall(t *testing.T) {
	s, _ := newTestServer()
	a, b := registerBoth(t, s)

	assertCode(t, s.Handle(a, parse(t, byeText("1001", "ghost"))), message.StatusOK)
	if len(b.sent()) != 0 {
		t.Errorf("BYE for unknown call was forwarded")
	}
}

func TestByeToDisconnectedParty(t *testing.T) {
	s, _ := newTestServer()
	a, _ := registerBoth(t, s)
	s.Handle(a, parse(t, inviteText("1001", "1002", "call-1")))
	s.Handle(newFakeConn("b2"), parse(t, registerText("1002", 0)))

	assertCode(t, s.Handle(a, parse(t, byeText("1001", "call-1"))), message.StatusOK)
}

func TestOptions(t *testing.T) {
	s, _ := newTestServer()
	res := s.Handle(newFakeConn("a"), parse(t, "OPTIONS sip:localhost SIP/2.0\r\nCall-ID: o1\r\nCSeq: 1 OPTIONS\r\n\r\n"))
	assertCode(t, res, message.StatusOK)
	if v, _ := res.Header("Allow"); v != "INVITE, ACK, BYE, CANCEL, OPTIONS" {
		t.Errorf("Allow = %q", v)
	}
	if v, _ := res.Header("Via"); !strings.HasPrefix(v, "SIP/2.0/WS localhost;branch=") {
		t.Errorf("Via = %q", v)
	}
}

func TestUnmatchedMethods(t *testing.T) {
	s, _ := newTestServer()
	for _, method := range []string{"ACK", "CANCEL", "INFO", "SUBSCRIBE"} {
		res := s.Handle(newFakeConn("a"), parse(t, method+" sip:localhost SIP/2.0\r\nCall-ID: x\r\n\r\n"))
		assertCode(t, res, message.StatusNotImplemented)
	}
}

func TestHandleFrame(t *testing.T) {
	s, _ := newTestServer()
	conn := newFakeConn("a")

	s.HandleFrame(conn, []byte("garbage"))
	assertCode(t, conn.last(t), message.StatusServerError)

	s.HandleFrame(conn, []byte(registerText("1001", 60)))
	assertCode(t, conn.last(t), message.StatusOK)

	if got := conn.last(t).String(); !strings.HasSuffix(got, "Content-Length: 0\r\n\r\n") {
		t.Errorf("reply not terminated: %q", got)
	}
}

func TestHandleFrameToClosedTransport(t *testing.T) {
	s, _ := newTestServer()
	conn := newFakeConn("a")
	conn.closed = true

	s.HandleFrame(conn, []byte(registerText("1001", 60)))
	if len(conn.sent()) != 0 {
		t.Errorf("sent on closed transport")
	}
}

func TestDisconnectScrubsCallsAndBindings(t *testing.T) {
	tests := []struct {
		name     string
		gone     string
		survivor string
	}{
		{"caller drops", "1001", "1002"},
		{"callee drops", "1002", "1001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer()
			a, b := registerBoth(t, s)
			conns := map[string]*fakeConn{"1001": a, "1002": b}
			s.Handle(a, parse(t, inviteText("1001", "1002", "call-1")))

			s.Disconnect(conns[tt.gone])

			if s.calls.Len() != 0 {
				t.Errorf("call survived transport close")
			}
			if s.reg.IsRegistered(tt.gone) {
				t.Errorf("%s still registered", tt.gone)
			}
			if bnd, _ := s.reg.Get(tt.gone); bnd.Conn != nil {
				t.Errorf("binding keeps closed transport")
			}

			bye := conns[tt.survivor].last(t)
			if bye.Method() != "BYE" || bye.CallID() != "call-1" {
				t.Errorf("survivor got %q", bye.Summary())
			}
			if u, _ := bye.User("To"); u != tt.survivor {
				t.Errorf("BYE To user = %q", u)
			}
			if !s.reg.IsRegistered(tt.survivor) {
				t.Errorf("survivor lost registration")
			}
		})
	}
}

func TestConcurrentCalls(t *testing.T) {
	s, _ := newTestServer()
	a, b := registerBoth(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("call-%d", i)
			s.HandleFrame(a, []byte(inviteText("1001", "1002", id)))
			s.HandleFrame(b, []byte(responseText(200, "OK", id)))
			s.HandleFrame(b, []byte(byeText("1002", id)))
		}(i)
	}
	wg.Wait()

	if s.calls.Len() != 0 {
		t.Errorf("Len() = %d after every call hung up", s.calls.Len())
	}
}

func TestDeclinedInviteEndsCall(t *testing.T) {
	s, _ := newTestServer()
	a, b := registerBoth(t, s)
	s.Handle(a, parse(t, inviteText("1001", "1002", "call-1")))

	busy := responseText(486, "Busy Here", "call-1")
	if res := s.Handle(b, parse(t, busy)); res != nil {
		t.Fatalf("callee got a reply %q", res.Summary())
	}
	if got := a.last(t); got.Code() != message.StatusBusyHere {
		t.Errorf("caller got %q", got.Summary())
	}
	if s.calls.Len() != 0 {
		t.Errorf("declined call still recorded")
	}
}
