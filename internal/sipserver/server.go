package sipserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/rs/zerolog/log"

	"SipExchange/internal/message"
	"SipExchange/internal/registrar"
	"SipExchange/internal/transport"
)

var errMissingCallID = errors.New("missing Call-ID header")

type Server struct {
	reg    *registrar.Registrar
	calls  *CallTable
	domain string

	mu    sync.Mutex
	conns map[*transport.Conn]struct{}
}

func New(reg *registrar.Registrar, domain string) *Server {
	return &Server{
		reg:    reg,
		calls:  NewCallTable(),
		domain: domain,
		conns:  make(map[*transport.Conn]struct{}),
	}
}

func (s *Server) Calls() *CallTable {
	return s.calls
}

func (s *Server) Registrar() *registrar.Registrar {
	return s.reg
}

// ServeHTTP upgrades the request to a WebSocket and runs its receive loop
// until the peer goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Upgrade(w, r)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("[WS] upgrade failed")
		return
	}

	s.track(conn)
	defer s.untrack(conn)

	log.Info().Str("remote", conn.RemoteAddr()).Msg("[WS] new connection")

	err = conn.ReadLoop(r.Context(), func(data []byte) {
		s.HandleFrame(conn, data)
	})
	if err != nil {
		log.Info().Err(err).Str("remote", conn.RemoteAddr()).Msg("[WS] receive loop ended")
	}

	s.Disconnect(conn)
	log.Info().Str("remote", conn.RemoteAddr()).Msg("[WS] connection closed")
}

// CloseAll closes every live connection. Their receive loops then scrub
// bindings and calls as usual.
func (s *Server) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.conns {
		conn.Close()
	}
}

func (s *Server) track(conn *transport.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
	wsConnectionsSet(len(s.conns))
}

func (s *Server) untrack(conn *transport.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
	wsConnectionsSet(len(s.conns))
}

// HandleFrame parses one inbound frame, routes it and sends the reply, if
// any, back on conn.
func (s *Server) HandleFrame(conn transport.Sender, data []byte) {
	start := time.Now()

	msg, err := message.Parse(data)
	if err != nil {
		log.Warn().Err(err).Str("remote", conn.RemoteAddr()).Msg("[SIP] unparseable message")
		s.reply(conn, "INVALID", s.bareResponse(message.StatusServerError))
		return
	}

	method := methodLabel(msg)
	sipIn(method)
	defer observeHandler(method, start)

	log.Debug().Str("remote", conn.RemoteAddr()).Str("call_id", msg.CallID()).Msgf("[%s] received %s", method, msg.Summary())

	if res := s.Handle(conn, msg); res != nil {
		s.reply(conn, method, res)
	}
}

// Handle routes msg received on conn. It returns the reply for the sender,
// or nil when the message was only forwarded. Failures become 500 replies.
func (s *Server) Handle(conn transport.Sender, msg *message.Message) (res *message.Message) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("call_id", msg.CallID()).Msg("[SIP] handler panicked")
			res = s.response(msg, message.StatusServerError)
		}
	}()

	var err error
	switch {
	case msg.IsResponse():
		res, err = s.onResponse(msg)
	case msg.Method() == sip.REGISTER:
		res, err = s.onRegister(conn, msg)
	case msg.Method() == sip.INVITE:
		res, err = s.onInvite(conn, msg)
	case msg.Method() == sip.BYE:
		res, err = s.onBye(conn, msg)
	case msg.Method() == sip.OPTIONS:
		res = s.onOptions(msg)
	default:
		log.Info().Str("remote", conn.RemoteAddr()).Msgf("[%s] not implemented", msg.Method())
		res = s.response(msg, message.StatusNotImplemented)
	}

	if err != nil {
		log.Error().Err(err).Str("remote", conn.RemoteAddr()).Str("call_id", msg.CallID()).Msgf("[%s] failed", methodLabel(msg))
		return s.response(msg, message.StatusServerError)
	}
	return res
}

func (s *Server) onRegister(conn transport.Sender, req *message.Message) (*message.Message, error) {
	login, err := req.User("From")
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	expires := 0
	if v, ok := req.Header("Expires"); ok {
		expires, err = strconv.Atoi(v)
		if err != nil || expires < 0 {
			return nil, fmt.Errorf("register %s: bad Expires %q", login, v)
		}
	}

	contact, _ := req.Header("Contact")

	err = s.reg.Register(login, time.Duration(expires)*time.Second, contactURI(contact), conn)
	if err != nil {
		if errors.Is(err, registrar.ErrUserNotFound) {
			log.Info().Str("user", login).Msg("[REGISTER] user not found")
			return s.response(req, message.StatusNotFound), nil
		}
		return nil, err
	}
	sipRegistrationsSet(s.reg.Count())

	if expires == 0 {
		log.Info().Str("user", login).Str("source", conn.RemoteAddr()).Msg("[REGISTER] user unregistered")
	} else {
		log.Info().Str("user", login).Str("source", conn.RemoteAddr()).Int("expires", expires).Msg("[REGISTER] user registered")
	}

	res := s.response(req, message.StatusOK)
	res.Add("Expires", strconv.Itoa(expires))
	res.Add("Contact", fmt.Sprintf("<sip:%s@%s>;expires=%d", login, s.domain, expires))
	return res, nil
}

func (s *Server) onInvite(conn transport.Sender, req *message.Message) (*message.Message, error) {
	caller, err := req.User("From")
	if err != nil {
		return nil, fmt.Errorf("invite: %w", err)
	}
	callee, err := req.User("To")
	if err != nil {
		return nil, fmt.Errorf("invite: %w", err)
	}
	callID := req.CallID()
	if callID == "" {
		return nil, fmt.Errorf("invite %s->%s: %w", caller, callee, errMissingCallID)
	}

	calleeBinding, ok := s.reg.Get(callee)
	if !ok || !calleeBinding.IsRegistered(s.reg.Now()) {
		log.Info().Str("user", callee).Str("call_id", callID).Msg("[INVITE] callee not registered")
		return s.response(req, message.StatusNotFound), nil
	}

	callerBinding, ok := s.reg.Get(caller)
	if !ok {
		return nil, fmt.Errorf("invite from %q: %w", caller, registrar.ErrUserNotFound)
	}
	callerConn := callerBinding.Conn
	if callerConn == nil {
		callerConn = conn
	}

	replaced := s.calls.Put(ActiveCall{
		CallID:     callID,
		Caller:     caller,
		Callee:     callee,
		CallerConn: callerConn,
		CalleeConn: calleeBinding.Conn,
		StartedAt:  s.reg.Now(),
	})
	sipActiveCallsSet(s.calls.Len())
	if replaced {
		log.Warn().Str("call_id", callID).Msg("[INVITE] call id reused, previous call replaced")
	}

	if calleeBinding.Conn != nil {
		s.forward(calleeBinding.Conn, req, callee)
	}

	log.Info().Str("call_id", callID).Msgf("[INVITE] call %s->%s ringing", caller, callee)
	return s.response(req, message.StatusRinging), nil
}

// onResponse relays a response from the callee to the caller recorded for
// its Call-ID. Nothing is sent back to the callee. A final failure ends the
// call.
func (s *Server) onResponse(res *message.Message) (*message.Message, error) {
	callID := res.CallID()
	call, ok := s.calls.Get(callID)
	if !ok || callID == "" {
		log.Info().Str("call_id", callID).Msgf("[RESPONSE] no matching call for %s", res.Summary())
		return s.response(res, message.StatusCallDoesNotExist), nil
	}

	if res.Code() >= 300 && res.CSeqMethod() != sip.BYE {
		s.calls.Remove(callID)
		sipActiveCallsSet(s.calls.Len())
		log.Info().Str("call_id", callID).Msgf("[INVITE] call %s->%s declined with %d", call.Caller, call.Callee, res.Code())
	}

	s.forward(call.CallerConn, res, call.Caller)
	return nil, nil
}

// onBye ends the call and relays the BYE to whichever party did not send it.
// The sender always gets 200 OK.
func (s *Server) onBye(conn transport.Sender, req *message.Message) (*message.Message, error) {
	callID := req.CallID()

	call, ok := s.calls.Remove(callID)
	if !ok {
		log.Info().Str("call_id", callID).Msg("[BYE] no matching call")
		return s.response(req, message.StatusOK), nil
	}
	sipActiveCallsSet(s.calls.Len())

	recipient := call.Caller
	if from, err := req.User("From"); err == nil {
		if from == call.Caller {
			recipient = call.Callee
		}
	} else if conn == call.CallerConn {
		recipient = call.Callee
	}

	log.Info().Str("call_id", callID).Msgf("[BYE] call %s->%s ended", call.Caller, call.Callee)

	if b, ok := s.reg.Get(recipient); ok && b.Conn != nil {
		s.forward(b.Conn, req, recipient)
	}
	return s.response(req, message.StatusOK), nil
}

func (s *Server) onOptions(req *message.Message) *message.Message {
	return s.response(req, message.StatusOK).Add("Allow", allow)
}

// Disconnect scrubs every binding and call that references conn. The other
// party of each scrubbed call is sent a BYE.
func (s *Server) Disconnect(conn transport.Sender) {
	users := s.reg.Scrub(conn)
	for _, u := range users {
		log.Info().Str("user", u).Msg("[WS] transport cleared for user")
	}
	sipRegistrationsSet(s.reg.Count())

	calls := s.calls.Scrub(conn)
	sipActiveCallsSet(s.calls.Len())

	for _, call := range calls {
		survivor, gone := call.Caller, call.Callee
		if call.CallerConn == conn {
			survivor, gone = call.Callee, call.Caller
		}
		log.Info().Str("call_id", call.CallID).Msgf("[BYE] call %s->%s dropped with transport", call.Caller, call.Callee)

		b, ok := s.reg.Get(survivor)
		if !ok || b.Conn == nil || b.Conn == conn {
			continue
		}
		bye := s.byeFor(call, survivor, gone)
		s.forward(b.Conn, bye, survivor)
	}
}
