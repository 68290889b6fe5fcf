package softphone

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"SipExchange/internal/message"
	"SipExchange/internal/transport"
)

const unknownCaller = "<unknown>"

var (
	ErrNotConnected      = errors.New("not connected to server")
	ErrAlreadyRegistered = errors.New("already registered")
	ErrNotRegistered     = errors.New("not registered")
	ErrCallInProgress    = errors.New("call in progress")
	ErrNoActiveCall      = errors.New("no active call")
)

type Identity struct {
	Username string
	Password string
	Domain   string
	Server   string
}

type Option func(*Session)

// WithNotifier sets the callback that receives user-visible events. It is
// called without the session lock held.
func WithNotifier(fn func(Event)) Option {
	return func(s *Session) {
		s.notify = fn
	}
}

// Session is one client identity talking to the server over a single
// transport. Commands and inbound messages are serialized by mu.
type Session struct {
	mu         sync.Mutex
	id         Identity
	conn       transport.Sender
	registered bool
	state      CallState
	callID     string
	peer       string
	cseq       uint32
	// regCSeq is the CSeq number of the last REGISTER sent. Responses to
	// older REGISTERs are stale.
	regCSeq uint32

	notify func(Event)
}

func New(id Identity, opts ...Option) *Session {
	s := &Session{id: id, notify: func(Event) {}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attach makes conn the transport for outbound messages.
func (s *Session) Attach(conn transport.Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

// Detach drops the transport. Registration and any call are gone with it.
func (s *Session) Detach() {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.registered = false
	s.callID, s.peer = "", ""
	s.state = StateIdle
	s.mu.Unlock()

	log.Info().Str("user", s.id.Username).Msg("[WS] session detached")
	s.notify(Event{Kind: EventDisconnected})
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		Registered: s.registered,
		State:      s.state,
		CallID:     s.callID,
		Server:     s.id.Server,
		User:       s.id.Username + "@" + s.id.Domain,
		Connected:  s.conn != nil,
	}
}

func (s *Session) Register() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registered {
		return ErrAlreadyRegistered
	}
	if err := s.send(s.registerRequest(registerExpires)); err != nil {
		return err
	}
	s.state = StateRegistering
	return nil
}

// Unregister sends REGISTER with Expires 0 and drops the local registration
// without waiting for the server.
func (s *Session) Unregister() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registered {
		return ErrNotRegistered
	}
	if s.callID != "" {
		return fmt.Errorf("%w: hang up before unregistering", ErrCallInProgress)
	}
	if err := s.send(s.registerRequest(0)); err != nil {
		return err
	}
	s.registered = false
	s.state = StateUnregistering
	return nil
}

// MakeCall sends an INVITE to dest with a fresh Call-ID.
func (s *Session) MakeCall(dest string) error {
	dest = strings.TrimSpace(dest)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}
	if !s.registered {
		return ErrNotRegistered
	}
	if s.state != StateReady && s.state != StateHangingUp {
		return fmt.Errorf("%w: %s", ErrCallInProgress, s.state)
	}
	if dest == "" || strings.ContainsAny(dest, "@:<> ") {
		return fmt.Errorf("%w: destination %q", message.ErrBadAddress, dest)
	}

	callID := uuid.NewString() + "@" + s.id.Domain
	if err := s.send(s.inviteRequest(dest, callID)); err != nil {
		return err
	}
	s.callID, s.peer = callID, dest
	s.state = StateCalling
	log.Info().Str("user", s.id.Username).Str("call_id", callID).Msgf("[INVITE] calling %s@%s", dest, s.id.Domain)
	return nil
}

// HangUp sends a BYE for the current call id.
func (s *Session) HangUp() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.callID == "" {
		return ErrNoActiveCall
	}
	if err := s.send(s.byeRequest()); err != nil {
		return err
	}
	s.state = StateHangingUp
	return nil
}

// HandleFrame parses and handles one inbound frame. Unparseable frames are
// logged and dropped.
func (s *Session) HandleFrame(data []byte) {
	msg, err := message.Parse(data)
	if err != nil {
		log.Warn().Err(err).Str("user", s.id.Username).Msg("[SIP] unparseable message")
		return
	}
	s.HandleMessage(msg)
}

// HandleMessage applies an inbound message to the session state.
func (s *Session) HandleMessage(msg *message.Message) {
	log.Debug().Str("user", s.id.Username).Str("call_id", msg.CallID()).Msgf("[SIP] received %s", msg.Summary())

	s.mu.Lock()
	var ev *Event
	if msg.IsResponse() {
		ev = s.onResponse(msg)
	} else {
		ev = s.onRequest(msg)
	}
	s.mu.Unlock()

	if ev != nil {
		s.notify(*ev)
	}
}

func (s *Session) onResponse(res *message.Message) *Event {
	method := res.CSeqMethod()
	if method == "" {
		method = s.pendingMethod()
	}

	switch method {
	case sip.REGISTER:
		return s.onRegisterResponse(res)
	case sip.INVITE:
		return s.onInviteResponse(res)
	case sip.BYE:
		return s.onByeResponse(res)
	}

	log.Info().Str("user", s.id.Username).Str("state", s.state.String()).Msgf("[SIP] unexpected %s", res.Summary())
	return nil
}

// pendingMethod guesses which request a response without CSeq answers.
func (s *Session) pendingMethod() sip.RequestMethod {
	switch s.state {
	case StateRegistering, StateUnregistering:
		return sip.REGISTER
	case StateCalling, StateRinging:
		return sip.INVITE
	case StateHangingUp:
		return sip.BYE
	}
	return ""
}

func (s *Session) onRegisterResponse(res *message.Message) *Event {
	if n, ok := res.CSeqNumber(); ok && n != s.regCSeq {
		log.Info().Str("user", s.id.Username).Msgf("[REGISTER] stale %s for CSeq %d", res.Summary(), n)
		return nil
	}

	code := res.Code()
	switch {
	case code == message.StatusOK && s.state == StateRegistering:
		s.registered = true
		s.state = StateReady
		expires, _ := res.Header("Expires")
		log.Info().Str("user", s.id.Username).Str("expires", expires).Msg("[REGISTER] registered")
		return &Event{Kind: EventRegistered, Detail: fmt.Sprintf("User: %s@%s\nExpires: %s seconds", s.id.Username, s.id.Domain, expires)}

	case code == message.StatusOK && s.state == StateUnregistering:
		s.state = StateIdle
		log.Info().Str("user", s.id.Username).Msg("[REGISTER] unregistered")
		return &Event{Kind: EventUnregistered}

	case code >= 300 && s.state == StateRegistering:
		s.registered = false
		s.state = StateIdle
		log.Warn().Str("user", s.id.Username).Int("code", code).Msg("[REGISTER] rejected")
		return &Event{Kind: EventRegisterFailed, Detail: res.StartLine()}
	}

	log.Info().Str("user", s.id.Username).Str("state", s.state.String()).Msgf("[REGISTER] ignored %s", res.Summary())
	return nil
}

func (s *Session) onInviteResponse(res *message.Message) *Event {
	if s.state != StateCalling && s.state != StateRinging {
		log.Info().Str("user", s.id.Username).Str("state", s.state.String()).Msgf("[INVITE] ignored %s", res.Summary())
		return nil
	}

	code := res.Code()
	switch {
	case code == message.StatusRinging:
		s.state = StateRinging
		return &Event{Kind: EventRemoteRinging}

	case code >= 200 && code < 300:
		if id := res.CallID(); id != "" {
			s.callID = id
		}
		s.state = StateActive
		log.Info().Str("user", s.id.Username).Str("call_id", s.callID).Msg("[INVITE] call connected")
		return &Event{Kind: EventCallConnected}

	case code == message.StatusBusyHere:
		s.endCall()
		log.Info().Str("user", s.id.Username).Msg("[INVITE] remote busy")
		return &Event{Kind: EventRemoteBusy}

	case code >= 300:
		s.endCall()
		log.Info().Str("user", s.id.Username).Int("code", code).Msg("[INVITE] call failed")
		return &Event{Kind: EventCallFailed, Detail: res.StartLine()}
	}
	return nil
}

func (s *Session) onByeResponse(res *message.Message) *Event {
	if s.state != StateHangingUp || res.Code() < 200 {
		return nil
	}
	if id := res.CallID(); id != "" && id != s.callID {
		return nil
	}
	s.endCall()
	log.Info().Str("user", s.id.Username).Msg("[BYE] call ended")
	return &Event{Kind: EventCallEnded}
}

func (s *Session) onRequest(req *message.Message) *Event {
	switch req.Method() {
	case sip.INVITE:
		return s.onInvite(req)
	case sip.BYE:
		return s.onBye(req)
	}
	log.Info().Str("user", s.id.Username).Msgf("[%s] ignored", req.Method())
	return nil
}

// onInvite rings automatically. A second call while one is in progress is
// turned away with 486.
func (s *Session) onInvite(req *message.Message) *Event {
	callID := req.CallID()
	if callID == "" {
		callID = uuid.NewString()
	}

	if s.state.inCall() && callID != s.callID {
		busy := message.ResponseTo(req, message.StatusBusyHere, "", s.id.Domain)
		if err := s.send(busy); err != nil {
			log.Warn().Err(err).Str("call_id", callID).Msg("[INVITE] busy reply dropped")
		}
		log.Info().Str("user", s.id.Username).Str("call_id", callID).Msg("[INVITE] busy, rejected")
		return nil
	}

	from, ok := req.Header("From")
	if !ok {
		from = unknownCaller
	}
	peer, _ := message.UserOf(from)

	if err := s.send(s.ringing(req, callID)); err != nil {
		log.Warn().Err(err).Str("call_id", callID).Msg("[INVITE] ringing reply dropped")
	}

	s.callID, s.peer = callID, peer
	s.state = StateIncoming
	log.Info().Str("user", s.id.Username).Str("call_id", callID).Msgf("[INVITE] incoming call from %s", from)
	return &Event{Kind: EventIncomingCall, Detail: "From: " + from}
}

func (s *Session) onBye(req *message.Message) *Event {
	if s.callID == "" || req.CallID() != s.callID {
		log.Info().Str("user", s.id.Username).Str("call_id", req.CallID()).Msg("[BYE] not our call")
		return nil
	}
	s.endCall()
	log.Info().Str("user", s.id.Username).Str("call_id", req.CallID()).Msg("[BYE] call ended by peer")
	return &Event{Kind: EventCallEnded}
}

// endCall clears the call and returns to the resting state.
func (s *Session) endCall() {
	s.callID, s.peer = "", ""
	if s.registered {
		s.state = StateReady
	} else {
		s.state = StateIdle
	}
}

func (s *Session) send(msg *message.Message) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	if err := s.conn.Send(msg.Bytes()); err != nil {
		return fmt.Errorf("send %s: %w", msg.StartLine(), err)
	}
	log.Info().Str("user", s.id.Username).Str("call_id", msg.CallID()).Msgf("[%s] sent %s", methodOf(msg), msg.Summary())
	return nil
}

func methodOf(msg *message.Message) string {
	if msg.IsRequest() {
		return string(msg.Method())
	}
	if m := msg.CSeqMethod(); m != "" {
		return string(m)
	}
	return "RESPONSE"
}
