package softphone

import "fmt"

// CallState is the call-side state of a session. Registration is tracked
// separately as a flag.
type CallState int

const (
	StateIdle CallState = iota
	StateRegistering
	StateReady
	StateUnregistering
	StateCalling
	StateRinging
	StateIncoming
	StateActive
	StateHangingUp
)

var stateLabels = map[CallState]string{
	StateIdle:          "Idle",
	StateRegistering:   "Registering...",
	StateReady:         "Ready",
	StateUnregistering: "Unregistering...",
	StateCalling:       "Calling...",
	StateRinging:       "Ringing",
	StateIncoming:      "Incoming Call",
	StateActive:        "Call Active",
	StateHangingUp:     "Hanging Up...",
}

func (s CallState) String() string {
	if l, ok := stateLabels[s]; ok {
		return l
	}
	return fmt.Sprintf("CallState(%d)", int(s))
}

// inCall reports whether s holds a call that a new INVITE would collide with.
func (s CallState) inCall() bool {
	switch s {
	case StateCalling, StateRinging, StateIncoming, StateActive:
		return true
	}
	return false
}

type EventKind int

const (
	EventRegistered EventKind = iota
	EventRegisterFailed
	EventUnregistered
	EventRemoteRinging
	EventCallConnected
	EventRemoteBusy
	EventCallFailed
	EventIncomingCall
	EventCallEnded
	EventDisconnected
)

var eventTitles = map[EventKind]string{
	EventRegistered:     "REGISTRATION SUCCESSFUL",
	EventRegisterFailed: "REGISTRATION FAILED",
	EventUnregistered:   "UNREGISTERED",
	EventRemoteRinging:  "REMOTE PARTY RINGING",
	EventCallConnected:  "CALL CONNECTED",
	EventRemoteBusy:     "REMOTE PARTY BUSY",
	EventCallFailed:     "CALL FAILED",
	EventIncomingCall:   "INCOMING CALL",
	EventCallEnded:      "CALL ENDED",
	EventDisconnected:   "DISCONNECTED",
}

func (k EventKind) String() string {
	if t, ok := eventTitles[k]; ok {
		return t
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is a user-visible outcome of an inbound message.
type Event struct {
	Kind   EventKind
	Detail string
}

func (e Event) String() string {
	if e.Detail == "" {
		return "=== " + e.Kind.String() + " ==="
	}
	return "=== " + e.Kind.String() + " ===\n" + e.Detail
}

// Status is a point-in-time snapshot of a session for display.
type Status struct {
	Registered bool
	State      CallState
	CallID     string
	Server     string
	User       string
	Connected  bool
}

func (s Status) String() string {
	registered := "No"
	if s.Registered {
		registered = "Yes"
	}
	return fmt.Sprintf("=== Current Status ===\nRegistered: %s\nCall Status: %s\nServer: %s\nUser: %s",
		registered, s.State, s.Server, s.User)
}
