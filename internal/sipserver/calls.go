package sipserver

import (
	"sort"
	"sync"
	"time"

	"SipExchange/internal/transport"
)

// ActiveCall correlates a call attempt by Call-ID. It exists from the routed
// INVITE until a BYE or until either participant's transport goes away.
type ActiveCall struct {
	CallID     string
	Caller     string
	Callee     string
	CallerConn transport.Sender
	CalleeConn transport.Sender
	StartedAt  time.Time
}

// CallTable holds at most one ActiveCall per Call-ID.
type CallTable struct {
	mu    sync.Mutex
	calls map[string]ActiveCall
}

func NewCallTable() *CallTable {
	return &CallTable{calls: make(map[string]ActiveCall)}
}

// Put stores call, replacing any call with the same id.
func (t *CallTable) Put(call ActiveCall) (replaced bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, replaced = t.calls[call.CallID]
	t.calls[call.CallID] = call
	return replaced
}

func (t *CallTable) Get(callID string) (ActiveCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok := t.calls[callID]
	return call, ok
}

func (t *CallTable) Remove(callID string) (ActiveCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok := t.calls[callID]
	if ok {
		delete(t.calls, callID)
	}
	return call, ok
}

// Scrub removes and returns every call with conn on either side.
func (t *CallTable) Scrub(conn transport.Sender) []ActiveCall {
	if conn == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var out []ActiveCall
	for id, call := range t.calls {
		if call.CallerConn == conn || call.CalleeConn == conn {
			out = append(out, call)
			delete(t.calls, id)
		}
	}
	sortCalls(out)
	return out
}

// List returns the calls oldest first.
func (t *CallTable) List() []ActiveCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ActiveCall, 0, len(t.calls))
	for _, call := range t.calls {
		out = append(out, call)
	}
	sortCalls(out)
	return out
}

func (t *CallTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func sortCalls(calls []ActiveCall) {
	sort.Slice(calls, func(i, j int) bool {
		if calls[i].StartedAt.Equal(calls[j].StartedAt) {
			return calls[i].CallID < calls[j].CallID
		}
		return calls[i].StartedAt.Before(calls[j].StartedAt)
	})
}
