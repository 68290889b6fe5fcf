package message

import (
	"github.com/emiago/sipgo/sip"
)

func NewRequest(method sip.RequestMethod, target string) *Message {
	return &Message{Request: &RequestLine{Method: method, Target: target, Version: Version}}
}

// NewResponse creates a bare response. An empty reason takes the standard phrase.
func NewResponse(code int, reason string) *Message {
	if reason == "" {
		reason = Reason(code)
	}
	return &Message{Response: &StatusLine{Version: Version, Code: code, Reason: reason}}
}

// ResponseTo builds a response to req carrying its Via, To, From, Call-ID and
// CSeq headers. When req has no Via a fresh one for domain is used.
func ResponseTo(req *Message, code int, reason, domain string) *Message {
	res := NewResponse(code, reason)

	vias := req.Values("Via")
	if len(vias) == 0 {
		res.Add("Via", Via(domain))
	}
	for _, v := range vias {
		res.Add("Via", v)
	}

	for _, name := range []string{"To", "From", "Call-ID", "CSeq"} {
		if v, ok := req.Header(name); ok {
			res.Add(name, v)
		}
	}
	return res
}

// Via returns a WebSocket Via value for domain with a new branch id.
func Via(domain string) string {
	return "SIP/2.0/WS " + domain + ";branch=" + sip.GenerateBranch()
}

// AddressOf formats user@domain as a bracketed SIP address.
func AddressOf(user, domain string) string {
	return "<sip:" + user + "@" + domain + ">"
}
