package softphone

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"SipExchange/internal/message"
)

const (
	registerExpires = 3600
	maxForwards     = "70"
)

func newTag() string {
	return uuid.NewString()[:8]
}

func (s *Session) self() string {
	return message.AddressOf(s.id.Username, s.id.Domain)
}

func (s *Session) contact() string {
	return fmt.Sprintf("<sip:%s@%s;transport=ws>", s.id.Username, s.id.Domain)
}

func (s *Session) nextCSeq(method sip.RequestMethod) string {
	s.cseq++
	return strconv.FormatUint(uint64(s.cseq), 10) + " " + string(method)
}

func (s *Session) registerRequest(expires int) *message.Message {
	cseq := s.nextCSeq(sip.REGISTER)
	s.regCSeq = s.cseq
	return message.NewRequest(sip.REGISTER, "sip:"+s.id.Domain).
		Add("Via", message.Via(s.id.Domain)).
		Add("Max-Forwards", maxForwards).
		Add("To", s.self()).
		Add("From", s.self()+";tag="+newTag()).
		Add("Call-ID", uuid.NewString()+"@"+s.id.Domain).
		Add("CSeq", cseq).
		Add("Contact", s.contact()).
		Add("Expires", strconv.Itoa(expires))
}

func (s *Session) inviteRequest(dest, callID string) *message.Message {
	return message.NewRequest(sip.INVITE, "sip:"+dest+"@"+s.id.Domain).
		Add("Via", message.Via(s.id.Domain)).
		Add("Max-Forwards", maxForwards).
		Add("To", message.AddressOf(dest, s.id.Domain)).
		Add("From", s.self()+";tag="+newTag()).
		Add("Call-ID", callID).
		Add("CSeq", s.nextCSeq(sip.INVITE)).
		Add("Contact", s.contact()).
		Add("Content-Type", "application/sdp")
}

// byeRequest ends the current call. The peer is addressed when known,
// otherwise the request is addressed to ourselves and the server routes it
// by Call-ID.
func (s *Session) byeRequest() *message.Message {
	to := s.id.Username
	if s.peer != "" {
		to = s.peer
	}
	return message.NewRequest(sip.BYE, "sip:"+to+"@"+s.id.Domain).
		Add("Via", message.Via(s.id.Domain)).
		Add("Max-Forwards", maxForwards).
		Add("To", message.AddressOf(to, s.id.Domain)).
		Add("From", s.self()+";tag="+newTag()).
		Add("Call-ID", s.callID).
		Add("CSeq", s.nextCSeq(sip.BYE))
}

// ringing builds the automatic 180 for an inbound INVITE. Missing headers
// fall back to defaults instead of failing the message.
func (s *Session) ringing(invite *message.Message, callID string) *message.Message {
	res := message.NewResponse(message.StatusRinging, "")

	vias := invite.Values("Via")
	if len(vias) == 0 {
		vias = []string{message.Via(s.id.Domain)}
	}
	for _, v := range vias {
		res.Add("Via", v)
	}

	to, ok := invite.Header("To")
	if !ok {
		to = s.self()
	}
	if !strings.Contains(strings.ToLower(to), ";tag=") {
		to += ";tag=" + newTag()
	}
	from, ok := invite.Header("From")
	if !ok {
		from = unknownCaller
	}
	cseq, ok := invite.Header("CSeq")
	if !ok {
		cseq = "1 INVITE"
	}

	return res.
		Add("To", to).
		Add("From", from).
		Add("Call-ID", callID).
		Add("CSeq", cseq)
}
