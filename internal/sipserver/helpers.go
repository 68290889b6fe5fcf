package sipserver

import (
	"errors"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"SipExchange/internal/message"
	"SipExchange/internal/transport"
)

const (
	serverName = "SipExchange"
	allow      = "INVITE, ACK, BYE, CANCEL, OPTIONS"
)

// response builds a reply to req from this server.
func (s *Server) response(req *message.Message, code int) *message.Message {
	return message.ResponseTo(req, code, "", s.domain).Add("Server", serverName)
}

func (s *Server) bareResponse(code int) *message.Message {
	return message.NewResponse(code, "").
		Add("Via", message.Via(s.domain)).
		Add("Server", serverName)
}

// reply sends a generated response back on the connection the request came from.
func (s *Server) reply(conn transport.Sender, method string, res *message.Message) {
	sipResp(method, res.Code())
	if err := conn.Send(res.Bytes()); err != nil {
		log.Warn().Err(err).Str("remote", conn.RemoteAddr()).Msgf("[%s] reply %d dropped", method, res.Code())
		sipDropped(dropReason(err))
		return
	}
	sipOut(method)
}

// forward relays msg verbatim to the party reachable on to.
func (s *Server) forward(to transport.Sender, msg *message.Message, user string) bool {
	method := methodLabel(msg)
	if to == nil {
		log.Warn().Str("user", user).Str("call_id", msg.CallID()).Msgf("[%s] no transport to forward on", method)
		sipDropped("no_transport")
		return false
	}
	if err := to.Send(msg.Wire()); err != nil {
		log.Warn().Err(err).Str("user", user).Str("call_id", msg.CallID()).Msgf("[%s] forward dropped", method)
		sipDropped(dropReason(err))
		return false
	}
	sipForwarded(method)
	log.Info().Str("user", user).Str("call_id", msg.CallID()).Msgf("[%s] forwarded %s", method, msg.Summary())
	return true
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, transport.ErrClosed):
		return "closed"
	case errors.Is(err, transport.ErrQueueFull):
		return "queue_full"
	}
	return "error"
}

// byeFor synthesizes the BYE sent to the surviving party when the other
// side's transport disappears.
func (s *Server) byeFor(call ActiveCall, to, gone string) *message.Message {
	return message.NewRequest(sip.BYE, "sip:"+to+"@"+s.domain).
		Add("Via", message.Via(s.domain)).
		Add("Max-Forwards", "70").
		Add("To", message.AddressOf(to, s.domain)).
		Add("From", message.AddressOf(gone, s.domain)+";tag="+uuid.NewString()[:8]).
		Add("Call-ID", call.CallID).
		Add("CSeq", "1 BYE").
		Add("Reason", `SIP;text="transport closed"`)
}

// contactURI strips brackets and parameters from a Contact value.
func contactURI(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.Index(v, "<"); i >= 0 {
		if j := strings.Index(v[i:], ">"); j > 0 {
			return v[i+1 : i+j]
		}
	}
	if i := strings.Index(v, ";"); i >= 0 {
		return v[:i]
	}
	return v
}
