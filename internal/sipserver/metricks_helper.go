package sipserver

import (
	"strconv"
	"time"

	"github.com/emiago/sipgo/sip"

	"SipExchange/internal/message"
	"SipExchange/internal/metrics"
)

func sipIn(method string) {
	metrics.SIPMessages.WithLabelValues(foldMethod(method), "IN").Inc()
}

func sipOut(method string) {
	metrics.SIPMessages.WithLabelValues(foldMethod(method), "OUT").Inc()
}

func sipForwarded(method string) {
	metrics.SIPMessages.WithLabelValues(foldMethod(method), "FWD").Inc()
}

func sipResp(method string, code int) {
	metrics.SIPResponses.WithLabelValues(foldMethod(method), strconv.Itoa(code)).Inc()
}

func sipDropped(reason string) {
	metrics.SIPDroppedSends.WithLabelValues(reason).Inc()
}

func sipActiveCallsSet(count int) {
	metrics.SIPActiveCalls.Set(float64(count))
}

func sipRegistrationsSet(count int) {
	metrics.SIPRegistrations.Set(float64(count))
}

func wsConnectionsSet(count int) {
	metrics.WSConnections.Set(float64(count))
}

func observeHandler(method string, start time.Time) {
	metrics.SIPHandlerDuration.WithLabelValues(foldMethod(method)).Observe(time.Since(start).Seconds())
}

// methodLabel names a message for metrics and logs: the request method, or
// the CSeq method of a response.
func methodLabel(msg *message.Message) string {
	if msg.IsRequest() {
		return string(msg.Method())
	}
	if m := msg.CSeqMethod(); m != "" {
		return string(m)
	}
	return "RESPONSE"
}

var metricMethods = map[string]bool{
	string(sip.REGISTER): true,
	string(sip.INVITE):   true,
	string(sip.BYE):      true,
	string(sip.OPTIONS):  true,
	string(sip.ACK):      true,
	string(sip.CANCEL):   true,
	"RESPONSE":           true,
	"INVALID":            true,
}

// foldMethod maps methods outside the known set to OTHER so peers cannot
// grow label cardinality by inventing methods.
func foldMethod(method string) string {
	if metricMethods[method] {
		return method
	}
	return "OTHER"
}
