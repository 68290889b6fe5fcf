package sipserver

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"SipExchange/internal/metrics"
)

func TestFoldMethod(t *testing.T) {
	for in, want := range map[string]string{
		"INVITE":   "INVITE",
		"REGISTER": "REGISTER",
		"ACK":      "ACK",
		"RESPONSE": "RESPONSE",
		"INVALID":  "INVALID",
		"INFO":     "OTHER",
		"XYZZY":    "OTHER",
		"":         "OTHER",
	} {
		if got := foldMethod(in); got != want {
			t.Errorf("foldMethod(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMetricLabelsBounded(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	s, _ := newTestServer()
	conn := newFakeConn("a")
	for _, method := range []string{"XYZZYA", "XYZZYB", "PLUGH"} {
		s.HandleFrame(conn, []byte(method+" sip:localhost SIP/2.0\r\nCall-ID: m\r\nCSeq: 1 "+method+"\r\n\r\n"))
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "method" && (l.GetValue() == "XYZZYA" || l.GetValue() == "XYZZYB" || l.GetValue() == "PLUGH") {
					t.Errorf("%s carries peer method label %q", f.GetName(), l.GetValue())
				}
			}
		}
	}
}
