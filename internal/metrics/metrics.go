package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "Current number of in-flight HTTP requests.",
	})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	SIPMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sip_messages_total",
		Help: "Total number of SIP messages.",
	}, []string{"method", "direction"}) // IN/OUT/FWD

	SIPResponses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sip_responses_total",
		Help: "Total number of SIP responses generated by the exchange.",
	}, []string{"method", "code"})

	SIPHandlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sip_handler_duration_seconds",
		Help:    "SIP handler duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	SIPActiveCalls = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sip_active_calls",
		Help: "Number of calls tracked by the routing table.",
	})

	SIPRegistrations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sip_registrations",
		Help: "Number of active registrations in registrar.",
	})

	SIPDroppedSends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sip_dropped_sends_total",
		Help: "Outbound SIP messages dropped because the transport was unavailable.",
	}, []string{"reason"})

	WSConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections",
		Help: "Number of open WebSocket signaling connections.",
	})
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPInFlight, HTTPRequests, HTTPDuration,
		SIPMessages, SIPResponses, SIPHandlerDuration,
		SIPActiveCalls, SIPRegistrations, SIPDroppedSends,
		WSConnections,
	)
}
