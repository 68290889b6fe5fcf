package router

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "SipExchange/internal/http_server"
	"SipExchange/internal/metrics"
)

// NewRouter wires the admin API, health and metrics endpoints, and the
// WebSocket signaling endpoint at wsPath.
func NewRouter(s *httpserver.HttpServer, ws http.Handler, wsPath string, gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.Use(instrument)
	// users
	api.HandleFunc("/users", s.ListUsers).Methods("GET")
	api.HandleFunc("/users/{login}", s.GetUser).Methods("GET")
	// calls
	api.HandleFunc("/calls", s.ListCalls).Methods("GET")

	r.HandleFunc("/health", s.Health).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	// Registered last so a root wsPath does not shadow the routes above.
	r.Handle(wsPath, ws)

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.HTTPInFlight.Inc()
		defer metrics.HTTPInFlight.Dec()

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
