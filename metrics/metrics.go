// Package metrics declares the Prometheus collectors exported by the server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HandshakesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamerelay_handshakes_total",
			Help: "Handshake outcomes on the game port",
		},
		[]string{"result"},
	)

	ConnectionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamerelay_connections_closed_total",
			Help: "Connections closed by reason",
		},
		[]string{"reason"},
	)

	Connections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gamerelay_connections",
			Help: "Current connections by state",
		},
		[]string{"state"},
	)

	PacketsIn = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamerelay_packets_in_total",
			Help: "Packets decoded from clients",
		},
		[]string{"type"},
	)

	PacketsOut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamerelay_packets_out_total",
			Help: "Packets queued for clients",
		},
		[]string{"type"},
	)

	PacketsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamerelay_packets_dropped_total",
			Help: "Packets dropped by reason",
		},
		[]string{"reason"},
	)

	BytesIn = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gamerelay_bytes_in_total",
			Help: "Bytes read from game sockets",
		},
	)

	BytesOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gamerelay_bytes_out_total",
			Help: "Bytes written to game sockets",
		},
	)

	TickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gamerelay_tick_duration_seconds",
			Help:    "Time spent in one loop tick",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		},
		[]string{"loop"},
	)

	MailboxDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gamerelay_mailbox_depth",
			Help: "Messages waiting in a mailbox at the start of a tick",
		},
		[]string{"mailbox"},
	)

	SessionsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gamerelay_sessions_issued_total",
			Help: "Session tokens issued by the simulation",
		},
	)

	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamerelay_auth_attempts_total",
			Help: "Authentication attempts by result",
		},
		[]string{"result"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamerelay_http_requests_total",
			Help: "Total number of HTTP requests on the asset port",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gamerelay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// ObserveTick records how long one loop iteration took.
func ObserveTick(loop string, start time.Time) {
	TickDuration.WithLabelValues(loop).Observe(time.Since(start).Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency per mux route template.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
