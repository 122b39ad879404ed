package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatd_http_requests_total",
			Help: "Total number of HTTP requests served by the local agent.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatd_http_request_duration_seconds",
			Help:    "Local agent HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatd_upstream_request_duration_seconds",
			Help:    "REST collaborator call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "outcome"},
	)
	transportEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatd_transport_events_total",
			Help: "Total number of realtime events received or emitted.",
		},
		[]string{"direction", "event"},
	)
	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatd_sends_total",
			Help: "Outbound messages by result.",
		},
		[]string{"result"},
	)
	pendingSends = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatd_pending_sends",
			Help: "Optimistic messages waiting for confirmation.",
		},
	)
	directoryRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatd_directory_refresh_total",
			Help: "Conversation directory refetches by partition and result.",
		},
		[]string{"partition", "result"},
	)
	viewClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatd_view_clients",
			Help: "Number of connected browser tabs.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		upstreamDuration,
		transportEventsTotal,
		sendsTotal,
		pendingSends,
		directoryRefreshTotal,
		viewClients,
	)
}

// Handler serves /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HTTPMiddleware records route-level request counts and latencies. Route is the
// chi pattern, so ids in the path do not blow up label cardinality.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func ObserveUpstream(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	upstreamDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

func IncEventIn(event string) {
	transportEventsTotal.WithLabelValues("in", event).Inc()
}

func IncEventOut(event string) {
	transportEventsTotal.WithLabelValues("out", event).Inc()
}

// SendStarted / SendFinished track the optimistic pipeline.
func SendStarted() {
	pendingSends.Inc()
}

func SendFinished(result string) {
	pendingSends.Dec()
	sendsTotal.WithLabelValues(result).Inc()
}

func IncDirectoryRefresh(partition string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	directoryRefreshTotal.WithLabelValues(partition, result).Inc()
}

func IncViewClients() {
	viewClients.Inc()
}

func DecViewClients() {
	viewClients.Dec()
}
