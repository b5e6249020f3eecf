package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clipsd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clipsd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)

	httpInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clipsd",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "In-flight HTTP requests",
		},
		[]string{"path"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpInflight)
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware instruments requests for Prometheus
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Method
		httpInflight.WithLabelValues(r.URL.Path).Inc()
		defer httpInflight.WithLabelValues(r.URL.Path).Dec()

		sr := &statusRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(sr, r)
		// The route pattern is only known once the router has matched.
		path := routePatternOrPath(r)
		statusLabel := itoa(sr.status)
		dur := time.Since(start).Seconds()
		httpRequestsTotal.WithLabelValues(path, method, statusLabel).Inc()
		httpRequestDuration.WithLabelValues(path, method, statusLabel).Observe(dur)
	})
}

// routePatternOrPath returns the chi route pattern if available, otherwise
// falls back to URL path. This avoids high-cardinality label values.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// newDomainCollectors registers pressure and resource gauges that read the
// service on scrape. They live on a per-mux registry so tests can build
// multiple muxes without duplicate-registration panics.
func newDomainCollectors(svc Service, reg *prometheus.Registry) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: "clipsd", Name: "pressure_level", Help: "Current memory pressure level (0=normal..4=fatal)"},
		func() float64 { return float64(svc.PressureLevel()) },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: "clipsd", Name: "memory_used_percent", Help: "Last sampled memory usage percentage"},
		func() float64 { return svc.Status().Memory.Percent },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: "clipsd", Name: "resources_active", Help: "Tracked resources in active state"},
		func() float64 { return float64(svc.Status().Resources.Active) },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: "clipsd", Name: "resources_active_mb", Help: "Estimated MB held by active resources"},
		func() float64 { return float64(svc.Status().Resources.ActiveMB) },
	))
	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: "clipsd", Name: "releases_total", Help: "Total successful resource releases"},
		func() float64 { return float64(svc.ReleaseStats().ReleasesTotal) },
	))
	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: "clipsd", Name: "rollbacks_total", Help: "Total release rollback attempts"},
		func() float64 { return float64(svc.ReleaseStats().RollbackAttempts) },
	))
	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: "clipsd", Name: "quant_switches_total", Help: "Total quantization switch attempts"},
		func() float64 { return float64(svc.Counters().Switches) },
	))
	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: "clipsd", Name: "protocol_executions_total", Help: "Total degradation protocol actions executed"},
		func() float64 { return float64(svc.Counters().ProtocolExecutions) },
	))
	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: "clipsd", Name: "checkpoint_saves_total", Help: "Total checkpoint files written"},
		func() float64 { return float64(svc.Counters().CheckpointSaves) },
	))
}

// fast integer to ascii for small set of status codes
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [4]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
