package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Proxy metrics
var (
	ProxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "utopia_proxy_requests_total",
			Help: "Requests proxied to workers",
		},
		[]string{"worker", "status"},
	)

	ProxyErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "utopia_proxy_errors_total",
			Help: "Requests answered with 502 Bad Gateway",
		},
		[]string{"reason"},
	)

	ActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "utopia_proxy_active_connections",
			Help: "In-flight upstream streams per worker",
		},
		[]string{"worker"},
	)
)

// Supervisor metrics
var (
	WorkersRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "utopia_workers_running",
			Help: "Worker processes currently alive",
		},
	)

	WorkerRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "utopia_worker_restarts_total",
			Help: "Worker restarts scheduled after an exit observed outside shutdown",
		},
		[]string{"worker"},
	)
)

// Compute pool metrics
var (
	ComputeTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "utopia_compute_tasks_total",
			Help: "Compute submissions by handler and dispatch mode",
		},
		[]string{"handler", "mode"},
	)

	ComputeTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "utopia_compute_task_duration_seconds",
			Help:    "Handler execution time",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"handler"},
	)
)

func init() {
	prometheus.MustRegister(
		ProxyRequestsTotal,
		ProxyErrorsTotal,
		ActiveConnections,
		WorkersRunning,
		WorkerRestartsTotal,
		ComputeTasksTotal,
		ComputeTaskDuration,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer starts a standalone HTTP server serving /metrics
// on the given address.
func StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			// Metrics are non-critical; the supervisor keeps running.
		}
	}()
	return srv
}
