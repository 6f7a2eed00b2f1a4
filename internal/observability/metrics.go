package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "cdpfleet"

var (
	metricLaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "browser_launches_total",
		Help:      "Browser launch attempts by outcome (started, reused, failed, timeout).",
	}, []string{"outcome"})
	metricReadyWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "browser_ready_seconds",
		Help:      "Time from spawn until the debug endpoint answered.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15},
	})
	metricRunningBrowsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "browsers_running",
		Help:      "Browser processes currently tracked by the launcher.",
	})
	metricCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "cdp_commands_total",
		Help:      "DevTools commands sent by outcome (ok, error, timeout, not_connected).",
	}, []string{"outcome"})
	metricSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "sessions_total",
		Help:      "Session state transitions recorded by the orchestrator.",
	}, []string{"status"})
)

// RecordLaunch counts a launch attempt with the given outcome label.
func RecordLaunch(outcome string) {
	metricLaunches.WithLabelValues(outcome).Inc()
}

// RecordReadyWait observes how long a browser took to become reachable.
func RecordReadyWait(d time.Duration) {
	metricReadyWait.Observe(d.Seconds())
}

// SetRunningBrowsers publishes the size of the launcher's instance table.
func SetRunningBrowsers(n int) {
	metricRunningBrowsers.Set(float64(n))
}

// RecordCommand counts a DevTools command with the given outcome label.
func RecordCommand(outcome string) {
	metricCommands.WithLabelValues(outcome).Inc()
}

// RecordSessionStatus counts a session entering status.
func RecordSessionStatus(status string) {
	metricSessions.WithLabelValues(status).Inc()
}

// MetricsHandler exposes the default registry in the Prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
