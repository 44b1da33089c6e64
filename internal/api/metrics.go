package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highscore_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "highscore_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highscore_commands_total",
			Help: "Commands handled, by command and envelope error identifier.",
		},
		[]string{"command", "error"},
	)
	authDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highscore_auth_decisions_total",
			Help: "Signed-request verifications, by result.",
		},
		[]string{"result"},
	)
	noncesIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "highscore_nonces_issued_total",
			Help: "Total number of nonces issued.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, commandsTotal, authDecisionsTotal, noncesIssuedTotal)
}

// RegisterOutstandingNoncesGauge registers a gauge reporting how many nonces
// the in-memory nonce store currently holds.
func RegisterOutstandingNoncesGauge(countFn func() float64) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "highscore_outstanding_nonces",
			Help: "Number of issued nonces not yet consumed.",
		},
		countFn,
	))
}

// RegisterBackupStatusGauge registers a gauge that is 1 while the most
// recent backup run failed.
func RegisterBackupStatusGauge(lastErr func() error) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "highscore_backup_last_run_failed",
			Help: "1 if the most recent database backup failed, otherwise 0.",
		},
		func() float64 {
			if lastErr() != nil {
				return 1
			}
			return 0
		},
	))
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
