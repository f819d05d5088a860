package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pharmatrust/pharmaledger/internal/ledger"
)

var (
	plTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmaledger_transactions_total",
		Help: "Total ledger transactions appended, by kind.",
	}, []string{"kind"})

	plChainLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pharmaledger_chain_length",
		Help: "Current chain length including the genesis transaction.",
	})

	plChainValid = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pharmaledger_chain_valid",
		Help: "1 when the last integrity check passed, 0 otherwise.",
	})

	plVerifyRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmaledger_verify_runs_total",
		Help: "Total chain verification runs by result.",
	}, []string{"result"})

	plRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmaledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	plRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pharmaledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// RecordTransaction counts one appended ledger transaction.
func RecordTransaction(kind ledger.Kind) {
	plTransactionsTotal.WithLabelValues(string(kind)).Inc()
}

// RecordVerification publishes the outcome of an integrity check.
func RecordVerification(chainLen int, valid bool) {
	plChainLength.Set(float64(chainLen))
	if valid {
		plChainValid.Set(1)
		plVerifyRunsTotal.WithLabelValues("valid").Inc()
	} else {
		plChainValid.Set(0)
		plVerifyRunsTotal.WithLabelValues("invalid").Inc()
	}
}

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		plRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		plRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler serves the Prometheus exposition endpoint.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
