package chainclient

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chain",
		Subsystem: "request",
		Name:      "results_total",
	}, []string{"chain_id", "query", "status"})

	RequestDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chain",
		Subsystem: "request",
		Name:      "duration_seconds",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"chain_id", "query"})
)

func ObserveError(chainID, query string, err error) {
	switch {
	case err == nil:
		RequestResults.WithLabelValues(chainID, query, "ok").Inc()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		RequestResults.WithLabelValues(chainID, query, "timeout").Inc()
	case IsReverted(err):
		RequestResults.WithLabelValues(chainID, query, "reverted").Inc()
	default:
		RequestResults.WithLabelValues(chainID, query, "error").Inc()
	}
}

func ObserveDuration(chainID, query string) func() time.Duration {
	return prometheus.NewTimer(RequestDurations.WithLabelValues(chainID, query)).ObserveDuration
}
