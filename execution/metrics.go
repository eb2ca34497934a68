package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "execution",
	Name:      "results_total",
	Help:      "Transfer executions by outcome.",
}, []string{"outcome"})
