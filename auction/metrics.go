package auction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BidsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auction",
		Name:      "bids_total",
		Help:      "Submitted resolver bids by result.",
	}, []string{"result"})
	ClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auction",
		Name:      "closed_total",
		Help:      "Closed auctions by outcome.",
	}, []string{"outcome"})
)
