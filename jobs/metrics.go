package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobs",
		Name:      "runs_total",
		Help:      "Counts periodic job iterations by job and success.",
	}, []string{"job", "success"})
	ExpiredTransfers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "jobs",
		Name:      "expired_transfers",
		Help:      "Shows unresolved transfers whose timelock has passed, the value is seconds since expiry.",
	}, []string{"source_chain_id", "dest_chain_id", "transfer_id", "state"})
	StalledSetups = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "jobs",
		Name:      "stalled_setups",
		Help:      "Shows transfers without a destination escrow after the setup timeout, the value is seconds left until the source leg is refundable.",
	}, []string{"source_chain_id", "dest_chain_id", "transfer_id"})
	PendingSettlements = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "jobs",
		Name:      "pending_settlements",
		Help:      "Shows transfers claimed on the destination chain but not settled on the source chain, the value is seconds left until expiry.",
	}, []string{"source_chain_id", "transfer_id", "winner"})
)
