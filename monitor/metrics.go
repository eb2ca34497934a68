package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LatestHeadBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "monitor",
		Subsystem: "chain",
		Name:      "latest_head_block",
		Help:      "Shows the latest fetched head block of the chain. Logs up to this block are waiting to be fetched.",
	}, []string{"chain_id", "address"})
	LatestFetchedBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "monitor",
		Subsystem: "chain",
		Name:      "latest_fetched_block",
		Help:      "Shows the latest fetched block of the bridge programs. Logs up to this block are already saved.",
	}, []string{"chain_id", "address"})
	LatestProcessedBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "monitor",
		Subsystem: "chain",
		Name:      "latest_processed_block",
		Help:      "Shows the latest processed block of the bridge programs. Logs up to this block are decoded into escrow events.",
	}, []string{"chain_id", "address"})
	SyncedChain = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "monitor",
		Subsystem: "chain",
		Name:      "synced",
		Help:      "Shows 1 if the indexer of the chain is considered as synced up to chain head.",
	}, []string{"chain_id", "address"})
	IndexedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monitor",
		Subsystem: "chain",
		Name:      "indexed_events_total",
		Help:      "Counts decoded bridge program events by kind.",
	}, []string{"chain_id", "event"})
)
