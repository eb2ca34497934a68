package jobs

import (
	"context"
	"time"

	"github.com/omni/htlc-bridge/auction"
	"github.com/omni/htlc-bridge/chainclient"
	"github.com/omni/htlc-bridge/config"
	"github.com/omni/htlc-bridge/logging"
	"github.com/omni/htlc-bridge/repository"
)

const (
	JobCloseAuctions          = "close_auctions"
	JobExpiredTransfers       = "expired_transfers"
	JobPendingSettlements     = "pending_settlements"
	JobStalledSetups          = "stalled_setups"
	defaultJobTimeout         = 10 * time.Second
	defaultSyncedPollInterval = 10 * time.Second
)

type Manager struct {
	logger logging.Logger
	jobs   map[string]*Job
}

func NewManager(logger logging.Logger, cfg *config.Config, clients chainclient.Clients, repo *repository.Repo, auctions *auction.Engine) *Manager {
	provider := NewProvider(logger, clients, repo, auctions, cfg.Coordinator.SetupTimeout)
	jobs := map[string]*Job{
		JobCloseAuctions: {
			Interval: cfg.Auction.CloseInterval,
			Timeout:  defaultJobTimeout,
			Func:     provider.CloseAuctions,
		},
		JobExpiredTransfers: {
			Interval:      cfg.Coordinator.ExpiryCheckInterval,
			Timeout:       defaultJobTimeout,
			RequireSynced: true,
			Metric:        ExpiredTransfers,
			Func:          provider.FindExpiredTransfers,
		},
		JobPendingSettlements: {
			Interval:      cfg.Coordinator.ExpiryCheckInterval,
			Timeout:       defaultJobTimeout,
			RequireSynced: true,
			Metric:        PendingSettlements,
			Func:          provider.FindPendingSettlements,
		},
		JobStalledSetups: {
			Interval:      cfg.Coordinator.ExpiryCheckInterval,
			Timeout:       defaultJobTimeout,
			RequireSynced: true,
			Metric:        StalledSetups,
			Func:          provider.FindStalledSetups,
		},
	}
	for name, job := range jobs {
		job.Name = name
		job.logger = logger.WithField("job", name)
	}
	return &Manager{
		logger: logger,
		jobs:   jobs,
	}
}

func (m *Manager) Job(name string) (*Job, bool) {
	job, ok := m.jobs[name]
	return job, ok
}

// Start runs jobs that don't depend on the indexer right away, the rest once it is synced.
func (m *Manager) Start(ctx context.Context, isSynced func() bool) {
	for _, job := range m.jobs {
		if !job.RequireSynced {
			go job.Start(ctx, isSynced)
		}
	}

	t := time.NewTicker(defaultSyncedPollInterval)
	defer t.Stop()
	for !isSynced() {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.logger.Debug("waiting for bridge monitor to be synchronized on all chains")
		}
	}
	m.logger.Info("all chains are synced, starting remaining jobs")

	for _, job := range m.jobs {
		if job.RequireSynced {
			go job.Start(ctx, isSynced)
		}
	}
}
