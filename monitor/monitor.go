package monitor

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/omni/htlc-bridge/chainclient"
	"github.com/omni/htlc-bridge/config"
	"github.com/omni/htlc-bridge/contract/abi"
	"github.com/omni/htlc-bridge/logging"
	"github.com/omni/htlc-bridge/repository"
)

// Monitor runs one ContractMonitor per configured chain.
type Monitor struct {
	logger   logging.Logger
	repo     *repository.Repo
	monitors map[uint64]*ContractMonitor
}

func NewMonitor(ctx context.Context, logger logging.Logger, repo *repository.Repo, cfg *config.Config, clients chainclient.Clients) (*Monitor, error) {
	logger.Info("initializing bridge monitor")
	monitor := &Monitor{
		logger:   logger,
		repo:     repo,
		monitors: make(map[uint64]*ContractMonitor, len(cfg.Chains)),
	}
	for name, chainCfg := range cfg.Chains {
		client, err := clients.Get(chainCfg.ChainID)
		if err != nil {
			return nil, fmt.Errorf("failed to get client for %s: %w", name, err)
		}
		chainLogger := logger.WithFields(logrus.Fields{
			"chain":    name,
			"chain_id": chainCfg.ChainID,
		})
		contractMonitor, err := NewContractMonitor(ctx, chainLogger, repo, chainCfg, client)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize %s monitor: %w", name, err)
		}
		monitor.registerEventHandlers(contractMonitor)
		if err = contractMonitor.VerifyEventHandlersABI(); err != nil {
			return nil, fmt.Errorf("%s contract does not have ABI for registered event handler: %w", name, err)
		}
		monitor.monitors[chainCfg.ChainID] = contractMonitor
	}
	return monitor, nil
}

func (m *Monitor) registerEventHandlers(contractMonitor *ContractMonitor) {
	handlers := NewEscrowEventHandler(m.repo, contractMonitor.ChainID())
	contractMonitor.RegisterEventHandler(abi.EscrowInitiated, handlers.HandleEscrowInitiated)
	contractMonitor.RegisterEventHandler(abi.EscrowClaimed, handlers.HandleEscrowClaimed)
	contractMonitor.RegisterEventHandler(abi.EscrowRefunded, handlers.HandleEscrowRefunded)
	contractMonitor.RegisterEventHandler(abi.EscrowCreated, handlers.HandleEscrowCreated)
	contractMonitor.RegisterEventHandler(abi.CrossChainTransferInitiated, handlers.HandleCrossChainTransferInitiated)
	contractMonitor.RegisterEventHandler(abi.CrossChainTransferCompleted, handlers.HandleCrossChainTransferCompleted)
	contractMonitor.RegisterEventHandler(abi.ResolverAuthorized, handlers.HandleResolverAuthorized)
	contractMonitor.RegisterEventHandler(abi.ResolverRevoked, handlers.HandleResolverRevoked)
	contractMonitor.RegisterEventHandler(abi.ChainSupportAdded, handlers.HandleChainSupportAdded)
	contractMonitor.RegisterEventHandler(abi.ChainSupportRemoved, handlers.HandleChainSupportRemoved)
}

func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info("starting bridge monitor")
	for _, chainID := range m.ChainIDs() {
		go m.monitors[chainID].Start(ctx)
	}
}

func (m *Monitor) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(m.monitors))
	for chainID := range m.monitors {
		ids = append(ids, chainID)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})
	return ids
}

func (m *Monitor) ProcessBlockRange(ctx context.Context, chainID uint64, fromBlock, toBlock uint64) error {
	contractMonitor, ok := m.monitors[chainID]
	if !ok {
		return fmt.Errorf("chain %d: %w", chainID, chainclient.ErrUnknownChain)
	}
	return contractMonitor.ProcessBlockRange(ctx, fromBlock, toBlock)
}

func (m *Monitor) IsSynced() bool {
	for _, contractMonitor := range m.monitors {
		if !contractMonitor.IsSynced() {
			return false
		}
	}
	return true
}
