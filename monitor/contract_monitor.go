package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/omni/htlc-bridge/chainclient"
	"github.com/omni/htlc-bridge/config"
	"github.com/omni/htlc-bridge/contract"
	"github.com/omni/htlc-bridge/contract/abi"
	"github.com/omni/htlc-bridge/db"
	"github.com/omni/htlc-bridge/entity"
	"github.com/omni/htlc-bridge/logging"
	"github.com/omni/htlc-bridge/repository"
	"github.com/omni/htlc-bridge/utils"
)

const defaultSyncedThreshold = 10
const defaultBlockRangesChanCap = 10
const defaultLogsChanCap = 200
const defaultEventHandlersMapCap = 20
const defaultRetryInterval = 10 * time.Second

// ContractMonitor indexes the registry and escrow programs of a single chain.
// Fetched logs are saved first and decoded afterwards, the logs cursor tracks both stages.
type ContractMonitor struct {
	cfg                  *config.ChainConfig
	logger               logging.Logger
	repo                 *repository.Repo
	client               chainclient.Client
	contract             *contract.Contract
	logsCursor           *entity.LogsCursor
	blocksRangeChan      chan *BlocksRange
	logsChan             chan *LogsBatch
	eventHandlers        map[string]EventHandler
	cursorMu             sync.Mutex
	headBlock            uint64
	isSynced             atomic.Bool
	syncedMetric         prometheus.Gauge
	headBlockMetric      prometheus.Gauge
	fetchedBlockMetric   prometheus.Gauge
	processedBlockMetric prometheus.Gauge
}

func NewContractMonitor(ctx context.Context, logger logging.Logger, repo *repository.Repo, cfg *config.ChainConfig, client chainclient.Client) (*ContractMonitor, error) {
	chainID := client.ChainID()
	bridgeContract := contract.NewContract(abi.HTLCBridgeABI, client.RegistryAddress(), client.EscrowAddress())
	logsCursor, err := repo.LogsCursors.GetByChainIDAndAddress(ctx, chainID, client.RegistryAddress())
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("failed to read logs cursor: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"chain_id":    chainID,
			"address":     client.RegistryAddress(),
			"start_block": cfg.StartBlock,
		}).Warn("contract cursor is not present, staring indexing from scratch")
		lastBlock := cfg.StartBlock
		if lastBlock > 0 {
			lastBlock--
		}
		logsCursor = &entity.LogsCursor{
			ChainID:            chainID,
			Address:            client.RegistryAddress(),
			LastFetchedBlock:   lastBlock,
			LastProcessedBlock: lastBlock,
		}
	} else {
		head, err2 := client.BlockNumber(ctx)
		if err2 != nil {
			return nil, fmt.Errorf("failed to get head block: %w", err2)
		}
		if logsCursor.LastProcessedBlock > head {
			return nil, fmt.Errorf("logs cursor at block %d is ahead of chain head %d, repository was filled by another chain instance", logsCursor.LastProcessedBlock, head)
		}
	}
	commonLabels := prometheus.Labels{
		"chain_id": strconv.FormatUint(chainID, 10),
		"address":  client.RegistryAddress().String(),
	}
	return &ContractMonitor{
		cfg:                  cfg,
		logger:               logger,
		repo:                 repo,
		client:               client,
		contract:             bridgeContract,
		logsCursor:           logsCursor,
		blocksRangeChan:      make(chan *BlocksRange, defaultBlockRangesChanCap),
		logsChan:             make(chan *LogsBatch, defaultLogsChanCap),
		eventHandlers:        make(map[string]EventHandler, defaultEventHandlersMapCap),
		syncedMetric:         SyncedChain.With(commonLabels),
		headBlockMetric:      LatestHeadBlock.With(commonLabels),
		fetchedBlockMetric:   LatestFetchedBlock.With(commonLabels),
		processedBlockMetric: LatestProcessedBlock.With(commonLabels),
	}, nil
}

func (m *ContractMonitor) ChainID() uint64 {
	return m.client.ChainID()
}

func (m *ContractMonitor) IsSynced() bool {
	return m.isSynced.Load()
}

func (m *ContractMonitor) RegisterEventHandler(event string, handler EventHandler) {
	m.eventHandlers[event] = handler
}

func (m *ContractMonitor) VerifyEventHandlersABI() error {
	events := m.contract.AllEvents()
	for e := range m.eventHandlers {
		if !events[e] {
			return fmt.Errorf("contract does not have %s event in its ABI", e)
		}
	}
	return nil
}

func (m *ContractMonitor) Start(ctx context.Context) {
	m.cursorMu.Lock()
	lastProcessedBlock := m.logsCursor.LastProcessedBlock
	lastFetchedBlock := m.logsCursor.LastFetchedBlock
	m.cursorMu.Unlock()
	go m.StartBlockFetcher(ctx, lastFetchedBlock+1)
	go m.StartLogsProcessor(ctx)
	m.LoadUnprocessedLogs(ctx, lastProcessedBlock+1, lastFetchedBlock)
	go m.StartLogsFetcher(ctx)
}

func (m *ContractMonitor) findLogs(ctx context.Context, fromBlock, toBlock uint64) ([]*entity.Log, error) {
	return m.repo.Logs.FindByBlockRange(ctx, m.ChainID(), m.contract.Addresses(), fromBlock, toBlock)
}

func (m *ContractMonitor) LoadUnprocessedLogs(ctx context.Context, fromBlock, toBlock uint64) {
	if fromBlock > toBlock {
		return
	}
	m.logger.WithFields(logrus.Fields{
		"from_block": fromBlock,
		"to_block":   toBlock,
	}).Info("loading fetched but not yet processed blocks")

	for {
		logs, err := m.findLogs(ctx, fromBlock, toBlock)
		if err != nil {
			m.logger.WithError(err).Error("can't find unprocessed logs in block range")
		} else {
			m.submitLogs(logs, toBlock)
			break
		}

		if !utils.ContextSleep(ctx, defaultRetryInterval) {
			return
		}
	}
}

func (m *ContractMonitor) StartBlockFetcher(ctx context.Context, start uint64) {
	m.logger.Info("starting new blocks tracker")

	for {
		head, err := m.client.BlockNumber(ctx)
		if err != nil {
			m.logger.WithError(err).Error("can't fetch latest block number")
		} else {
			m.recordHeadBlockNumber(head)

			if start <= head {
				for _, blocksRange := range SplitBlockRange(start, head, m.cfg.MaxBlockRangeSize) {
					m.logger.WithFields(logrus.Fields{
						"from_block": blocksRange.From,
						"to_block":   blocksRange.To,
					}).Info("scheduling new block range logs search")
					select {
					case m.blocksRangeChan <- blocksRange:
					case <-ctx.Done():
						return
					}
				}
				start = head + 1
			}
		}

		if !utils.ContextSleep(ctx, m.cfg.BlockIndexInterval) {
			return
		}
	}
}

func (m *ContractMonitor) StartLogsFetcher(ctx context.Context) {
	m.logger.Info("starting logs fetcher")
	for {
		select {
		case <-ctx.Done():
			return
		case blocksRange := <-m.blocksRangeChan:
			for {
				logs, err := m.tryToFetchLogs(ctx, blocksRange)
				if err != nil {
					m.logger.WithError(err).WithFields(logrus.Fields{
						"from_block": blocksRange.From,
						"to_block":   blocksRange.To,
					}).Error("failed logs fetching, retrying")
					if !utils.ContextSleep(ctx, defaultRetryInterval) {
						return
					}
					continue
				}
				m.submitLogs(logs, blocksRange.To)
				break
			}
		}
	}
}

func (m *ContractMonitor) tryToFetchLogs(ctx context.Context, blocksRange *BlocksRange) ([]*entity.Log, error) {
	q := m.contract.FilterQuery(blocksRange.From, blocksRange.To)
	rawLogs, err := m.client.FilterLogs(ctx, q)
	if err != nil {
		return nil, err
	}
	logs := make([]*entity.Log, len(rawLogs))
	for i, log := range rawLogs {
		logs[i] = entity.NewLog(m.ChainID(), log)
	}
	sortLogs(logs)
	m.logger.WithFields(logrus.Fields{
		"count":      len(logs),
		"from_block": blocksRange.From,
		"to_block":   blocksRange.To,
	}).Info("fetched logs in range")
	if len(logs) > 0 {
		if err = m.repo.Logs.Ensure(ctx, logs...); err != nil {
			return nil, err
		}
		m.logger.WithFields(logrus.Fields{
			"count":      len(logs),
			"from_block": blocksRange.From,
			"to_block":   blocksRange.To,
		}).Info("saved logs")
	}
	if err = m.recordFetchedBlockNumber(ctx, blocksRange.To); err != nil {
		return nil, err
	}
	return logs, nil
}

func (m *ContractMonitor) submitLogs(logs []*entity.Log, endBlock uint64) {
	batches := SplitLogsInBatches(logs)
	m.logger.WithFields(logrus.Fields{
		"count": len(logs),
		"jobs":  len(batches),
	}).Info("create jobs for logs processor")
	for _, batch := range batches {
		m.logger.WithFields(logrus.Fields{
			"count":        len(batch.Logs),
			"block_number": batch.BlockNumber,
		}).Debug("submitting logs batch to logs processor")
		m.logsChan <- batch
	}
	if len(batches) == 0 || batches[len(batches)-1].BlockNumber < endBlock {
		m.logsChan <- &LogsBatch{
			BlockNumber: endBlock,
			Logs:        nil,
		}
	}
}

func (m *ContractMonitor) StartLogsProcessor(ctx context.Context) {
	m.logger.Info("starting logs processor")
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-m.logsChan:
			for {
				err := m.tryToProcessLogsBatch(ctx, batch)
				if err != nil {
					m.logger.WithError(err).WithFields(logrus.Fields{
						"block_number": batch.BlockNumber,
						"count":        len(batch.Logs),
					}).Error("failed to process logs batch, retrying")
					if !utils.ContextSleep(ctx, defaultRetryInterval) {
						return
					}
					continue
				}
				break
			}

			for {
				err := m.recordProcessedBlockNumber(ctx, batch.BlockNumber)
				if err != nil {
					m.logger.WithError(err).WithField("block_number", batch.BlockNumber).
						Error("failed to update latest processed block number, retrying")
					if !utils.ContextSleep(ctx, defaultRetryInterval) {
						return
					}
					continue
				}
				break
			}
		}
	}
}

func (m *ContractMonitor) tryToProcessLogsBatch(ctx context.Context, batch *LogsBatch) error {
	m.logger.WithFields(logrus.Fields{
		"count":        len(batch.Logs),
		"block_number": batch.BlockNumber,
	}).Debug("processing logs batch")
	for _, log := range batch.Logs {
		event, data, err := m.contract.ParseLog(log)
		if err != nil {
			return fmt.Errorf("can't parse log: %w", err)
		}
		handle, ok := m.eventHandlers[event]
		if !ok {
			if event == "" && log.Topic0 != nil {
				event = log.Topic0.String()
			}
			m.logger.WithFields(logrus.Fields{
				"event":        event,
				"log_id":       log.ID,
				"block_number": log.BlockNumber,
				"tx_hash":      log.TransactionHash,
				"log_index":    log.LogIndex,
			}).Warn("received unknown event")
			continue
		}
		m.logger.WithFields(logrus.Fields{
			"event":  event,
			"log_id": log.ID,
		}).Trace("handling event")
		if err = handle(ctx, log, data); err != nil {
			return err
		}
	}
	return nil
}

// ProcessBlockRange synchronously fetches and decodes logs in the inclusive block range.
// Cursors are left untouched, so it is safe to reprocess already indexed blocks.
func (m *ContractMonitor) ProcessBlockRange(ctx context.Context, fromBlock, toBlock uint64) error {
	for _, blocksRange := range SplitBlockRange(fromBlock, toBlock, m.cfg.MaxBlockRangeSize) {
		q := m.contract.FilterQuery(blocksRange.From, blocksRange.To)
		rawLogs, err := m.client.FilterLogs(ctx, q)
		if err != nil {
			return fmt.Errorf("can't fetch logs in range %d-%d: %w", blocksRange.From, blocksRange.To, err)
		}
		logs := make([]*entity.Log, len(rawLogs))
		for i, log := range rawLogs {
			logs[i] = entity.NewLog(m.ChainID(), log)
		}
		sortLogs(logs)
		if len(logs) > 0 {
			if err = m.repo.Logs.Ensure(ctx, logs...); err != nil {
				return fmt.Errorf("can't save logs: %w", err)
			}
		}
		for _, batch := range SplitLogsInBatches(logs) {
			if err = m.tryToProcessLogsBatch(ctx, batch); err != nil {
				return fmt.Errorf("can't process logs at block %d: %w", batch.BlockNumber, err)
			}
		}
		m.logger.WithFields(logrus.Fields{
			"count":      len(logs),
			"from_block": blocksRange.From,
			"to_block":   blocksRange.To,
		}).Info("reprocessed block range")
	}
	return nil
}

func sortLogs(logs []*entity.Log) {
	sort.Slice(logs, func(i, j int) bool {
		a, b := logs[i], logs[j]
		return a.BlockNumber < b.BlockNumber || (a.BlockNumber == b.BlockNumber && a.LogIndex < b.LogIndex)
	})
}

func (m *ContractMonitor) recordHeadBlockNumber(blockNumber uint64) {
	m.cursorMu.Lock()
	defer m.cursorMu.Unlock()
	if blockNumber < m.headBlock {
		return
	}

	m.headBlock = blockNumber
	m.headBlockMetric.Set(float64(blockNumber))
	m.recordIsSynced()
}

func (m *ContractMonitor) recordIsSynced() {
	synced := m.logsCursor.LastProcessedBlock+defaultSyncedThreshold > m.headBlock
	m.isSynced.Store(synced)
	if synced {
		m.syncedMetric.Set(1)
	} else {
		m.syncedMetric.Set(0)
	}
}

func (m *ContractMonitor) recordFetchedBlockNumber(ctx context.Context, blockNumber uint64) error {
	m.cursorMu.Lock()
	defer m.cursorMu.Unlock()
	if blockNumber < m.logsCursor.LastFetchedBlock {
		return nil
	}

	m.logsCursor.LastFetchedBlock = blockNumber
	m.fetchedBlockMetric.Set(float64(blockNumber))
	return m.repo.LogsCursors.Ensure(ctx, m.logsCursor)
}

func (m *ContractMonitor) recordProcessedBlockNumber(ctx context.Context, blockNumber uint64) error {
	m.cursorMu.Lock()
	defer m.cursorMu.Unlock()
	if blockNumber < m.logsCursor.LastProcessedBlock {
		return nil
	}

	m.logsCursor.LastProcessedBlock = blockNumber
	m.processedBlockMetric.Set(float64(blockNumber))
	m.recordIsSynced()
	return m.repo.LogsCursors.Ensure(ctx, m.logsCursor)
}
