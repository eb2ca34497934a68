package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/htlc-bridge/db"
	"github.com/omni/htlc-bridge/entity"
)

type logsRepo Store

func (r *logsRepo) Ensure(_ context.Context, logs ...*entity.Log) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, log := range logs {
		key := logKey{log.ChainID, log.BlockNumber, log.LogIndex}
		id, ok := r.logKeys[key]
		if !ok {
			r.nextLogID++
			id = r.nextLogID
			r.logKeys[key] = id
		}
		var prevCreatedAt *time.Time
		if prev, ok := r.logs[id]; ok {
			prevCreatedAt = prev.CreatedAt
		}
		log.ID = id
		touch(&log.CreatedAt, &log.UpdatedAt, prevCreatedAt)
		stored := *log
		r.logs[id] = &stored
	}
	return nil
}

func (r *logsRepo) FindByBlockRange(_ context.Context, chainID uint64, addrs []common.Address, fromBlock, toBlock uint64) ([]*entity.Log, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	watched := make(map[common.Address]bool, len(addrs))
	for _, addr := range addrs {
		watched[addr] = true
	}
	logs := make([]*entity.Log, 0, 10)
	for _, log := range r.logs {
		if log.ChainID != chainID || !watched[log.Address] || log.BlockNumber < fromBlock || log.BlockNumber > toBlock {
			continue
		}
		res := *log
		logs = append(logs, &res)
	}
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].LogIndex < logs[j].LogIndex
	})
	return logs, nil
}

type logsCursorsRepo Store

func (r *logsCursorsRepo) Ensure(_ context.Context, cursor *entity.LogsCursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := cursorKey{cursor.ChainID, cursor.Address}
	var prevCreatedAt *time.Time
	if prev, ok := r.cursors[key]; ok {
		prevCreatedAt = prev.CreatedAt
		cursor.LastFetchedBlock = maxUint64(cursor.LastFetchedBlock, prev.LastFetchedBlock)
		cursor.LastProcessedBlock = maxUint64(cursor.LastProcessedBlock, prev.LastProcessedBlock)
	}
	touch(&cursor.CreatedAt, &cursor.UpdatedAt, prevCreatedAt)
	stored := *cursor
	r.cursors[key] = &stored
	return nil
}

func (r *logsCursorsRepo) GetByChainIDAndAddress(_ context.Context, chainID uint64, addr common.Address) (*entity.LogsCursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cursor, ok := r.cursors[cursorKey{chainID, addr}]
	if !ok {
		return nil, fmt.Errorf("can't get logs cursor by chain_id and address: %w", db.ErrNotFound)
	}
	res := *cursor
	return &res, nil
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
