package monitor

import (
	"github.com/omni/htlc-bridge/entity"
)

// BlocksRange is an inclusive range of blocks fetched with a single log filter query.
type BlocksRange struct {
	From uint64
	To   uint64
}

type LogsBatch struct {
	BlockNumber uint64
	Logs        []*entity.Log
}

func SplitBlockRange(fromBlock uint64, toBlock uint64, maxSize uint64) []*BlocksRange {
	batches := make([]*BlocksRange, 0, 10)
	for fromBlock <= toBlock {
		batchToBlock := fromBlock + maxSize - 1
		if batchToBlock > toBlock {
			batchToBlock = toBlock
		}
		batches = append(batches, &BlocksRange{
			From: fromBlock,
			To:   batchToBlock,
		})
		fromBlock += maxSize
	}
	return batches
}

// SplitLogsInBatches groups logs sorted by block number into one batch per block.
// Batches share the backing array of logs.
func SplitLogsInBatches(logs []*entity.Log) []*LogsBatch {
	batches := make([]*LogsBatch, 0, 10)
	for len(logs) > 0 {
		n := 1
		for n < len(logs) && logs[n].BlockNumber == logs[0].BlockNumber {
			n++
		}
		batches = append(batches, &LogsBatch{
			BlockNumber: logs[0].BlockNumber,
			Logs:        logs[:n:n],
		})
		logs = logs[n:]
	}
	return batches
}
