package memory

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/omni/htlc-bridge/entity"
)

type logKey struct {
	chainID  uint64
	block    uint64
	logIndex uint
}

type cursorKey struct {
	chainID uint64
	address common.Address
}

type escrowKey struct {
	chainID  uint64
	escrowID common.Hash
}

// Store is an arena of records keyed by their ids, with secondary indexes maintained on write.
// Every repository handed out by a Store shares its lock.
type Store struct {
	mu sync.RWMutex

	nextLogID uint
	logs      map[uint]*entity.Log
	logKeys   map[logKey]uint
	cursors   map[cursorKey]*entity.LogsCursor

	transfers         map[common.Hash]*entity.Transfer
	transfersByEscrow map[escrowKey]common.Hash

	bids           map[uuid.UUID]*entity.Bid
	bidsByTransfer map[common.Hash][]uuid.UUID
	bidsByResolver map[common.Address][]uuid.UUID

	auctions map[common.Hash]*entity.Auction

	executions           map[uuid.UUID]*entity.Execution
	executionsByTransfer map[common.Hash][]uuid.UUID

	resolvers map[common.Address]*entity.Resolver

	events     map[uint]*entity.EscrowEvent
	eventsByID map[common.Hash][]uint
}

func NewStore() *Store {
	return &Store{
		logs:                 make(map[uint]*entity.Log),
		logKeys:              make(map[logKey]uint),
		cursors:              make(map[cursorKey]*entity.LogsCursor),
		transfers:            make(map[common.Hash]*entity.Transfer),
		transfersByEscrow:    make(map[escrowKey]common.Hash),
		bids:                 make(map[uuid.UUID]*entity.Bid),
		bidsByTransfer:       make(map[common.Hash][]uuid.UUID),
		bidsByResolver:       make(map[common.Address][]uuid.UUID),
		auctions:             make(map[common.Hash]*entity.Auction),
		executions:           make(map[uuid.UUID]*entity.Execution),
		executionsByTransfer: make(map[common.Hash][]uuid.UUID),
		resolvers:            make(map[common.Address]*entity.Resolver),
		events:               make(map[uint]*entity.EscrowEvent),
		eventsByID:           make(map[common.Hash][]uint),
	}
}

func (s *Store) Logs() entity.LogsRepo                 { return (*logsRepo)(s) }
func (s *Store) LogsCursors() entity.LogsCursorsRepo   { return (*logsCursorsRepo)(s) }
func (s *Store) Transfers() entity.TransfersRepo       { return (*transfersRepo)(s) }
func (s *Store) Bids() entity.BidsRepo                 { return (*bidsRepo)(s) }
func (s *Store) Auctions() entity.AuctionsRepo         { return (*auctionsRepo)(s) }
func (s *Store) Executions() entity.ExecutionsRepo     { return (*executionsRepo)(s) }
func (s *Store) Resolvers() entity.ResolversRepo       { return (*resolversRepo)(s) }
func (s *Store) EscrowEvents() entity.EscrowEventsRepo { return (*escrowEventsRepo)(s) }

// touch maintains created_at/updated_at the way the postgres defaults do.
func touch(createdAt, updatedAt **time.Time, prevCreatedAt *time.Time) {
	now := time.Now().UTC()
	if prevCreatedAt != nil {
		created := *prevCreatedAt
		*createdAt = &created
	} else {
		*createdAt = &now
	}
	*updatedAt = &now
}

func appendUnique[K comparable, V comparable](index map[K][]V, key K, value V) {
	for _, v := range index[key] {
		if v == value {
			return
		}
	}
	index[key] = append(index[key], value)
}
