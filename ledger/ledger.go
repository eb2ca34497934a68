package ledger

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/omni/htlc-bridge/contract/abi"
)

const (
	DefaultBlockTime = 2 * time.Second

	MinTimelock = time.Hour
	MaxTimelock = 30 * 24 * time.Hour
)

const (
	gasInitiate         = 95_000
	gasClaim            = 58_000
	gasRefund           = 46_000
	gasCreateEscrow     = 142_000
	gasInitiateTransfer = 88_000
	gasCompleteTransfer = 41_000
	gasRelayClaim       = 63_000
	gasAdmin            = 29_000
	gasTransfer         = 21_000
	gasApprove          = 24_000
)

type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Logs        []*types.Log
}

type Options struct {
	ChainID         uint64
	Owner           common.Address
	RegistryAddress common.Address
	Clock           Clock
	BlockTime       time.Duration
}

// ReceiveHook is invoked after a payout lands on a registered receiver address.
type ReceiveHook func(r Reentry, asset common.Address, amount *big.Int)

// Ledger is a single chain hosting the escrow program, the bridge registry program and the
// fungible asset book they move value in. Every state-changing call is one serialized transaction.
type Ledger struct {
	mu sync.Mutex

	chainID         uint64
	owner           common.Address
	registryAddress common.Address
	escrowAddress   common.Address
	clock           Clock
	genesis         time.Time
	blockTime       time.Duration

	assets    *assetBook
	escrows   map[common.Hash]*Escrow
	transfers map[common.Hash]*CrossChainTransfer
	chains    map[uint64]*ChainRegistration
	resolvers map[common.Address]bool
	receivers map[common.Address]ReceiveHook

	logs    []types.Log
	txCount uint64
	entered bool
}

func New(opts Options) *Ledger {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	blockTime := opts.BlockTime
	if blockTime <= 0 {
		blockTime = DefaultBlockTime
	}
	return &Ledger{
		chainID:         opts.ChainID,
		owner:           opts.Owner,
		registryAddress: opts.RegistryAddress,
		escrowAddress:   crypto.CreateAddress(opts.RegistryAddress, 0),
		clock:           clock,
		genesis:         clock.Now().Truncate(time.Second),
		blockTime:       blockTime,
		assets:          newAssetBook(),
		escrows:         make(map[common.Hash]*Escrow),
		transfers:       make(map[common.Hash]*CrossChainTransfer),
		chains:          make(map[uint64]*ChainRegistration),
		resolvers:       make(map[common.Address]bool),
		receivers:       make(map[common.Address]ReceiveHook),
	}
}

func (l *Ledger) ChainID() uint64 {
	return l.chainID
}

func (l *Ledger) Owner() common.Address {
	return l.owner
}

func (l *Ledger) RegistryAddress() common.Address {
	return l.registryAddress
}

// EscrowAddress is the custody account of the escrow program; initiators approve it.
func (l *Ledger) EscrowAddress() common.Address {
	return l.escrowAddress
}

func (l *Ledger) Now() time.Time {
	return l.clock.Now().Truncate(time.Second)
}

func (l *Ledger) BlockNumber() uint64 {
	return l.blockAt(l.Now())
}

func (l *Ledger) blockAt(ts time.Time) uint64 {
	if ts.Before(l.genesis) {
		return 1
	}
	return uint64(ts.Sub(l.genesis)/l.blockTime) + 1
}

func (l *Ledger) RegisterReceiver(addr common.Address, hook ReceiveHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receivers[addr] = hook
}

// FilterLogs returns logs emitted in [fromBlock, toBlock], optionally restricted to addresses.
func (l *Ledger) FilterLogs(fromBlock, toBlock uint64, addresses ...common.Address) []types.Log {
	l.mu.Lock()
	defer l.mu.Unlock()

	filter := make(map[common.Address]bool, len(addresses))
	for _, addr := range addresses {
		filter[addr] = true
	}
	res := make([]types.Log, 0, 10)
	for _, log := range l.logs {
		if log.BlockNumber < fromBlock || log.BlockNumber > toBlock {
			continue
		}
		if len(filter) > 0 && !filter[log.Address] {
			continue
		}
		res = append(res, copyLog(log))
	}
	return res
}

type tx struct {
	l     *Ledger
	hash  common.Hash
	now   time.Time
	block uint64
	logs  []*types.Log
}

func (l *Ledger) transact(method string, gas uint64, fn func(t *tx) error) (*Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entered {
		return nil, ErrReentrantCall
	}
	l.entered = true
	defer func() {
		l.entered = false
	}()

	now := l.Now()
	t := &tx{
		l:     l,
		now:   now,
		block: l.blockAt(now),
		hash:  l.txHash(method, now),
	}
	if err := fn(t); err != nil {
		return nil, err
	}

	l.txCount++
	blockHash := l.blockHash(t.block)
	for _, log := range t.logs {
		log.BlockNumber = t.block
		log.BlockHash = blockHash
		log.TxHash = t.hash
		log.Index = uint(len(l.logs))
		l.logs = append(l.logs, *log)
	}
	return &Receipt{
		TxHash:      t.hash,
		BlockNumber: t.block,
		GasUsed:     gas,
		Logs:        t.logs,
	}, nil
}

func (l *Ledger) txHash(method string, now time.Time) common.Hash {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint64(buf[0:8], l.chainID)
	binary.BigEndian.PutUint64(buf[8:16], l.txCount)
	binary.BigEndian.PutUint64(buf[16:24], uint64(now.Unix()))
	return crypto.Keccak256Hash(buf, []byte(method))
}

func (l *Ledger) blockHash(block uint64) common.Hash {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], l.chainID)
	binary.BigEndian.PutUint64(buf[8:16], block)
	return crypto.Keccak256Hash(buf)
}

func (t *tx) emit(address common.Address, event string, args ...interface{}) error {
	topics, data, err := abi.HTLCBridgeABI.EncodeLog(event, args...)
	if err != nil {
		return fmt.Errorf("can't encode %s log: %w", event, err)
	}
	t.logs = append(t.logs, &types.Log{
		Address: address,
		Topics:  topics,
		Data:    data,
	})
	return nil
}

func copyLog(log types.Log) types.Log {
	log.Topics = append([]common.Hash(nil), log.Topics...)
	log.Data = append([]byte(nil), log.Data...)
	return log
}

func sortedChainIDs(chains map[uint64]*ChainRegistration) []uint64 {
	ids := make([]uint64, 0, len(chains))
	for id, reg := range chains {
		if reg.Supported {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
