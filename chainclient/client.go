package chainclient

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/omni/htlc-bridge/ledger"
)

var (
	ErrUnknownChain     = errors.New("no client for chain")
	ErrInvalidLogsQuery = errors.New("invalid logs filter query")
	ErrNodeIsNotSynced  = errors.New("node is not synced to the requested block")
)

// Client is everything off-chain services need from one chain. Every call is one request to the
// chain and is observed in the chain request metrics.
type Client interface {
	ChainID() uint64
	RegistryAddress() common.Address
	EscrowAddress() common.Address

	BlockNumber(ctx context.Context) (uint64, error)
	Now(ctx context.Context) (time.Time, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)

	BalanceOf(ctx context.Context, asset, holder common.Address) (*big.Int, error)
	Allowance(ctx context.Context, asset, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, caller, asset, spender common.Address, amount *big.Int) (*ledger.Receipt, error)
	Transfer(ctx context.Context, caller, asset, to common.Address, amount *big.Int) (*ledger.Receipt, error)

	GetEscrow(ctx context.Context, escrowID common.Hash) (*ledger.Escrow, error)
	Claim(ctx context.Context, caller common.Address, escrowID common.Hash, secret [32]byte) (*ledger.Receipt, error)
	Refund(ctx context.Context, caller common.Address, escrowID common.Hash) (*ledger.Receipt, error)

	CreateEscrow(ctx context.Context, req *CreateEscrowRequest) (common.Hash, *ledger.Receipt, error)
	InitiateCrossChainTransfer(ctx context.Context, req *InitiateTransferRequest) (common.Hash, *ledger.Receipt, error)
	CompleteCrossChainTransfer(ctx context.Context, caller common.Address, transferID, destEscrowID common.Hash) (*ledger.Receipt, error)
	RelayClaim(ctx context.Context, caller common.Address, escrowID common.Hash, secret [32]byte) (*ledger.Receipt, error)
	GetTransfer(ctx context.Context, transferID common.Hash) (*ledger.CrossChainTransfer, error)
	IsSupportedChain(ctx context.Context, chainID uint64) (bool, error)
	IsAuthorizedResolver(ctx context.Context, resolver common.Address) (bool, error)
}

type CreateEscrowRequest struct {
	Caller      common.Address
	Asset       common.Address
	Recipient   common.Address
	Amount      *big.Int
	DestChainID uint64
	SecretHash  common.Hash
	Timelock    time.Duration
}

type InitiateTransferRequest struct {
	Caller         common.Address
	SourceEscrowID common.Hash
	DestEscrowID   common.Hash
	SourceChainID  uint64
	DestChainID    uint64
	Recipient      common.Address
}

// Clients routes requests by chain id.
type Clients map[uint64]Client

func (c Clients) Get(chainID uint64) (Client, error) {
	client, ok := c[chainID]
	if !ok {
		return nil, fmt.Errorf("chain %d: %w", chainID, ErrUnknownChain)
	}
	return client, nil
}

var programErrors = []error{
	ledger.ErrEscrowExists, ledger.ErrEscrowNotFound, ledger.ErrZeroAddress, ledger.ErrInvalidAmount,
	ledger.ErrEmptySecretHash, ledger.ErrInvalidTimelock, ledger.ErrInsufficientBalance,
	ledger.ErrInsufficientAllowance, ledger.ErrNotRecipient, ledger.ErrNotInitiator, ledger.ErrNotInitiated,
	ledger.ErrHashMismatch, ledger.ErrTimelockNotExpired, ledger.ErrReentrantCall, ledger.ErrUnsupportedChain,
	ledger.ErrSameChain, ledger.ErrTransferExists, ledger.ErrTransferNotFound, ledger.ErrTransferNotInitiated,
	ledger.ErrEscrowMismatch, ledger.ErrNotOwner, ledger.ErrNotAuthorized,
}

// IsReverted reports whether err was raised by the on-chain program itself, as opposed to transport.
func IsReverted(err error) bool {
	for _, target := range programErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type localClient struct {
	chainID string
	timeout time.Duration
	ledger  *ledger.Ledger
}

// NewLocalClient serves requests from an in-process ledger.
func NewLocalClient(l *ledger.Ledger, timeout time.Duration) Client {
	return &localClient{
		chainID: strconv.FormatUint(l.ChainID(), 10),
		timeout: timeout,
		ledger:  l,
	}
}

// call runs fn unless ctx is already done or the request timeout elapses first.
func call[T any](ctx context.Context, c *localClient, query string, fn func() (T, error)) (T, error) {
	defer ObserveDuration(c.chainID, query)()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var res T
	err := ctx.Err()
	if err == nil {
		res, err = fn()
	}
	ObserveError(c.chainID, query, err)
	return res, err
}

func (c *localClient) ChainID() uint64 {
	return c.ledger.ChainID()
}

func (c *localClient) RegistryAddress() common.Address {
	return c.ledger.RegistryAddress()
}

func (c *localClient) EscrowAddress() common.Address {
	return c.ledger.EscrowAddress()
}

func (c *localClient) BlockNumber(ctx context.Context) (uint64, error) {
	return call(ctx, c, "blockNumber", func() (uint64, error) {
		return c.ledger.BlockNumber(), nil
	})
}

func (c *localClient) Now(ctx context.Context) (time.Time, error) {
	return call(ctx, c, "now", func() (time.Time, error) {
		return c.ledger.Now(), nil
	})
}

func (c *localClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return call(ctx, c, "getLogs", func() ([]types.Log, error) {
		if q.BlockHash != nil {
			return nil, ErrInvalidLogsQuery
		}
		if q.FromBlock == nil || q.ToBlock == nil || q.ToBlock.Sign() <= 0 {
			return nil, fmt.Errorf("only bounded positive block ranges are supported: %w", ErrInvalidLogsQuery)
		}
		to := q.ToBlock.Uint64()
		if head := c.ledger.BlockNumber(); head < to {
			return nil, fmt.Errorf("current block %d is older than toBlock %d in the query: %w", head, to, ErrNodeIsNotSynced)
		}
		logs := c.ledger.FilterLogs(q.FromBlock.Uint64(), to, q.Addresses...)
		return filterTopics(logs, q.Topics), nil
	})
}

func filterTopics(logs []types.Log, topics [][]common.Hash) []types.Log {
	if len(topics) == 0 {
		return logs
	}
	res := logs[:0]
	for _, log := range logs {
		if matchTopics(log.Topics, topics) {
			res = append(res, log)
		}
	}
	return res
}

func matchTopics(have []common.Hash, want [][]common.Hash) bool {
	if len(want) > len(have) {
		return false
	}
	for i, options := range want {
		if len(options) == 0 {
			continue
		}
		found := false
		for _, option := range options {
			if have[i] == option {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (c *localClient) BalanceOf(ctx context.Context, asset, holder common.Address) (*big.Int, error) {
	return call(ctx, c, "balanceOf", func() (*big.Int, error) {
		return c.ledger.BalanceOf(asset, holder), nil
	})
}

func (c *localClient) Allowance(ctx context.Context, asset, owner, spender common.Address) (*big.Int, error) {
	return call(ctx, c, "allowance", func() (*big.Int, error) {
		return c.ledger.Allowance(asset, owner, spender), nil
	})
}

func (c *localClient) Approve(ctx context.Context, caller, asset, spender common.Address, amount *big.Int) (*ledger.Receipt, error) {
	return call(ctx, c, "approve", func() (*ledger.Receipt, error) {
		return c.ledger.Approve(caller, asset, spender, amount)
	})
}

func (c *localClient) Transfer(ctx context.Context, caller, asset, to common.Address, amount *big.Int) (*ledger.Receipt, error) {
	return call(ctx, c, "transfer", func() (*ledger.Receipt, error) {
		return c.ledger.Transfer(caller, asset, to, amount)
	})
}

func (c *localClient) GetEscrow(ctx context.Context, escrowID common.Hash) (*ledger.Escrow, error) {
	return call(ctx, c, "getEscrow", func() (*ledger.Escrow, error) {
		return c.ledger.GetEscrow(escrowID)
	})
}

func (c *localClient) Claim(ctx context.Context, caller common.Address, escrowID common.Hash, secret [32]byte) (*ledger.Receipt, error) {
	return call(ctx, c, "claim", func() (*ledger.Receipt, error) {
		return c.ledger.Claim(caller, escrowID, secret)
	})
}

func (c *localClient) Refund(ctx context.Context, caller common.Address, escrowID common.Hash) (*ledger.Receipt, error) {
	return call(ctx, c, "refund", func() (*ledger.Receipt, error) {
		return c.ledger.Refund(caller, escrowID)
	})
}

type escrowResult struct {
	id      common.Hash
	receipt *ledger.Receipt
}

func (c *localClient) CreateEscrow(ctx context.Context, req *CreateEscrowRequest) (common.Hash, *ledger.Receipt, error) {
	res, err := call(ctx, c, "createEscrow", func() (escrowResult, error) {
		id, receipt, err := c.ledger.CreateEscrow(req.Caller, req.Asset, req.Recipient, req.Amount, req.DestChainID, req.SecretHash, req.Timelock)
		return escrowResult{id, receipt}, err
	})
	return res.id, res.receipt, err
}

func (c *localClient) InitiateCrossChainTransfer(ctx context.Context, req *InitiateTransferRequest) (common.Hash, *ledger.Receipt, error) {
	res, err := call(ctx, c, "initiateCrossChainTransfer", func() (escrowResult, error) {
		id, receipt, err := c.ledger.InitiateCrossChainTransfer(
			req.Caller, req.SourceEscrowID, req.DestEscrowID, req.SourceChainID, req.DestChainID, req.Recipient,
		)
		return escrowResult{id, receipt}, err
	})
	return res.id, res.receipt, err
}

func (c *localClient) CompleteCrossChainTransfer(ctx context.Context, caller common.Address, transferID, destEscrowID common.Hash) (*ledger.Receipt, error) {
	return call(ctx, c, "completeCrossChainTransfer", func() (*ledger.Receipt, error) {
		return c.ledger.CompleteCrossChainTransfer(caller, transferID, destEscrowID)
	})
}

func (c *localClient) RelayClaim(ctx context.Context, caller common.Address, escrowID common.Hash, secret [32]byte) (*ledger.Receipt, error) {
	return call(ctx, c, "relayClaim", func() (*ledger.Receipt, error) {
		return c.ledger.RelayClaim(caller, escrowID, secret)
	})
}

func (c *localClient) GetTransfer(ctx context.Context, transferID common.Hash) (*ledger.CrossChainTransfer, error) {
	return call(ctx, c, "getTransfer", func() (*ledger.CrossChainTransfer, error) {
		return c.ledger.GetTransfer(transferID)
	})
}

func (c *localClient) IsSupportedChain(ctx context.Context, chainID uint64) (bool, error) {
	return call(ctx, c, "isSupportedChain", func() (bool, error) {
		return c.ledger.IsSupportedChain(chainID), nil
	})
}

func (c *localClient) IsAuthorizedResolver(ctx context.Context, resolver common.Address) (bool, error) {
	return call(ctx, c, "isAuthorizedResolver", func() (bool, error) {
		return c.ledger.IsAuthorizedResolver(resolver), nil
	})
}
