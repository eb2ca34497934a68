package coordinator

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"github.com/omni/htlc-bridge/chainclient"
	"github.com/omni/htlc-bridge/config"
	"github.com/omni/htlc-bridge/entity"
	"github.com/omni/htlc-bridge/ledger"
	"github.com/omni/htlc-bridge/logging"
	"github.com/omni/htlc-bridge/repository"
	"github.com/omni/htlc-bridge/utils"
)

var (
	ErrInvalidSignature = fmt.Errorf("signature does not belong to caller: %w", entity.ErrUnauthorized)
	ErrNonceUsed        = fmt.Errorf("nonce was already used by initiator: %w", entity.ErrInvalidState)
)

// AuctionOpener starts the resolver auction of a freshly registered transfer.
type AuctionOpener interface {
	Open(ctx context.Context, transfer *entity.Transfer) (*entity.Auction, error)
}

type Coordinator struct {
	logger   logging.Logger
	cfg      *config.Config
	clients  chainclient.Clients
	repo     *repository.Repo
	auctions AuctionOpener
	random   io.Reader

	// operator allowance top-ups and escrow creation must not interleave on one chain
	chainLocks utils.KeyedMutex[uint64]

	noncesMu sync.Mutex
	nonces   map[initiatorNonce]struct{}
}

type initiatorNonce struct {
	initiator common.Address
	nonce     uint64
}

func New(logger logging.Logger, cfg *config.Config, clients chainclient.Clients, repo *repository.Repo, auctions AuctionOpener) *Coordinator {
	return &Coordinator{
		logger:   logger,
		cfg:      cfg,
		clients:  clients,
		repo:     repo,
		auctions: auctions,
		random:   rand.Reader,
		nonces:   make(map[initiatorNonce]struct{}),
	}
}

// WithRandom replaces the secret source, used by tests to produce known secrets.
func (c *Coordinator) WithRandom(r io.Reader) *Coordinator {
	c.random = r
	return c
}

type Request struct {
	SourceChainID uint64
	DestChainID   uint64
	// Token is the source chain token address or its symbol.
	Token     string
	Amount    string
	Initiator string
	Recipient string
	// Timeout defaults to the configured default timeout when zero.
	Timeout time.Duration
	// Nonce makes every signed request single-use per initiator.
	Nonce uint64
	// Signature is the initiator's EIP-191 signature of SignedMessage(req).
	Signature []byte
}

// SignedMessage is what an initiator signs to let the coordinator lock its funds.
func SignedMessage(req *Request) []byte {
	return []byte(fmt.Sprintf("initiate:%d:%d:%s:%s:%s:%d:%d",
		req.SourceChainID,
		req.DestChainID,
		req.Token,
		req.Amount,
		common.HexToAddress(req.Recipient).Hex(),
		int64(req.Timeout/time.Second),
		req.Nonce,
	))
}

type Result struct {
	TransferID          common.Hash
	State               ledger.TransferState
	SourceEscrowID      common.Hash
	DestEscrowID        *common.Hash
	SourceEscrowAddress common.Address
	DestEscrowAddress   common.Address
	SecretHash          common.Hash
	Amount              *big.Int
	DestAmount          *big.Int
	ExpiresAt           time.Time
	AuctionEndsAt       *time.Time
}

type plan struct {
	src, dst           *config.ChainConfig
	srcClient          chainclient.Client
	dstClient          chainclient.Client
	srcToken, dstToken *config.TokenConfig
	amount, destAmount *big.Int
	initiator          common.Address
	recipient          common.Address
	timeout            time.Duration
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), entity.ErrValidation)
}

func parseAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, invalid("%s %q is not a valid address", name, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, invalid("%s is the zero address", name)
	}
	return addr, nil
}

func (c *Coordinator) validate(ctx context.Context, req *Request) (*plan, error) {
	p := new(plan)
	var ok bool
	if p.src, ok = c.cfg.ChainByID(req.SourceChainID); !ok {
		return nil, invalid("source chain %d is not supported", req.SourceChainID)
	}
	if p.dst, ok = c.cfg.ChainByID(req.DestChainID); !ok {
		return nil, invalid("destination chain %d is not supported", req.DestChainID)
	}
	if req.SourceChainID == req.DestChainID {
		return nil, invalid("source and destination chain must differ")
	}
	var err error
	if p.srcClient, err = c.clients.Get(req.SourceChainID); err != nil {
		return nil, invalid("%v", err)
	}
	if p.dstClient, err = c.clients.Get(req.DestChainID); err != nil {
		return nil, invalid("%v", err)
	}
	if p.initiator, err = parseAddress("initiator", req.Initiator); err != nil {
		return nil, err
	}
	if p.recipient, err = parseAddress("recipient", req.Recipient); err != nil {
		return nil, err
	}

	if common.IsHexAddress(req.Token) {
		p.srcToken, ok = p.src.TokenByAddress(common.HexToAddress(req.Token))
	} else {
		p.srcToken, ok = p.src.TokenBySymbol(req.Token)
	}
	if !ok {
		return nil, invalid("token %q is not known on chain %s", req.Token, p.src.Name)
	}
	if p.dstToken, ok = p.dst.TokenBySymbol(p.srcToken.Symbol); !ok {
		return nil, invalid("token %s has no counterpart on chain %s", p.srcToken.Symbol, p.dst.Name)
	}

	if p.amount, err = p.srcToken.ParseAmount(req.Amount); err != nil {
		return nil, invalid("%v", err)
	}
	if p.amount.Sign() <= 0 {
		return nil, invalid("amount must be positive")
	}
	fee := entity.BridgeFee(p.amount, c.cfg.Execution.FeeBps)
	p.destAmount = config.ConvertAmount(new(big.Int).Sub(p.amount, fee), p.srcToken, p.dstToken)
	if p.destAmount.Sign() <= 0 {
		return nil, invalid("amount %s is too small to cover the bridge fee", req.Amount)
	}

	p.timeout = req.Timeout
	if p.timeout == 0 {
		p.timeout = c.cfg.Coordinator.DefaultTimeout
	}
	if p.timeout < ledger.MinTimelock || p.timeout > ledger.MaxTimelock {
		return nil, invalid("timeout %s is outside [%s, %s]", p.timeout, ledger.MinTimelock, ledger.MaxTimelock)
	}

	supported, err := p.srcClient.IsSupportedChain(ctx, req.DestChainID)
	if err != nil {
		return nil, fmt.Errorf("can't check destination chain support: %w", err)
	}
	if !supported {
		return nil, invalid("chain %d is not registered on chain %d", req.DestChainID, req.SourceChainID)
	}

	signer, err := utils.RecoverSigner(SignedMessage(req), req.Signature)
	if err != nil || signer != p.initiator {
		c.logger.WithFields(logrus.Fields{
			"initiator": p.initiator,
			"nonce":     req.Nonce,
		}).Warn("initiate request with invalid signature")
		return nil, ErrInvalidSignature
	}
	return p, nil
}

// reserveNonce marks the nonce of initiator as spent. It is released again only when nothing was locked.
func (c *Coordinator) reserveNonce(initiator common.Address, nonce uint64) error {
	c.noncesMu.Lock()
	defer c.noncesMu.Unlock()

	key := initiatorNonce{initiator: initiator, nonce: nonce}
	if _, ok := c.nonces[key]; ok {
		return ErrNonceUsed
	}
	c.nonces[key] = struct{}{}
	return nil
}

func (c *Coordinator) releaseNonce(initiator common.Address, nonce uint64) {
	c.noncesMu.Lock()
	defer c.noncesMu.Unlock()

	delete(c.nonces, initiatorNonce{initiator: initiator, nonce: nonce})
}

func (c *Coordinator) newSecret() ([32]byte, error) {
	var secret [32]byte
	if _, err := io.ReadFull(c.random, secret[:]); err != nil {
		return secret, fmt.Errorf("can't generate secret: %w", err)
	}
	return secret, nil
}

// InitiateTransfer creates both escrows under one fresh secret hash and registers the transfer on
// the source registry. The request must be signed by the initiator whose funds are locked. When the destination leg can't be set up, the record is kept as
// SourceLocked, the returned error wraps entity.ErrPartialExecution and the result still
// describes the source leg, which stays refundable by the initiator after expiry.
func (c *Coordinator) InitiateTransfer(ctx context.Context, req *Request) (*Result, error) {
	p, err := c.validate(ctx, req)
	if err != nil {
		return nil, err
	}
	if err = c.reserveNonce(p.initiator, req.Nonce); err != nil {
		return nil, err
	}
	secret, err := c.newSecret()
	if err != nil {
		c.releaseNonce(p.initiator, req.Nonce)
		return nil, err
	}
	secretHash := ledger.HashSecret(secret)
	logger := c.logger.WithFields(logrus.Fields{
		"source_chain_id": p.src.ChainID,
		"dest_chain_id":   p.dst.ChainID,
		"initiator":       p.initiator,
		"recipient":       p.recipient,
		"secret_hash":     secretHash,
	})

	sourceEscrowID, sourceReceipt, err := p.srcClient.CreateEscrow(ctx, &chainclient.CreateEscrowRequest{
		Caller:      p.initiator,
		Asset:       p.srcToken.Address,
		Recipient:   p.src.Owner,
		Amount:      p.amount,
		DestChainID: p.dst.ChainID,
		SecretHash:  secretHash,
		Timelock:    p.timeout,
	})
	if err != nil {
		c.releaseNonce(p.initiator, req.Nonce)
		logger.WithError(err).Warn("source escrow rejected")
		return nil, fmt.Errorf("can't create source escrow: %w", err)
	}
	logger = logger.WithField("source_escrow_id", sourceEscrowID)
	sourceEscrow, err := p.srcClient.GetEscrow(ctx, sourceEscrowID)
	if err != nil {
		return nil, fmt.Errorf("can't read source escrow: %w", err)
	}
	logger.WithField("tx_hash", sourceReceipt.TxHash).Info("created source escrow")

	transfer := &entity.Transfer{
		SourceChainID:   p.src.ChainID,
		DestChainID:     p.dst.ChainID,
		SourceEscrowID:  sourceEscrowID,
		SourceAsset:     p.srcToken.Address,
		DestAsset:       p.dstToken.Address,
		Initiator:       p.initiator,
		Recipient:       p.recipient,
		Amount:          entity.NewBigInt(p.amount),
		DestAmount:      entity.NewBigInt(p.destAmount),
		SecretHash:      secretHash,
		Secret:          (*common.Hash)(&secret),
		TimelockSeconds: uint64(p.timeout / time.Second),
		InitTimestamp:   sourceEscrow.InitTimestamp,
	}

	destEscrowID, setupErr := c.createDestEscrow(ctx, p, secretHash)
	if setupErr == nil {
		transfer.DestEscrowID = &destEscrowID
		transfer.ID, setupErr = c.registerTransfer(ctx, p, sourceEscrowID, destEscrowID)
	}
	if setupErr != nil {
		if transfer.DestEscrowID == nil {
			transfer.ID = ledger.ComputeTransferID(sourceEscrowID, common.Hash{}, p.src.ChainID, p.dst.ChainID)
		} else {
			transfer.ID = ledger.ComputeTransferID(sourceEscrowID, destEscrowID, p.src.ChainID, p.dst.ChainID)
		}
		transfer.State = ledger.TransferStateSourceLocked
		logger.WithError(setupErr).WithField("transfer_id", transfer.ID).
			Error("destination leg failed, source escrow is left for refund after expiry")
		if err = c.repo.Transfers.Ensure(ctx, transfer); err != nil {
			return nil, fmt.Errorf("can't save partially created transfer: %w", err)
		}
		return c.result(p, transfer, nil), fmt.Errorf("destination leg of transfer %s failed: %v: %w",
			transfer.ID, setupErr, entity.ErrPartialExecution)
	}

	transfer.State = ledger.TransferStateInitiated
	if err = c.repo.Transfers.Ensure(ctx, transfer); err != nil {
		return nil, fmt.Errorf("can't save transfer: %w", err)
	}
	auction, err := c.auctions.Open(ctx, transfer)
	if err != nil {
		return nil, fmt.Errorf("can't open auction: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"transfer_id":    transfer.ID,
		"dest_escrow_id": destEscrowID,
		"auction_ends":   auction.EndsAt,
	}).Info("initiated cross-chain transfer")
	return c.result(p, transfer, auction), nil
}

// createDestEscrow locks operator liquidity for the recipient on the destination chain.
func (c *Coordinator) createDestEscrow(ctx context.Context, p *plan, secretHash common.Hash) (common.Hash, error) {
	unlock := c.chainLocks.Lock(p.dst.ChainID)
	defer unlock()

	operator, escrowAddress := p.dst.Owner, p.dstClient.EscrowAddress()
	allowance, err := p.dstClient.Allowance(ctx, p.dstToken.Address, operator, escrowAddress)
	if err != nil {
		return common.Hash{}, fmt.Errorf("can't read operator allowance: %w", err)
	}
	if allowance.Cmp(p.destAmount) < 0 {
		if _, err = p.dstClient.Approve(ctx, operator, p.dstToken.Address, escrowAddress, p.destAmount); err != nil {
			return common.Hash{}, fmt.Errorf("can't approve operator liquidity: %w", err)
		}
	}
	id, _, err := p.dstClient.CreateEscrow(ctx, &chainclient.CreateEscrowRequest{
		Caller:      operator,
		Asset:       p.dstToken.Address,
		Recipient:   p.recipient,
		Amount:      p.destAmount,
		DestChainID: p.src.ChainID,
		SecretHash:  secretHash,
		Timelock:    p.timeout,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("can't create destination escrow: %w", err)
	}
	return id, nil
}

func (c *Coordinator) registerTransfer(ctx context.Context, p *plan, sourceEscrowID, destEscrowID common.Hash) (common.Hash, error) {
	id, _, err := p.srcClient.InitiateCrossChainTransfer(ctx, &chainclient.InitiateTransferRequest{
		Caller:         p.src.Owner,
		SourceEscrowID: sourceEscrowID,
		DestEscrowID:   destEscrowID,
		SourceChainID:  p.src.ChainID,
		DestChainID:    p.dst.ChainID,
		Recipient:      p.recipient,
	})
	if errors.Is(err, ledger.ErrTransferExists) {
		return ledger.ComputeTransferID(sourceEscrowID, destEscrowID, p.src.ChainID, p.dst.ChainID), nil
	}
	if err != nil {
		return common.Hash{}, fmt.Errorf("can't register transfer: %w", err)
	}
	return id, nil
}

func (c *Coordinator) result(p *plan, transfer *entity.Transfer, auction *entity.Auction) *Result {
	res := &Result{
		TransferID:          transfer.ID,
		State:               transfer.State,
		SourceEscrowID:      transfer.SourceEscrowID,
		DestEscrowID:        transfer.DestEscrowID,
		SourceEscrowAddress: p.srcClient.EscrowAddress(),
		DestEscrowAddress:   p.dstClient.EscrowAddress(),
		SecretHash:          transfer.SecretHash,
		Amount:              transfer.Amount.Big(),
		DestAmount:          transfer.DestAmount.Big(),
		ExpiresAt:           transfer.ExpiresAt(),
	}
	if auction != nil {
		res.AuctionEndsAt = &auction.EndsAt
	}
	return res
}

// RevealMessage is what the auction winner signs to receive the secret.
func RevealMessage(transferID common.Hash) []byte {
	return []byte("reveal:" + transferID.Hex())
}

// RevealSecret hands the transfer secret to the auction winner, authenticated by its signature of
// RevealMessage. Once the secret is public on the destination chain the winner may ask again.
func (c *Coordinator) RevealSecret(ctx context.Context, transferID common.Hash, caller common.Address, signature []byte) (common.Hash, error) {
	signer, err := utils.RecoverSigner(RevealMessage(transferID), signature)
	if err != nil || signer != caller {
		c.logger.WithFields(logrus.Fields{
			"transfer_id": transferID,
			"caller":      caller,
		}).Warn("secret request with invalid signature")
		return common.Hash{}, ErrInvalidSignature
	}

	transfer, err := c.repo.Transfers.GetByID(ctx, transferID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("can't get transfer: %w", err)
	}
	if transfer.Secret == nil {
		return common.Hash{}, fmt.Errorf("secret of transfer %s is not held by the coordinator: %w", transferID, entity.ErrNotFound)
	}
	if transfer.SecretRevealed {
		return *transfer.Secret, nil
	}
	if transfer.Winner == nil {
		return common.Hash{}, fmt.Errorf("auction of transfer %s has no winner yet: %w", transferID, entity.ErrInvalidState)
	}
	if *transfer.Winner != caller {
		c.logger.WithFields(logrus.Fields{
			"transfer_id": transferID,
			"caller":      caller,
		}).Warn("secret requested by a resolver that did not win the auction")
		return common.Hash{}, fmt.Errorf("caller is not the auction winner: %w", entity.ErrUnauthorized)
	}
	if transfer.State != ledger.TransferStateInitiated && transfer.State != ledger.TransferStateDestLocked {
		return common.Hash{}, fmt.Errorf("transfer is %s: %w", transfer.State, entity.ErrInvalidState)
	}
	return *transfer.Secret, nil
}

type RefundResult struct {
	TransferID   common.Hash
	SourceTxHash *common.Hash
	DestTxHash   *common.Hash
}

// Refund returns both unclaimed legs of an expired transfer to the parties that locked them.
// Each leg is refunded by the program only after its own timelock; an early request fails with
// ledger.ErrTimelockNotExpired. The record turns Refunded only once no leg is left locked, so a
// destination leg that expires later is refunded by a later call. When only the source leg went
// through, the result is returned along with the error.
func (c *Coordinator) Refund(ctx context.Context, transferID common.Hash) (*RefundResult, error) {
	transfer, err := c.repo.Transfers.GetByID(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("can't get transfer: %w", err)
	}
	if !transfer.State.CanTransition(ledger.TransferStateRefunded) {
		return nil, fmt.Errorf("transfer is %s and can't be refunded: %w", transfer.State, entity.ErrInvalidState)
	}
	src, err := c.clients.Get(transfer.SourceChainID)
	if err != nil {
		return nil, err
	}
	dst, err := c.clients.Get(transfer.DestChainID)
	if err != nil {
		return nil, err
	}
	logger := c.logger.WithField("transfer_id", transferID)

	sourceEscrow, err := src.GetEscrow(ctx, transfer.SourceEscrowID)
	if err != nil {
		return nil, fmt.Errorf("can't get source escrow: %w", err)
	}
	if sourceEscrow.State == ledger.EscrowStateClaimed {
		return nil, fmt.Errorf("source escrow is already claimed: %w", entity.ErrInvalidState)
	}
	var destEscrow *ledger.Escrow
	if transfer.DestEscrowID != nil {
		if destEscrow, err = dst.GetEscrow(ctx, *transfer.DestEscrowID); err != nil {
			return nil, fmt.Errorf("can't get destination escrow: %w", err)
		}
		// the secret is public, the source leg belongs to the operator now
		if destEscrow.State == ledger.EscrowStateClaimed {
			return nil, fmt.Errorf("destination escrow is already claimed: %w", entity.ErrInvalidState)
		}
	}

	res := &RefundResult{TransferID: transferID}
	if sourceEscrow.State == ledger.EscrowStateInitiated {
		receipt, err := src.Refund(ctx, transfer.Initiator, transfer.SourceEscrowID)
		if err != nil {
			return nil, fmt.Errorf("can't refund source escrow: %w", err)
		}
		res.SourceTxHash = &receipt.TxHash
		logger.WithField("tx_hash", receipt.TxHash).Info("refunded source escrow")
	}
	if destEscrow != nil && destEscrow.State == ledger.EscrowStateInitiated {
		receipt, err := dst.Refund(ctx, destEscrow.Initiator, destEscrow.ID)
		if err != nil {
			logger.WithError(err).Warn("destination escrow is still locked, transfer stays open for refund")
			return res, fmt.Errorf("can't refund destination escrow: %w", err)
		}
		res.DestTxHash = &receipt.TxHash
		logger.WithField("tx_hash", receipt.TxHash).Info("refunded destination escrow")
	}

	transfer.State = ledger.TransferStateRefunded
	if err = c.repo.Transfers.Ensure(ctx, transfer); err != nil {
		return nil, fmt.Errorf("can't save refunded transfer: %w", err)
	}
	return res, nil
}

// ParseTransferID accepts a 0x-prefixed 32-byte hex string.
func ParseTransferID(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, invalid("transfer id %q is not a 32-byte hex string", s)
	}
	return common.BytesToHash(b), nil
}
