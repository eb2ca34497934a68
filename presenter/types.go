package presenter

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/omni/htlc-bridge/entity"
	"github.com/omni/htlc-bridge/ledger"
)

type InitiateTransferRequest struct {
	SourceChain  uint64 `json:"sourceChain"`
	DestChain    uint64 `json:"destChain"`
	TokenAddress string `json:"tokenAddress"`
	Amount       string `json:"amount"`
	Initiator    string `json:"initiator"`
	Recipient    string `json:"recipient"`
	// Timeout in seconds, the configured default applies when omitted.
	Timeout   *int64        `json:"timeout,omitempty"`
	Nonce     uint64        `json:"nonce"`
	Signature hexutil.Bytes `json:"signature"`
}

type InitiateTransferResponse struct {
	TransferID          common.Hash          `json:"transferId"`
	State               ledger.TransferState `json:"state"`
	SourceEscrowAddress common.Address       `json:"sourceEscrowAddress"`
	DestEscrowAddress   common.Address       `json:"destEscrowAddress"`
	SourceEscrowID      common.Hash          `json:"sourceEscrowId"`
	DestEscrowID        *common.Hash         `json:"destEscrowId"`
	SecretHash          common.Hash          `json:"secretHash"`
	Amount              *entity.BigInt       `json:"amount"`
	DestAmount          *entity.BigInt       `json:"destAmount"`
	ExpiresAt           time.Time            `json:"expiresAt"`
	AuctionEndsAt       *time.Time           `json:"auctionEndsAt,omitempty"`
}

type BidRequest struct {
	ResolverAddress string  `json:"resolverAddress"`
	BidPrice        string  `json:"bidPrice"`
	ExecutionTime   int64   `json:"executionTime"`
	GasEstimate     int64   `json:"gasEstimate"`
	ReputationScore float64 `json:"reputationScore"`
	StakeAmount     string  `json:"stakeAmount"`
}

type BidResponse struct {
	BidID           uuid.UUID        `json:"bidId"`
	SelectionStatus entity.BidStatus `json:"selectionStatus"`
	Score           float64          `json:"score"`
	Competitive     bool             `json:"competitive"`
	Leading         bool             `json:"leading"`
	AuctionProgress float64          `json:"auctionProgress"`
	TimeRemaining   int64            `json:"timeRemaining"`
	CompetingBids   int              `json:"competingBids"`
}

type ExecuteRequest struct {
	Secret          common.Hash   `json:"secret"`
	ResolverAddress string        `json:"resolverAddress"`
	Signature       hexutil.Bytes `json:"signature,omitempty"`
}

type ExecuteResponse struct {
	ExecutionID  uuid.UUID              `json:"executionId"`
	Status       entity.ExecutionStatus `json:"status"`
	SourceTxHash *common.Hash           `json:"sourceTxHash"`
	DestTxHash   *common.Hash           `json:"destTxHash"`
	GasUsed      uint64                 `json:"gasUsed"`
	BridgeFee    *entity.BigInt         `json:"bridgeFee"`
	Error        *string                `json:"error,omitempty"`
}

type SecretRequest struct {
	ResolverAddress string        `json:"resolverAddress"`
	Signature       hexutil.Bytes `json:"signature"`
}

type SecretResponse struct {
	TransferID common.Hash `json:"transferId"`
	Secret     common.Hash `json:"secret"`
}

type RefundResponse struct {
	TransferID   common.Hash  `json:"transferId"`
	SourceTxHash *common.Hash `json:"sourceTxHash"`
	DestTxHash   *common.Hash `json:"destTxHash"`
}

type ResolverStats struct {
	Address      common.Address `json:"address"`
	Reputation   float64        `json:"reputation"`
	Executions   uint64         `json:"executions"`
	Failures     uint64         `json:"failures"`
	SuccessRate  float64        `json:"successRate"`
	TotalFees    *entity.BigInt `json:"totalFees"`
	TotalBids    int            `json:"totalBids"`
	WonAuctions  int            `json:"wonAuctions"`
	AverageScore float64        `json:"averageScore"`
}

type ChainInfo struct {
	ChainID            uint64         `json:"chainId"`
	Name               string         `json:"name"`
	RegistryAddress    common.Address `json:"registryAddress"`
	EscrowAddress      common.Address `json:"escrowAddress"`
	HeadBlock          uint64         `json:"headBlock"`
	LastProcessedBlock *uint64        `json:"lastProcessedBlock"`
}

type ReprocessRequest struct {
	FromBlock uint64 `json:"fromBlock"`
	ToBlock   uint64 `json:"toBlock"`
}

type ReprocessResponse struct {
	ChainID   uint64 `json:"chainId"`
	FromBlock uint64 `json:"fromBlock"`
	ToBlock   uint64 `json:"toBlock"`
}
