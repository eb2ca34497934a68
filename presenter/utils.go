package presenter

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/htlc-bridge/auction"
	"github.com/omni/htlc-bridge/coordinator"
	"github.com/omni/htlc-bridge/entity"
	"github.com/omni/htlc-bridge/presenter/http/render"
)

const maxRequestBodySize = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("can't decode request body: %v: %w", err, render.ErrBadRequest)
	}
	return nil
}

func initiateTransferResponse(res *coordinator.Result) *InitiateTransferResponse {
	return &InitiateTransferResponse{
		TransferID:          res.TransferID,
		State:               res.State,
		SourceEscrowAddress: res.SourceEscrowAddress,
		DestEscrowAddress:   res.DestEscrowAddress,
		SourceEscrowID:      res.SourceEscrowID,
		DestEscrowID:        res.DestEscrowID,
		SecretHash:          res.SecretHash,
		Amount:              entity.NewBigInt(res.Amount),
		DestAmount:          entity.NewBigInt(res.DestAmount),
		ExpiresAt:           res.ExpiresAt,
		AuctionEndsAt:       res.AuctionEndsAt,
	}
}

func bidResponse(res *auction.BidResult) *BidResponse {
	return &BidResponse{
		BidID:           res.Bid.ID,
		SelectionStatus: res.Bid.Status,
		Score:           res.Bid.Score,
		Competitive:     res.Bid.Competitive,
		Leading:         res.Leading,
		AuctionProgress: res.Progress.Percent,
		TimeRemaining:   int64(res.Progress.Remaining.Seconds()),
		CompetingBids:   res.CompetingBids,
	}
}

func executeResponse(exec *entity.Execution) *ExecuteResponse {
	return &ExecuteResponse{
		ExecutionID:  exec.ID,
		Status:       exec.Status,
		SourceTxHash: exec.SourceTxHash,
		DestTxHash:   exec.DestTxHash,
		GasUsed:      exec.GasUsed,
		BridgeFee:    exec.BridgeFee,
		Error:        exec.Error,
	}
}

// resolverStats merges the tracked record with the bid history, resolver may be nil for a
// resolver that has only bid so far.
func resolverStats(address common.Address, resolver *entity.Resolver, bids []*entity.Bid) *ResolverStats {
	stats := &ResolverStats{
		Address:   address,
		TotalBids: len(bids),
		TotalFees: entity.NewBigInt(nil),
	}
	var scores float64
	for _, bid := range bids {
		scores += bid.Score
		if bid.Status == entity.BidStatusSelected {
			stats.WonAuctions++
		}
	}
	if len(bids) > 0 {
		stats.AverageScore = scores / float64(len(bids))
		stats.Reputation = bids[len(bids)-1].ReputationScore
	}
	if resolver != nil {
		stats.Reputation = resolver.Reputation
		stats.Executions = resolver.Executions
		stats.Failures = resolver.Failures
		if resolver.TotalFees != nil {
			stats.TotalFees = resolver.TotalFees
		}
	}
	if total := stats.Executions + stats.Failures; total > 0 {
		stats.SuccessRate = float64(stats.Executions) / float64(total)
	}
	return stats
}
