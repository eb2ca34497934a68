package auction

import (
	"math/big"

	"github.com/omni/htlc-bridge/entity"
)

const (
	priceWeight      = 0.4
	reputationWeight = 0.4
	executionWeight  = 0.2

	MinExecutionTime = 1
	MaxExecutionTime = 300
)

// PriceScore is 1 - price/maxFee, bounded to [0, 1].
func PriceScore(price, maxFee *big.Int) float64 {
	if maxFee.Sign() <= 0 {
		if price.Sign() <= 0 {
			return 1
		}
		return 0
	}
	ratio, _ := new(big.Float).Quo(new(big.Float).SetInt(price), new(big.Float).SetInt(maxFee)).Float64()
	return clamp(1 - ratio)
}

func ExecutionScore(executionTime int64) float64 {
	return clamp(1 - float64(executionTime)/MaxExecutionTime)
}

func Score(priceScore, reputation, executionScore float64) float64 {
	return priceWeight*priceScore + reputationWeight*reputation + executionWeight*executionScore
}

// MaxFee caps what a resolver may charge for a transfer of amount.
func MaxFee(amount *big.Int, maxFeeBps uint64) *big.Int {
	return entity.BridgeFee(amount, maxFeeBps)
}

// isCompetitive compares score against the mean of the other pending bids. The threshold moves as
// bids arrive and earlier flags are not re-evaluated.
func isCompetitive(score float64, others []*entity.Bid) bool {
	sum, n := 0.0, 0
	for _, bid := range others {
		if bid.Status == entity.BidStatusPending {
			sum += bid.Score
			n++
		}
	}
	if n == 0 {
		return true
	}
	return score > sum/float64(n)
}

// isLeading reports whether score would win the auction if it closed now.
func isLeading(score float64, others []*entity.Bid) bool {
	for _, bid := range others {
		if bid.Status == entity.BidStatusPending && bid.Score >= score {
			return false
		}
	}
	return true
}

// selectWinner picks the highest scoring pending bid; bids must be ordered by submission so the
// earliest one wins a tie.
func selectWinner(bids []*entity.Bid) *entity.Bid {
	var winner *entity.Bid
	for _, bid := range bids {
		if bid.Status != entity.BidStatusPending {
			continue
		}
		if winner == nil || bid.Score > winner.Score {
			winner = bid
		}
	}
	return winner
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
