package memory

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omni/htlc-bridge/db"
	"github.com/omni/htlc-bridge/entity"
)

type resolversRepo Store

func cloneResolver(r *entity.Resolver) *entity.Resolver {
	res := *r
	res.TotalFees = r.TotalFees.Clone()
	return &res
}

func (r *resolversRepo) GetByAddress(_ context.Context, address common.Address) (*entity.Resolver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resolver, ok := r.resolvers[address]
	if !ok {
		return nil, fmt.Errorf("can't get resolver by address: %w", db.ErrNotFound)
	}
	return cloneResolver(resolver), nil
}

func (r *resolversRepo) ApplyOutcome(_ context.Context, outcome *entity.ResolverOutcome) (*entity.Resolver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	resolver, ok := r.resolvers[outcome.Address]
	if !ok {
		resolver = &entity.Resolver{
			Address:    outcome.Address,
			Reputation: outcome.InitialReputation,
			TotalFees:  entity.NewBigInt(nil),
		}
		r.resolvers[outcome.Address] = resolver
	}
	resolver.Reputation = entity.ClampReputation(resolver.Reputation + outcome.Delta)
	if outcome.Succeeded {
		resolver.Executions++
	} else {
		resolver.Failures++
	}
	if outcome.Fee != nil {
		resolver.TotalFees.Add(&resolver.TotalFees.Int, &outcome.Fee.Int)
	}
	touch(&resolver.CreatedAt, &resolver.UpdatedAt, resolver.CreatedAt)
	return cloneResolver(resolver), nil
}
