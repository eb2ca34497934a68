package jobs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omni/htlc-bridge/auction"
	"github.com/omni/htlc-bridge/chainclient"
	"github.com/omni/htlc-bridge/entity"
	"github.com/omni/htlc-bridge/ledger"
	"github.com/omni/htlc-bridge/logging"
	"github.com/omni/htlc-bridge/repository"
)

type ExpiredTransfer struct {
	SourceChainID string `json:"source_chain_id"`
	DestChainID   string `json:"dest_chain_id"`
	TransferID    string `json:"transfer_id"`
	State         string `json:"state"`
	Overdue       string `json:"_value"`
}

type StalledSetup struct {
	SourceChainID string `json:"source_chain_id"`
	DestChainID   string `json:"dest_chain_id"`
	TransferID    string `json:"transfer_id"`
	RefundableIn  string `json:"_value"`
}

type PendingSettlement struct {
	SourceChainID string `json:"source_chain_id"`
	TransferID    string `json:"transfer_id"`
	Winner        string `json:"winner"`
	TimeLeft      string `json:"_value"`
}

// Provider finds transfers needing attention in the off-chain records, using each source
// chain's clock to judge expiry.
type Provider struct {
	logger       logging.Logger
	clients      chainclient.Clients
	repo         *repository.Repo
	auctions     *auction.Engine
	setupTimeout time.Duration
}

func NewProvider(logger logging.Logger, clients chainclient.Clients, repo *repository.Repo, auctions *auction.Engine, setupTimeout time.Duration) *Provider {
	return &Provider{
		logger:       logger,
		clients:      clients,
		repo:         repo,
		auctions:     auctions,
		setupTimeout: setupTimeout,
	}
}

func (p *Provider) CloseAuctions(ctx context.Context) (interface{}, error) {
	closed, err := p.auctions.CloseExpired(ctx)
	if closed > 0 {
		p.logger.WithField("count", closed).Info("closed elapsed auctions")
	}
	return closed, err
}

// FindExpiredTransfers flags unresolved transfers past their timelock. Both legs can be
// refunded from that point on.
func (p *Provider) FindExpiredTransfers(ctx context.Context) (interface{}, error) {
	transfers, err := p.repo.Transfers.FindByStates(ctx,
		ledger.TransferStateInitiated, ledger.TransferStateSourceLocked, ledger.TransferStateDestLocked)
	if err != nil {
		return nil, fmt.Errorf("can't find unresolved transfers: %w", err)
	}
	res := make([]*ExpiredTransfer, 0, len(transfers))
	for _, t := range transfers {
		client, err := p.clients.Get(t.SourceChainID)
		if err != nil {
			return nil, err
		}
		now, err := client.Now(ctx)
		if err != nil {
			return nil, fmt.Errorf("can't get time of chain %d: %w", t.SourceChainID, err)
		}
		if now.Before(t.ExpiresAt()) {
			continue
		}
		if !t.Expired {
			if err = p.repo.Transfers.MarkExpired(ctx, t.ID); err != nil {
				return nil, fmt.Errorf("can't mark transfer as expired: %w", err)
			}
			p.logger.WithFields(logrus.Fields{
				"transfer_id": t.ID,
				"state":       t.State,
				"expires_at":  t.ExpiresAt(),
			}).Warn("transfer timelock passed without completion")
		}
		res = append(res, &ExpiredTransfer{
			SourceChainID: strconv.FormatUint(t.SourceChainID, 10),
			DestChainID:   strconv.FormatUint(t.DestChainID, 10),
			TransferID:    t.ID.String(),
			State:         t.State.String(),
			Overdue:       strconv.FormatFloat(now.Sub(t.ExpiresAt()).Seconds(), 'f', 0, 64),
		})
	}
	return res, nil
}

// FindStalledSetups lists transfers still missing their destination leg once the setup timeout
// has passed. The source leg stays locked until the timelock, after that the transfer is
// reported by FindExpiredTransfers instead.
func (p *Provider) FindStalledSetups(ctx context.Context) (interface{}, error) {
	transfers, err := p.repo.Transfers.FindByStates(ctx, ledger.TransferStateSourceLocked)
	if err != nil {
		return nil, fmt.Errorf("can't find source locked transfers: %w", err)
	}
	res := make([]*StalledSetup, 0, len(transfers))
	for _, t := range transfers {
		client, err := p.clients.Get(t.SourceChainID)
		if err != nil {
			return nil, err
		}
		now, err := client.Now(ctx)
		if err != nil {
			return nil, fmt.Errorf("can't get time of chain %d: %w", t.SourceChainID, err)
		}
		if now.Before(t.InitTimestamp.Add(p.setupTimeout)) || !now.Before(t.ExpiresAt()) {
			continue
		}
		p.logger.WithFields(logrus.Fields{
			"transfer_id": t.ID,
			"created_at":  t.InitTimestamp,
			"expires_at":  t.ExpiresAt(),
		}).Debug("destination escrow was not created within setup timeout")
		res = append(res, &StalledSetup{
			SourceChainID: strconv.FormatUint(t.SourceChainID, 10),
			DestChainID:   strconv.FormatUint(t.DestChainID, 10),
			TransferID:    t.ID.String(),
			RefundableIn:  strconv.FormatFloat(t.ExpiresAt().Sub(now).Seconds(), 'f', 0, 64),
		})
	}
	return res, nil
}

// FindPendingSettlements lists transfers whose secret is public on the destination chain while
// the source leg is still locked, so any authorized resolver should settle them.
func (p *Provider) FindPendingSettlements(ctx context.Context) (interface{}, error) {
	transfers, err := p.repo.Transfers.FindByStates(ctx, ledger.TransferStateDestLocked)
	if err != nil {
		return nil, fmt.Errorf("can't find destination locked transfers: %w", err)
	}
	res := make([]*PendingSettlement, 0, len(transfers))
	for _, t := range transfers {
		client, err := p.clients.Get(t.SourceChainID)
		if err != nil {
			return nil, err
		}
		now, err := client.Now(ctx)
		if err != nil {
			return nil, fmt.Errorf("can't get time of chain %d: %w", t.SourceChainID, err)
		}
		left := t.ExpiresAt().Sub(now)
		if left <= 0 {
			continue
		}
		res = append(res, &PendingSettlement{
			SourceChainID: strconv.FormatUint(t.SourceChainID, 10),
			TransferID:    t.ID.String(),
			Winner:        winnerLabel(t),
			TimeLeft:      strconv.FormatFloat(left.Seconds(), 'f', 0, 64),
		})
	}
	return res, nil
}

func winnerLabel(t *entity.Transfer) string {
	if t.Winner == nil {
		return ""
	}
	return t.Winner.String()
}
