package repository

import (
	"github.com/omni/htlc-bridge/db"
	"github.com/omni/htlc-bridge/entity"
	"github.com/omni/htlc-bridge/repository/memory"
	"github.com/omni/htlc-bridge/repository/postgres"
)

type Repo struct {
	LogsCursors  entity.LogsCursorsRepo
	Logs         entity.LogsRepo
	Transfers    entity.TransfersRepo
	Bids         entity.BidsRepo
	Auctions     entity.AuctionsRepo
	Executions   entity.ExecutionsRepo
	Resolvers    entity.ResolversRepo
	EscrowEvents entity.EscrowEventsRepo
}

func NewRepo(db *db.DB) *Repo {
	return &Repo{
		LogsCursors:  postgres.NewLogsCursorRepo("logs_cursors", db),
		Logs:         postgres.NewLogsRepo("logs", db),
		Transfers:    postgres.NewTransfersRepo("transfers", db),
		Bids:         postgres.NewBidsRepo("bids", db),
		Auctions:     postgres.NewAuctionsRepo("auctions", db),
		Executions:   postgres.NewExecutionsRepo("executions", db),
		Resolvers:    postgres.NewResolversRepo("resolvers", db),
		EscrowEvents: postgres.NewEscrowEventsRepo("escrow_events", db),
	}
}

// NewMemoryRepo is backed by a fresh in-process arena; nothing survives a restart.
func NewMemoryRepo() *Repo {
	store := memory.NewStore()
	return &Repo{
		LogsCursors:  store.LogsCursors(),
		Logs:         store.Logs(),
		Transfers:    store.Transfers(),
		Bids:         store.Bids(),
		Auctions:     store.Auctions(),
		Executions:   store.Executions(),
		Resolvers:    store.Resolvers(),
		EscrowEvents: store.EscrowEvents(),
	}
}
