package presenter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omni/htlc-bridge/auction"
	"github.com/omni/htlc-bridge/chainclient"
	"github.com/omni/htlc-bridge/config"
	"github.com/omni/htlc-bridge/coordinator"
	"github.com/omni/htlc-bridge/db"
	"github.com/omni/htlc-bridge/entity"
	"github.com/omni/htlc-bridge/execution"
	"github.com/omni/htlc-bridge/logging"
	"github.com/omni/htlc-bridge/presenter/http/middleware"
	"github.com/omni/htlc-bridge/presenter/http/render"
	"github.com/omni/htlc-bridge/repository"
	"github.com/omni/htlc-bridge/status"
)

const (
	defaultThrottleLimit     = 50
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

// Indexer replays chain events into the repository.
type Indexer interface {
	ProcessBlockRange(ctx context.Context, chainID uint64, fromBlock, toBlock uint64) error
}

type Presenter struct {
	logger      logging.Logger
	cfg         *config.Config
	clients     chainclient.Clients
	repo        *repository.Repo
	coordinator *coordinator.Coordinator
	auctions    *auction.Engine
	executor    *execution.Engine
	status      *status.Aggregator
	indexer     Indexer
	root        chi.Router
}

func NewPresenter(
	logger logging.Logger,
	cfg *config.Config,
	clients chainclient.Clients,
	repo *repository.Repo,
	coord *coordinator.Coordinator,
	auctions *auction.Engine,
	executor *execution.Engine,
	agg *status.Aggregator,
) *Presenter {
	p := &Presenter{
		logger:      logger,
		cfg:         cfg,
		clients:     clients,
		repo:        repo,
		coordinator: coord,
		auctions:    auctions,
		executor:    executor,
		status:      agg,
		root:        chi.NewMux(),
	}
	p.registerRoutes()
	return p
}

func (p *Presenter) registerRoutes() {
	p.root.Use(chimiddleware.Throttle(defaultThrottleLimit))
	p.root.Use(chimiddleware.RequestID)
	p.root.Use(middleware.NewLoggerMiddleware(p.logger))
	p.root.Use(middleware.Recoverer)

	p.root.Post("/transfers", p.InitiateTransfer)
	p.root.Route("/transfers/{transferID}", func(r chi.Router) {
		r.Use(middleware.GetTransferIDMiddleware)
		r.Post("/bids", p.SubmitBid)
		r.Post("/execute", p.ExecuteTransfer)
		r.Post("/secret", p.RevealSecret)
		r.Post("/refund", p.RefundTransfer)
		r.Get("/status", p.GetStatus)
	})
	p.root.With(middleware.GetResolverMiddleware).Get("/resolvers/{address}", p.GetResolver)
	p.root.Get("/chains", p.GetChains)
	p.root.Post("/chains/{chainID}/reprocess", p.ReprocessBlockRange)
	p.root.Handle("/metrics", promhttp.Handler())
}

// WithIndexer enables the block range reprocessing endpoint.
func (p *Presenter) WithIndexer(indexer Indexer) *Presenter {
	p.indexer = indexer
	return p
}

func (p *Presenter) Handler() http.Handler {
	return p.root
}

// Serve blocks until ctx is cancelled or the listener fails.
func (p *Presenter) Serve(ctx context.Context, addr string) error {
	p.logger.WithField("addr", addr).Info("starting presenter service")
	srv := &http.Server{
		Addr:              addr,
		Handler:           p.root,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			p.logger.WithError(err).Error("failed to shutdown presenter service")
		}
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("presenter service failed: %w", err)
	}
	return nil
}

func (p *Presenter) InitiateTransfer(w http.ResponseWriter, r *http.Request) {
	req := new(InitiateTransferRequest)
	if err := decodeJSON(w, r, req); err != nil {
		render.Error(w, r, err)
		return
	}
	var timeout time.Duration
	if req.Timeout != nil {
		timeout = time.Duration(*req.Timeout) * time.Second
	}

	res, err := p.coordinator.InitiateTransfer(r.Context(), &coordinator.Request{
		SourceChainID: req.SourceChain,
		DestChainID:   req.DestChain,
		Token:         req.TokenAddress,
		Amount:        req.Amount,
		Initiator:     req.Initiator,
		Recipient:     req.Recipient,
		Timeout:       timeout,
		Nonce:         req.Nonce,
		Signature:     req.Signature,
	})
	if err != nil {
		// only the source leg is locked, the body carries what the initiator needs to refund it
		if errors.Is(err, entity.ErrPartialExecution) && res != nil {
			render.JSON(w, r, http.StatusAccepted, initiateTransferResponse(res))
			return
		}
		render.Error(w, r, err)
		return
	}
	render.JSON(w, r, http.StatusCreated, initiateTransferResponse(res))
}

func (p *Presenter) SubmitBid(w http.ResponseWriter, r *http.Request) {
	req := new(BidRequest)
	if err := decodeJSON(w, r, req); err != nil {
		render.Error(w, r, err)
		return
	}

	res, err := p.auctions.SubmitBid(r.Context(), &auction.BidRequest{
		TransferID:      middleware.TransferID(r.Context()),
		Resolver:        req.ResolverAddress,
		BidPrice:        req.BidPrice,
		ExecutionTime:   req.ExecutionTime,
		GasEstimate:     req.GasEstimate,
		ReputationScore: req.ReputationScore,
		StakeAmount:     req.StakeAmount,
	})
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, r, http.StatusCreated, bidResponse(res))
}

func (p *Presenter) ExecuteTransfer(w http.ResponseWriter, r *http.Request) {
	req := new(ExecuteRequest)
	if err := decodeJSON(w, r, req); err != nil {
		render.Error(w, r, err)
		return
	}
	resolver, err := parseResolver(req.ResolverAddress)
	if err != nil {
		render.Error(w, r, err)
		return
	}

	exec, err := p.executor.Execute(r.Context(), &execution.Request{
		TransferID: middleware.TransferID(r.Context()),
		Secret:     req.Secret,
		Resolver:   resolver,
		Signature:  req.Signature,
	})
	if err != nil {
		// the destination leg went through, the body tells the caller what is left to settle
		if errors.Is(err, entity.ErrPartialExecution) && exec != nil {
			render.JSON(w, r, http.StatusAccepted, executeResponse(exec))
			return
		}
		render.Error(w, r, err)
		return
	}
	render.JSON(w, r, http.StatusOK, executeResponse(exec))
}

// RevealSecret hands the transfer secret to the auction winner that signed the request.
func (p *Presenter) RevealSecret(w http.ResponseWriter, r *http.Request) {
	req := new(SecretRequest)
	if err := decodeJSON(w, r, req); err != nil {
		render.Error(w, r, err)
		return
	}
	resolver, err := parseResolver(req.ResolverAddress)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	transferID := middleware.TransferID(r.Context())
	secret, err := p.coordinator.RevealSecret(r.Context(), transferID, resolver, req.Signature)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, r, http.StatusOK, &SecretResponse{
		TransferID: transferID,
		Secret:     secret,
	})
}

func (p *Presenter) RefundTransfer(w http.ResponseWriter, r *http.Request) {
	res, err := p.coordinator.Refund(r.Context(), middleware.TransferID(r.Context()))
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, r, http.StatusOK, &RefundResponse{
		TransferID:   res.TransferID,
		SourceTxHash: res.SourceTxHash,
		DestTxHash:   res.DestTxHash,
	})
}

func (p *Presenter) GetStatus(w http.ResponseWriter, r *http.Request) {
	view, err := p.status.Status(r.Context(), middleware.TransferID(r.Context()))
	if err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, r, http.StatusOK, view)
}

func (p *Presenter) GetResolver(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address := middleware.Resolver(ctx)

	resolver, err := p.repo.Resolvers.GetByAddress(ctx, address)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		render.Error(w, r, err)
		return
	}
	bids, err := p.repo.Bids.FindByResolver(ctx, address)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	if resolver == nil && len(bids) == 0 {
		render.Error(w, r, fmt.Errorf("resolver %s has no history: %w", address, entity.ErrNotFound))
		return
	}
	render.JSON(w, r, http.StatusOK, resolverStats(address, resolver, bids))
}

func (p *Presenter) GetChains(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chains := make([]*ChainInfo, 0, len(p.cfg.Chains))
	for name, chainCfg := range p.cfg.Chains {
		client, err := p.clients.Get(chainCfg.ChainID)
		if err != nil {
			render.Error(w, r, err)
			return
		}
		head, err := client.BlockNumber(ctx)
		if err != nil {
			render.Error(w, r, err)
			return
		}
		info := &ChainInfo{
			ChainID:         chainCfg.ChainID,
			Name:            name,
			RegistryAddress: client.RegistryAddress(),
			EscrowAddress:   client.EscrowAddress(),
			HeadBlock:       head,
		}
		cursor, err := p.repo.LogsCursors.GetByChainIDAndAddress(ctx, chainCfg.ChainID, client.RegistryAddress())
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			render.Error(w, r, err)
			return
		}
		if cursor != nil {
			info.LastProcessedBlock = &cursor.LastProcessedBlock
		}
		chains = append(chains, info)
	}
	sort.Slice(chains, func(i, j int) bool {
		return chains[i].ChainID < chains[j].ChainID
	})
	render.JSON(w, r, http.StatusOK, chains)
}

func (p *Presenter) ReprocessBlockRange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if p.indexer == nil {
		render.Error(w, r, fmt.Errorf("indexer is not running: %w", entity.ErrNotFound))
		return
	}
	chainID, err := strconv.ParseUint(chi.URLParam(r, "chainID"), 10, 64)
	if err != nil {
		render.Error(w, r, fmt.Errorf("chain id: %v: %w", err, render.ErrBadRequest))
		return
	}
	req := new(ReprocessRequest)
	if err = decodeJSON(w, r, req); err != nil {
		render.Error(w, r, err)
		return
	}
	client, err := p.clients.Get(chainID)
	if err != nil {
		render.Error(w, r, fmt.Errorf("chain %d: %v: %w", chainID, err, entity.ErrNotFound))
		return
	}
	head, err := client.BlockNumber(ctx)
	if err != nil {
		render.Error(w, r, err)
		return
	}
	if req.FromBlock == 0 || req.ToBlock < req.FromBlock || req.ToBlock > head {
		render.Error(w, r, fmt.Errorf("block range [%d, %d] is not within [1, %d]: %w", req.FromBlock, req.ToBlock, head, entity.ErrValidation))
		return
	}
	if err = p.indexer.ProcessBlockRange(ctx, chainID, req.FromBlock, req.ToBlock); err != nil {
		render.Error(w, r, err)
		return
	}
	render.JSON(w, r, http.StatusOK, &ReprocessResponse{
		ChainID:   chainID,
		FromBlock: req.FromBlock,
		ToBlock:   req.ToBlock,
	})
}

func parseResolver(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("resolver address %q is not a hex address: %w", s, entity.ErrValidation)
	}
	return common.HexToAddress(s), nil
}
