package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/omni/htlc-bridge/auction"
	"github.com/omni/htlc-bridge/config"
	"github.com/omni/htlc-bridge/coordinator"
	"github.com/omni/htlc-bridge/db"
	"github.com/omni/htlc-bridge/devnet"
	"github.com/omni/htlc-bridge/execution"
	"github.com/omni/htlc-bridge/jobs"
	"github.com/omni/htlc-bridge/ledger"
	"github.com/omni/htlc-bridge/logging"
	"github.com/omni/htlc-bridge/monitor"
	"github.com/omni/htlc-bridge/presenter"
	"github.com/omni/htlc-bridge/repository"
	"github.com/omni/htlc-bridge/status"
)

const defaultRequestTimeout = 5 * time.Second

var configPath = flag.String("config", "config.yml", "path to the yaml config")

func main() {
	flag.Parse()

	logger := logging.New()

	cfg, err := config.ReadConfigFromFile(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("can't read config")
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	network, err := devnet.Build(logger.WithField("service", "devnet"), cfg, ledger.SystemClock{}, defaultRequestTimeout)
	if err != nil {
		logger.WithError(err).Fatal("can't build devnet chains")
	}

	repo := repository.NewMemoryRepo()
	if cfg.DBConfig != nil {
		dbConn, err2 := db.ConnectToDBAndMigrate(cfg.DBConfig)
		if err2 != nil {
			logger.WithError(err2).Fatal("can't connect to database and apply migrations")
		}
		defer dbConn.Close()
		repo = repository.NewRepo(dbConn)
	} else {
		logger.Warn("postgres is not configured, state is kept in memory")
	}

	cache := status.NewNoopCache()
	if cfg.Redis != nil {
		pool := status.NewRedisPool(cfg.Redis)
		defer pool.Close()
		cache = status.NewRedisCache(pool, cfg.Redis.TTL)
	}

	auctions := auction.NewEngine(logger.WithField("service", "auction"), cfg.Auction, ledger.SystemClock{}, network.Clients, repo)
	coord := coordinator.New(logger.WithField("service", "coordinator"), cfg, network.Clients, repo, auctions)
	executor := execution.NewEngine(logger.WithField("service", "execution"), cfg, network.Clients, repo)
	agg := status.NewAggregator(logger.WithField("service", "status"), network.Clients, repo, cache)

	m, err := monitor.NewMonitor(ctx, logger.WithField("service", "monitor"), repo, cfg, network.Clients)
	if err != nil {
		logger.WithError(err).Fatal("can't initialize bridge monitor")
	}
	m.Start(ctx)

	manager := jobs.NewManager(logger.WithField("service", "jobs"), cfg, network.Clients, repo, auctions)
	go manager.Start(ctx, m.IsSynced)

	host := ":3333"
	if cfg.Presenter != nil && cfg.Presenter.Host != "" {
		host = cfg.Presenter.Host
	}
	pr := presenter.NewPresenter(logger.WithField("service", "presenter"), cfg, network.Clients, repo, coord, auctions, executor, agg).
		WithIndexer(m)
	if err = pr.Serve(ctx, host); err != nil {
		logger.WithError(err).Fatal("can't serve presenter")
	}
	logger.Warn("caught shutdown signal, gracefully terminating")
}
