package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dexaggregator/internal/cache"
	"dexaggregator/internal/chain"
	"dexaggregator/internal/config"
	"dexaggregator/internal/controller"
	"dexaggregator/internal/discovery"
	"dexaggregator/internal/httpapi"
	"dexaggregator/internal/model"
	"dexaggregator/internal/multicall"
	"dexaggregator/internal/scheduler"
	"dexaggregator/internal/snapshot"
	"dexaggregator/internal/storage"
	"dexaggregator/internal/tokenlist"
)

// runtimeChain bundles every per-chain collaborator serve wires together,
// so shutdown can reach back into the adapter to close its RPC connections.
type runtimeChain struct {
	adapter *chain.EVMAdapter
	deps    snapshot.ChainDeps
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the aggregator HTTP API and background scheduler",
		RunE:  runServe,
	}
	cmd.Flags().String("registry-dir", "", "directory pool registries are persisted under")
	cmd.Flags().String("http-addr", "", "HTTP listen address")
	cmd.Flags().String("log-level", "", "zap log level (debug, info, warn, error)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := storage.NewFileStore(cfg.RegistryDir)
	sharedController := controller.New(map[model.Tier]time.Duration{
		model.TierHigh:   cfg.TierIntervals.High,
		model.TierNormal: cfg.TierIntervals.Normal,
		model.TierLow:    cfg.TierIntervals.Low,
	})
	sharedCache := cache.New()

	chainNames := make([]string, 0, len(cfg.Chains))
	for _, c := range cfg.Chains {
		chainNames = append(chainNames, c.Name)
	}
	tokenLoader := tokenlist.New(cfg.TokenListTimeout, chainNames, logger)
	dynamicURLs := make(map[string]string, len(cfg.Chains))
	for _, c := range cfg.Chains {
		dynamicURLs[c.Name] = c.DynamicTokenListURL
	}
	tokenLoader.FetchAll(ctx, dynamicURLs)

	runtimeChains := make([]*runtimeChain, 0, len(cfg.Chains))
	engines := make(map[int]*multicall.Engine, len(cfg.Chains))
	registryChains := make(map[string]httpapi.RegistryChain, len(cfg.Chains))

	for _, c := range cfg.Chains {
		rc, err := buildChain(ctx, c, cfg, store, sharedController, sharedCache, tokenLoader, logger)
		if err != nil {
			return fmt.Errorf("build chain %s: %w", c.Name, err)
		}
		runtimeChains = append(runtimeChains, rc)
		engines[rc.deps.ChainID] = multicall.New(rc.adapter, cfg.MaxBatchWeight, cfg.MulticallTimeout)
		registryChains[model.Lower(rc.deps.Name)] = httpapi.RegistryChain{ChainID: rc.deps.ChainID, Store: store}
	}

	snapshotDeps := make([]snapshot.ChainDeps, 0, len(runtimeChains))
	for _, rc := range runtimeChains {
		snapshotDeps = append(snapshotDeps, rc.deps)
	}
	snapshotSvc := snapshot.New(snapshot.Config{
		Chains:   snapshotDeps,
		CacheTTL: cfg.CacheTTL,
		Logger:   logger,
	})

	sched := scheduler.New(scheduler.Config{
		Controller:    sharedController,
		Cache:         sharedCache,
		Store:         store,
		Engines:       engines,
		Period:        cfg.SchedulerPeriod,
		ShutdownGrace: cfg.ShutdownGrace,
		Logger:        logger,
	})
	sched.Start(ctx)

	httpController := httpapi.NewController(snapshotSvc, registryChains, logger)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpController.NewRouter(),
	}

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.HTTPAddr))
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	snapshotSvc.Shutdown(cfg.ShutdownGrace)
	sched.Stop()

	for _, rc := range runtimeChains {
		rc.adapter.Close()
	}

	return nil
}

// buildChain wires every per-chain collaborator the Pool Controller, Shared
// State Cache, Multicall Engine, Discovery Manager and Snapshot Service need
// for one configured chain (spec §4.13).
func buildChain(ctx context.Context, c config.ChainConfig, cfg config.Config, store storage.Storage, sharedController *controller.PoolController, sharedCache *cache.StateCache, tokenLoader *tokenlist.Loader, logger *zap.Logger) (*runtimeChain, error) {
	evmCfg := chain.EVMConfig{
		Name:              c.Name,
		ChainID:           c.ChainID,
		RPCURLs:           c.RPCURLs,
		Multicall3Address: common.HexToAddress(c.Multicall3Address),
		V2Factory: chain.FactoryConfig{
			Address:      common.HexToAddress(c.V2FactoryAddress),
			InitCodeHash: common.HexToHash(c.V2InitCodeHash),
		},
		V3Factory: chain.FactoryConfig{
			Address:      common.HexToAddress(c.V3FactoryAddress),
			InitCodeHash: common.HexToHash(c.V3InitCodeHash),
		},
	}

	adapter, err := chain.NewEVMAdapter(ctx, evmCfg)
	if err != nil {
		return nil, fmt.Errorf("dial chain: %w", err)
	}

	staticTokens, err := loadStaticTokens(c.StaticTokensPath)
	if err != nil {
		logger.Warn("failed to load static token list; continuing without it",
			zap.String("chain", c.Name), zap.Error(err))
	}

	discoveryMgr := discovery.New(discovery.Config{
		Adapter:     adapter,
		Store:       store,
		BaseTokens:  c.BaseTokens,
		RetryWindow: cfg.DiscoveryRetryWindow,
	})

	return &runtimeChain{
		adapter: adapter,
		deps: snapshot.ChainDeps{
			Name:          c.Name,
			ChainID:       c.ChainID,
			Adapter:       adapter,
			Store:         store,
			Controller:    sharedController,
			Cache:         sharedCache,
			Discovery:     discoveryMgr,
			StaticTokens:  staticTokens,
			DynamicTokens: tokenLoader,
			StableAddress: c.StableAddress,
		},
	}, nil
}

