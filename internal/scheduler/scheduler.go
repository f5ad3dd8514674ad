// Package scheduler implements the Pool Scheduler: a periodic driver that
// refreshes due pools via the Multicall Engine and feeds results back into
// the Pool Controller and Shared State Cache (spec §4.7).
package scheduler

import (
	"context"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"dexaggregator/internal/cache"
	"dexaggregator/internal/controller"
	"dexaggregator/internal/model"
	"dexaggregator/internal/multicall"
	"dexaggregator/internal/storage"
)

// DefaultPeriod is the spec default tick period (§4.7, §6).
const DefaultPeriod = 10 * time.Second

// DefaultFastRetry is the nextRefresh delay applied after a failed result.
const DefaultFastRetry = 5 * time.Second

// DefaultShutdownGrace bounds how long Stop waits for in-flight ticks.
const DefaultShutdownGrace = 10 * time.Second

var twoPow96 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))

// Config configures a Scheduler.
type Config struct {
	Controller    *controller.PoolController
	Cache         *cache.StateCache
	Store         storage.Storage
	Engines       map[int]*multicall.Engine // keyed by chainId
	Period        time.Duration
	FastRetry     time.Duration
	ShutdownGrace time.Duration
	Logger        *zap.Logger
}

// Scheduler ticks periodically, refreshing due pools one chain partition at
// a time. A tick for a given chain is skipped entirely if the previous
// tick for that same chain has not finished (spec §5, "non-reentrant per
// chain").
type Scheduler struct {
	controller    *controller.PoolController
	cache         *cache.StateCache
	store         storage.Storage
	engines       map[int]*multicall.Engine
	period        time.Duration
	fastRetry     time.Duration
	shutdownGrace time.Duration
	logger        *zap.Logger

	mu            sync.Mutex
	started       bool
	stopCh        chan struct{}
	runningChains map[int]bool
	wg            sync.WaitGroup
}

// New builds a Scheduler, filling in spec defaults for zero-valued tunables.
func New(cfg Config) *Scheduler {
	period := cfg.Period
	if period <= 0 {
		period = DefaultPeriod
	}
	fastRetry := cfg.FastRetry
	if fastRetry <= 0 {
		fastRetry = DefaultFastRetry
	}
	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		controller:    cfg.Controller,
		cache:         cfg.Cache,
		store:         cfg.Store,
		engines:       cfg.Engines,
		period:        period,
		fastRetry:     fastRetry,
		shutdownGrace: grace,
		logger:        logger,
		runningChains: make(map[int]bool),
	}
}

// Start begins the periodic tick loop. A second call to Start while already
// running is a no-op (spec §4.7, "Scheduler start is idempotent").
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop signals the tick loop to exit and waits up to shutdownGrace for any
// in-flight per-chain ticks to drain (spec §5, "10 s grace window").
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.shutdownGrace):
		s.logger.Warn("scheduler shutdown grace window elapsed with ticks still in flight")
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick partitions due pools by chain and dispatches one goroutine per
// chain partition, skipping any chain whose previous tick is still in
// flight. Tick failures at any level are logged and swallowed; the next
// tick retries (spec §4.7).
func (s *Scheduler) tick(ctx context.Context) {
	due := s.controller.GetPoolsForRefresh()
	if len(due) == 0 {
		return
	}

	byChain := make(map[int][]model.AlivePool)
	for _, p := range due {
		byChain[p.ChainID] = append(byChain[p.ChainID], p)
	}

	for chainID, pools := range byChain {
		if !s.tryStartChainTick(chainID) {
			continue
		}
		s.wg.Add(1)
		go func(chainID int, pools []model.AlivePool) {
			defer s.wg.Done()
			defer s.finishChainTick(chainID)
			s.tickChain(ctx, chainID, pools)
		}(chainID, pools)
	}
}

func (s *Scheduler) tryStartChainTick(chainID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runningChains[chainID] {
		return false
	}
	s.runningChains[chainID] = true
	return true
}

func (s *Scheduler) finishChainTick(chainID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runningChains, chainID)
}

func (s *Scheduler) tickChain(ctx context.Context, chainID int, due []model.AlivePool) {
	engine, ok := s.engines[chainID]
	if !ok {
		s.logger.Warn("no multicall engine configured for chain", zap.Int("chainId", chainID))
		return
	}

	registry, err := s.store.GetPoolRegistry(chainID)
	if err != nil {
		s.logger.Warn("storage unavailable during tick; skipping chain", zap.Int("chainId", chainID), zap.Error(err))
		return
	}

	candidates := make([]multicall.Candidate, 0, len(due))
	for _, pool := range due {
		meta, ok := registry.Pool(pool.Address)
		if !ok {
			continue
		}
		candidates = append(candidates, multicall.Candidate{Pool: pool, Meta: meta})
	}
	if len(candidates) == 0 {
		return
	}

	batches, err := engine.CreateBatches(candidates)
	if err != nil {
		s.logger.Warn("failed to build batches", zap.Int("chainId", chainID), zap.Error(err))
		return
	}

	results, err := engine.ExecuteBatches(ctx, batches)
	if err != nil {
		s.logger.Warn("failed to execute batches", zap.Int("chainId", chainID), zap.Error(err))
		return
	}

	now := time.Now()
	for _, r := range results {
		s.applyResult(chainID, r, now)
	}
}

func (s *Scheduler) applyResult(chainID int, r multicall.Result, now time.Time) {
	if !r.Success {
		_ = s.controller.SetNextRefresh(chainID, r.PoolAddress, now.Add(s.fastRetry))
		return
	}

	pool, ok := s.controller.Get(chainID, r.PoolAddress)
	if !ok {
		return
	}

	if r.BlockNumber == pool.LastBlockSeen && r.BlockNumber != 0 {
		_ = s.controller.SetNextRefresh(chainID, r.PoolAddress, now.Add(s.controller.TierInterval(pool.Tier)))
		return
	}

	price := scalarPrice(r.SqrtPriceX96)
	if _, err := s.controller.UpdatePoolTier(chainID, r.PoolAddress, price); err != nil {
		return
	}
	_ = s.controller.RecordObservation(chainID, r.PoolAddress, r.BlockNumber, price)

	s.cache.Put(chainID, r.PoolAddress, model.PoolStateSample{
		PoolAddress:  r.PoolAddress,
		SqrtPriceX96: r.SqrtPriceX96,
		Liquidity:    r.Liquidity,
		BlockNumber:  r.BlockNumber,
		ObservedAt:   now,
	})
}

// scalarPrice computes sqrt(sqrtPriceX96 / 2^96) as a plain float64 — a
// scalar used only for tier-comparison deltas, never surfaced as a real
// price (spec §4.7 step 3.d).
func scalarPrice(sqrtPriceX96 *uint256.Int) float64 {
	if sqrtPriceX96 == nil {
		return 0
	}
	ratio := new(big.Float).Quo(new(big.Float).SetInt(sqrtPriceX96.ToBig()), twoPow96)
	r, _ := ratio.Float64()
	if r < 0 {
		r = 0
	}
	return math.Sqrt(r)
}
