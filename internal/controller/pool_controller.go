// Package controller implements the Pool Controller: the alive set of pools
// currently being kept fresh, and the tier-promotion logic driven by
// observed price deltas (spec §4.3).
package controller

import (
	"fmt"
	"math"
	"sync"
	"time"

	"dexaggregator/internal/model"
)

const (
	promoteDelta = 0.005
	normalDelta  = 0.001
	epsilon      = 1e-12
)

// PoolController owns the in-memory alive set, keyed by (chainId, pool
// address). It is an explicit value injected into the Scheduler and
// Snapshot Service rather than a process-wide singleton, breaking the
// teacher's global-state shape (spec §9 "Global mutable state").
type PoolController struct {
	mu            sync.Mutex
	pools         map[string]*model.AlivePool
	tierIntervals map[model.Tier]time.Duration
}

// New builds an empty PoolController. tierIntervals overrides the per-tier
// refresh cadence (spec §6, "tier intervals... overridable via
// configuration"); pass nil to fall back to model.DefaultTierIntervals.
func New(tierIntervals map[model.Tier]time.Duration) *PoolController {
	if tierIntervals == nil {
		tierIntervals = model.DefaultTierIntervals
	}
	return &PoolController{
		pools:         make(map[string]*model.AlivePool),
		tierIntervals: tierIntervals,
	}
}

// TierInterval returns the configured refresh interval for tier t, so
// collaborators (the Scheduler's block-aware-skip path) stay consistent
// with the same configuration UpdatePoolTier uses.
func (c *PoolController) TierInterval(t model.Tier) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tierIntervals[t]
}

func aliveKey(chainID int, address string) string {
	return fmt.Sprintf("%d:%s", chainID, model.Lower(address))
}

// Track idempotently inserts a pool into the alive set. Re-tracking an
// already-alive pool is a no-op; it does not reset tier or nextRefresh.
func (c *PoolController) Track(chainID int, poolAddress string) model.AlivePool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := aliveKey(chainID, poolAddress)
	if existing, ok := c.pools[key]; ok {
		return *existing
	}

	pool := &model.AlivePool{
		Address:     model.Lower(poolAddress),
		ChainID:     chainID,
		Tier:        model.TierNormal,
		NextRefresh: time.Now().Add(c.tierIntervals[model.TierNormal]),
	}
	c.pools[key] = pool
	return *pool
}

// GetPoolsForRefresh returns every alive pool whose nextRefresh deadline has
// passed, across all chains. Callers partition the result by ChainID.
func (c *PoolController) GetPoolsForRefresh() []model.AlivePool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	due := make([]model.AlivePool, 0)
	for _, p := range c.pools {
		if p.DueForRefresh(now) {
			due = append(due, *p)
		}
	}
	return due
}

// UpdatePoolTier compares newPrice against the pool's current lastPrice and
// promotes/demotes its tier accordingly, then schedules nextRefresh using
// the new tier's interval. It does not touch lastPrice or lastBlockSeen —
// those are the Scheduler's responsibility (spec §4.3, §4.7).
func (c *PoolController) UpdatePoolTier(chainID int, poolAddress string, newPrice float64) (model.Tier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := aliveKey(chainID, poolAddress)
	pool, ok := c.pools[key]
	if !ok {
		return model.TierNormal, fmt.Errorf("%w: %s", model.ErrPoolNotFound, poolAddress)
	}

	denom := math.Max(pool.LastPrice, epsilon)
	delta := math.Abs(newPrice-pool.LastPrice) / denom

	switch {
	case delta >= promoteDelta:
		pool.Tier = model.TierHigh
	case delta >= normalDelta:
		pool.Tier = model.TierNormal
	default:
		pool.Tier = pool.Tier.Demote()
	}

	pool.NextRefresh = time.Now().Add(c.tierIntervals[pool.Tier])
	return pool.Tier, nil
}

// SetNextRefresh overrides a pool's next-refresh deadline directly — used
// by the Scheduler for the fast-retry and block-aware-skip paths (spec
// §4.7), which set nextRefresh without going through UpdatePoolTier.
func (c *PoolController) SetNextRefresh(chainID int, poolAddress string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := aliveKey(chainID, poolAddress)
	pool, ok := c.pools[key]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrPoolNotFound, poolAddress)
	}
	pool.NextRefresh = at
	return nil
}

// RecordObservation updates lastBlockSeen/lastPrice after a successful
// refresh — called by the Scheduler, never by UpdatePoolTier itself.
func (c *PoolController) RecordObservation(chainID int, poolAddress string, blockNumber uint64, price float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := aliveKey(chainID, poolAddress)
	pool, ok := c.pools[key]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrPoolNotFound, poolAddress)
	}
	pool.LastBlockSeen = blockNumber
	pool.LastPrice = price
	return nil
}

// Get returns the current alive-set record for a pool, if any.
func (c *PoolController) Get(chainID int, poolAddress string) (model.AlivePool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pool, ok := c.pools[aliveKey(chainID, poolAddress)]
	if !ok {
		return model.AlivePool{}, false
	}
	return *pool, true
}

// MarkRequested bumps RequestCount/LastRequestTime — used by the Snapshot
// Service when a live request references a pool that has no fresh cache
// entry yet (spec §4.8 step 4, "schedule via PoolController").
func (c *PoolController) MarkRequested(chainID int, poolAddress string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := aliveKey(chainID, poolAddress)
	pool, ok := c.pools[key]
	if !ok {
		return
	}
	pool.RequestCount++
	pool.LastRequestTime = time.Now()
}
