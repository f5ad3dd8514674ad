// Package cache implements the Shared State Cache: a last-writer-wins map
// from (chainId, poolAddress) to the most recently observed PoolStateSample
// (spec §4.4).
package cache

import (
	"fmt"
	"sync"

	"dexaggregator/internal/model"
)

// StateCache holds one PoolStateSample per (chainId, poolAddress). It never
// evicts in this version — unlike the teacher's misleadingly-named
// "LRU" token cache, this is documented as unbounded rather than promising
// eviction it does not perform (spec §9 "'LRU-style' cache").
type StateCache struct {
	mu   sync.RWMutex
	data map[string]model.PoolStateSample
}

// New builds an empty StateCache.
func New() *StateCache {
	return &StateCache{data: make(map[string]model.PoolStateSample)}
}

func stateKey(chainID int, poolAddress string) string {
	return fmt.Sprintf("%d:%s", chainID, model.Lower(poolAddress))
}

// Put stores sample for (chainID, poolAddress), overwriting any prior value.
func (c *StateCache) Put(chainID int, poolAddress string, sample model.PoolStateSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[stateKey(chainID, poolAddress)] = sample
}

// Get returns the current sample for (chainID, poolAddress), if any.
// Staleness is a decision left to the caller (spec §4.4): this component
// does not track or enforce a TTL.
func (c *StateCache) Get(chainID int, poolAddress string) (model.PoolStateSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sample, ok := c.data[stateKey(chainID, poolAddress)]
	return sample, ok
}

// Len reports the number of cached entries, for operational visibility.
func (c *StateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
