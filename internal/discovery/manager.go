// Package discovery implements the Token Discovery Manager: expanding the
// pool registry when a snapshot request finds no pricing route for a token
// (spec §4.6).
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dexaggregator/internal/chain"
	"dexaggregator/internal/model"
	"dexaggregator/internal/storage"
)

// DefaultRetryWindow is the spec default (§4.6, §6).
const DefaultRetryWindow = 5 * time.Minute

// DefaultFeeTiers are the Uniswap V3 fee tiers probed for every base-token
// candidate (spec §4.6 step 3).
var DefaultFeeTiers = []uint32{100, 500, 3000, 10000}

// DefaultProbeInterval is the pause between probes to avoid provider
// rate-limiting (spec §4.6 step 3, "Sleep 100 ms between probes").
const DefaultProbeInterval = 100 * time.Millisecond

// Manager discovers new pools for a token by probing the CREATE2/factory
// address derivation across the base-token x fee-tier product, rather than
// the unsound "token holder list as pool proxy" path the source used
// (spec §9).
type Manager struct {
	adapter     chain.Adapter
	store       storage.Storage
	baseTokens  []string
	feeTiers    []uint32
	retryWindow time.Duration
	probeDelay  time.Duration

	mu          sync.Mutex
	lastAttempt map[string]time.Time

	sleep func(time.Duration)
}

// Config configures a Manager for one chain.
type Config struct {
	Adapter     chain.Adapter
	Store       storage.Storage
	BaseTokens  []string
	FeeTiers    []uint32
	RetryWindow time.Duration
	ProbeDelay  time.Duration
}

// New builds a Manager, filling in spec defaults for any zero-valued
// tunables in cfg.
func New(cfg Config) *Manager {
	feeTiers := cfg.FeeTiers
	if len(feeTiers) == 0 {
		feeTiers = DefaultFeeTiers
	}
	retryWindow := cfg.RetryWindow
	if retryWindow <= 0 {
		retryWindow = DefaultRetryWindow
	}
	probeDelay := cfg.ProbeDelay
	if probeDelay <= 0 {
		probeDelay = DefaultProbeInterval
	}

	return &Manager{
		adapter:     cfg.Adapter,
		store:       cfg.Store,
		baseTokens:  cfg.BaseTokens,
		feeTiers:    feeTiers,
		retryWindow: retryWindow,
		probeDelay:  probeDelay,
		lastAttempt: make(map[string]time.Time),
		sleep:       time.Sleep,
	}
}

func attemptKey(chainID int, token string) string {
	return fmt.Sprintf("%d:%s", chainID, model.Lower(token))
}

// Discover runs the discovery algorithm for one target token on chainID,
// mutating and persisting registry in place. It is a no-op (returns nil)
// when the token's retry window is still active — whether from a prior
// success, a prior failure, or a concurrent in-flight call for the same
// token (spec §4.6 steps 1-2, "second caller observes the first caller's
// window and skips").
func (m *Manager) Discover(ctx context.Context, chainID int, registry *model.PoolRegistry, target string) error {
	key := attemptKey(chainID, target)

	m.mu.Lock()
	if last, ok := m.lastAttempt[key]; ok && time.Since(last) < m.retryWindow {
		m.mu.Unlock()
		return nil
	}
	m.lastAttempt[key] = time.Now()
	m.mu.Unlock()

	for _, base := range m.baseTokens {
		if model.Lower(base) == model.Lower(target) {
			continue
		}
		for _, fee := range m.feeTiers {
			fee := fee
			addr, ok := m.adapter.ComputePoolAddress(target, base, &fee)
			if !ok {
				continue
			}

			state, err := m.adapter.ReadPoolState(ctx, addr, model.DexTypeV3)
			if err == nil {
				registry.AddPool(model.PoolMetadata{
					Address: addr,
					DexType: model.DexTypeV3,
					Token0:  state.Token0,
					Token1:  state.Token1,
					FeeTier: &fee,
					Weight:  model.DexTypeV3.Weight(),
				})
			}

			m.sleep(m.probeDelay)
		}
	}

	if err := m.store.SavePoolRegistry(chainID, registry); err != nil {
		return fmt.Errorf("persist registry after discovery: %w", err)
	}
	return nil
}

