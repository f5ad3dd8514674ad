// Package snapshot implements the Snapshot Service: it joins the merged
// token list, the pool registry, and the shared state cache into the
// paginated ChainSnapshot responses the HTTP API serves, triggering
// discovery for tokens with no known pricing route (spec §4.8).
package snapshot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"dexaggregator/internal/cache"
	"dexaggregator/internal/chain"
	"dexaggregator/internal/controller"
	"dexaggregator/internal/discovery"
	"dexaggregator/internal/model"
	"dexaggregator/internal/pricing"
	"dexaggregator/internal/storage"
	"dexaggregator/internal/tokenlist"
)

// DefaultCacheTTL is the spec default for the SnapshotEntry cache (§4.8
// step 4, §6).
const DefaultCacheTTL = 10 * time.Second

// defaultTokenDecimals is used when a pool leg's decimals cannot be
// resolved from either chain's merged token list; 18 matches the large
// majority of ERC20 tokens and keeps the pricing math from dividing by an
// unknown exponent.
const defaultTokenDecimals = 18

// syntheticPriceUSD and syntheticLiquidityUSD are the cold-start/fallback
// values spec §4.8 step 4 mandates so the response shape never changes
// just because a price could not yet be computed.
const (
	syntheticPriceUSD     = 1.0
	syntheticLiquidityUSD = 500_000.0
)

// ChainDeps bundles the per-chain collaborators the Snapshot Service reads
// from: the Chain Adapter (only used indirectly, via Discovery), Storage,
// the Pool Controller, the Shared State Cache, the Discovery Manager, the
// statically configured token list, the dynamic token list loader, and the
// chain's stable reference token address (spec §4.8, §4.9).
type ChainDeps struct {
	Name          string
	ChainID       int
	Adapter       chain.Adapter
	Store         storage.Storage
	Controller    *controller.PoolController
	Cache         *cache.StateCache
	Discovery     *discovery.Manager
	StaticTokens  []model.Token
	DynamicTokens *tokenlist.Loader
	StableAddress string
}

type chainEntry struct {
	deps ChainDeps
}

// Config configures a Service.
type Config struct {
	Chains   []ChainDeps
	CacheTTL time.Duration
	Logger   *zap.Logger
}

type cachedEntry struct {
	entry      model.SnapshotEntry
	observedAt time.Time
}

// Service answers paginated snapshot requests (spec §4.8). It owns a
// fire-and-forget discovery task group: unlike the source it replaces
// (spec §9, "Fire-and-forget concurrency"), every discovery goroutine it
// launches is tracked in an internal sync.WaitGroup under a cancelable
// context, so Shutdown can cancel and join them instead of abandoning them.
type Service struct {
	chains   map[string]*chainEntry
	cacheTTL time.Duration
	logger   *zap.Logger

	entryMu    sync.Mutex
	entryCache map[string]cachedEntry

	discoveryCtx    context.Context
	discoveryCancel context.CancelFunc
	discoveryWG     sync.WaitGroup
}

// New builds a Service over the given per-chain dependencies.
func New(cfg Config) *Service {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	chains := make(map[string]*chainEntry, len(cfg.Chains))
	for _, c := range cfg.Chains {
		chains[model.Lower(c.Name)] = &chainEntry{deps: c}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		chains:          chains,
		cacheTTL:        ttl,
		logger:          logger,
		entryCache:      make(map[string]cachedEntry),
		discoveryCtx:    ctx,
		discoveryCancel: cancel,
	}
}

// Shutdown cancels in-flight discovery jobs and waits up to grace for them
// to return (spec §5, "Server shutdown cancels in-flight Discovery jobs").
func (s *Service) Shutdown(grace time.Duration) {
	s.discoveryCancel()

	done := make(chan struct{})
	go func() {
		s.discoveryWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		s.logger.Warn("snapshot service shutdown grace window elapsed with discovery jobs still in flight")
	}
}

// GetSnapshot produces the paginated ChainSnapshot for chain in
// [offset, offset+limit) (spec §4.8).
func (s *Service) GetSnapshot(ctx context.Context, chainName string, offset, limit int) (model.ChainSnapshot, error) {
	entry, ok := s.chains[model.Lower(chainName)]
	if !ok {
		return model.ChainSnapshot{}, model.ErrChainNotSupported
	}

	merged := s.mergedTokens(entry)
	window := windowTokens(merged, offset, limit)

	registry, err := entry.deps.Store.GetPoolRegistry(entry.deps.ChainID)
	if err != nil {
		s.logger.Warn("storage unavailable while serving snapshot; registry treated as empty",
			zap.String("chain", entry.deps.Name), zap.Error(err))
		registry = model.NewPoolRegistry()
	}

	decimalsByAddress := decimalsIndex(merged)

	entries := make([]model.SnapshotEntry, 0, len(window))
	var missing []model.Token
	for _, token := range window {
		snapEntry, hadRoute := s.resolveToken(entry, registry, token, decimalsByAddress)
		entries = append(entries, snapEntry)
		if !hadRoute {
			missing = append(missing, token)
		}
	}

	if len(missing) > 0 {
		s.spawnDiscovery(entry, missing)
	}

	return model.ChainSnapshot{
		Timestamp: time.Now().UnixMilli(),
		Chain:     entry.deps.Name,
		Entries:   entries,
	}, nil
}

// mergedTokens builds the static-then-dynamic, dedup-by-address merged
// token list (spec §4.8 step 2).
func (s *Service) mergedTokens(entry *chainEntry) []model.Token {
	seen := make(map[string]bool)
	merged := make([]model.Token, 0, len(entry.deps.StaticTokens))

	for _, t := range entry.deps.StaticTokens {
		key := t.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, t)
	}

	if entry.deps.DynamicTokens != nil {
		for _, t := range entry.deps.DynamicTokens.Get(entry.deps.Name) {
			key := t.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, t)
		}
	}

	return merged
}

func windowTokens(tokens []model.Token, offset, limit int) []model.Token {
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}
	if offset >= len(tokens) || limit == 0 {
		return nil
	}
	end := offset + limit
	if end > len(tokens) {
		end = len(tokens)
	}
	return tokens[offset:end]
}

func decimalsIndex(tokens []model.Token) map[string]uint8 {
	idx := make(map[string]uint8, len(tokens))
	for _, t := range tokens {
		idx[t.Key()] = t.Decimals
	}
	return idx
}

// resolveToken resolves one windowed token to a SnapshotEntry, returning
// hadRoute=false when the registry has no pricing route at all for the
// token (the signal the caller uses to decide whether discovery is
// warranted — spec §4.8 step 4).
func (s *Service) resolveToken(entry *chainEntry, registry *model.PoolRegistry, token model.Token, decimalsByAddress map[string]uint8) (model.SnapshotEntry, bool) {
	cacheKey := fmt.Sprintf("%s:%s", model.Lower(entry.deps.Name), token.Key())

	if cached, ok := s.getCachedEntry(cacheKey); ok {
		return cached, true
	}

	route, meta, found := registry.BestRoute(token.Address)
	if !found {
		return syntheticEntry(token), false
	}

	sample, ok := entry.deps.Cache.Get(entry.deps.ChainID, route.Pool)
	if !ok {
		entry.deps.Controller.Track(entry.deps.ChainID, route.Pool)
		entry.deps.Controller.MarkRequested(entry.deps.ChainID, route.Pool)
		return syntheticEntry(token), true
	}

	priceUSD, liquidityUSD, ok := computePriceAndLiquidity(meta, sample, token.Address, entry.deps.StableAddress, decimalsByAddress)
	if !ok {
		entry.deps.Controller.MarkRequested(entry.deps.ChainID, route.Pool)
		return syntheticEntry(token), true
	}

	snapEntry := model.SnapshotEntry{
		Token:        token,
		PriceUSD:     priceUSD,
		LiquidityUSD: liquidityUSD,
		VolumeUSD:    liquidityUSD * 0.15,
		MarketCapUSD: priceUSD * 10_000_000,
	}
	s.putCachedEntry(cacheKey, snapEntry)
	return snapEntry, true
}

func syntheticEntry(token model.Token) model.SnapshotEntry {
	return model.SnapshotEntry{
		Token:        token,
		PriceUSD:     syntheticPriceUSD,
		LiquidityUSD: syntheticLiquidityUSD,
		VolumeUSD:    syntheticLiquidityUSD * 0.15,
		MarketCapUSD: syntheticPriceUSD * 10_000_000,
	}
}

// computePriceAndLiquidity prices target against the chain's configured
// stable reference token via the pool's cached state (spec §4.8 step 4,
// §4.9). Per the spec's literal formula this is a single-hop quote: for
// both dex types, when the chosen route's pool does not actually carry the
// stable token as target's other leg, ComputeSpotPrice reports 0 and this
// function reports ok=false (the caller falls back to a synthetic entry)
// rather than chaining through a second pool — see DESIGN.md's decision
// record for why multi-hop resolution is not implemented here. BestRoute
// picks purely by pool weight (spec §4.8 step 4) with no preference for a
// stable-denominated base, so this fallback is reachable in ordinary
// operation whenever a token's highest-weight route happens to be paired
// with a non-stable base.
func computePriceAndLiquidity(meta model.PoolMetadata, sample model.PoolStateSample, targetAddress, stableAddress string, decimalsByAddress map[string]uint8) (priceUSD, liquidityUSD float64, ok bool) {
	poolPricing := pricing.Pool{
		Meta:          meta,
		Sample:        sample,
		Token0Decimal: decimalsOrDefault(decimalsByAddress, meta.Token0),
		Token1Decimal: decimalsOrDefault(decimalsByAddress, meta.Token1),
	}

	price := pricing.ComputeSpotPrice(poolPricing, targetAddress, stableAddress)
	if price == 0 {
		return 0, 0, false
	}

	other, belongs := meta.OtherToken(targetAddress)
	if !belongs {
		return 0, 0, false
	}

	var price0USD, price1USD float64
	if model.Lower(other) == model.Lower(meta.Token1) {
		price0USD, price1USD = price, 1.0
	} else {
		price0USD, price1USD = 1.0, price
	}

	liquidity := pricing.ComputeLiquidityUSD(poolPricing, price0USD, price1USD)
	return price, liquidity, true
}

func decimalsOrDefault(byAddress map[string]uint8, address string) uint8 {
	if d, ok := byAddress[model.Lower(address)]; ok {
		return d
	}
	return defaultTokenDecimals
}

func (s *Service) getCachedEntry(key string) (model.SnapshotEntry, bool) {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()

	cached, ok := s.entryCache[key]
	if !ok || time.Since(cached.observedAt) >= s.cacheTTL {
		return model.SnapshotEntry{}, false
	}
	return cached.entry, true
}

func (s *Service) putCachedEntry(key string, entry model.SnapshotEntry) {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()
	s.entryCache[key] = cachedEntry{entry: entry, observedAt: time.Now()}
}

// spawnDiscovery launches one fire-and-forget-but-tracked goroutine that
// probes every token in missing for new pools, persisting any it finds
// (spec §4.8, "spawn a batch Discovery task").
func (s *Service) spawnDiscovery(entry *chainEntry, missing []model.Token) {
	if entry.deps.Discovery == nil {
		return
	}

	s.discoveryWG.Add(1)
	go func() {
		defer s.discoveryWG.Done()
		for _, token := range missing {
			registry, err := entry.deps.Store.GetPoolRegistry(entry.deps.ChainID)
			if err != nil {
				s.logger.Warn("storage unavailable during discovery batch",
					zap.String("chain", entry.deps.Name), zap.Error(err))
				continue
			}
			if err := entry.deps.Discovery.Discover(s.discoveryCtx, entry.deps.ChainID, registry, token.Address); err != nil {
				s.logger.Warn("discovery failed for token",
					zap.String("chain", entry.deps.Name), zap.String("token", token.Address), zap.Error(err))
			}
		}
	}()
}
