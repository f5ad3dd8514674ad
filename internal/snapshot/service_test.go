package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"dexaggregator/internal/cache"
	"dexaggregator/internal/chain"
	"dexaggregator/internal/controller"
	"dexaggregator/internal/discovery"
	"dexaggregator/internal/model"
)

type stubStorage struct {
	registry *model.PoolRegistry
	fail     bool
}

func (s *stubStorage) GetPoolRegistry(chainID int) (*model.PoolRegistry, error) {
	if s.fail {
		return model.NewPoolRegistry(), errors.New("disk full")
	}
	return s.registry, nil
}

func (s *stubStorage) SavePoolRegistry(chainID int, registry *model.PoolRegistry) error {
	s.registry = registry
	return nil
}

func testDeps(name string, chainID int, registry *model.PoolRegistry, staticTokens []model.Token) ChainDeps {
	adapter := chain.NewMockAdapter(name, chainID)
	store := &stubStorage{registry: registry}
	return ChainDeps{
		Name:          name,
		ChainID:       chainID,
		Adapter:       adapter,
		Store:         store,
		Controller:    controller.New(nil),
		Cache:         cache.New(),
		Discovery:     discovery.New(discovery.Config{Adapter: adapter, Store: store, BaseTokens: []string{"0xBASE0000000000000000000000000000000001"}}),
		StaticTokens:  staticTokens,
		StableAddress: "0xSTABLE000000000000000000000000000000001",
	}
}

func TestGetSnapshotUnknownChain(t *testing.T) {
	svc := New(Config{Chains: []ChainDeps{testDeps("ethereum", 1, model.NewPoolRegistry(), nil)}})
	_, err := svc.GetSnapshot(context.Background(), "solana", 0, 10)
	if !errors.Is(err, model.ErrChainNotSupported) {
		t.Fatalf("expected ErrChainNotSupported, got %v", err)
	}
}

func TestGetSnapshotColdStartReturnsSyntheticEntry(t *testing.T) {
	weth := model.Token{Address: "0xWETH0000000000000000000000000000000001", Symbol: "WETH", Decimals: 18, ChainID: 1}
	svc := New(Config{Chains: []ChainDeps{testDeps("ethereum", 1, model.NewPoolRegistry(), []model.Token{weth})}})

	snap, err := svc.GetSnapshot(context.Background(), "ethereum", 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(snap.Entries))
	}
	entry := snap.Entries[0]
	if entry.PriceUSD != syntheticPriceUSD || entry.LiquidityUSD != syntheticLiquidityUSD {
		t.Fatalf("expected synthetic entry, got %+v", entry)
	}

	svc.Shutdown(time.Second)
}

func TestGetSnapshotOffsetBeyondListIsEmpty(t *testing.T) {
	weth := model.Token{Address: "0xWETH0000000000000000000000000000000001", Decimals: 18, ChainID: 1}
	svc := New(Config{Chains: []ChainDeps{testDeps("ethereum", 1, model.NewPoolRegistry(), []model.Token{weth})}})

	snap, err := svc.GetSnapshot(context.Background(), "ethereum", 5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Entries) != 0 {
		t.Fatalf("expected empty entries for out-of-range offset, got %d", len(snap.Entries))
	}
}

func TestGetSnapshotZeroLimitIsEmpty(t *testing.T) {
	weth := model.Token{Address: "0xWETH0000000000000000000000000000000001", Decimals: 18, ChainID: 1}
	svc := New(Config{Chains: []ChainDeps{testDeps("ethereum", 1, model.NewPoolRegistry(), []model.Token{weth})}})

	snap, err := svc.GetSnapshot(context.Background(), "ethereum", 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Entries) != 0 {
		t.Fatalf("expected empty entries for zero limit, got %d", len(snap.Entries))
	}
}

func TestGetSnapshotWarmCacheReturnsSamePrice(t *testing.T) {
	target := "0xTARGET000000000000000000000000000000001"
	stable := "0xSTABLE000000000000000000000000000000001"
	pool := model.PoolMetadata{
		Address: "0xPOOL000000000000000000000000000000000001",
		DexType: model.DexTypeV2,
		Token0:  target,
		Token1:  stable,
		Weight:  1,
	}
	registry := model.NewPoolRegistry()
	registry.AddPool(pool)

	deps := testDeps("ethereum", 1, registry, []model.Token{{Address: target, Decimals: 18, ChainID: 1}})
	deps.Cache.Put(1, pool.Address, model.PoolStateSample{
		PoolAddress:  pool.Address,
		SqrtPriceX96: uint256.NewInt(1000),
		Liquidity:    uint256.NewInt(2000),
		BlockNumber:  5,
		ObservedAt:   time.Now(),
	})

	svc := New(Config{Chains: []ChainDeps{deps}})

	first, err := svc.GetSnapshot(context.Background(), "ethereum", 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.GetSnapshot(context.Background(), "ethereum", 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.Entries[0].PriceUSD != second.Entries[0].PriceUSD {
		t.Fatalf("expected identical cached price, got %v vs %v", first.Entries[0].PriceUSD, second.Entries[0].PriceUSD)
	}
	if first.Entries[0].PriceUSD == syntheticPriceUSD {
		t.Fatalf("expected computed price, got synthetic fallback")
	}
}
