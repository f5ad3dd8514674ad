package discovery

import (
	"context"
	"testing"
	"time"

	"dexaggregator/internal/chain"
	"dexaggregator/internal/model"
)

type stubAdapter struct {
	discoverable map[string]bool
	calls        int
}

func (s *stubAdapter) ChainName() string { return "test" }
func (s *stubAdapter) ChainID() int      { return 1 }

func (s *stubAdapter) ComputePoolAddress(tokenA, tokenB string, feeTier *uint32) (string, bool) {
	s.calls++
	key := model.Lower(tokenA) + model.Lower(tokenB)
	if s.discoverable[key] {
		return "0xPOOL000000000000000000000000000000000001", true
	}
	return "0xDEAD000000000000000000000000000000000001", true
}

func (s *stubAdapter) ReadPoolState(ctx context.Context, poolAddr string, dexType model.DexType) (chain.PoolState, error) {
	if poolAddr == "0xPOOL000000000000000000000000000000000001" {
		return chain.PoolState{Token0: "0xTARGET000000000000000000000000000000001", Token1: "0xBASE0000000000000000000000000000000001"}, nil
	}
	return chain.PoolState{}, model.ErrPoolNotFound
}

func (s *stubAdapter) Aggregate(ctx context.Context, calls []chain.Call) (uint64, [][]byte, error) {
	return 0, nil, nil
}

type stubStorage struct {
	saved map[int]*model.PoolRegistry
}

func newStubStorage() *stubStorage { return &stubStorage{saved: make(map[int]*model.PoolRegistry)} }

func (s *stubStorage) GetPoolRegistry(chainID int) (*model.PoolRegistry, error) {
	if r, ok := s.saved[chainID]; ok {
		return r, nil
	}
	return model.NewPoolRegistry(), nil
}

func (s *stubStorage) SavePoolRegistry(chainID int, registry *model.PoolRegistry) error {
	s.saved[chainID] = registry
	return nil
}

func noSleep(time.Duration) {}

func TestDiscoverFindsPoolAndPersists(t *testing.T) {
	adapter := &stubAdapter{discoverable: map[string]bool{
		model.Lower("0xTARGET000000000000000000000000000000001") + model.Lower("0xBASE0000000000000000000000000000000001"): true,
	}}
	store := newStubStorage()
	m := New(Config{Adapter: adapter, Store: store, BaseTokens: []string{"0xBASE0000000000000000000000000000000001"}})
	m.sleep = noSleep

	registry := model.NewPoolRegistry()
	if err := m.Discover(context.Background(), 1, registry, "0xTARGET000000000000000000000000000000001"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	routes := registry.RoutesFor("0xTARGET000000000000000000000000000000001")
	if len(routes) == 0 {
		t.Fatalf("expected discovery to add a pricing route")
	}
	if _, ok := store.saved[1]; !ok {
		t.Fatalf("expected registry to be persisted after discovery")
	}
}

func TestDiscoverSkipsWithinRetryWindow(t *testing.T) {
	adapter := &stubAdapter{discoverable: map[string]bool{}}
	store := newStubStorage()
	m := New(Config{Adapter: adapter, Store: store, BaseTokens: []string{"0xBASE0000000000000000000000000000000001"}, RetryWindow: time.Hour})
	m.sleep = noSleep

	registry := model.NewPoolRegistry()
	token := "0xTARGET000000000000000000000000000000001"

	if err := m.Discover(context.Background(), 1, registry, token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	callsAfterFirst := adapter.calls

	if err := m.Discover(context.Background(), 1, registry, token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adapter.calls != callsAfterFirst {
		t.Fatalf("expected second call within retry window to be a no-op, adapter was probed again")
	}
}

func TestDiscoverSerializesConcurrentCallsForSameToken(t *testing.T) {
	adapter := &stubAdapter{discoverable: map[string]bool{}}
	store := newStubStorage()
	m := New(Config{Adapter: adapter, Store: store, BaseTokens: []string{"0xBASE0000000000000000000000000000000001"}})
	m.sleep = noSleep

	token := "0xTARGET000000000000000000000000000000001"
	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			registry := model.NewPoolRegistry()
			_ = m.Discover(context.Background(), 1, registry, token)
			done <- struct{}{}
		}()
	}
	<-done
	<-done
	// the second call observes the window set by the first and skips its
	// probe loop entirely, so only one base x fee-tier sweep is probed.
	if adapter.calls != len(DefaultFeeTiers) {
		t.Fatalf("expected exactly one probe sweep (%d probes), got %d", len(DefaultFeeTiers), adapter.calls)
	}
}
