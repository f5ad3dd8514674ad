package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"dexaggregator/internal/cache"
	"dexaggregator/internal/chain"
	"dexaggregator/internal/controller"
	"dexaggregator/internal/discovery"
	"dexaggregator/internal/model"
	"dexaggregator/internal/snapshot"
	"dexaggregator/internal/storage"
)

type stubStorage struct {
	registry *model.PoolRegistry
}

func (s *stubStorage) GetPoolRegistry(chainID int) (*model.PoolRegistry, error) {
	return s.registry, nil
}

func (s *stubStorage) SavePoolRegistry(chainID int, registry *model.PoolRegistry) error {
	s.registry = registry
	return nil
}

func newTestController(t *testing.T) *Controller {
	t.Helper()
	adapter := chain.NewMockAdapter("ethereum", 1)
	store := &stubStorage{registry: model.NewPoolRegistry()}
	deps := snapshot.ChainDeps{
		Name:       "ethereum",
		ChainID:    1,
		Adapter:    adapter,
		Store:      store,
		Controller: controller.New(nil),
		Cache:      cache.New(),
		Discovery:  discovery.New(discovery.Config{Adapter: adapter, Store: store}),
		StaticTokens: []model.Token{
			{Address: "0xWETH0000000000000000000000000000000001", Symbol: "WETH", Decimals: 18, ChainID: 1},
		},
		StableAddress: "0xSTABLE000000000000000000000000000000001",
	}
	svc := snapshot.New(snapshot.Config{Chains: []snapshot.ChainDeps{deps}})
	var registryStore storage.Storage = store
	return NewController(svc, map[string]RegistryChain{"ethereum": {ChainID: 1, Store: registryStore}}, nil)
}

func TestHandleSnapshotKnownChain(t *testing.T) {
	c := newTestController(t)
	req := httptest.NewRequest(http.MethodGet, "/api/snapshots/ethereum?offset=0&limit=1", nil)
	rec := httptest.NewRecorder()

	c.NewRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var snap model.ChainSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(snap.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(snap.Entries))
	}
}

func TestHandleSnapshotUnknownChain(t *testing.T) {
	c := newTestController(t)
	req := httptest.NewRequest(http.MethodGet, "/api/snapshots/solana", nil)
	rec := httptest.NewRecorder()

	c.NewRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	c := newTestController(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	c.NewRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleRegistryUnknownChain(t *testing.T) {
	c := newTestController(t)
	req := httptest.NewRequest(http.MethodGet, "/api/registry/solana", nil)
	rec := httptest.NewRecorder()

	c.NewRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
