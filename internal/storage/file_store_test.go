package storage

import (
	"path/filepath"
	"testing"

	"dexaggregator/internal/model"
)

func TestFileStoreGetMissingReturnsEmptyRegistry(t *testing.T) {
	store := NewFileStore(t.TempDir())

	registry, err := store.GetPoolRegistry(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(registry.Pools) != 0 {
		t.Fatalf("expected empty registry, got %d pools", len(registry.Pools))
	}
}

func TestFileStoreSaveThenLoadRoundTrips(t *testing.T) {
	store := NewFileStore(t.TempDir())

	fee := uint32(3000)
	registry := model.NewPoolRegistry()
	registry.AddPool(model.PoolMetadata{
		Address: "0xPOOL000000000000000000000000000000000001",
		DexType: model.DexTypeV3,
		Token0:  "0xAAA0000000000000000000000000000000000001",
		Token1:  "0xBBB0000000000000000000000000000000000002",
		FeeTier: &fee,
		Weight:  2,
	})

	if err := store.SavePoolRegistry(1, registry); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.GetPoolRegistry(1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Pools) != len(registry.Pools) {
		t.Fatalf("expected %d pools, got %d", len(registry.Pools), len(loaded.Pools))
	}

	pool, ok := loaded.Pool("0xPOOL000000000000000000000000000000000001")
	if !ok {
		t.Fatalf("expected persisted pool to round-trip")
	}
	if pool.FeeTier == nil || *pool.FeeTier != 3000 {
		t.Fatalf("expected fee tier 3000 to round-trip, got %v", pool.FeeTier)
	}

	routes := loaded.RoutesFor("0xAAA0000000000000000000000000000000000001")
	if len(routes) != 1 {
		t.Fatalf("expected pricing routes to round-trip, got %d", len(routes))
	}
}

func TestFileStoreIsolatesChainsOnDisk(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)

	r1 := model.NewPoolRegistry()
	r1.AddPool(model.PoolMetadata{
		Address: "0xPOOL000000000000000000000000000000000001",
		DexType: model.DexTypeV2,
		Token0:  "0xAAA0000000000000000000000000000000000001",
		Token1:  "0xBBB0000000000000000000000000000000000002",
		Weight:  1,
	})
	if err := store.SavePoolRegistry(1, r1); err != nil {
		t.Fatalf("save chain 1: %v", err)
	}

	loaded137, err := store.GetPoolRegistry(137)
	if err != nil {
		t.Fatalf("load chain 137: %v", err)
	}
	if len(loaded137.Pools) != 0 {
		t.Fatalf("expected chain 137 registry to remain empty, got %d pools", len(loaded137.Pools))
	}

	if got := store.path(1); filepath.Dir(filepath.Dir(got)) != dir {
		t.Fatalf("expected chain-scoped path under %s, got %s", dir, got)
	}
}
