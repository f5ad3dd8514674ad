package scheduler

import (
	"context"
	"math/big"
	"testing"
	"time"

	"dexaggregator/internal/cache"
	"dexaggregator/internal/chain"
	"dexaggregator/internal/controller"
	"dexaggregator/internal/model"
	"dexaggregator/internal/multicall"
	"dexaggregator/internal/storage"
)

type fakeAdapter struct {
	blockNumber uint64
	reserve0    int64
	reserve1    int64
}

func (f *fakeAdapter) ChainName() string { return "test" }
func (f *fakeAdapter) ChainID() int      { return 1 }
func (f *fakeAdapter) ComputePoolAddress(tokenA, tokenB string, feeTier *uint32) (string, bool) {
	return "", false
}
func (f *fakeAdapter) ReadPoolState(ctx context.Context, poolAddr string, dexType model.DexType) (chain.PoolState, error) {
	return chain.PoolState{}, nil
}
func (f *fakeAdapter) Aggregate(ctx context.Context, calls []chain.Call) (uint64, [][]byte, error) {
	pairABI, _ := chain.V2PairABI()
	returnData := make([][]byte, len(calls))
	for i := range calls {
		data, _ := pairABI.Methods["getReserves"].Outputs.Pack(big.NewInt(f.reserve0), big.NewInt(f.reserve1), uint32(0))
		returnData[i] = data
	}
	return f.blockNumber, returnData, nil
}

type fakeStore struct {
	registry *model.PoolRegistry
}

func (f *fakeStore) GetPoolRegistry(chainID int) (*model.PoolRegistry, error) { return f.registry, nil }
func (f *fakeStore) SavePoolRegistry(chainID int, r *model.PoolRegistry) error {
	f.registry = r
	return nil
}

func newTestRegistry(poolAddr string) *model.PoolRegistry {
	r := model.NewPoolRegistry()
	r.AddPool(model.PoolMetadata{
		Address: poolAddr,
		DexType: model.DexTypeV2,
		Token0:  "0xAAA0000000000000000000000000000000000001",
		Token1:  "0xBBB0000000000000000000000000000000000002",
		Weight:  1,
	})
	return r
}

func TestTickChainUpdatesCacheOnSuccess(t *testing.T) {
	poolAddr := "0xF001000000000000000000000000000000000001"
	ctrl := controller.New(nil)
	ctrl.Track(1, poolAddr)
	if err := ctrl.SetNextRefresh(1, poolAddr, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store := &fakeStore{registry: newTestRegistry(poolAddr)}
	adapter := &fakeAdapter{blockNumber: 7, reserve0: 1000, reserve1: 2000}
	engine := multicall.New(adapter, multicall.DefaultMaxBatchWeight, 0)
	c := cache.New()

	s := New(Config{
		Controller: ctrl,
		Cache:      c,
		Store:      store,
		Engines:    map[int]*multicall.Engine{1: engine},
	})

	due := ctrl.GetPoolsForRefresh()
	s.tickChain(context.Background(), 1, due)

	sample, ok := c.Get(1, poolAddr)
	if !ok {
		t.Fatalf("expected cache entry after successful tick")
	}
	if sample.BlockNumber != 7 {
		t.Fatalf("expected block number 7, got %d", sample.BlockNumber)
	}

	pool, ok := ctrl.Get(1, poolAddr)
	if !ok {
		t.Fatalf("expected pool still tracked")
	}
	if pool.LastBlockSeen != 7 {
		t.Fatalf("expected lastBlockSeen updated to 7, got %d", pool.LastBlockSeen)
	}
}

func TestTickChainSkipsRecomputeOnSameBlock(t *testing.T) {
	poolAddr := "0xF001000000000000000000000000000000000001"
	ctrl := controller.New(nil)
	ctrl.Track(1, poolAddr)
	if err := ctrl.RecordObservation(1, poolAddr, 7, 1.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ctrl.SetNextRefresh(1, poolAddr, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store := &fakeStore{registry: newTestRegistry(poolAddr)}
	adapter := &fakeAdapter{blockNumber: 7, reserve0: 1000, reserve1: 2000}
	engine := multicall.New(adapter, multicall.DefaultMaxBatchWeight, 0)
	c := cache.New()

	s := New(Config{
		Controller: ctrl,
		Cache:      c,
		Store:      store,
		Engines:    map[int]*multicall.Engine{1: engine},
	})

	due := ctrl.GetPoolsForRefresh()
	s.tickChain(context.Background(), 1, due)

	if _, ok := c.Get(1, poolAddr); ok {
		t.Fatalf("expected no cache write on block-aware skip")
	}

	pool, ok := ctrl.Get(1, poolAddr)
	if !ok || pool.LastPrice != 1.5 {
		t.Fatalf("expected lastPrice to remain unchanged on block-aware skip, got %+v", pool)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	s := New(Config{
		Controller: controller.New(nil),
		Cache:      cache.New(),
		Store:      &fakeStore{registry: model.NewPoolRegistry()},
		Engines:    map[int]*multicall.Engine{},
		Period:     time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Start(ctx)

	s.mu.Lock()
	running := s.started
	s.mu.Unlock()
	if !running {
		t.Fatalf("expected scheduler to be running after Start")
	}

	s.Stop()
}

var _ storage.Storage = (*fakeStore)(nil)
