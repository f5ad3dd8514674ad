// Package multicall implements the Multicall Engine: weight-bounded batch
// construction and concurrent dispatch of Multicall3 aggregate calls across
// a chain's due pools (spec §4.5).
package multicall

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"dexaggregator/internal/chain"
	"dexaggregator/internal/model"
)

// DefaultMaxBatchWeight is the spec default (§4.5, §6).
const DefaultMaxBatchWeight = 200

// DefaultMulticallTimeout is the spec default deadline for one aggregate
// dispatch (§5, §6).
const DefaultMulticallTimeout = 8 * time.Second

// Candidate pairs a due AlivePool with its registry metadata; CreateBatches
// needs both (address/tier from the alive set, token0/token1/dexType/weight
// from the registry).
type Candidate struct {
	Pool model.AlivePool
	Meta model.PoolMetadata
}

// Result is one pool's outcome from a dispatched batch.
type Result struct {
	PoolAddress  string
	Success      bool
	SqrtPriceX96 *uint256.Int
	Liquidity    *uint256.Int
	BlockNumber  uint64
}

type subCall struct {
	method string
}

type batchEntry struct {
	candidate Candidate
	calls     []subCall
	callStart int
}

// Batch is a weight-bounded group of sub-calls ready for one Multicall3
// aggregate dispatch.
type Batch struct {
	entries []batchEntry
	calls   []chain.Call
}

// Engine builds and dispatches batches against a single chain Adapter. The
// adapter itself round-robins across configured RPC providers per call
// (internal/chain.EVMAdapter.pickClient), which is what satisfies spec
// §4.5's "round-robin provider distribution" — batches dispatched
// concurrently via errgroup naturally land on different providers in turn.
type Engine struct {
	adapter          chain.Adapter
	maxBatchWeight   int
	multicallTimeout time.Duration
}

// New builds an Engine bounded by maxBatchWeight (use DefaultMaxBatchWeight
// when unset/zero). multicallTimeout bounds every dispatched aggregate call
// (use DefaultMulticallTimeout when unset/zero; spec §5).
func New(adapter chain.Adapter, maxBatchWeight int, multicallTimeout time.Duration) *Engine {
	if maxBatchWeight <= 0 {
		maxBatchWeight = DefaultMaxBatchWeight
	}
	if multicallTimeout <= 0 {
		multicallTimeout = DefaultMulticallTimeout
	}
	return &Engine{adapter: adapter, maxBatchWeight: maxBatchWeight, multicallTimeout: multicallTimeout}
}

// CreateBatches packs candidates into weight-bounded batches. Candidates are
// first stably sorted by lowercase pool address ascending (spec §4.5 "tie-
// breaking across equal-weight pools is by lowercase address ascending
// (stable)"), then packed greedily so each batch's total weight stays at or
// under maxBatchWeight. A single pool whose own weight exceeds
// maxBatchWeight still gets its own batch rather than being dropped.
func (e *Engine) CreateBatches(candidates []Candidate) ([]Batch, error) {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return model.Lower(sorted[i].Pool.Address) < model.Lower(sorted[j].Pool.Address)
	})

	var batches []Batch
	var current []Candidate
	currentWeight := 0

	flush := func() error {
		if len(current) == 0 {
			return nil
		}
		batch, err := e.buildBatch(current)
		if err != nil {
			return err
		}
		batches = append(batches, batch)
		current = nil
		currentWeight = 0
		return nil
	}

	for _, c := range sorted {
		weight := c.Meta.Weight
		if weight == 0 {
			weight = 1
		}
		if currentWeight > 0 && currentWeight+weight > e.maxBatchWeight {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		current = append(current, c)
		currentWeight += weight
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (e *Engine) buildBatch(candidates []Candidate) (Batch, error) {
	var batch Batch
	for _, c := range candidates {
		if !common.IsHexAddress(c.Pool.Address) {
			return Batch{}, fmt.Errorf("%w: %s", model.ErrInvalidAddress, c.Pool.Address)
		}
		target := common.HexToAddress(c.Pool.Address)

		entry := batchEntry{candidate: c, callStart: len(batch.calls)}
		switch c.Meta.DexType {
		case model.DexTypeV3:
			poolABI, err := chain.V3PoolABI()
			if err != nil {
				return Batch{}, err
			}
			slot0Data, err := poolABI.Pack("slot0")
			if err != nil {
				return Batch{}, fmt.Errorf("pack slot0: %w", err)
			}
			liquidityData, err := poolABI.Pack("liquidity")
			if err != nil {
				return Batch{}, fmt.Errorf("pack liquidity: %w", err)
			}
			batch.calls = append(batch.calls,
				chain.Call{Target: target, CallData: slot0Data},
				chain.Call{Target: target, CallData: liquidityData},
			)
			entry.calls = []subCall{{method: "slot0"}, {method: "liquidity"}}
		default:
			pairABI, err := chain.V2PairABI()
			if err != nil {
				return Batch{}, err
			}
			reservesData, err := pairABI.Pack("getReserves")
			if err != nil {
				return Batch{}, fmt.Errorf("pack getReserves: %w", err)
			}
			batch.calls = append(batch.calls, chain.Call{Target: target, CallData: reservesData})
			entry.calls = []subCall{{method: "getReserves"}}
		}
		batch.entries = append(batch.entries, entry)
	}
	return batch, nil
}

// ExecuteBatches dispatches every batch concurrently against the adapter
// and joins the results preserving pool-input order within each batch.
func (e *Engine) ExecuteBatches(ctx context.Context, batches []Batch) ([]Result, error) {
	allResults := make([][]Result, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			allResults[i] = e.executeBatch(gctx, batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var results []Result
	for _, r := range allResults {
		results = append(results, r...)
	}
	return results, nil
}

// executeBatch never returns an error: an aggregate-level failure is
// represented as every pool in the batch failing (spec §4.5 "Failure
// policy"), so sibling batches are unaffected. A call that exceeds
// multicallTimeout is one such failure (spec §5, "every outbound RPC call
// has a deadline... on timeout, treated as a batch failure").
func (e *Engine) executeBatch(ctx context.Context, batch Batch) []Result {
	results := make([]Result, len(batch.entries))

	callCtx, cancel := context.WithTimeout(ctx, e.multicallTimeout)
	defer cancel()

	blockNumber, returnData, err := e.adapter.Aggregate(callCtx, batch.calls)
	if err != nil {
		for i, entry := range batch.entries {
			results[i] = Result{PoolAddress: entry.candidate.Pool.Address, Success: false, BlockNumber: 0}
		}
		return results
	}

	for i, entry := range batch.entries {
		results[i] = decodeEntry(entry, returnData, blockNumber)
	}
	return results
}

func decodeEntry(entry batchEntry, returnData [][]byte, blockNumber uint64) Result {
	poolAddress := entry.candidate.Pool.Address

	switch entry.candidate.Meta.DexType {
	case model.DexTypeV3:
		slot0Bytes := safeIndex(returnData, entry.callStart)
		liquidityBytes := safeIndex(returnData, entry.callStart+1)
		if len(slot0Bytes) == 0 || len(liquidityBytes) == 0 {
			return Result{PoolAddress: poolAddress, Success: false, BlockNumber: 0}
		}

		poolABI, err := chain.V3PoolABI()
		if err != nil {
			return Result{PoolAddress: poolAddress, Success: false, BlockNumber: 0}
		}
		slot0Values, err := poolABI.Unpack("slot0", slot0Bytes)
		if err != nil || len(slot0Values) == 0 {
			return Result{PoolAddress: poolAddress, Success: false, BlockNumber: 0}
		}
		sqrtPriceBig, ok := slot0Values[0].(*big.Int)
		if !ok {
			return Result{PoolAddress: poolAddress, Success: false, BlockNumber: 0}
		}
		liquidityValues, err := poolABI.Unpack("liquidity", liquidityBytes)
		if err != nil || len(liquidityValues) == 0 {
			return Result{PoolAddress: poolAddress, Success: false, BlockNumber: 0}
		}
		liquidityBig, ok := liquidityValues[0].(*big.Int)
		if !ok {
			return Result{PoolAddress: poolAddress, Success: false, BlockNumber: 0}
		}

		return Result{
			PoolAddress:  poolAddress,
			Success:      true,
			SqrtPriceX96: uint256.MustFromBig(sqrtPriceBig),
			Liquidity:    uint256.MustFromBig(liquidityBig),
			BlockNumber:  blockNumber,
		}
	default:
		reservesBytes := safeIndex(returnData, entry.callStart)
		if len(reservesBytes) == 0 {
			return Result{PoolAddress: poolAddress, Success: false, BlockNumber: 0}
		}
		pairABI, err := chain.V2PairABI()
		if err != nil {
			return Result{PoolAddress: poolAddress, Success: false, BlockNumber: 0}
		}
		values, err := pairABI.Unpack("getReserves", reservesBytes)
		if err != nil || len(values) < 2 {
			return Result{PoolAddress: poolAddress, Success: false, BlockNumber: 0}
		}
		reserve0, ok0 := values[0].(*big.Int)
		reserve1, ok1 := values[1].(*big.Int)
		if !ok0 || !ok1 {
			return Result{PoolAddress: poolAddress, Success: false, BlockNumber: 0}
		}
		return Result{
			PoolAddress:  poolAddress,
			Success:      true,
			SqrtPriceX96: uint256.MustFromBig(reserve0),
			Liquidity:    uint256.MustFromBig(reserve1),
			BlockNumber:  blockNumber,
		}
	}
}

func safeIndex(data [][]byte, i int) []byte {
	if i < 0 || i >= len(data) {
		return nil
	}
	return data[i]
}
