// Package chain implements the per-network Chain Adapter: deterministic
// pool-address derivation, single-pool state reads, and Multicall3 batched
// reads, on top of go-ethereum's RPC client.
package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"dexaggregator/internal/model"
)

// Call is one Multicall3 sub-call: a contract address and ABI-encoded
// calldata.
type Call struct {
	Target   common.Address
	CallData []byte
}

// PoolState is the result of a single on-chain pool read. For v2 pools,
// SqrtPriceX96 carries reserve0 and Liquidity carries reserve1 — the same
// two-field shape the Multicall Engine returns for every pool regardless of
// dex type, so downstream components (cache, pricing) never branch on it.
type PoolState struct {
	Token0       string
	Token1       string
	FeeTier      *uint32
	SqrtPriceX96 *uint256.Int
	Liquidity    *uint256.Int
	BlockNumber  uint64
}

// Adapter is the capability set the rest of the system requires from a
// chain connection (spec §4.2). The mock adapter used for local development
// satisfies the same contract.
type Adapter interface {
	ChainName() string
	ChainID() int

	// ComputePoolAddress derives the deterministic pool address for the
	// (tokenA, tokenB, feeTier) product. feeTier is nil for v2. Returns
	// ok=false when the pair/fee combination has no canonical pool (e.g. an
	// unsupported factory).
	ComputePoolAddress(tokenA, tokenB string, feeTier *uint32) (address string, ok bool)

	// ReadPoolState performs a single eth_call read of a pool's current
	// state. Returns model.ErrPoolNotFound if the address has no contract
	// code, or a *model.RPCError on transport failure.
	ReadPoolState(ctx context.Context, poolAddr string, dexType model.DexType) (PoolState, error)

	// Aggregate performs one Multicall3 aggregate call. Sub-call failures
	// surface as empty entries in returnData at the corresponding index;
	// the caller (Multicall Engine) is responsible for interpreting them.
	Aggregate(ctx context.Context, calls []Call) (blockNumber uint64, returnData [][]byte, err error)
}
