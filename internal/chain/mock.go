package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"dexaggregator/internal/model"
)

// MockAdapter is a deterministic Adapter for local development and tests.
// It never dials an RPC endpoint: ComputePoolAddress always reports no
// canonical pool (spec §4.2, "returns empty pool lists"), and ReadPoolState
// synthesizes a stable price derived from the pool address so repeated
// reads in a test are reproducible.
type MockAdapter struct {
	Name  string
	ID    int
	Calls []Call
}

// NewMockAdapter builds a MockAdapter for chain name/id.
func NewMockAdapter(name string, id int) *MockAdapter {
	return &MockAdapter{Name: name, ID: id}
}

func (m *MockAdapter) ChainName() string { return m.Name }
func (m *MockAdapter) ChainID() int      { return m.ID }

// ComputePoolAddress always reports no canonical pool: the mock adapter
// carries no factory/init-code configuration, so discovery against it is a
// deliberate no-op rather than a guess at a fake address.
func (m *MockAdapter) ComputePoolAddress(tokenA, tokenB string, feeTier *uint32) (string, bool) {
	return "", false
}

// ReadPoolState derives a deterministic sqrtPriceX96/liquidity pair from the
// pool address so the same address always yields the same "price".
func (m *MockAdapter) ReadPoolState(ctx context.Context, poolAddr string, dexType model.DexType) (PoolState, error) {
	seed := seedFromAddress(poolAddr)
	return PoolState{
		Token0:       "0x0000000000000000000000000000000000000001",
		Token1:       "0x0000000000000000000000000000000000000002",
		SqrtPriceX96: uint256.NewInt(seed),
		Liquidity:    uint256.NewInt(seed * 1000),
		BlockNumber:  1,
	}, nil
}

// Aggregate echoes back a deterministic result for every call, mirroring a
// healthy Multicall3 response: each slot0, liquidity or getReserves
// sub-call is decoded by its method selector and re-encoded with a seed
// derived from the target address, the same way it would arrive from a
// real Multicall3 aggregate (spec §4.2, "MUST satisfy the same contract").
// Any other call data yields an empty entry, i.e. a failed sub-call.
func (m *MockAdapter) Aggregate(ctx context.Context, calls []Call) (uint64, [][]byte, error) {
	m.Calls = append(m.Calls, calls...)

	v2ABI, err := V2PairABI()
	if err != nil {
		return 0, nil, err
	}
	v3ABI, err := V3PoolABI()
	if err != nil {
		return 0, nil, err
	}

	returnData := make([][]byte, len(calls))
	for i, call := range calls {
		if len(call.CallData) < 4 {
			returnData[i] = []byte{}
			continue
		}

		seed := seedFromAddress(call.Target.Hex())
		selector := call.CallData[:4]

		var data []byte
		var packErr error
		if method, methodErr := v3ABI.MethodById(selector); methodErr == nil && method.Name == "slot0" {
			data, packErr = v3ABI.Methods["slot0"].Outputs.Pack(
				new(big.Int).SetUint64(seed), int32(0), uint16(0), uint16(0), uint16(0), uint8(0), true,
			)
		} else if method, methodErr := v3ABI.MethodById(selector); methodErr == nil && method.Name == "liquidity" {
			data, packErr = v3ABI.Methods["liquidity"].Outputs.Pack(new(big.Int).SetUint64(seed * 1000))
		} else if method, methodErr := v2ABI.MethodById(selector); methodErr == nil && method.Name == "getReserves" {
			data, packErr = v2ABI.Methods["getReserves"].Outputs.Pack(
				new(big.Int).SetUint64(seed), new(big.Int).SetUint64(seed*1000), uint32(0),
			)
		}
		if packErr != nil {
			return 0, nil, packErr
		}
		if data == nil {
			data = []byte{}
		}
		returnData[i] = data
	}
	return 1, returnData, nil
}

func seedFromAddress(addr string) uint64 {
	addr = strings.ToLower(strings.TrimPrefix(addr, "0x"))
	var seed uint64 = 1_000_000
	for _, r := range addr {
		seed = seed*31 + uint64(r)
	}
	if seed == 0 {
		seed = 1
	}
	return seed % 1_000_000_000
}
