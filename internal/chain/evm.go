package chain

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"dexaggregator/internal/model"
)

// FactoryConfig carries the CREATE2 inputs for one dex type on one chain.
type FactoryConfig struct {
	Address      common.Address
	InitCodeHash common.Hash
}

// EVMConfig configures an EVM chain adapter.
type EVMConfig struct {
	Name              string
	ChainID           int
	RPCURLs           []string
	Multicall3Address common.Address
	V2Factory         FactoryConfig
	V3Factory         FactoryConfig
}

// EVMAdapter is a Chain Adapter backed by one or more go-ethereum RPC
// endpoints, round-robin-selected per call (mirroring the teacher's single
// `*chain.Client` wrapper, generalized to a pool of them).
type EVMAdapter struct {
	cfg EVMConfig

	mu       sync.Mutex
	clients  []*ethclient.Client
	rpcConns []*rpc.Client
	next     int
}

// NewEVMAdapter dials every configured RPC URL eagerly; a failure to dial
// any one of them is fatal to construction, matching the teacher's
// `chain.NewClient` which treats dial failure as fatal to its single
// connection.
func NewEVMAdapter(ctx context.Context, cfg EVMConfig) (*EVMAdapter, error) {
	if len(cfg.RPCURLs) == 0 {
		return nil, fmt.Errorf("evm adapter %s: no rpc urls configured", cfg.Name)
	}

	a := &EVMAdapter{cfg: cfg}
	for _, url := range cfg.RPCURLs {
		rpcClient, err := rpc.DialContext(ctx, url)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		a.rpcConns = append(a.rpcConns, rpcClient)
		a.clients = append(a.clients, ethclient.NewClient(rpcClient))
	}
	return a, nil
}

// Close releases every underlying RPC connection.
func (a *EVMAdapter) Close() {
	for _, c := range a.rpcConns {
		c.Close()
	}
}

func (a *EVMAdapter) pickClient() *ethclient.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.clients[a.next%len(a.clients)]
	a.next++
	return c
}

func (a *EVMAdapter) ChainName() string { return a.cfg.Name }
func (a *EVMAdapter) ChainID() int      { return a.cfg.ChainID }

// ComputePoolAddress derives the canonical Uniswap V2/V3-style pool address
// via CREATE2, without any on-chain call. feeTier nil selects the v2
// (factory+salt-of-token-pair) formula; non-nil selects the v3 formula
// (salt includes the fee tier).
func (a *EVMAdapter) ComputePoolAddress(tokenA, tokenB string, feeTier *uint32) (string, bool) {
	if !common.IsHexAddress(tokenA) || !common.IsHexAddress(tokenB) {
		return "", false
	}
	t0, t1 := common.HexToAddress(tokenA), common.HexToAddress(tokenB)
	if bytes.Compare(t0.Bytes(), t1.Bytes()) > 0 {
		t0, t1 = t1, t0
	}

	if feeTier == nil {
		return create2Address(a.cfg.V2Factory, v2Salt(t0, t1)).Hex(), true
	}
	return create2Address(a.cfg.V3Factory, v3Salt(t0, t1, *feeTier)).Hex(), true
}

// v2Salt matches UniswapV2Library.pairFor: keccak256(abi.encodePacked(token0, token1)).
func v2Salt(token0, token1 common.Address) common.Hash {
	packed := append(append([]byte{}, token0.Bytes()...), token1.Bytes()...)
	return crypto.Keccak256Hash(packed)
}

// v3Salt matches PoolAddress.computeAddress: keccak256(abi.encode(token0, token1, fee)).
func v3Salt(token0, token1 common.Address, fee uint32) common.Hash {
	addressTy, _ := abi.NewType("address", "", nil)
	uint24Ty, _ := abi.NewType("uint24", "", nil)
	args := abi.Arguments{{Type: addressTy}, {Type: addressTy}, {Type: uint24Ty}}
	encoded, err := args.Pack(token0, token1, new(big.Int).SetUint64(uint64(fee)))
	if err != nil {
		return common.Hash{}
	}
	return crypto.Keccak256Hash(encoded)
}

// create2Address implements keccak256(0xff ++ factory ++ salt ++ initCodeHash)[12:].
func create2Address(factory FactoryConfig, salt common.Hash) common.Address {
	data := make([]byte, 0, 1+20+32+32)
	data = append(data, 0xff)
	data = append(data, factory.Address.Bytes()...)
	data = append(data, salt.Bytes()...)
	data = append(data, factory.InitCodeHash.Bytes()...)
	hash := crypto.Keccak256(data)
	return common.BytesToAddress(hash[12:])
}

// ReadPoolState performs a single eth_call against the pool contract,
// branching on dex type for the method set.
func (a *EVMAdapter) ReadPoolState(ctx context.Context, poolAddr string, dexType model.DexType) (PoolState, error) {
	if !common.IsHexAddress(poolAddr) {
		return PoolState{}, fmt.Errorf("%w: %s", model.ErrInvalidAddress, poolAddr)
	}
	pool := common.HexToAddress(poolAddr)
	client := a.pickClient()

	switch dexType {
	case model.DexTypeV3:
		return a.readV3PoolState(ctx, client, pool)
	default:
		return a.readV2PoolState(ctx, client, pool)
	}
}

func (a *EVMAdapter) readV3PoolState(ctx context.Context, client *ethclient.Client, pool common.Address) (PoolState, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return PoolState{}, fmt.Errorf("parse v3 pool abi: %w", err)
	}

	token0, err := callAddress(ctx, client, pool, poolABI, "token0")
	if err != nil {
		return PoolState{}, err
	}
	token1, err := callAddress(ctx, client, pool, poolABI, "token1")
	if err != nil {
		return PoolState{}, err
	}
	feeBig, err := callUint(ctx, client, pool, poolABI, "fee")
	if err != nil {
		return PoolState{}, err
	}
	fee := uint32(feeBig.Uint64())

	values, err := callMethod(ctx, client, pool, poolABI, "slot0")
	if err != nil {
		return PoolState{}, err
	}
	if len(values) == 0 {
		return PoolState{}, &model.RPCError{Op: "slot0", Err: fmt.Errorf("empty return data")}
	}
	sqrtPriceBig, ok := values[0].(*big.Int)
	if !ok {
		return PoolState{}, &model.RPCError{Op: "slot0", Err: fmt.Errorf("unexpected sqrtPriceX96 type %T", values[0])}
	}

	liquidityBig, err := callUint(ctx, client, pool, poolABI, "liquidity")
	if err != nil {
		return PoolState{}, err
	}

	blockNumber, err := client.BlockNumber(ctx)
	if err != nil {
		return PoolState{}, &model.RPCError{Op: "block_number", Err: err}
	}

	return PoolState{
		Token0:       token0.Hex(),
		Token1:       token1.Hex(),
		FeeTier:      &fee,
		SqrtPriceX96: uint256.MustFromBig(sqrtPriceBig),
		Liquidity:    uint256.MustFromBig(liquidityBig),
		BlockNumber:  blockNumber,
	}, nil
}

func (a *EVMAdapter) readV2PoolState(ctx context.Context, client *ethclient.Client, pool common.Address) (PoolState, error) {
	pairABI, err := V2PairABI()
	if err != nil {
		return PoolState{}, fmt.Errorf("parse v2 pair abi: %w", err)
	}

	token0, err := callAddress(ctx, client, pool, pairABI, "token0")
	if err != nil {
		return PoolState{}, err
	}
	token1, err := callAddress(ctx, client, pool, pairABI, "token1")
	if err != nil {
		return PoolState{}, err
	}

	values, err := callMethod(ctx, client, pool, pairABI, "getReserves")
	if err != nil {
		return PoolState{}, err
	}
	if len(values) < 2 {
		return PoolState{}, &model.RPCError{Op: "getReserves", Err: fmt.Errorf("unexpected return arity %d", len(values))}
	}
	reserve0, ok0 := values[0].(*big.Int)
	reserve1, ok1 := values[1].(*big.Int)
	if !ok0 || !ok1 {
		return PoolState{}, &model.RPCError{Op: "getReserves", Err: fmt.Errorf("unexpected reserve types")}
	}

	blockNumber, err := client.BlockNumber(ctx)
	if err != nil {
		return PoolState{}, &model.RPCError{Op: "block_number", Err: err}
	}

	return PoolState{
		Token0:       token0.Hex(),
		Token1:       token1.Hex(),
		SqrtPriceX96: uint256.MustFromBig(reserve0),
		Liquidity:    uint256.MustFromBig(reserve1),
		BlockNumber:  blockNumber,
	}, nil
}

// Aggregate performs one Multicall3 aggregate call against the chain's
// configured Multicall3Address.
func (a *EVMAdapter) Aggregate(ctx context.Context, calls []Call) (uint64, [][]byte, error) {
	if len(calls) == 0 {
		return 0, nil, nil
	}

	mcABI, err := Multicall3ABI()
	if err != nil {
		return 0, nil, fmt.Errorf("parse multicall3 abi: %w", err)
	}

	type call3 struct {
		Target   common.Address
		CallData []byte
	}
	packedCalls := make([]call3, len(calls))
	for i, c := range calls {
		packedCalls[i] = call3{Target: c.Target, CallData: c.CallData}
	}

	data, err := mcABI.Pack("aggregate", packedCalls)
	if err != nil {
		return 0, nil, fmt.Errorf("pack aggregate: %w", err)
	}

	client := a.pickClient()
	target := a.cfg.Multicall3Address
	msg := ethereum.CallMsg{To: &target, Data: data}
	resp, err := client.CallContract(ctx, msg, nil)
	if err != nil {
		return 0, nil, &model.RPCError{Op: "aggregate", Err: err}
	}

	values, err := mcABI.Unpack("aggregate", resp)
	if err != nil {
		return 0, nil, fmt.Errorf("unpack aggregate: %w", err)
	}
	if len(values) != 2 {
		return 0, nil, fmt.Errorf("unexpected aggregate return arity %d", len(values))
	}
	blockNumberBig, ok := values[0].(*big.Int)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected aggregate blockNumber type %T", values[0])
	}
	returnData, ok := values[1].([][]byte)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected aggregate returnData type %T", values[1])
	}

	return blockNumberBig.Uint64(), returnData, nil
}

func callMethod(ctx context.Context, client *ethclient.Client, target common.Address, parsed abi.ABI, method string) ([]interface{}, error) {
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &target, Data: data}
	resp, err := client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, &model.RPCError{Op: method, Err: err}
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("%w: %s has no contract code", model.ErrPoolNotFound, target.Hex())
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func callAddress(ctx context.Context, client *ethclient.Client, target common.Address, parsed abi.ABI, method string) (common.Address, error) {
	values, err := callMethod(ctx, client, target, parsed, method)
	if err != nil {
		return common.Address{}, err
	}
	if len(values) == 0 {
		return common.Address{}, &model.RPCError{Op: method, Err: fmt.Errorf("empty return data")}
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, &model.RPCError{Op: method, Err: fmt.Errorf("unexpected type %T", values[0])}
	}
	return addr, nil
}

func callUint(ctx context.Context, client *ethclient.Client, target common.Address, parsed abi.ABI, method string) (*big.Int, error) {
	values, err := callMethod(ctx, client, target, parsed, method)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, &model.RPCError{Op: method, Err: fmt.Errorf("empty return data")}
	}
	switch v := values[0].(type) {
	case *big.Int:
		return v, nil
	case uint8:
		return big.NewInt(int64(v)), nil
	default:
		return nil, &model.RPCError{Op: method, Err: fmt.Errorf("unexpected type %T", values[0])}
	}
}
