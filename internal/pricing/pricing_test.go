package pricing

import (
	"math"
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	"dexaggregator/internal/model"
)

func sqrtPriceForRatio1() *uint256.Int {
	twoPow96 := new(big.Int).Lsh(big.NewInt(1), 96)
	return uint256.MustFromBig(twoPow96)
}

func v2Pool(reserve0, reserve1 string, dec0, dec1 uint8) Pool {
	return Pool{
		Meta: model.PoolMetadata{
			DexType: model.DexTypeV2,
			Token0:  "0x0000000000000000000000000000000000000001",
			Token1:  "0x0000000000000000000000000000000000000002",
		},
		Sample: model.PoolStateSample{
			SqrtPriceX96: uint256.MustFromDecimal(reserve0),
			Liquidity:    uint256.MustFromDecimal(reserve1),
		},
		Token0Decimal: dec0,
		Token1Decimal: dec1,
	}
}

func TestComputeSpotPriceV2SameDecimals(t *testing.T) {
	pool := v2Pool("1000", "2000", 18, 18)
	price := ComputeSpotPrice(pool, pool.Meta.Token0, pool.Meta.Token1)
	if math.Abs(price-2.0) > 1e-9 {
		t.Fatalf("expected price 2.0, got %v", price)
	}
}

func TestComputeSpotPriceV2DecimalAdjusted(t *testing.T) {
	// token0 has 6 decimals (USDC-like), token1 has 18 (WETH-like).
	pool := v2Pool("1000000", "1", 6, 18)
	price := ComputeSpotPrice(pool, pool.Meta.Token0, pool.Meta.Token1)
	// raw ratio reserve1/reserve0 = 1/1_000_000, scaled by 10^(6-18).
	want := (1.0 / 1_000_000.0) * math.Pow10(6-18)
	if math.Abs(price-want) > want*1e-9 {
		t.Fatalf("expected %v, got %v", want, price)
	}
}

func TestComputeSpotPriceV2UnknownToken(t *testing.T) {
	pool := v2Pool("1000", "2000", 18, 18)
	price := ComputeSpotPrice(pool, "0x000000000000000000000000000000000000ff", pool.Meta.Token1)
	if price != 0 {
		t.Fatalf("expected 0 for unknown target token, got %v", price)
	}
}

func v3Pool(sqrtPriceX96 *uint256.Int, liquidity uint64) Pool {
	return Pool{
		Meta: model.PoolMetadata{
			DexType: model.DexTypeV3,
			Token0:  "0x0000000000000000000000000000000000000001",
			Token1:  "0x0000000000000000000000000000000000000002",
		},
		Sample: model.PoolStateSample{
			SqrtPriceX96: sqrtPriceX96,
			Liquidity:    uint256.NewInt(liquidity),
		},
		Token0Decimal: 18,
		Token1Decimal: 18,
	}
}

func TestComputeSpotPriceV3PriceOfToken0(t *testing.T) {
	// sqrtPriceX96 = 2^96 means price(token0 in token1) == 1.
	sqrtPriceX96 := sqrtPriceForRatio1()
	pool := v3Pool(sqrtPriceX96, 1000)
	price := ComputeSpotPrice(pool, pool.Meta.Token0, pool.Meta.Token1)
	if math.Abs(price-1.0) > 1e-6 {
		t.Fatalf("expected price 1.0, got %v", price)
	}
}

func TestComputeSpotPriceV3InvertsForToken1(t *testing.T) {
	sqrtPriceX96 := sqrtPriceForRatio1()
	pool := v3Pool(sqrtPriceX96, 1000)
	price := ComputeSpotPrice(pool, pool.Meta.Token1, pool.Meta.Token0)
	if math.Abs(price-1.0) > 1e-6 {
		t.Fatalf("expected inverted price 1.0, got %v", price)
	}
}

func TestComputeSpotPriceV3UnknownQuoteToken(t *testing.T) {
	sqrtPriceX96 := sqrtPriceForRatio1()
	pool := v3Pool(sqrtPriceX96, 1000)
	price := ComputeSpotPrice(pool, pool.Meta.Token0, "0x000000000000000000000000000000000000ff")
	if price != 0 {
		t.Fatalf("expected 0 when quote token is neither pool leg, got %v", price)
	}
}

func TestComputeSpotPriceV3ZeroSqrtPrice(t *testing.T) {
	pool := v3Pool(uint256.NewInt(0), 1000)
	price := ComputeSpotPrice(pool, pool.Meta.Token0, pool.Meta.Token1)
	if price != 0 {
		t.Fatalf("expected 0 price for sqrtPriceX96=0, got %v", price)
	}
}

func TestComputeLiquidityUSDV2(t *testing.T) {
	pool := v2Pool("1000000000000", "500000000000000000000", 6, 18)
	got := ComputeLiquidityUSD(pool, 1.0, 2000.0)
	wantReserve0 := 1_000_000.0
	wantReserve1 := 500.0
	want := wantReserve0*1.0 + wantReserve1*2000.0
	if math.Abs(got-want) > want*1e-6 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestComputeLiquidityUSDV3Approximation(t *testing.T) {
	pool := v3Pool(uint256.NewInt(1), 1_000_000)
	got := ComputeLiquidityUSD(pool, 100.0, 400.0)
	want := 1_000_000.0 * 2 * math.Sqrt(100.0*400.0)
	if math.Abs(got-want) > want*1e-6 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
