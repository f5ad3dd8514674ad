// Package pricing implements the pure Pricing functions of spec §4.9: spot
// price from either V2 reserves or a V3 sqrtPriceX96, and a USD-liquidity
// heuristic for each dex type. Nothing here touches the network, the
// registry, or the cache — every function takes the already-read pool
// state/metadata and returns a float.
package pricing

import (
	"math"
	"math/big"

	"github.com/holiman/uint256"

	"dexaggregator/internal/model"
)

var twoPow96 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))

// Pool bundles the metadata and cached state a spot-price/liquidity
// computation needs, so callers in the snapshot service do not have to pass
// four or five separate arguments.
type Pool struct {
	Meta          model.PoolMetadata
	Sample        model.PoolStateSample
	Token0Decimal uint8
	Token1Decimal uint8
}

// ComputeSpotPrice returns the price of targetToken denominated in
// quoteToken, decimal-adjusted, for either dex type (spec §4.9).
//
//   - V2: reserve(quote)/reserve(target), scaled by
//     10^(decimals(target)-decimals(quote)).
//   - V3: P = (sqrtPriceX96/2^96)^2 is the price of token0 in units of
//     token1; inverted when targetToken is token1, then decimal-adjusted.
func ComputeSpotPrice(p Pool, targetToken, quoteToken string) float64 {
	target, quote := model.Lower(targetToken), model.Lower(quoteToken)
	t0, t1 := model.Lower(p.Meta.Token0), model.Lower(p.Meta.Token1)

	switch p.Meta.DexType {
	case model.DexTypeV3:
		return computeSpotPriceV3(p, target, quote, t0, t1)
	default:
		return computeSpotPriceV2(p, target, quote, t0, t1)
	}
}

func computeSpotPriceV2(p Pool, target, quote, t0, t1 string) float64 {
	reserve0 := uint256ToFloat(p.Sample.SqrtPriceX96)
	reserve1 := uint256ToFloat(p.Sample.Liquidity)

	var reserveTarget, reserveQuote float64
	var decimalsTarget, decimalsQuote uint8
	switch {
	case target == t0 && quote == t1:
		reserveTarget, reserveQuote = reserve0, reserve1
		decimalsTarget, decimalsQuote = p.Token0Decimal, p.Token1Decimal
	case target == t1 && quote == t0:
		reserveTarget, reserveQuote = reserve1, reserve0
		decimalsTarget, decimalsQuote = p.Token1Decimal, p.Token0Decimal
	default:
		return 0
	}
	if reserveTarget == 0 {
		return 0
	}

	price := reserveQuote / reserveTarget
	return price * decimalAdjustment(decimalsTarget, decimalsQuote)
}

func computeSpotPriceV3(p Pool, target, quote, t0, t1 string) float64 {
	sqrtPriceX96 := p.Sample.SqrtPriceX96
	if sqrtPriceX96 == nil {
		return 0
	}

	ratio := new(big.Float).Quo(new(big.Float).SetInt(sqrtPriceX96.ToBig()), twoPow96)
	priceToken0InToken1, _ := new(big.Float).Mul(ratio, ratio).Float64()

	var price float64
	var decimalsTarget, decimalsQuote uint8
	switch {
	case target == t0 && quote == t1:
		// price of token0 in token1 is already the target/quote direction.
		if priceToken0InToken1 == 0 {
			return 0
		}
		price = priceToken0InToken1
		decimalsTarget, decimalsQuote = p.Token0Decimal, p.Token1Decimal
	case target == t1 && quote == t0:
		if priceToken0InToken1 == 0 {
			return 0
		}
		price = 1 / priceToken0InToken1
		decimalsTarget, decimalsQuote = p.Token1Decimal, p.Token0Decimal
	default:
		return 0
	}
	return price * decimalAdjustment(decimalsTarget, decimalsQuote)
}

// decimalAdjustment returns 10^(decimalsTarget-decimalsQuote), the scaling
// factor spec §4.9 applies to both dex types' raw ratio.
func decimalAdjustment(decimalsTarget, decimalsQuote uint8) float64 {
	exp := int(decimalsTarget) - int(decimalsQuote)
	return math.Pow10(exp)
}

// ComputeLiquidityUSD returns a USD liquidity estimate for the pool, given
// the USD price of each leg (spec §4.9). V2 sums decimal-adjusted reserve
// value on both legs; V3 uses the order-of-magnitude
// liquidity*2*sqrt(price0*price1) approximation the spec explicitly
// acknowledges as a heuristic rather than an accounting figure.
func ComputeLiquidityUSD(p Pool, price0USD, price1USD float64) float64 {
	switch p.Meta.DexType {
	case model.DexTypeV3:
		liquidity := uint256ToFloat(p.Sample.Liquidity)
		if price0USD < 0 || price1USD < 0 {
			return 0
		}
		return liquidity * 2 * math.Sqrt(price0USD*price1USD)
	default:
		reserve0 := uint256ToFloat(p.Sample.SqrtPriceX96) / math.Pow10(int(p.Token0Decimal))
		reserve1 := uint256ToFloat(p.Sample.Liquidity) / math.Pow10(int(p.Token1Decimal))
		return reserve0*price0USD + reserve1*price1USD
	}
}

func uint256ToFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
