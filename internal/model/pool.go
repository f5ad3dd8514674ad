package model

// DexType distinguishes the AMM family a pool belongs to; the two families
// expose different read shapes (reserves vs. sqrtPriceX96) and cost the
// multicall engine a different weight per read.
type DexType string

const (
	DexTypeV2 DexType = "v2"
	DexTypeV3 DexType = "v3"
)

// Weight returns the multicall weight for the dex type: a v3 read costs two
// sub-calls (slot0 + liquidity) against a v2 read's one (getReserves).
func (d DexType) Weight() int {
	if d == DexTypeV3 {
		return 2
	}
	return 1
}

// PoolMetadata is the persisted, immutable description of a pricing pool.
// Token0/Token1 follow EVM convention (token0 < token1 lexicographically);
// the pair itself is semantically unordered.
type PoolMetadata struct {
	Address string  `json:"address"`
	DexType DexType `json:"dexType"`
	Token0  string  `json:"token0"`
	Token1  string  `json:"token1"`
	FeeTier *uint32 `json:"feeTier,omitempty"`
	Weight  int     `json:"weight"`
}

// Valid reports whether the metadata satisfies the feeTier<=>v3 invariant.
func (p PoolMetadata) Valid() bool {
	hasFee := p.FeeTier != nil
	return hasFee == (p.DexType == DexTypeV3)
}

// OtherToken returns the pool's leg that is not the given token, and whether
// the given token actually belongs to this pool.
func (p PoolMetadata) OtherToken(token string) (string, bool) {
	token = Lower(token)
	t0, t1 := Lower(p.Token0), Lower(p.Token1)
	switch token {
	case t0:
		return p.Token1, true
	case t1:
		return p.Token0, true
	default:
		return "", false
	}
}
