package model

import (
	"encoding/json"
	"time"

	"github.com/holiman/uint256"
)

// PoolStateSample is the cached last-observed state of a pool: the raw
// sqrtPriceX96/liquidity words plus the chain block they were read at.
// sqrtPriceX96 and Liquidity are EVM 256-bit words, so they are modeled
// with uint256.Int (as go-ethereum itself does for on-chain values)
// instead of a plain big.Int.
type PoolStateSample struct {
	PoolAddress  string
	SqrtPriceX96 *uint256.Int
	Liquidity    *uint256.Int
	BlockNumber  uint64
	ObservedAt   time.Time
}

// poolStateSampleJSON is the wire shape: uint256 fields serialize as decimal
// strings, matching the teacher's convention for uint256/int256 event
// fields (model.SwapEventData.Amount0 etc. in the teacher repo).
type poolStateSampleJSON struct {
	PoolAddress  string    `json:"poolAddress"`
	SqrtPriceX96 string    `json:"sqrtPriceX96"`
	Liquidity    string    `json:"liquidity"`
	BlockNumber  uint64    `json:"blockNumber"`
	ObservedAt   time.Time `json:"observedAt"`
}

// MarshalJSON renders the uint256 fields as decimal strings.
func (s PoolStateSample) MarshalJSON() ([]byte, error) {
	sqrt := "0"
	if s.SqrtPriceX96 != nil {
		sqrt = s.SqrtPriceX96.Dec()
	}
	liq := "0"
	if s.Liquidity != nil {
		liq = s.Liquidity.Dec()
	}
	return json.Marshal(poolStateSampleJSON{
		PoolAddress:  s.PoolAddress,
		SqrtPriceX96: sqrt,
		Liquidity:    liq,
		BlockNumber:  s.BlockNumber,
		ObservedAt:   s.ObservedAt,
	})
}

// UnmarshalJSON parses the decimal-string uint256 fields back into words.
func (s *PoolStateSample) UnmarshalJSON(data []byte) error {
	var raw poolStateSampleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	sqrt := uint256.NewInt(0)
	if raw.SqrtPriceX96 != "" {
		_ = sqrt.SetFromDecimal(raw.SqrtPriceX96)
	}
	liq := uint256.NewInt(0)
	if raw.Liquidity != "" {
		_ = liq.SetFromDecimal(raw.Liquidity)
	}
	*s = PoolStateSample{
		PoolAddress:  raw.PoolAddress,
		SqrtPriceX96: sqrt,
		Liquidity:    liq,
		BlockNumber:  raw.BlockNumber,
		ObservedAt:   raw.ObservedAt,
	}
	return nil
}
