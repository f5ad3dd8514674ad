package model

import "strings"

// Token describes an ERC20 token tracked on a specific chain.
type Token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
	ChainID  int    `json:"chainId"`
	LogoURI  string `json:"logoURI,omitempty"`
}

// Lower returns the canonical lowercase-hex address used as map keys
// throughout the registry, controller, and cache. Registries, the pool
// controller, and the cache are all partitioned per chain already, so the
// identity key within any one of them is just the lowercase address.
func Lower(address string) string {
	return strings.ToLower(address)
}

// Key returns the lowercase-address identity used within this token's chain.
func (t Token) Key() string {
	return Lower(t.Address)
}
