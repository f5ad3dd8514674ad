// Package tokenlist implements the Dynamic Token List Loader: a one-shot,
// startup-only fetch of external token lists (Trust Wallet for Ethereum,
// the Polygon token list for Polygon) feeding the Snapshot Service's merged
// token list (spec §4.8 step 2).
package tokenlist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dexaggregator/internal/model"
)

// DefaultTimeout is the spec default for token-list fetches (§6, §4.10).
const DefaultTimeout = 15 * time.Second

type trustWalletDocument struct {
	Tokens []trustWalletToken `json:"tokens"`
}

type trustWalletToken struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
	ChainID  int    `json:"chainId"`
	LogoURI  string `json:"logoURI"`
}

// Loader fetches one dynamic token list per configured chain and serves it
// behind copy-on-write: readers load an atomic pointer, writers swap it
// wholesale. Fetch failure is logged and treated as an empty list — the
// chain's static configured list still serves requests (spec §4.12,
// "degrade, don't fail startup").
type Loader struct {
	client  *http.Client
	logger  *zap.Logger
	lists   map[string]*atomic.Pointer[[]model.Token]
}

// New builds a Loader that tracks the given chains (lowercase chain name
// keys); call FetchAll once at startup to populate them.
func New(timeout time.Duration, chains []string, logger *zap.Logger) *Loader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	lists := make(map[string]*atomic.Pointer[[]model.Token], len(chains))
	for _, chain := range chains {
		lists[model.Lower(chain)] = &atomic.Pointer[[]model.Token]{}
	}

	return &Loader{
		client: &http.Client{Timeout: timeout},
		logger: logger,
		lists:  lists,
	}
}

// FetchAll fetches every configured chain's dynamic list once, in
// sequence; each chain's fetch failure is independent and does not affect
// the others.
func (l *Loader) FetchAll(ctx context.Context, urls map[string]string) {
	for chain, url := range urls {
		if url == "" {
			continue
		}
		if err := l.Refresh(ctx, chain, url); err != nil {
			l.logger.Warn("dynamic token list fetch failed; continuing with static list only",
				zap.String("chain", chain), zap.Error(err))
		}
	}
}

// Refresh fetches and swaps in the dynamic token list for chain. Exposed
// for a future cron-style caller; nothing in this repo invokes it after
// startup (spec §4.12, refresh scheduling is out of scope).
func (l *Loader) Refresh(ctx context.Context, chain, url string) error {
	chainKey := model.Lower(chain)
	ptr, ok := l.lists[chainKey]
	if !ok {
		ptr = &atomic.Pointer[[]model.Token]{}
		l.lists[chainKey] = ptr
	}

	tokens, err := l.fetch(ctx, url)
	if err != nil {
		return err
	}
	ptr.Store(&tokens)
	return nil
}

func (l *Loader) fetch(ctx context.Context, url string) ([]model.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch token list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch token list: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token list body: %w", err)
	}

	var doc trustWalletDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode token list: %v", model.ErrDecode, err)
	}

	tokens := make([]model.Token, 0, len(doc.Tokens))
	for _, t := range doc.Tokens {
		tokens = append(tokens, model.Token{
			Address:  t.Address,
			Symbol:   t.Symbol,
			Name:     t.Name,
			Decimals: t.Decimals,
			ChainID:  t.ChainID,
			LogoURI:  t.LogoURI,
		})
	}
	return tokens, nil
}

// Get returns the current dynamic token list for chain, or nil if none has
// been fetched yet (or the chain was never configured).
func (l *Loader) Get(chain string) []model.Token {
	ptr, ok := l.lists[model.Lower(chain)]
	if !ok {
		return nil
	}
	tokens := ptr.Load()
	if tokens == nil {
		return nil
	}
	return *tokens
}
