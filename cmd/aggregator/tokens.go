package main

import (
	"encoding/json"
	"fmt"
	"os"

	"dexaggregator/internal/model"
)

// loadStaticTokens reads a chain's bundled static token list: a plain JSON
// array of model.Token. An empty path yields an empty list rather than an
// error — a chain can run on its dynamic list alone.
func loadStaticTokens(path string) ([]model.Token, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read static tokens %s: %w", path, err)
	}

	var tokens []model.Token
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("parse static tokens %s: %w", path, err)
	}
	return tokens, nil
}
