package token

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// Token describes one supported payment asset: the address of its ledger,
// the ticker it trades under, its decimal precision and the flat transfer
// fee its ledger charges.
type Token struct {
	AssetID  string
	Ticker   string
	Decimals uint8
	Fee      *big.Int
}

// Clone returns a deep copy of the token.
func (t Token) Clone() Token {
	clone := t
	if t.Fee != nil {
		clone.Fee = new(big.Int).Set(t.Fee)
	}
	return clone
}

// Registry indexes supported tokens by ledger address and by ticker.
type Registry struct {
	byID     map[string]Token
	byTicker map[string]string
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[string]Token),
		byTicker: make(map[string]string),
	}
}

// Add registers a token, replacing any previous entry for the same ticker or
// ledger address.
func (r *Registry) Add(t Token) error {
	assetID := strings.TrimSpace(t.AssetID)
	if assetID == "" {
		return fmt.Errorf("token: asset id required")
	}
	ticker := strings.ToUpper(strings.TrimSpace(t.Ticker))
	if ticker == "" {
		return fmt.Errorf("token: ticker required")
	}
	fee := big.NewInt(0)
	if t.Fee != nil {
		if t.Fee.Sign() < 0 {
			return fmt.Errorf("token: fee must not be negative")
		}
		fee = new(big.Int).Set(t.Fee)
	}
	if prev, ok := r.byTicker[ticker]; ok && prev != assetID {
		delete(r.byID, prev)
	}
	r.byID[assetID] = Token{AssetID: assetID, Ticker: ticker, Decimals: t.Decimals, Fee: fee}
	r.byTicker[ticker] = assetID
	return nil
}

// Remove drops the token registered under ticker. Unknown tickers are a
// no-op.
func (r *Registry) Remove(ticker string) {
	normalized := strings.ToUpper(strings.TrimSpace(ticker))
	if assetID, ok := r.byTicker[normalized]; ok {
		delete(r.byID, assetID)
		delete(r.byTicker, normalized)
	}
}

// GetByID looks a token up by its ledger address.
func (r *Registry) GetByID(assetID string) (Token, bool) {
	t, ok := r.byID[strings.TrimSpace(assetID)]
	if !ok {
		return Token{}, false
	}
	return t.Clone(), true
}

// GetByTicker looks a token up by its ticker.
func (r *Registry) GetByTicker(ticker string) (Token, bool) {
	assetID, ok := r.byTicker[strings.ToUpper(strings.TrimSpace(ticker))]
	if !ok {
		return Token{}, false
	}
	return r.GetByID(assetID)
}

// ContainsTicker reports whether a token trades under ticker.
func (r *Registry) ContainsTicker(ticker string) bool {
	_, ok := r.byTicker[strings.ToUpper(strings.TrimSpace(ticker))]
	return ok
}

// List returns all registered tokens ordered by ticker.
func (r *Registry) List() []Token {
	tokens := make([]Token, 0, len(r.byID))
	for _, t := range r.byID {
		tokens = append(tokens, t.Clone())
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Ticker < tokens[j].Ticker })
	return tokens
}

type storedToken struct {
	AssetID  string
	Ticker   string
	Decimals uint8
	Fee      string
}

// Snapshot is the RLP-encodable image of a registry.
type Snapshot struct {
	Tokens []storedToken
}

// Snapshot captures the registry for persistence, ordered by ticker.
func (r *Registry) Snapshot() Snapshot {
	var snap Snapshot
	for _, t := range r.List() {
		snap.Tokens = append(snap.Tokens, storedToken{
			AssetID:  t.AssetID,
			Ticker:   t.Ticker,
			Decimals: t.Decimals,
			Fee:      t.Fee.String(),
		})
	}
	return snap
}

// FromSnapshot rebuilds a registry from a snapshot produced by Snapshot.
func FromSnapshot(snap Snapshot) (*Registry, error) {
	registry := NewRegistry()
	for _, stored := range snap.Tokens {
		fee, ok := new(big.Int).SetString(strings.TrimSpace(stored.Fee), 10)
		if !ok {
			return nil, fmt.Errorf("token: snapshot fee %q invalid", stored.Fee)
		}
		if err := registry.Add(Token{
			AssetID:  stored.AssetID,
			Ticker:   stored.Ticker,
			Decimals: stored.Decimals,
			Fee:      fee,
		}); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
