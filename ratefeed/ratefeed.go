// Package ratefeed retrieves exchange-rate quotes from an external feed. It
// only fetches and normalises; caching and generation bookkeeping live in the
// rates cache that consumes its output.
package ratefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// USDDecimals is the fixed-point scale of normalised rates: one whole quote
// unit equals 10^8 stored units.
const USDDecimals = 8

// PairRate is a single normalised quote. Rate is expressed in USD units
// scaled by 10^USDDecimals per whole unit of the base asset.
type PairRate struct {
	Base  string
	Quote string
	Rate  *big.Int
}

// Fetcher retrieves the full current quote set from an upstream feed.
type Fetcher interface {
	FetchRates(ctx context.Context) ([]PairRate, error)
}

// ErrEmptyFeed indicates the upstream responded successfully but carried no
// usable quotes.
var ErrEmptyFeed = errors.New("ratefeed: feed returned no quotes")

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFetcher pulls quotes from a JSON rate endpoint. The expected payload is
// a list of {base, quote, rate} objects with decimal-string rates.
type HTTPFetcher struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
}

// NewHTTPFetcher constructs a fetcher for the given endpoint. When client is
// nil http.DefaultClient is used. The API key is optional and only attached
// to requests when supplied.
func NewHTTPFetcher(client HTTPDoer, endpoint, apiKey string) (*HTTPFetcher, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("ratefeed: endpoint required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, endpoint: trimmed, apiKey: strings.TrimSpace(apiKey)}, nil
}

type wireQuote struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
	Rate  string `json:"rate"`
}

type wireFeedResponse struct {
	Quotes []wireQuote `json:"quotes"`
}

// FetchRates performs one GET against the feed endpoint and normalises every
// quote it can parse. Quotes with malformed or non-positive rates are
// dropped rather than failing the whole fetch.
func (f *HTTPFetcher) FetchRates(ctx context.Context) ([]PairRate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if f.apiKey != "" {
		req.Header.Set("x-api-key", f.apiKey)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ratefeed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload wireFeedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("ratefeed: decode: %w", err)
	}

	rates := make([]PairRate, 0, len(payload.Quotes))
	for _, quote := range payload.Quotes {
		rate, err := ParseUSD(quote.Rate)
		if err != nil {
			continue
		}
		base := strings.ToUpper(strings.TrimSpace(quote.Base))
		quoteSym := strings.ToUpper(strings.TrimSpace(quote.Quote))
		if base == "" || quoteSym == "" {
			continue
		}
		rates = append(rates, PairRate{Base: base, Quote: quoteSym, Rate: rate})
	}
	if len(rates) == 0 {
		return nil, ErrEmptyFeed
	}
	return rates, nil
}

// ParseUSD converts a decimal rate string into the fixed-point USD
// representation, truncating excess precision.
func ParseUSD(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("ratefeed: rate required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("ratefeed: invalid rate %q", value)
	}
	if rat.Sign() <= 0 {
		return nil, fmt.Errorf("ratefeed: rate must be positive")
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(USDDecimals), nil)
	rat.Mul(rat, new(big.Rat).SetInt(scale))
	return new(big.Int).Quo(rat.Num(), rat.Denom()), nil
}

// StaticFetcher serves a fixed quote set. Used for tests and as a manual
// override while an upstream feed is unavailable.
type StaticFetcher struct {
	rates []PairRate
}

// NewStaticFetcher copies the supplied quotes into a fetcher.
func NewStaticFetcher(rates []PairRate) *StaticFetcher {
	copied := make([]PairRate, 0, len(rates))
	for _, r := range rates {
		clone := PairRate{Base: r.Base, Quote: r.Quote}
		if r.Rate != nil {
			clone.Rate = new(big.Int).Set(r.Rate)
		}
		copied = append(copied, clone)
	}
	return &StaticFetcher{rates: copied}
}

// FetchRates returns a copy of the configured quote set.
func (s *StaticFetcher) FetchRates(ctx context.Context) ([]PairRate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.rates) == 0 {
		return nil, ErrEmptyFeed
	}
	out := make([]PairRate, 0, len(s.rates))
	for _, r := range s.rates {
		clone := PairRate{Base: r.Base, Quote: r.Quote}
		if r.Rate != nil {
			clone.Rate = new(big.Int).Set(r.Rate)
		}
		out = append(out, clone)
	}
	return out, nil
}

// timeout guard for callers that pass a background context straight through.
const defaultFetchTimeout = 15 * time.Second

// WithTimeout wraps ctx with the feed's default timeout unless the caller
// already set a deadline.
func WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultFetchTimeout)
}
