package rates

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
)

var (
	// ErrNoRatesYet indicates that no exchange-rate generation has been
	// installed since the cache was created or restored.
	ErrNoRatesYet = errors.New("rates: no exchange rates fetched yet")
	// ErrRateNotFound indicates that the requested generation or ticker is
	// absent from the cache.
	ErrRateNotFound = errors.New("rates: rate not found")
)

// Cache holds one or more immutable generations of ticker to USD rates keyed
// by the timestamp at which they were fetched. Only one generation is ever
// current for new invoices; older generations persist exactly as long as an
// unsettled invoice is pinned to them.
type Cache struct {
	current     int64
	hasCurrent  bool
	generations map[int64]map[string]*big.Int
	refs        map[int64]map[[32]byte]struct{}
}

// NewCache constructs an empty cache. CurrentTimestamp fails with
// ErrNoRatesYet until the first Refresh.
func NewCache() *Cache {
	return &Cache{
		generations: make(map[int64]map[string]*big.Int),
		refs:        make(map[int64]map[[32]byte]struct{}),
	}
}

// Refresh installs a new generation at fetchTime and makes it current. The
// previous current generation is evicted immediately when nothing is pinned
// to it; otherwise it stays until its last reference is released.
func (c *Cache) Refresh(newRates map[string]*big.Int, fetchTime int64) {
	if c.hasCurrent {
		if refs, ok := c.refs[c.current]; !ok || len(refs) == 0 {
			delete(c.generations, c.current)
			delete(c.refs, c.current)
		}
	}

	gen := make(map[string]*big.Int, len(newRates))
	for ticker, rate := range newRates {
		if rate == nil {
			continue
		}
		gen[ticker] = new(big.Int).Set(rate)
	}

	c.generations[fetchTime] = gen
	c.current = fetchTime
	c.hasCurrent = true
}

// RateAt returns the USD rate for ticker within the generation fetched at
// timestamp. Both the generation and the ticker must be present.
func (c *Cache) RateAt(timestamp int64, ticker string) (*big.Int, error) {
	gen, ok := c.generations[timestamp]
	if !ok {
		return nil, fmt.Errorf("%w: generation %d", ErrRateNotFound, timestamp)
	}
	rate, ok := gen[ticker]
	if !ok {
		return nil, fmt.Errorf("%w: ticker %s at %d", ErrRateNotFound, ticker, timestamp)
	}
	return new(big.Int).Set(rate), nil
}

// CurrentTimestamp returns the fetch timestamp of the current generation.
func (c *Cache) CurrentTimestamp() (int64, error) {
	if !c.hasCurrent {
		return 0, ErrNoRatesYet
	}
	return c.current, nil
}

// HasGeneration reports whether a generation fetched at timestamp is still
// held by the cache.
func (c *Cache) HasGeneration(timestamp int64) bool {
	_, ok := c.generations[timestamp]
	return ok
}

// Pin records that invoice id depends on the generation fetched at
// timestamp. Pinning a missing generation means reference counting has been
// broken upstream, which is unrecoverable.
func (c *Cache) Pin(timestamp int64, id [32]byte) {
	if _, ok := c.generations[timestamp]; !ok {
		panic(fmt.Sprintf("rates: pin to missing generation %d", timestamp))
	}
	set, ok := c.refs[timestamp]
	if !ok {
		set = make(map[[32]byte]struct{})
		c.refs[timestamp] = set
	}
	set[id] = struct{}{}
}

// Unpin releases the dependency of invoice id on the generation fetched at
// timestamp and evicts the generation once it is unreferenced and no longer
// current. Unpinning an unknown reference is a no-op.
func (c *Cache) Unpin(timestamp int64, id [32]byte) {
	set, ok := c.refs[timestamp]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(c.refs, timestamp)
		c.DeleteIfUnreferenced(timestamp)
	}
}

// DeleteIfUnreferenced evicts the generation fetched at timestamp when it is
// neither current nor referenced. A no-op otherwise.
func (c *Cache) DeleteIfUnreferenced(timestamp int64) {
	if c.hasCurrent && timestamp == c.current {
		return
	}
	if refs, ok := c.refs[timestamp]; ok && len(refs) > 0 {
		return
	}
	delete(c.generations, timestamp)
	delete(c.refs, timestamp)
}

// References returns the number of invoices pinned to the generation fetched
// at timestamp.
func (c *Cache) References(timestamp int64) int {
	return len(c.refs[timestamp])
}

// GenerationCount returns the number of generations currently held.
func (c *Cache) GenerationCount() int {
	return len(c.generations)
}

// RatesAt returns a copy of the generation active at or most recently before
// timestamp, along with its fetch timestamp. The second return value is false
// when every held generation is newer than timestamp or the cache is empty.
func (c *Cache) RatesAt(timestamp int64) (map[string]*big.Int, int64, bool) {
	keys := make([]int64, 0, len(c.generations))
	for key := range c.generations {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	idx := sort.Search(len(keys), func(i int) bool { return keys[i] > timestamp })
	if idx == 0 {
		return nil, 0, false
	}
	at := keys[idx-1]

	gen := c.generations[at]
	out := make(map[string]*big.Int, len(gen))
	for ticker, rate := range gen {
		out[ticker] = new(big.Int).Set(rate)
	}
	return out, at, true
}
