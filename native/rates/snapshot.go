package rates

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
)

type storedGeneration struct {
	Timestamp uint64
	Tickers   []string
	Rates     []string
}

type storedRefSet struct {
	Timestamp uint64
	Invoices  [][32]byte
}

// Snapshot is the RLP-encodable image of a cache. Generations and reference
// sets are emitted in deterministic order so identical caches serialise to
// identical bytes.
type Snapshot struct {
	Current     uint64
	HasCurrent  bool
	Generations []storedGeneration
	Refs        []storedRefSet
}

// Snapshot captures the full cache state for persistence.
func (c *Cache) Snapshot() Snapshot {
	snap := Snapshot{HasCurrent: c.hasCurrent}
	if c.hasCurrent {
		snap.Current = uint64(c.current)
	}

	genKeys := make([]int64, 0, len(c.generations))
	for key := range c.generations {
		genKeys = append(genKeys, key)
	}
	sort.Slice(genKeys, func(i, j int) bool { return genKeys[i] < genKeys[j] })
	for _, key := range genKeys {
		gen := c.generations[key]
		tickers := make([]string, 0, len(gen))
		for ticker := range gen {
			tickers = append(tickers, ticker)
		}
		sort.Strings(tickers)
		stored := storedGeneration{Timestamp: uint64(key), Tickers: tickers}
		for _, ticker := range tickers {
			stored.Rates = append(stored.Rates, gen[ticker].String())
		}
		snap.Generations = append(snap.Generations, stored)
	}

	refKeys := make([]int64, 0, len(c.refs))
	for key := range c.refs {
		refKeys = append(refKeys, key)
	}
	sort.Slice(refKeys, func(i, j int) bool { return refKeys[i] < refKeys[j] })
	for _, key := range refKeys {
		set := c.refs[key]
		if len(set) == 0 {
			continue
		}
		ids := make([][32]byte, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			for b := 0; b < 32; b++ {
				if ids[i][b] != ids[j][b] {
					return ids[i][b] < ids[j][b]
				}
			}
			return false
		})
		snap.Refs = append(snap.Refs, storedRefSet{Timestamp: uint64(key), Invoices: ids})
	}

	return snap
}

// FromSnapshot rebuilds a cache from a snapshot produced by Snapshot.
func FromSnapshot(snap Snapshot) (*Cache, error) {
	cache := NewCache()
	for _, stored := range snap.Generations {
		if len(stored.Tickers) != len(stored.Rates) {
			return nil, fmt.Errorf("rates: snapshot generation %d is malformed", stored.Timestamp)
		}
		gen := make(map[string]*big.Int, len(stored.Tickers))
		for i, ticker := range stored.Tickers {
			rate, ok := new(big.Int).SetString(strings.TrimSpace(stored.Rates[i]), 10)
			if !ok {
				return nil, fmt.Errorf("rates: snapshot rate %q invalid", stored.Rates[i])
			}
			gen[ticker] = rate
		}
		cache.generations[int64(stored.Timestamp)] = gen
	}
	for _, stored := range snap.Refs {
		if _, ok := cache.generations[int64(stored.Timestamp)]; !ok {
			return nil, fmt.Errorf("rates: snapshot references missing generation %d", stored.Timestamp)
		}
		set := make(map[[32]byte]struct{}, len(stored.Invoices))
		for _, id := range stored.Invoices {
			set[id] = struct{}{}
		}
		cache.refs[int64(stored.Timestamp)] = set
	}
	if snap.HasCurrent {
		if _, ok := cache.generations[int64(snap.Current)]; !ok {
			return nil, fmt.Errorf("rates: snapshot current generation %d missing", snap.Current)
		}
		cache.current = int64(snap.Current)
		cache.hasCurrent = true
	}
	return cache, nil
}
