package rates

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
)

func usd(v int64) *big.Int { return big.NewInt(v) }

func testID(b byte) [32]byte {
	var id [32]byte
	id[0] = b
	return id
}

func TestCurrentTimestampBeforeRefresh(t *testing.T) {
	cache := NewCache()
	if _, err := cache.CurrentTimestamp(); !errors.Is(err, ErrNoRatesYet) {
		t.Fatalf("expected ErrNoRatesYet, got %v", err)
	}
}

func TestRefreshInstallsCurrent(t *testing.T) {
	cache := NewCache()
	cache.Refresh(map[string]*big.Int{"ICP": usd(1234000000)}, 100)

	ts, err := cache.CurrentTimestamp()
	if err != nil || ts != 100 {
		t.Fatalf("current timestamp: %d err=%v", ts, err)
	}
	rate, err := cache.RateAt(100, "ICP")
	if err != nil {
		t.Fatalf("rate at: %v", err)
	}
	if rate.Cmp(usd(1234000000)) != 0 {
		t.Fatalf("unexpected rate %s", rate)
	}
}

func TestRateAtMissing(t *testing.T) {
	cache := NewCache()
	cache.Refresh(map[string]*big.Int{"ICP": usd(1)}, 100)

	if _, err := cache.RateAt(999, "ICP"); !errors.Is(err, ErrRateNotFound) {
		t.Fatalf("missing generation: %v", err)
	}
	if _, err := cache.RateAt(100, "BTC"); !errors.Is(err, ErrRateNotFound) {
		t.Fatalf("missing ticker: %v", err)
	}
}

func TestRefreshEvictsUnreferencedPredecessor(t *testing.T) {
	cache := NewCache()
	cache.Refresh(map[string]*big.Int{"ICP": usd(1)}, 100)
	cache.Refresh(map[string]*big.Int{"ICP": usd(2)}, 200)

	if cache.HasGeneration(100) {
		t.Fatalf("unreferenced predecessor should have been evicted")
	}
	if !cache.HasGeneration(200) {
		t.Fatalf("current generation missing")
	}
}

func TestReferencedGenerationSurvivesRefresh(t *testing.T) {
	cache := NewCache()
	cache.Refresh(map[string]*big.Int{"ICP": usd(1)}, 100)
	cache.Pin(100, testID(1))

	cache.Refresh(map[string]*big.Int{"ICP": usd(2)}, 200)
	if !cache.HasGeneration(100) {
		t.Fatalf("referenced generation must survive refresh")
	}

	// The last unpin releases the stale generation.
	cache.Unpin(100, testID(1))
	if cache.HasGeneration(100) {
		t.Fatalf("generation should be evicted after its last unpin")
	}
	if !cache.HasGeneration(200) {
		t.Fatalf("current generation must never be evicted by unpin")
	}
}

func TestUnpinOfCurrentKeepsGeneration(t *testing.T) {
	cache := NewCache()
	cache.Refresh(map[string]*big.Int{"ICP": usd(1)}, 100)
	cache.Pin(100, testID(1))
	cache.Unpin(100, testID(1))

	if !cache.HasGeneration(100) {
		t.Fatalf("current generation evicted by unpin")
	}
	if cache.References(100) != 0 {
		t.Fatalf("reference count not released")
	}
}

func TestDeleteIfUnreferenced(t *testing.T) {
	cache := NewCache()
	cache.Refresh(map[string]*big.Int{"ICP": usd(1)}, 100)
	cache.Pin(100, testID(1))
	cache.Refresh(map[string]*big.Int{"ICP": usd(2)}, 200)

	// Still referenced: no-op.
	cache.DeleteIfUnreferenced(100)
	if !cache.HasGeneration(100) {
		t.Fatalf("referenced generation deleted")
	}

	// Current: no-op.
	cache.DeleteIfUnreferenced(200)
	if !cache.HasGeneration(200) {
		t.Fatalf("current generation deleted")
	}
}

func TestPinMissingGenerationPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("pin to a missing generation must panic")
		}
	}()
	NewCache().Pin(42, testID(1))
}

func TestRatesAtHistoricalLookup(t *testing.T) {
	cache := NewCache()
	cache.Refresh(map[string]*big.Int{"ICP": usd(1)}, 100)
	cache.Pin(100, testID(1))
	cache.Refresh(map[string]*big.Int{"ICP": usd(2)}, 200)

	if _, _, ok := cache.RatesAt(99); ok {
		t.Fatalf("lookup before the first generation must miss")
	}
	if _, at, ok := cache.RatesAt(100); !ok || at != 100 {
		t.Fatalf("exact lookup failed: at=%d ok=%v", at, ok)
	}
	if _, at, ok := cache.RatesAt(150); !ok || at != 100 {
		t.Fatalf("lookup between generations: at=%d ok=%v", at, ok)
	}
	rates, at, ok := cache.RatesAt(5000)
	if !ok || at != 200 {
		t.Fatalf("lookup after last generation: at=%d ok=%v", at, ok)
	}
	if rates["ICP"].Cmp(usd(2)) != 0 {
		t.Fatalf("unexpected rate %s", rates["ICP"])
	}
}

func TestRatesAtReturnsCopies(t *testing.T) {
	cache := NewCache()
	cache.Refresh(map[string]*big.Int{"ICP": usd(7)}, 100)

	rates, _, _ := cache.RatesAt(100)
	rates["ICP"].SetInt64(999)

	fresh, _ := cache.RateAt(100, "ICP")
	if fresh.Cmp(usd(7)) != 0 {
		t.Fatalf("generation mutated through a returned copy")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	cache := NewCache()
	cache.Refresh(map[string]*big.Int{"ICP": usd(1), "BTC": usd(5)}, 100)
	cache.Pin(100, testID(1))
	cache.Pin(100, testID(2))
	cache.Refresh(map[string]*big.Int{"ICP": usd(2)}, 200)

	encoded, err := rlp.EncodeToBytes(cache.Snapshot())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var snap Snapshot
	if err := rlp.DecodeBytes(encoded, &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	restored, err := FromSnapshot(snap)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	ts, err := restored.CurrentTimestamp()
	if err != nil || ts != 200 {
		t.Fatalf("restored current: %d err=%v", ts, err)
	}
	if restored.References(100) != 2 {
		t.Fatalf("restored references: %d", restored.References(100))
	}
	rate, err := restored.RateAt(100, "BTC")
	if err != nil || rate.Cmp(usd(5)) != 0 {
		t.Fatalf("restored rate: %s err=%v", rate, err)
	}

	// Restored caches keep behaving: draining the references evicts the
	// stale generation.
	restored.Unpin(100, testID(1))
	restored.Unpin(100, testID(2))
	if restored.HasGeneration(100) {
		t.Fatalf("restored generation not evicted after unpins")
	}
}
