package token

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
)

func TestAddNormalisesTicker(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Add(Token{AssetID: "ryjl3-ledger", Ticker: " icp ", Decimals: 8, Fee: big.NewInt(10000)}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !registry.ContainsTicker("ICP") {
		t.Fatalf("ticker not normalised to upper case")
	}
	tok, ok := registry.GetByTicker("icp")
	if !ok || tok.AssetID != "ryjl3-ledger" {
		t.Fatalf("lookup by ticker failed: %+v ok=%v", tok, ok)
	}
}

func TestAddValidation(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Add(Token{Ticker: "ICP"}); err == nil {
		t.Fatalf("missing asset id accepted")
	}
	if err := registry.Add(Token{AssetID: "x"}); err == nil {
		t.Fatalf("missing ticker accepted")
	}
	if err := registry.Add(Token{AssetID: "x", Ticker: "ICP", Fee: big.NewInt(-1)}); err == nil {
		t.Fatalf("negative fee accepted")
	}
}

func TestRemove(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Add(Token{AssetID: "a", Ticker: "ICP", Decimals: 8, Fee: big.NewInt(1)}); err != nil {
		t.Fatalf("add: %v", err)
	}
	registry.Remove("icp")
	if registry.ContainsTicker("ICP") {
		t.Fatalf("token not removed")
	}
	if _, ok := registry.GetByID("a"); ok {
		t.Fatalf("asset index not cleaned up")
	}
	registry.Remove("ICP") // no-op
}

func TestReplaceTicker(t *testing.T) {
	registry := NewRegistry()
	_ = registry.Add(Token{AssetID: "old-ledger", Ticker: "ICP", Decimals: 8, Fee: big.NewInt(1)})
	_ = registry.Add(Token{AssetID: "new-ledger", Ticker: "ICP", Decimals: 8, Fee: big.NewInt(2)})

	if _, ok := registry.GetByID("old-ledger"); ok {
		t.Fatalf("stale asset entry survived ticker replacement")
	}
	tok, ok := registry.GetByID("new-ledger")
	if !ok || tok.Fee.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("replacement entry wrong: %+v ok=%v", tok, ok)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	registry := NewRegistry()
	_ = registry.Add(Token{AssetID: "a", Ticker: "ICP", Decimals: 8, Fee: big.NewInt(10000)})
	_ = registry.Add(Token{AssetID: "b", Ticker: "CKBTC", Decimals: 8, Fee: big.NewInt(10)})

	encoded, err := rlp.EncodeToBytes(registry.Snapshot())
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
	tokens := restored.List()
	if len(tokens) != 2 || tokens[0].Ticker != "CKBTC" || tokens[1].Ticker != "ICP" {
		t.Fatalf("restored list wrong: %+v", tokens)
	}
	if tokens[1].Fee.Cmp(big.NewInt(10000)) != 0 {
		t.Fatalf("restored fee wrong: %s", tokens[1].Fee)
	}
}
