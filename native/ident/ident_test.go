package ident

import (
	"bytes"
	"testing"
)

func TestNextIDAdvancesSeed(t *testing.T) {
	var seed [32]byte
	copy(seed[:], []byte("initial-seed-material-0123456789"))
	before := seed

	id := NextID(&seed, TimeSalt(1700000000000000000))
	if seed == before {
		t.Fatalf("seed did not advance")
	}
	if seed != id {
		t.Fatalf("seed must advance to the minted identifier")
	}
}

func TestNextIDDeterministic(t *testing.T) {
	var a, b [32]byte
	copy(a[:], []byte("seed"))
	copy(b[:], []byte("seed"))

	idA := NextID(&a, TimeSalt(42))
	idB := NextID(&b, TimeSalt(42))
	if idA != idB {
		t.Fatalf("identical seed and salt must derive identical identifiers")
	}
}

func TestNextIDUnique(t *testing.T) {
	var seed [32]byte
	seen := make(map[[32]byte]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id := NextID(&seed, TimeSalt(int64(i)))
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate identifier at iteration %d", i)
		}
		seen[id] = struct{}{}
	}
}

func TestNextIDUniqueWithConstantSalt(t *testing.T) {
	// The chain alone must keep identifiers distinct even if the clock
	// stalls and salts repeat.
	var seed [32]byte
	salt := TimeSalt(1700000000000000000)
	first := NextID(&seed, salt)
	second := NextID(&seed, salt)
	if first == second {
		t.Fatalf("repeated salt produced a repeated identifier")
	}
}

func TestInvoiceMemoBinding(t *testing.T) {
	var seed [32]byte
	seen := make(map[[32]byte]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id := NextID(&seed, TimeSalt(int64(i)))
		memo := InvoiceMemo(id)
		if memo != InvoiceMemo(id) {
			t.Fatalf("memo derivation not deterministic")
		}
		if _, dup := seen[memo]; dup {
			t.Fatalf("memo collision at iteration %d", i)
		}
		seen[memo] = struct{}{}
	}
}

func TestDomainSeparation(t *testing.T) {
	// The same 32 bytes fed through each purpose must never agree; the
	// domain tags are what keeps cross-purpose forgeries impossible.
	var id [32]byte
	copy(id[:], bytes.Repeat([]byte{0xAB}, 32))

	memo := InvoiceMemo(id)
	sub := ShopSubaccount(0xABABABABABABABAB)
	if memo == id || sub == id || memo == sub {
		t.Fatalf("domain tags failed to separate derivation purposes")
	}
}

func TestShopSubaccountDistinct(t *testing.T) {
	a := ShopSubaccount(1)
	b := ShopSubaccount(2)
	if a == b {
		t.Fatalf("distinct shops derived the same subaccount")
	}
	if a != ShopSubaccount(1) {
		t.Fatalf("subaccount derivation not deterministic")
	}
}
