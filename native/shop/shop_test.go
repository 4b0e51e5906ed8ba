package shop

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"

	"payhub/ledger"
	"payhub/native/ident"
)

func TestRegisterAssignsSequentialIDs(t *testing.T) {
	r := NewRegistry()
	first, err := r.Register("alice", "Books", "paper goods", "", "", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	second, err := r.Register("bob", "Coffee", "", "", "", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if first != 0 || second != 1 {
		t.Fatalf("unexpected ids %d, %d", first, second)
	}
	if ident.ShopSubaccount(first) == ident.ShopSubaccount(second) {
		t.Fatalf("distinct shops derived the same subaccount")
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register("  ", "Books", "", "", "", nil); err == nil {
		t.Fatalf("expected error for blank owner")
	}
	if _, err := r.Register("alice", "   ", "", "", "", nil); err == nil {
		t.Fatalf("expected error for blank name")
	}
}

func TestUpdateOwnerGated(t *testing.T) {
	r := NewRegistry()
	id, err := r.Register("alice", "Books", "", "", "", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	name := "Rare Books"
	if err := r.Update(id, UpdateRequest{Name: &name}, "mallory"); err == nil {
		t.Fatalf("expected access denial for non-owner")
	}
	if err := r.Update(id, UpdateRequest{Name: &name}, "alice"); err != nil {
		t.Fatalf("owner update: %v", err)
	}
	s, ok := r.Get(id)
	if !ok || s.Name != "Rare Books" {
		t.Fatalf("update not applied: %+v", s)
	}
}

func TestUpdateTransfersOwnership(t *testing.T) {
	r := NewRegistry()
	id, err := r.Register("alice", "Books", "", "", "", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	newOwner := "bob"
	if err := r.Update(id, UpdateRequest{Owner: &newOwner}, "alice"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if shops := r.GetByOwner("alice"); len(shops) != 0 {
		t.Fatalf("alice still indexed: %d shops", len(shops))
	}
	shops := r.GetByOwner("bob")
	if len(shops) != 1 || shops[0].ID != id {
		t.Fatalf("bob not indexed: %+v", shops)
	}
	name := "Coffee"
	if err := r.Update(id, UpdateRequest{Name: &name}, "alice"); err == nil {
		t.Fatalf("previous owner retained update rights")
	}
}

func TestGetByOwnerOrdersByID(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"One", "Two", "Three"} {
		if _, err := r.Register("alice", name, "", "", "", nil); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	shops := r.GetByOwner("alice")
	if len(shops) != 3 {
		t.Fatalf("expected 3 shops, got %d", len(shops))
	}
	for i, s := range shops {
		if s.ID != uint64(i) {
			t.Fatalf("shop %d out of order: id %d", i, s.ID)
		}
	}
}

func TestCanCreateInvoices(t *testing.T) {
	r := NewRegistry()
	id, err := r.Register("alice", "Books", "", "", "", []string{"carol", " "})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	s, _ := r.Get(id)
	if !s.CanCreateInvoices("alice") {
		t.Fatalf("owner must be able to create invoices")
	}
	if !s.CanCreateInvoices("carol") {
		t.Fatalf("listed creator rejected")
	}
	if s.CanCreateInvoices("mallory") {
		t.Fatalf("unlisted principal accepted")
	}
}

func TestSplitWithdrawalBothParties(t *testing.T) {
	payout, platform, referral := SplitWithdrawal(big.NewInt(10_000), true, true)
	if payout.Int64() != 9_700 {
		t.Fatalf("payout = %s, want 9700", payout)
	}
	if platform.Int64() != 240 {
		t.Fatalf("platform = %s, want 240", platform)
	}
	if referral.Int64() != 60 {
		t.Fatalf("referral = %s, want 60", referral)
	}
	total := new(big.Int).Add(payout, platform)
	total.Add(total, referral)
	if total.Int64() != 10_000 {
		t.Fatalf("split does not conserve quantity: %s", total)
	}
}

func TestSplitWithdrawalCollectorOnly(t *testing.T) {
	payout, platform, referral := SplitWithdrawal(big.NewInt(10_000), true, false)
	if payout.Int64() != 9_700 || platform.Int64() != 300 || referral.Sign() != 0 {
		t.Fatalf("unexpected split %s/%s/%s", payout, platform, referral)
	}
}

func TestSplitWithdrawalReferralOnly(t *testing.T) {
	payout, platform, referral := SplitWithdrawal(big.NewInt(10_000), false, true)
	if payout.Int64() != 9_700 || platform.Sign() != 0 || referral.Int64() != 300 {
		t.Fatalf("unexpected split %s/%s/%s", payout, platform, referral)
	}
}

func TestSplitWithdrawalNoParties(t *testing.T) {
	payout, platform, referral := SplitWithdrawal(big.NewInt(10_000), false, false)
	if payout.Int64() != 10_000 || platform.Sign() != 0 || referral.Sign() != 0 {
		t.Fatalf("unexpected split %s/%s/%s", payout, platform, referral)
	}
}

func TestSplitWithdrawalTinyAmounts(t *testing.T) {
	payout, platform, referral := SplitWithdrawal(big.NewInt(33), true, true)
	total := new(big.Int).Add(payout, platform)
	total.Add(total, referral)
	if total.Int64() != 33 {
		t.Fatalf("split does not conserve quantity: %s", total)
	}
	if platform.Sign() != 0 || referral.Int64() != 1 {
		t.Fatalf("remainder should fall to the referral: %s/%s", platform, referral)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register("alice", "Books", "paper goods", "aWNvbg==", "ref-1", []string{"carol"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	id, err := r.Register("bob", "Coffee", "", "", "", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	r.SetFeeCollector(&ledger.Account{Owner: "platform"})

	encoded, err := rlp.EncodeToBytes(r.Snapshot())
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

	s, ok := restored.Get(0)
	if !ok || s.Owner != "alice" || s.Referral != "ref-1" || len(s.InvoiceCreators) != 1 {
		t.Fatalf("shop 0 mismatch: %+v", s)
	}
	if shops := restored.GetByOwner("bob"); len(shops) != 1 || shops[0].ID != id {
		t.Fatalf("owner index not rebuilt: %+v", shops)
	}
	collector, ok := restored.FeeCollector()
	if !ok || collector.Owner != "platform" {
		t.Fatalf("fee collector not restored: %+v", collector)
	}
	next, err := restored.Register("carol", "Tea", "", "", "", nil)
	if err != nil {
		t.Fatalf("register after restore: %v", err)
	}
	if next != 2 {
		t.Fatalf("counter not restored: got id %d", next)
	}
}

func TestFromSnapshotRejectsCorruptState(t *testing.T) {
	snap := Snapshot{NextID: 1, Shops: []storedShop{{ID: 5, Owner: "alice"}}}
	if _, err := FromSnapshot(snap); err == nil {
		t.Fatalf("expected rejection of id beyond counter")
	}
	snap = Snapshot{NextID: 1, Shops: []storedShop{{ID: 0}}}
	if _, err := FromSnapshot(snap); err == nil {
		t.Fatalf("expected rejection of missing owner")
	}
}
