package shop

import (
	"fmt"
	"sort"

	"payhub/ledger"
)

type storedShop struct {
	ID              uint64
	Owner           string
	InvoiceCreators []string
	Name            string
	Description     string
	IconBase64      string
	Referral        string
}

type storedAccount struct {
	Owner      string
	Subaccount [32]byte
}

// Snapshot is the RLP-encodable image of a registry. Shops are ordered by
// identifier so encoding is deterministic.
type Snapshot struct {
	NextID          uint64
	Shops           []storedShop
	HasFeeCollector bool
	FeeCollector    storedAccount
}

// Snapshot captures the registry state for persistence.
func (r *Registry) Snapshot() Snapshot {
	snap := Snapshot{NextID: r.nextID}
	ids := make([]uint64, 0, len(r.shops))
	for id := range r.shops {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		s := r.shops[id]
		stored := storedShop{
			ID:          s.ID,
			Owner:       s.Owner,
			Name:        s.Name,
			Description: s.Description,
			IconBase64:  s.IconBase64,
			Referral:    s.Referral,
		}
		if len(s.InvoiceCreators) > 0 {
			stored.InvoiceCreators = append([]string(nil), s.InvoiceCreators...)
		}
		snap.Shops = append(snap.Shops, stored)
	}
	if r.feeCollector != nil {
		snap.HasFeeCollector = true
		snap.FeeCollector = storedAccount{
			Owner:      r.feeCollector.Owner,
			Subaccount: r.feeCollector.Subaccount,
		}
	}
	return snap
}

// FromSnapshot rebuilds a registry from a snapshot produced by Snapshot.
func FromSnapshot(snap Snapshot) (*Registry, error) {
	r := NewRegistry()
	r.nextID = snap.NextID
	for _, stored := range snap.Shops {
		if stored.ID >= snap.NextID {
			return nil, fmt.Errorf("shop: snapshot id %d beyond counter %d", stored.ID, snap.NextID)
		}
		if _, exists := r.shops[stored.ID]; exists {
			return nil, fmt.Errorf("shop: snapshot id %d duplicated", stored.ID)
		}
		if stored.Owner == "" {
			return nil, fmt.Errorf("shop: snapshot id %d missing owner", stored.ID)
		}
		s := &Shop{
			ID:          stored.ID,
			Owner:       stored.Owner,
			Name:        stored.Name,
			Description: stored.Description,
			IconBase64:  stored.IconBase64,
			Referral:    stored.Referral,
		}
		if len(stored.InvoiceCreators) > 0 {
			s.InvoiceCreators = append([]string(nil), stored.InvoiceCreators...)
		}
		r.shops[stored.ID] = s
		r.indexOwner(stored.Owner, stored.ID)
	}
	if snap.HasFeeCollector {
		r.feeCollector = &ledger.Account{
			Owner:      snap.FeeCollector.Owner,
			Subaccount: snap.FeeCollector.Subaccount,
		}
	}
	return r, nil
}
