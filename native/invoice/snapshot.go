package invoice

import (
	"fmt"
	"math/big"
	"strings"
)

type storedInvoice struct {
	ID               [32]byte
	Status           uint8
	TTL              uint8
	AmountUSD        string
	CreatedAt        uint64
	RateTimestamp    uint64
	ShopID           uint64
	CorrelationToken []byte
	Creator          string
	SettledAt        uint64
	PaidAssetID      string
	PaidQty          string
	EffectiveRate    string
}

// Snapshot is the RLP-encodable image of an engine: the invoice table in
// deterministic order, the archive queue in settlement order, and the
// identifier seed.
type Snapshot struct {
	Seed     [32]byte
	Invoices []storedInvoice
	Archive  [][32]byte
}

// Snapshot captures the engine state for persistence.
func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{Seed: e.seed}
	for _, id := range e.sortedIDs() {
		inv := e.invoices[id]
		stored := storedInvoice{
			ID:            inv.ID,
			Status:        uint8(inv.Status),
			TTL:           inv.TTL,
			AmountUSD:     inv.AmountUSD.String(),
			CreatedAt:     uint64(inv.CreatedAt),
			RateTimestamp: uint64(inv.RateTimestamp),
			ShopID:        inv.ShopID,
			Creator:       inv.Creator,
			SettledAt:     uint64(inv.SettledAt),
			PaidAssetID:   inv.PaidAssetID,
		}
		if len(inv.CorrelationToken) > 0 {
			stored.CorrelationToken = append([]byte(nil), inv.CorrelationToken...)
		}
		if inv.PaidQty != nil {
			stored.PaidQty = inv.PaidQty.String()
		}
		if inv.EffectiveRate != nil {
			stored.EffectiveRate = inv.EffectiveRate.String()
		}
		snap.Invoices = append(snap.Invoices, stored)
	}
	for _, id := range e.archive {
		snap.Archive = append(snap.Archive, id)
	}
	return snap
}

// FromSnapshot rebuilds an engine from a snapshot produced by Snapshot. The
// rate and token collaborators are rebound; pinned references are expected
// to be restored alongside in the rate cache's own snapshot.
func FromSnapshot(snap Snapshot, rates rateSource, tokens tokenSource, serviceAccount string) (*Engine, error) {
	engine := NewEngine(rates, tokens, serviceAccount)
	engine.seed = snap.Seed
	for _, stored := range snap.Invoices {
		status := Status(stored.Status)
		if !status.Valid() {
			return nil, fmt.Errorf("invoice: snapshot status %d invalid", stored.Status)
		}
		amount, err := parseAmount(stored.AmountUSD)
		if err != nil {
			return nil, fmt.Errorf("invoice: snapshot amount: %w", err)
		}
		inv := &Invoice{
			ID:            stored.ID,
			Status:        status,
			TTL:           stored.TTL,
			AmountUSD:     amount,
			CreatedAt:     int64(stored.CreatedAt),
			RateTimestamp: int64(stored.RateTimestamp),
			ShopID:        stored.ShopID,
			Creator:       stored.Creator,
			SettledAt:     int64(stored.SettledAt),
			PaidAssetID:   stored.PaidAssetID,
		}
		if len(stored.CorrelationToken) > 0 {
			inv.CorrelationToken = append([]byte(nil), stored.CorrelationToken...)
		}
		if strings.TrimSpace(stored.PaidQty) != "" {
			if inv.PaidQty, err = parseAmount(stored.PaidQty); err != nil {
				return nil, fmt.Errorf("invoice: snapshot paid qty: %w", err)
			}
		}
		if strings.TrimSpace(stored.EffectiveRate) != "" {
			if inv.EffectiveRate, err = parseAmount(stored.EffectiveRate); err != nil {
				return nil, fmt.Errorf("invoice: snapshot rate: %w", err)
			}
		}
		engine.invoices[stored.ID] = inv
	}
	for _, id := range snap.Archive {
		if _, ok := engine.invoices[id]; !ok {
			return nil, fmt.Errorf("invoice: snapshot archive references unknown invoice %x", id)
		}
		engine.archive = append(engine.archive, id)
	}
	return engine, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
