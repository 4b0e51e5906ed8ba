package hub

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"payhub/native/invoice"
	"payhub/storage"
)

// archiveKeyPrefix namespaces archived invoices away from the live snapshot.
var archiveKeyPrefix = []byte("payhub/archive/")

// StorageSink archives settled invoices into a key-value store, one record
// per invoice keyed by its identifier.
type StorageSink struct {
	db storage.Database
}

// NewStorageSink wraps db as an archive sink.
func NewStorageSink(db storage.Database) *StorageSink {
	return &StorageSink{db: db}
}

func archiveKey(id invoice.InvoiceID) []byte {
	key := make([]byte, 0, len(archiveKeyPrefix)+len(id))
	key = append(key, archiveKeyPrefix...)
	return append(key, id[:]...)
}

// StoreBatch persists every invoice in the batch. Writes are idempotent, so
// a partially stored batch that gets restored and re-archived converges.
func (s *StorageSink) StoreBatch(ctx context.Context, batch []*invoice.Invoice) error {
	for _, inv := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if inv == nil {
			continue
		}
		encoded, err := rlp.EncodeToBytes(storedArchiveRecord(inv))
		if err != nil {
			return fmt.Errorf("hub: encode archived invoice: %w", err)
		}
		if err := s.db.Put(archiveKey(inv.ID), encoded); err != nil {
			return fmt.Errorf("hub: persist archived invoice: %w", err)
		}
	}
	return nil
}

// GetArchived retrieves one archived invoice by identifier.
func (s *StorageSink) GetArchived(id invoice.InvoiceID) (*invoice.Invoice, error) {
	encoded, err := s.db.Get(archiveKey(id))
	if err != nil {
		return nil, err
	}
	var record archiveRecord
	if err := rlp.DecodeBytes(encoded, &record); err != nil {
		return nil, fmt.Errorf("hub: decode archived invoice: %w", err)
	}
	return record.toInvoice()
}

// archiveRecord mirrors the invoice fields that matter after settlement.
type archiveRecord struct {
	ID               [32]byte
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

func storedArchiveRecord(inv *invoice.Invoice) archiveRecord {
	record := archiveRecord{
		ID:            inv.ID,
		AmountUSD:     inv.AmountUSD.String(),
		CreatedAt:     uint64(inv.CreatedAt),
		RateTimestamp: uint64(inv.RateTimestamp),
		ShopID:        inv.ShopID,
		Creator:       inv.Creator,
		SettledAt:     uint64(inv.SettledAt),
		PaidAssetID:   inv.PaidAssetID,
	}
	if len(inv.CorrelationToken) > 0 {
		record.CorrelationToken = append([]byte(nil), inv.CorrelationToken...)
	}
	if inv.PaidQty != nil {
		record.PaidQty = inv.PaidQty.String()
	}
	if inv.EffectiveRate != nil {
		record.EffectiveRate = inv.EffectiveRate.String()
	}
	return record
}

func (r archiveRecord) toInvoice() (*invoice.Invoice, error) {
	inv := &invoice.Invoice{
		ID:            r.ID,
		Status:        invoice.StatusPaid,
		CreatedAt:     int64(r.CreatedAt),
		RateTimestamp: int64(r.RateTimestamp),
		ShopID:        r.ShopID,
		Creator:       r.Creator,
		SettledAt:     int64(r.SettledAt),
		PaidAssetID:   r.PaidAssetID,
	}
	var err error
	if inv.AmountUSD, err = parseBig(r.AmountUSD); err != nil {
		return nil, err
	}
	if r.PaidQty != "" {
		if inv.PaidQty, err = parseBig(r.PaidQty); err != nil {
			return nil, err
		}
	}
	if r.EffectiveRate != "" {
		if inv.EffectiveRate, err = parseBig(r.EffectiveRate); err != nil {
			return nil, err
		}
	}
	if len(r.CorrelationToken) > 0 {
		inv.CorrelationToken = append([]byte(nil), r.CorrelationToken...)
	}
	return inv, nil
}

func parseBig(value string) (*big.Int, error) {
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("hub: invalid archived amount %q", value)
	}
	return parsed, nil
}
