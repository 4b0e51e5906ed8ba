package invoice

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"payhub/ledger"
	"payhub/native/ident"
	"payhub/native/token"
)

// rateSource is the slice of the exchange-rate cache the engine depends on.
type rateSource interface {
	CurrentTimestamp() (int64, error)
	RateAt(timestamp int64, ticker string) (*big.Int, error)
	HasGeneration(timestamp int64) bool
	Pin(timestamp int64, id [32]byte)
	Unpin(timestamp int64, id [32]byte)
}

// tokenSource resolves ledger addresses to supported tokens.
type tokenSource interface {
	GetByID(assetID string) (token.Token, bool)
}

// Engine owns the invoice table, the identifier seed and the archive queue,
// and drives the Created -> Paid / Created -> evicted lifecycle. It performs
// no locking of its own: the hub serialises access per top-level request.
type Engine struct {
	rates          rateSource
	tokens         tokenSource
	serviceAccount string

	seed     [32]byte
	invoices map[InvoiceID]*Invoice
	archive  []InvoiceID

	nowFn func() int64
}

// NewEngine creates an invoice engine bound to the given rate cache, token
// registry and the service's own ledger principal.
func NewEngine(rates rateSource, tokens tokenSource, serviceAccount string) *Engine {
	return &Engine{
		rates:          rates,
		tokens:         tokens,
		serviceAccount: serviceAccount,
		invoices:       make(map[InvoiceID]*Invoice),
		nowFn:          func() int64 { return time.Now().UnixNano() },
	}
}

// SetNowFunc overrides the time source. Primarily intended for tests to
// provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().UnixNano() }
		return
	}
	e.nowFn = now
}

// SeedIdentifiers initialises the rolling identifier seed. Called exactly
// once per engine lifetime, with host-supplied entropy; restores go through
// FromSnapshot instead.
func (e *Engine) SeedIdentifiers(seed [32]byte) {
	e.seed = seed
}

// Create mints a new invoice for amountUSD routed to shopID, pins it to the
// current exchange-rate generation and returns its identifier. Fails while
// no generation exists.
func (e *Engine) Create(amountUSD *big.Int, shopID uint64, correlationToken []byte, creator string) (InvoiceID, error) {
	var zero InvoiceID
	if amountUSD == nil || amountUSD.Sign() <= 0 {
		return zero, fmt.Errorf("invoice: amount must be positive")
	}
	rateTimestamp, err := e.rates.CurrentTimestamp()
	if err != nil {
		return zero, err
	}

	now := e.nowFn()
	id := ident.NextID(&e.seed, ident.TimeSalt(now))

	inv := &Invoice{
		ID:            id,
		Status:        StatusCreated,
		TTL:           DefaultTTL,
		AmountUSD:     new(big.Int).Set(amountUSD),
		CreatedAt:     now,
		RateTimestamp: rateTimestamp,
		ShopID:        shopID,
		Creator:       creator,
	}
	if len(correlationToken) > 0 {
		inv.CorrelationToken = append([]byte(nil), correlationToken...)
	}

	e.invoices[id] = inv
	e.rates.Pin(rateTimestamp, id)

	return id, nil
}

// Get returns a copy of the invoice, when present.
func (e *Engine) Get(id InvoiceID) (*Invoice, bool) {
	inv, ok := e.invoices[id]
	if !ok {
		return nil, false
	}
	return inv.Clone(), true
}

// TickAll advances the TTL countdown of every unpaid invoice by one step.
// Invoices observed at RecyclingTTL are evicted and their pinned generation
// reference released. Returns the identifiers evicted by this sweep.
func (e *Engine) TickAll() []InvoiceID {
	var evicted []InvoiceID
	for id, inv := range e.invoices {
		if inv.Status != StatusCreated {
			continue
		}
		if inv.TTL == RecyclingTTL {
			delete(e.invoices, id)
			e.rates.Unpin(inv.RateTimestamp, id)
			evicted = append(evicted, id)
			continue
		}
		inv.TTL--
	}
	return evicted
}

// Settle verifies externally supplied transfer evidence against the invoice
// and either transitions it to Paid, produces a refund instruction, or fails
// with a coded error. Exactly one of the three results is non-zero.
//
// Checks that could justify returning funds to the sender (underpayment,
// wrong sub-route) run only after every check whose failure would make
// attribution or routing unverifiable.
func (e *Engine) Settle(id InvoiceID, txn *ledger.TransferTxn) (*Invoice, *RefundInstruction, error) {
	if txn == nil {
		return nil, nil, fmt.Errorf("invoice: transfer evidence required")
	}
	inv, ok := e.invoices[id]
	if !ok {
		return nil, nil, ErrInvoiceNotFound
	}
	if inv.Status != StatusCreated {
		return nil, nil, ErrAlreadySettled
	}

	if txn.Memo != ident.InvoiceMemo(id) {
		return nil, nil, ErrMemoMismatch
	}

	tok, ok := e.tokens.GetByID(txn.AssetID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, txn.AssetID)
	}
	if !e.rates.HasGeneration(inv.RateTimestamp) {
		// Reference counting forbids this; continuing would hide the bug.
		panic(fmt.Sprintf("invoice: pinned generation %d missing for %x", inv.RateTimestamp, id))
	}
	rate, err := e.rates.RateAt(inv.RateTimestamp, tok.Ticker)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, tok.Ticker)
	}

	implied := impliedUSD(txn.Qty, rate, tok.Decimals)
	if implied.Cmp(inv.AmountUSD) < 0 {
		return nil, &RefundInstruction{
			AssetID:        txn.AssetID,
			To:             txn.From,
			FromSubaccount: txn.To.Subaccount,
			Qty:            new(big.Int).Set(txn.Qty),
			Reason:         RefundReasonUnderpaid,
		}, nil
	}

	if txn.To.Owner != e.serviceAccount {
		return nil, nil, ErrFundsMisrouted
	}
	if txn.To.Subaccount != ident.ShopSubaccount(inv.ShopID) {
		return nil, &RefundInstruction{
			AssetID:        txn.AssetID,
			To:             txn.From,
			FromSubaccount: txn.To.Subaccount,
			Qty:            new(big.Int).Set(txn.Qty),
			Reason:         RefundReasonWrongRoute,
		}, nil
	}

	inv.Status = StatusPaid
	inv.SettledAt = e.nowFn()
	inv.PaidAssetID = txn.AssetID
	inv.PaidQty = new(big.Int).Set(txn.Qty)
	inv.EffectiveRate = rate
	e.rates.Unpin(inv.RateTimestamp, id)
	e.archive = append(e.archive, id)

	return inv.Clone(), nil, nil
}

// impliedUSD computes qty * rate / 10^decimals: the USD value of a native
// asset quantity at a USD-per-whole-unit rate.
func impliedUSD(qty, rate *big.Int, decimals uint8) *big.Int {
	if qty == nil || rate == nil {
		return big.NewInt(0)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	value := new(big.Int).Mul(qty, rate)
	return value.Quo(value, scale)
}

// EjectArchiveBatch removes up to limit settled invoices from the table,
// oldest settlement first, and returns them for hand-off to the history
// sink. Ejected invoices no longer resolve through Get.
func (e *Engine) EjectArchiveBatch(limit int) []*Invoice {
	if limit <= 0 || len(e.archive) == 0 {
		return nil
	}
	if limit > len(e.archive) {
		limit = len(e.archive)
	}
	batch := make([]*Invoice, 0, limit)
	for _, id := range e.archive[:limit] {
		if inv, ok := e.invoices[id]; ok {
			batch = append(batch, inv)
			delete(e.invoices, id)
		}
	}
	e.archive = append([]InvoiceID(nil), e.archive[limit:]...)
	return batch
}

// RestoreArchiveBatch puts a previously ejected batch back at the front of
// the queue after a failed hand-off.
func (e *Engine) RestoreArchiveBatch(batch []*Invoice) {
	if len(batch) == 0 {
		return
	}
	ids := make([]InvoiceID, 0, len(batch))
	for _, inv := range batch {
		if inv == nil {
			continue
		}
		e.invoices[inv.ID] = inv
		ids = append(ids, inv.ID)
	}
	e.archive = append(ids, e.archive...)
}

// ActiveCount returns the number of invoices still in Created state.
func (e *Engine) ActiveCount() int {
	count := 0
	for _, inv := range e.invoices {
		if inv.Status == StatusCreated {
			count++
		}
	}
	return count
}

// ArchiveDepth returns the number of settled invoices awaiting ejection.
func (e *Engine) ArchiveDepth() int {
	return len(e.archive)
}

// sortedIDs returns every held identifier in deterministic order; used by
// the snapshot codec.
func (e *Engine) sortedIDs() []InvoiceID {
	ids := make([]InvoiceID, 0, len(e.invoices))
	for id := range e.invoices {
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
	return ids
}
