// Package hub wires the invoice engine, the exchange-rate cache, the token
// and shop registries and the external ledger collaborators into one
// serialised service. All state mutation happens under the hub's lock; slow
// I/O (feed fetches, ledger reads, transfers) happens outside it.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"payhub/ledger"
	"payhub/native/ident"
	"payhub/native/invoice"
	"payhub/native/rates"
	"payhub/native/shop"
	"payhub/native/token"
	"payhub/observability"
	"payhub/ratefeed"
)

// ErrShopNotFound indicates the referenced shop is not registered.
var ErrShopNotFound = errors.New("hub: shop not found")

// ErrNotAuthorized indicates the caller may not perform the operation on the
// referenced shop.
var ErrNotAuthorized = errors.New("hub: not authorized")

// ErrBelowMinimum indicates a withdrawal too small to cover the ledger fee
// overhead.
var ErrBelowMinimum = errors.New("hub: amount below withdrawal minimum")

// ArchiveSink receives batches of settled invoices ejected from working
// memory. A failed hand-off must leave the sink without partial state; the
// hub restores the batch and retries on the next cycle.
type ArchiveSink interface {
	StoreBatch(ctx context.Context, batch []*invoice.Invoice) error
}

// withdrawalFeeMultiple is the minimum withdrawal expressed in ledger fees.
// Up to three transfers leave the shop subaccount per withdrawal, and the
// remainder must still be worth moving.
const withdrawalFeeMultiple = 5

// Hub is the top-level payment hub service.
type Hub struct {
	mu sync.Mutex

	rates    *rates.Cache
	tokens   *token.Registry
	shops    *shop.Registry
	invoices *invoice.Engine

	ledger    ledger.Client
	transfers ledger.TransferClient
	feed      ratefeed.Fetcher
	archive   ArchiveSink

	serviceAccount string
	log            *slog.Logger
	metrics        *observability.HubMetrics
	nowFn          func() int64
}

// Options carries the collaborators a hub is built from.
type Options struct {
	Rates          *rates.Cache
	Tokens         *token.Registry
	Shops          *shop.Registry
	Invoices       *invoice.Engine
	Ledger         ledger.Client
	Transfers      ledger.TransferClient
	Feed           ratefeed.Fetcher
	Archive        ArchiveSink
	ServiceAccount string
	Logger         *slog.Logger
}

// New constructs a hub from the supplied collaborators. Nil state components
// are initialised empty; the ledger clients and feed may be nil only when the
// corresponding operations are never invoked.
func New(opts Options) (*Hub, error) {
	if strings.TrimSpace(opts.ServiceAccount) == "" {
		return nil, fmt.Errorf("hub: service account required")
	}
	h := &Hub{
		rates:          opts.Rates,
		tokens:         opts.Tokens,
		shops:          opts.Shops,
		invoices:       opts.Invoices,
		ledger:         opts.Ledger,
		transfers:      opts.Transfers,
		feed:           opts.Feed,
		archive:        opts.Archive,
		serviceAccount: strings.TrimSpace(opts.ServiceAccount),
		log:            opts.Logger,
		metrics:        observability.Hub(),
		nowFn:          func() int64 { return time.Now().UnixNano() },
	}
	if h.rates == nil {
		h.rates = rates.NewCache()
	}
	if h.tokens == nil {
		h.tokens = token.NewRegistry()
	}
	if h.shops == nil {
		h.shops = shop.NewRegistry()
	}
	if h.invoices == nil {
		h.invoices = invoice.NewEngine(h.rates, h.tokens, h.serviceAccount)
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	return h, nil
}

// SetNowFunc overrides the time source for deterministic tests. The invoice
// engine shares the same source.
func (h *Hub) SetNowFunc(now func() int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if now == nil {
		h.nowFn = func() int64 { return time.Now().UnixNano() }
	} else {
		h.nowFn = now
	}
	h.invoices.SetNowFunc(now)
}

// SeedIdentifiers installs the invoice identifier entropy. Called once when
// starting without persisted state.
func (h *Hub) SeedIdentifiers(seed [32]byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.invoices.SeedIdentifiers(seed)
}

// CreateInvoice mints an invoice for amountUSD routed to shopID. The creator
// must be the shop owner or one of its registered invoice creators.
func (h *Hub) CreateInvoice(amountUSD *big.Int, shopID uint64, correlationToken []byte, creator string) (invoice.InvoiceID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var zero invoice.InvoiceID
	s, ok := h.shops.Get(shopID)
	if !ok {
		return zero, ErrShopNotFound
	}
	if !s.CanCreateInvoices(creator) {
		return zero, ErrNotAuthorized
	}
	id, err := h.invoices.Create(amountUSD, shopID, correlationToken, creator)
	if err != nil {
		return zero, err
	}
	h.metrics.InvoiceCreated()
	h.metrics.SetActiveInvoices(h.invoices.ActiveCount())
	h.log.Info("invoice created",
		"invoice", fmt.Sprintf("%x", id),
		"shop", shopID,
		"amount_usd", amountUSD.String(),
	)
	return id, nil
}

// GetInvoice returns a copy of the invoice, when still held in working
// memory.
func (h *Hub) GetInvoice(id invoice.InvoiceID) (*invoice.Invoice, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.invoices.Get(id)
}

// SettleResult is the outcome of a settlement attempt that did not fail
// outright: either the invoice transitioned to Paid, or a refund was owed
// and issued.
type SettleResult struct {
	Invoice *invoice.Invoice
	Refund  *invoice.RefundInstruction
}

// SettleInvoice resolves transfer evidence referenced by (assetID,
// blockIndex) against the invoice. The ledger read happens outside the hub
// lock; the invoice is re-verified from scratch once evidence is in hand, so
// a settlement that raced this one is detected and rejected.
func (h *Hub) SettleInvoice(ctx context.Context, id invoice.InvoiceID, assetID string, blockIndex uint64) (*SettleResult, error) {
	if h.ledger == nil {
		return nil, fmt.Errorf("hub: no ledger client configured")
	}
	h.mu.Lock()
	inv, ok := h.invoices.Get(id)
	if !ok {
		h.mu.Unlock()
		return nil, invoice.ErrInvoiceNotFound
	}
	if inv.Status != invoice.StatusCreated {
		h.mu.Unlock()
		return nil, invoice.ErrAlreadySettled
	}
	h.mu.Unlock()

	txn, err := h.ledger.GetTransaction(ctx, assetID, blockIndex)
	if err != nil {
		return nil, fmt.Errorf("hub: fetch evidence: %w", err)
	}

	h.mu.Lock()
	paid, refund, err := h.invoices.Settle(id, txn)
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}
	active := h.invoices.ActiveCount()
	generations := h.rates.GenerationCount()
	var refundFee *big.Int
	if refund != nil {
		// Resolve the transfer fee while still holding the lock; the token
		// registry must not be read concurrently with token_add/token_remove.
		if tok, ok := h.tokens.GetByID(refund.AssetID); ok {
			refundFee = tok.Fee
		}
	}
	h.mu.Unlock()

	if refund != nil {
		h.issueRefund(ctx, id, refund, refundFee)
		return &SettleResult{Refund: refund}, nil
	}

	h.metrics.InvoiceSettled()
	h.metrics.SetActiveInvoices(active)
	h.metrics.SetLiveGenerations(generations)
	h.log.Info("invoice settled",
		"invoice", fmt.Sprintf("%x", id),
		"asset", paid.PaidAssetID,
		"qty", paid.PaidQty.String(),
	)
	return &SettleResult{Invoice: paid}, nil
}

// issueRefund executes the corrective transfer decided by verification. The
// fee is resolved by the caller under the hub lock. A transfer failure is
// logged, not surfaced: the caller's settlement attempt already concluded,
// and the operator reconciles failed refunds from logs.
func (h *Hub) issueRefund(ctx context.Context, id invoice.InvoiceID, refund *invoice.RefundInstruction, fee *big.Int) {
	h.metrics.RefundIssued(string(refund.Reason))

	if h.transfers == nil {
		h.log.Error("refund owed but no transfer client configured",
			"invoice", fmt.Sprintf("%x", id),
			"reason", string(refund.Reason),
		)
		return
	}
	block, err := h.transfers.Transfer(ctx, refund.AssetID, refund.FromSubaccount, refund.To, refund.Qty, fee, nil)
	if err != nil {
		h.log.Error("refund transfer failed",
			"invoice", fmt.Sprintf("%x", id),
			"reason", string(refund.Reason),
			"asset", refund.AssetID,
			"qty", refund.Qty.String(),
			"err", err,
		)
		return
	}
	h.log.Info("refund issued",
		"invoice", fmt.Sprintf("%x", id),
		"reason", string(refund.Reason),
		"asset", refund.AssetID,
		"qty", refund.Qty.String(),
		"block", block,
	)
}

// RefreshRates pulls the current quote set from the feed and installs it as
// a new generation. Only USD-quoted pairs whose base is a registered token
// ticker are retained.
func (h *Hub) RefreshRates(ctx context.Context) error {
	if h.feed == nil {
		return fmt.Errorf("hub: no rate feed configured")
	}
	ctx, cancel := ratefeed.WithTimeout(ctx)
	defer cancel()

	quotes, err := h.feed.FetchRates(ctx)
	if err != nil {
		h.metrics.RateRefresh(false)
		h.log.Error("rate refresh failed", "err", err)
		return err
	}

	h.mu.Lock()
	filtered := make(map[string]*big.Int)
	for _, quote := range quotes {
		if quote.Quote != "USD" || quote.Rate == nil {
			continue
		}
		if !h.tokens.ContainsTicker(quote.Base) {
			continue
		}
		filtered[quote.Base] = quote.Rate
	}
	h.rates.Refresh(filtered, h.nowFn())
	generations := h.rates.GenerationCount()
	h.mu.Unlock()

	h.metrics.RateRefresh(true)
	h.metrics.SetLiveGenerations(generations)
	h.log.Info("exchange rates refreshed", "tickers", len(filtered), "generations", generations)
	return nil
}

// GetExchangeRates returns a copy of the generation active at or before
// timestamp, along with the timestamp it was fetched at. With a zero
// timestamp the current generation is returned.
func (h *Hub) GetExchangeRates(timestamp int64) (map[string]*big.Int, int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if timestamp == 0 {
		current, err := h.rates.CurrentTimestamp()
		if err != nil {
			return nil, 0, err
		}
		timestamp = current
	}
	found, at, ok := h.rates.RatesAt(timestamp)
	if !ok {
		return nil, 0, rates.ErrRateNotFound
	}
	return found, at, nil
}

// TickInvoices runs one TTL sweep over unpaid invoices and returns the
// number evicted.
func (h *Hub) TickInvoices() int {
	h.mu.Lock()
	evicted := h.invoices.TickAll()
	active := h.invoices.ActiveCount()
	generations := h.rates.GenerationCount()
	h.mu.Unlock()

	h.metrics.InvoicesExpired(len(evicted))
	h.metrics.SetActiveInvoices(active)
	h.metrics.SetLiveGenerations(generations)
	if len(evicted) > 0 {
		h.log.Info("invoices expired", "count", len(evicted))
	}
	return len(evicted)
}

// ArchiveBatch ejects up to limit settled invoices and hands them to the
// archive sink. On a failed hand-off the batch is restored so no settled
// invoice is lost; it is retried by the next cycle.
func (h *Hub) ArchiveBatch(ctx context.Context, limit int) (int, error) {
	if h.archive == nil {
		return 0, nil
	}

	h.mu.Lock()
	batch := h.invoices.EjectArchiveBatch(limit)
	h.mu.Unlock()
	if len(batch) == 0 {
		return 0, nil
	}

	if err := h.archive.StoreBatch(ctx, batch); err != nil {
		h.mu.Lock()
		h.invoices.RestoreArchiveBatch(batch)
		h.mu.Unlock()
		h.log.Error("archive hand-off failed, batch restored", "count", len(batch), "err", err)
		return 0, err
	}

	h.metrics.InvoicesArchived(len(batch))
	h.log.Info("invoices archived", "count", len(batch))
	return len(batch), nil
}

// RegisterShop registers a shop owned by caller and returns its identifier.
func (h *Hub) RegisterShop(caller, name, description, iconBase64, referral string, invoiceCreators []string) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shops.Register(caller, name, description, iconBase64, referral, invoiceCreators)
}

// UpdateShop applies an owner-gated shop update.
func (h *Hub) UpdateShop(id uint64, req shop.UpdateRequest, caller string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shops.Update(id, req, caller)
}

// GetShop returns a copy of the shop, when registered.
func (h *Hub) GetShop(id uint64) (*shop.Shop, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shops.Get(id)
}

// GetShopsByOwner returns every shop owned by owner.
func (h *Hub) GetShopsByOwner(owner string) []*shop.Shop {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shops.GetByOwner(owner)
}

// SetFeeCollector installs the account receiving the platform's withdrawal
// cut.
func (h *Hub) SetFeeCollector(account *ledger.Account) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shops.SetFeeCollector(account)
}

// WithdrawProfit moves accumulated payments off the shop's subaccount and
// returns the block index of the payout transfer. The quantity is split
// between the shop's destination, the platform fee collector and the shop's
// referral; each leg is a separate ledger transfer out of the shop
// subaccount. The memo rides on the payout leg only.
func (h *Hub) WithdrawProfit(ctx context.Context, shopID uint64, assetID string, to ledger.Account, qty *big.Int, memo []byte, caller string) (uint64, error) {
	h.mu.Lock()
	s, ok := h.shops.Get(shopID)
	if !ok {
		h.mu.Unlock()
		return 0, ErrShopNotFound
	}
	if s.Owner != strings.TrimSpace(caller) {
		h.mu.Unlock()
		return 0, ErrNotAuthorized
	}
	tok, ok := h.tokens.GetByID(assetID)
	if !ok {
		h.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", invoice.ErrUnsupportedAsset, assetID)
	}
	collector, hasCollector := h.shops.FeeCollector()
	referral, hasReferral := h.shops.Referral(shopID)
	h.mu.Unlock()

	if qty == nil || qty.Sign() <= 0 {
		return 0, fmt.Errorf("hub: withdrawal amount must be positive")
	}
	if tok.Fee != nil {
		minimum := new(big.Int).Mul(tok.Fee, big.NewInt(withdrawalFeeMultiple))
		if qty.Cmp(minimum) < 0 {
			return 0, fmt.Errorf("%w: need at least %s", ErrBelowMinimum, minimum)
		}
	}
	if h.transfers == nil {
		return 0, fmt.Errorf("hub: no transfer client configured")
	}

	payout, platformFee, referralFee := shop.SplitWithdrawal(qty, hasCollector, hasReferral)
	from := ident.ShopSubaccount(shopID)

	block, err := h.transfers.Transfer(ctx, assetID, from, to, payout, tok.Fee, memo)
	if err != nil {
		return 0, fmt.Errorf("hub: payout transfer: %w", err)
	}
	if platformFee.Sign() > 0 {
		if _, err := h.transfers.Transfer(ctx, assetID, from, collector, platformFee, tok.Fee, nil); err != nil {
			h.log.Error("platform fee transfer failed",
				"shop", shopID, "asset", assetID, "qty", platformFee.String(), "err", err)
		}
	}
	if referralFee.Sign() > 0 {
		if _, err := h.transfers.Transfer(ctx, assetID, from, ledger.Account{Owner: referral}, referralFee, tok.Fee, nil); err != nil {
			h.log.Error("referral fee transfer failed",
				"shop", shopID, "asset", assetID, "qty", referralFee.String(), "err", err)
		}
	}

	h.log.Info("profit withdrawn",
		"shop", shopID,
		"asset", assetID,
		"payout", payout.String(),
		"platform_fee", platformFee.String(),
		"referral_fee", referralFee.String(),
		"block", block,
	)
	return block, nil
}

// AddToken registers a supported payment token.
func (h *Hub) AddToken(t token.Token) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tokens.Add(t)
}

// RemoveToken drops a token from the supported set. Rates already pinned by
// open invoices are unaffected.
func (h *Hub) RemoveToken(ticker string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tokens.Remove(ticker)
}

// ListTokens returns the supported tokens ordered by ticker.
func (h *Hub) ListTokens() []token.Token {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tokens.List()
}

// ActiveInvoices returns the number of invoices awaiting payment.
func (h *Hub) ActiveInvoices() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.invoices.ActiveCount()
}
