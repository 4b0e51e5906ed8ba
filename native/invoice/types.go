package invoice

import (
	"math/big"

	"payhub/ledger"
)

// InvoiceID is the 32-byte unguessable invoice identifier minted by the
// ident derivation chain.
type InvoiceID = [32]byte

// USDDecimals is the fixed decimal precision of the unit of account. Amounts
// and rates are big integers scaled by 10^USDDecimals.
const USDDecimals = 8

// Lifecycle constants. An invoice starts at DefaultTTL and is evicted by the
// sweep that observes it at RecyclingTTL.
const (
	DefaultTTL   uint8 = 2
	RecyclingTTL uint8 = 0
)

// Status enumerates the invoice lifecycle states. Paid is terminal; expiry
// removes the invoice outright instead of recording a state.
type Status uint8

const (
	StatusCreated Status = iota + 1
	StatusPaid
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusPaid:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusPaid:
		return "paid"
	default:
		return "unknown"
	}
}

// Invoice is a single payment request priced in USD and pinned to the
// exchange-rate generation in force when it was created. The engine owns the
// stored instance exclusively; callers only ever see clones.
type Invoice struct {
	ID               InvoiceID
	Status           Status
	TTL              uint8
	AmountUSD        *big.Int
	CreatedAt        int64
	RateTimestamp    int64
	ShopID           uint64
	CorrelationToken []byte
	Creator          string

	// Settlement outcome, populated on the transition to Paid.
	SettledAt     int64
	PaidAssetID   string
	PaidQty       *big.Int
	EffectiveRate *big.Int
}

// Clone returns a deep copy of the invoice.
func (inv *Invoice) Clone() *Invoice {
	if inv == nil {
		return nil
	}
	clone := *inv
	if inv.AmountUSD != nil {
		clone.AmountUSD = new(big.Int).Set(inv.AmountUSD)
	}
	if len(inv.CorrelationToken) > 0 {
		clone.CorrelationToken = append([]byte(nil), inv.CorrelationToken...)
	}
	if inv.PaidQty != nil {
		clone.PaidQty = new(big.Int).Set(inv.PaidQty)
	}
	if inv.EffectiveRate != nil {
		clone.EffectiveRate = new(big.Int).Set(inv.EffectiveRate)
	}
	return &clone
}

// RefundReason codes the verification failure that made a refund owed.
type RefundReason string

const (
	// RefundReasonUnderpaid marks evidence whose implied USD value at the
	// pinned rate fell short of the amount owed.
	RefundReasonUnderpaid RefundReason = "underpaid"
	// RefundReasonWrongRoute marks evidence routed to the wrong shop
	// subaccount under the service's own principal.
	RefundReasonWrongRoute RefundReason = "wrong_route"
)

// RefundInstruction describes a corrective transfer the engine has decided
// is owed. It is handed to the transfer collaborator and never persisted.
type RefundInstruction struct {
	AssetID        string
	To             ledger.Account
	FromSubaccount [32]byte
	Qty            *big.Int
	Reason         RefundReason
}

// Clone returns a deep copy of the instruction.
func (r *RefundInstruction) Clone() *RefundInstruction {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Qty != nil {
		clone.Qty = new(big.Int).Set(r.Qty)
	}
	return &clone
}
