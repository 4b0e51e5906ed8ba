package shop

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"payhub/ledger"
)

var (
	// ErrShopNotFound marks lookups of unregistered shop identifiers.
	ErrShopNotFound = errors.New("shop: not found")
	// ErrNotOwner marks mutations attempted by anyone but the shop owner.
	ErrNotOwner = errors.New("shop: access denied")
)

// Shop is a merchant registration. Its ID doubles as the routing target:
// payments for the shop land on the subaccount derived from it.
type Shop struct {
	ID              uint64
	Owner           string
	InvoiceCreators []string
	Name            string
	Description     string
	IconBase64      string
	Referral        string
}

// Clone returns a deep copy of the shop.
func (s *Shop) Clone() *Shop {
	if s == nil {
		return nil
	}
	clone := *s
	if len(s.InvoiceCreators) > 0 {
		clone.InvoiceCreators = append([]string(nil), s.InvoiceCreators...)
	}
	return &clone
}

// CanCreateInvoices reports whether principal may create invoices routed to
// this shop.
func (s *Shop) CanCreateInvoices(principal string) bool {
	if s == nil {
		return false
	}
	if principal == s.Owner {
		return true
	}
	for _, creator := range s.InvoiceCreators {
		if creator == principal {
			return true
		}
	}
	return false
}

// UpdateRequest carries the optional fields of a shop update. Nil fields are
// left untouched.
type UpdateRequest struct {
	Owner           *string
	InvoiceCreators *[]string
	Name            *string
	Description     *string
	IconBase64      *string
}

// Registry owns the shop table, the monotonic shop identifier counter and
// the platform fee collector account.
type Registry struct {
	nextID       uint64
	shops        map[uint64]*Shop
	byOwner      map[string]map[uint64]struct{}
	feeCollector *ledger.Account
}

// NewRegistry constructs an empty shop registry.
func NewRegistry() *Registry {
	return &Registry{
		shops:   make(map[uint64]*Shop),
		byOwner: make(map[string]map[uint64]struct{}),
	}
}

// SetFeeCollector installs (or clears, with nil) the account receiving the
// platform's share of profit withdrawals.
func (r *Registry) SetFeeCollector(account *ledger.Account) {
	if account == nil {
		r.feeCollector = nil
		return
	}
	clone := *account
	r.feeCollector = &clone
}

// FeeCollector returns the configured fee collector account, when set.
func (r *Registry) FeeCollector() (ledger.Account, bool) {
	if r.feeCollector == nil {
		return ledger.Account{}, false
	}
	return *r.feeCollector, true
}

// Register creates a shop owned by caller and returns its identifier.
func (r *Registry) Register(caller, name, description, iconBase64, referral string, invoiceCreators []string) (uint64, error) {
	owner := strings.TrimSpace(caller)
	if owner == "" {
		return 0, fmt.Errorf("shop: owner required")
	}
	if strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("shop: name required")
	}

	id := r.nextID
	r.nextID++

	s := &Shop{
		ID:          id,
		Owner:       owner,
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		IconBase64:  strings.TrimSpace(iconBase64),
		Referral:    strings.TrimSpace(referral),
	}
	for _, creator := range invoiceCreators {
		if trimmed := strings.TrimSpace(creator); trimmed != "" {
			s.InvoiceCreators = append(s.InvoiceCreators, trimmed)
		}
	}

	r.shops[id] = s
	r.indexOwner(owner, id)
	return id, nil
}

// Update mutates the shop's optional fields. Only the owner may update a
// shop; ownership transfer re-indexes the owner relation.
func (r *Registry) Update(id uint64, req UpdateRequest, caller string) error {
	s, ok := r.shops[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrShopNotFound, id)
	}
	if s.Owner != strings.TrimSpace(caller) {
		return ErrNotOwner
	}

	if req.Owner != nil {
		newOwner := strings.TrimSpace(*req.Owner)
		if newOwner == "" {
			return fmt.Errorf("shop: owner required")
		}
		if set, ok := r.byOwner[s.Owner]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(r.byOwner, s.Owner)
			}
		}
		s.Owner = newOwner
		r.indexOwner(newOwner, id)
	}
	if req.InvoiceCreators != nil {
		s.InvoiceCreators = nil
		for _, creator := range *req.InvoiceCreators {
			if trimmed := strings.TrimSpace(creator); trimmed != "" {
				s.InvoiceCreators = append(s.InvoiceCreators, trimmed)
			}
		}
	}
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return fmt.Errorf("shop: name required")
		}
		s.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		s.Description = strings.TrimSpace(*req.Description)
	}
	if req.IconBase64 != nil {
		s.IconBase64 = strings.TrimSpace(*req.IconBase64)
	}
	return nil
}

// Get returns a copy of the shop, when present.
func (r *Registry) Get(id uint64) (*Shop, bool) {
	s, ok := r.shops[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Referral returns the shop's referral principal, when one is set.
func (r *Registry) Referral(id uint64) (string, bool) {
	s, ok := r.shops[id]
	if !ok || s.Referral == "" {
		return "", false
	}
	return s.Referral, true
}

// GetByOwner returns every shop owned by owner, ordered by identifier.
func (r *Registry) GetByOwner(owner string) []*Shop {
	set, ok := r.byOwner[strings.TrimSpace(owner)]
	if !ok {
		return nil
	}
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	shops := make([]*Shop, 0, len(ids))
	for _, id := range ids {
		shops = append(shops, r.shops[id].Clone())
	}
	return shops
}

func (r *Registry) indexOwner(owner string, id uint64) {
	set, ok := r.byOwner[owner]
	if !ok {
		set = make(map[uint64]struct{})
		r.byOwner[owner] = set
	}
	set[id] = struct{}{}
}

// SplitWithdrawal divides a profit withdrawal between the shop, the platform
// fee collector and the shop's referral. The platform takes 3% of the
// withdrawn amount and the referral takes 20% of that cut. When only one of
// the two fee parties exists it receives the whole 3% cut; when neither
// exists the full quantity goes to the shop.
func SplitWithdrawal(qty *big.Int, hasCollector, hasReferral bool) (payout, platformFee, referralFee *big.Int) {
	if qty == nil || qty.Sign() <= 0 || (!hasCollector && !hasReferral) {
		payout = new(big.Int)
		if qty != nil {
			payout.Set(qty)
		}
		return payout, big.NewInt(0), big.NewInt(0)
	}

	payout = new(big.Int).Mul(qty, big.NewInt(97))
	payout.Quo(payout, big.NewInt(100))
	cut := new(big.Int).Sub(qty, payout)

	switch {
	case hasCollector && hasReferral:
		platformFee = new(big.Int).Mul(cut, big.NewInt(80))
		platformFee.Quo(platformFee, big.NewInt(100))
		referralFee = new(big.Int).Sub(cut, platformFee)
	case hasReferral:
		platformFee = big.NewInt(0)
		referralFee = cut
	default:
		platformFee = cut
		referralFee = big.NewInt(0)
	}
	return payout, platformFee, referralFee
}
