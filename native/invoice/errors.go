package invoice

import "errors"

// Hard verification errors. None of these may ever trigger an automatic
// refund: either no transfer is attributable to the call at all, or the
// attribution is too ambiguous to pick a refund recipient safely.
var (
	ErrInvoiceNotFound  = errors.New("invoice: not found")
	ErrAlreadySettled   = errors.New("invoice: already settled")
	ErrMemoMismatch     = errors.New("invoice: memo does not match")
	ErrUnsupportedAsset = errors.New("invoice: unsupported asset")
	ErrFundsMisrouted   = errors.New("invoice: funds misrouted")
)
