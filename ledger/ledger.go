package ledger

import (
	"context"
	"errors"
	"math/big"
)

// ErrTxNotFound indicates that the referenced block carries no transfer
// transaction on the queried ledger or any of its archives.
var ErrTxNotFound = errors.New("ledger: transaction not found")

// Account identifies a destination on an ICRC-1 style ledger: an owner
// principal plus a 32-byte subaccount. The zero subaccount is the owner's
// default account.
type Account struct {
	Owner      string
	Subaccount [32]byte
}

// TransferTxn is externally supplied transfer evidence. It is untrusted
// input: the verification pipeline decides what, if anything, it proves, and
// only the derived outcome is ever persisted.
type TransferTxn struct {
	From    Account
	To      Account
	AssetID string
	Qty     *big.Int
	Memo    [32]byte
}

// Clone returns a deep copy of the transaction evidence.
func (t *TransferTxn) Clone() *TransferTxn {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Qty != nil {
		clone.Qty = new(big.Int).Set(t.Qty)
	}
	return &clone
}

// Client resolves a (ledger, block index) reference to transfer evidence.
// Implementations follow archive pointers when the primary ledger node has
// pruned the requested block.
type Client interface {
	GetTransaction(ctx context.Context, assetID string, blockIndex uint64) (*TransferTxn, error)
}

// TransferClient executes asset movements out of the service's own ledger
// accounts: refunds decided by verification and shop profit withdrawals. The
// hub only decides that a transfer is owed; retrying failed transfers is the
// collaborator's responsibility.
type TransferClient interface {
	Transfer(ctx context.Context, assetID string, fromSubaccount [32]byte, to Account, qty, fee *big.Int, memo []byte) (uint64, error)
}
