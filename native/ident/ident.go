package ident

import (
	"encoding/binary"

	"lukechampine.com/blake3"
)

// Domain-separation tags for the three derivation purposes. Distinct tags
// guarantee that a value derived for one purpose can never collide with a
// value derived for another (a memo can not be forged as an identifier, a
// subaccount can not be forged as a memo).
const (
	domainInvoiceID  = "msq-invoice-id"
	domainMemo       = "msq-payment-memo"
	domainSubaccount = "msq-shop-subaccount"
)

// NextID derives the next invoice identifier from the rolling 32-byte seed
// and a caller-supplied salt, then advances the seed to the digest. The seed
// only ever moves forward, so identifiers never repeat for the lifetime of a
// seed, and without knowledge of the seed they are unpredictable.
func NextID(seed *[32]byte, salt []byte) [32]byte {
	h := blake3.New(32, nil)
	h.Write(seed[:])
	h.Write([]byte(domainInvoiceID))
	h.Write(salt)

	var id [32]byte
	h.Sum(id[:0])
	*seed = id

	return id
}

// TimeSalt renders a creation timestamp as the little-endian salt fed into
// NextID.
func TimeSalt(nanos int64) []byte {
	salt := make([]byte, 8)
	binary.LittleEndian.PutUint64(salt, uint64(nanos))
	return salt
}

// InvoiceMemo derives the transfer memo bound to an invoice identifier. The
// binding is one-way: observers of the memo on a public ledger can not
// recover the identifier, while the holder of the identifier can always
// recompute the expected memo.
func InvoiceMemo(id [32]byte) [32]byte {
	h := blake3.New(32, nil)
	h.Write([]byte(domainMemo))
	h.Write(id[:])

	var memo [32]byte
	h.Sum(memo[:0])
	return memo
}

// ShopSubaccount maps a shop identifier to its routing subaccount under the
// service's master ledger account.
func ShopSubaccount(shopID uint64) [32]byte {
	var raw [8]byte
	binary.LittleEndian.PutUint64(raw[:], shopID)

	h := blake3.New(32, nil)
	h.Write([]byte(domainSubaccount))
	h.Write(raw[:])

	var sub [32]byte
	h.Sum(sub[:0])
	return sub
}
