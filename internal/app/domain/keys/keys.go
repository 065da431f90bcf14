// Package keys derives deterministic record addresses. A key is a pure
// function of a namespace tag and the identifiers that own the record, so any
// party can recompute where a record lives without a lookup table, and two
// writers racing on the same logical record collide on the same key.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Namespace tags for every record kind in the ledger.
const (
	NSMarketplace = "marketplace"
	NSProperty    = "property"
	NSOffer       = "offer"
	NSEscrow      = "escrow"
	NSMint        = "nft_mint"
	NSTransaction = "transaction"
)

// Derive computes the address for a record as namespace:hex(sha256(parts)).
// Parts are length-prefixed before hashing so ("ab","c") and ("a","bc")
// cannot collide.
func Derive(namespace string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(namespace))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(strconv.Itoa(len(p))))
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return namespace + ":" + hex.EncodeToString(h.Sum(nil))
}

// Marketplace returns the key for the marketplace owned by authority.
func Marketplace(authority string) string {
	return Derive(NSMarketplace, authority)
}

// Property returns the key for a property listed under a marketplace.
func Property(marketplaceKey, propertyID string) string {
	return Derive(NSProperty, marketplaceKey, propertyID)
}

// Offer returns the key for the single live offer a buyer may hold on a
// property.
func Offer(propertyKey, buyer string) string {
	return Derive(NSOffer, propertyKey, buyer)
}

// Escrow returns the key of the custody record backing an offer.
func Escrow(propertyKey, buyer string) string {
	return Derive(NSEscrow, propertyKey, buyer)
}

// Mint returns the key of the unique ownership token minted for a property.
func Mint(propertyKey string) string {
	return Derive(NSMint, propertyKey)
}

// Transaction returns the key of a sale history record. The index is the
// property's transaction count at the time of sale, so history records never
// overwrite each other.
func Transaction(propertyKey string, index uint64) string {
	return Derive(NSTransaction, propertyKey, strconv.FormatUint(index, 10))
}
