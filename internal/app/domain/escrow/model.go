// Package escrow defines the custody record backing a pending offer.
package escrow

import (
	"time"

	"github.com/estatechain/marketplace/internal/app/domain/keys"
)

// Escrow holds buyer funds for the lifetime of a pending offer. Only the
// engine's own transitions may release it: split seller/fee on acceptance,
// or refunded whole on rejection and expiry. Active flips to false exactly
// once, in the same transition that resolves the offer.
type Escrow struct {
	Key       string
	Buyer     string
	Property  string
	Amount    uint64
	Active    bool
	CreatedAt time.Time
}

// KeyFor returns the deterministic address of the escrow backing a buyer's
// offer on a property.
func KeyFor(propertyKey, buyer string) string {
	return keys.Escrow(propertyKey, buyer)
}
