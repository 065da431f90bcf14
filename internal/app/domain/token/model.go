// Package token defines the mint and balance records the settlement engine
// moves: fungible payment balances and the unique ownership token that
// represents title to a property.
package token

import (
	"time"

	"github.com/estatechain/marketplace/internal/app/domain/keys"
)

// Mint describes a token kind. Ownership tokens are minted with a fixed
// supply of one and bound to the property they title.
type Mint struct {
	Key       string
	Property  string
	Supply    uint64
	CreatedAt time.Time
}

// MintKeyFor returns the deterministic address of the ownership token minted
// for a property.
func MintKeyFor(propertyKey string) string {
	return keys.Mint(propertyKey)
}
