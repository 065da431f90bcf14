// Package property defines the listed-property record.
package property

import (
	"time"

	"github.com/estatechain/marketplace/internal/app/domain/keys"
)

// Field length bounds enforced at listing and update time.
const (
	MaxPropertyIDLen  = 64
	MaxMetadataURILen = 200
	MaxLocationLen    = 50
)

// Property is a listed property. It is never deleted: a sale flips the owner
// and deactivates the listing, and every sale appends a history record.
type Property struct {
	Key              string
	Marketplace      string
	Owner            string
	PropertyID       string
	Price            uint64
	MetadataURI      string
	Location         string
	SquareFeet       uint64
	Bedrooms         uint8
	Bathrooms        uint8
	Active           bool
	NFTMint          string
	TransactionCount uint64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// KeyFor returns the deterministic address of a property within a
// marketplace. Listing the same property ID twice collides here, which is
// what enforces per-marketplace uniqueness.
func KeyFor(marketplaceKey, propertyID string) string {
	return keys.Property(marketplaceKey, propertyID)
}

// Update carries the optional fields of an update request. Nil fields are
// left untouched.
type Update struct {
	Price       *uint64
	MetadataURI *string
	Active      *bool
}
