// Package marketplace defines the marketplace configuration record.
package marketplace

import (
	"time"

	"github.com/estatechain/marketplace/internal/app/domain/keys"
)

// MaxFeeBasisPoints is the full-percentage bound on the marketplace fee
// (10000 basis points == 100%).
const MaxFeeBasisPoints = 10000

// Marketplace holds the fee configuration and counters for one marketplace.
// It is created once per authority and mutated only by property-count
// increments and fee accrual/withdrawal.
type Marketplace struct {
	Key             string
	Authority       string
	PropertiesCount uint64
	FeeBasisPoints  uint64
	FeeTokenMint    string
	TotalFees       uint64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// KeyFor returns the deterministic address of the marketplace owned by
// authority.
func KeyFor(authority string) string {
	return keys.Marketplace(authority)
}
