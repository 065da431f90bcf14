// Package history defines the append-only sale history record.
package history

import (
	"time"

	"github.com/estatechain/marketplace/internal/app/domain/keys"
)

// Record captures one completed sale. Records are written once during
// settlement and never mutated; the transaction index is the property's
// transaction count at the time of the sale.
type Record struct {
	Key              string
	Property         string
	Seller           string
	Buyer            string
	Price            uint64
	TransactionIndex uint64
	Timestamp        time.Time
}

// KeyFor returns the deterministic address of a property's nth sale record.
func KeyFor(propertyKey string, index uint64) string {
	return keys.Transaction(propertyKey, index)
}
