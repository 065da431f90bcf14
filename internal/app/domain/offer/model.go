// Package offer defines the offer record and its status machine.
package offer

import (
	"time"

	"github.com/estatechain/marketplace/internal/app/domain/keys"
)

// Status is the lifecycle state of an offer. Pending is the only state with
// outgoing transitions; every other state is terminal and absorbing.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transition is defined from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCompleted, StatusExpired:
		return true
	}
	return false
}

// Offer is a time-bounded, escrow-backed bid on a property. At most one
// offer per (property, buyer) pair is live at a time; the deterministic key
// enforces that.
type Offer struct {
	Key            string
	Buyer          string
	Property       string
	Amount         uint64
	Status         Status
	Escrow         string
	ExpirationTime time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// KeyFor returns the deterministic address of the offer a buyer holds on a
// property.
func KeyFor(propertyKey, buyer string) string {
	return keys.Offer(propertyKey, buyer)
}
