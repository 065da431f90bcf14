// Package storage defines the persistence contracts for the marketplace
// ledger. Entities are addressed by their deterministic keys; Create methods
// fail on key collision, which is how the engine enforces uniqueness without
// an index.
package storage

import (
	"context"
	"errors"

	"github.com/estatechain/marketplace/internal/app/domain/escrow"
	"github.com/estatechain/marketplace/internal/app/domain/history"
	"github.com/estatechain/marketplace/internal/app/domain/marketplace"
	"github.com/estatechain/marketplace/internal/app/domain/offer"
	"github.com/estatechain/marketplace/internal/app/domain/property"
	"github.com/estatechain/marketplace/internal/app/domain/token"
)

var (
	// ErrNotFound is returned when no record lives at the requested key.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned by Create methods on key collision.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrReadOnly is returned when a write is attempted inside View.
	ErrReadOnly = errors.New("transaction is read-only")
)

// MarketplaceTx accesses marketplace records.
type MarketplaceTx interface {
	CreateMarketplace(m marketplace.Marketplace) error
	GetMarketplace(key string) (marketplace.Marketplace, error)
	PutMarketplace(m marketplace.Marketplace) error
}

// PropertyTx accesses property records.
type PropertyTx interface {
	CreateProperty(p property.Property) error
	GetProperty(key string) (property.Property, error)
	PutProperty(p property.Property) error
	ListProperties(marketplaceKey string) ([]property.Property, error)
}

// OfferTx accesses offer records.
type OfferTx interface {
	CreateOffer(o offer.Offer) error
	GetOffer(key string) (offer.Offer, error)
	PutOffer(o offer.Offer) error
	ListOffersByProperty(propertyKey string) ([]offer.Offer, error)
	ListPendingOffers() ([]offer.Offer, error)
}

// EscrowTx accesses escrow custody records.
type EscrowTx interface {
	CreateEscrow(e escrow.Escrow) error
	GetEscrow(key string) (escrow.Escrow, error)
	PutEscrow(e escrow.Escrow) error
}

// HistoryTx accesses the append-only sale history.
type HistoryTx interface {
	CreateHistory(h history.Record) error
	ListHistoryByProperty(propertyKey string) ([]history.Record, error)
}

// TokenTx accesses mints and token balances. Balances cover both fungible
// payment tokens and the single-supply ownership tokens; custody of an
// ownership token is a balance of exactly one on its mint.
type TokenTx interface {
	CreateMint(m token.Mint) error
	GetMint(key string) (token.Mint, error)
	Balance(holder, mint string) uint64
	Credit(holder, mint string, amount uint64) error
	Debit(holder, mint string, amount uint64) error
}

// Tx is the view of the ledger inside a transaction.
type Tx interface {
	MarketplaceTx
	PropertyTx
	OfferTx
	EscrowTx
	HistoryTx
	TokenTx
}

// Ledger serializes operations against the shared record space. Update runs
// fn against a staging view and commits every mutation iff fn returns nil;
// a non-nil error discards all of them, so partial application is never
// observable to any other caller. View runs fn against a read-only snapshot.
type Ledger interface {
	View(ctx context.Context, fn func(tx Tx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
}
