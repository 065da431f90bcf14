// Package memory provides the in-memory ledger. A single mutex serializes
// Update transactions, and every transaction stages its writes in an overlay
// that is folded into the base maps only when the transaction function
// succeeds, giving the all-or-nothing commit the settlement engine relies on.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/estatechain/marketplace/internal/app/domain/escrow"
	"github.com/estatechain/marketplace/internal/app/domain/history"
	"github.com/estatechain/marketplace/internal/app/domain/marketplace"
	"github.com/estatechain/marketplace/internal/app/domain/offer"
	"github.com/estatechain/marketplace/internal/app/domain/property"
	"github.com/estatechain/marketplace/internal/app/domain/token"
	"github.com/estatechain/marketplace/internal/app/engine"
	"github.com/estatechain/marketplace/internal/app/storage"
)

// Ledger is a thread-safe in-memory implementation of storage.Ledger. It is
// the reference store for tests and single-node deployments.
type Ledger struct {
	mu           sync.RWMutex
	marketplaces map[string]marketplace.Marketplace
	properties   map[string]property.Property
	offers       map[string]offer.Offer
	escrows      map[string]escrow.Escrow
	histories    map[string]history.Record
	mints        map[string]token.Mint
	balances     map[string]uint64
}

var _ storage.Ledger = (*Ledger)(nil)

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		marketplaces: make(map[string]marketplace.Marketplace),
		properties:   make(map[string]property.Property),
		offers:       make(map[string]offer.Offer),
		escrows:      make(map[string]escrow.Escrow),
		histories:    make(map[string]history.Record),
		mints:        make(map[string]token.Mint),
		balances:     make(map[string]uint64),
	}
}

// View runs fn against a read-only snapshot of the ledger.
func (l *Ledger) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn(&memTx{base: l, readOnly: true})
}

// Update runs fn against a staged view and commits its writes iff fn
// returns nil.
func (l *Ledger) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &memTx{
		base:         l,
		marketplaces: make(map[string]marketplace.Marketplace),
		properties:   make(map[string]property.Property),
		offers:       make(map[string]offer.Offer),
		escrows:      make(map[string]escrow.Escrow),
		histories:    make(map[string]history.Record),
		mints:        make(map[string]token.Mint),
		balances:     make(map[string]uint64),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// memTx overlays staged writes on the base maps. Reads consult the stage
// first; commit folds the stage into the base. Entities are flat value
// structs, so map assignment is a deep copy.
type memTx struct {
	base     *Ledger
	readOnly bool

	marketplaces map[string]marketplace.Marketplace
	properties   map[string]property.Property
	offers       map[string]offer.Offer
	escrows      map[string]escrow.Escrow
	histories    map[string]history.Record
	mints        map[string]token.Mint
	balances     map[string]uint64
}

var _ storage.Tx = (*memTx)(nil)

func (t *memTx) commit() {
	for k, v := range t.marketplaces {
		t.base.marketplaces[k] = v
	}
	for k, v := range t.properties {
		t.base.properties[k] = v
	}
	for k, v := range t.offers {
		t.base.offers[k] = v
	}
	for k, v := range t.escrows {
		t.base.escrows[k] = v
	}
	for k, v := range t.histories {
		t.base.histories[k] = v
	}
	for k, v := range t.mints {
		t.base.mints[k] = v
	}
	for k, v := range t.balances {
		t.base.balances[k] = v
	}
}

// MarketplaceTx --------------------------------------------------------------

func (t *memTx) CreateMarketplace(m marketplace.Marketplace) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	if _, ok := t.getMarketplace(m.Key); ok {
		return fmt.Errorf("marketplace %s: %w", m.Key, storage.ErrAlreadyExists)
	}
	t.marketplaces[m.Key] = m
	return nil
}

func (t *memTx) GetMarketplace(key string) (marketplace.Marketplace, error) {
	m, ok := t.getMarketplace(key)
	if !ok {
		return marketplace.Marketplace{}, fmt.Errorf("marketplace %s: %w", key, storage.ErrNotFound)
	}
	return m, nil
}

func (t *memTx) PutMarketplace(m marketplace.Marketplace) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	if _, ok := t.getMarketplace(m.Key); !ok {
		return fmt.Errorf("marketplace %s: %w", m.Key, storage.ErrNotFound)
	}
	t.marketplaces[m.Key] = m
	return nil
}

func (t *memTx) getMarketplace(key string) (marketplace.Marketplace, bool) {
	if t.marketplaces != nil {
		if m, ok := t.marketplaces[key]; ok {
			return m, true
		}
	}
	m, ok := t.base.marketplaces[key]
	return m, ok
}

// PropertyTx -----------------------------------------------------------------

func (t *memTx) CreateProperty(p property.Property) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	if _, ok := t.getProperty(p.Key); ok {
		return fmt.Errorf("property %s: %w", p.Key, storage.ErrAlreadyExists)
	}
	t.properties[p.Key] = p
	return nil
}

func (t *memTx) GetProperty(key string) (property.Property, error) {
	p, ok := t.getProperty(key)
	if !ok {
		return property.Property{}, fmt.Errorf("property %s: %w", key, storage.ErrNotFound)
	}
	return p, nil
}

func (t *memTx) PutProperty(p property.Property) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	if _, ok := t.getProperty(p.Key); !ok {
		return fmt.Errorf("property %s: %w", p.Key, storage.ErrNotFound)
	}
	t.properties[p.Key] = p
	return nil
}

func (t *memTx) ListProperties(marketplaceKey string) ([]property.Property, error) {
	var result []property.Property
	for _, p := range t.snapshotProperties() {
		if marketplaceKey == "" || p.Marketplace == marketplaceKey {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (t *memTx) getProperty(key string) (property.Property, bool) {
	if t.properties != nil {
		if p, ok := t.properties[key]; ok {
			return p, true
		}
	}
	p, ok := t.base.properties[key]
	return p, ok
}

func (t *memTx) snapshotProperties() map[string]property.Property {
	merged := make(map[string]property.Property, len(t.base.properties)+len(t.properties))
	for k, v := range t.base.properties {
		merged[k] = v
	}
	for k, v := range t.properties {
		merged[k] = v
	}
	return merged
}

// OfferTx --------------------------------------------------------------------

func (t *memTx) CreateOffer(o offer.Offer) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	if _, ok := t.getOffer(o.Key); ok {
		return fmt.Errorf("offer %s: %w", o.Key, storage.ErrAlreadyExists)
	}
	t.offers[o.Key] = o
	return nil
}

func (t *memTx) GetOffer(key string) (offer.Offer, error) {
	o, ok := t.getOffer(key)
	if !ok {
		return offer.Offer{}, fmt.Errorf("offer %s: %w", key, storage.ErrNotFound)
	}
	return o, nil
}

func (t *memTx) PutOffer(o offer.Offer) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	if _, ok := t.getOffer(o.Key); !ok {
		return fmt.Errorf("offer %s: %w", o.Key, storage.ErrNotFound)
	}
	t.offers[o.Key] = o
	return nil
}

func (t *memTx) ListOffersByProperty(propertyKey string) ([]offer.Offer, error) {
	var result []offer.Offer
	for _, o := range t.snapshotOffers() {
		if o.Property == propertyKey {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (t *memTx) ListPendingOffers() ([]offer.Offer, error) {
	var result []offer.Offer
	for _, o := range t.snapshotOffers() {
		if o.Status == offer.StatusPending {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (t *memTx) getOffer(key string) (offer.Offer, bool) {
	if t.offers != nil {
		if o, ok := t.offers[key]; ok {
			return o, true
		}
	}
	o, ok := t.base.offers[key]
	return o, ok
}

func (t *memTx) snapshotOffers() map[string]offer.Offer {
	merged := make(map[string]offer.Offer, len(t.base.offers)+len(t.offers))
	for k, v := range t.base.offers {
		merged[k] = v
	}
	for k, v := range t.offers {
		merged[k] = v
	}
	return merged
}

// EscrowTx -------------------------------------------------------------------

func (t *memTx) CreateEscrow(e escrow.Escrow) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	if _, ok := t.getEscrow(e.Key); ok {
		return fmt.Errorf("escrow %s: %w", e.Key, storage.ErrAlreadyExists)
	}
	t.escrows[e.Key] = e
	return nil
}

func (t *memTx) GetEscrow(key string) (escrow.Escrow, error) {
	e, ok := t.getEscrow(key)
	if !ok {
		return escrow.Escrow{}, fmt.Errorf("escrow %s: %w", key, storage.ErrNotFound)
	}
	return e, nil
}

func (t *memTx) PutEscrow(e escrow.Escrow) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	if _, ok := t.getEscrow(e.Key); !ok {
		return fmt.Errorf("escrow %s: %w", e.Key, storage.ErrNotFound)
	}
	t.escrows[e.Key] = e
	return nil
}

func (t *memTx) getEscrow(key string) (escrow.Escrow, bool) {
	if t.escrows != nil {
		if e, ok := t.escrows[key]; ok {
			return e, true
		}
	}
	e, ok := t.base.escrows[key]
	return e, ok
}

// HistoryTx ------------------------------------------------------------------

func (t *memTx) CreateHistory(h history.Record) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	if _, ok := t.getHistory(h.Key); ok {
		return fmt.Errorf("history %s: %w", h.Key, storage.ErrAlreadyExists)
	}
	t.histories[h.Key] = h
	return nil
}

func (t *memTx) ListHistoryByProperty(propertyKey string) ([]history.Record, error) {
	merged := make(map[string]history.Record, len(t.base.histories)+len(t.histories))
	for k, v := range t.base.histories {
		merged[k] = v
	}
	for k, v := range t.histories {
		merged[k] = v
	}
	var result []history.Record
	for _, h := range merged {
		if h.Property == propertyKey {
			result = append(result, h)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TransactionIndex < result[j].TransactionIndex })
	return result, nil
}

func (t *memTx) getHistory(key string) (history.Record, bool) {
	if t.histories != nil {
		if h, ok := t.histories[key]; ok {
			return h, true
		}
	}
	h, ok := t.base.histories[key]
	return h, ok
}

// TokenTx --------------------------------------------------------------------

func (t *memTx) CreateMint(m token.Mint) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	if _, ok := t.getMint(m.Key); ok {
		return fmt.Errorf("mint %s: %w", m.Key, storage.ErrAlreadyExists)
	}
	t.mints[m.Key] = m
	return nil
}

func (t *memTx) GetMint(key string) (token.Mint, error) {
	m, ok := t.getMint(key)
	if !ok {
		return token.Mint{}, fmt.Errorf("mint %s: %w", key, storage.ErrNotFound)
	}
	return m, nil
}

func (t *memTx) getMint(key string) (token.Mint, bool) {
	if t.mints != nil {
		if m, ok := t.mints[key]; ok {
			return m, true
		}
	}
	m, ok := t.base.mints[key]
	return m, ok
}

func (t *memTx) Balance(holder, mint string) uint64 {
	key := balanceKey(holder, mint)
	if t.balances != nil {
		if b, ok := t.balances[key]; ok {
			return b
		}
	}
	return t.base.balances[key]
}

func (t *memTx) Credit(holder, mint string, amount uint64) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	sum, err := engine.CheckedAdd(t.Balance(holder, mint), amount)
	if err != nil {
		return err
	}
	t.balances[balanceKey(holder, mint)] = sum
	return nil
}

func (t *memTx) Debit(holder, mint string, amount uint64) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	current := t.Balance(holder, mint)
	if amount > current {
		return engine.ErrInsufficientFunds
	}
	t.balances[balanceKey(holder, mint)] = current - amount
	return nil
}

func balanceKey(holder, mint string) string {
	return holder + "\x00" + mint
}
