// Package offers implements the offer and escrow state machine and the sale
// settlement it triggers on acceptance. Every state-changing call is one
// ledger transaction; events are published only after it commits.
package offers

import (
	"context"
	"errors"
	"time"

	"github.com/estatechain/marketplace/internal/app/domain/escrow"
	"github.com/estatechain/marketplace/internal/app/domain/marketplace"
	"github.com/estatechain/marketplace/internal/app/domain/offer"
	"github.com/estatechain/marketplace/internal/app/engine"
	"github.com/estatechain/marketplace/internal/app/events"
	"github.com/estatechain/marketplace/internal/app/storage"
	"github.com/estatechain/marketplace/internal/logging"
	"github.com/estatechain/marketplace/internal/metrics"
)

// Service executes offer lifecycle operations against the ledger.
type Service struct {
	ledger storage.Ledger
	events events.Logger
	log    *logging.Logger
	clock  func() time.Time
}

// New constructs an offers service.
func New(ledger storage.Ledger, eventLog events.Logger, log *logging.Logger) *Service {
	return &Service{
		ledger: ledger,
		events: eventLog,
		log:    log,
		clock:  time.Now,
	}
}

// WithClock overrides the time source. Used in tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// MakeOffer creates a pending offer on a property and moves amount from the
// buyer's spendable balance into a fresh escrow scoped to (property, buyer).
// A buyer holds at most one live offer per property; a resolved prior offer
// is replaced in place.
func (s *Service) MakeOffer(ctx context.Context, buyer, propertyKey string, amount uint64, expirationTime time.Time) (offer.Offer, error) {
	if amount == 0 {
		metrics.RecordOperation("make_offer", engine.ErrInvalidOfferAmount)
		return offer.Offer{}, engine.ErrInvalidOfferAmount
	}

	now := s.clock().UTC()
	if !expirationTime.After(now) {
		metrics.RecordOperation("make_offer", engine.ErrInvalidExpirationTime)
		return offer.Offer{}, engine.ErrInvalidExpirationTime
	}

	var o offer.Offer
	err := s.ledger.Update(ctx, func(tx storage.Tx) error {
		p, err := tx.GetProperty(propertyKey)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return engine.ErrPropertyNotFound
			}
			return err
		}
		if !p.Active {
			return engine.ErrPropertyNotActive
		}
		if p.Owner == buyer {
			return engine.ErrCannotOfferOwnProperty
		}

		m, err := tx.GetMarketplace(p.Marketplace)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return engine.ErrMarketplaceNotFound
			}
			return err
		}

		offerKey := offer.KeyFor(p.Key, buyer)
		escrowKey := escrow.KeyFor(p.Key, buyer)
		replace := false
		if prior, err := tx.GetOffer(offerKey); err == nil {
			if !prior.Status.Terminal() {
				return engine.ErrOfferExists
			}
			replace = true
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		if err := tx.Debit(buyer, m.FeeTokenMint, amount); err != nil {
			return err
		}
		if err := tx.Credit(escrowKey, m.FeeTokenMint, amount); err != nil {
			return err
		}

		o = offer.Offer{
			Key:            offerKey,
			Buyer:          buyer,
			Property:       p.Key,
			Amount:         amount,
			Status:         offer.StatusPending,
			Escrow:         escrowKey,
			ExpirationTime: expirationTime.UTC(),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		esc := escrow.Escrow{
			Key:       escrowKey,
			Buyer:     buyer,
			Property:  p.Key,
			Amount:    amount,
			Active:    true,
			CreatedAt: now,
		}
		if replace {
			if err := tx.PutOffer(o); err != nil {
				return err
			}
			return tx.PutEscrow(esc)
		}
		if err := tx.CreateOffer(o); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return engine.ErrOfferExists
			}
			return err
		}
		if err := tx.CreateEscrow(esc); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return engine.ErrOfferExists
			}
			return err
		}
		return nil
	})
	metrics.RecordOperation("make_offer", err)
	if err != nil {
		return offer.Offer{}, err
	}

	metrics.RecordEscrowed(amount)
	s.log.WithField("offer", o.Key).
		WithField("buyer", buyer).
		WithField("amount", amount).
		Info("offer created")
	s.events.Log(events.Event{
		Type:      events.EventOfferCreated,
		Property:  o.Property,
		Offer:     o.Key,
		Escrow:    o.Escrow,
		Buyer:     buyer,
		Amount:    amount,
		Timestamp: now,
	})
	return o, nil
}

// RespondToOffer resolves a pending offer. Only the current property owner
// may call it. An offer past its expiration is force-transitioned to Expired
// and refunded, and the call fails with ErrOfferExpired even though that
// transition is retained. Rejection refunds the escrow whole; acceptance runs
// the full sale settlement inline in the same transaction.
func (s *Service) RespondToOffer(ctx context.Context, caller, propertyKey, buyer string, accept bool) (offer.Offer, error) {
	now := s.clock().UTC()

	var (
		o       offer.Offer
		expired bool
		outcome settlementOutcome
	)
	err := s.ledger.Update(ctx, func(tx storage.Tx) error {
		p, err := tx.GetProperty(propertyKey)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return engine.ErrPropertyNotFound
			}
			return err
		}
		if p.Owner != caller {
			return engine.ErrNotPropertyOwner
		}

		o, err = tx.GetOffer(offer.KeyFor(p.Key, buyer))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return engine.ErrOfferNotFound
			}
			return err
		}
		if o.Property != p.Key {
			return engine.ErrOfferPropertyMismatch
		}
		if o.Buyer != buyer {
			return engine.ErrNotOfferBuyer
		}
		if o.Status != offer.StatusPending {
			return engine.ErrOfferNotPending
		}

		esc, err := tx.GetEscrow(o.Escrow)
		if err != nil {
			return err
		}
		m, err := tx.GetMarketplace(p.Marketplace)
		if err != nil {
			return err
		}

		if !o.ExpirationTime.After(now) {
			expired = true
			o, err = s.releaseEscrow(tx, m, o, esc, offer.StatusExpired, now)
			return err
		}
		if !accept {
			o, err = s.releaseEscrow(tx, m, o, esc, offer.StatusRejected, now)
			return err
		}

		outcome, err = s.settle(tx, m, p, o, esc, now)
		if err != nil {
			return err
		}
		o = outcome.offer
		return nil
	})

	if expired && err == nil {
		// The expiry transition commits, but the caller's accept/reject did
		// not happen.
		metrics.RecordOperation("respond_to_offer", engine.ErrOfferExpired)
		metrics.RecordRefund(o.Amount)
		metrics.RecordExpiry("lazy")
		s.log.WithField("offer", o.Key).WithField("buyer", buyer).Info("offer expired on access")
		s.events.Log(events.Event{
			Type:      events.EventOfferExpired,
			Property:  o.Property,
			Offer:     o.Key,
			Escrow:    o.Escrow,
			Buyer:     buyer,
			Amount:    o.Amount,
			Timestamp: now,
		})
		return o, engine.ErrOfferExpired
	}
	metrics.RecordOperation("respond_to_offer", err)
	if err != nil {
		return offer.Offer{}, err
	}

	if !accept {
		metrics.RecordRefund(o.Amount)
		s.log.WithField("offer", o.Key).WithField("buyer", buyer).Info("offer rejected")
		s.events.Log(events.Event{
			Type:      events.EventOfferRejected,
			Property:  o.Property,
			Offer:     o.Key,
			Escrow:    o.Escrow,
			Buyer:     buyer,
			Amount:    o.Amount,
			Timestamp: now,
		})
		return o, nil
	}

	metrics.RecordSettlement(o.Amount, outcome.fee)
	s.log.WithField("offer", o.Key).
		WithField("seller", outcome.seller).
		WithField("buyer", buyer).
		WithField("amount", o.Amount).
		WithField("fee", outcome.fee).
		Info("offer accepted and settled")
	s.events.Log(events.Event{
		Type:      events.EventOfferAccepted,
		Property:  o.Property,
		Offer:     o.Key,
		Escrow:    o.Escrow,
		Buyer:     buyer,
		Seller:    outcome.seller,
		Amount:    o.Amount,
		Fee:       outcome.fee,
		Timestamp: now,
	})
	s.events.Log(events.Event{
		Type:      events.EventPropertySold,
		Property:  o.Property,
		Offer:     o.Key,
		Buyer:     buyer,
		Seller:    outcome.seller,
		Price:     o.Amount,
		Fee:       outcome.fee,
		Timestamp: now,
	})
	return o, nil
}

// releaseEscrow refunds the escrowed funds to the buyer in full and moves the
// offer to a terminal refunding state (Rejected or Expired).
func (s *Service) releaseEscrow(tx storage.Tx, m marketplace.Marketplace, o offer.Offer, esc escrow.Escrow, status offer.Status, now time.Time) (offer.Offer, error) {
	if err := tx.Debit(esc.Key, m.FeeTokenMint, esc.Amount); err != nil {
		return offer.Offer{}, err
	}
	if err := tx.Credit(o.Buyer, m.FeeTokenMint, esc.Amount); err != nil {
		return offer.Offer{}, err
	}
	esc.Active = false
	if err := tx.PutEscrow(esc); err != nil {
		return offer.Offer{}, err
	}
	o.Status = status
	o.UpdatedAt = now
	if err := tx.PutOffer(o); err != nil {
		return offer.Offer{}, err
	}
	return o, nil
}

// GetOffer returns the offer a buyer holds on a property.
func (s *Service) GetOffer(ctx context.Context, propertyKey, buyer string) (offer.Offer, error) {
	var o offer.Offer
	err := s.ledger.View(ctx, func(tx storage.Tx) error {
		var err error
		o, err = tx.GetOffer(offer.KeyFor(propertyKey, buyer))
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return offer.Offer{}, engine.ErrOfferNotFound
	}
	if err != nil {
		return offer.Offer{}, err
	}
	return o, nil
}

// ListOffers returns every offer on a property, oldest first.
func (s *Service) ListOffers(ctx context.Context, propertyKey string) ([]offer.Offer, error) {
	var result []offer.Offer
	err := s.ledger.View(ctx, func(tx storage.Tx) error {
		var err error
		result, err = tx.ListOffersByProperty(propertyKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
