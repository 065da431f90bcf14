// Package marketplace implements the marketplace lifecycle operations:
// initializing a marketplace, listing and updating properties, withdrawing
// accrued fees, and the read queries the routing layer serves from.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/estatechain/marketplace/internal/app/domain/history"
	"github.com/estatechain/marketplace/internal/app/domain/marketplace"
	"github.com/estatechain/marketplace/internal/app/domain/property"
	"github.com/estatechain/marketplace/internal/app/domain/token"
	"github.com/estatechain/marketplace/internal/app/engine"
	"github.com/estatechain/marketplace/internal/app/events"
	"github.com/estatechain/marketplace/internal/app/storage"
	"github.com/estatechain/marketplace/internal/logging"
	"github.com/estatechain/marketplace/internal/metrics"
)

// Service executes marketplace lifecycle operations against the ledger.
// Events are published only after the enclosing transaction has committed.
type Service struct {
	ledger storage.Ledger
	events events.Logger
	log    *logging.Logger
	clock  func() time.Time
}

// New constructs a marketplace service.
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

// InitializeMarketplace creates the marketplace owned by authority. An
// authority owns at most one marketplace; a second call collides on the
// deterministic key.
func (s *Service) InitializeMarketplace(ctx context.Context, authority string, feeBasisPoints uint64, feeTokenMint string) (marketplace.Marketplace, error) {
	if feeBasisPoints > marketplace.MaxFeeBasisPoints {
		return marketplace.Marketplace{}, engine.ErrInvalidFeePercentage
	}

	now := s.clock().UTC()
	m := marketplace.Marketplace{
		Key:            marketplace.KeyFor(authority),
		Authority:      authority,
		FeeBasisPoints: feeBasisPoints,
		FeeTokenMint:   feeTokenMint,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.ledger.Update(ctx, func(tx storage.Tx) error {
		if err := tx.CreateMarketplace(m); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return engine.ErrMarketplaceExists
			}
			return err
		}
		return nil
	})
	metrics.RecordOperation("initialize_marketplace", err)
	if err != nil {
		return marketplace.Marketplace{}, err
	}

	s.log.WithField("marketplace", m.Key).
		WithField("authority", authority).
		WithField("fee_bps", feeBasisPoints).
		Info("marketplace initialized")
	s.events.Log(events.Event{
		Type:        events.EventMarketplaceInitialized,
		Marketplace: m.Key,
		Authority:   authority,
		Timestamp:   now,
	})
	return m, nil
}

// ListPropertyInput carries the listing parameters for a new property.
type ListPropertyInput struct {
	PropertyID  string
	Price       uint64
	MetadataURI string
	Location    string
	SquareFeet  uint64
	Bedrooms    uint8
	Bathrooms   uint8
}

// ListProperty lists a property under a marketplace, mints its unique
// ownership token, and places the token in the lister's custody.
func (s *Service) ListProperty(ctx context.Context, owner, marketplaceKey string, in ListPropertyInput) (property.Property, error) {
	if err := validateListing(in); err != nil {
		metrics.RecordOperation("list_property", err)
		return property.Property{}, err
	}

	now := s.clock().UTC()
	var p property.Property
	err := s.ledger.Update(ctx, func(tx storage.Tx) error {
		m, err := tx.GetMarketplace(marketplaceKey)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return engine.ErrMarketplaceNotFound
			}
			return err
		}

		count, err := engine.CheckedAdd(m.PropertiesCount, 1)
		if err != nil {
			return err
		}

		propertyKey := property.KeyFor(m.Key, in.PropertyID)
		mintKey := token.MintKeyFor(propertyKey)
		p = property.Property{
			Key:         propertyKey,
			Marketplace: m.Key,
			Owner:       owner,
			PropertyID:  in.PropertyID,
			Price:       in.Price,
			MetadataURI: in.MetadataURI,
			Location:    in.Location,
			SquareFeet:  in.SquareFeet,
			Bedrooms:    in.Bedrooms,
			Bathrooms:   in.Bathrooms,
			Active:      true,
			NFTMint:     mintKey,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.CreateProperty(p); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return engine.ErrPropertyExists
			}
			return err
		}
		if err := tx.CreateMint(token.Mint{Key: mintKey, Property: propertyKey, Supply: 1, CreatedAt: now}); err != nil {
			return err
		}
		if err := tx.Credit(owner, mintKey, 1); err != nil {
			return err
		}

		m.PropertiesCount = count
		m.UpdatedAt = now
		return tx.PutMarketplace(m)
	})
	metrics.RecordOperation("list_property", err)
	if err != nil {
		return property.Property{}, err
	}

	s.log.WithField("property", p.Key).
		WithField("owner", owner).
		WithField("price", p.Price).
		Info("property listed")
	s.events.Log(events.Event{
		Type:        events.EventPropertyListed,
		Marketplace: marketplaceKey,
		Property:    p.Key,
		Owner:       owner,
		Price:       p.Price,
		Timestamp:   now,
	})
	return p, nil
}

func validateListing(in ListPropertyInput) error {
	if len(in.PropertyID) > property.MaxPropertyIDLen {
		return engine.ErrPropertyIDTooLong
	}
	if len(in.MetadataURI) > property.MaxMetadataURILen {
		return engine.ErrMetadataURITooLong
	}
	if len(in.Location) > property.MaxLocationLen {
		return engine.ErrLocationTooLong
	}
	if in.Price == 0 {
		return engine.ErrInvalidPrice
	}
	return nil
}

// UpdateProperty applies the supplied fields to a property. The caller must
// be the current owner and must hold the property's ownership token. A call
// with no fields set still bumps updated_at; that contract is covered by the
// update tests.
func (s *Service) UpdateProperty(ctx context.Context, caller, propertyKey string, upd property.Update) (property.Property, error) {
	if upd.Price != nil && *upd.Price == 0 {
		metrics.RecordOperation("update_property", engine.ErrInvalidPrice)
		return property.Property{}, engine.ErrInvalidPrice
	}
	if upd.MetadataURI != nil && len(*upd.MetadataURI) > property.MaxMetadataURILen {
		metrics.RecordOperation("update_property", engine.ErrMetadataURITooLong)
		return property.Property{}, engine.ErrMetadataURITooLong
	}

	now := s.clock().UTC()
	var p property.Property
	err := s.ledger.Update(ctx, func(tx storage.Tx) error {
		var err error
		p, err = tx.GetProperty(propertyKey)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return engine.ErrPropertyNotFound
			}
			return err
		}
		if p.Owner != caller {
			return engine.ErrNotPropertyOwner
		}
		if err := verifyTitleCustody(tx, p, caller); err != nil {
			return err
		}

		if upd.Price != nil {
			p.Price = *upd.Price
		}
		if upd.MetadataURI != nil {
			p.MetadataURI = *upd.MetadataURI
		}
		if upd.Active != nil {
			p.Active = *upd.Active
		}
		p.UpdatedAt = now
		return tx.PutProperty(p)
	})
	metrics.RecordOperation("update_property", err)
	if err != nil {
		return property.Property{}, err
	}

	s.log.WithField("property", p.Key).WithField("owner", caller).Info("property updated")
	s.events.Log(events.Event{
		Type:      events.EventPropertyUpdated,
		Property:  p.Key,
		Owner:     caller,
		Price:     p.Price,
		Timestamp: now,
	})
	return p, nil
}

// verifyTitleCustody checks that holder has custody of the property's
// ownership token: the mint must be the one bound to the property and the
// holder's balance on it must be exactly one.
func verifyTitleCustody(tx storage.Tx, p property.Property, holder string) error {
	mint, err := tx.GetMint(p.NFTMint)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return engine.ErrInvalidTokenAccountMint
		}
		return err
	}
	if mint.Property != p.Key {
		return engine.ErrInvalidTokenAccountMint
	}
	if tx.Balance(holder, mint.Key) != 1 {
		return engine.ErrNotNFTOwner
	}
	return nil
}

// WithdrawFees moves accrued fees from the marketplace's fee custody to the
// authority's spendable balance.
func (s *Service) WithdrawFees(ctx context.Context, caller, marketplaceKey string, amount uint64) (marketplace.Marketplace, error) {
	if amount == 0 {
		metrics.RecordOperation("withdraw_fees", engine.ErrInvalidAmount)
		return marketplace.Marketplace{}, engine.ErrInvalidAmount
	}

	now := s.clock().UTC()
	var m marketplace.Marketplace
	err := s.ledger.Update(ctx, func(tx storage.Tx) error {
		var err error
		m, err = tx.GetMarketplace(marketplaceKey)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return engine.ErrMarketplaceNotFound
			}
			return err
		}
		if m.Authority != caller {
			return engine.ErrUnauthorizedFeeWithdrawal
		}
		if amount > m.TotalFees {
			return engine.ErrInsufficientFeeBalance
		}

		remaining, err := engine.CheckedSub(m.TotalFees, amount)
		if err != nil {
			return err
		}
		if err := tx.Debit(m.Key, m.FeeTokenMint, amount); err != nil {
			return err
		}
		if err := tx.Credit(caller, m.FeeTokenMint, amount); err != nil {
			return err
		}
		m.TotalFees = remaining
		m.UpdatedAt = now
		return tx.PutMarketplace(m)
	})
	metrics.RecordOperation("withdraw_fees", err)
	if err != nil {
		return marketplace.Marketplace{}, err
	}

	s.log.WithField("marketplace", m.Key).
		WithField("authority", caller).
		WithField("amount", amount).
		Info("fees withdrawn")
	s.events.Log(events.Event{
		Type:        events.EventFeesWithdrawn,
		Marketplace: m.Key,
		Authority:   caller,
		Amount:      amount,
		Timestamp:   now,
	})
	return m, nil
}

// GetMarketplace returns the marketplace at key.
func (s *Service) GetMarketplace(ctx context.Context, key string) (marketplace.Marketplace, error) {
	var m marketplace.Marketplace
	err := s.ledger.View(ctx, func(tx storage.Tx) error {
		var err error
		m, err = tx.GetMarketplace(key)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return marketplace.Marketplace{}, engine.ErrMarketplaceNotFound
	}
	if err != nil {
		return marketplace.Marketplace{}, fmt.Errorf("get marketplace: %w", err)
	}
	return m, nil
}

// GetProperty returns the property at key.
func (s *Service) GetProperty(ctx context.Context, key string) (property.Property, error) {
	var p property.Property
	err := s.ledger.View(ctx, func(tx storage.Tx) error {
		var err error
		p, err = tx.GetProperty(key)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return property.Property{}, engine.ErrPropertyNotFound
	}
	if err != nil {
		return property.Property{}, fmt.Errorf("get property: %w", err)
	}
	return p, nil
}

// ListProperties returns the properties listed under a marketplace, oldest
// first. An empty marketplace key lists every property.
func (s *Service) ListProperties(ctx context.Context, marketplaceKey string) ([]property.Property, error) {
	var result []property.Property
	err := s.ledger.View(ctx, func(tx storage.Tx) error {
		var err error
		result, err = tx.ListProperties(marketplaceKey)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	return result, nil
}

// ListHistory returns a property's sale history ordered by transaction index.
func (s *Service) ListHistory(ctx context.Context, propertyKey string) ([]history.Record, error) {
	var result []history.Record
	err := s.ledger.View(ctx, func(tx storage.Tx) error {
		var err error
		result, err = tx.ListHistoryByProperty(propertyKey)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return result, nil
}
