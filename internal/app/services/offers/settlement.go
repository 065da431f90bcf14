package offers

import (
	"errors"
	"time"

	"github.com/estatechain/marketplace/internal/app/domain/escrow"
	"github.com/estatechain/marketplace/internal/app/domain/history"
	"github.com/estatechain/marketplace/internal/app/domain/marketplace"
	"github.com/estatechain/marketplace/internal/app/domain/offer"
	"github.com/estatechain/marketplace/internal/app/domain/property"
	"github.com/estatechain/marketplace/internal/app/engine"
	"github.com/estatechain/marketplace/internal/app/storage"
)

type settlementOutcome struct {
	offer  offer.Offer
	seller string
	fee    uint64
}

// settle executes the sale inside the caller's transaction. The escrowed
// amount splits into seller proceeds and marketplace fee, the ownership token
// moves to the buyer, the property flips owner and deactivates, a history
// record is appended, and the offer completes. Any error aborts the enclosing
// transaction, so no step here is ever observable on its own.
func (s *Service) settle(tx storage.Tx, m marketplace.Marketplace, p property.Property, o offer.Offer, esc escrow.Escrow, now time.Time) (settlementOutcome, error) {
	seller := p.Owner

	fee, err := engine.Fee(o.Amount, m.FeeBasisPoints)
	if err != nil {
		return settlementOutcome{}, err
	}
	sellerAmount, err := engine.CheckedSub(o.Amount, fee)
	if err != nil {
		return settlementOutcome{}, err
	}

	// Release escrow: seller proceeds plus fee accrual.
	if err := tx.Debit(esc.Key, m.FeeTokenMint, esc.Amount); err != nil {
		return settlementOutcome{}, err
	}
	if err := tx.Credit(seller, m.FeeTokenMint, sellerAmount); err != nil {
		return settlementOutcome{}, err
	}
	if err := tx.Credit(m.Key, m.FeeTokenMint, fee); err != nil {
		return settlementOutcome{}, err
	}
	m.TotalFees, err = engine.CheckedAdd(m.TotalFees, fee)
	if err != nil {
		return settlementOutcome{}, err
	}
	m.UpdatedAt = now
	if err := tx.PutMarketplace(m); err != nil {
		return settlementOutcome{}, err
	}

	// Move the ownership token. The seller must hold exactly the one minted
	// token for this property.
	mint, err := tx.GetMint(p.NFTMint)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return settlementOutcome{}, engine.ErrInvalidTokenAccountMint
		}
		return settlementOutcome{}, err
	}
	if mint.Property != p.Key {
		return settlementOutcome{}, engine.ErrInvalidTokenAccountMint
	}
	if tx.Balance(seller, mint.Key) != 1 {
		return settlementOutcome{}, engine.ErrNotNFTOwner
	}
	if err := tx.Debit(seller, mint.Key, 1); err != nil {
		return settlementOutcome{}, err
	}
	if err := tx.Credit(o.Buyer, mint.Key, 1); err != nil {
		return settlementOutcome{}, err
	}

	count, err := engine.CheckedAdd(p.TransactionCount, 1)
	if err != nil {
		return settlementOutcome{}, err
	}
	p.Owner = o.Buyer
	p.Price = o.Amount
	p.Active = false
	p.TransactionCount = count
	p.UpdatedAt = now
	if err := tx.PutProperty(p); err != nil {
		return settlementOutcome{}, err
	}

	if err := tx.CreateHistory(history.Record{
		Key:              history.KeyFor(p.Key, count),
		Property:         p.Key,
		Seller:           seller,
		Buyer:            o.Buyer,
		Price:            o.Amount,
		TransactionIndex: count,
		Timestamp:        now,
	}); err != nil {
		return settlementOutcome{}, err
	}

	o.Status = offer.StatusCompleted
	o.UpdatedAt = now
	if err := tx.PutOffer(o); err != nil {
		return settlementOutcome{}, err
	}
	esc.Active = false
	if err := tx.PutEscrow(esc); err != nil {
		return settlementOutcome{}, err
	}

	return settlementOutcome{offer: o, seller: seller, fee: fee}, nil
}
