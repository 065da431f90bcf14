// Package bank manages spendable token balances. It stands in for the
// external wallet layer: deposits fund a principal's balance, and the offer
// engine debits it into escrow custody.
package bank

import (
	"context"

	"github.com/estatechain/marketplace/internal/app/engine"
	"github.com/estatechain/marketplace/internal/app/storage"
	"github.com/estatechain/marketplace/internal/logging"
	"github.com/estatechain/marketplace/internal/metrics"
)

// Service executes balance operations against the ledger.
type Service struct {
	ledger storage.Ledger
	log    *logging.Logger
}

// New constructs a bank service.
func New(ledger storage.Ledger, log *logging.Logger) *Service {
	return &Service{ledger: ledger, log: log}
}

// Deposit credits amount to holder's balance on mint.
func (s *Service) Deposit(ctx context.Context, holder, mint string, amount uint64) (uint64, error) {
	if amount == 0 {
		metrics.RecordOperation("deposit", engine.ErrInvalidAmount)
		return 0, engine.ErrInvalidAmount
	}

	var balance uint64
	err := s.ledger.Update(ctx, func(tx storage.Tx) error {
		if err := tx.Credit(holder, mint, amount); err != nil {
			return err
		}
		balance = tx.Balance(holder, mint)
		return nil
	})
	metrics.RecordOperation("deposit", err)
	if err != nil {
		return 0, err
	}

	s.log.WithField("holder", holder).
		WithField("mint", mint).
		WithField("amount", amount).
		Info("deposit credited")
	return balance, nil
}

// Withdraw debits amount from holder's balance on mint. Only the holder may
// withdraw their own balance.
func (s *Service) Withdraw(ctx context.Context, caller, holder, mint string, amount uint64) (uint64, error) {
	if amount == 0 {
		metrics.RecordOperation("withdraw", engine.ErrInvalidAmount)
		return 0, engine.ErrInvalidAmount
	}
	if caller != holder {
		metrics.RecordOperation("withdraw", engine.ErrInvalidTokenAccountOwner)
		return 0, engine.ErrInvalidTokenAccountOwner
	}

	var balance uint64
	err := s.ledger.Update(ctx, func(tx storage.Tx) error {
		if err := tx.Debit(holder, mint, amount); err != nil {
			return err
		}
		balance = tx.Balance(holder, mint)
		return nil
	})
	metrics.RecordOperation("withdraw", err)
	if err != nil {
		return 0, err
	}

	s.log.WithField("holder", holder).
		WithField("mint", mint).
		WithField("amount", amount).
		Info("withdrawal debited")
	return balance, nil
}

// Balance returns holder's spendable balance on mint.
func (s *Service) Balance(ctx context.Context, holder, mint string) (uint64, error) {
	var balance uint64
	err := s.ledger.View(ctx, func(tx storage.Tx) error {
		balance = tx.Balance(holder, mint)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}
