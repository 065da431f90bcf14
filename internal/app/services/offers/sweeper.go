package offers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/estatechain/marketplace/internal/app/domain/offer"
	"github.com/estatechain/marketplace/internal/app/engine"
	"github.com/estatechain/marketplace/internal/app/events"
	"github.com/estatechain/marketplace/internal/app/storage"
	"github.com/estatechain/marketplace/internal/app/system"
	"github.com/estatechain/marketplace/internal/logging"
	"github.com/estatechain/marketplace/internal/metrics"
)

// SweepExpired expires every pending offer whose expiration has passed,
// refunding its escrow. Each offer is expired in its own transaction and
// re-checked inside it, so a concurrent respond call cannot double-release.
// It returns the number of offers swept.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := s.clock().UTC()

	var candidates []offer.Offer
	err := s.ledger.View(ctx, func(tx storage.Tx) error {
		pending, err := tx.ListPendingOffers()
		if err != nil {
			return err
		}
		for _, o := range pending {
			if !o.ExpirationTime.After(now) {
				candidates = append(candidates, o)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, candidate := range candidates {
		var o offer.Offer
		err := s.ledger.Update(ctx, func(tx storage.Tx) error {
			var err error
			o, err = tx.GetOffer(candidate.Key)
			if err != nil {
				return err
			}
			if o.Status != offer.StatusPending {
				return engine.ErrOfferNotPending
			}
			p, err := tx.GetProperty(o.Property)
			if err != nil {
				return err
			}
			m, err := tx.GetMarketplace(p.Marketplace)
			if err != nil {
				return err
			}
			esc, err := tx.GetEscrow(o.Escrow)
			if err != nil {
				return err
			}
			o, err = s.releaseEscrow(tx, m, o, esc, offer.StatusExpired, now)
			return err
		})
		if errors.Is(err, engine.ErrOfferNotPending) {
			// Resolved between the scan and this transaction.
			continue
		}
		if err != nil {
			return swept, err
		}

		swept++
		metrics.RecordRefund(o.Amount)
		metrics.RecordExpiry("sweeper")
		s.events.Log(events.Event{
			Type:      events.EventOfferExpired,
			Property:  o.Property,
			Offer:     o.Key,
			Escrow:    o.Escrow,
			Buyer:     o.Buyer,
			Amount:    o.Amount,
			Timestamp: now,
		})
	}
	return swept, nil
}

// ExpirySweeper periodically sweeps expired pending offers. Expiry remains
// lazy without it; the sweeper only shortens how long a stale offer lingers.
type ExpirySweeper struct {
	service  *Service
	interval time.Duration
	log      *logging.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*ExpirySweeper)(nil)

// NewExpirySweeper constructs a sweeper over the offers service.
func NewExpirySweeper(service *Service, interval time.Duration, log *logging.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = logging.NewDefault()
	}
	return &ExpirySweeper{
		service:  service,
		interval: interval,
		log:      log,
	}
}

func (p *ExpirySweeper) Name() string { return "offer-expiry-sweeper" }

func (p *ExpirySweeper) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.tick(runCtx)
			}
		}
	}()

	p.log.Info("offer expiry sweeper started")
	return nil
}

func (p *ExpirySweeper) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (p *ExpirySweeper) tick(ctx context.Context) {
	swept, err := p.service.SweepExpired(ctx)
	if err != nil {
		p.log.WithError(err).Warn("expiry sweep failed")
		return
	}
	if swept > 0 {
		p.log.Infof("expired %d stale offers", swept)
	}
}
