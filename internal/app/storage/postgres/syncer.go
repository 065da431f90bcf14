package postgres

import (
	"context"
	"errors"
	"sync"

	"github.com/estatechain/marketplace/internal/app/domain/escrow"
	"github.com/estatechain/marketplace/internal/app/domain/history"
	"github.com/estatechain/marketplace/internal/app/domain/marketplace"
	"github.com/estatechain/marketplace/internal/app/domain/offer"
	"github.com/estatechain/marketplace/internal/app/domain/property"
	"github.com/estatechain/marketplace/internal/app/events"
	"github.com/estatechain/marketplace/internal/app/storage"
	"github.com/estatechain/marketplace/internal/app/system"
	"github.com/estatechain/marketplace/internal/logging"
)

// Syncer subscribes to the event log and mirrors the entities each committed
// transition touched into PostgreSQL. The mirror trails the ledger; a failed
// upsert is logged and skipped, the next event for the same entity repairs it.
type Syncer struct {
	store  *Store
	ledger storage.Ledger
	events events.Logger
	log    *logging.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	unsubscribe func()
	queue       chan events.Event
	wg          sync.WaitGroup
	running     bool
}

var _ system.Service = (*Syncer)(nil)

// NewSyncer constructs a syncer over the mirror store.
func NewSyncer(store *Store, ledger storage.Ledger, eventLog events.Logger, log *logging.Logger) *Syncer {
	if log == nil {
		log = logging.NewDefault()
	}
	return &Syncer{
		store:  store,
		ledger: ledger,
		events: eventLog,
		log:    log,
	}
}

func (s *Syncer) Name() string { return "postgres-syncer" }

func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.store.EnsureSchema(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.queue = make(chan events.Event, 256)
	s.running = true

	queue := s.queue
	s.unsubscribe = s.events.Subscribe(func(e events.Event) {
		select {
		case queue <- e:
		default:
			s.log.WithField("event", string(e.Type)).Warn("mirror queue full, dropping event")
		}
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case e := <-queue:
				if err := s.apply(runCtx, e); err != nil {
					s.log.WithError(err).WithField("event", string(e.Type)).Warn("mirror event failed")
				}
			}
		}
	}()

	s.log.Info("postgres syncer started")
	return nil
}

func (s *Syncer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	unsubscribe := s.unsubscribe
	s.running = false
	s.cancel = nil
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// apply mirrors one event: the event row itself plus a fresh snapshot of
// every entity the transition touched.
func (s *Syncer) apply(ctx context.Context, e events.Event) error {
	if err := s.store.InsertEvent(ctx, e); err != nil {
		return err
	}

	var (
		m    marketplace.Marketplace
		p    property.Property
		o    offer.Offer
		esc  escrow.Escrow
		hist []history.Record
	)
	err := s.ledger.View(ctx, func(tx storage.Tx) error {
		var err error
		if e.Marketplace != "" {
			if m, err = tx.GetMarketplace(e.Marketplace); err != nil {
				return err
			}
		}
		if e.Property != "" {
			if p, err = tx.GetProperty(e.Property); err != nil {
				return err
			}
			if e.Marketplace == "" {
				if m, err = tx.GetMarketplace(p.Marketplace); err != nil {
					return err
				}
			}
		}
		if e.Offer != "" {
			if o, err = tx.GetOffer(e.Offer); err != nil {
				return err
			}
		}
		if e.Escrow != "" {
			if esc, err = tx.GetEscrow(e.Escrow); err != nil {
				return err
			}
		}
		if e.Type == events.EventPropertySold {
			if hist, err = tx.ListHistoryByProperty(e.Property); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		// The entity vanished from the ledger snapshot; nothing to mirror.
		return nil
	}
	if err != nil {
		return err
	}

	if m.Key != "" {
		if err := s.store.UpsertMarketplace(ctx, m); err != nil {
			return err
		}
	}
	if p.Key != "" {
		if err := s.store.UpsertProperty(ctx, p); err != nil {
			return err
		}
	}
	if o.Key != "" {
		if err := s.store.UpsertOffer(ctx, o); err != nil {
			return err
		}
	}
	if esc.Key != "" {
		if err := s.store.UpsertEscrow(ctx, esc); err != nil {
			return err
		}
	}
	for _, h := range hist {
		if err := s.store.InsertHistory(ctx, h); err != nil {
			return err
		}
	}
	return nil
}
