package marketplace

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/estatechain/marketplace/internal/app/domain/property"
	"github.com/estatechain/marketplace/internal/app/engine"
	"github.com/estatechain/marketplace/internal/app/events"
	"github.com/estatechain/marketplace/internal/app/storage"
	"github.com/estatechain/marketplace/internal/app/storage/memory"
	"github.com/estatechain/marketplace/internal/logging"
)

func newTestService() (*Service, *memory.Ledger, *events.RingBuffer) {
	ledger := memory.New()
	eventLog := events.NewRingBuffer(64)
	svc := New(ledger, eventLog, logging.NewNop())
	return svc, ledger, eventLog
}

func TestInitializeMarketplace(t *testing.T) {
	ctx := context.Background()
	svc, _, eventLog := newTestService()

	m, err := svc.InitializeMarketplace(ctx, "authority", 250, "usd")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if m.FeeBasisPoints != 250 || m.Authority != "authority" {
		t.Fatalf("unexpected marketplace: %+v", m)
	}
	if m.PropertiesCount != 0 || m.TotalFees != 0 {
		t.Fatalf("counters not zeroed: %+v", m)
	}

	got := eventLog.RecentByType(events.EventMarketplaceInitialized, 1)
	if len(got) != 1 || got[0].Marketplace != m.Key {
		t.Fatalf("expected initialization event, got %+v", got)
	}
}

func TestInitializeMarketplaceInvalidFee(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	if _, err := svc.InitializeMarketplace(ctx, "authority", 10001, "usd"); !errors.Is(err, engine.ErrInvalidFeePercentage) {
		t.Fatalf("expected ErrInvalidFeePercentage, got %v", err)
	}
	// 10000 (100%) is the inclusive bound.
	if _, err := svc.InitializeMarketplace(ctx, "authority", 10000, "usd"); err != nil {
		t.Fatalf("fee of 10000 bps should be legal: %v", err)
	}
}

func TestInitializeMarketplaceDuplicate(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	if _, err := svc.InitializeMarketplace(ctx, "authority", 100, "usd"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := svc.InitializeMarketplace(ctx, "authority", 100, "usd"); !errors.Is(err, engine.ErrMarketplaceExists) {
		t.Fatalf("expected ErrMarketplaceExists, got %v", err)
	}
}

func TestListProperty(t *testing.T) {
	ctx := context.Background()
	svc, ledger, eventLog := newTestService()

	m, err := svc.InitializeMarketplace(ctx, "authority", 250, "usd")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	p, err := svc.ListProperty(ctx, "alice", m.Key, ListPropertyInput{
		PropertyID:  "lot-42",
		Price:       1000,
		MetadataURI: "ipfs://meta",
		Location:    "Springfield",
		SquareFeet:  1800,
		Bedrooms:    3,
		Bathrooms:   2,
	})
	if err != nil {
		t.Fatalf("list property: %v", err)
	}
	if !p.Active || p.Owner != "alice" || p.NFTMint == "" {
		t.Fatalf("unexpected property: %+v", p)
	}

	// Listing mints the ownership token into the lister's custody.
	if err := ledger.View(ctx, func(tx storage.Tx) error {
		mint, err := tx.GetMint(p.NFTMint)
		if err != nil {
			return err
		}
		if mint.Property != p.Key || mint.Supply != 1 {
			t.Fatalf("unexpected mint: %+v", mint)
		}
		if got := tx.Balance("alice", p.NFTMint); got != 1 {
			t.Fatalf("owner custody balance = %d, want 1", got)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}

	got, err := svc.GetMarketplace(ctx, m.Key)
	if err != nil {
		t.Fatalf("get marketplace: %v", err)
	}
	if got.PropertiesCount != 1 {
		t.Fatalf("properties count = %d, want 1", got.PropertiesCount)
	}

	if evts := eventLog.RecentByType(events.EventPropertyListed, 1); len(evts) != 1 || evts[0].Property != p.Key {
		t.Fatalf("expected listed event, got %+v", evts)
	}
}

func TestListPropertyValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	m, err := svc.InitializeMarketplace(ctx, "authority", 0, "usd")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	cases := []struct {
		name string
		in   ListPropertyInput
		want error
	}{
		{"long id", ListPropertyInput{PropertyID: strings.Repeat("x", 65), Price: 1}, engine.ErrPropertyIDTooLong},
		{"long uri", ListPropertyInput{PropertyID: "a", Price: 1, MetadataURI: strings.Repeat("u", 201)}, engine.ErrMetadataURITooLong},
		{"long location", ListPropertyInput{PropertyID: "a", Price: 1, Location: strings.Repeat("l", 51)}, engine.ErrLocationTooLong},
		{"zero price", ListPropertyInput{PropertyID: "a", Price: 0}, engine.ErrInvalidPrice},
	}
	for _, tc := range cases {
		if _, err := svc.ListProperty(ctx, "alice", m.Key, tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestListPropertyDuplicateID(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	m, err := svc.InitializeMarketplace(ctx, "authority", 0, "usd")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	in := ListPropertyInput{PropertyID: "lot-1", Price: 500}
	if _, err := svc.ListProperty(ctx, "alice", m.Key, in); err != nil {
		t.Fatalf("first listing: %v", err)
	}
	if _, err := svc.ListProperty(ctx, "bob", m.Key, in); !errors.Is(err, engine.ErrPropertyExists) {
		t.Fatalf("expected ErrPropertyExists, got %v", err)
	}

	got, err := svc.GetMarketplace(ctx, m.Key)
	if err != nil {
		t.Fatalf("get marketplace: %v", err)
	}
	if got.PropertiesCount != 1 {
		t.Fatalf("failed listing must not bump count: %d", got.PropertiesCount)
	}
}

func TestUpdateProperty(t *testing.T) {
	ctx := context.Background()
	svc, _, eventLog := newTestService()

	m, _ := svc.InitializeMarketplace(ctx, "authority", 0, "usd")
	p, err := svc.ListProperty(ctx, "alice", m.Key, ListPropertyInput{PropertyID: "lot-1", Price: 500})
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	price := uint64(750)
	active := false
	updated, err := svc.UpdateProperty(ctx, "alice", p.Key, property.Update{Price: &price, Active: &active})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Price != 750 || updated.Active {
		t.Fatalf("unexpected property after update: %+v", updated)
	}
	if evts := eventLog.RecentByType(events.EventPropertyUpdated, 1); len(evts) != 1 {
		t.Fatalf("expected updated event, got %+v", evts)
	}
}

func TestUpdatePropertyAuthorization(t *testing.T) {
	ctx := context.Background()
	svc, ledger, _ := newTestService()

	m, _ := svc.InitializeMarketplace(ctx, "authority", 0, "usd")
	p, err := svc.ListProperty(ctx, "alice", m.Key, ListPropertyInput{PropertyID: "lot-1", Price: 500})
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	price := uint64(1)
	if _, err := svc.UpdateProperty(ctx, "mallory", p.Key, property.Update{Price: &price}); !errors.Is(err, engine.ErrNotPropertyOwner) {
		t.Fatalf("expected ErrNotPropertyOwner, got %v", err)
	}

	// Strip the owner's token custody out from under them.
	if err := ledger.Update(ctx, func(tx storage.Tx) error {
		return tx.Debit("alice", p.NFTMint, 1)
	}); err != nil {
		t.Fatalf("strip custody: %v", err)
	}
	if _, err := svc.UpdateProperty(ctx, "alice", p.Key, property.Update{Price: &price}); !errors.Is(err, engine.ErrNotNFTOwner) {
		t.Fatalf("expected ErrNotNFTOwner, got %v", err)
	}
}

func TestUpdatePropertyNoFieldsBumpsTimestamp(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return current })

	m, _ := svc.InitializeMarketplace(ctx, "authority", 0, "usd")
	p, err := svc.ListProperty(ctx, "alice", m.Key, ListPropertyInput{PropertyID: "lot-1", Price: 500})
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	current = current.Add(time.Hour)
	updated, err := svc.UpdateProperty(ctx, "alice", p.Key, property.Update{})
	if err != nil {
		t.Fatalf("no-op update should succeed: %v", err)
	}
	if !updated.UpdatedAt.After(p.UpdatedAt) {
		t.Fatalf("updated_at not bumped: %v vs %v", updated.UpdatedAt, p.UpdatedAt)
	}
	if updated.Price != p.Price || updated.Active != p.Active {
		t.Fatalf("no-op update mutated fields: %+v", updated)
	}
}

func TestWithdrawFees(t *testing.T) {
	ctx := context.Background()
	svc, ledger, eventLog := newTestService()

	m, err := svc.InitializeMarketplace(ctx, "authority", 250, "usd")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// Accrue fees the way settlement does: fee custody on the marketplace key.
	if err := ledger.Update(ctx, func(tx storage.Tx) error {
		got, err := tx.GetMarketplace(m.Key)
		if err != nil {
			return err
		}
		got.TotalFees = 25
		if err := tx.PutMarketplace(got); err != nil {
			return err
		}
		return tx.Credit(m.Key, "usd", 25)
	}); err != nil {
		t.Fatalf("seed fees: %v", err)
	}

	if _, err := svc.WithdrawFees(ctx, "mallory", m.Key, 10); !errors.Is(err, engine.ErrUnauthorizedFeeWithdrawal) {
		t.Fatalf("expected ErrUnauthorizedFeeWithdrawal, got %v", err)
	}
	if _, err := svc.WithdrawFees(ctx, "authority", m.Key, 26); !errors.Is(err, engine.ErrInsufficientFeeBalance) {
		t.Fatalf("expected ErrInsufficientFeeBalance, got %v", err)
	}
	got, err := svc.GetMarketplace(ctx, m.Key)
	if err != nil {
		t.Fatalf("get marketplace: %v", err)
	}
	if got.TotalFees != 25 {
		t.Fatalf("failed withdrawal must leave total_fees unchanged: %d", got.TotalFees)
	}

	got, err = svc.WithdrawFees(ctx, "authority", m.Key, 25)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got.TotalFees != 0 {
		t.Fatalf("total_fees = %d, want 0", got.TotalFees)
	}
	if err := ledger.View(ctx, func(tx storage.Tx) error {
		if b := tx.Balance("authority", "usd"); b != 25 {
			t.Fatalf("authority balance = %d, want 25", b)
		}
		if b := tx.Balance(m.Key, "usd"); b != 0 {
			t.Fatalf("fee custody balance = %d, want 0", b)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	if evts := eventLog.RecentByType(events.EventFeesWithdrawn, 1); len(evts) != 1 || evts[0].Amount != 25 {
		t.Fatalf("expected withdrawal event, got %+v", evts)
	}
}
