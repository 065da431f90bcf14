package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/estatechain/marketplace/internal/app/domain/marketplace"
	"github.com/estatechain/marketplace/internal/app/domain/offer"
	"github.com/estatechain/marketplace/internal/app/domain/property"
	"github.com/estatechain/marketplace/internal/app/events"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

func TestUpsertProperty(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	p := property.Property{
		Key:         "property:abc",
		Marketplace: "marketplace:m",
		Owner:       "alice",
		PropertyID:  "lot-1",
		Price:       1000,
		Active:      true,
		NFTMint:     "nft_mint:abc",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	mock.ExpectExec(`INSERT INTO properties`).
		WithArgs(p.Key, p.Marketplace, p.Owner, p.PropertyID, p.Price, p.MetadataURI, p.Location,
			p.SquareFeet, p.Bedrooms, p.Bathrooms, p.Active, p.NFTMint, p.TransactionCount, p.CreatedAt, p.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.UpsertProperty(context.Background(), p); err != nil {
		t.Fatalf("upsert property: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertMarketplace(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	m := marketplace.Marketplace{
		Key:            "marketplace:m",
		Authority:      "authority",
		FeeBasisPoints: 250,
		FeeTokenMint:   "usd",
		TotalFees:      25,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	mock.ExpectExec(`INSERT INTO marketplaces`).
		WithArgs(m.Key, m.Authority, m.PropertiesCount, m.FeeBasisPoints, m.FeeTokenMint, m.TotalFees, m.CreatedAt, m.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.UpsertMarketplace(context.Background(), m); err != nil {
		t.Fatalf("upsert marketplace: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertEvent(t *testing.T) {
	store, mock := newMockStore(t)

	e := events.Event{
		ID:        "evt-1",
		Type:      events.EventPropertySold,
		Property:  "property:abc",
		Buyer:     "buyer",
		Seller:    "seller",
		Price:     1000,
		Fee:       25,
		Timestamp: time.Now().UTC(),
	}

	mock.ExpectExec(`INSERT INTO marketplace_events`).
		WithArgs(e.ID, string(e.Type), e.Marketplace, e.Property, e.Offer, e.Buyer, e.Seller, e.Amount, e.Fee, e.Price, e.Timestamp).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.InsertEvent(context.Background(), e); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// TestPostgresRoundTrip exercises the mirror against a real database. Set
// TEST_POSTGRES_DSN to run it.
func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	store, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	p := property.Property{
		Key:         "property:itest-" + now.Format("150405.000000"),
		Marketplace: "marketplace:itest",
		Owner:       "alice",
		PropertyID:  "itest-lot",
		Price:       1000,
		Active:      true,
		NFTMint:     "nft_mint:itest",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.UpsertProperty(ctx, p); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	p.Owner = "bob"
	p.Active = false
	p.TransactionCount = 1
	if err := store.UpsertProperty(ctx, p); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := store.ListProperties(ctx, p.Marketplace)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	found := false
	for _, row := range got {
		if row.Key == p.Key {
			found = true
			if row.Owner != "bob" || row.Active || row.TransactionCount != 1 {
				t.Fatalf("mirror row stale: %+v", row)
			}
		}
	}
	if !found {
		t.Fatalf("property %s not mirrored", p.Key)
	}

	o := offer.Offer{
		Key:            "offer:itest-" + now.Format("150405.000000"),
		Buyer:          "bob",
		Property:       p.Key,
		Amount:         1000,
		Status:         offer.StatusCompleted,
		Escrow:         "escrow:itest",
		ExpirationTime: now.Add(time.Hour),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := store.UpsertOffer(ctx, o); err != nil {
		t.Fatalf("upsert offer: %v", err)
	}
	offersByProp, err := store.ListOffersByProperty(ctx, p.Key)
	if err != nil {
		t.Fatalf("list offers: %v", err)
	}
	if len(offersByProp) == 0 {
		t.Fatal("offer not mirrored")
	}
}
