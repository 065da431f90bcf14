// Package postgres mirrors committed marketplace entities into PostgreSQL.
// The mirror is the queryable store listing pages read from; the ledger
// remains the source of truth and the mirror is rebuilt from it.
package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/estatechain/marketplace/internal/app/domain/escrow"
	"github.com/estatechain/marketplace/internal/app/domain/history"
	"github.com/estatechain/marketplace/internal/app/domain/marketplace"
	"github.com/estatechain/marketplace/internal/app/domain/offer"
	"github.com/estatechain/marketplace/internal/app/domain/property"
	"github.com/estatechain/marketplace/internal/app/events"
)

const schema = `
CREATE TABLE IF NOT EXISTS marketplaces (
	key              TEXT PRIMARY KEY,
	authority        TEXT NOT NULL,
	properties_count BIGINT NOT NULL,
	fee_basis_points BIGINT NOT NULL,
	fee_token_mint   TEXT NOT NULL,
	total_fees       BIGINT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS properties (
	key               TEXT PRIMARY KEY,
	marketplace       TEXT NOT NULL,
	owner             TEXT NOT NULL,
	property_id       TEXT NOT NULL,
	price             BIGINT NOT NULL,
	metadata_uri      TEXT NOT NULL,
	location          TEXT NOT NULL,
	square_feet       BIGINT NOT NULL,
	bedrooms          SMALLINT NOT NULL,
	bathrooms         SMALLINT NOT NULL,
	active            BOOLEAN NOT NULL,
	nft_mint          TEXT NOT NULL,
	transaction_count BIGINT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS properties_marketplace_idx ON properties (marketplace);

CREATE TABLE IF NOT EXISTS offers (
	key             TEXT PRIMARY KEY,
	buyer           TEXT NOT NULL,
	property        TEXT NOT NULL,
	amount          BIGINT NOT NULL,
	status          TEXT NOT NULL,
	escrow          TEXT NOT NULL,
	expiration_time TIMESTAMPTZ NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS offers_property_idx ON offers (property);

CREATE TABLE IF NOT EXISTS escrows (
	key        TEXT PRIMARY KEY,
	buyer      TEXT NOT NULL,
	property   TEXT NOT NULL,
	amount     BIGINT NOT NULL,
	active     BOOLEAN NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sale_history (
	key               TEXT PRIMARY KEY,
	property          TEXT NOT NULL,
	seller            TEXT NOT NULL,
	buyer             TEXT NOT NULL,
	price             BIGINT NOT NULL,
	transaction_index BIGINT NOT NULL,
	recorded_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS sale_history_property_idx ON sale_history (property);

CREATE TABLE IF NOT EXISTS marketplace_events (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	marketplace TEXT NOT NULL DEFAULT '',
	property    TEXT NOT NULL DEFAULT '',
	offer_key   TEXT NOT NULL DEFAULT '',
	buyer       TEXT NOT NULL DEFAULT '',
	seller      TEXT NOT NULL DEFAULT '',
	amount      BIGINT NOT NULL DEFAULT 0,
	fee         BIGINT NOT NULL DEFAULT 0,
	price       BIGINT NOT NULL DEFAULT 0,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS marketplace_events_property_idx ON marketplace_events (property);
`

// Store is the PostgreSQL mirror.
type Store struct {
	db *sqlx.DB
}

// New creates a Store over an open database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the mirror tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// UpsertMarketplace writes a marketplace row keyed by its ledger key.
func (s *Store) UpsertMarketplace(ctx context.Context, m marketplace.Marketplace) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO marketplaces (key, authority, properties_count, fee_basis_points, fee_token_mint, total_fees, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (key) DO UPDATE SET
			properties_count = EXCLUDED.properties_count,
			total_fees = EXCLUDED.total_fees,
			updated_at = EXCLUDED.updated_at
	`, m.Key, m.Authority, m.PropertiesCount, m.FeeBasisPoints, m.FeeTokenMint, m.TotalFees, m.CreatedAt, m.UpdatedAt)
	return err
}

// UpsertProperty writes a property row keyed by its ledger key.
func (s *Store) UpsertProperty(ctx context.Context, p property.Property) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO properties (key, marketplace, owner, property_id, price, metadata_uri, location, square_feet, bedrooms, bathrooms, active, nft_mint, transaction_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (key) DO UPDATE SET
			owner = EXCLUDED.owner,
			price = EXCLUDED.price,
			metadata_uri = EXCLUDED.metadata_uri,
			active = EXCLUDED.active,
			transaction_count = EXCLUDED.transaction_count,
			updated_at = EXCLUDED.updated_at
	`, p.Key, p.Marketplace, p.Owner, p.PropertyID, p.Price, p.MetadataURI, p.Location,
		p.SquareFeet, p.Bedrooms, p.Bathrooms, p.Active, p.NFTMint, p.TransactionCount, p.CreatedAt, p.UpdatedAt)
	return err
}

// UpsertOffer writes an offer row keyed by its ledger key.
func (s *Store) UpsertOffer(ctx context.Context, o offer.Offer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO offers (key, buyer, property, amount, status, escrow, expiration_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (key) DO UPDATE SET
			amount = EXCLUDED.amount,
			status = EXCLUDED.status,
			expiration_time = EXCLUDED.expiration_time,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
	`, o.Key, o.Buyer, o.Property, o.Amount, string(o.Status), o.Escrow, o.ExpirationTime, o.CreatedAt, o.UpdatedAt)
	return err
}

// UpsertEscrow writes an escrow row keyed by its ledger key.
func (s *Store) UpsertEscrow(ctx context.Context, e escrow.Escrow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escrows (key, buyer, property, amount, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			amount = EXCLUDED.amount,
			active = EXCLUDED.active,
			created_at = EXCLUDED.created_at
	`, e.Key, e.Buyer, e.Property, e.Amount, e.Active, e.CreatedAt)
	return err
}

// InsertHistory writes one sale record. History is append-only; replays of
// the same record are ignored.
func (s *Store) InsertHistory(ctx context.Context, h history.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sale_history (key, property, seller, buyer, price, transaction_index, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO NOTHING
	`, h.Key, h.Property, h.Seller, h.Buyer, h.Price, h.TransactionIndex, h.Timestamp)
	return err
}

// InsertEvent appends one event to the mirror's event table.
func (s *Store) InsertEvent(ctx context.Context, e events.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO marketplace_events (id, type, marketplace, property, offer_key, buyer, seller, amount, fee, price, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, string(e.Type), e.Marketplace, e.Property, e.Offer, e.Buyer, e.Seller, e.Amount, e.Fee, e.Price, e.Timestamp)
	return err
}

type propertyRow struct {
	Key              string    `db:"key"`
	Marketplace      string    `db:"marketplace"`
	Owner            string    `db:"owner"`
	PropertyID       string    `db:"property_id"`
	Price            uint64    `db:"price"`
	MetadataURI      string    `db:"metadata_uri"`
	Location         string    `db:"location"`
	SquareFeet       uint64    `db:"square_feet"`
	Bedrooms         uint8     `db:"bedrooms"`
	Bathrooms        uint8     `db:"bathrooms"`
	Active           bool      `db:"active"`
	NFTMint          string    `db:"nft_mint"`
	TransactionCount uint64    `db:"transaction_count"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r propertyRow) toDomain() property.Property {
	return property.Property{
		Key:              r.Key,
		Marketplace:      r.Marketplace,
		Owner:            r.Owner,
		PropertyID:       r.PropertyID,
		Price:            r.Price,
		MetadataURI:      r.MetadataURI,
		Location:         r.Location,
		SquareFeet:       r.SquareFeet,
		Bedrooms:         r.Bedrooms,
		Bathrooms:        r.Bathrooms,
		Active:           r.Active,
		NFTMint:          r.NFTMint,
		TransactionCount: r.TransactionCount,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

// ListProperties returns mirrored properties under a marketplace, oldest
// first. An empty key lists everything.
func (s *Store) ListProperties(ctx context.Context, marketplaceKey string) ([]property.Property, error) {
	var rows []propertyRow
	var err error
	if marketplaceKey == "" {
		err = s.db.SelectContext(ctx, &rows, `SELECT * FROM properties ORDER BY created_at`)
	} else {
		err = s.db.SelectContext(ctx, &rows, `SELECT * FROM properties WHERE marketplace = $1 ORDER BY created_at`, marketplaceKey)
	}
	if err != nil {
		return nil, err
	}
	result := make([]property.Property, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.toDomain())
	}
	return result, nil
}

type offerRow struct {
	Key            string    `db:"key"`
	Buyer          string    `db:"buyer"`
	Property       string    `db:"property"`
	Amount         uint64    `db:"amount"`
	Status         string    `db:"status"`
	Escrow         string    `db:"escrow"`
	ExpirationTime time.Time `db:"expiration_time"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// ListOffersByProperty returns mirrored offers on a property, oldest first.
func (s *Store) ListOffersByProperty(ctx context.Context, propertyKey string) ([]offer.Offer, error) {
	var rows []offerRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM offers WHERE property = $1 ORDER BY created_at`, propertyKey); err != nil {
		return nil, err
	}
	result := make([]offer.Offer, 0, len(rows))
	for _, r := range rows {
		result = append(result, offer.Offer{
			Key:            r.Key,
			Buyer:          r.Buyer,
			Property:       r.Property,
			Amount:         r.Amount,
			Status:         offer.Status(r.Status),
			Escrow:         r.Escrow,
			ExpirationTime: r.ExpirationTime,
			CreatedAt:      r.CreatedAt,
			UpdatedAt:      r.UpdatedAt,
		})
	}
	return result, nil
}

type historyRow struct {
	Key              string    `db:"key"`
	Property         string    `db:"property"`
	Seller           string    `db:"seller"`
	Buyer            string    `db:"buyer"`
	Price            uint64    `db:"price"`
	TransactionIndex uint64    `db:"transaction_index"`
	RecordedAt       time.Time `db:"recorded_at"`
}

// ListHistoryByProperty returns a property's mirrored sale history ordered by
// transaction index.
func (s *Store) ListHistoryByProperty(ctx context.Context, propertyKey string) ([]history.Record, error) {
	var rows []historyRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM sale_history WHERE property = $1 ORDER BY transaction_index`, propertyKey); err != nil {
		return nil, err
	}
	result := make([]history.Record, 0, len(rows))
	for _, r := range rows {
		result = append(result, history.Record{
			Key:              r.Key,
			Property:         r.Property,
			Seller:           r.Seller,
			Buyer:            r.Buyer,
			Price:            r.Price,
			TransactionIndex: r.TransactionIndex,
			Timestamp:        r.RecordedAt,
		})
	}
	return result, nil
}
