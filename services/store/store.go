package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"sjsage522/pricetracker/config"
	"sjsage522/pricetracker/internal/item"
	"sjsage522/pricetracker/logger"
	trackererrors "sjsage522/pricetracker/pkg/errors"
	"sjsage522/pricetracker/services/cache"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store is the relational store holding items, images, prices and promos
type Store struct {
	db       *sql.DB
	postgres bool
	log      *logger.Logger

	cache    cache.CacheService
	cacheTTL time.Duration
}

// Open connects to the database using one of the supported drivers
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, trackererrors.NewPersistence("store", "open failed", err)
	}

	if driver == config.DriverSQLite {
		// one connection keeps :memory: databases and transactions consistent
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, trackererrors.NewPersistence("store", "ping failed", err)
	}

	return New(db, driver), nil
}

// New wraps an open database handle
func New(db *sql.DB, driver string) *Store {
	return &Store{
		db:       db,
		postgres: driver == config.DriverPostgres || driver == config.DriverPgx,
		log:      logger.ForStore(),
	}
}

// WithItemCache serves item lookups through cacheSvc
func (s *Store) WithItemCache(cacheSvc cache.CacheService, ttl time.Duration) *Store {
	s.cache = cacheSvc
	s.cacheTTL = ttl
	return s
}

// Close closes the database handle
func (s *Store) Close() error {
	return s.db.Close()
}

// Ensure creates the tables if they do not exist
func (s *Store) Ensure(ctx context.Context) error {
	statements := sqliteSchema
	if s.postgres {
		statements = postgresSchema
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return trackererrors.NewPersistence("store", "schema bootstrap failed", err)
		}
	}
	s.log.Debug().Bool("postgres", s.postgres).Msg("Schema ensured")
	return nil
}

// Repositories returns repositories running outside a transaction
func (s *Store) Repositories() item.Repositories {
	return s.repositories(s.db)
}

// InTx runs fn with repositories bound to one transaction,
// committing when fn returns nil and rolling back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(item.Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return trackererrors.NewPersistence("store", "begin transaction failed", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(s.repositories(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn().Err(rbErr).Msg("Rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return trackererrors.NewPersistence("store", "commit failed", err)
	}
	return nil
}

// PriceHistory returns every price record of an item, oldest first
func (s *Store) PriceHistory(ctx context.Context, itemID int64) ([]item.PriceRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, item_id, date, time, price, delta FROM item_prices WHERE item_id = ? ORDER BY id ASC`), itemID)
	if err != nil {
		return nil, trackererrors.NewPersistence("item_prices", "history query failed", err)
	}
	defer rows.Close()

	var out []item.PriceRecord
	for rows.Next() {
		rec, err := scanPrice(rows)
		if err != nil {
			return nil, trackererrors.NewPersistence("item_prices", "scan failed", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, trackererrors.NewPersistence("item_prices", "history query failed", err)
	}
	return out, nil
}

func (s *Store) repositories(q querier) item.Repositories {
	var items item.ItemRepository = &ItemRepository{q: q, s: s}
	if s.cache != nil {
		items = NewCachedItemRepository(items, s.cache, s.cacheTTL)
	}
	return item.Repositories{
		Items:  items,
		Images: &ImageRepository{q: q, s: s},
		Prices: &PriceRepository{q: q, s: s},
		Promos: &PromoRepository{q: q, s: s},
	}
}

// rebind turns ? placeholders into $n for postgres
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func notFound(entity string, key interface{}) error {
	return trackererrors.NewNotFound(entity, fmt.Sprintf("no row for %v", key))
}

var sqliteSchema = []string{
	`PRAGMA foreign_keys = ON`,
	`CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		store_id INTEGER NOT NULL,
		store_product_id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		url TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS item_images (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id INTEGER NOT NULL REFERENCES items(id),
		img_src TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS item_prices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id INTEGER NOT NULL REFERENCES items(id),
		date TEXT NOT NULL,
		time TEXT NOT NULL,
		price REAL NOT NULL,
		delta REAL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_item_prices_item ON item_prices(item_id, id)`,
	`CREATE TABLE IF NOT EXISTS item_promos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id INTEGER NOT NULL UNIQUE REFERENCES items(id),
		promo TEXT NOT NULL,
		promo_url TEXT
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id BIGSERIAL PRIMARY KEY,
		store_id BIGINT NOT NULL,
		store_product_id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		url TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS item_images (
		id BIGSERIAL PRIMARY KEY,
		item_id BIGINT NOT NULL REFERENCES items(id),
		img_src TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS item_prices (
		id BIGSERIAL PRIMARY KEY,
		item_id BIGINT NOT NULL REFERENCES items(id),
		date TEXT NOT NULL,
		time TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		delta DOUBLE PRECISION
	)`,
	`CREATE INDEX IF NOT EXISTS idx_item_prices_item ON item_prices(item_id, id)`,
	`CREATE TABLE IF NOT EXISTS item_promos (
		id BIGSERIAL PRIMARY KEY,
		item_id BIGINT NOT NULL UNIQUE REFERENCES items(id),
		promo TEXT NOT NULL,
		promo_url TEXT
	)`,
}
