package costtrack

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var fs embed.FS

// Store persists usage records in SQLite so spend history survives restarts.
type Store struct {
	db *sqlx.DB
}

func NewStore(dsn string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sqlx.DB) error {
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return err
	}

	d, err := iofs.New(fs, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite3", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Insert writes one record.
func (s *Store) Insert(ctx context.Context, rec *UsageRecord) error {
	query := `
	INSERT INTO usage_records (
		id, timestamp, session_id, provider, model,
		prompt_tokens, completion_tokens, cached_prompt_tokens, cache_write_tokens,
		input_cost, cached_cost, output_cost, cache_write_cost, total_cost, cache_savings
	) VALUES (
		:id, :timestamp, :session_id, :provider, :model,
		:prompt_tokens, :completion_tokens, :cached_prompt_tokens, :cache_write_tokens,
		:input_cost, :cached_cost, :output_cost, :cache_write_cost, :total_cost, :cache_savings
	)`
	_, err := s.db.NamedExecContext(ctx, query, rec)
	return err
}

// SessionRecords loads a session's records in insertion order.
func (s *Store) SessionRecords(ctx context.Context, sessionID string) ([]UsageRecord, error) {
	var out []UsageRecord
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM usage_records WHERE session_id = ? ORDER BY timestamp, id`, sessionID)
	return out, err
}

// Range loads every record with timestamp in [from, to), oldest first.
func (s *Store) Range(ctx context.Context, from, to time.Time) ([]UsageRecord, error) {
	var out []UsageRecord
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM usage_records WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp, id`,
		from, to)
	return out, err
}
