package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteMedium is the local store kept next to the service.
type SQLiteMedium struct {
	db *sql.DB
}

// NewSQLiteMedium opens the database at path (":memory:" works) and applies
// the schema migrations.
func NewSQLiteMedium(path string) (*SQLiteMedium, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a second pooled connection to ":memory:" would see an empty database
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	m := &SQLiteMedium{db: db}
	if err := m.runMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func (m *SQLiteMedium) runMigrations() error {
	driver, err := sqlite.WithInstance(m.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}

	mg, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (m *SQLiteMedium) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := m.db.QueryRowContext(ctx, `SELECT value FROM cart_storage WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query cart storage: %w", err)
	}
	return value, nil
}

func (m *SQLiteMedium) Set(ctx context.Context, key, value string) error {
	const upsert = `
		INSERT INTO cart_storage (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := m.db.ExecContext(ctx, upsert, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write cart storage: %w", err)
	}
	return nil
}

func (m *SQLiteMedium) Remove(ctx context.Context, key string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM cart_storage WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete from cart storage: %w", err)
	}
	return nil
}

func (m *SQLiteMedium) Close() error {
	return m.db.Close()
}

func (m *SQLiteMedium) String() string {
	return "sqlite"
}
