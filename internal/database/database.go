package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

//go:embed migrations
var migrations embed.FS

// SQLStore is the document store backing rooms, participants and accounts.
// The same queries run on Postgres (lib/pq) and SQLite (modernc).
type SQLStore struct {
	conn   *sql.DB
	driver string
}

func Open(driver, dsn string) (*SQLStore, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLStore{conn: db, driver: driver}, nil
}

// Migrate applies the embedded schema migrations for the store's driver.
func (db *SQLStore) Migrate() error {
	src, err := iofs.New(migrations, "migrations/"+db.driver)
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	defer src.Close()

	var m *migrate.Migrate
	switch db.driver {
	case DriverPostgres:
		drv, err := migratepg.WithInstance(db.conn, &migratepg.Config{})
		if err != nil {
			return fmt.Errorf("migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", drv)
		if err != nil {
			return fmt.Errorf("new migrate: %w", err)
		}
	case DriverSQLite:
		drv, err := migratesqlite.WithInstance(db.conn, &migratesqlite.Config{})
		if err != nil {
			return fmt.Errorf("migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite", drv)
		if err != nil {
			return fmt.Errorf("new migrate: %w", err)
		}
	}

	// m.Close is not called: it would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	return nil
}

func (db *SQLStore) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *SQLStore) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
