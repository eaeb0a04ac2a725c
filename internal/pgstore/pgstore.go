// Package pgstore implements the pipeline store on PostgreSQL, for
// deployments where workers run on separate machines against a shared
// instance. Claims lock their candidate row with FOR UPDATE SKIP LOCKED
// so concurrent workers neither block each other nor receive the same
// row.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/iqsf/safetyindex/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps a PostgreSQL connection pool.
type DB struct {
	conn *sql.DB
}

var _ store.Store = (*DB)(nil)

// Open connects to PostgreSQL, applies pending migrations, and verifies
// the connection.
func Open(dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres driver requires storage.dsn")
	}

	if err := runMigrations(dsn); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	return &DB{conn: conn}, nil
}

func runMigrations(dsn string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}
