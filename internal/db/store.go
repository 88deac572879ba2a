// Package db is the persistence layer: a thin wrapper over database/sql plus
// the Ledger, Order Store and Trade Log operations the matching engine and
// controller need. Every mutating operation that must be atomic with others
// takes a *sql.Tx opened by the caller — internal/controller owns the
// transaction boundary for place/cancel, per spec.md §5, and internal/api
// opens its own for register and admin deposit/withdraw.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type Store struct{ DB *sql.DB }

func Open(dsn string) (*Store, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{DB: sqlDB}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) Migrate(dir string) error {
	driver, err := postgres.WithInstance(s.DB, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	log.Info().Str("dir", dir).Msg("migrations applied")
	return nil
}

func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

// IsSerializationFailure reports whether err is a Postgres lock-timeout or
// serialization-failure error — the store-level contention spec.md §7 calls
// CONFLICT and allows the controller to retry with bounded, jittered
// backoff.
func IsSerializationFailure(err error) bool {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
		return true
	}
	return false
}
