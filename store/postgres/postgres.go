// Package postgres opens the SQL store on PostgreSQL through lib/pq.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sportcoin/coin-engine/store/sqlstore"
)

// Dialect describes PostgreSQL to sqlstore. Writers of the same user are
// serialized by the row lock of the balance_version update; counters are
// read FOR UPDATE.
var Dialect = sqlstore.Dialect{
	Name:              "postgres",
	ForUpdate:         "FOR UPDATE",
	IsUniqueViolation: isUniqueViolation,
	IsTransient:       isTransient,
}

const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
	lockNotAvailable     = "55P03"
)

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxOpenConns:    20,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		PingTimeout:     5 * time.Second,
	}
}

// New connects to dsn, checks the connection and migrates the schema.
func New(ctx context.Context, dsn string, opts Options) (*sqlstore.Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = DefaultOptions().PingTimeout
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping failed: %w", err)
	}

	store, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func pqCode(err error) string {
	var pe *pq.Error
	if !errors.As(err, &pe) {
		return ""
	}
	return string(pe.Code)
}

func isUniqueViolation(err error) bool {
	return pqCode(err) == uniqueViolation
}

func isTransient(err error) bool {
	switch pqCode(err) {
	case serializationFailure, deadlockDetected, lockNotAvailable:
		return true
	}
	return false
}
