/*
Package sqlite opens the SQL store on SQLite.

PURPOSE:
  Opens a mattn/go-sqlite3 database and hands it to sqlstore with the
  SQLite dialect: writers are serialized, unique violations and busy
  errors are recognised from the driver's error codes.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New(ctx, "./data/sportcoin.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  Use ":memory:" for an in-memory database (tests).

SEE ALSO:
  - store/sqlstore: Queries and schema
  - store/postgres: PostgreSQL opener
*/
package sqlite

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/sportcoin/coin-engine/store/sqlstore"
)

// Dialect describes SQLite to sqlstore.
var Dialect = sqlstore.Dialect{
	Name:              "sqlite",
	SerializeWrites:   true,
	IsUniqueViolation: isUniqueViolation,
	IsTransient:       isBusy,
}

// New opens (creating if needed) the database at path and migrates it.
func New(ctx context.Context, path string) (*sqlstore.Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: a single writer, and ":memory:" databases are per
	// connection.
	db.SetMaxOpenConns(1)

	store, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrConstraint &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
}
