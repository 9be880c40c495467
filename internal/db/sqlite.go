// Package db opens the governance store and applies its schema migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

// Pool modes accepted by OpenSQLite.
const (
	ModeRead  = "read"
	ModeWrite = "write"
)

const (
	busyTimeoutMillis = "5000"
	synchronousMode   = "NORMAL"
	journalMode       = "WAL"
	defaultReadConns  = 4
)

// OpenSQLite opens a pool on the SQLite file at path.
//
// The write pool holds a single connection and begins every transaction with
// BEGIN IMMEDIATE, so request transitions and grant inserts are serialised.
// The read pool allows maxOpen concurrent readers (0 means 4).
func OpenSQLite(path string, mode string, maxOpen int) (*sql.DB, error) {
	if mode != ModeRead && mode != ModeWrite {
		return nil, fmt.Errorf("invalid SQLite mode %q: must be %q or %q", mode, ModeRead, ModeWrite)
	}

	db, err := sql.Open("sqlite3", buildDSN(path, mode))
	if err != nil {
		return nil, fmt.Errorf("open sqlite (%s): %w", mode, err)
	}

	if mode == ModeWrite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if maxOpen <= 0 {
			maxOpen = defaultReadConns
		}
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite (%s): %w", mode, err)
	}
	return db, nil
}

// Store bundles the write and read pools of one database file.
type Store struct {
	Write *sql.DB
	Read  *sql.DB
}

// Close closes both pools.
func (s *Store) Close() error {
	rerr := s.Read.Close()
	werr := s.Write.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// OpenStore opens the write pool, runs pending migrations on it and then
// opens the read pool.
func OpenStore(path string, readMaxOpen int) (*Store, error) {
	writeDB, err := OpenSQLite(path, ModeWrite, 0)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(writeDB); err != nil {
		_ = writeDB.Close()
		return nil, err
	}
	readDB, err := OpenSQLite(path, ModeRead, readMaxOpen)
	if err != nil {
		_ = writeDB.Close()
		return nil, err
	}
	return &Store{Write: writeDB, Read: readDB}, nil
}

func buildDSN(path string, mode string) string {
	params := url.Values{}
	params.Set("_journal_mode", journalMode)
	params.Set("_busy_timeout", busyTimeoutMillis)
	params.Set("_synchronous", synchronousMode)
	params.Set("_foreign_keys", "on")
	if mode == ModeWrite {
		params.Set("_txlock", "immediate")
	}
	return path + "?" + params.Encode()
}
