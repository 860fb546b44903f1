// Package sqlitedb is a durable localdb.DB reference adapter backed by
// database/sql over github.com/mattn/go-sqlite3, grounded on
// paavanmparekh-HPDTPS's use of the same driver for its two-phase-
// commit ledger's local state. It gives the coordinator a local store
// that actually survives a process restart, so crash-replay can be
// exercised against a real durable backend and not just memdb's
// in-memory one.
package sqlitedb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kurahashiryo/orientdb/pkg/localdb"
)

// Operation is the only op type Store knows how to Execute, mirroring
// memdb.Operation's shape so tasks can be written against either
// adapter with the same pattern.
type Operation func(ctx context.Context, db *sql.DB) (interface{}, error)

// Store is a single-table key/value document store: one row per
// document key, value stored as a blob. Real deployments would widen
// this into whatever schema the SQL/query layer needs; this adapter
// only has to prove the localdb.DB contract is implementable durably.
type Store struct {
	db *sql.DB
}

var _ localdb.DB = (*Store)(nil)

// Open opens (creating if necessary) the sqlite file at path and
// ensures the documents table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: open %s: %w", path, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS documents (key TEXT PRIMARY KEY, value BLOB)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitedb: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Execute(ctx context.Context, op interface{}, sender string) (interface{}, error) {
	fn, ok := op.(Operation)
	if !ok {
		return nil, fmt.Errorf("sqlitedb: unsupported operation type %T", op)
	}
	return fn(ctx, s.db)
}

// Put upserts key/value, intended for use from inside an Operation.
func Put(ctx context.Context, db *sql.DB, key string, value []byte) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO documents (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// Get reads key, reporting whether it was found.
func Get(ctx context.Context, db *sql.DB, key string) ([]byte, bool, error) {
	var value []byte
	err := db.QueryRowContext(ctx, `SELECT value FROM documents WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) ClearLevel1Cache() {}

// Digest hashes every row's key and value in primary-key order.
func (s *Store) Digest() string {
	rows, err := s.db.Query(`SELECT key, value FROM documents ORDER BY key`)
	if err != nil {
		return ""
	}
	defer rows.Close()

	h := sha256.New()
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return ""
		}
		h.Write([]byte(key))
		h.Write(value)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Store) Close() error {
	return s.db.Close()
}
