// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package sql

import (
	gosql "database/sql"

	_ "github.com/mattn/go-sqlite3" // sqlite driver
	"go.uber.org/zap"

	"storj.io/syncstorage/syncstorage"
)

// sqliteDialect is the default/test backend: one file (or :memory:) per
// process, single writer, so no row locking clause is needed — the
// transaction itself serializes writers.
type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite" }

func (sqliteDialect) placeholder(i int) string { return "?" }

func (sqliteDialect) lockSuffix(forWrite bool) string { return "" }

func (sqliteDialect) upsertBSO() string {
	return "INSERT INTO bsos (user_id, collection_id, bso_id, sortindex, payload, modified, expiry) " +
		"VALUES (%s, %s, %s, %s, %s, %s, %s) " +
		"ON CONFLICT (user_id, collection_id, bso_id) DO UPDATE SET " +
		"sortindex = excluded.sortindex, payload = excluded.payload, modified = excluded.modified, expiry = excluded.expiry"
}

func (sqliteDialect) encodeBatchID(id int64) string        { return encodeBase64BatchID(id) }
func (sqliteDialect) decodeBatchID(s string) (int64, bool) { return decodeBase64BatchID(s) }

// NewSQLiteBackend opens a sqlite-backed syncstorage.Backend. dsn is a
// database/sql data source, e.g. "file:test.db?cache=shared" or
// ":memory:"; it is also what cmd/syncstorage wires up by default for
// local development and what the package's own tests use as a fixture.
func NewSQLiteBackend(log *zap.Logger, dsn string, quota syncstorage.Quota) (*Backend, error) {
	db, err := gosql.Open("sqlite3", dsn)
	if err != nil {
		return nil, syncstorage.Error.Wrap(err)
	}
	// sqlite only tolerates one writer; cap the pool so database/sql
	// doesn't hand out a second connection mid-transaction.
	db.SetMaxOpenConns(1)
	if err := migrateSQLite(db); err != nil {
		return nil, err
	}
	return &Backend{
		log:   log.Named("syncstorage.sqlite"),
		db:    db,
		dlct:  sqliteDialect{},
		cache: syncstorage.NewCollectionCache(),
		clock: syncstorage.NewClock(),
		quota: quota,
	}, nil
}

func migrateSQLite(db *gosql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS collections (
	id   INTEGER PRIMARY KEY,
	name TEXT UNIQUE NOT NULL
);
CREATE TABLE IF NOT EXISTS user_collections (
	user_id INTEGER NOT NULL,
	collection_id INTEGER NOT NULL,
	modified INTEGER NOT NULL DEFAULT 0,
	count INTEGER NOT NULL DEFAULT 0,
	total_bytes INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, collection_id)
);
CREATE TABLE IF NOT EXISTS bsos (
	user_id INTEGER NOT NULL,
	collection_id INTEGER NOT NULL,
	bso_id TEXT NOT NULL,
	sortindex INTEGER,
	payload TEXT NOT NULL DEFAULT '',
	modified INTEGER NOT NULL,
	expiry INTEGER NOT NULL,
	PRIMARY KEY (user_id, collection_id, bso_id)
);
CREATE TABLE IF NOT EXISTS batches (
	user_id INTEGER NOT NULL,
	collection_id INTEGER NOT NULL,
	batch_id INTEGER NOT NULL,
	expiry INTEGER NOT NULL,
	PRIMARY KEY (user_id, collection_id, batch_id)
);
CREATE TABLE IF NOT EXISTS batch_bsos (
	user_id INTEGER NOT NULL,
	collection_id INTEGER NOT NULL,
	batch_id INTEGER NOT NULL,
	batch_bso_id TEXT NOT NULL,
	sortindex INTEGER,
	payload TEXT,
	ttl INTEGER,
	PRIMARY KEY (user_id, collection_id, batch_id, batch_bso_id)
);`
	_, err := db.Exec(schema)
	if err != nil {
		return syncstorage.Error.Wrap(err)
	}
	return nil
}
