// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package sql implements tokenserver.Store against database/sql, the same
// pattern syncstorage/backend/sql uses for the storage engine: one dialect
// per database, one shared conn type.
package sql

import (
	"context"
	gosql "database/sql"

	_ "github.com/go-sql-driver/mysql" // mysql driver
	_ "github.com/mattn/go-sqlite3"    // sqlite driver
	"go.uber.org/zap"

	"storj.io/syncstorage/tokenserver"
)

// dialect records which database engine a Store talks to (name) and its
// positional-parameter syntax (placeholder).
type dialect interface {
	name() string
	placeholder(i int) string
}

type sqliteDialect struct{}

func (sqliteDialect) name() string             { return "sqlite" }
func (sqliteDialect) placeholder(i int) string { return "?" }

type mysqlDialect struct{}

func (mysqlDialect) name() string             { return "mysql" }
func (mysqlDialect) placeholder(i int) string { return "?" }

// Store implements tokenserver.Store.
type Store struct {
	log  *zap.Logger
	db   *gosql.DB
	dlct dialect
}

// NewSQLiteStore opens a sqlite-backed tokenserver.Store, the default used
// by tests and single-node development deployments.
func NewSQLiteStore(log *zap.Logger, dsn string) (*Store, error) {
	db, err := gosql.Open("sqlite3", dsn)
	if err != nil {
		return nil, tokenserver.Error.Wrap(err)
	}
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &Store{log: log.Named("tokenserver.sqlite"), db: db, dlct: sqliteDialect{}}, nil
}

// NewMySQLStore opens a mysql-backed tokenserver.Store, selected by the
// `TOKENSERVER__DATABASE_URL` scheme.
func NewMySQLStore(log *zap.Logger, dsn string) (*Store, error) {
	db, err := gosql.Open("mysql", dsn)
	if err != nil {
		return nil, tokenserver.Error.Wrap(err)
	}
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &Store{log: log.Named("tokenserver.mysql"), db: db, dlct: mysqlDialect{}}, nil
}

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// AddService registers a new application a tokenserver deployment issues
// tokens for. Provisioning-time only: `services` is a config-seeded table,
// not something request handling writes to.
func (s *Store) AddService(ctx context.Context, name, pattern string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO services (service, pattern) VALUES (?, ?)", name, pattern)
	if err != nil {
		return 0, tokenserver.Error.Wrap(err)
	}
	return res.LastInsertId()
}

// AddNode registers a storage node for a service. Provisioning-time only,
// same rationale as AddService.
func (s *Store) AddNode(ctx context.Context, n tokenserver.Node) (int64, error) {
	downed := 0
	if n.Downed {
		downed = 1
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO nodes (service_id, node, available, current_load, capacity, downed, backoff) VALUES (?, ?, ?, ?, ?, ?, ?)",
		n.ServiceID, n.Hostname, n.Available, n.CurrentLoad, n.Capacity, downed, n.Backoff)
	if err != nil {
		return 0, tokenserver.Error.Wrap(err)
	}
	return res.LastInsertId()
}

func (s *Store) Begin(ctx context.Context) (tokenserver.StoreConn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, tokenserver.Error.Wrap(err)
	}
	return &conn{log: s.log, tx: tx}, nil
}

func migrate(db *gosql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS services (
	id      INTEGER PRIMARY KEY,
	service TEXT UNIQUE NOT NULL,
	pattern TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS nodes (
	id            INTEGER PRIMARY KEY,
	service_id    INTEGER NOT NULL,
	node          TEXT NOT NULL,
	available     INTEGER NOT NULL DEFAULT 0,
	current_load  INTEGER NOT NULL DEFAULT 0,
	capacity      INTEGER NOT NULL DEFAULT 0,
	downed        INTEGER NOT NULL DEFAULT 0,
	backoff       INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS users (
	id               INTEGER PRIMARY KEY,
	service_id       INTEGER NOT NULL,
	email            TEXT NOT NULL,
	generation       INTEGER NOT NULL DEFAULT 0,
	keys_changed_at  INTEGER NOT NULL DEFAULT 0,
	client_state     TEXT NOT NULL DEFAULT '',
	nodeid           INTEGER NOT NULL,
	created_at       INTEGER NOT NULL,
	replaced_at      INTEGER
);`
	_, err := db.Exec(schema)
	if err != nil {
		return tokenserver.Error.Wrap(err)
	}
	return nil
}
