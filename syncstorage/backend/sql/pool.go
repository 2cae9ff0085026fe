// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package sql

import (
	"context"
	gosql "database/sql"
	"time"

	"go.uber.org/zap"

	"storj.io/syncstorage/syncstorage"
)

// PoolConfig configures the shared connection-pool knobs, bound from
// SYNC_SYNCSTORAGE__DATABASE_POOL__MAX_SIZE and friends.
type PoolConfig struct {
	MaxSize      int `default:"10" usage:"maximum open connections"`
	MaxIdle      int `default:"5" usage:"maximum idle connections"`
	TimeoutMs    int `default:"5000" usage:"acquire timeout in milliseconds"`
	LifespanMins int `default:"60" usage:"maximum connection lifetime in minutes"`
}

// Backend implements syncstorage.Backend against a database/sql pool
// shared by postgres, mysql, and sqlite — the three differ only in dialect
// and in how NewXxxBackend dials/migrates.
type Backend struct {
	log            *zap.Logger
	db             *gosql.DB
	dlct           dialect
	cache          *syncstorage.CollectionCache
	clock          *syncstorage.Clock
	quota          syncstorage.Quota
	acquireTimeout time.Duration
}

// Quota implements syncstorage.Backend.
func (b *Backend) Quota() syncstorage.Quota { return b.quota }

// EncodeBatchID implements syncstorage.Backend via the dialect.
func (b *Backend) EncodeBatchID(id int64) string { return b.dlct.encodeBatchID(id) }

// DecodeBatchID implements syncstorage.Backend via the dialect.
func (b *Backend) DecodeBatchID(s string) (int64, bool) { return b.dlct.decodeBatchID(s) }

// Begin implements syncstorage.Backend. The session's "now" is assigned
// once here and used for every write the returned Conn performs.
func (b *Backend) Begin(ctx context.Context, userID int64, forWrite bool) (syncstorage.Conn, error) {
	if b.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.acquireTimeout)
		defer cancel()
	}
	tx, err := b.db.BeginTx(ctx, &gosql.TxOptions{ReadOnly: !forWrite})
	if err != nil {
		return nil, syncstorage.Error.Wrap(err)
	}
	return &conn{
		log:    b.log,
		dlct:   b.dlct,
		tx:     tx,
		userID: userID,
		now:    b.clock.Next(),
		cache:  b.cache,
		quota:  b.quota,
	}, nil
}

// Close releases the pool.
func (b *Backend) Close() error {
	return b.db.Close()
}

// DB exposes the underlying pool for health checks: /__heartbeat__ pings
// the database and feeds the pool stats to process.ObserveDBStats.
func (b *Backend) DB() *gosql.DB { return b.db }

func applyPoolConfig(db *gosql.DB, cfg PoolConfig) {
	db.SetMaxOpenConns(cfg.MaxSize)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(time.Duration(cfg.LifespanMins) * time.Minute)
}
