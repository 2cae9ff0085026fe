// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package sql

import (
	gosql "database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
	uuid "github.com/satori/go.uuid"
	"go.uber.org/zap"

	"storj.io/syncstorage/syncstorage"
)

// postgresDialect encodes batch ids as UUIDs — the monotone integer id is
// hashed into a deterministic v5-style namespace UUID. That hash cannot be
// reversed; decoding reads the integer back from the decimal suffix the
// wire form carries alongside it (see batchid.go).
type postgresDialect struct{}

var postgresNamespace = uuid.NewV5(uuid.NamespaceOID, "storj.io/syncstorage/batch")

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) placeholder(i int) string { return fmt.Sprintf("$%d", i) }

func (postgresDialect) lockSuffix(forWrite bool) string {
	if forWrite {
		return "FOR UPDATE"
	}
	return "FOR SHARE"
}

func (postgresDialect) upsertBSO() string {
	return "INSERT INTO bsos (user_id, collection_id, bso_id, sortindex, payload, modified, expiry) " +
		"VALUES (%s, %s, %s, %s, %s, %s, %s) " +
		"ON CONFLICT (user_id, collection_id, bso_id) DO UPDATE SET " +
		"sortindex = EXCLUDED.sortindex, payload = EXCLUDED.payload, modified = EXCLUDED.modified, expiry = EXCLUDED.expiry"
}

func (postgresDialect) encodeBatchID(id int64) string {
	return uuid.NewV5(postgresNamespace, fmt.Sprintf("%d", id)).String() + ":" + fmt.Sprintf("%d", id)
}

func (postgresDialect) decodeBatchID(s string) (int64, bool) {
	return decodeSuffixedBatchID(s)
}

// NewPostgresBackend opens a postgres-backed syncstorage.Backend and
// ensures its schema exists.
func NewPostgresBackend(log *zap.Logger, dsn string, poolCfg PoolConfig, quota syncstorage.Quota) (*Backend, error) {
	db, err := gosql.Open("postgres", dsn)
	if err != nil {
		return nil, syncstorage.Error.Wrap(err)
	}
	applyPoolConfig(db, poolCfg)
	if err := migratePostgres(db); err != nil {
		return nil, err
	}
	return &Backend{
		log:            log.Named("syncstorage.postgres"),
		db:             db,
		dlct:           postgresDialect{},
		cache:          syncstorage.NewCollectionCache(),
		clock:          syncstorage.NewClock(),
		quota:          quota,
		acquireTimeout: time.Duration(poolCfg.TimeoutMs) * time.Millisecond,
	}, nil
}

func migratePostgres(db *gosql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS collections (
	id   BIGINT PRIMARY KEY,
	name TEXT UNIQUE NOT NULL
);
CREATE TABLE IF NOT EXISTS user_collections (
	user_id BIGINT NOT NULL,
	collection_id BIGINT NOT NULL,
	modified BIGINT NOT NULL DEFAULT 0,
	count BIGINT NOT NULL DEFAULT 0,
	total_bytes BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, collection_id)
);
CREATE TABLE IF NOT EXISTS bsos (
	user_id BIGINT NOT NULL,
	collection_id BIGINT NOT NULL,
	bso_id TEXT NOT NULL,
	sortindex INTEGER,
	payload TEXT NOT NULL DEFAULT '',
	modified BIGINT NOT NULL,
	expiry BIGINT NOT NULL,
	PRIMARY KEY (user_id, collection_id, bso_id)
);
CREATE TABLE IF NOT EXISTS batches (
	user_id BIGINT NOT NULL,
	collection_id BIGINT NOT NULL,
	batch_id BIGINT NOT NULL,
	expiry BIGINT NOT NULL,
	PRIMARY KEY (user_id, collection_id, batch_id)
);
CREATE TABLE IF NOT EXISTS batch_bsos (
	user_id BIGINT NOT NULL,
	collection_id BIGINT NOT NULL,
	batch_id BIGINT NOT NULL,
	batch_bso_id TEXT NOT NULL,
	sortindex INTEGER,
	payload TEXT,
	ttl BIGINT,
	PRIMARY KEY (user_id, collection_id, batch_id, batch_bso_id)
);`
	_, err := db.Exec(schema)
	if err != nil {
		return syncstorage.Error.Wrap(err)
	}
	return nil
}
