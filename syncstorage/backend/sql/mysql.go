// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package sql

import (
	gosql "database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql" // mysql driver
	"go.uber.org/zap"

	"storj.io/syncstorage/syncstorage"
)

type mysqlDialect struct{}

func (mysqlDialect) name() string { return "mysql" }

func (mysqlDialect) placeholder(i int) string { return "?" }

func (mysqlDialect) lockSuffix(forWrite bool) string {
	if forWrite {
		return "FOR UPDATE"
	}
	return "LOCK IN SHARE MODE"
}

func (mysqlDialect) upsertBSO() string {
	return "INSERT INTO bsos (user_id, collection_id, bso_id, sortindex, payload, modified, expiry) " +
		"VALUES (%s, %s, %s, %s, %s, %s, %s) " +
		"ON DUPLICATE KEY UPDATE sortindex = VALUES(sortindex), payload = VALUES(payload), " +
		"modified = VALUES(modified), expiry = VALUES(expiry)"
}

func (mysqlDialect) encodeBatchID(id int64) string        { return encodeBase64BatchID(id) }
func (mysqlDialect) decodeBatchID(s string) (int64, bool) { return decodeBase64BatchID(s) }

// NewMySQLBackend opens a mysql-backed syncstorage.Backend.
func NewMySQLBackend(log *zap.Logger, dsn string, poolCfg PoolConfig, quota syncstorage.Quota) (*Backend, error) {
	db, err := gosql.Open("mysql", dsn)
	if err != nil {
		return nil, syncstorage.Error.Wrap(err)
	}
	applyPoolConfig(db, poolCfg)
	if err := migrateMySQL(db); err != nil {
		return nil, err
	}
	return &Backend{
		log:            log.Named("syncstorage.mysql"),
		db:             db,
		dlct:           mysqlDialect{},
		cache:          syncstorage.NewCollectionCache(),
		clock:          syncstorage.NewClock(),
		quota:          quota,
		acquireTimeout: time.Duration(poolCfg.TimeoutMs) * time.Millisecond,
	}, nil
}

func migrateMySQL(db *gosql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS collections (
	id   BIGINT PRIMARY KEY,
	name VARCHAR(32) UNIQUE NOT NULL
) ENGINE=InnoDB;
CREATE TABLE IF NOT EXISTS user_collections (
	user_id BIGINT NOT NULL,
	collection_id BIGINT NOT NULL,
	modified BIGINT NOT NULL DEFAULT 0,
	count BIGINT NOT NULL DEFAULT 0,
	total_bytes BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, collection_id)
) ENGINE=InnoDB;
CREATE TABLE IF NOT EXISTS bsos (
	user_id BIGINT NOT NULL,
	collection_id BIGINT NOT NULL,
	bso_id VARCHAR(64) NOT NULL,
	sortindex INT,
	payload MEDIUMTEXT NOT NULL,
	modified BIGINT NOT NULL,
	expiry BIGINT NOT NULL,
	PRIMARY KEY (user_id, collection_id, bso_id)
) ENGINE=InnoDB;
CREATE TABLE IF NOT EXISTS batches (
	user_id BIGINT NOT NULL,
	collection_id BIGINT NOT NULL,
	batch_id BIGINT NOT NULL,
	expiry BIGINT NOT NULL,
	PRIMARY KEY (user_id, collection_id, batch_id)
) ENGINE=InnoDB;
CREATE TABLE IF NOT EXISTS batch_bsos (
	user_id BIGINT NOT NULL,
	collection_id BIGINT NOT NULL,
	batch_id BIGINT NOT NULL,
	batch_bso_id VARCHAR(64) NOT NULL,
	sortindex INT,
	payload MEDIUMTEXT,
	ttl BIGINT,
	PRIMARY KEY (user_id, collection_id, batch_id, batch_bso_id)
) ENGINE=InnoDB;`
	_, err := db.Exec(schema)
	if err != nil {
		return syncstorage.Error.Wrap(err)
	}
	return nil
}
