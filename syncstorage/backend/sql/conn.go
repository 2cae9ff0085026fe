// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package sql

import (
	"context"
	gosql "database/sql"
	"fmt"

	"go.uber.org/zap"

	"storj.io/syncstorage/syncstorage"
)

// conn implements syncstorage.Conn against a single database/sql
// transaction. All three SQL-flavored backends (postgres, mysql, sqlite)
// share this type; only the dialect and the *gosql.DB differ.
type conn struct {
	log    *zap.Logger
	dlct   dialect
	tx     *gosql.Tx
	userID int64
	now    syncstorage.Timestamp
	cache  *syncstorage.CollectionCache
	quota  syncstorage.Quota

	// newIDs tracks collection ids created in this transaction, so they can
	// be published to the shared cache only after Commit — publishing
	// earlier would expose ids that might still roll back.
	newIDs map[string]int64

	// locked remembers which collection this session has already taken a
	// lock on; a session holds at most one collection-level lock at a time.
	locked int64
}

func (c *conn) Now() syncstorage.Timestamp { return c.now }

func (c *conn) Commit(ctx context.Context) error {
	if err := c.tx.Commit(); err != nil {
		return syncstorage.Error.Wrap(err)
	}
	for name, id := range c.newIDs {
		c.cache.Publish(name, id)
	}
	return nil
}

func (c *conn) Rollback(ctx context.Context) error {
	err := c.tx.Rollback()
	if err != nil && err != gosql.ErrTxDone {
		return syncstorage.Error.Wrap(err)
	}
	return nil
}

func (c *conn) LockForRead(ctx context.Context, collectionID int64) error {
	return c.lock(ctx, collectionID, false)
}

func (c *conn) LockForWrite(ctx context.Context, collectionID int64) error {
	return c.lock(ctx, collectionID, true)
}

func (c *conn) lock(ctx context.Context, collectionID int64, forWrite bool) error {
	c.locked = collectionID
	q := bind(c.dlct, fmt.Sprintf(
		"SELECT modified FROM user_collections WHERE user_id = %%s AND collection_id = %%s %s",
		c.dlct.lockSuffix(forWrite)), 2)
	var modified int64
	err := c.tx.QueryRowContext(ctx, q, c.userID, collectionID).Scan(&modified)
	if err == gosql.ErrNoRows {
		return nil // no rows yet for this collection; nothing to lock
	}
	if err != nil {
		return syncstorage.Error.Wrap(err)
	}
	c.log.Debug("locked collection", zap.Int64("collection_id", collectionID), zap.Bool("write", forWrite))
	return nil
}

func (c *conn) GetStorageTimestamp(ctx context.Context) (syncstorage.Timestamp, error) {
	// Queried directly against user_collections (not via
	// GetCollectionTimestamps' named-collection view) because the
	// storage-wide timestamp must include the id-0 tombstone row a
	// collection delete writes, which has no entry in the collection-id
	// cache.
	q := bind(c.dlct, "SELECT COALESCE(MAX(modified), 0) FROM user_collections WHERE user_id = %s", 1)
	var max int64
	if err := c.tx.QueryRowContext(ctx, q, c.userID).Scan(&max); err != nil {
		return 0, syncstorage.Error.Wrap(err)
	}
	return syncstorage.Timestamp(max), nil
}

func (c *conn) GetStorageUsage(ctx context.Context) (int64, error) {
	usage, err := c.GetCollectionUsage(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, b := range usage {
		total += b
	}
	return total, nil
}

func (c *conn) DeleteStorage(ctx context.Context) error {
	q := bind(c.dlct, "DELETE FROM bsos WHERE user_id = %s", 1)
	if _, err := c.tx.ExecContext(ctx, q, c.userID); err != nil {
		return syncstorage.Error.Wrap(err)
	}
	q = bind(c.dlct, "DELETE FROM batch_bsos WHERE user_id = %s", 1)
	if _, err := c.tx.ExecContext(ctx, q, c.userID); err != nil {
		return syncstorage.Error.Wrap(err)
	}
	q = bind(c.dlct, "DELETE FROM batches WHERE user_id = %s", 1)
	if _, err := c.tx.ExecContext(ctx, q, c.userID); err != nil {
		return syncstorage.Error.Wrap(err)
	}
	q = bind(c.dlct, "DELETE FROM user_collections WHERE user_id = %s", 1)
	if _, err := c.tx.ExecContext(ctx, q, c.userID); err != nil {
		return syncstorage.Error.Wrap(err)
	}
	return nil
}

func (c *conn) GetCollectionTimestamps(ctx context.Context) (map[string]syncstorage.Timestamp, error) {
	q := bind(c.dlct, "SELECT collection_id, modified FROM user_collections WHERE user_id = %s AND modified > 0", 1)
	rows, err := c.tx.QueryContext(ctx, q, c.userID)
	if err != nil {
		return nil, syncstorage.Error.Wrap(err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string]syncstorage.Timestamp{}
	for rows.Next() {
		var id int64
		var modified int64
		if err := rows.Scan(&id, &modified); err != nil {
			return nil, syncstorage.Error.Wrap(err)
		}
		name, ok := c.cache.LookupName(id)
		if !ok {
			continue // tombstones of ids we've never resolved aren't addressable
		}
		out[name] = syncstorage.Timestamp(modified)
	}
	return out, rows.Err()
}

func (c *conn) GetCollectionCounts(ctx context.Context) (map[string]int64, error) {
	return c.aggregateByCollection(ctx, "COUNT(*)")
}

func (c *conn) GetCollectionUsage(ctx context.Context) (map[string]int64, error) {
	return c.aggregateByCollection(ctx, "COALESCE(SUM(LENGTH(payload)), 0)")
}

// aggregateByCollection computes a per-collection aggregate straight from
// the live (unexpired) bso rows. The cached quota counters are not used
// here: they are only maintained while quota is enabled, and these info
// endpoints must be accurate either way.
func (c *conn) aggregateByCollection(ctx context.Context, expr string) (map[string]int64, error) {
	q := bind(c.dlct, fmt.Sprintf(
		"SELECT collection_id, %s FROM bsos WHERE user_id = %%s AND expiry > %%s GROUP BY collection_id", expr), 2)
	rows, err := c.tx.QueryContext(ctx, q, c.userID, int64(c.now))
	if err != nil {
		return nil, syncstorage.Error.Wrap(err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string]int64{}
	for rows.Next() {
		var id, val int64
		if err := rows.Scan(&id, &val); err != nil {
			return nil, syncstorage.Error.Wrap(err)
		}
		if name, ok := c.cache.LookupName(id); ok {
			out[name] = val
		}
	}
	return out, rows.Err()
}

func (c *conn) GetCollectionID(ctx context.Context, name string) (int64, error) {
	if id, ok := c.cache.Lookup(name); ok {
		return id, nil
	}
	if !syncstorage.ValidCollectionName(name) {
		return 0, syncstorage.ErrInvalidCollectionName
	}
	q := bind(c.dlct, "SELECT id FROM collections WHERE name = %s", 1)
	var id int64
	err := c.tx.QueryRowContext(ctx, q, name).Scan(&id)
	if err == gosql.ErrNoRows {
		return 0, syncstorage.ErrNotFound
	}
	if err != nil {
		return 0, syncstorage.Error.Wrap(err)
	}
	c.cache.Publish(name, id) // pre-existing committed rows are safe to cache immediately
	return id, nil
}

func (c *conn) CreateCollection(ctx context.Context, name string) (int64, error) {
	if !syncstorage.ValidCollectionName(name) {
		return 0, syncstorage.ErrInvalidCollectionName
	}
	if id, ok := c.cache.Lookup(name); ok {
		return id, nil
	}
	q := bind(c.dlct, "SELECT COALESCE(MAX(id), %s) + 1 FROM collections WHERE id >= %s", 2)
	var nextID int64
	if err := c.tx.QueryRowContext(ctx, q, syncstorage.FirstUserCollectionID-1, syncstorage.FirstUserCollectionID).Scan(&nextID); err != nil {
		return 0, syncstorage.Error.Wrap(err)
	}
	q = bind(c.dlct, "INSERT INTO collections (id, name) VALUES (%s, %s)", 2)
	if _, err := c.tx.ExecContext(ctx, q, nextID, name); err != nil {
		return 0, syncstorage.Error.Wrap(err)
	}
	if c.newIDs == nil {
		c.newIDs = map[string]int64{}
	}
	c.newIDs[name] = nextID
	return nextID, nil
}

func (c *conn) UpdateCollection(ctx context.Context, collectionID int64, name string) (syncstorage.Timestamp, error) {
	q := bind(c.dlct, c.upsertUserCollectionSQL(), 3)
	if _, err := c.tx.ExecContext(ctx, q, c.userID, collectionID, int64(c.now)); err != nil {
		return 0, syncstorage.Error.Wrap(err)
	}
	return c.now, nil
}

func (c *conn) upsertUserCollectionSQL() string {
	switch c.dlct.name() {
	case "mysql":
		return "INSERT INTO user_collections (user_id, collection_id, modified) VALUES (%s, %s, %s) " +
			"ON DUPLICATE KEY UPDATE modified = VALUES(modified)"
	default:
		return "INSERT INTO user_collections (user_id, collection_id, modified) VALUES (%s, %s, %s) " +
			"ON CONFLICT (user_id, collection_id) DO UPDATE SET modified = EXCLUDED.modified"
	}
}

func (c *conn) GetCollectionTimestamp(ctx context.Context, collectionID int64) (syncstorage.Timestamp, error) {
	q := bind(c.dlct, "SELECT modified FROM user_collections WHERE user_id = %s AND collection_id = %s", 2)
	var modified int64
	err := c.tx.QueryRowContext(ctx, q, c.userID, collectionID).Scan(&modified)
	if err == gosql.ErrNoRows || modified == 0 {
		return 0, syncstorage.ErrNotFound
	}
	if err != nil {
		return 0, syncstorage.Error.Wrap(err)
	}
	return syncstorage.Timestamp(modified), nil
}

func (c *conn) DeleteCollection(ctx context.Context, collectionID int64) (syncstorage.Timestamp, error) {
	q := bind(c.dlct, "DELETE FROM bsos WHERE user_id = %s AND collection_id = %s", 2)
	if _, err := c.tx.ExecContext(ctx, q, c.userID, collectionID); err != nil {
		return 0, syncstorage.Error.Wrap(err)
	}
	// A collection delete sets its stored last_modified to zero (so
	// info/collections omits it) AND advances storage last_modified
	// overall — hence the tombstone write still stamps `now`, just onto
	// collection id 0 (the storage-wide marker), while this collection's
	// own row drops to zero.
	q = bind(c.dlct, c.upsertUserCollectionSQL(), 3)
	if _, err := c.tx.ExecContext(ctx, q, c.userID, collectionID, int64(0)); err != nil {
		return 0, syncstorage.Error.Wrap(err)
	}
	if c.quota.Enabled {
		q = bind(c.dlct, "UPDATE user_collections SET count = 0, total_bytes = 0 WHERE user_id = %s AND collection_id = %s", 2)
		if _, err := c.tx.ExecContext(ctx, q, c.userID, collectionID); err != nil {
			return 0, syncstorage.Error.Wrap(err)
		}
	}
	q = bind(c.dlct, c.upsertUserCollectionSQL(), 3)
	if _, err := c.tx.ExecContext(ctx, q, c.userID, int64(0), int64(c.now)); err != nil {
		return 0, syncstorage.Error.Wrap(err)
	}
	return c.now, nil
}
