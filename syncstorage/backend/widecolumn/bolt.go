// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package widecolumn implements syncstorage.Backend as an ordered,
// single-writer-per-bucket engine in the Bigtable/Spanner style, built on
// go.etcd.io/bbolt. bbolt's byte-ordered buckets and native
// Begin(writable)/Commit/Rollback transaction handle map onto
// syncstorage.Conn almost directly, and row-level locking is elided:
// bbolt's single-writer-transaction model supplies the serializability a
// wide-column store would get from timestamped transactions.
package widecolumn

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"storj.io/syncstorage/syncstorage"
)

var (
	bucketCollections     = []byte("collections")      // name -> id (8 bytes BE)
	bucketCollectionNames = []byte("collection_names") // id (8 bytes BE) -> name
	bucketUserCollections = []byte("user_collections") // userID|collectionID -> json(userCollectionRow)
	bucketBSOs            = []byte("bsos")             // userID|collectionID|bsoID -> json(bsoRow)
	bucketBatches         = []byte("batches")          // userID|collectionID|batchID -> json(expiry)
	bucketBatchBSOs       = []byte("batch_bsos")       // userID|collectionID|batchID|bsoID -> json(stagedRow)
)

// Backend implements syncstorage.Backend on top of a single bbolt
// database file.
type Backend struct {
	log   *zap.Logger
	db    *bolt.DB
	cache *syncstorage.CollectionCache
	clock *syncstorage.Clock
	quota syncstorage.Quota
}

// NewBackend opens (creating if absent) a bbolt-backed Backend at path.
func NewBackend(log *zap.Logger, path string, quota syncstorage.Quota) (*Backend, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, syncstorage.Error.Wrap(err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketCollections, bucketCollectionNames, bucketUserCollections,
			bucketBSOs, bucketBatches, bucketBatchBSOs} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, syncstorage.Error.Wrap(err)
	}
	return &Backend{
		log:   log.Named("syncstorage.widecolumn"),
		db:    db,
		cache: syncstorage.NewCollectionCache(),
		clock: syncstorage.NewClock(),
		quota: quota,
	}, nil
}

// Close releases the underlying bbolt file.
func (b *Backend) Close() error { return b.db.Close() }

// Quota implements syncstorage.Backend.
func (b *Backend) Quota() syncstorage.Quota { return b.quota }

// EncodeBatchID implements syncstorage.Backend. Batch ids on this engine
// are already timestamp-derived integers, so the wire form is the plain
// decimal string.
func (b *Backend) EncodeBatchID(id int64) string { return strconv.FormatInt(id, 10) }

// DecodeBatchID implements syncstorage.Backend.
func (b *Backend) DecodeBatchID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil
}

// Begin implements syncstorage.Backend using bbolt's own manual
// transaction handle, which is exactly the session-envelope shape
// syncstorage.Conn needs.
func (b *Backend) Begin(ctx context.Context, userID int64, forWrite bool) (syncstorage.Conn, error) {
	tx, err := b.db.Begin(forWrite)
	if err != nil {
		return nil, syncstorage.Error.Wrap(err)
	}
	return &conn{
		log:    b.log,
		tx:     tx,
		userID: userID,
		now:    b.clock.Next(),
		cache:  b.cache,
		quota:  b.quota,
	}, nil
}

type conn struct {
	log    *zap.Logger
	tx     *bolt.Tx
	userID int64
	now    syncstorage.Timestamp
	cache  *syncstorage.CollectionCache
	quota  syncstorage.Quota

	newIDs map[string]int64
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
	if err != nil && err != bolt.ErrTxClosed {
		return syncstorage.Error.Wrap(err)
	}
	return nil
}

// LockForRead/LockForWrite are no-ops: bbolt serializes all writers behind
// a single RWMutex-guarded write transaction and gives readers a
// consistent snapshot, so there is nothing left for an advisory lock to do.
func (c *conn) LockForRead(ctx context.Context, collectionID int64) error  { return nil }
func (c *conn) LockForWrite(ctx context.Context, collectionID int64) error { return nil }

func be64(n int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	return b[:]
}

func userCollectionKey(userID, collectionID int64) []byte {
	return append(be64(userID), be64(collectionID)...)
}

func bsoKey(userID, collectionID int64, bsoID string) []byte {
	return []byte(fmt.Sprintf("%s|%s", userCollectionKey(userID, collectionID), bsoID))
}

func bsoKeyPrefix(userID, collectionID int64) []byte {
	return append(userCollectionKey(userID, collectionID), '|')
}

func batchKey(userID, collectionID, batchID int64) []byte {
	return append(userCollectionKey(userID, collectionID), be64(batchID)...)
}

func stagedKeyPrefix(userID, collectionID, batchID int64) []byte {
	return append(batchKey(userID, collectionID, batchID), '|')
}

func stagedKey(userID, collectionID, batchID int64, bsoID string) []byte {
	return []byte(fmt.Sprintf("%s|%s", batchKey(userID, collectionID, batchID), bsoID))
}

type userCollectionRow struct {
	Modified int64 `json:"modified"`
}

func (c *conn) getUserCollection(collectionID int64) (userCollectionRow, bool) {
	raw := c.tx.Bucket(bucketUserCollections).Get(userCollectionKey(c.userID, collectionID))
	if raw == nil {
		return userCollectionRow{}, false
	}
	var row userCollectionRow
	_ = json.Unmarshal(raw, &row)
	return row, true
}

func (c *conn) putUserCollection(collectionID int64, row userCollectionRow) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return syncstorage.Error.Wrap(err)
	}
	return c.tx.Bucket(bucketUserCollections).Put(userCollectionKey(c.userID, collectionID), raw)
}

func (c *conn) GetStorageTimestamp(ctx context.Context) (syncstorage.Timestamp, error) {
	var max int64
	cur := c.tx.Bucket(bucketUserCollections).Cursor()
	prefix := be64(c.userID)
	for k, v := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cur.Next() {
		var row userCollectionRow
		_ = json.Unmarshal(v, &row)
		if row.Modified > max {
			max = row.Modified
		}
	}
	return syncstorage.Timestamp(max), nil
}

func hasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix)
}

func (c *conn) GetStorageUsage(ctx context.Context) (int64, error) {
	usage, err := c.GetCollectionUsage(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, v := range usage {
		total += v
	}
	return total, nil
}

func (c *conn) DeleteStorage(ctx context.Context) error {
	prefix := be64(c.userID)
	for _, bucketName := range [][]byte{bucketUserCollections, bucketBSOs, bucketBatches, bucketBatchBSOs} {
		b := c.tx.Bucket(bucketName)
		cur := b.Cursor()
		var keys [][]byte
		for k, _ := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = cur.Next() {
			keys = append(keys, append([]byte{}, k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return syncstorage.Error.Wrap(err)
			}
		}
	}
	return nil
}

func (c *conn) GetCollectionTimestamps(ctx context.Context) (map[string]syncstorage.Timestamp, error) {
	out := map[string]syncstorage.Timestamp{}
	cur := c.tx.Bucket(bucketUserCollections).Cursor()
	prefix := be64(c.userID)
	for k, v := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cur.Next() {
		collectionID := int64(binary.BigEndian.Uint64(k[8:16]))
		var row userCollectionRow
		_ = json.Unmarshal(v, &row)
		if row.Modified == 0 {
			continue
		}
		if name, ok := c.cache.LookupName(collectionID); ok {
			out[name] = syncstorage.Timestamp(row.Modified)
		}
	}
	return out, nil
}

func (c *conn) GetCollectionCounts(ctx context.Context) (map[string]int64, error) {
	return c.aggregateBSOs(func(bsoRow) int64 { return 1 })
}

func (c *conn) GetCollectionUsage(ctx context.Context) (map[string]int64, error) {
	return c.aggregateBSOs(func(row bsoRow) int64 { return int64(len(row.Payload)) })
}

// aggregateBSOs computes a per-collection aggregate by walking the user's
// live (unexpired) bso range, grouping on the collection id embedded in
// each key.
func (c *conn) aggregateBSOs(weight func(bsoRow) int64) (map[string]int64, error) {
	out := map[string]int64{}
	cur := c.tx.Bucket(bucketBSOs).Cursor()
	prefix := be64(c.userID)
	for k, v := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cur.Next() {
		var row bsoRow
		_ = json.Unmarshal(v, &row)
		if syncstorage.Timestamp(row.Expiry) <= c.now {
			continue
		}
		collectionID := int64(binary.BigEndian.Uint64(k[8:16]))
		if name, ok := c.cache.LookupName(collectionID); ok {
			out[name] += weight(row)
		}
	}
	return out, nil
}

func (c *conn) GetCollectionID(ctx context.Context, name string) (int64, error) {
	if id, ok := c.cache.Lookup(name); ok {
		return id, nil
	}
	if !syncstorage.ValidCollectionName(name) {
		return 0, syncstorage.ErrInvalidCollectionName
	}
	raw := c.tx.Bucket(bucketCollections).Get([]byte(name))
	if raw == nil {
		return 0, syncstorage.ErrNotFound
	}
	id := int64(binary.BigEndian.Uint64(raw))
	c.cache.Publish(name, id)
	return id, nil
}

func (c *conn) CreateCollection(ctx context.Context, name string) (int64, error) {
	if !syncstorage.ValidCollectionName(name) {
		return 0, syncstorage.ErrInvalidCollectionName
	}
	if id, ok := c.cache.Lookup(name); ok {
		return id, nil
	}
	b := c.tx.Bucket(bucketCollections)
	if raw := b.Get([]byte(name)); raw != nil {
		return int64(binary.BigEndian.Uint64(raw)), nil
	}

	nextID := int64(syncstorage.FirstUserCollectionID)
	namesBucket := c.tx.Bucket(bucketCollectionNames)
	cur := namesBucket.Cursor()
	for k, _ := cur.Last(); k != nil; k, _ = cur.Prev() {
		id := int64(binary.BigEndian.Uint64(k))
		if id >= int64(syncstorage.FirstUserCollectionID) {
			nextID = id + 1
			break
		}
	}

	if err := b.Put([]byte(name), be64(nextID)); err != nil {
		return 0, syncstorage.Error.Wrap(err)
	}
	if err := namesBucket.Put(be64(nextID), []byte(name)); err != nil {
		return 0, syncstorage.Error.Wrap(err)
	}
	if c.newIDs == nil {
		c.newIDs = map[string]int64{}
	}
	c.newIDs[name] = nextID
	return nextID, nil
}

func (c *conn) UpdateCollection(ctx context.Context, collectionID int64, name string) (syncstorage.Timestamp, error) {
	row, _ := c.getUserCollection(collectionID)
	row.Modified = int64(c.now)
	if err := c.putUserCollection(collectionID, row); err != nil {
		return 0, err
	}
	return c.now, nil
}

func (c *conn) GetCollectionTimestamp(ctx context.Context, collectionID int64) (syncstorage.Timestamp, error) {
	row, ok := c.getUserCollection(collectionID)
	if !ok || row.Modified == 0 {
		return 0, syncstorage.ErrNotFound
	}
	return syncstorage.Timestamp(row.Modified), nil
}

func (c *conn) DeleteCollection(ctx context.Context, collectionID int64) (syncstorage.Timestamp, error) {
	b := c.tx.Bucket(bucketBSOs)
	cur := b.Cursor()
	prefix := bsoKeyPrefix(c.userID, collectionID)
	var keys [][]byte
	for k, _ := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = cur.Next() {
		keys = append(keys, append([]byte{}, k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return 0, syncstorage.Error.Wrap(err)
		}
	}

	if err := c.putUserCollection(collectionID, userCollectionRow{Modified: 0}); err != nil {
		return 0, err
	}
	storageRow, _ := c.getUserCollection(0)
	storageRow.Modified = int64(c.now)
	if err := c.putUserCollection(0, storageRow); err != nil {
		return 0, err
	}
	return c.now, nil
}

// GetQuotaUsage always recomputes from the raw bso range rather than
// trusting a cached counter: this backend has no separate (count,
// total_bytes) column to drift in the first place.
func (c *conn) GetQuotaUsage(ctx context.Context, collectionID int64) (syncstorage.Usage, error) {
	var usage syncstorage.Usage
	cur := c.tx.Bucket(bucketBSOs).Cursor()
	prefix := bsoKeyPrefix(c.userID, collectionID)
	for k, v := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cur.Next() {
		var row bsoRow
		_ = json.Unmarshal(v, &row)
		if row.Expiry <= int64(c.now) {
			continue
		}
		usage.Count++
		usage.TotalBytes += int64(len(row.Payload))
	}
	return usage, nil
}
