// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package widecolumn

import (
	"context"
	"encoding/json"

	"storj.io/syncstorage/syncstorage"
)

// batchRow is the value stored under bucketBatches, keyed by batchKey.
type batchRow struct {
	Expiry int64 `json:"expiry"`
}

// stagedRow is the value stored under bucketBatchBSOs, keyed by stagedKey.
// Unlike bsoRow, every field is a pointer: a staged item may still be
// missing a payload/sortindex/ttl at append time, and the commit-time
// merge depends on telling "absent" apart from "zero."
type stagedRow struct {
	SortIndex *int32  `json:"sortindex,omitempty"`
	Payload   *string `json:"payload,omitempty"`
	TTLSecs   *int64  `json:"ttl,omitempty"`
}

func (c *conn) CreateBatch(ctx context.Context, collectionID int64, items []syncstorage.PutBSO) (syncstorage.Batch, error) {
	id := syncstorage.NewBatchID(c.now, c.userID)
	expiry := syncstorage.BatchExpiry(c.now)

	raw, err := json.Marshal(batchRow{Expiry: int64(expiry)})
	if err != nil {
		return syncstorage.Batch{}, syncstorage.Error.Wrap(err)
	}
	if err := c.tx.Bucket(bucketBatches).Put(batchKey(c.userID, collectionID, id), raw); err != nil {
		return syncstorage.Batch{}, syncstorage.Error.Wrap(err)
	}

	if err := c.appendStaged(collectionID, id, items); err != nil {
		return syncstorage.Batch{}, err
	}
	return syncstorage.Batch{ID: id, Expiry: expiry}, nil
}

func (c *conn) ValidateBatch(ctx context.Context, collectionID int64, batchID int64) (bool, error) {
	raw := c.tx.Bucket(bucketBatches).Get(batchKey(c.userID, collectionID, batchID))
	if raw == nil {
		return false, nil
	}
	var row batchRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return false, syncstorage.Error.Wrap(err)
	}
	return syncstorage.Timestamp(row.Expiry) > c.now, nil
}

func (c *conn) AppendToBatch(ctx context.Context, collectionID int64, batchID int64, items []syncstorage.PutBSO) error {
	ok, err := c.ValidateBatch(ctx, collectionID, batchID)
	if err != nil {
		return err
	}
	if !ok {
		return syncstorage.ErrBatchNotFound
	}
	return c.appendStaged(collectionID, batchID, items)
}

// appendStaged upserts staged items, merging duplicate bso_ids within the
// batch: later fields overwrite earlier non-null values, earlier fields
// survive null overrides.
func (c *conn) appendStaged(collectionID int64, batchID int64, items []syncstorage.PutBSO) error {
	b := c.tx.Bucket(bucketBatchBSOs)
	for _, item := range items {
		key := stagedKey(c.userID, collectionID, batchID, item.ID)
		existing := item
		if raw := b.Get(key); raw != nil {
			var prior stagedRow
			_ = json.Unmarshal(raw, &prior)
			merged := syncstorage.PutBSO{
				ID:        item.ID,
				SortIndex: prior.SortIndex,
				Payload:   prior.Payload,
				TTLSecs:   prior.TTLSecs,
			}
			merged.MergeInto(item)
			existing = merged
		}
		raw, err := json.Marshal(stagedRow{
			SortIndex: existing.SortIndex,
			Payload:   existing.Payload,
			TTLSecs:   existing.TTLSecs,
		})
		if err != nil {
			return syncstorage.Error.Wrap(err)
		}
		if err := b.Put(key, raw); err != nil {
			return syncstorage.Error.Wrap(err)
		}
	}
	return nil
}

func (c *conn) GetBatch(ctx context.Context, collectionID int64, batchID int64) ([]syncstorage.PutBSO, error) {
	var out []syncstorage.PutBSO
	cur := c.tx.Bucket(bucketBatchBSOs).Cursor()
	prefix := stagedKeyPrefix(c.userID, collectionID, batchID)
	for k, v := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cur.Next() {
		var row stagedRow
		if err := json.Unmarshal(v, &row); err != nil {
			return nil, syncstorage.Error.Wrap(err)
		}
		out = append(out, syncstorage.PutBSO{
			ID:        string(k[len(prefix):]),
			SortIndex: row.SortIndex,
			Payload:   row.Payload,
			TTLSecs:   row.TTLSecs,
		})
	}
	return out, nil
}

// CommitBatch atomically applies every staged item, advances the
// collection timestamp, and deletes the batch. Since this runs inside the
// single bbolt write transaction c.tx spans, a failure at any point
// propagates to the caller's Rollback and nothing becomes visible.
//
// The returned result carries only the commit timestamp: the response's
// success list names the ids the committing request itself appended, which
// only the caller knows, so it fills Success in.
func (c *conn) CommitBatch(ctx context.Context, collectionID int64, batchID int64) (syncstorage.PostResult, error) {
	ok, err := c.ValidateBatch(ctx, collectionID, batchID)
	if err != nil {
		return syncstorage.PostResult{}, err
	}
	if !ok {
		return syncstorage.PostResult{}, syncstorage.ErrBatchNotFound
	}

	staged, err := c.GetBatch(ctx, collectionID, batchID)
	if err != nil {
		return syncstorage.PostResult{}, err
	}

	result := syncstorage.NewPostResult(c.now)
	for _, item := range staged {
		existingRow, exists := c.getBSORow(collectionID, item.ID)
		existing := toBSO(item.ID, existingRow)
		if exists && syncstorage.Timestamp(existingRow.Expiry) <= c.now {
			exists = false
		}
		row := syncstorage.ApplyBatchCommitItem(existing, exists, item, c.now)

		if err := c.putBSORow(collectionID, item.ID, bsoRow{
			SortIndex: row.SortIndex,
			Payload:   row.Payload,
			Modified:  int64(row.Modified),
			Expiry:    int64(row.Expiry),
		}); err != nil {
			return syncstorage.PostResult{}, err
		}
	}

	if _, err := c.UpdateCollection(ctx, collectionID, ""); err != nil {
		return syncstorage.PostResult{}, err
	}
	if err := c.DeleteBatch(ctx, collectionID, batchID); err != nil {
		return syncstorage.PostResult{}, err
	}

	result.Modified = c.now
	return result, nil
}

func (c *conn) DeleteBatch(ctx context.Context, collectionID int64, batchID int64) error {
	b := c.tx.Bucket(bucketBatchBSOs)
	cur := b.Cursor()
	prefix := stagedKeyPrefix(c.userID, collectionID, batchID)
	var keys [][]byte
	for k, _ := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = cur.Next() {
		keys = append(keys, append([]byte{}, k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return syncstorage.Error.Wrap(err)
		}
	}
	return c.tx.Bucket(bucketBatches).Delete(batchKey(c.userID, collectionID, batchID))
}
