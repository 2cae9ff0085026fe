// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package sql

import (
	"context"
	gosql "database/sql"

	"storj.io/syncstorage/syncstorage"
)

func (c *conn) CreateBatch(ctx context.Context, collectionID int64, items []syncstorage.PutBSO) (syncstorage.Batch, error) {
	id := syncstorage.NewBatchID(c.now, c.userID)
	expiry := syncstorage.BatchExpiry(c.now)

	q := bind(c.dlct, "INSERT INTO batches (user_id, collection_id, batch_id, expiry) VALUES (%s, %s, %s, %s)", 4)
	if _, err := c.tx.ExecContext(ctx, q, c.userID, collectionID, id, int64(expiry)); err != nil {
		return syncstorage.Batch{}, syncstorage.Error.Wrap(err)
	}

	if err := c.appendStaged(ctx, collectionID, id, items); err != nil {
		return syncstorage.Batch{}, err
	}
	return syncstorage.Batch{ID: id, Expiry: expiry}, nil
}

func (c *conn) ValidateBatch(ctx context.Context, collectionID int64, batchID int64) (bool, error) {
	q := bind(c.dlct, "SELECT expiry FROM batches WHERE user_id = %s AND collection_id = %s AND batch_id = %s", 3)
	var expiry int64
	err := c.tx.QueryRowContext(ctx, q, c.userID, collectionID, batchID).Scan(&expiry)
	if err == gosql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, syncstorage.Error.Wrap(err)
	}
	return syncstorage.Timestamp(expiry) > c.now, nil
}

func (c *conn) AppendToBatch(ctx context.Context, collectionID int64, batchID int64, items []syncstorage.PutBSO) error {
	ok, err := c.ValidateBatch(ctx, collectionID, batchID)
	if err != nil {
		return err
	}
	if !ok {
		return syncstorage.ErrBatchNotFound
	}
	return c.appendStaged(ctx, collectionID, batchID, items)
}

// appendStaged upserts staged items, merging duplicate bso_ids within the
// batch: later fields overwrite earlier non-null values, earlier fields
// survive null overrides.
func (c *conn) appendStaged(ctx context.Context, collectionID int64, batchID int64, items []syncstorage.PutBSO) error {
	for _, item := range items {
		existing, ok, err := c.getStagedOne(ctx, collectionID, batchID, item.ID)
		if err != nil {
			return err
		}
		if ok {
			existing.MergeInto(item)
			item = existing
		}
		q := bind(c.dlct, c.upsertStagedSQL(), 7)
		var sortIndex, ttl interface{}
		if item.SortIndex != nil {
			sortIndex = *item.SortIndex
		}
		if item.TTLSecs != nil {
			ttl = *item.TTLSecs
		}
		var payload interface{}
		if item.Payload != nil {
			payload = *item.Payload
		}
		if _, err := c.tx.ExecContext(ctx, q, c.userID, collectionID, batchID, item.ID, sortIndex, payload, ttl); err != nil {
			return syncstorage.Error.Wrap(err)
		}
	}
	return nil
}

func (c *conn) upsertStagedSQL() string {
	switch c.dlct.name() {
	case "mysql":
		return "INSERT INTO batch_bsos (user_id, collection_id, batch_id, batch_bso_id, sortindex, payload, ttl) " +
			"VALUES (%s, %s, %s, %s, %s, %s, %s) " +
			"ON DUPLICATE KEY UPDATE sortindex = VALUES(sortindex), payload = VALUES(payload), ttl = VALUES(ttl)"
	default:
		return "INSERT INTO batch_bsos (user_id, collection_id, batch_id, batch_bso_id, sortindex, payload, ttl) " +
			"VALUES (%s, %s, %s, %s, %s, %s, %s) " +
			"ON CONFLICT (user_id, collection_id, batch_id, batch_bso_id) DO UPDATE SET " +
			"sortindex = EXCLUDED.sortindex, payload = EXCLUDED.payload, ttl = EXCLUDED.ttl"
	}
}

func (c *conn) getStagedOne(ctx context.Context, collectionID, batchID int64, id string) (syncstorage.PutBSO, bool, error) {
	q := bind(c.dlct, "SELECT sortindex, payload, ttl FROM batch_bsos WHERE user_id = %s AND collection_id = %s "+
		"AND batch_id = %s AND batch_bso_id = %s", 4)
	var sortIndex, ttl gosql.NullInt64
	var payload gosql.NullString
	err := c.tx.QueryRowContext(ctx, q, c.userID, collectionID, batchID, id).Scan(&sortIndex, &payload, &ttl)
	if err == gosql.ErrNoRows {
		return syncstorage.PutBSO{ID: id}, false, nil
	}
	if err != nil {
		return syncstorage.PutBSO{}, false, syncstorage.Error.Wrap(err)
	}
	out := syncstorage.PutBSO{ID: id}
	if sortIndex.Valid {
		v := int32(sortIndex.Int64)
		out.SortIndex = &v
	}
	if payload.Valid {
		out.Payload = &payload.String
	}
	if ttl.Valid {
		out.TTLSecs = &ttl.Int64
	}
	return out, true, nil
}

func (c *conn) GetBatch(ctx context.Context, collectionID int64, batchID int64) ([]syncstorage.PutBSO, error) {
	q := bind(c.dlct, "SELECT batch_bso_id, sortindex, payload, ttl FROM batch_bsos "+
		"WHERE user_id = %s AND collection_id = %s AND batch_id = %s", 3)
	rows, err := c.tx.QueryContext(ctx, q, c.userID, collectionID, batchID)
	if err != nil {
		return nil, syncstorage.Error.Wrap(err)
	}
	defer func() { _ = rows.Close() }()

	var out []syncstorage.PutBSO
	for rows.Next() {
		var item syncstorage.PutBSO
		var sortIndex, ttl gosql.NullInt64
		var payload gosql.NullString
		if err := rows.Scan(&item.ID, &sortIndex, &payload, &ttl); err != nil {
			return nil, syncstorage.Error.Wrap(err)
		}
		if sortIndex.Valid {
			v := int32(sortIndex.Int64)
			item.SortIndex = &v
		}
		if payload.Valid {
			item.Payload = &payload.String
		}
		if ttl.Valid {
			item.TTLSecs = &ttl.Int64
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// CommitBatch atomically applies every staged item, advances the
// collection timestamp, and deletes the batch. Since this runs inside the
// single transaction `c.tx` spans, a failure at any point propagates up to
// the caller's Rollback and nothing becomes visible.
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
	var deltaCount, deltaBytes int64
	for _, item := range staged {
		existing, existsErr := c.GetBSO(ctx, collectionID, item.ID)
		exists := existsErr == nil
		if existsErr != nil && existsErr != syncstorage.ErrNotFound {
			return syncstorage.PostResult{}, existsErr
		}
		row := syncstorage.ApplyBatchCommitItem(existing, exists, item, c.now)

		q := bind(c.dlct, c.dlct.upsertBSO(), 7)
		if _, err := c.tx.ExecContext(ctx, q, c.upsertBSOArgs(collectionID, row)...); err != nil {
			return syncstorage.PostResult{}, syncstorage.Error.Wrap(err)
		}
		deltaBytes += int64(len(row.Payload))
		if exists {
			deltaBytes -= int64(len(existing.Payload))
		} else {
			deltaCount++
		}
	}

	if _, err := c.UpdateCollection(ctx, collectionID, ""); err != nil {
		return syncstorage.PostResult{}, err
	}
	if err := c.bumpQuotaCounters(ctx, collectionID, deltaCount, deltaBytes); err != nil {
		return syncstorage.PostResult{}, err
	}

	if err := c.DeleteBatch(ctx, collectionID, batchID); err != nil {
		return syncstorage.PostResult{}, err
	}

	result.Modified = c.now
	return result, nil
}

func (c *conn) DeleteBatch(ctx context.Context, collectionID int64, batchID int64) error {
	q := bind(c.dlct, "DELETE FROM batch_bsos WHERE user_id = %s AND collection_id = %s AND batch_id = %s", 3)
	if _, err := c.tx.ExecContext(ctx, q, c.userID, collectionID, batchID); err != nil {
		return syncstorage.Error.Wrap(err)
	}
	q = bind(c.dlct, "DELETE FROM batches WHERE user_id = %s AND collection_id = %s AND batch_id = %s", 3)
	if _, err := c.tx.ExecContext(ctx, q, c.userID, collectionID, batchID); err != nil {
		return syncstorage.Error.Wrap(err)
	}
	return nil
}
