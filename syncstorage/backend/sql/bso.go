// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package sql

import (
	"context"
	gosql "database/sql"
	"fmt"
	"strconv"
	"strings"

	"storj.io/syncstorage/syncstorage"
)

func (c *conn) GetBSO(ctx context.Context, collectionID int64, id string) (syncstorage.BSO, error) {
	q := bind(c.dlct, "SELECT bso_id, sortindex, payload, modified, expiry FROM bsos "+
		"WHERE user_id = %s AND collection_id = %s AND bso_id = %s AND expiry > %s", 4)
	row := c.tx.QueryRowContext(ctx, q, c.userID, collectionID, id, int64(c.now))
	return scanBSO(row)
}

func scanBSO(row *gosql.Row) (syncstorage.BSO, error) {
	var bso syncstorage.BSO
	var sortIndex gosql.NullInt64
	var modified, expiry int64
	if err := row.Scan(&bso.ID, &sortIndex, &bso.Payload, &modified, &expiry); err != nil {
		if err == gosql.ErrNoRows {
			return bso, syncstorage.ErrNotFound
		}
		return bso, syncstorage.Error.Wrap(err)
	}
	if sortIndex.Valid {
		v := int32(sortIndex.Int64)
		bso.SortIndex = &v
	}
	bso.Modified = syncstorage.Timestamp(modified)
	bso.Expiry = syncstorage.Timestamp(expiry)
	return bso, nil
}

func (c *conn) GetBSOTimestamp(ctx context.Context, collectionID int64, id string) (syncstorage.Timestamp, error) {
	bso, err := c.GetBSO(ctx, collectionID, id)
	if err != nil {
		return 0, err
	}
	return bso.Modified, nil
}

// buildFilterQuery renders the WHERE/ORDER/LIMIT clause shared by GetBSOs
// and GetBSOIDs: older/newer are exclusive bounds on modified, ids cap at
// 100 with extras silently dropped (syncstorage.BSOFilter.Normalize does
// the capping before this is called), limit<0 means unlimited and
// otherwise limit+1 rows are fetched to compute `more`.
func (c *conn) buildFilterQuery(collectionID int64, columns string, filter syncstorage.BSOFilter) (string, []interface{}) {
	args := []interface{}{c.userID, collectionID, int64(c.now)}
	where := []string{"user_id = %s", "collection_id = %s", "expiry > %s"}

	if len(filter.IDs) > 0 {
		placeholders := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			args = append(args, id)
			placeholders[i] = "%s"
		}
		where = append(where, fmt.Sprintf("bso_id IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.Older != nil {
		args = append(args, int64(*filter.Older))
		where = append(where, "modified < %s")
	}
	if filter.Newer != nil {
		args = append(args, int64(*filter.Newer))
		where = append(where, "modified > %s")
	}

	order := ""
	switch filter.Sort {
	case syncstorage.SortNewest:
		order = " ORDER BY modified DESC, bso_id DESC"
	case syncstorage.SortOldest:
		order = " ORDER BY modified ASC, bso_id ASC"
	case syncstorage.SortIndex:
		order = " ORDER BY sortindex DESC, bso_id DESC"
	}

	limitClause := ""
	if filter.Limit != nil && *filter.Limit >= 0 {
		limitClause = fmt.Sprintf(" LIMIT %d", *filter.Limit+1)
		if filter.Offset != "" {
			if off, err := strconv.ParseInt(filter.Offset, 10, 64); err == nil {
				limitClause += fmt.Sprintf(" OFFSET %d", off)
			}
		}
	}

	query := fmt.Sprintf("SELECT %s FROM bsos WHERE %s%s%s", columns, strings.Join(where, " AND "), order, limitClause)
	return bind(c.dlct, query, len(args)), args
}

func (c *conn) GetBSOs(ctx context.Context, collectionID int64, filter syncstorage.BSOFilter) (syncstorage.BSOQueryResult, error) {
	filter.Normalize()
	query, args := c.buildFilterQuery(collectionID, "bso_id, sortindex, payload, modified, expiry", filter)
	rows, err := c.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return syncstorage.BSOQueryResult{}, syncstorage.Error.Wrap(err)
	}
	defer func() { _ = rows.Close() }()

	var result syncstorage.BSOQueryResult
	for rows.Next() {
		var bso syncstorage.BSO
		var sortIndex gosql.NullInt64
		var modified, expiry int64
		if err := rows.Scan(&bso.ID, &sortIndex, &bso.Payload, &modified, &expiry); err != nil {
			return syncstorage.BSOQueryResult{}, syncstorage.Error.Wrap(err)
		}
		if sortIndex.Valid {
			v := int32(sortIndex.Int64)
			bso.SortIndex = &v
		}
		bso.Modified = syncstorage.Timestamp(modified)
		bso.Expiry = syncstorage.Timestamp(expiry)
		result.BSOs = append(result.BSOs, bso)
	}
	if err := rows.Err(); err != nil {
		return syncstorage.BSOQueryResult{}, syncstorage.Error.Wrap(err)
	}

	if filter.Limit != nil && *filter.Limit >= 0 && int64(len(result.BSOs)) > *filter.Limit {
		result.BSOs = result.BSOs[:*filter.Limit]
		result.More = true
		offset := int64(0)
		if filter.Offset != "" {
			offset, _ = strconv.ParseInt(filter.Offset, 10, 64)
		}
		result.NextOffset = strconv.FormatInt(offset+*filter.Limit, 10)
	}
	return result, nil
}

func (c *conn) GetBSOIDs(ctx context.Context, collectionID int64, filter syncstorage.BSOFilter) ([]string, error) {
	filter.Normalize()
	query, args := c.buildFilterQuery(collectionID, "bso_id", filter)
	rows, err := c.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, syncstorage.Error.Wrap(err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, syncstorage.Error.Wrap(err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (c *conn) upsertBSOArgs(collectionID int64, row syncstorage.BSO) []interface{} {
	var sortIndex interface{}
	if row.SortIndex != nil {
		sortIndex = *row.SortIndex
	}
	return []interface{}{c.userID, collectionID, row.ID, sortIndex, row.Payload, int64(row.Modified), int64(row.Expiry)}
}

func (c *conn) PutBSO(ctx context.Context, collectionID int64, bso syncstorage.PutBSO) (syncstorage.Timestamp, error) {
	existing, err := c.GetBSO(ctx, collectionID, bso.ID)
	ok := true
	if err == syncstorage.ErrNotFound {
		ok = false
	} else if err != nil {
		return 0, err
	}

	row, advances := syncstorage.ApplyPut(existing, ok, bso, c.now)

	if err := c.enforceQuotaForPut(ctx, collectionID, existing, ok, row); err != nil {
		return 0, err
	}

	q := bind(c.dlct, c.dlct.upsertBSO(), 7)
	if _, err := c.tx.ExecContext(ctx, q, c.upsertBSOArgs(collectionID, row)...); err != nil {
		return 0, syncstorage.Error.Wrap(err)
	}

	if advances {
		if _, err := c.UpdateCollection(ctx, collectionID, ""); err != nil {
			return 0, err
		}
		deltaCount := int64(0)
		deltaBytes := int64(len(row.Payload))
		if ok {
			deltaBytes -= int64(len(existing.Payload))
		} else {
			deltaCount = 1
		}
		if err := c.bumpQuotaCounters(ctx, collectionID, deltaCount, deltaBytes); err != nil {
			return 0, err
		}
	}
	return c.now, nil
}

// bumpQuotaCounters adjusts the cached (count, total_bytes) after a write.
// Only maintained while quota is enabled; the counters stay zero otherwise.
func (c *conn) bumpQuotaCounters(ctx context.Context, collectionID, deltaCount, deltaBytes int64) error {
	if !c.quota.Enabled || (deltaCount == 0 && deltaBytes == 0) {
		return nil
	}
	q := bind(c.dlct, "UPDATE user_collections SET count = count + %s, total_bytes = total_bytes + %s "+
		"WHERE user_id = %s AND collection_id = %s", 4)
	if _, err := c.tx.ExecContext(ctx, q, deltaCount, deltaBytes, c.userID, collectionID); err != nil {
		return syncstorage.Error.Wrap(err)
	}
	return nil
}

// markQuotaStale poisons the cached counters so the next GetQuotaUsage
// recomputes from the bsos table. Used by delete paths, which would
// otherwise need the byte size of every row they removed.
func (c *conn) markQuotaStale(ctx context.Context, collectionID int64) error {
	if !c.quota.Enabled {
		return nil
	}
	q := bind(c.dlct, "UPDATE user_collections SET count = -1, total_bytes = -1 "+
		"WHERE user_id = %s AND collection_id = %s", 2)
	if _, err := c.tx.ExecContext(ctx, q, c.userID, collectionID); err != nil {
		return syncstorage.Error.Wrap(err)
	}
	return nil
}

func (c *conn) enforceQuotaForPut(ctx context.Context, collectionID int64, existing syncstorage.BSO, existed bool, row syncstorage.BSO) error {
	if !c.quota.Enabled {
		return nil
	}
	usage, err := c.GetQuotaUsage(ctx, collectionID)
	if err != nil {
		return err
	}
	delta := int64(len(row.Payload))
	if existed {
		delta -= int64(len(existing.Payload))
	}
	return syncstorage.CheckQuota(c.quota, usage, delta)
}

func (c *conn) DeleteBSO(ctx context.Context, collectionID int64, id string) (syncstorage.Timestamp, error) {
	return c.DeleteBSOs(ctx, collectionID, []string{id})
}

func (c *conn) DeleteBSOs(ctx context.Context, collectionID int64, ids []string) (syncstorage.Timestamp, error) {
	if len(ids) == 0 {
		return c.now, nil
	}
	placeholders := make([]string, len(ids))
	args := []interface{}{c.userID, collectionID}
	for i, id := range ids {
		args = append(args, id)
		placeholders[i] = "%s"
	}
	query := fmt.Sprintf("DELETE FROM bsos WHERE user_id = %%s AND collection_id = %%s AND bso_id IN (%s)",
		strings.Join(placeholders, ", "))
	q := bind(c.dlct, query, len(args))
	if _, err := c.tx.ExecContext(ctx, q, args...); err != nil {
		return 0, syncstorage.Error.Wrap(err)
	}
	ts, err := c.UpdateCollection(ctx, collectionID, "")
	if err != nil {
		return 0, err
	}
	if err := c.markQuotaStale(ctx, collectionID); err != nil {
		return 0, err
	}
	return ts, nil
}

func (c *conn) PostBSOs(ctx context.Context, collectionID int64, items []syncstorage.PutBSO) (syncstorage.PostResult, error) {
	result := syncstorage.NewPostResult(c.now)
	for _, item := range items {
		if !syncstorage.ValidBSOID(item.ID) {
			result.Failed[item.ID] = "invalid id"
			continue
		}
		if item.Payload != nil && len(*item.Payload) > maxRecordPayloadBytesDefault {
			result.Failed[item.ID] = "retry bytes"
			continue
		}
		if _, err := c.PutBSO(ctx, collectionID, item); err != nil {
			result.Failed[item.ID] = err.Error()
			continue
		}
		result.Success = append(result.Success, item.ID)
	}
	result.Modified = c.now
	return result, nil
}

// maxRecordPayloadBytesDefault is the backend's own payload-size backstop;
// the web layer normally enforces its configured limit earlier.
const maxRecordPayloadBytesDefault = 2 * 1024 * 1024

func (c *conn) GetQuotaUsage(ctx context.Context, collectionID int64) (syncstorage.Usage, error) {
	q := bind(c.dlct, "SELECT count, total_bytes FROM user_collections WHERE user_id = %s AND collection_id = %s", 2)
	var count, totalBytes gosql.NullInt64
	err := c.tx.QueryRowContext(ctx, q, c.userID, collectionID).Scan(&count, &totalBytes)
	if err == gosql.ErrNoRows {
		return syncstorage.Usage{}, nil
	}
	if err != nil {
		return syncstorage.Usage{}, syncstorage.Error.Wrap(err)
	}
	usage := syncstorage.Usage{Count: count.Int64, TotalBytes: totalBytes.Int64}
	if syncstorage.DriftDetected(usage) {
		return c.calcQuotaUsage(ctx, collectionID)
	}
	return usage, nil
}

// calcQuotaUsage recomputes (count, total_bytes) straight from the bsos
// table, the recovery path for drifted cached counters.
func (c *conn) calcQuotaUsage(ctx context.Context, collectionID int64) (syncstorage.Usage, error) {
	q := bind(c.dlct, "SELECT COUNT(*), COALESCE(SUM(LENGTH(payload)), 0) FROM bsos "+
		"WHERE user_id = %s AND collection_id = %s AND expiry > %s", 3)
	var usage syncstorage.Usage
	err := c.tx.QueryRowContext(ctx, q, c.userID, collectionID, int64(c.now)).Scan(&usage.Count, &usage.TotalBytes)
	if err != nil {
		return syncstorage.Usage{}, syncstorage.Error.Wrap(err)
	}
	return usage, nil
}
