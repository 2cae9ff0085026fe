// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package widecolumn

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"

	"storj.io/syncstorage/syncstorage"
)

// bsoRow is the JSON-encoded value stored under bucketBSOs. Keys are
// userID|collectionID|bsoID (see bsoKey), so a prefix scan of
// bsoKeyPrefix(userID, collectionID) visits every row of one collection in
// bso_id order — the ordered-range-scan shape a wide-column engine gives
// natively, which is why filtering/sorting below starts from that scan
// instead of a secondary index.
type bsoRow struct {
	SortIndex *int32 `json:"sortindex,omitempty"`
	Payload   string `json:"payload"`
	Modified  int64  `json:"modified"`
	Expiry    int64  `json:"expiry"`
}

func decodeBSOKey(key []byte) string {
	return string(key[17:]) // 8 (userID) + 8 (collectionID) + 1 ('|')
}

func (c *conn) getBSORow(collectionID int64, id string) (bsoRow, bool) {
	raw := c.tx.Bucket(bucketBSOs).Get(bsoKey(c.userID, collectionID, id))
	if raw == nil {
		return bsoRow{}, false
	}
	var row bsoRow
	_ = json.Unmarshal(raw, &row)
	return row, true
}

func (c *conn) putBSORow(collectionID int64, id string, row bsoRow) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return syncstorage.Error.Wrap(err)
	}
	return c.tx.Bucket(bucketBSOs).Put(bsoKey(c.userID, collectionID, id), raw)
}

func toBSO(id string, row bsoRow) syncstorage.BSO {
	return syncstorage.BSO{
		ID:        id,
		SortIndex: row.SortIndex,
		Payload:   row.Payload,
		Modified:  syncstorage.Timestamp(row.Modified),
		Expiry:    syncstorage.Timestamp(row.Expiry),
	}
}

func (c *conn) GetBSO(ctx context.Context, collectionID int64, id string) (syncstorage.BSO, error) {
	row, ok := c.getBSORow(collectionID, id)
	if !ok || syncstorage.Timestamp(row.Expiry) <= c.now {
		return syncstorage.BSO{}, syncstorage.ErrNotFound
	}
	return toBSO(id, row), nil
}

func (c *conn) GetBSOTimestamp(ctx context.Context, collectionID int64, id string) (syncstorage.Timestamp, error) {
	bso, err := c.GetBSO(ctx, collectionID, id)
	if err != nil {
		return 0, err
	}
	return bso.Modified, nil
}

// scanCollection walks the ordered bso_id range for (userID, collectionID)
// and returns every unexpired row, matching what buildFilterQuery's WHERE
// clause does on the SQL backends before the IDs/older/newer predicates are
// applied.
func (c *conn) scanCollection(collectionID int64) []syncstorage.BSO {
	var out []syncstorage.BSO
	cur := c.tx.Bucket(bucketBSOs).Cursor()
	prefix := bsoKeyPrefix(c.userID, collectionID)
	for k, v := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cur.Next() {
		var row bsoRow
		_ = json.Unmarshal(v, &row)
		if syncstorage.Timestamp(row.Expiry) <= c.now {
			continue
		}
		out = append(out, toBSO(decodeBSOKey(k), row))
	}
	return out
}

func matchesFilter(b syncstorage.BSO, filter syncstorage.BSOFilter) bool {
	if len(filter.IDs) > 0 {
		found := false
		for _, id := range filter.IDs {
			if id == b.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Older != nil && !(b.Modified < *filter.Older) {
		return false
	}
	if filter.Newer != nil && !(b.Modified > *filter.Newer) {
		return false
	}
	return true
}

func sortBSOs(bsos []syncstorage.BSO, order syncstorage.SortOrder) {
	switch order {
	case syncstorage.SortNewest:
		sort.Slice(bsos, func(i, j int) bool {
			if bsos[i].Modified != bsos[j].Modified {
				return bsos[i].Modified > bsos[j].Modified
			}
			return bsos[i].ID > bsos[j].ID
		})
	case syncstorage.SortOldest:
		sort.Slice(bsos, func(i, j int) bool {
			if bsos[i].Modified != bsos[j].Modified {
				return bsos[i].Modified < bsos[j].Modified
			}
			return bsos[i].ID < bsos[j].ID
		})
	case syncstorage.SortIndex:
		sort.Slice(bsos, func(i, j int) bool {
			si, sj := int32(0), int32(0)
			if bsos[i].SortIndex != nil {
				si = *bsos[i].SortIndex
			}
			if bsos[j].SortIndex != nil {
				sj = *bsos[j].SortIndex
			}
			if si != sj {
				return si > sj
			}
			return bsos[i].ID > bsos[j].ID
		})
	default:
		sort.Slice(bsos, func(i, j int) bool { return bsos[i].ID < bsos[j].ID })
	}
}

func (c *conn) GetBSOs(ctx context.Context, collectionID int64, filter syncstorage.BSOFilter) (syncstorage.BSOQueryResult, error) {
	filter.Normalize()
	all := c.scanCollection(collectionID)
	var matched []syncstorage.BSO
	for _, b := range all {
		if matchesFilter(b, filter) {
			matched = append(matched, b)
		}
	}
	sortBSOs(matched, filter.Sort)

	var result syncstorage.BSOQueryResult
	offset := int64(0)
	if filter.Offset != "" {
		offset, _ = strconv.ParseInt(filter.Offset, 10, 64)
	}
	if offset > int64(len(matched)) {
		offset = int64(len(matched))
	}
	matched = matched[offset:]

	if filter.Limit != nil && *filter.Limit >= 0 {
		if int64(len(matched)) > *filter.Limit {
			result.More = true
			result.NextOffset = strconv.FormatInt(offset+*filter.Limit, 10)
			matched = matched[:*filter.Limit]
		}
	}
	result.BSOs = matched
	return result, nil
}

func (c *conn) GetBSOIDs(ctx context.Context, collectionID int64, filter syncstorage.BSOFilter) ([]string, error) {
	result, err := c.GetBSOs(ctx, collectionID, filter)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(result.BSOs))
	for i, b := range result.BSOs {
		ids[i] = b.ID
	}
	return ids, nil
}

func (c *conn) PutBSO(ctx context.Context, collectionID int64, bso syncstorage.PutBSO) (syncstorage.Timestamp, error) {
	existing, ok := c.getBSORow(collectionID, bso.ID)
	existingBSO := toBSO(bso.ID, existing)
	if ok && syncstorage.Timestamp(existing.Expiry) <= c.now {
		ok = false // expired rows don't count as "existing" for merge purposes
	}

	row, advances := syncstorage.ApplyPut(existingBSO, ok, bso, c.now)

	if err := c.enforceQuotaForPut(ctx, collectionID, existingBSO, ok, row); err != nil {
		return 0, err
	}

	if err := c.putBSORow(collectionID, bso.ID, bsoRow{
		SortIndex: row.SortIndex,
		Payload:   row.Payload,
		Modified:  int64(row.Modified),
		Expiry:    int64(row.Expiry),
	}); err != nil {
		return 0, err
	}

	if advances {
		if _, err := c.UpdateCollection(ctx, collectionID, ""); err != nil {
			return 0, err
		}
	}
	return c.now, nil
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
	b := c.tx.Bucket(bucketBSOs)
	for _, id := range ids {
		if err := b.Delete(bsoKey(c.userID, collectionID, id)); err != nil {
			return 0, syncstorage.Error.Wrap(err)
		}
	}
	return c.UpdateCollection(ctx, collectionID, "")
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

const maxRecordPayloadBytesDefault = 2 * 1024 * 1024
