// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package sql_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/syncstorage/syncstorage"
	"storj.io/syncstorage/syncstorage/backend/sql"
)

func openTestBackend(t *testing.T) *sql.Backend {
	t.Helper()
	backend, err := sql.NewSQLiteBackend(zaptest.NewLogger(t), ":memory:", syncstorage.Quota{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func strPtr(s string) *string { return &s }

func TestPutAndGetBSORoundTrips(t *testing.T) {
	ctx := context.Background()
	backend := openTestBackend(t)

	conn, err := backend.Begin(ctx, 1, true)
	require.NoError(t, err)
	defer func() { _ = conn.Rollback(ctx) }()

	collectionID, err := conn.CreateCollection(ctx, "clients")
	require.NoError(t, err)

	modified, err := conn.PutBSO(ctx, collectionID, syncstorage.PutBSO{
		ID:      "b0",
		Payload: strPtr("hello"),
	})
	require.NoError(t, err)

	bso, err := conn.GetBSO(ctx, collectionID, "b0")
	require.NoError(t, err)
	require.Equal(t, "hello", bso.Payload)
	require.Equal(t, modified, bso.Modified)
}

func TestTTLOnlyTouchDoesNotAdvanceModified(t *testing.T) {
	ctx := context.Background()
	backend := openTestBackend(t)

	conn, err := backend.Begin(ctx, 1, true)
	require.NoError(t, err)
	defer func() { _ = conn.Rollback(ctx) }()

	collectionID, err := conn.CreateCollection(ctx, "clients")
	require.NoError(t, err)

	firstModified, err := conn.PutBSO(ctx, collectionID, syncstorage.PutBSO{ID: "b0", Payload: strPtr("x")})
	require.NoError(t, err)

	ttl := int64(1000)
	_, err = conn.PutBSO(ctx, collectionID, syncstorage.PutBSO{ID: "b0", TTLSecs: &ttl})
	require.NoError(t, err)

	bso, err := conn.GetBSO(ctx, collectionID, "b0")
	require.NoError(t, err)
	require.Equal(t, firstModified, bso.Modified, "a ttl-only touch must not advance modified")
}

func TestBatchLifecycleCommitsAtomically(t *testing.T) {
	ctx := context.Background()
	backend := openTestBackend(t)

	conn, err := backend.Begin(ctx, 42, true)
	require.NoError(t, err)
	defer func() { _ = conn.Rollback(ctx) }()

	collectionID, err := conn.CreateCollection(ctx, "clients")
	require.NoError(t, err)

	batch, err := conn.CreateBatch(ctx, collectionID, []syncstorage.PutBSO{
		{ID: "b0", Payload: strPtr("p0")},
		{ID: "b1", Payload: strPtr("p1")},
	})
	require.NoError(t, err)

	ok, err := conn.ValidateBatch(ctx, collectionID, batch.ID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, conn.AppendToBatch(ctx, collectionID, batch.ID, []syncstorage.PutBSO{
		{ID: "b2", Payload: strPtr("p2")},
	}))

	result, err := conn.CommitBatch(ctx, collectionID, batch.ID)
	require.NoError(t, err)
	require.Empty(t, result.Failed)
	require.Equal(t, conn.Now(), result.Modified)

	for _, id := range []string{"b0", "b1", "b2"} {
		_, err := conn.GetBSO(ctx, collectionID, id)
		require.NoError(t, err, "id %s must be visible after commit", id)
	}

	ok, err = conn.ValidateBatch(ctx, collectionID, batch.ID)
	require.NoError(t, err)
	require.False(t, ok, "batch must no longer validate after commit deletes it")
}

func TestAppendToMissingBatchFails(t *testing.T) {
	ctx := context.Background()
	backend := openTestBackend(t)

	conn, err := backend.Begin(ctx, 1, true)
	require.NoError(t, err)
	defer func() { _ = conn.Rollback(ctx) }()

	collectionID, err := conn.CreateCollection(ctx, "clients")
	require.NoError(t, err)

	err = conn.AppendToBatch(ctx, collectionID, 999999, []syncstorage.PutBSO{{ID: "b0", Payload: strPtr("p0")}})
	require.ErrorIs(t, err, syncstorage.ErrBatchNotFound)
}

func TestIDsFilterCapsAt100(t *testing.T) {
	ctx := context.Background()
	backend := openTestBackend(t)

	conn, err := backend.Begin(ctx, 1, true)
	require.NoError(t, err)
	defer func() { _ = conn.Rollback(ctx) }()

	collectionID, err := conn.CreateCollection(ctx, "clients")
	require.NoError(t, err)

	ids := make([]string, 150)
	for i := range ids {
		ids[i] = string(rune('a')) + string(rune(i%26+'a'))
	}

	filter := syncstorage.BSOFilter{IDs: ids}
	filter.Normalize()
	require.Len(t, filter.IDs, syncstorage.MaxIDsPerQuery)

	result, err := conn.GetBSOs(ctx, collectionID, filter)
	require.NoError(t, err)
	require.Len(t, result.BSOs, 0)
}

func TestEnforcedQuotaRejectsOverLimitWrite(t *testing.T) {
	ctx := context.Background()
	backend, err := sql.NewSQLiteBackend(zaptest.NewLogger(t), ":memory:",
		syncstorage.Quota{Enabled: true, Enforced: true, Size: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	conn, err := backend.Begin(ctx, 1, true)
	require.NoError(t, err)
	defer func() { _ = conn.Rollback(ctx) }()

	collectionID, err := conn.CreateCollection(ctx, "clients")
	require.NoError(t, err)

	_, err = conn.PutBSO(ctx, collectionID, syncstorage.PutBSO{ID: "b0", Payload: strPtr("12345")})
	require.NoError(t, err)

	_, err = conn.PutBSO(ctx, collectionID, syncstorage.PutBSO{ID: "b1", Payload: strPtr("12345")})
	require.ErrorIs(t, err, syncstorage.ErrQuota)

	usage, err := conn.GetQuotaUsage(ctx, collectionID)
	require.NoError(t, err)
	require.EqualValues(t, 1, usage.Count)
	require.EqualValues(t, 5, usage.TotalBytes)
}

func TestDeleteBSOsMarksQuotaCountersStale(t *testing.T) {
	ctx := context.Background()
	backend, err := sql.NewSQLiteBackend(zaptest.NewLogger(t), ":memory:",
		syncstorage.Quota{Enabled: true, Enforced: false, Size: 1 << 30})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	conn, err := backend.Begin(ctx, 1, true)
	require.NoError(t, err)
	defer func() { _ = conn.Rollback(ctx) }()

	collectionID, err := conn.CreateCollection(ctx, "clients")
	require.NoError(t, err)

	_, err = conn.PutBSO(ctx, collectionID, syncstorage.PutBSO{ID: "b0", Payload: strPtr("aaaa")})
	require.NoError(t, err)
	_, err = conn.PutBSO(ctx, collectionID, syncstorage.PutBSO{ID: "b1", Payload: strPtr("bb")})
	require.NoError(t, err)

	_, err = conn.DeleteBSO(ctx, collectionID, "b0")
	require.NoError(t, err)

	// The poisoned counters force a recompute from the raw rows.
	usage, err := conn.GetQuotaUsage(ctx, collectionID)
	require.NoError(t, err)
	require.EqualValues(t, 1, usage.Count)
	require.EqualValues(t, 2, usage.TotalBytes)
}

func TestDeleteCollectionZeroesItsOwnTimestampButAdvancesStorage(t *testing.T) {
	ctx := context.Background()
	backend := openTestBackend(t)

	conn, err := backend.Begin(ctx, 1, true)
	require.NoError(t, err)
	defer func() { _ = conn.Rollback(ctx) }()

	collectionID, err := conn.CreateCollection(ctx, "clients")
	require.NoError(t, err)
	_, err = conn.PutBSO(ctx, collectionID, syncstorage.PutBSO{ID: "b0", Payload: strPtr("x")})
	require.NoError(t, err)

	ts, err := conn.DeleteCollection(ctx, collectionID)
	require.NoError(t, err)

	timestamps, err := conn.GetCollectionTimestamps(ctx)
	require.NoError(t, err)
	_, present := timestamps["clients"]
	require.False(t, present, "info/collections must omit a deleted collection")

	storageTS, err := conn.GetStorageTimestamp(ctx)
	require.NoError(t, err)
	require.Equal(t, ts, storageTS)
}
