// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package syncstorage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func i32Ptr(n int32) *int32   { return &n }
func i64Ptr(n int64) *int64   { return &n }

func TestApplyPutInsertDefaults(t *testing.T) {
	now := Timestamp(10_000)
	row, advances := ApplyPut(BSO{}, false, PutBSO{ID: "b0"}, now)

	require.True(t, advances)
	require.Equal(t, "", row.Payload)
	require.Nil(t, row.SortIndex)
	require.Equal(t, now, row.Modified)
	require.Equal(t, now.Add(DefaultBSOTTL), row.Expiry)
}

func TestApplyPutInsertWithFields(t *testing.T) {
	now := Timestamp(10_000)
	row, advances := ApplyPut(BSO{}, false, PutBSO{
		ID: "b0", Payload: strPtr("hello"), SortIndex: i32Ptr(3), TTLSecs: i64Ptr(60),
	}, now)

	require.True(t, advances)
	require.Equal(t, "hello", row.Payload)
	require.EqualValues(t, 3, *row.SortIndex)
	require.Equal(t, now.Add(60), row.Expiry)
}

func TestApplyPutTTLOnlyTouchKeepsModified(t *testing.T) {
	existing := BSO{ID: "b0", Payload: "hello", Modified: 5_000, Expiry: 9_000_000}
	now := Timestamp(10_000)

	row, advances := ApplyPut(existing, true, PutBSO{ID: "b0", TTLSecs: i64Ptr(100)}, now)

	require.False(t, advances, "a ttl-only touch must not advance the collection timestamp")
	require.Equal(t, Timestamp(5_000), row.Modified)
	require.Equal(t, now.Add(100), row.Expiry, "ttl is applied relative to now, not to the old modified")
	require.Equal(t, "hello", row.Payload)
}

func TestApplyPutPartialUpdateKeepsOtherFields(t *testing.T) {
	existing := BSO{ID: "b0", Payload: "old", SortIndex: i32Ptr(7), Modified: 5_000, Expiry: 9_000_000}
	now := Timestamp(10_000)

	row, advances := ApplyPut(existing, true, PutBSO{ID: "b0", Payload: strPtr("new")}, now)

	require.True(t, advances)
	require.Equal(t, "new", row.Payload)
	require.EqualValues(t, 7, *row.SortIndex)
	require.Equal(t, now, row.Modified)
	require.Equal(t, Timestamp(9_000_000), row.Expiry, "expiry survives when no ttl is supplied")
}

func TestApplyBatchCommitItemAlwaysAdvancesModified(t *testing.T) {
	existing := BSO{ID: "b0", Payload: "hello", Modified: 5_000, Expiry: 9_000_000}
	now := Timestamp(10_000)

	row := ApplyBatchCommitItem(existing, true, PutBSO{ID: "b0", TTLSecs: i64Ptr(100)}, now)

	require.Equal(t, now, row.Modified, "commit stamps now even on a ttl-only staged item")
	require.Equal(t, now.Add(100), row.Expiry)
}

func TestMergeIntoLaterFieldsWin(t *testing.T) {
	staged := PutBSO{ID: "b0", Payload: strPtr("first"), SortIndex: i32Ptr(1)}
	staged.MergeInto(PutBSO{ID: "b0", Payload: strPtr("second")})

	require.Equal(t, "second", *staged.Payload)
	require.EqualValues(t, 1, *staged.SortIndex, "a null override must not clobber the earlier value")
	require.Nil(t, staged.TTLSecs)
}

func TestNewBatchIDKeepsUserDigit(t *testing.T) {
	id := NewBatchID(Timestamp(123_450), 42)
	require.EqualValues(t, 123_452, id)
	require.EqualValues(t, 2, id%10)
}

func TestBatchExpiryIsLifetimeFromNow(t *testing.T) {
	now := Timestamp(1_000)
	b := Batch{ID: 1, Expiry: BatchExpiry(now)}
	require.False(t, b.Expired(now))
	require.False(t, b.Expired(now+BatchLifetimeMillis-10))
	require.True(t, b.Expired(now+BatchLifetimeMillis))
}
