// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package sql

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBase64BatchIDRoundTrips(t *testing.T) {
	for _, id := range []int64{0, 1, 123_456_789_012} {
		encoded := encodeBase64BatchID(id)
		decoded, ok := decodeBase64BatchID(encoded)
		require.True(t, ok, "id %d", id)
		require.Equal(t, id, decoded)
	}
}

func TestBase64BatchIDRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "!!!", "bm90YW51bWJlcg"} {
		_, ok := decodeBase64BatchID(s)
		require.False(t, ok, "input %q", s)
	}
}

func TestPostgresBatchIDRoundTrips(t *testing.T) {
	d := postgresDialect{}
	encoded := d.encodeBatchID(987_654_321)
	decoded, ok := d.decodeBatchID(encoded)
	require.True(t, ok)
	require.EqualValues(t, 987_654_321, decoded)
}

func TestSuffixedBatchIDRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "no-colon", "uuid:notanumber"} {
		_, ok := decodeSuffixedBatchID(s)
		require.False(t, ok, "input %q", s)
	}
}

func TestDialectBatchIDsDiffer(t *testing.T) {
	id := int64(42)
	require.NotEqual(t, mysqlDialect{}.encodeBatchID(id), postgresDialect{}.encodeBatchID(id))
	require.Equal(t, mysqlDialect{}.encodeBatchID(id), sqliteDialect{}.encodeBatchID(id))
}
