// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package syncstorage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectionCachePreSeedsWellKnownIDs(t *testing.T) {
	c := NewCollectionCache()

	id, ok := c.Lookup("clients")
	require.True(t, ok)
	require.EqualValues(t, 1, id)

	id, ok = c.Lookup("creditcards")
	require.True(t, ok)
	require.EqualValues(t, 13, id)

	name, ok := c.LookupName(7)
	require.True(t, ok)
	require.Equal(t, "bookmarks", name)
}

func TestCollectionCachePublishRoundTrips(t *testing.T) {
	c := NewCollectionCache()

	_, ok := c.Lookup("mycustom")
	require.False(t, ok)

	c.Publish("mycustom", 101)

	id, ok := c.Lookup("mycustom")
	require.True(t, ok)
	require.EqualValues(t, 101, id)

	name, ok := c.LookupName(101)
	require.True(t, ok)
	require.Equal(t, "mycustom", name)
}

func TestValidCollectionName(t *testing.T) {
	require.True(t, ValidCollectionName("bookmarks"))
	require.True(t, ValidCollectionName("my.custom-one_2"))
	require.False(t, ValidCollectionName(""))
	require.False(t, ValidCollectionName("has space"))
	require.False(t, ValidCollectionName("waaaaaaaaaaaaaaaaaaaaaaaaaaaaytoolong"))
}

func TestValidBSOID(t *testing.T) {
	require.True(t, ValidBSOID("b0"))
	require.True(t, ValidBSOID("{GUID-like-id}"))
	require.False(t, ValidBSOID(""))
	require.False(t, ValidBSOID("contains\nnewline"))
}
