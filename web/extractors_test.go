// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package web

import (
	"context"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/syncstorage/syncstorage"
)

// fakeBackend satisfies syncstorage.Backend with decimal batch-id encoding,
// enough for the extractor helpers under test.
type fakeBackend struct{}

func (fakeBackend) Begin(ctx context.Context, userID int64, forWrite bool) (syncstorage.Conn, error) {
	return nil, syncstorage.Error.New("not implemented in fake")
}
func (fakeBackend) Quota() syncstorage.Quota      { return syncstorage.Quota{} }
func (fakeBackend) EncodeBatchID(id int64) string { return strconv.FormatInt(id, 10) }
func (fakeBackend) Close() error                  { return nil }
func (fakeBackend) DecodeBatchID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil
}

func extract(t *testing.T, contentType, body string) ([]syncstorage.PutBSO, map[string]string, error) {
	t.Helper()
	r := httptest.NewRequest("POST", "/1.5/1/storage/bookmarks", strings.NewReader(body))
	r.Header.Set("Content-Type", contentType)
	return extractBSOs(httptest.NewRecorder(), r, DefaultLimits())
}

func TestExtractBSOsParsesJSONArray(t *testing.T) {
	items, failed, err := extract(t, "application/json", `[{"id":"a","payload":"1"},{"id":"b","sortindex":3}]`)
	require.NoError(t, err)
	require.Empty(t, failed)
	require.Len(t, items, 2)
	require.Equal(t, "a", items[0].ID)
	require.EqualValues(t, 3, *items[1].SortIndex)
	require.Nil(t, items[1].Payload)
}

func TestExtractBSOsParsesNewlineFraming(t *testing.T) {
	body := `{"id":"a","payload":"1"}` + "\n" + `{"id":"b","payload":"2"}` + "\n"
	items, failed, err := extract(t, "application/newlines", body)
	require.NoError(t, err)
	require.Empty(t, failed)
	require.Len(t, items, 2)
}

func TestExtractBSOsMalformedNewlineFailsWholeRequest(t *testing.T) {
	body := `{"id":"a","payload":"1"}` + "\n" + `{not json` + "\n"
	_, _, err := extract(t, "application/newlines", body)
	require.Error(t, err)
}

func TestExtractBSOsDuplicateIDHardFails(t *testing.T) {
	_, _, err := extract(t, "application/json", `[{"id":"a","payload":"x"},{"id":"a","payload":"y"}]`)
	require.Error(t, err)
	require.EqualError(t, err, "Input BSO has duplicate ID")
}

func TestExtractBSOsMissingIDHardFails(t *testing.T) {
	_, _, err := extract(t, "application/json", `[{"payload":"x"}]`)
	require.Error(t, err)
	require.EqualError(t, err, "Input BSO has no ID")
}

func TestExtractBSOsOversizedPayloadIsPerIDFailure(t *testing.T) {
	big := strings.Repeat("x", int(DefaultLimits().MaxRecordPayloadBytes)+1)
	items, failed, err := extract(t, "application/json", `[{"id":"big","payload":"`+big+`"},{"id":"ok","payload":"y"}]`)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "retry bytes", failed["big"])
}

func TestBatchParamCreateAndCommit(t *testing.T) {
	r := httptest.NewRequest("POST", "/1.5/1/storage/bookmarks?batch=true", nil)
	_, isNew, commit, err := batchParam(r, fakeBackend{})
	require.NoError(t, err)
	require.True(t, isNew)
	require.False(t, commit)

	r = httptest.NewRequest("POST", "/1.5/1/storage/bookmarks?batch=12345&commit=true", nil)
	id, isNew, commit, err := batchParam(r, fakeBackend{})
	require.NoError(t, err)
	require.False(t, isNew)
	require.True(t, commit)
	require.EqualValues(t, 12345, id)
}

func TestBatchParamCommitWithoutBatchFails(t *testing.T) {
	r := httptest.NewRequest("POST", "/1.5/1/storage/bookmarks?commit=true", nil)
	_, _, _, err := batchParam(r, fakeBackend{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing_id")
}

func TestBatchParamRejectsUndecodableID(t *testing.T) {
	r := httptest.NewRequest("POST", "/1.5/1/storage/bookmarks?batch=not-a-batch", nil)
	_, _, _, err := batchParam(r, fakeBackend{})
	require.Error(t, err)
}

func TestCheckDeclaredSizes(t *testing.T) {
	limits := DefaultLimits()

	r := httptest.NewRequest("POST", "/1.5/1/storage/bookmarks", nil)
	r.Header.Set("X-Weave-Records", strconv.FormatInt(limits.MaxPostRecords, 10))
	require.NoError(t, limits.CheckDeclaredSizes(r))

	r.Header.Set("X-Weave-Total-Bytes", strconv.FormatInt(limits.MaxTotalBytes+1, 10))
	require.Error(t, limits.CheckDeclaredSizes(r))
}
