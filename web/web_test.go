// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package web_test

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/syncstorage/hawk"
	"storj.io/syncstorage/syncstorage"
	"storj.io/syncstorage/syncstorage/backend/sql"
	"storj.io/syncstorage/web"
)

var masterSecret = []byte("test-master-secret-at-least-32-bytes-long")

func newTestServer(t *testing.T) (*web.Server, int64) {
	t.Helper()
	backend, err := sql.NewSQLiteBackend(zaptest.NewLogger(t), ":memory:", syncstorage.Quota{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	srv := web.NewServer(zaptest.NewLogger(t), backend, masterSecret, web.DefaultLimits(), nil)
	return srv, 42
}

// signRequest issues a HAWK token for uid, computes a valid MAC for the
// given request, and sets its Authorization header, mirroring what a
// real sync client does after fetching a token from the tokenserver.
func signRequest(t *testing.T, r *http.Request, uid int64, host string) {
	t.Helper()
	plaintext := hawk.Plaintext{
		Node:         host,
		FxaKid:       "0000000000001-abcd",
		FxaUID:       "fxa-uid",
		HashedFxaUID: "hashed",
		Expires:      time.Now().Add(time.Hour).Unix(),
		UID:          uid,
	}
	token, derivedSecretB64, err := hawk.Issue(masterSecret, plaintext)
	require.NoError(t, err)
	derivedSecret, err := base64.RawURLEncoding.DecodeString(derivedSecretB64)
	require.NoError(t, err)

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := "testnonce"
	normalized := hawk.NormalizedString(ts, nonce, r.Method, r.URL.RequestURI(), host, "443", "", "")
	mac := hawk.ComputeMAC(derivedSecret, normalized)
	macB64 := base64.StdEncoding.EncodeToString(mac)

	r.Header.Set("Authorization",
		`Hawk id="`+token+`", ts="`+ts+`", nonce="`+nonce+`", mac="`+macB64+`"`)
	r.Host = host
}

func TestPutThenGetBSORoundTrips(t *testing.T) {
	srv, uid := newTestServer(t)
	router := srv.Router()

	body := `{"payload":"hello world","sortindex":1}`
	put := httptest.NewRequest(http.MethodPut, "/1.5/"+strconv.FormatInt(uid, 10)+"/storage/bookmarks/item1", strings.NewReader(body))
	signRequest(t, put, uid, "node1.example.com")
	put.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, put)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	get := httptest.NewRequest(http.MethodGet, "/1.5/"+strconv.FormatInt(uid, 10)+"/storage/bookmarks/item1", nil)
	signRequest(t, get, uid, "node1.example.com")
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, get)
	require.Equal(t, http.StatusOK, w2.Code, w2.Body.String())

	var bso struct {
		ID       string  `json:"id"`
		Payload  string  `json:"payload"`
		Modified float64 `json:"modified"`
	}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &bso))
	require.Equal(t, "item1", bso.ID)
	require.Equal(t, "hello world", bso.Payload)
}

func TestRequestWithoutAuthorizationIsRejected(t *testing.T) {
	srv, uid := newTestServer(t)
	router := srv.Router()

	get := httptest.NewRequest(http.MethodGet, "/1.5/"+strconv.FormatInt(uid, 10)+"/storage/bookmarks/item1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, get)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestWithMismatchedUIDIsRejected(t *testing.T) {
	srv, uid := newTestServer(t)
	router := srv.Router()

	get := httptest.NewRequest(http.MethodGet, "/1.5/"+strconv.FormatInt(uid+1, 10)+"/storage/bookmarks/item1", nil)
	signRequest(t, get, uid, "node1.example.com") // token says uid, path says uid+1
	w := httptest.NewRecorder()
	router.ServeHTTP(w, get)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBatchCreateAppendCommit(t *testing.T) {
	srv, uid := newTestServer(t)
	router := srv.Router()
	base := "/1.5/" + strconv.FormatInt(uid, 10) + "/storage/bookmarks"

	create := httptest.NewRequest(http.MethodPost, base+"?batch=true", strings.NewReader(`[{"id":"a","payload":"1"}]`))
	signRequest(t, create, uid, "node1.example.com")
	create.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, create)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var createResp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &createResp))
	batchID, ok := createResp["batch"].(string)
	require.True(t, ok)

	commit := httptest.NewRequest(http.MethodPost, base+"?batch="+batchID+"&commit=true",
		strings.NewReader(`[{"id":"b","payload":"2"}]`))
	signRequest(t, commit, uid, "node1.example.com")
	commit.Header.Set("Content-Type", "application/json")
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, commit)
	require.Equal(t, http.StatusOK, w2.Code, w2.Body.String())

	var result struct {
		Modified float64           `json:"modified"`
		Success  []string          `json:"success"`
		Failed   map[string]string `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &result))
	require.ElementsMatch(t, []string{"b"}, result.Success,
		"the commit response reports only the ids this request appended")

	get := httptest.NewRequest(http.MethodGet, base+"/a", nil)
	signRequest(t, get, uid, "node1.example.com")
	w3 := httptest.NewRecorder()
	router.ServeHTTP(w3, get)
	require.Equal(t, http.StatusOK, w3.Code, "earlier staged ids still commit even though they aren't re-listed")
}

func TestInfoCollectionsReflectsWrites(t *testing.T) {
	srv, uid := newTestServer(t)
	router := srv.Router()

	put := httptest.NewRequest(http.MethodPut, "/1.5/"+strconv.FormatInt(uid, 10)+"/storage/bookmarks/item1", strings.NewReader(`{"payload":"x"}`))
	signRequest(t, put, uid, "node1.example.com")
	put.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(httptest.NewRecorder(), put)

	info := httptest.NewRequest(http.MethodGet, "/1.5/"+strconv.FormatInt(uid, 10)+"/info/collections", nil)
	signRequest(t, info, uid, "node1.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, info)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out map[string]float64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Contains(t, out, "bookmarks")
}

func TestLBHeartbeatReturnsOK(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()
	r := httptest.NewRequest(http.MethodGet, "/__lbheartbeat__", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
}
