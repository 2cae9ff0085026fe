// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package web_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/syncstorage/tokenserver"
	"storj.io/syncstorage/tokenserver/identity"
	sqlstore "storj.io/syncstorage/tokenserver/store/sql"
	"storj.io/syncstorage/tokenserver/web"
)

// staticVerifier returns fixed claims for any credential, standing in for
// the upstream FxA verifier.
type staticVerifier struct {
	claims identity.Claims
}

func (v staticVerifier) Verify(ctx context.Context, credential string) (identity.Claims, error) {
	return v.claims, nil
}

func newTestHandler(t *testing.T) *web.Handler {
	t.Helper()
	ctx := context.Background()

	store, err := sqlstore.NewSQLiteStore(zaptest.NewLogger(t), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	serviceID, err := store.AddService(ctx, "sync-1.5", "{node}/1.5/{uid}")
	require.NoError(t, err)
	_, err = store.AddNode(ctx, tokenserver.Node{
		ServiceID: serviceID, Hostname: "https://node1.example.com",
		Capacity: 100, Available: 10,
	})
	require.NoError(t, err)

	gen := int64(3)
	verifier := staticVerifier{claims: identity.Claims{
		FxaUID: "fxa-uid-1", Email: "user@example.com", ClientState: "abcd1234", Generation: &gen,
	}}

	cfg := tokenserver.IssueConfig{
		MasterSecret:      []byte("test-master-secret-at-least-32b"),
		Assignment:        tokenserver.AssignmentConfig{ReleaseRate: 0.1},
		TokenDurationSecs: 3600,
		TokenserverOrigin: "test",
	}
	return web.NewHandler(zaptest.NewLogger(t), store, verifier, nil, cfg, "mysql")
}

func TestIssuanceEndpointMintsToken(t *testing.T) {
	h := newTestHandler(t)
	router := h.Router()

	r := httptest.NewRequest(http.MethodGet, "/1.0/sync/1.5", nil)
	r.Header.Set("Authorization", "Bearer some-oauth-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	require.NotEmpty(t, w.Header().Get("X-Timestamp"))

	var resp struct {
		ID          string `json:"id"`
		Key         string `json:"key"`
		UID         int64  `json:"uid"`
		APIEndpoint string `json:"api_endpoint"`
		Duration    int64  `json:"duration"`
		HashAlg     string `json:"hashalg"`
		NodeType    string `json:"node_type"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	require.NotEmpty(t, resp.Key)
	require.Contains(t, resp.APIEndpoint, "node1.example.com/1.5/")
	require.EqualValues(t, 3600, resp.Duration)
	require.Equal(t, "sha256", resp.HashAlg)
	require.Equal(t, "mysql", resp.NodeType)
}

func TestIssuanceEndpointRejectsMissingAuthorization(t *testing.T) {
	h := newTestHandler(t)
	router := h.Router()

	r := httptest.NewRequest(http.MethodGet, "/1.0/sync/1.5", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "invalid-credentials", body.Status)
}

func TestIssuanceEndpointRejectsUnknownService(t *testing.T) {
	h := newTestHandler(t)
	router := h.Router()

	r := httptest.NewRequest(http.MethodGet, "/1.0/unknown/9.9", nil)
	r.Header.Set("Authorization", "Bearer some-oauth-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
