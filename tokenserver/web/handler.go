// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package web is the tokenserver's HTTP surface: a single
// `GET /1.0/{application}/{version}` endpoint authenticated via an upstream
// OAuth bearer token or BrowserID assertion.
package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"storj.io/syncstorage/tokenserver"
	"storj.io/syncstorage/tokenserver/identity"
)

// Handler serves the tokenserver issuance endpoint.
type Handler struct {
	log      *zap.Logger
	store    tokenserver.Store
	oauth    identity.Verifier
	browser  identity.Verifier
	cfg      tokenserver.IssueConfig
	nodeType string
}

// NewHandler returns a Handler wired to store and the two identity
// verifiers; either may be nil if that scheme isn't configured.
func NewHandler(log *zap.Logger, store tokenserver.Store, oauth, browserID identity.Verifier, cfg tokenserver.IssueConfig, nodeType string) *Handler {
	return &Handler{log: log.Named("tokenserver.web"), store: store, oauth: oauth, browser: browserID, cfg: cfg, nodeType: nodeType}
}

// Router builds the gorilla/mux router for this handler, mirrored from the
// teacher's `other_examples/.../syncUserHandler.go.go` path-parameter style.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/1.0/{application}/{version}", h.serve).Methods(http.MethodGet)
	return r
}

type tokenResponse struct {
	ID           string `json:"id"`
	Key          string `json:"key"`
	UID          int64  `json:"uid"`
	APIEndpoint  string `json:"api_endpoint"`
	Duration     int64  `json:"duration"`
	HashedFxaUID string `json:"hashed_fxa_uid"`
	HashAlg      string `json:"hashalg"`
	NodeType     string `json:"node_type"`
}

type errorBody struct {
	Status string      `json:"status"`
	Errors []errorItem `json:"errors"`
}

type errorItem struct {
	Location    string `json:"location"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	service := vars["application"] + "-" + vars["version"]

	claims, err := h.verify(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "invalid-credentials", "header", "Authorization", err.Error())
		return
	}

	conn, err := h.store.Begin(r.Context())
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "resource-unavailable", "internal", "store", err.Error())
		return
	}
	defer func() { _ = conn.Rollback(r.Context()) }()

	svc, err := conn.GetService(r.Context(), service)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "error", "url", "application", "unknown service")
		return
	}

	now := time.Now().UnixMilli()
	result, err := tokenserver.Issue(r.Context(), conn, svc, claims, now, h.cfg)
	if err != nil {
		switch err {
		case tokenserver.ErrInvalidGeneration:
			h.writeError(w, http.StatusUnauthorized, "invalid-generation", "body", "generation", err.Error())
		case tokenserver.ErrInvalidKeysChangedAt:
			h.writeError(w, http.StatusUnauthorized, "invalid-keysChangedAt", "body", "keys_changed_at", err.Error())
		case tokenserver.ErrServiceUnavailable:
			h.writeError(w, http.StatusServiceUnavailable, "resource-unavailable", "internal", "node", err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, "internal-error", "internal", "", err.Error())
		}
		return
	}

	if err := conn.Commit(r.Context()); err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal-error", "internal", "", err.Error())
		return
	}

	w.Header().Set("X-Timestamp", strconv.FormatInt(now/1000, 10))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tokenResponse{
		ID:           result.Token,
		Key:          result.DerivedSecret,
		UID:          result.UID,
		APIEndpoint:  result.APIEndpoint,
		Duration:     result.DurationSecs,
		HashedFxaUID: result.HashedFxaUID,
		HashAlg:      "sha256",
		NodeType:     h.nodeType,
	})
}

func (h *Handler) verify(r *http.Request) (identity.Claims, error) {
	auth := r.Header.Get("Authorization")
	switch {
	case strings.HasPrefix(auth, "Bearer "):
		if h.oauth == nil {
			return identity.Claims{}, identity.ErrVerificationFailed
		}
		return h.oauth.Verify(r.Context(), strings.TrimPrefix(auth, "Bearer "))
	case strings.HasPrefix(auth, "BrowserID "):
		if h.browser == nil {
			return identity.Claims{}, identity.ErrVerificationFailed
		}
		return h.browser.Verify(r.Context(), strings.TrimPrefix(auth, "BrowserID "))
	default:
		return identity.Claims{}, identity.ErrVerificationFailed
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, kind, location, name, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Status: kind,
		Errors: []errorItem{{Location: location, Name: name, Description: description}},
	})
}
