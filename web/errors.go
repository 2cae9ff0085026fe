// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package web is the sync storage HTTP surface: request routing, body
// extraction, and the mapping from internal errors to the wire error shape
// clients see.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"storj.io/syncstorage/hawk"
	"storj.io/syncstorage/syncstorage"
)

// apiError is an error this package constructs directly, already carrying
// its wire status/kind/location (as opposed to a syncstorage/hawk sentinel
// that classifyAndWrite translates).
type apiError struct {
	status      int
	kind        string
	location    string
	name        string
	description string
}

func (e *apiError) Error() string { return e.description }

func newAPIError(status int, kind, location, name, description string) *apiError {
	return &apiError{status: status, kind: kind, location: location, name: name, description: description}
}

// errorBody is the wire error shape.
type errorBody struct {
	Status string      `json:"status"`
	Errors []errorItem `json:"errors"`
}

type errorItem struct {
	Location    string `json:"location"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// writeError translates err into its wire status/kind pair and writes the
// error body. Sentinels from syncstorage/hawk are classified by identity,
// never by string content. 5xx-class errors are additionally handed to the
// server's ErrorReporter; 4xx errors are the client's problem and only
// surface as metrics.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := classifyAndWrite(w, err)
	if status >= http.StatusInternalServerError && s.reporter != nil {
		s.reporter.Report(err, map[string]string{"component": "web"})
	}
}

func classifyAndWrite(w http.ResponseWriter, err error) int {
	var ae *apiError
	if errors.As(err, &ae) {
		writeErrorBody(w, ae.status, ae.kind, ae.location, ae.name, ae.description)
		return ae.status
	}

	switch {
	case errors.Is(err, hawk.ErrInvalidCredentials), errors.Is(err, hawk.ErrMalformedHeader):
		writeErrorBody(w, http.StatusUnauthorized, "invalid-credentials", "header", "Authorization", err.Error())
		return http.StatusUnauthorized
	case errors.Is(err, hawk.ErrExpired):
		writeErrorBody(w, http.StatusUnauthorized, "invalid-timestamp", "header", "Authorization", err.Error())
		return http.StatusUnauthorized
	case errors.Is(err, syncstorage.ErrQuota):
		writeErrorBody(w, http.StatusForbidden, "quota-exceeded", "body", "", err.Error())
		return http.StatusForbidden
	case errors.Is(err, syncstorage.ErrBatchNotFound):
		writeErrorBody(w, http.StatusBadRequest, "BatchNotFound", "body", "batch", "batch ID not found")
		return http.StatusBadRequest
	case errors.Is(err, syncstorage.ErrInvalidCollectionName):
		writeErrorBody(w, http.StatusBadRequest, "error", "url", "collection", err.Error())
		return http.StatusBadRequest
	case errors.Is(err, syncstorage.ErrInvalidBSOID):
		writeErrorBody(w, http.StatusBadRequest, "error", "url", "bso", err.Error())
		return http.StatusBadRequest
	case errors.Is(err, syncstorage.ErrNotFound):
		writeErrorBody(w, http.StatusNotFound, "error", "url", "", err.Error())
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		writeErrorBody(w, http.StatusServiceUnavailable, "resource-unavailable", "internal", "", "storage pool saturated")
		return http.StatusServiceUnavailable
	default:
		writeErrorBody(w, http.StatusInternalServerError, "internal-error", "internal", "", err.Error())
		return http.StatusInternalServerError
	}
}

func writeErrorBody(w http.ResponseWriter, status int, kind, location, name, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Status: kind,
		Errors: []errorItem{{Location: location, Name: name, Description: description}},
	})
}
