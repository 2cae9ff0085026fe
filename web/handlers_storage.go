// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"storj.io/syncstorage/syncstorage"
)

// resolveCollectionID looks up (or, for write paths, creates) the
// collection id for the {collection} path segment, validating its shape
// first.
func (s *Server) resolveCollectionID(w http.ResponseWriter, r *http.Request, conn syncstorage.Conn, create bool) (int64, string, bool) {
	name := mux.Vars(r)["collection"]
	if !syncstorage.ValidCollectionName(name) {
		s.writeError(w, syncstorage.ErrInvalidCollectionName)
		return 0, name, false
	}

	var id int64
	var err error
	if create {
		id, err = conn.CreateCollection(r.Context(), name)
	} else {
		id, err = conn.GetCollectionID(r.Context(), name)
	}
	if err != nil {
		s.writeError(w, err)
		return 0, name, false
	}
	return id, name, true
}

func parseBSOFilter(r *http.Request) (syncstorage.BSOFilter, error) {
	q := r.URL.Query()
	var filter syncstorage.BSOFilter

	if ids := q.Get("ids"); ids != "" {
		filter.IDs = strings.Split(ids, ",")
	}
	if older := q.Get("older"); older != "" {
		sec, err := strconv.ParseFloat(older, 64)
		if err != nil {
			return filter, newAPIError(http.StatusBadRequest, "error", "url", "older", "invalid older")
		}
		ts := syncstorage.Timestamp(int64(sec * 1000))
		filter.Older = &ts
	}
	if newer := q.Get("newer"); newer != "" {
		sec, err := strconv.ParseFloat(newer, 64)
		if err != nil {
			return filter, newAPIError(http.StatusBadRequest, "error", "url", "newer", "invalid newer")
		}
		ts := syncstorage.Timestamp(int64(sec * 1000))
		filter.Newer = &ts
	}
	switch q.Get("sort") {
	case "newest":
		filter.Sort = syncstorage.SortNewest
	case "oldest":
		filter.Sort = syncstorage.SortOldest
	case "index":
		filter.Sort = syncstorage.SortIndex
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.ParseInt(limit, 10, 64)
		if err != nil {
			return filter, newAPIError(http.StatusBadRequest, "error", "url", "limit", "invalid limit")
		}
		filter.Limit = &n
	}
	filter.Offset = q.Get("offset")
	filter.Full = q.Get("full") == "1" || q.Get("full") == "true"
	filter.Normalize()
	return filter, nil
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.begin(r, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer func() { _ = conn.Rollback(r.Context()) }()

	collID, _, ok := s.resolveCollectionID(w, r, conn, false)
	if !ok {
		return
	}
	if err := conn.LockForRead(r.Context(), collID); err != nil {
		s.writeError(w, err)
		return
	}

	filter, err := parseBSOFilter(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if filter.Full {
		result, err := conn.GetBSOs(r.Context(), collID, filter)
		if err != nil {
			s.writeError(w, err)
			return
		}
		collTS, err := conn.GetCollectionTimestamp(r.Context(), collID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		setWeaveTimestamp(w, conn.Now())
		setLastModified(w, collTS)
		setWeaveRecords(w, len(result.BSOs))
		setWeaveNextOffset(w, result.NextOffset)
		writeJSON(w, bsosToWire(result.BSOs))
		return
	}

	ids, err := conn.GetBSOIDs(r.Context(), collID, filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	collTS, err := conn.GetCollectionTimestamp(r.Context(), collID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	setWeaveTimestamp(w, conn.Now())
	setLastModified(w, collTS)
	setWeaveRecords(w, len(ids))
	writeJSON(w, ids)
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.begin(r, true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer func() { _ = conn.Rollback(r.Context()) }()

	collID, _, ok := s.resolveCollectionID(w, r, conn, false)
	if !ok {
		return
	}
	if err := conn.LockForWrite(r.Context(), collID); err != nil {
		s.writeError(w, err)
		return
	}

	if ids := r.URL.Query().Get("ids"); ids != "" {
		ts, err := conn.DeleteBSOs(r.Context(), collID, strings.Split(ids, ","))
		if err != nil {
			s.writeError(w, err)
			return
		}
		if err := conn.Commit(r.Context()); err != nil {
			s.writeError(w, err)
			return
		}
		setWeaveTimestamp(w, ts)
		writeJSON(w, map[string]bool{"ok": true})
		return
	}

	ts, err := conn.DeleteCollection(r.Context(), collID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := conn.Commit(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	setWeaveTimestamp(w, ts)
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleGetBSO(w http.ResponseWriter, r *http.Request) {
	bsoID := mux.Vars(r)["bso"]
	if !syncstorage.ValidBSOID(bsoID) {
		s.writeError(w, syncstorage.ErrInvalidBSOID)
		return
	}

	conn, err := s.begin(r, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer func() { _ = conn.Rollback(r.Context()) }()

	collID, _, ok := s.resolveCollectionID(w, r, conn, false)
	if !ok {
		return
	}
	if err := conn.LockForRead(r.Context(), collID); err != nil {
		s.writeError(w, err)
		return
	}

	bso, err := conn.GetBSO(r.Context(), collID, bsoID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	setWeaveTimestamp(w, conn.Now())
	setLastModified(w, bso.Modified)
	writeJSON(w, bsoToWire(bso))
}

func (s *Server) handlePutBSO(w http.ResponseWriter, r *http.Request) {
	bsoID := mux.Vars(r)["bso"]
	if !syncstorage.ValidBSOID(bsoID) {
		s.writeError(w, syncstorage.ErrInvalidBSOID)
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.limits.MaxRequestBytes)
	put, err := decodeSinglePutBSO(body, bsoID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if put.Payload != nil && int64(len(*put.Payload)) > s.limits.MaxRecordPayloadBytes {
		s.writeError(w, newAPIError(http.StatusRequestEntityTooLarge, "size-limit-exceeded", "body", "payload", "retry bytes"))
		return
	}

	conn, err := s.begin(r, true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer func() { _ = conn.Rollback(r.Context()) }()

	collID, _, ok := s.resolveCollectionID(w, r, conn, true)
	if !ok {
		return
	}
	if err := conn.LockForWrite(r.Context(), collID); err != nil {
		s.writeError(w, err)
		return
	}

	if q := s.backend.Quota(); q.Enabled {
		usage, err := conn.GetQuotaUsage(r.Context(), collID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		var addBytes int64
		if put.Payload != nil {
			addBytes = int64(len(*put.Payload))
		}
		if err := syncstorage.CheckQuota(q, usage, addBytes); err != nil {
			s.writeError(w, err)
			return
		}
	}

	modified, err := conn.PutBSO(r.Context(), collID, put)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := conn.Commit(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}

	setWeaveTimestamp(w, modified)
	setLastModified(w, modified)
	writeJSON(w, modified.Seconds())
}

func (s *Server) handleDeleteBSO(w http.ResponseWriter, r *http.Request) {
	bsoID := mux.Vars(r)["bso"]
	if !syncstorage.ValidBSOID(bsoID) {
		s.writeError(w, syncstorage.ErrInvalidBSOID)
		return
	}

	conn, err := s.begin(r, true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer func() { _ = conn.Rollback(r.Context()) }()

	collID, _, ok := s.resolveCollectionID(w, r, conn, false)
	if !ok {
		return
	}
	if err := conn.LockForWrite(r.Context(), collID); err != nil {
		s.writeError(w, err)
		return
	}

	ts, err := conn.DeleteBSO(r.Context(), collID, bsoID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := conn.Commit(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}

	setWeaveTimestamp(w, ts)
	writeJSON(w, map[string]bool{"ok": true})
}
