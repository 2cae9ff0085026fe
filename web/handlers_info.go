// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package web

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleInfoCollections(w http.ResponseWriter, r *http.Request) {
	conn, err := s.begin(r, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer func() { _ = conn.Rollback(r.Context()) }()

	timestamps, err := conn.GetCollectionTimestamps(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	storageTS, err := conn.GetStorageTimestamp(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make(map[string]float64, len(timestamps))
	for name, ts := range timestamps {
		out[name] = ts.Seconds()
	}

	setWeaveTimestamp(w, storageTS)
	writeJSON(w, out)
}

func (s *Server) handleInfoCollectionCounts(w http.ResponseWriter, r *http.Request) {
	conn, err := s.begin(r, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer func() { _ = conn.Rollback(r.Context()) }()

	counts, err := conn.GetCollectionCounts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	setWeaveTimestamp(w, conn.Now())
	writeJSON(w, counts)
}

func (s *Server) handleInfoCollectionUsage(w http.ResponseWriter, r *http.Request) {
	conn, err := s.begin(r, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer func() { _ = conn.Rollback(r.Context()) }()

	usage, err := conn.GetCollectionUsage(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	// Wire shape is kbytes, not bytes.
	out := make(map[string]float64, len(usage))
	for name, bytes := range usage {
		out[name] = float64(bytes) / 1024.0
	}
	setWeaveTimestamp(w, conn.Now())
	writeJSON(w, out)
}

func (s *Server) handleInfoConfiguration(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]int64{
		"max_post_bytes":           s.limits.MaxPostBytes,
		"max_post_records":         s.limits.MaxPostRecords,
		"max_record_payload_bytes": s.limits.MaxRecordPayloadBytes,
		"max_request_bytes":        s.limits.MaxRequestBytes,
		"max_total_bytes":          s.limits.MaxTotalBytes,
		"max_total_records":        s.limits.MaxTotalRecords,
		"max_quota_limit":          s.limits.MaxQuotaLimit,
	})
}

func (s *Server) handleInfoQuota(w http.ResponseWriter, r *http.Request) {
	conn, err := s.begin(r, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer func() { _ = conn.Rollback(r.Context()) }()

	used, err := conn.GetStorageUsage(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	quota := s.backend.Quota()
	setWeaveTimestamp(w, conn.Now())
	if quota.Enabled && quota.Enforced {
		writeJSON(w, []float64{float64(used) / 1024.0, float64(quota.Size) / 1024.0})
		return
	}
	writeJSON(w, []interface{}{float64(used) / 1024.0, nil})
}

func (s *Server) handleDeleteStorage(w http.ResponseWriter, r *http.Request) {
	conn, err := s.begin(r, true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer func() { _ = conn.Rollback(r.Context()) }()

	if err := conn.DeleteStorage(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	if err := conn.Commit(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}

	setWeaveTimestamp(w, conn.Now())
	writeJSON(w, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
