// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package web

import (
	"net/http"

	"storj.io/syncstorage/syncstorage"
)

// handlePostCollection either creates or appends to a batch (via the
// `batch`/`commit` query params) or, absent those, performs a direct
// multi-put against the collection.
func (s *Server) handlePostCollection(w http.ResponseWriter, r *http.Request) {
	if err := s.limits.CheckDeclaredSizes(r); err != nil {
		s.writeError(w, err)
		return
	}

	batchID, isNewBatch, commit, err := batchParam(r, s.backend)
	if err != nil {
		s.writeError(w, err)
		return
	}

	items, failed, err := extractBSOs(w, r, s.limits)
	if err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := s.begin(r, true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer func() { _ = conn.Rollback(r.Context()) }()

	collID, collName, ok := s.resolveCollectionID(w, r, conn, true)
	if !ok {
		return
	}
	if err := conn.LockForWrite(r.Context(), collID); err != nil {
		s.writeError(w, err)
		return
	}

	isBatchRequest := batchID != 0 || isNewBatch
	if !isBatchRequest {
		s.directPost(w, r, conn, collID, collName, items, failed)
		return
	}

	s.batchPost(w, r, conn, collID, collName, batchID, isNewBatch, commit, items, failed)
}

func (s *Server) directPost(w http.ResponseWriter, r *http.Request, conn syncstorage.Conn, collID int64, collName string, items []syncstorage.PutBSO, failed map[string]string) {
	if q := s.backend.Quota(); q.Enabled {
		usage, err := conn.GetQuotaUsage(r.Context(), collID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		var addBytes int64
		for _, it := range items {
			if it.Payload != nil {
				addBytes += int64(len(*it.Payload))
			}
		}
		if err := syncstorage.CheckQuota(q, usage, addBytes); err != nil {
			s.writeError(w, err)
			return
		}
	}

	result, err := conn.PostBSOs(r.Context(), collID, items)
	if err != nil {
		s.writeError(w, err)
		return
	}
	for id, reason := range failed {
		result.Failed[id] = reason
	}
	if err := conn.Commit(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}

	setWeaveTimestamp(w, result.Modified)
	writeJSON(w, postResultToWire(result))
}

func (s *Server) batchPost(w http.ResponseWriter, r *http.Request, conn syncstorage.Conn, collID int64, collName string, batchID int64, isNew, commit bool, items []syncstorage.PutBSO, failed map[string]string) {
	if isNew {
		batch, err := conn.CreateBatch(r.Context(), collID, items)
		if err != nil {
			s.writeError(w, err)
			return
		}
		batchID = batch.ID
	} else {
		ok, err := conn.ValidateBatch(r.Context(), collID, batchID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if !ok {
			s.writeError(w, syncstorage.ErrBatchNotFound)
			return
		}
		if err := conn.AppendToBatch(r.Context(), collID, batchID, items); err != nil {
			s.writeError(w, err)
			return
		}
	}

	if !commit {
		if err := conn.Commit(r.Context()); err != nil {
			s.writeError(w, err)
			return
		}
		modified := conn.Now()
		success := make([]string, 0, len(items))
		for _, it := range items {
			if _, isFailed := failed[it.ID]; !isFailed {
				success = append(success, it.ID)
			}
		}
		setWeaveTimestamp(w, modified)
		writeJSON(w, map[string]interface{}{
			"batch":    s.backend.EncodeBatchID(batchID),
			"modified": modified.Seconds(),
			"success":  success,
			"failed":   failed,
		})
		return
	}

	result, err := conn.CommitBatch(r.Context(), collID, batchID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// The success list reports the ids this request appended, not every id
	// staged across the batch's lifetime.
	for _, it := range items {
		if _, isFailed := failed[it.ID]; !isFailed {
			result.Success = append(result.Success, it.ID)
		}
	}
	for id, reason := range failed {
		result.Failed[id] = reason
	}
	if err := conn.Commit(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}

	setWeaveTimestamp(w, result.Modified)
	writeJSON(w, postResultToWire(result))
}
