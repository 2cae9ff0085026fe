// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package web

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"storj.io/syncstorage/pkg/process"
)

// HealthChecker backs `GET /__lbheartbeat__` and `GET /__heartbeat__`:
// the deadman gauge trips lbheartbeat when the pool has been saturated
// past its TTL+jitter; heartbeat additionally pings the database.
type HealthChecker struct {
	Deadman *process.Deadman
	DB      *sql.DB // nil for backends with no database/sql pool (e.g. widecolumn)
}

func (s *Server) handleLBHeartbeat(w http.ResponseWriter, r *http.Request) {
	if s.health != nil && s.health.Deadman != nil && s.health.Deadman.Tripped() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{"status": "ok"}

	if s.health != nil && s.health.DB != nil {
		if err := s.health.DB.PingContext(r.Context()); err != nil {
			status["status"] = "error"
			status["database"] = err.Error()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(status)
			return
		}
		process.ObserveDBStats(s.health.DB.Stats())
		status["database"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}
