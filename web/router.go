// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package web

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"storj.io/syncstorage/pkg/process"
	"storj.io/syncstorage/syncstorage"
)

// Server is the sync storage HTTP surface.
type Server struct {
	log          *zap.Logger
	backend      syncstorage.Backend
	masterSecret []byte
	limits       Limits
	health       *HealthChecker
	reporter     process.ErrorReporter
}

// NewServer wires a Server to backend. masterSecret roots the HAWK token
// derivation chain every request is authenticated against. The collection-id
// cache lives inside the Backend implementation itself, not here — every
// Conn method call already consults it.
func NewServer(log *zap.Logger, backend syncstorage.Backend, masterSecret []byte, limits Limits, health *HealthChecker) *Server {
	return &Server{
		log:          log.Named("web"),
		backend:      backend,
		masterSecret: masterSecret,
		limits:       limits,
		health:       health,
		reporter:     process.LoggingReporter{Log: log.Named("web")},
	}
}

// SetErrorReporter swaps the default logging reporter for an external one
// (e.g. a Sentry client).
func (s *Server) SetErrorReporter(r process.ErrorReporter) { s.reporter = r }

// begin opens a backend session for the request, feeding the deadman gauge:
// a failed acquire starts (or continues) the saturation clock, a successful
// one clears it.
func (s *Server) begin(r *http.Request, forWrite bool) (syncstorage.Conn, error) {
	conn, err := s.backend.Begin(r.Context(), userIDFromContext(r.Context()), forWrite)
	if s.health != nil && s.health.Deadman != nil {
		if err != nil {
			s.health.Deadman.ReportSaturated()
		} else {
			s.health.Deadman.ReportHealthy()
		}
	}
	return conn, err
}

// Router builds the gorilla/mux router for the full sync HTTP surface.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/__lbheartbeat__", s.handleLBHeartbeat).Methods(http.MethodGet)
	r.HandleFunc("/__heartbeat__", s.handleHeartbeat).Methods(http.MethodGet)

	api := r.PathPrefix("/1.5/{uid:[0-9]+}").Subrouter()
	api.Use(s.hawkAuthMiddleware)

	api.HandleFunc("/info/collections", s.timed("info_collections", s.handleInfoCollections)).Methods(http.MethodGet)
	api.HandleFunc("/info/collection_counts", s.timed("info_collection_counts", s.handleInfoCollectionCounts)).Methods(http.MethodGet)
	api.HandleFunc("/info/collection_usage", s.timed("info_collection_usage", s.handleInfoCollectionUsage)).Methods(http.MethodGet)
	api.HandleFunc("/info/configuration", s.timed("info_configuration", s.handleInfoConfiguration)).Methods(http.MethodGet)
	api.HandleFunc("/info/quota", s.timed("info_quota", s.handleInfoQuota)).Methods(http.MethodGet)

	api.HandleFunc("", s.timed("delete_storage", s.handleDeleteStorage)).Methods(http.MethodDelete)
	api.HandleFunc("/storage", s.timed("delete_storage", s.handleDeleteStorage)).Methods(http.MethodDelete)

	api.HandleFunc("/storage/{collection}", s.timed("get_collection", s.handleGetCollection)).Methods(http.MethodGet)
	api.HandleFunc("/storage/{collection}", s.timed("post_collection", s.handlePostCollection)).Methods(http.MethodPost)
	api.HandleFunc("/storage/{collection}", s.timed("delete_collection", s.handleDeleteCollection)).Methods(http.MethodDelete)

	api.HandleFunc("/storage/{collection}/{bso}", s.timed("get_bso", s.handleGetBSO)).Methods(http.MethodGet)
	api.HandleFunc("/storage/{collection}/{bso}", s.timed("put_bso", s.handlePutBSO)).Methods(http.MethodPut)
	api.HandleFunc("/storage/{collection}/{bso}", s.timed("delete_bso", s.handleDeleteBSO)).Methods(http.MethodDelete)

	return r
}

func (s *Server) timed(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metricsMiddleware(name, h).ServeHTTP(w, r)
	}
}
