// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package web

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"storj.io/syncstorage/hawk"
)

var mon = monkit.Package()

type ctxKey int

const uidCtxKey ctxKey = iota

// userIDFromContext returns the {uid} path segment validated by
// hawkAuthMiddleware.
func userIDFromContext(ctx context.Context) int64 {
	uid, _ := ctx.Value(uidCtxKey).(int64)
	return uid
}

// hawkAuthMiddleware guards every storage request: it must carry a valid
// HAWK Authorization header whose embedded uid and node match the
// request's URL and Host.
func (s *Server) hawkAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		pathUID, err := strconv.ParseInt(vars["uid"], 10, 64)
		if err != nil {
			s.writeError(w, newAPIError(http.StatusBadRequest, "error", "url", "uid", "invalid uid"))
			return
		}

		host, port, _ := splitHostPort(r.Host)
		plaintext, err := hawk.VerifyRequest(
			r.Header.Get("Authorization"), r.Method, r.URL.RequestURI(), host, port,
			s.masterSecret, time.Now())
		if err != nil {
			s.writeError(w, err)
			return
		}
		if plaintext.UID != pathUID {
			s.writeError(w, newAPIError(http.StatusUnauthorized, "invalid-credentials", "header", "Authorization", "uid mismatch"))
			return
		}
		if plaintext.Node != "" && !strings.EqualFold(plaintext.Node, host) {
			s.writeError(w, newAPIError(http.StatusUnauthorized, "invalid-credentials", "header", "Authorization", "node mismatch"))
			return
		}

		ctx := context.WithValue(r.Context(), uidCtxKey, pathUID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func splitHostPort(hostport string) (host, port string, err error) {
	if !strings.Contains(hostport, ":") {
		return hostport, "443", nil
	}
	i := strings.LastIndex(hostport, ":")
	return hostport[:i], hostport[i+1:], nil
}

// metricsMiddleware times every request through a named monkit task.
func metricsMiddleware(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		task := mon.TaskNamed(name)
		ctx := r.Context()
		stop := task(&ctx)
		defer stop(nil)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
