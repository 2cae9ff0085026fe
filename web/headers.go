// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package web

import (
	"net/http"
	"strconv"

	"storj.io/syncstorage/syncstorage"
)

// setWeaveTimestamp sets X-Weave-Timestamp, required on every response.
func setWeaveTimestamp(w http.ResponseWriter, now syncstorage.Timestamp) {
	w.Header().Set("X-Weave-Timestamp", formatSeconds(now))
}

// setLastModified sets X-Last-Modified, required on collection/BSO
// responses.
func setLastModified(w http.ResponseWriter, ts syncstorage.Timestamp) {
	w.Header().Set("X-Last-Modified", formatSeconds(ts))
}

func formatSeconds(ts syncstorage.Timestamp) string {
	return strconv.FormatFloat(ts.Seconds(), 'f', 2, 64)
}

func setWeaveRecords(w http.ResponseWriter, n int) {
	w.Header().Set("X-Weave-Records", strconv.Itoa(n))
}

func setWeaveNextOffset(w http.ResponseWriter, offset string) {
	if offset != "" {
		w.Header().Set("X-Weave-Next-Offset", offset)
	}
}
