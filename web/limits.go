// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package web

import (
	"net/http"
	"strconv"
)

// Limits is the upload size-limit surface, bound from
// `SYNC_SYNCSTORAGE__LIMITS__*`.
type Limits struct {
	MaxRequestBytes       int64 `default:"2101248" usage:"maximum request body size, in bytes"`
	MaxPostBytes          int64 `default:"2097152" usage:"maximum bytes per POST batch"`
	MaxPostRecords        int64 `default:"100" usage:"maximum BSOs per POST batch"`
	MaxTotalBytes         int64 `default:"20971520" usage:"maximum bytes across a committed batch"`
	MaxTotalRecords       int64 `default:"1000" usage:"maximum BSOs across a committed batch"`
	MaxRecordPayloadBytes int64 `default:"2097152" usage:"maximum bytes for a single BSO payload"`
	MaxQuotaLimit         int64 `default:"2147483648" usage:"maximum quota size a client may be assigned"`
}

// DefaultLimits mirrors the historical Sync 1.5 server defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxRequestBytes:       2*1024*1024 + 4*1024,
		MaxPostBytes:          2 * 1024 * 1024,
		MaxPostRecords:        100,
		MaxTotalBytes:         20 * 1024 * 1024,
		MaxTotalRecords:       1000,
		MaxRecordPayloadBytes: 2 * 1024 * 1024,
		MaxQuotaLimit:         2 * 1024 * 1024 * 1024,
	}
}

// CheckDeclaredSizes validates the X-Weave-{Records,Bytes,Total-Records,
// Total-Bytes} request headers a batching client declares up front, so an
// over-limit upload is rejected before any staging work happens. A missing
// or non-numeric header is ignored; the body-derived counts are still
// enforced later.
func (l Limits) CheckDeclaredSizes(r *http.Request) error {
	checks := []struct {
		header string
		limit  int64
	}{
		{"X-Weave-Records", l.MaxPostRecords},
		{"X-Weave-Bytes", l.MaxPostBytes},
		{"X-Weave-Total-Records", l.MaxTotalRecords},
		{"X-Weave-Total-Bytes", l.MaxTotalBytes},
	}
	for _, c := range checks {
		raw := r.Header.Get(c.header)
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if n > c.limit {
			return newAPIError(http.StatusRequestEntityTooLarge, "size-limit-exceeded",
				"header", c.header, "declared size exceeds the server limit")
		}
	}
	return nil
}
