// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package sql

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// encodeBase64BatchID renders id as the base64 encoding of its decimal
// string, the wire format the mysql and sqlite engines use.
func encodeBase64BatchID(id int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(id, 10)))
}

func decodeBase64BatchID(s string) (int64, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return 0, false
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// decodeSuffixedBatchID parses the postgres "<uuid>:<id>" batch-id format
// (see postgresDialect.encodeBatchID): the trailing decimal segment is the
// real id, the UUID prefix exists only so the wire id looks postgres-native.
func decodeSuffixedBatchID(s string) (int64, bool) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
