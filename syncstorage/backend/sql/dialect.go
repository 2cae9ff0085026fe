// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package sql implements syncstorage.Backend against database/sql, sharing
// one Conn for postgres, mysql, and sqlite and isolating the handful of
// places those engines genuinely diverge (placeholder syntax, upsert
// syntax, batch-id encoding, row locking) behind a small dialect.
package sql

import "fmt"

// dialect isolates the quirks the three engines genuinely diverge on:
// placeholder syntax, upsert syntax, row locking, and batch-id encoding.
type dialect interface {
	name() string

	// placeholder returns the driver's positional-parameter syntax for the
	// i'th (1-based) bound argument.
	placeholder(i int) string

	// lockSuffix returns the row-locking clause for read/write collection
	// locks, or "" when the engine elides it (sqlite's single-writer model
	// makes it redundant).
	lockSuffix(forWrite bool) string

	// upsertBSO returns the INSERT .. ON CONFLICT/ON DUPLICATE KEY
	// statement used by PutBSO/PostBSOs/CommitBatch, parameterized in
	// dialect-native placeholder order:
	// (userID, collectionID, id, sortindex, payload, modified, expiry).
	upsertBSO() string

	// encodeBatchID renders a batch id as the opaque string clients see.
	encodeBatchID(id int64) string
	// decodeBatchID parses a client-supplied batch id string. ok is false
	// for a malformed id (never a backend error — validate_batch_id is a
	// pure format check, existence is checked separately).
	decodeBatchID(s string) (id int64, ok bool)
}

// bind is a small helper that numbers bound arguments left to right using
// d.placeholder, so statement-building code never hardcodes "?" or "$1".
func bind(d dialect, query string, n int) string {
	args := make([]interface{}, n)
	for i := 0; i < n; i++ {
		args[i] = d.placeholder(i + 1)
	}
	return fmt.Sprintf(query, args...)
}
