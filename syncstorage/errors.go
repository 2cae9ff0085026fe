// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package syncstorage

import "github.com/zeebo/errs"

// Error is the class for every error this package returns. The web layer
// (web/errors.go) switches on the sentinels below, never on string content.
var Error = errs.Class("syncstorage")

// Sentinel errors the backend and batch-protocol layers return. web/errors.go
// maps each to its HTTP status/kind pair.
var (
	// ErrNotFound is returned by get_bso/get_collection when the row (or an
	// unexpired view of it) does not exist.
	ErrNotFound = Error.New("not found")

	// ErrBatchNotFound is returned by append_to_batch/commit_batch when the
	// batch id does not validate (missing, expired, or wrong owner).
	ErrBatchNotFound = Error.New("batch ID not found")

	// ErrQuota is returned when a write would push (count, total_bytes)
	// over an enforced quota.
	ErrQuota = Error.New("quota exceeded")

	// ErrConflict names a unique-constraint race (e.g. two batch_bsos
	// upserts for the same id). No backend in this module returns it, and
	// nothing retries on it.
	ErrConflict = Error.New("conflict")

	// ErrInvalidCollectionName is returned by create_collection/get_collection_id
	// when name doesn't match [a-zA-Z0-9._-]{1,32}.
	ErrInvalidCollectionName = Error.New("invalid collection name")

	// ErrInvalidBSOID is returned when a bso_id doesn't match
	// [\x20-\x7e]{1,64}.
	ErrInvalidBSOID = Error.New("invalid bso id")
)
