// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package syncstorage

import "context"

// Backend is the pluggable storage contract: SQL-flavored engines
// (postgres, mysql, sqlite) and the wide-column engine share this one
// interface. Every method is implicitly scoped to the (userID, collection)
// pair named by its arguments; callers never see backend-specific locking
// or transaction mechanics.
//
// A Backend is a pool: Begin opens a session-scoped transaction envelope
// (a Conn) bound to one connection/session, which must be committed or
// rolled back exactly once.
type Backend interface {
	// Begin opens a new session. forWrite selects exclusive write-lock
	// semantics; reads take shared locks.
	Begin(ctx context.Context, userID int64, forWrite bool) (Conn, error)

	// Quota returns the configured quota policy. It is process-wide
	// configuration, not per-user state.
	Quota() Quota

	// EncodeBatchID renders a batch id as the opaque string clients see.
	// The format is engine-specific: base64 of the decimal id for mysql
	// and sqlite, a UUID-prefixed form for postgres, and the raw decimal
	// timestamp-derived id for the wide-column engine.
	EncodeBatchID(id int64) string

	// DecodeBatchID parses a client-supplied batch id string. ok is false
	// for a malformed id; existence is checked separately by ValidateBatch.
	DecodeBatchID(s string) (id int64, ok bool)

	// Close releases the pool and any underlying files or sockets.
	Close() error
}

// Conn is a single request's transaction envelope: every backend operation
// below takes place against the same "now" (see Clock) and the same
// database transaction, and Commit/Rollback end it.
type Conn interface {
	// Commit finalizes the transaction. After Commit, newly created
	// collection ids become visible to the shared collection cache.
	Commit(ctx context.Context) error
	// Rollback aborts the transaction. Safe to call after a failed op;
	// a no-op after Commit.
	Rollback(ctx context.Context) error

	// Now returns the session-scoped timestamp every write in this
	// transaction will use.
	Now() Timestamp

	// LockForRead/LockForWrite take the advisory per-collection lock held
	// for the duration of the transaction. A session acquires at most one
	// collection lock at a time.
	LockForRead(ctx context.Context, collectionID int64) error
	LockForWrite(ctx context.Context, collectionID int64) error

	GetStorageTimestamp(ctx context.Context) (Timestamp, error)
	GetStorageUsage(ctx context.Context) (int64, error)
	DeleteStorage(ctx context.Context) error

	GetCollectionTimestamps(ctx context.Context) (map[string]Timestamp, error)
	GetCollectionCounts(ctx context.Context) (map[string]int64, error)
	GetCollectionUsage(ctx context.Context) (map[string]int64, error)

	GetCollectionID(ctx context.Context, name string) (int64, error)
	CreateCollection(ctx context.Context, name string) (int64, error)
	UpdateCollection(ctx context.Context, collectionID int64, name string) (Timestamp, error)
	GetCollectionTimestamp(ctx context.Context, collectionID int64) (Timestamp, error)
	DeleteCollection(ctx context.Context, collectionID int64) (Timestamp, error)

	GetBSOs(ctx context.Context, collectionID int64, filter BSOFilter) (BSOQueryResult, error)
	GetBSOIDs(ctx context.Context, collectionID int64, filter BSOFilter) ([]string, error)
	GetBSO(ctx context.Context, collectionID int64, id string) (BSO, error)
	GetBSOTimestamp(ctx context.Context, collectionID int64, id string) (Timestamp, error)
	PutBSO(ctx context.Context, collectionID int64, bso PutBSO) (Timestamp, error)
	DeleteBSO(ctx context.Context, collectionID int64, id string) (Timestamp, error)
	DeleteBSOs(ctx context.Context, collectionID int64, ids []string) (Timestamp, error)
	PostBSOs(ctx context.Context, collectionID int64, items []PutBSO) (PostResult, error)

	GetQuotaUsage(ctx context.Context, collectionID int64) (Usage, error)

	CreateBatch(ctx context.Context, collectionID int64, items []PutBSO) (Batch, error)
	ValidateBatch(ctx context.Context, collectionID int64, batchID int64) (bool, error)
	AppendToBatch(ctx context.Context, collectionID int64, batchID int64, items []PutBSO) error
	GetBatch(ctx context.Context, collectionID int64, batchID int64) ([]PutBSO, error)
	CommitBatch(ctx context.Context, collectionID int64, batchID int64) (PostResult, error)
	DeleteBatch(ctx context.Context, collectionID int64, batchID int64) error
}
