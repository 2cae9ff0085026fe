// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package tokenserver

import "context"

// Store is the tokenserver's persistence contract: user/node bookkeeping
// behind a single, backend-agnostic interface, mirroring the
// syncstorage.Backend/Conn split so both services follow the same
// session-scoped transaction-envelope shape.
type Store interface {
	Begin(ctx context.Context) (StoreConn, error)
}

// StoreConn is one tokenserver request's transaction envelope.
type StoreConn interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// GetLiveUsers returns every non-replaced row for (serviceID, email),
	// most-recently-created first. At most one live row is expected; when
	// a race has left more, the caller keeps the newest and replaces the
	// rest.
	GetLiveUsers(ctx context.Context, serviceID int64, email string) ([]User, error)

	// ReplaceUser marks a user row replaced as of now.
	ReplaceUser(ctx context.Context, userID int64, now int64) error

	// UpdateUser persists generation/keysChangedAt/clientState in place,
	// the same-client-state branch of issuance.
	UpdateUser(ctx context.Context, u User) error

	// CreateUser allocates a new row on nodeID, the key-rotation branch of
	// issuance.
	CreateUser(ctx context.Context, u User) (int64, error)

	// GetNodes returns every node for a service, used by node selection.
	GetNodes(ctx context.Context, serviceID int64) ([]Node, error)

	// UpdateNode persists a node's current_load/available after assignment
	// or a capacity-release pass.
	UpdateNode(ctx context.Context, n Node) error

	// GetService resolves a service by name.
	GetService(ctx context.Context, name string) (Service, error)
}
