// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package tokenserver implements the node-assignment control loop and user
// bookkeeping behind token issuance: looking up/replacing User rows,
// picking a storage Node by least relative load, and handing the result to
// the hawk package to mint credentials.
package tokenserver

import "github.com/zeebo/errs"

// Error is the class for every error this package returns.
var Error = errs.Class("tokenserver")

// Sentinel errors the web layer maps to their HTTP kinds.
var (
	ErrInvalidGeneration    = Error.New("invalid generation")
	ErrInvalidKeysChangedAt = Error.New("invalid keysChangedAt")
	ErrServiceUnavailable   = Error.New("no node available")
)

// User is a tokenserver assignment row: one user's node placement plus the
// generation/keys_changed_at/client_state attestations issuance enforces
// monotonicity on.
type User struct {
	ID            int64
	ServiceID     int64
	Email         string
	Generation    int64
	KeysChangedAt int64
	ClientState   string
	NodeID        int64
	CreatedAt     int64
	ReplacedAt    *int64
}

// Live reports whether the row is the active (non-replaced) assignment.
func (u User) Live() bool { return u.ReplacedAt == nil }

// Node is a storage node a Service can assign users onto.
type Node struct {
	ID          int64
	ServiceID   int64
	Hostname    string
	Capacity    int64
	CurrentLoad int64
	Available   int64
	Downed      bool
	Backoff     int64
}

// Assignable reports whether the node may receive a new user: not downed,
// slots available, load below capacity.
func (n Node) Assignable() bool {
	return !n.Downed && n.Available > 0 && n.Capacity > n.CurrentLoad
}

// Service identifies an application (e.g. "sync-1.5") a tokenserver
// deployment issues tokens for.
type Service struct {
	ID      int64
	Name    string
	Pattern string
}
