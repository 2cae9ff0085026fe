// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package identity is the upstream identity-verification boundary: OAuth
// or BrowserID credentials are verified behind an interface the
// tokenserver issuance path depends on, never a core component. oauth.go
// supplies a real default implementation; browserid.go is a stub
// satisfying the same interface for the legacy, deprecation-bound scheme.
package identity

import (
	"context"
	"time"

	"github.com/zeebo/errs"
)

// Error is the class for every error this package returns.
var Error = errs.Class("identity")

// ErrVerificationFailed covers a rejected or malformed assertion/token.
var ErrVerificationFailed = Error.New("identity verification failed")

// Claims is what a verified credential yields: the user's FxA identity
// plus the generation/keys_changed_at/client_state attestations issuance
// checks monotonicity against.
type Claims struct {
	FxaUID        string
	Generation    *int64
	KeysChangedAt *int64
	Email         string
	ClientState   string
	DeviceID      string
}

// Verifier authenticates an upstream credential (a BrowserID assertion or
// an OAuth bearer token) and returns the claims tokenserver issuance needs.
// A per-request timeout governs any remote RPC; a timeout surfaces to the
// client as resource-unavailable (HTTP 503).
type Verifier interface {
	Verify(ctx context.Context, credential string) (Claims, error)
}

// Config is the shared timeout/endpoint knobs both verifiers bind from
// the `TOKENSERVER__FXA_OAUTH__IDENTITY__*` / `..._FXA_BROWSER_ID__IDENTITY__*` keys.
type Config struct {
	RequestTimeout time.Duration `default:"5s" usage:"timeout for the upstream verification RPC"`
}
