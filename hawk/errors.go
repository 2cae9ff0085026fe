// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package hawk implements tokenlib-style token issuance rooted in a shared
// master secret, and HAWK request-signature verification against the
// derived secret that issuance produces. The MAC is computed with
// crypto/hmac + crypto/sha256 directly; golang.org/x/crypto/hkdf supplies
// the key derivation.
package hawk

import "github.com/zeebo/errs"

// Error is the class for every error this package returns.
var Error = errs.Class("hawk")

// Sentinel errors the web layer's auth middleware switches on (never on
// string content) to produce the invalid-credentials response.
var (
	// ErrInvalidCredentials covers every signature/MAC mismatch: a token
	// whose id-HMAC doesn't verify, or a HAWK MAC that doesn't verify.
	ErrInvalidCredentials = Error.New("invalid credentials")

	// ErrExpired is returned when a token's embedded expires timestamp is
	// at or before the verification time.
	ErrExpired = Error.New("token expired")

	// ErrMalformedHeader is returned when the Authorization header isn't a
	// well-formed `Hawk ...` credential set.
	ErrMalformedHeader = Error.New("malformed hawk header")
)
