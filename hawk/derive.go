// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package hawk

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// secretLen is the derived key length for both HKDF calls in the chain.
const secretLen = 32

// signingInfo is the fixed HKDF info string used to derive the secret that
// signs (and later verifies) every token's plaintext.
const signingInfo = "services.mozilla.com/tokenlib/v1/signing"

// deriveInfoPrefix is the HKDF info prefix for a token's per-request
// derived secret; the full info string appends the token's own base64url
// text, so no two tokens ever derive the same secret even under a salt
// collision.
const deriveInfoPrefix = "services.mozilla.com/tokenlib/v1/derive/"

// SigningSecret derives the secret used to HMAC-sign (and verify) token
// plaintexts: `HKDF-SHA256(salt=None, ikm=MS,
// info="services.mozilla.com/tokenlib/v1/signing", L=32)`.
func SigningSecret(masterSecret []byte) ([]byte, error) {
	return hkdfExpand(nil, masterSecret, []byte(signingInfo))
}

// DerivedSecret derives the per-token HAWK key:
// `HKDF-SHA256(salt=salt_bytes, ikm=MS,
// info="services.mozilla.com/tokenlib/v1/derive/" || token_b64, L=32)`.
func DerivedSecret(masterSecret, salt []byte, tokenB64 string) ([]byte, error) {
	info := append([]byte(deriveInfoPrefix), []byte(tokenB64)...)
	return hkdfExpand(salt, masterSecret, info)
}

func hkdfExpand(salt, ikm, info []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, secretLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, Error.Wrap(err)
	}
	return out, nil
}
