// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package hawk

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Plaintext is the token payload: everything a storage request's HAWK
// credential needs to carry, signed but not encrypted (its confidentiality
// comes from only ever traveling over TLS as the HAWK `id`).
type Plaintext struct {
	Node              string `json:"node"`
	FxaKid            string `json:"fxa_kid"`
	FxaUID            string `json:"fxa_uid"`
	HashedDeviceID    string `json:"hashed_device_id,omitempty"`
	HashedFxaUID      string `json:"hashed_fxa_uid"`
	Expires           int64  `json:"expires"`
	UID               int64  `json:"uid"`
	TokenserverOrigin string `json:"tokenserver_origin"`
	Salt              string `json:"salt"`
}

// FormatFxaKid renders the `fxa_kid` field:
// `sprintf("%013d-%s", keys_changed_at_or_generation, base64url_nopad(hex_decode(client_state)))`.
func FormatFxaKid(generationOrKeysChangedAt int64, clientStateHex string) (string, error) {
	raw, err := hex.DecodeString(clientStateHex)
	if err != nil {
		return "", Error.Wrap(err)
	}
	return fmt.Sprintf("%013d-%s", generationOrKeysChangedAt, base64.RawURLEncoding.EncodeToString(raw)), nil
}

// Issue signs plaintext (after stamping a fresh salt onto it) with
// masterSecret and returns the token id and its matching HAWK key:
// token = base64url(plaintext_json || HMAC-SHA256(signing_secret,
// plaintext_json)), and the key is HKDF-derived from the token text.
func Issue(masterSecret []byte, plaintext Plaintext) (token string, derivedSecret string, err error) {
	saltBytes := make([]byte, 3)
	if _, err := rand.Read(saltBytes); err != nil {
		return "", "", Error.Wrap(err)
	}
	plaintext.Salt = hex.EncodeToString(saltBytes)

	plaintextJSON, err := json.Marshal(plaintext)
	if err != nil {
		return "", "", Error.Wrap(err)
	}

	signingSecret, err := SigningSecret(masterSecret)
	if err != nil {
		return "", "", err
	}
	mac := hmac.New(sha256.New, signingSecret)
	mac.Write(plaintextJSON)
	signature := mac.Sum(nil)

	tokenBytes := append(append([]byte{}, plaintextJSON...), signature...)
	tokenB64 := base64.RawURLEncoding.EncodeToString(tokenBytes)

	derivedSecretBytes, err := DerivedSecret(masterSecret, saltBytes, tokenB64)
	if err != nil {
		return "", "", err
	}
	return tokenB64, base64.RawURLEncoding.EncodeToString(derivedSecretBytes), nil
}

// Verify authenticates a token id: base64url-decode it, split off the
// trailing 32-byte signature, check it against the signing secret,
// reject an expired plaintext, and recompute the derived secret (the HAWK
// key) from the embedded salt. It does not itself validate the HAWK MAC —
// that's ComputeMAC's job, called from VerifyRequest — since the id can be
// authenticated independently of any particular request.
func Verify(masterSecret []byte, tokenB64 string, now time.Time) (Plaintext, []byte, error) {
	tokenBytes, err := base64.RawURLEncoding.DecodeString(tokenB64)
	if err != nil {
		return Plaintext{}, nil, ErrInvalidCredentials
	}
	if len(tokenBytes) <= sha256.Size {
		return Plaintext{}, nil, ErrInvalidCredentials
	}
	split := len(tokenBytes) - sha256.Size
	plaintextJSON, signature := tokenBytes[:split], tokenBytes[split:]

	signingSecret, err := SigningSecret(masterSecret)
	if err != nil {
		return Plaintext{}, nil, err
	}
	mac := hmac.New(sha256.New, signingSecret)
	mac.Write(plaintextJSON)
	if !hmac.Equal(mac.Sum(nil), signature) {
		return Plaintext{}, nil, ErrInvalidCredentials
	}

	var plaintext Plaintext
	if err := json.Unmarshal(plaintextJSON, &plaintext); err != nil {
		return Plaintext{}, nil, ErrInvalidCredentials
	}
	if plaintext.Expires <= now.Unix() {
		return Plaintext{}, nil, ErrExpired
	}

	saltBytes, err := hex.DecodeString(plaintext.Salt)
	if err != nil {
		return Plaintext{}, nil, ErrInvalidCredentials
	}
	derivedSecret, err := DerivedSecret(masterSecret, saltBytes, tokenB64)
	if err != nil {
		return Plaintext{}, nil, err
	}
	return plaintext, derivedSecret, nil
}
