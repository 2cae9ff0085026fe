// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package identity

import (
	"context"
	"crypto/rsa"
	"fmt"

	jwt "github.com/dgrijalva/jwt-go"
)

// oauthClaims is the JWT payload shape an FxA-issued token carries:
// fxa_uid, generation, keys_changed_at (both optional, absent meaning
// "not yet set"), and the hex-encoded client_state.
type oauthClaims struct {
	jwt.StandardClaims
	FxaUID        string `json:"fxa_uid"`
	Generation    *int64 `json:"generation,omitempty"`
	KeysChangedAt *int64 `json:"keys_changed_at,omitempty"`
	ClientState   string `json:"client_state"`
}

// JWKSource resolves the RSA public key(s) an OAuth token may be signed
// with, bound from `TOKENSERVER__FXA_OAUTH__{PRIMARY,SECONDARY}_JWK`
// (primary/secondary key rotation).
type JWKSource interface {
	Keys() []*rsa.PublicKey
}

// StaticJWKSource is a fixed primary/secondary key pair, the common case
// for a deployment that isn't mid-rotation.
type StaticJWKSource struct {
	Primary   *rsa.PublicKey
	Secondary *rsa.PublicKey
}

// Keys implements JWKSource.
func (s StaticJWKSource) Keys() []*rsa.PublicKey {
	keys := make([]*rsa.PublicKey, 0, 2)
	if s.Primary != nil {
		keys = append(keys, s.Primary)
	}
	if s.Secondary != nil {
		keys = append(keys, s.Secondary)
	}
	return keys
}

// OAuthVerifier validates an FxA OAuth bearer token's signature and claims
// shape. It tries every key JWKSource returns in order, matching a
// primary/secondary rotation window.
type OAuthVerifier struct {
	jwks   JWKSource
	Config Config
}

// NewOAuthVerifier returns a Verifier bound to jwks.
func NewOAuthVerifier(jwks JWKSource, cfg Config) *OAuthVerifier {
	return &OAuthVerifier{jwks: jwks, Config: cfg}
}

// Verify implements Verifier.
func (v *OAuthVerifier) Verify(ctx context.Context, token string) (Claims, error) {
	var lastErr error
	for _, key := range v.jwks.Keys() {
		claims, err := v.verifyWithKey(token, key)
		if err == nil {
			return claims, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrVerificationFailed
	}
	return Claims{}, Error.Wrap(lastErr)
}

func (v *OAuthVerifier) verifyWithKey(tokenStr string, key *rsa.PublicKey) (Claims, error) {
	var claims oauthClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return Claims{}, err
	}
	if claims.FxaUID == "" {
		return Claims{}, ErrVerificationFailed
	}
	return Claims{
		FxaUID:        claims.FxaUID,
		Generation:    claims.Generation,
		KeysChangedAt: claims.KeysChangedAt,
		Email:         claims.Subject,
		ClientState:   claims.ClientState,
	}, nil
}
