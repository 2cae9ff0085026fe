// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package identity_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/require"

	"storj.io/syncstorage/tokenserver/identity"
)

func TestOAuthVerifierAcceptsValidToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	gen := int64(7)
	claims := jwt.MapClaims{
		"fxa_uid":    "user-1",
		"sub":        "user-1@example.com",
		"client_state": "abcd1234",
		"generation": gen,
		"exp":        time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	v := identity.NewOAuthVerifier(identity.StaticJWKSource{Primary: &key.PublicKey}, identity.Config{})
	got, err := v.Verify(context.Background(), signed)
	require.NoError(t, err)
	require.Equal(t, "user-1", got.FxaUID)
	require.Equal(t, "abcd1234", got.ClientState)
}

func TestOAuthVerifierRejectsWrongKey(t *testing.T) {
	signingKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	claims := jwt.MapClaims{"fxa_uid": "user-2", "exp": time.Now().Add(time.Hour).Unix()}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(signingKey)
	require.NoError(t, err)

	v := identity.NewOAuthVerifier(identity.StaticJWKSource{Primary: &otherKey.PublicKey}, identity.Config{})
	_, err = v.Verify(context.Background(), signed)
	require.Error(t, err)
}

func TestOAuthVerifierTriesSecondaryKeyOnRotation(t *testing.T) {
	oldKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	newKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	claims := jwt.MapClaims{"fxa_uid": "user-3", "exp": time.Now().Add(time.Hour).Unix()}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(oldKey)
	require.NoError(t, err)

	v := identity.NewOAuthVerifier(identity.StaticJWKSource{Primary: &newKey.PublicKey, Secondary: &oldKey.PublicKey}, identity.Config{})
	got, err := v.Verify(context.Background(), signed)
	require.NoError(t, err)
	require.Equal(t, "user-3", got.FxaUID)
}

func TestBrowserIDVerifierAlwaysRejects(t *testing.T) {
	v := identity.NewBrowserIDVerifier(identity.Config{})
	_, err := v.Verify(context.Background(), "anything")
	require.ErrorIs(t, err, identity.ErrVerificationFailed)
}
