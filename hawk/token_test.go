// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package hawk_test

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/syncstorage/hawk"
)

func testPlaintext(expires int64) hawk.Plaintext {
	return hawk.Plaintext{
		Node:              "https://node1.example.com",
		FxaKid:            "0000000000001-abc",
		FxaUID:            "fxa-uid",
		HashedFxaUID:      "hashed-fxa-uid",
		Expires:           expires,
		UID:               42,
		TokenserverOrigin: "tokenserver",
	}
}

func TestIssueThenVerifyRoundTrips(t *testing.T) {
	ms := []byte("a shared master secret that is long enough")
	plaintext := testPlaintext(time.Now().Add(time.Hour).Unix())

	token, derivedSecret, err := hawk.Issue(ms, plaintext)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.NotEmpty(t, derivedSecret)

	got, gotSecret, err := hawk.Verify(ms, token, time.Now())
	require.NoError(t, err)
	require.Equal(t, plaintext.UID, got.UID)
	require.Equal(t, plaintext.FxaUID, got.FxaUID)
	require.Equal(t, derivedSecret, base64.RawURLEncoding.EncodeToString(gotSecret))
}

func TestVerifyTamperedTokenFails(t *testing.T) {
	ms := []byte("a shared master secret that is long enough")
	token, _, err := hawk.Issue(ms, testPlaintext(time.Now().Add(time.Hour).Unix()))
	require.NoError(t, err)

	tampered := flipLastChar(token)
	_, _, err = hawk.Verify(ms, tampered, time.Now())
	require.Error(t, err)
}

func TestVerifyExpiredTokenFails(t *testing.T) {
	ms := []byte("a shared master secret that is long enough")
	token, _, err := hawk.Issue(ms, testPlaintext(time.Now().Add(-time.Second).Unix()))
	require.NoError(t, err)

	_, _, err = hawk.Verify(ms, token, time.Now())
	require.ErrorIs(t, err, hawk.ErrExpired)
}

func TestFormatFxaKid(t *testing.T) {
	kid, err := hawk.FormatFxaKid(1, "a1b2c3")
	require.NoError(t, err)
	require.Equal(t, "0000000000001-obLD", kid)
}

func flipLastChar(s string) string {
	b := []byte(s)
	if len(b) == 0 {
		return s
	}
	last := b[len(b)-1]
	if last == 'a' {
		b[len(b)-1] = 'b'
	} else {
		b[len(b)-1] = 'a'
	}
	return string(b)
}
