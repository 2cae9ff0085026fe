// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package identity

import "context"

// BrowserIDVerifier satisfies Verifier for the BrowserID assertion scheme,
// bound from the `TOKENSERVER__FXA_BROWSER_ID__*` keys. BrowserID has been
// phased out in favor of OAuth and survives only for legacy clients, so
// this stays a stub: it satisfies the interface without a remote verifier
// call, wiring it in as a selectable Verifier rather than a parallel code
// path the web layer has to special-case.
type BrowserIDVerifier struct {
	Config Config
}

// NewBrowserIDVerifier returns a Verifier that always rejects.
// TODO: wire the remote assertion-verifier RPC if legacy BrowserID traffic
// ever justifies it.
func NewBrowserIDVerifier(cfg Config) *BrowserIDVerifier {
	return &BrowserIDVerifier{Config: cfg}
}

// Verify implements Verifier.
func (v *BrowserIDVerifier) Verify(ctx context.Context, assertion string) (Claims, error) {
	return Claims{}, ErrVerificationFailed
}
