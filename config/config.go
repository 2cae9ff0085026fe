// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package config is the single place the syncstorage and tokenserver
// binaries assemble their configuration: environment variables prefixed
// SYNC_ with __ separating nested keys, bound through pkg/cfgstruct's
// struct-tag binder. cmd/syncstorage and cmd/tokenserver each bind one
// Config and build their dependency graph from it; nothing downstream
// reads environment variables or flags directly.
package config

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/syncstorage/pkg/process"
	"storj.io/syncstorage/syncstorage"
	"storj.io/syncstorage/syncstorage/backend/sql"
	"storj.io/syncstorage/syncstorage/backend/widecolumn"
	"storj.io/syncstorage/tokenserver"
	"storj.io/syncstorage/tokenserver/identity"
	tokensql "storj.io/syncstorage/tokenserver/store/sql"
	"storj.io/syncstorage/web"
)

// Error is the class for every error this package returns.
var Error = errs.Class("config")

// Config is the root of the environment/flag surface both binaries bind.
type Config struct {
	Host string `default:"127.0.0.1" usage:"bind address"`
	Port string `default:"8000" usage:"bind port"`

	// MasterSecret roots the HAWK token derivation chain. An empty value
	// is the documented insecure sentinel for local dev.
	MasterSecret string `default:"" usage:"base secret for HKDF token derivation; empty is an insecure dev sentinel"`

	Syncstorage SyncstorageConfig
	Tokenserver TokenserverConfig
	Logging     process.LoggingConfig
	Statsd      process.StatsdConfig

	LBHeartbeatTTL       time.Duration `default:"15s" usage:"pool-saturation duration before /__lbheartbeat__ starts failing"`
	LBHeartbeatTTLJitter time.Duration `default:"5s" usage:"random jitter added to LBHeartbeatTTL"`
}

// SyncstorageConfig binds the `SYNCSTORAGE__*` keys.
type SyncstorageConfig struct {
	// DatabaseURL's scheme selects the storage engine: mysql://, postgres://,
	// spanner:// (served by the widecolumn engine), or sqlite://.
	DatabaseURL string `default:"sqlite://./syncstorage.db" usage:"scheme selects the storage backend"`

	DatabasePool sql.PoolConfig
	Limits       web.Limits
	Quota        syncstorage.Quota
}

// TokenserverConfig binds the `TOKENSERVER__*` keys.
type TokenserverConfig struct {
	Enabled                 bool    `default:"true" usage:"serve the tokenserver issuance endpoint"`
	DatabaseURL             string  `default:"sqlite://./tokenserver.db" usage:"scheme selects mysql:// or sqlite://"`
	NodeType                string  `default:"mysql" usage:"node_type reported in the issuance response"`
	NodeCapacityReleaseRate float64 `default:"0.1" usage:"fraction of node capacity released per retry pass"`
	TokenDurationSecs       int64   `default:"3600" usage:"lifetime of a minted token, in seconds"`

	FxaOAuth     FxaOAuthConfig
	FxaBrowserID FxaBrowserIDConfig
}

// FxaOAuthConfig binds `TOKENSERVER__FXA_OAUTH_*`.
type FxaOAuthConfig struct {
	Enabled      bool          `default:"true" usage:"accept Bearer <oauth-token> credentials"`
	ServerURL    string        `default:"" usage:"FxA OAuth verification endpoint, informational only: keys are supplied directly"`
	PrimaryJWK   string        `default:"" usage:"PEM-encoded RSA public key, current signing key"`
	SecondaryJWK string        `default:"" usage:"PEM-encoded RSA public key, previous signing key during rotation"`
	Identity     identity.Config
}

// FxaBrowserIDConfig binds `TOKENSERVER__FXA_BROWSER_ID__*`.
type FxaBrowserIDConfig struct {
	Enabled   bool   `default:"false" usage:"accept BrowserID <assertion> credentials"`
	ServerURL string `default:"" usage:"BrowserID verifier endpoint"`
	Audience  string `default:"" usage:"expected assertion audience"`
	Issuer    string `default:"" usage:"expected assertion issuer"`
	Identity  identity.Config
}

// Assignment returns the tokenserver node-selection policy this config
// describes.
func (c TokenserverConfig) Assignment() tokenserver.AssignmentConfig {
	spannerMode := strings.HasPrefix(c.DatabaseURL, "spanner://")
	return tokenserver.AssignmentConfig{
		SpannerMode: spannerMode,
		ReleaseRate: c.NodeCapacityReleaseRate,
	}
}

// IssueConfig builds the tokenserver.IssueConfig Issue needs, rooted in the
// shared master secret.
func (c Config) IssueConfig(originHost string) tokenserver.IssueConfig {
	return tokenserver.IssueConfig{
		MasterSecret:      []byte(c.MasterSecret),
		Assignment:        c.Tokenserver.Assignment(),
		TokenDurationSecs: c.Tokenserver.TokenDurationSecs,
		TokenserverOrigin: originHost,
	}
}

// OpenSyncstorageBackend dials the storage engine c.Syncstorage.DatabaseURL
// selects by scheme.
func OpenSyncstorageBackend(log *zap.Logger, c SyncstorageConfig) (syncstorage.Backend, error) {
	scheme, rest := splitScheme(c.DatabaseURL)
	switch scheme {
	case "mysql":
		return sql.NewMySQLBackend(log, rest, c.DatabasePool, c.Quota)
	case "postgres":
		return sql.NewPostgresBackend(log, rest, c.DatabasePool, c.Quota)
	case "sqlite":
		return sql.NewSQLiteBackend(log, rest, c.Quota)
	case "spanner":
		return widecolumn.NewBackend(log, rest, c.Quota)
	default:
		return nil, Error.New("unrecognized SYNCSTORAGE__DATABASE_URL scheme %q", scheme)
	}
}

// OpenTokenserverStore dials the tokenserver persistence layer
// c.Tokenserver.DatabaseURL selects.
func OpenTokenserverStore(log *zap.Logger, c TokenserverConfig) (tokenserver.Store, error) {
	scheme, rest := splitScheme(c.DatabaseURL)
	switch scheme {
	case "mysql":
		return tokensql.NewMySQLStore(log, rest)
	case "sqlite":
		return tokensql.NewSQLiteStore(log, rest)
	default:
		return nil, Error.New("unrecognized TOKENSERVER__DATABASE_URL scheme %q", scheme)
	}
}

// splitScheme splits a "scheme://rest" database URL into its scheme and
// the driver-specific remainder, without net/url's host/path parsing
// (which would mangle a relative sqlite path like "sqlite://./db").
func splitScheme(dsn string) (scheme, rest string) {
	i := strings.Index(dsn, "://")
	if i < 0 {
		return "", dsn
	}
	return dsn[:i], dsn[i+len("://"):]
}

// OAuthVerifier builds the identity.Verifier the tokenserver issuance path
// uses for Bearer credentials, or nil if disabled/unconfigured.
func (c FxaOAuthConfig) OAuthVerifier() (identity.Verifier, error) {
	if !c.Enabled {
		return nil, nil
	}
	primary, err := parseRSAPublicKey(c.PrimaryJWK)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	secondary, err := parseRSAPublicKey(c.SecondaryJWK)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	jwks := identity.StaticJWKSource{Primary: primary, Secondary: secondary}
	return identity.NewOAuthVerifier(jwks, c.Identity), nil
}

// BrowserIDVerifier builds the identity.Verifier for BrowserID assertions,
// or nil if disabled.
func (c FxaBrowserIDConfig) BrowserIDVerifier() identity.Verifier {
	if !c.Enabled {
		return nil
	}
	return identity.NewBrowserIDVerifier(c.Identity)
}

func parseRSAPublicKey(pemStr string) (*rsa.PublicKey, error) {
	if pemStr == "" {
		return nil, nil
	}
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, Error.New("invalid PEM block for JWK")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, Error.New("JWK is not an RSA public key")
	}
	return rsaPub, nil
}
