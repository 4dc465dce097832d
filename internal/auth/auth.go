// Package auth validates bearer tokens on incoming API requests and extracts
// the principal they carry. Identity issuance lives outside this service:
// first-party HS256 tokens come from the deployment's own session issuer, and
// OIDC ID tokens come from an external identity provider. Either path yields
// the same Principal.
package auth

import (
	"context"
	"errors"

	"github.com/devflowfix/devflowfix/internal/config"
)

var (
	ErrNoVerifier   = errors.New("no token verifier configured")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Principal is the authenticated caller of an API request
type Principal struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Authenticator verifies bearer tokens against the configured mechanisms.
// HS256 is tried first (cheap, local); OIDC second.
type Authenticator struct {
	jwt  *JWTVerifier
	oidc *OIDCVerifier
}

// NewAuthenticator builds the authenticator from configuration. At least one
// mechanism must be configured. OIDC setup performs issuer discovery, so the
// context should carry a deadline.
func NewAuthenticator(ctx context.Context, cfg *config.AuthConfig) (*Authenticator, error) {
	a := &Authenticator{}

	if cfg.JWTSecret != "" {
		v, err := NewJWTVerifier(cfg.JWTSecret)
		if err != nil {
			return nil, err
		}
		a.jwt = v
	}
	if cfg.OIDC.Enabled {
		v, err := NewOIDCVerifier(ctx, &cfg.OIDC)
		if err != nil {
			return nil, err
		}
		a.oidc = v
	}
	if a.jwt == nil && a.oidc == nil {
		return nil, ErrNoVerifier
	}
	return a, nil
}

// Verify validates a bearer token and returns its principal
func (a *Authenticator) Verify(ctx context.Context, token string) (*Principal, error) {
	if a.jwt != nil {
		if p, err := a.jwt.Verify(token); err == nil {
			return p, nil
		}
	}
	if a.oidc != nil {
		if p, err := a.oidc.Verify(ctx, token); err == nil {
			return p, nil
		}
	}
	return nil, ErrInvalidToken
}
