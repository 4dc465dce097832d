// oidc.go validates ID tokens issued by an external OpenID Connect provider.
// Only verification is implemented here; the authorization code flow happens
// between the frontend and the identity provider directly.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/devflowfix/devflowfix/internal/config"
)

// OIDCVerifier validates ID tokens against a discovered issuer
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer and builds a verifier pinned to the
// configured audience.
func NewOIDCVerifier(ctx context.Context, cfg *config.OIDCConfig) (*OIDCVerifier, error) {
	if cfg.IssuerURL == "" {
		return nil, errors.New("oidc issuer URL is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("oidc audience is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover oidc issuer: %w", err)
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.Audience}),
	}, nil
}

// Verify validates the raw ID token and extracts the principal. The subject
// claim is the stable user identifier; email and name are advisory.
func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string) (*Principal, error) {
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse id token claims: %w", err)
	}
	if idToken.Subject == "" {
		return nil, errors.New("id token missing sub claim")
	}
	return &Principal{UserID: idToken.Subject, Email: claims.Email, Name: claims.Name}, nil
}
