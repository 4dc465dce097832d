// Package services implements the application workflows that sit between the
// HTTP handlers and the storage/provider layers: OAuth account linking,
// repository connection lifecycle, webhook ingest tracking, and automated
// remediation of failed CI runs.
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/devflowfix/devflowfix/internal/config"
	"github.com/devflowfix/devflowfix/internal/scm"
)

// Errors surfaced to the API layer. Handlers translate these to status codes;
// everything else is an internal error.
var (
	ErrProviderNotConfigured = errors.New("oauth application not configured for provider")
	ErrNotConnected          = errors.New("no active code-host connection for provider")
	ErrStateMismatch         = errors.New("oauth state does not belong to this flow")
	ErrConnectionNotFound    = errors.New("connection not found")
	ErrNotOwner              = errors.New("connection belongs to another user")
	ErrAlreadyConnected      = errors.New("repository is already connected")
	ErrRunNotFound           = errors.New("workflow run not found")
	ErrIncidentNotFound      = errors.New("incident not found")
	ErrRemediationInFlight   = errors.New("remediation attempt already in progress")
	ErrAlreadyRemediated     = errors.New("incident already has a remediation pull request")
)

// ConnectorSource builds code-host connectors from the configured OAuth
// applications. A provider without a client_id is treated as not offered by
// this deployment.
type ConnectorSource struct {
	cfg *config.Config
}

// NewConnectorSource creates a connector source over the loaded configuration
func NewConnectorSource(cfg *config.Config) *ConnectorSource {
	return &ConnectorSource{cfg: cfg}
}

// For returns a connector for the named provider. The connector carries the
// configured retry and timeout behavior for every API call it makes.
func (s *ConnectorSource) For(provider string) (scm.Connector, error) {
	pcfg, ok := s.cfg.OAuth.ForProvider(provider)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)
	}
	return scm.BuildConnector(&scm.ConnectorSettings{
		Kind:            scm.ProviderKind(provider),
		InstanceBaseURL: pcfg.BaseURL,
		ClientID:        pcfg.ClientID,
		ClientSecret:    pcfg.ClientSecret,
		CallbackURL:     pcfg.RedirectURI,
		Retry: scm.RetryPolicy{
			MaxAttempts: s.cfg.Provider.RetryMaxAttempts,
			BaseDelay:   time.Duration(s.cfg.Provider.RetryBaseDelayMS) * time.Millisecond,
			MaxDelay:    time.Duration(s.cfg.Provider.RetryMaxDelayMS) * time.Millisecond,
		},
		HTTPTimeout: s.cfg.Provider.HTTPTimeout(),
		LogsTimeout: s.cfg.Provider.LogsTimeout(),
	})
}

// Scopes returns the OAuth scopes requested during authorization
func (s *ConnectorSource) Scopes(provider string) []string {
	pcfg, _ := s.cfg.OAuth.ForProvider(provider)
	return pcfg.Scopes
}

// connectorSource is the slice of ConnectorSource the services depend on,
// kept as an interface so tests can substitute fake connectors.
type connectorSource interface {
	For(provider string) (scm.Connector, error)
	Scopes(provider string) []string
}
