// connection_service.go manages monitored repository connections: browsing
// the repositories a linked account can reach, connecting one (which installs
// the delivery webhook), tuning its settings, and disconnecting it again.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devflowfix/devflowfix/internal/artifacts"
	"github.com/devflowfix/devflowfix/internal/db/models"
	"github.com/devflowfix/devflowfix/internal/db/repositories"
	"github.com/devflowfix/devflowfix/internal/scm"
)

// connectionStore is the slice of RepositoryConnectionRepository this service
// uses
type connectionStore interface {
	Create(ctx context.Context, rc *models.RepositoryConnection) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.RepositoryConnection, error)
	GetByUserFullName(ctx context.Context, userID, fullName string) (*models.RepositoryConnection, error)
	ListByUser(ctx context.Context, userID string) ([]*models.RepositoryConnection, error)
	UpdateSettings(ctx context.Context, id uuid.UUID, isEnabled, autoPREnabled *bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// accountResolver finds the user's linked account for a provider
type accountResolver interface {
	GetByUserProvider(ctx context.Context, userID, provider string) (*models.OAuthConnection, error)
}

// statsSources aggregates the per-table stat queries for the dashboard
type statsSources interface {
	RunStats(ctx context.Context) (*repositories.RunStats, error)
	PRStats(ctx context.Context) (*repositories.PRStats, error)
	IncidentStatusCounts(ctx context.Context) (map[string]int, error)
}

// RepoStats adapts the repository aggregate queries to the statsSources
// surface the service consumes
type RepoStats struct {
	Runs      *repositories.WorkflowRunRepository
	PRs       *repositories.PullRequestRepository
	Incidents *repositories.IncidentRepository
}

func (r *RepoStats) RunStats(ctx context.Context) (*repositories.RunStats, error) {
	return r.Runs.Stats(ctx)
}

func (r *RepoStats) PRStats(ctx context.Context) (*repositories.PRStats, error) {
	return r.PRs.Stats(ctx)
}

func (r *RepoStats) IncidentStatusCounts(ctx context.Context) (map[string]int, error) {
	return r.Incidents.StatusCounts(ctx)
}

// ConnectionService owns the repository connection lifecycle
type ConnectionService struct {
	conns      connectionStore
	accounts   accountResolver
	vault      *TokenVault
	connectors connectorSource
	hooks      *WebhookManager
	stats      statsSources
	archive    artifacts.Store
}

// NewConnectionService creates the service. The archive store may be nil.
func NewConnectionService(
	conns connectionStore,
	accounts accountResolver,
	vault *TokenVault,
	connectors connectorSource,
	hooks *WebhookManager,
	stats statsSources,
	archive artifacts.Store,
) *ConnectionService {
	return &ConnectionService{
		conns: conns, accounts: accounts, vault: vault,
		connectors: connectors, hooks: hooks, stats: stats, archive: archive,
	}
}

// credentials resolves the user's linked account for a provider into usable
// credentials plus the connector to call with them.
func (s *ConnectionService) credentials(ctx context.Context, userID, provider string) (*scm.AccessToken, scm.Connector, error) {
	acct, err := s.accounts.GetByUserProvider(ctx, userID, provider)
	if err != nil {
		return nil, nil, err
	}
	if acct == nil {
		return nil, nil, ErrNotConnected
	}
	creds, _, err := s.vault.CredentialsFor(ctx, acct.ID)
	if err != nil {
		return nil, nil, err
	}
	connector, err := s.connectors.For(provider)
	if err != nil {
		return nil, nil, err
	}
	return creds, connector, nil
}

// AvailableRepositories lists repositories the user's linked account can
// reach on the code host, one page at a time.
func (s *ConnectionService) AvailableRepositories(ctx context.Context, userID, provider string, page, pageSize int) (*scm.RepoListResult, error) {
	creds, connector, err := s.credentials(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	pg := scm.DefaultPagination()
	if page > 0 {
		pg.PageNum = page
	}
	if pageSize > 0 {
		pg.PageSize = pageSize
	}
	return connector.FetchRepositories(ctx, creds, pg)
}

// ConnectOptions tunes how a repository is connected. Nil pointers take the
// defaults: auto-PR on, webhook installed, provider default event types.
type ConnectOptions struct {
	AutoPREnabled *bool
	SetupWebhook  *bool
	Events        []string
}

// Connect starts monitoring a repository: the repository is looked up on the
// code host, the connection row is created, and the delivery webhook is
// installed unless the options opt out. A webhook install failure keeps the
// connection (deliveries just will not verify until the hook is repaired),
// because the remote repository state is already confirmed good.
func (s *ConnectionService) Connect(ctx context.Context, userID, provider, fullName string, opts ConnectOptions) (*models.RepositoryConnection, error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("malformed repository full name: %q", fullName)
	}

	if existing, err := s.conns.GetByUserFullName(ctx, userID, fullName); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrAlreadyConnected
	}

	acct, err := s.accounts.GetByUserProvider(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, ErrNotConnected
	}
	creds, _, err := s.vault.CredentialsFor(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	connector, err := s.connectors.For(provider)
	if err != nil {
		return nil, err
	}

	repo, err := connector.FetchRepository(ctx, creds, owner, name)
	if err != nil {
		return nil, fmt.Errorf("fetch repository: %w", err)
	}

	autoPR := true
	if opts.AutoPREnabled != nil {
		autoPR = *opts.AutoPREnabled
	}
	setupWebhook := true
	if opts.SetupWebhook != nil {
		setupWebhook = *opts.SetupWebhook
	}

	now := time.Now()
	rc := &models.RepositoryConnection{
		ID:                 uuid.New(),
		UserID:             userID,
		OAuthConnectionID:  acct.ID,
		Provider:           provider,
		ExternalRepoID:     repo.ExternalID,
		RepositoryFullName: repo.FullName,
		DefaultBranch:      repo.DefaultBranch,
		WebhookStatus:      models.WebhookInactive,
		IsEnabled:          true,
		AutoPREnabled:      autoPR,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.conns.Create(ctx, rc); err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}

	if setupWebhook {
		if err := s.hooks.Install(ctx, connector, creds, rc, opts.Events); err != nil {
			slog.Warn("webhook install failed, connection kept without hook",
				"repository", rc.RepositoryFullName, "error", err)
		}
	}

	slog.Info("repository connected",
		"provider", provider, "repository", rc.RepositoryFullName)
	return rc, nil
}

// Disconnect stops monitoring a repository. The webhook and archived logs are
// removed best effort; the local row always goes.
func (s *ConnectionService) Disconnect(ctx context.Context, userID string, id uuid.UUID) error {
	rc, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}

	if creds, connector, err := s.credentials(ctx, userID, rc.Provider); err == nil {
		if err := s.hooks.Remove(ctx, connector, creds, rc); err != nil {
			slog.Warn("webhook removal failed during disconnect",
				"repository", rc.RepositoryFullName, "error", err)
		}
	} else {
		slog.Warn("disconnecting without credentials, webhook left on code host",
			"repository", rc.RepositoryFullName, "error", err)
	}

	if s.archive != nil {
		prefix := artifacts.RunLogPrefix(rc.Provider, rc.RepositoryFullName)
		if err := s.archive.DeletePrefix(ctx, prefix); err != nil {
			slog.Warn("pruning archived logs failed", "prefix", prefix, "error", err)
		}
	}

	return s.conns.Delete(ctx, rc.ID)
}

// Update applies a partial settings change. Nil fields keep their value.
func (s *ConnectionService) Update(ctx context.Context, userID string, id uuid.UUID, isEnabled, autoPREnabled *bool) (*models.RepositoryConnection, error) {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return nil, err
	}
	if err := s.conns.UpdateSettings(ctx, id, isEnabled, autoPREnabled); err != nil {
		return nil, err
	}
	return s.conns.GetByID(ctx, id)
}

// Get returns one of the user's connections
func (s *ConnectionService) Get(ctx context.Context, userID string, id uuid.UUID) (*models.RepositoryConnection, error) {
	return s.owned(ctx, userID, id)
}

// List returns the user's connections, newest first
func (s *ConnectionService) List(ctx context.Context, userID string) ([]*models.RepositoryConnection, error) {
	return s.conns.ListByUser(ctx, userID)
}

// DashboardStats is the aggregate view for the stats endpoint
type DashboardStats struct {
	Connections      int                    `json:"connections"`
	EnabledConns     int                    `json:"enabled_connections"`
	Runs             *repositories.RunStats `json:"runs"`
	PullRequests     *repositories.PRStats  `json:"pull_requests"`
	IncidentsByState map[string]int         `json:"incidents_by_state"`
}

// Stats assembles the dashboard aggregates. Connection counts are scoped to
// the user; run, incident, and pull request totals are deployment-wide.
func (s *ConnectionService) Stats(ctx context.Context, userID string) (*DashboardStats, error) {
	conns, err := s.conns.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	enabled := 0
	for _, rc := range conns {
		if rc.IsEnabled {
			enabled++
		}
	}

	runStats, err := s.stats.RunStats(ctx)
	if err != nil {
		return nil, err
	}
	prStats, err := s.stats.PRStats(ctx)
	if err != nil {
		return nil, err
	}
	incidentCounts, err := s.stats.IncidentStatusCounts(ctx)
	if err != nil {
		return nil, err
	}

	return &DashboardStats{
		Connections:      len(conns),
		EnabledConns:     enabled,
		Runs:             runStats,
		PullRequests:     prStats,
		IncidentsByState: incidentCounts,
	}, nil
}

// owned loads a connection and enforces that it belongs to the user
func (s *ConnectionService) owned(ctx context.Context, userID string, id uuid.UUID) (*models.RepositoryConnection, error) {
	rc, err := s.conns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, ErrConnectionNotFound
	}
	if rc.UserID != userID {
		return nil, ErrNotOwner
	}
	return rc, nil
}
