// Package scm defines the code-host connector interface and the registry for
// instantiating platform implementations. Supported platforms are GitHub and
// GitLab (cloud or self-hosted). New platforms are added by implementing the
// Connector interface and registering with the registry — no changes to the
// core logic are required.
package scm

import (
	"context"
	"io"
	"time"
)

// Connector defines the operations available on a code-host platform
type Connector interface {
	// Platform returns the provider kind
	Platform() ProviderKind

	// AuthorizationEndpoint returns the URL to redirect users for OAuth
	AuthorizationEndpoint(stateParam string, requestedScopes []string) string

	// CompleteAuthorization exchanges an auth code for tokens
	CompleteAuthorization(ctx context.Context, authCode string) (*AccessToken, error)

	// RenewToken refreshes an expired access token
	RenewToken(ctx context.Context, refreshToken string) (*AccessToken, error)

	// RevokeToken invalidates a token on the code host
	RevokeToken(ctx context.Context, creds *AccessToken) error

	// FetchViewer returns the account that owns the credentials
	FetchViewer(ctx context.Context, creds *AccessToken) (*Account, error)

	// FetchRepositories lists repositories the user can access
	FetchRepositories(ctx context.Context, creds *AccessToken, pagination Pagination) (*RepoListResult, error)

	// FetchRepository gets details for a specific repository
	FetchRepository(ctx context.Context, creds *AccessToken, ownerName, repoName string) (*Repository, error)

	// FetchFile retrieves a single file's decoded content at a ref
	FetchFile(ctx context.Context, creds *AccessToken, ownerName, repoName, filePath, gitRef string) (*RepoFile, error)

	// CreateBranch creates a branch pointing at an existing commit
	CreateBranch(ctx context.Context, creds *AccessToken, ownerName, repoName, branchName, fromSHA string) error

	// CommitFile writes one file change as a commit on a branch
	CommitFile(ctx context.Context, creds *AccessToken, ownerName, repoName string, change FileChange) (*GitCommit, error)

	// OpenPullRequest opens a pull request (merge request on GitLab)
	OpenPullRequest(ctx context.Context, creds *AccessToken, ownerName, repoName string, draft PullRequestDraft) (*PullRequest, error)

	// FetchWorkflowRun gets a CI run with normalized status and conclusion
	FetchWorkflowRun(ctx context.Context, creds *AccessToken, ownerName, repoName string, runID int64) (*WorkflowRun, error)

	// DownloadRunLogs streams the raw log output of a CI run
	DownloadRunLogs(ctx context.Context, creds *AccessToken, ownerName, repoName string, runID int64) (io.ReadCloser, error)

	// RerunWorkflow requests a fresh execution of a CI run
	RerunWorkflow(ctx context.Context, creds *AccessToken, ownerName, repoName string, runID int64) error

	// RegisterWebhook creates a webhook on the repository
	RegisterWebhook(ctx context.Context, creds *AccessToken, ownerName, repoName string, hookConfig WebhookSetup) (*WebhookInfo, error)

	// RemoveWebhook deletes a webhook from the repository
	RemoveWebhook(ctx context.Context, creds *AccessToken, ownerName, repoName, hookID string) error

	// ParseDelivery parses an incoming webhook payload
	ParseDelivery(payloadBytes []byte, httpHeaders map[string]string) (*IncomingHook, error)

	// VerifyDeliverySignature validates webhook authenticity
	VerifyDeliverySignature(payloadBytes []byte, signatureHeader, sharedSecret string) bool
}

// Pagination holds page navigation parameters
type Pagination struct {
	PageNum  int
	PageSize int
}

// DefaultPagination returns standard pagination settings
func DefaultPagination() Pagination {
	return Pagination{PageNum: 1, PageSize: 30}
}

// RepoListResult contains paginated repository results
type RepoListResult struct {
	Repos     []*Repository
	MorePages bool
	NextPage  int
}

// WebhookSetup contains parameters for creating a webhook
type WebhookSetup struct {
	CallbackURL   string
	SharedSecret  string
	EventTypes    []string
	ActiveOnSetup bool
}

// WebhookInfo describes a registered webhook
type WebhookInfo struct {
	ExternalID  string
	CallbackURL string
	EventTypes  []string
	IsActive    bool
}

// ConnectorSettings holds configuration for creating a connector. Zero values
// for the HTTP behavior fields fall back to connector defaults.
type ConnectorSettings struct {
	Kind            ProviderKind
	InstanceBaseURL string
	ClientID        string
	ClientSecret    string
	CallbackURL     string

	// Retry bounds how API calls are retried on rate limits and transient
	// failures. LogsTimeout is a separate, longer budget for run-log
	// downloads.
	Retry       RetryPolicy
	HTTPTimeout time.Duration
	LogsTimeout time.Duration
}

// Validate checks if the settings are complete
func (s *ConnectorSettings) Validate() error {
	if !s.Kind.Valid() {
		return ErrInvalidProviderKind
	}
	if s.ClientID == "" {
		return ErrMissingClientID
	}
	if s.ClientSecret == "" {
		return ErrMissingClientSecret
	}
	if s.CallbackURL == "" {
		return ErrMissingRedirectURL
	}
	return nil
}
