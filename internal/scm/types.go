// types.go declares the shared data structures used across the scm package:
// provider kinds, OAuth tokens, repositories, files, pull requests, CI runs,
// and parsed webhook deliveries.
package scm

import "time"

// ProviderKind identifies a supported code-host platform
type ProviderKind string

const (
	KindGitHub ProviderKind = "github"
	KindGitLab ProviderKind = "gitlab"
)

// Valid reports whether the provider kind is supported
func (p ProviderKind) Valid() bool {
	switch p {
	case KindGitHub, KindGitLab:
		return true
	default:
		return false
	}
}

// String returns the string representation of the provider kind
func (p ProviderKind) String() string {
	return string(p)
}

// AccessToken is an OAuth 2.0 credential for a code host. Raw token strings
// live only in memory; persistence always goes through the crypto keyring.
type AccessToken struct {
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	TokenType    string     `json:"token_type"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Scopes       []string   `json:"scopes,omitempty"`
}

// IsExpired reports whether the token's expiry has passed. Tokens without an
// expiry (GitHub OAuth app tokens) never expire client-side.
func (t *AccessToken) IsExpired() bool {
	if t.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*t.ExpiresAt)
}

// Account is the code-host identity that authorized a connection
type Account struct {
	ExternalID string `json:"external_id"`
	Login      string `json:"login"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
	ProfileURL string `json:"profile_url,omitempty"`
}

// Repository is a source code repository on a code host
type Repository struct {
	ExternalID    string    `json:"external_id"`
	Owner         string    `json:"owner"`
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	Description   string    `json:"description,omitempty"`
	WebURL        string    `json:"web_url"`
	CloneURL      string    `json:"clone_url"`
	DefaultBranch string    `json:"default_branch"`
	Private       bool      `json:"private"`
	Archived      bool      `json:"archived"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RepoFile is a single file fetched from a repository at a specific ref.
// Content holds the decoded file body, not the base64 transport encoding.
type RepoFile struct {
	Path    string `json:"path"`
	Ref     string `json:"ref"`
	BlobSHA string `json:"blob_sha"`
	Size    int64  `json:"size"`
	Content string `json:"content"`
}

// FileChange describes one file write committed to a branch. An empty BlobSHA
// creates the file; a non-empty one updates the existing blob (GitHub requires
// the current blob SHA for updates, GitLab infers create-vs-update itself).
type FileChange struct {
	Path    string
	Branch  string
	Content string
	Message string
	BlobSHA string
}

// GitCommit is a single commit reference returned from a write operation
type GitCommit struct {
	SHA       string    `json:"sha"`
	Message   string    `json:"message,omitempty"`
	WebURL    string    `json:"web_url,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// PullRequestDraft holds the inputs for opening a pull request
type PullRequestDraft struct {
	Title        string
	Body         string
	SourceBranch string
	TargetBranch string
	Draft        bool
}

// PullRequest is an open or historical pull request (merge request on GitLab)
type PullRequest struct {
	Number       int64      `json:"number"`
	Title        string     `json:"title"`
	State        string     `json:"state"`
	Merged       bool       `json:"merged"`
	SourceBranch string     `json:"source_branch"`
	TargetBranch string     `json:"target_branch"`
	WebURL       string     `json:"web_url"`
	CreatedAt    time.Time  `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

// RunStatus is the normalized execution state of a CI run. Each connector maps
// its platform's vocabulary onto these three values.
type RunStatus string

const (
	RunQueued     RunStatus = "queued"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
)

// RunConclusion is the normalized terminal result of a completed run
type RunConclusion string

const (
	ConclusionSuccess        RunConclusion = "success"
	ConclusionFailure        RunConclusion = "failure"
	ConclusionCancelled      RunConclusion = "cancelled"
	ConclusionSkipped        RunConclusion = "skipped"
	ConclusionTimedOut       RunConclusion = "timed_out"
	ConclusionActionRequired RunConclusion = "action_required"
	ConclusionNeutral        RunConclusion = "neutral"
	ConclusionUnknown        RunConclusion = "unknown"
)

// Failed reports whether the conclusion should trigger remediation.
// Cancelled and skipped runs are deliberate outcomes, not failures.
func (c RunConclusion) Failed() bool {
	return c == ConclusionFailure || c == ConclusionTimedOut
}

// WorkflowRun is a CI run (GitHub Actions workflow run, GitLab pipeline)
type WorkflowRun struct {
	ExternalID int64         `json:"external_id"`
	Name       string        `json:"name,omitempty"`
	Status     RunStatus     `json:"status"`
	Conclusion RunConclusion `json:"conclusion,omitempty"`
	HeadBranch string        `json:"head_branch"`
	HeadSHA    string        `json:"head_sha"`
	Event      string        `json:"event,omitempty"`
	WebURL     string        `json:"web_url"`
	RunAttempt int           `json:"run_attempt,omitempty"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// Hook event types after connector normalization. GitHub and GitLab use
// different event vocabularies on the wire; ParseDelivery maps both onto
// this shared set.
const (
	HookEventRun         = "workflow_run"
	HookEventPullRequest = "pull_request"
	HookEventPush        = "push"
	HookEventPing        = "ping"
	HookEventUnknown     = "unknown"
)

// IncomingHook is a parsed webhook delivery. Exactly one of Run or PullReq is
// set depending on Event; push and ping deliveries carry neither.
type IncomingHook struct {
	DeliveryID string       `json:"delivery_id,omitempty"`
	Event      string       `json:"event"`
	Action     string       `json:"action,omitempty"`
	Repo       *Repository  `json:"repository,omitempty"`
	Run        *WorkflowRun `json:"run,omitempty"`
	PullReq    *PullRequest `json:"pull_request,omitempty"`
	Sender     string       `json:"sender,omitempty"`
}
