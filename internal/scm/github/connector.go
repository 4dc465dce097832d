// Package github implements the code-host Connector interface for GitHub
// (both github.com and GitHub Enterprise Server). It uses the OAuth web
// application flow for authentication and the GitHub REST API v3 for
// repository, workflow run, and webhook operations.
package github

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/devflowfix/devflowfix/internal/scm"
)

const (
	defaultGitHubURL = "https://github.com"
	defaultAPIURL    = "https://api.github.com"

	// Log archives are fetched fully into memory before extraction, so both
	// the archive and the extracted text are size-capped.
	maxLogArchiveBytes = 64 << 20
	maxLogTextBytes    = 32 << 20

	defaultHTTPTimeout = 30 * time.Second
	defaultLogsTimeout = 5 * time.Minute
)

// GitHubConnector implements scm.Connector for GitHub
type GitHubConnector struct {
	clientID     string
	clientSecret string
	callbackURL  string
	baseURL      string
	apiURL       string
	retry        scm.RetryPolicy
	client       *http.Client
	// logsClient downloads run log archives, which can take far longer than
	// a normal API call on large matrix builds.
	logsClient *http.Client
}

// NewGitHubConnector creates a GitHub connector
func NewGitHubConnector(settings *scm.ConnectorSettings) (*GitHubConnector, error) {
	baseURL := defaultGitHubURL
	apiURL := defaultAPIURL

	if settings.InstanceBaseURL != "" {
		baseURL = settings.InstanceBaseURL
		apiURL = settings.InstanceBaseURL + "/api/v3"
	}

	retryPolicy := settings.Retry
	if retryPolicy.MaxAttempts == 0 {
		retryPolicy = scm.DefaultRetryPolicy()
	}
	httpTimeout := settings.HTTPTimeout
	if httpTimeout <= 0 {
		httpTimeout = defaultHTTPTimeout
	}
	logsTimeout := settings.LogsTimeout
	if logsTimeout <= 0 {
		logsTimeout = defaultLogsTimeout
	}

	return &GitHubConnector{
		clientID:     settings.ClientID,
		clientSecret: settings.ClientSecret,
		callbackURL:  settings.CallbackURL,
		baseURL:      baseURL,
		apiURL:       apiURL,
		retry:        retryPolicy,
		client:       &http.Client{Timeout: httpTimeout},
		logsClient:   &http.Client{Timeout: logsTimeout},
	}, nil
}

// Platform returns the provider kind
func (c *GitHubConnector) Platform() scm.ProviderKind {
	return scm.KindGitHub
}

// AuthorizationEndpoint returns the OAuth authorization URL
func (c *GitHubConnector) AuthorizationEndpoint(stateParam string, requestedScopes []string) string {
	scopes := "repo,read:user,workflow"
	if len(requestedScopes) > 0 {
		scopes = strings.Join(requestedScopes, ",")
	}

	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("redirect_uri", c.callbackURL)
	params.Set("state", stateParam)
	params.Set("scope", scopes)

	return fmt.Sprintf("%s/login/oauth/authorize?%s", c.baseURL, params.Encode())
}

// CompleteAuthorization exchanges an authorization code for an access token
func (c *GitHubConnector) CompleteAuthorization(ctx context.Context, authCode string) (*scm.AccessToken, error) {
	data := url.Values{}
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)
	data.Set("code", authCode)
	data.Set("redirect_uri", c.callbackURL)

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/login/oauth/access_token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("github: create token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return nil, scm.WrapRemoteError(0, "failed to exchange code", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, scm.WrapRemoteError(resp.StatusCode, "oauth code exchange failed", fmt.Errorf("%s", body))
	}

	// GitHub reports OAuth errors with a 200 status and an error field.
	var result struct {
		AccessToken      string `json:"access_token"`
		TokenType        string `json:"token_type"`
		Scope            string `json:"scope"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("github: decode token response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("%w: %s: %s", scm.ErrAuthCodeExchangeFailed, result.Error, result.ErrorDescription)
	}
	if result.AccessToken == "" {
		return nil, scm.ErrAuthCodeExchangeFailed
	}

	scopes := []string{}
	if result.Scope != "" {
		scopes = strings.Split(result.Scope, ",")
	}

	return &scm.AccessToken{
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
		Scopes:      scopes,
	}, nil
}

// RenewToken attempts to refresh an access token. GitHub OAuth app tokens do
// not expire and have no refresh flow.
func (c *GitHubConnector) RenewToken(ctx context.Context, refreshToken string) (*scm.AccessToken, error) {
	return nil, scm.ErrTokenRefreshFailed
}

// RevokeToken invalidates the OAuth grant for the token
func (c *GitHubConnector) RevokeToken(ctx context.Context, creds *scm.AccessToken) error {
	endpoint := fmt.Sprintf("%s/applications/%s/grant", c.apiURL, c.clientID)

	payload, _ := json.Marshal(map[string]string{"access_token": creds.AccessToken})
	req, err := http.NewRequestWithContext(ctx, "DELETE", endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("github: create revoke request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return scm.WrapRemoteError(0, "failed to revoke token", err)
	}
	defer resp.Body.Close()

	// 404 means the grant is already gone, which is the state we want.
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return scm.WrapRemoteError(resp.StatusCode, "failed to revoke token", nil)
}

// FetchViewer returns the account that owns the credentials
func (c *GitHubConnector) FetchViewer(ctx context.Context, creds *scm.AccessToken) (*scm.Account, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.apiURL+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("github: create viewer request: %w", err)
	}
	c.setAuthHeaders(req, creds)

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return nil, scm.WrapRemoteError(0, "failed to fetch viewer", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, scm.WrapRemoteError(resp.StatusCode, "failed to fetch viewer", nil)
	}

	var ghUser struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
		HTMLURL   string `json:"html_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ghUser); err != nil {
		return nil, fmt.Errorf("github: decode viewer: %w", err)
	}

	return &scm.Account{
		ExternalID: strconv.FormatInt(ghUser.ID, 10),
		Login:      ghUser.Login,
		Name:       ghUser.Name,
		Email:      ghUser.Email,
		AvatarURL:  ghUser.AvatarURL,
		ProfileURL: ghUser.HTMLURL,
	}, nil
}

// FetchRepositories lists repositories the user can access
func (c *GitHubConnector) FetchRepositories(ctx context.Context, creds *scm.AccessToken, pagination scm.Pagination) (*scm.RepoListResult, error) {
	page := pagination.PageNum
	if page < 1 {
		page = 1
	}
	perPage := pagination.PageSize
	if perPage < 1 || perPage > 100 {
		perPage = 30
	}

	endpoint := fmt.Sprintf("%s/user/repos?page=%d&per_page=%d&sort=updated&affiliation=owner,collaborator", c.apiURL, page, perPage)

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("github: create repo-list request: %w", err)
	}
	c.setAuthHeaders(req, creds)

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return nil, scm.WrapRemoteError(0, "failed to fetch repositories", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, scm.WrapRemoteError(resp.StatusCode, "failed to fetch repositories", nil)
	}

	var ghRepos []githubRepo
	if err := json.NewDecoder(resp.Body).Decode(&ghRepos); err != nil {
		return nil, fmt.Errorf("github: decode repo list: %w", err)
	}

	repos := make([]*scm.Repository, len(ghRepos))
	for i := range ghRepos {
		repos[i] = c.convertRepo(&ghRepos[i])
	}

	return &scm.RepoListResult{
		Repos:     repos,
		MorePages: len(repos) == perPage,
		NextPage:  page + 1,
	}, nil
}

// FetchRepository gets details for a specific repository
func (c *GitHubConnector) FetchRepository(ctx context.Context, creds *scm.AccessToken, ownerName, repoName string) (*scm.Repository, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s", c.apiURL, ownerName, repoName)

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("github: create fetch-repo request: %w", err)
	}
	c.setAuthHeaders(req, creds)

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return nil, scm.WrapRemoteError(0, "failed to fetch repository", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, scm.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, scm.WrapRemoteError(resp.StatusCode, "failed to fetch repository", nil)
	}

	var ghRepo githubRepo
	if err := json.NewDecoder(resp.Body).Decode(&ghRepo); err != nil {
		return nil, fmt.Errorf("github: decode repository: %w", err)
	}

	return c.convertRepo(&ghRepo), nil
}

// FetchFile retrieves a single file's decoded content at a ref
func (c *GitHubConnector) FetchFile(ctx context.Context, creds *scm.AccessToken, ownerName, repoName, filePath, gitRef string) (*scm.RepoFile, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.apiURL, ownerName, repoName, escapePath(filePath))
	if gitRef != "" {
		endpoint += "?ref=" + url.QueryEscape(gitRef)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("github: create contents request: %w", err)
	}
	c.setAuthHeaders(req, creds)

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return nil, scm.WrapRemoteError(0, "failed to fetch file", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, scm.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, scm.WrapRemoteError(resp.StatusCode, "failed to fetch file", nil)
	}

	var ghFile struct {
		Type     string `json:"type"`
		Encoding string `json:"encoding"`
		Size     int64  `json:"size"`
		Path     string `json:"path"`
		Content  string `json:"content"`
		SHA      string `json:"sha"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ghFile); err != nil {
		return nil, fmt.Errorf("github: decode file contents: %w", err)
	}
	if ghFile.Type != "file" {
		return nil, fmt.Errorf("github: %s is a %s, not a file", filePath, ghFile.Type)
	}

	// The contents API base64-encodes with embedded newlines.
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(ghFile.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("github: decode file body: %w", err)
	}

	return &scm.RepoFile{
		Path:    ghFile.Path,
		Ref:     gitRef,
		BlobSHA: ghFile.SHA,
		Size:    ghFile.Size,
		Content: string(raw),
	}, nil
}

// CreateBranch creates a branch pointing at an existing commit
func (c *GitHubConnector) CreateBranch(ctx context.Context, creds *scm.AccessToken, ownerName, repoName, branchName, fromSHA string) error {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/git/refs", c.apiURL, ownerName, repoName)

	payload, _ := json.Marshal(map[string]string{
		"ref": "refs/heads/" + branchName,
		"sha": fromSHA,
	})

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("github: create branch request: %w", err)
	}
	c.setAuthHeaders(req, creds)
	req.Header.Set("Content-Type", "application/json")

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return scm.WrapRemoteError(0, "failed to create branch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg := readErrorMessage(resp.Body)
		return scm.WrapRemoteError(resp.StatusCode, msg, nil)
	}
	return nil
}

// CommitFile writes one file change as a commit on a branch
func (c *GitHubConnector) CommitFile(ctx context.Context, creds *scm.AccessToken, ownerName, repoName string, change scm.FileChange) (*scm.GitCommit, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.apiURL, ownerName, repoName, escapePath(change.Path))

	body := map[string]string{
		"message": change.Message,
		"content": base64.StdEncoding.EncodeToString([]byte(change.Content)),
		"branch":  change.Branch,
	}
	if change.BlobSHA != "" {
		body["sha"] = change.BlobSHA
	}
	payload, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, "PUT", endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("github: create commit request: %w", err)
	}
	c.setAuthHeaders(req, creds)
	req.Header.Set("Content-Type", "application/json")

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return nil, scm.WrapRemoteError(0, "failed to commit file", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg := readErrorMessage(resp.Body)
		return nil, scm.WrapRemoteError(resp.StatusCode, msg, nil)
	}

	var result struct {
		Commit struct {
			SHA     string `json:"sha"`
			HTMLURL string `json:"html_url"`
		} `json:"commit"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("github: decode commit response: %w", err)
	}

	return &scm.GitCommit{
		SHA:     result.Commit.SHA,
		Message: change.Message,
		WebURL:  result.Commit.HTMLURL,
	}, nil
}

// OpenPullRequest opens a pull request
func (c *GitHubConnector) OpenPullRequest(ctx context.Context, creds *scm.AccessToken, ownerName, repoName string, draft scm.PullRequestDraft) (*scm.PullRequest, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/pulls", c.apiURL, ownerName, repoName)

	payload, _ := json.Marshal(map[string]any{
		"title": draft.Title,
		"body":  draft.Body,
		"head":  draft.SourceBranch,
		"base":  draft.TargetBranch,
		"draft": draft.Draft,
	})

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("github: create pull request: %w", err)
	}
	c.setAuthHeaders(req, creds)
	req.Header.Set("Content-Type", "application/json")

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return nil, scm.WrapRemoteError(0, "failed to open pull request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg := readErrorMessage(resp.Body)
		return nil, scm.WrapRemoteError(resp.StatusCode, msg, nil)
	}

	var ghPR githubPullRequest
	if err := json.NewDecoder(resp.Body).Decode(&ghPR); err != nil {
		return nil, fmt.Errorf("github: decode pull request: %w", err)
	}

	return convertPullRequest(&ghPR), nil
}

// FetchWorkflowRun gets a workflow run with normalized status and conclusion
func (c *GitHubConnector) FetchWorkflowRun(ctx context.Context, creds *scm.AccessToken, ownerName, repoName string, runID int64) (*scm.WorkflowRun, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/actions/runs/%d", c.apiURL, ownerName, repoName, runID)

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("github: create run request: %w", err)
	}
	c.setAuthHeaders(req, creds)

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return nil, scm.WrapRemoteError(0, "failed to fetch workflow run", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, scm.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, scm.WrapRemoteError(resp.StatusCode, "failed to fetch workflow run", nil)
	}

	var ghRun githubWorkflowRun
	if err := json.NewDecoder(resp.Body).Decode(&ghRun); err != nil {
		return nil, fmt.Errorf("github: decode workflow run: %w", err)
	}

	return convertWorkflowRun(&ghRun), nil
}

// DownloadRunLogs streams the plain-text log output of a workflow run.
// GitHub serves run logs as a zip archive of per-job text files behind a
// redirect; the archive is fetched, extracted, and concatenated here so
// callers see one text stream regardless of platform.
func (c *GitHubConnector) DownloadRunLogs(ctx context.Context, creds *scm.AccessToken, ownerName, repoName string, runID int64) (io.ReadCloser, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/actions/runs/%d/logs", c.apiURL, ownerName, repoName, runID)

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("github: create logs request: %w", err)
	}
	c.setAuthHeaders(req, creds)

	// The client follows the 302 to the signed archive URL automatically.
	resp, err := scm.DoRequest(c.logsClient, c.retry, req)
	if err != nil {
		return nil, scm.WrapRemoteError(0, "failed to download run logs", err)
	}
	defer resp.Body.Close()

	// Expired log archives come back as 404 or 410 depending on age.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, scm.ErrLogsExpired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, scm.WrapRemoteError(resp.StatusCode, "failed to download run logs", nil)
	}

	archive, err := io.ReadAll(io.LimitReader(resp.Body, maxLogArchiveBytes))
	if err != nil {
		return nil, fmt.Errorf("github: read log archive: %w", err)
	}

	text, err := extractLogArchive(archive)
	if err != nil {
		return nil, fmt.Errorf("github: extract log archive: %w", err)
	}
	return io.NopCloser(bytes.NewReader(text)), nil
}

// RerunWorkflow requests a fresh execution of a workflow run
func (c *GitHubConnector) RerunWorkflow(ctx context.Context, creds *scm.AccessToken, ownerName, repoName string, runID int64) error {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/actions/runs/%d/rerun", c.apiURL, ownerName, repoName, runID)

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, nil)
	if err != nil {
		return fmt.Errorf("github: create rerun request: %w", err)
	}
	c.setAuthHeaders(req, creds)

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return scm.WrapRemoteError(0, "failed to rerun workflow", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return scm.ErrNotFound
	}
	if resp.StatusCode != http.StatusCreated {
		msg := readErrorMessage(resp.Body)
		return scm.WrapRemoteError(resp.StatusCode, msg, nil)
	}
	return nil
}

// Helper methods

func (c *GitHubConnector) setAuthHeaders(req *http.Request, creds *scm.AccessToken) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", creds.AccessToken))
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
}

func (c *GitHubConnector) convertRepo(ghRepo *githubRepo) *scm.Repository {
	return &scm.Repository{
		ExternalID:    strconv.FormatInt(ghRepo.ID, 10),
		Owner:         ghRepo.Owner.Login,
		Name:          ghRepo.Name,
		FullName:      ghRepo.FullName,
		Description:   ghRepo.Description,
		WebURL:        ghRepo.HTMLURL,
		CloneURL:      ghRepo.CloneURL,
		DefaultBranch: ghRepo.DefaultBranch,
		Private:       ghRepo.Private,
		Archived:      ghRepo.Archived,
		UpdatedAt:     ghRepo.UpdatedAt,
	}
}

func convertPullRequest(ghPR *githubPullRequest) *scm.PullRequest {
	return &scm.PullRequest{
		Number:       ghPR.Number,
		Title:        ghPR.Title,
		State:        ghPR.State,
		Merged:       ghPR.Merged,
		SourceBranch: ghPR.Head.Ref,
		TargetBranch: ghPR.Base.Ref,
		WebURL:       ghPR.HTMLURL,
		CreatedAt:    ghPR.CreatedAt,
		ClosedAt:     ghPR.ClosedAt,
	}
}

func convertWorkflowRun(ghRun *githubWorkflowRun) *scm.WorkflowRun {
	run := &scm.WorkflowRun{
		ExternalID: ghRun.ID,
		Name:       ghRun.Name,
		Status:     normalizeRunStatus(ghRun.Status),
		Conclusion: normalizeRunConclusion(ghRun.Conclusion),
		HeadBranch: ghRun.HeadBranch,
		HeadSHA:    ghRun.HeadSHA,
		Event:      ghRun.Event,
		WebURL:     ghRun.HTMLURL,
		RunAttempt: ghRun.RunAttempt,
	}
	if ghRun.RunStartedAt != nil {
		run.StartedAt = ghRun.RunStartedAt
	}
	// GitHub has no finished_at field; updated_at is the closest signal
	// once the run has completed.
	if run.Status == scm.RunCompleted && ghRun.UpdatedAt != nil {
		run.FinishedAt = ghRun.UpdatedAt
	}
	return run
}

func normalizeRunStatus(status string) scm.RunStatus {
	switch status {
	case "completed":
		return scm.RunCompleted
	case "in_progress":
		return scm.RunInProgress
	default:
		// queued, waiting, requested, pending
		return scm.RunQueued
	}
}

func normalizeRunConclusion(conclusion string) scm.RunConclusion {
	switch conclusion {
	case "":
		return ""
	case "success":
		return scm.ConclusionSuccess
	case "failure", "startup_failure":
		return scm.ConclusionFailure
	case "cancelled":
		return scm.ConclusionCancelled
	case "skipped":
		return scm.ConclusionSkipped
	case "timed_out":
		return scm.ConclusionTimedOut
	case "action_required":
		return scm.ConclusionActionRequired
	case "neutral":
		return scm.ConclusionNeutral
	default:
		return scm.ConclusionUnknown
	}
}

// extractLogArchive concatenates the text entries of a run log archive in
// name order, each preceded by a marker line naming the source file.
func extractLogArchive(archive []byte) ([]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, err
	}

	entries := make([]*zip.File, 0, len(reader.File))
	for _, f := range reader.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, ".txt") {
			continue
		}
		entries = append(entries, f)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	var buf bytes.Buffer
	for _, f := range entries {
		if buf.Len() >= maxLogTextBytes {
			break
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, "===== %s =====\n", f.Name)
		_, err = io.Copy(&buf, io.LimitReader(rc, int64(maxLogTextBytes-buf.Len())))
		rc.Close()
		if err != nil {
			return nil, err
		}
		if buf.Len() == 0 || buf.Bytes()[buf.Len()-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

// readErrorMessage pulls the message field out of a GitHub error body,
// falling back to the raw body when it is not the usual JSON shape.
func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var ghErr struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &ghErr) == nil && ghErr.Message != "" {
		return ghErr.Message
	}
	return strings.TrimSpace(string(raw))
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

type githubRepo struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	Description   string    `json:"description"`
	Private       bool      `json:"private"`
	Archived      bool      `json:"archived"`
	HTMLURL       string    `json:"html_url"`
	CloneURL      string    `json:"clone_url"`
	DefaultBranch string    `json:"default_branch"`
	UpdatedAt     time.Time `json:"updated_at"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
}

type githubPullRequest struct {
	Number    int64      `json:"number"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	Merged    bool       `json:"merged"`
	HTMLURL   string     `json:"html_url"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at"`
	Head      struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

type githubWorkflowRun struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	HeadBranch   string     `json:"head_branch"`
	HeadSHA      string     `json:"head_sha"`
	RunNumber    int        `json:"run_number"`
	RunAttempt   int        `json:"run_attempt"`
	Event        string     `json:"event"`
	Status       string     `json:"status"`
	Conclusion   string     `json:"conclusion"`
	HTMLURL      string     `json:"html_url"`
	RunStartedAt *time.Time `json:"run_started_at"`
	UpdatedAt    *time.Time `json:"updated_at"`
}

func init() {
	scm.RegisterConnector(scm.KindGitHub, func(settings *scm.ConnectorSettings) (scm.Connector, error) {
		return NewGitHubConnector(settings)
	})
}
