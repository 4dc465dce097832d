// Package gitlab implements the code-host Connector interface for GitLab
// (both gitlab.com and self-hosted CE/EE). It uses GitLab's OAuth 2.0 flow
// and the REST API v4 for project, pipeline, and webhook operations. Project
// paths are URL-encoded into a single path segment as the API requires.
package gitlab

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/devflowfix/devflowfix/internal/scm"
)

const (
	defaultGitLabURL = "https://gitlab.com"

	// Pipelines with more jobs than this have their later traces dropped
	// from the combined log rather than paginating indefinitely.
	maxJobsPerPipeline = 100
	maxLogTextBytes    = 32 << 20

	defaultHTTPTimeout = 30 * time.Second
	defaultLogsTimeout = 5 * time.Minute
)

// GitLabConnector implements scm.Connector for GitLab
type GitLabConnector struct {
	clientID     string
	clientSecret string
	callbackURL  string
	baseURL      string
	apiURL       string
	retry        scm.RetryPolicy
	client       *http.Client
	// logsClient covers job trace downloads, which add up on large pipelines.
	logsClient *http.Client
}

// NewGitLabConnector creates a GitLab connector
func NewGitLabConnector(settings *scm.ConnectorSettings) (*GitLabConnector, error) {
	baseURL := defaultGitLabURL
	apiURL := defaultGitLabURL + "/api/v4"

	if settings.InstanceBaseURL != "" {
		baseURL = settings.InstanceBaseURL
		apiURL = settings.InstanceBaseURL + "/api/v4"
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

	return &GitLabConnector{
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
func (c *GitLabConnector) Platform() scm.ProviderKind {
	return scm.KindGitLab
}

// AuthorizationEndpoint returns the OAuth authorization URL
func (c *GitLabConnector) AuthorizationEndpoint(stateParam string, requestedScopes []string) string {
	scopes := "api read_user"
	if len(requestedScopes) > 0 {
		scopes = strings.Join(requestedScopes, " ")
	}

	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("redirect_uri", c.callbackURL)
	params.Set("response_type", "code")
	params.Set("state", stateParam)
	params.Set("scope", scopes)

	return fmt.Sprintf("%s/oauth/authorize?%s", c.baseURL, params.Encode())
}

// CompleteAuthorization exchanges an authorization code for an access token
func (c *GitLabConnector) CompleteAuthorization(ctx context.Context, authCode string) (*scm.AccessToken, error) {
	data := url.Values{}
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)
	data.Set("code", authCode)
	data.Set("grant_type", "authorization_code")
	data.Set("redirect_uri", c.callbackURL)

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/oauth/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("gitlab: create token request: %w", err)
	}
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

	var result struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
		Scope        string `json:"scope"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("gitlab: decode token response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, scm.ErrAuthCodeExchangeFailed
	}

	scopes := []string{}
	if result.Scope != "" {
		scopes = strings.Split(result.Scope, " ")
	}

	token := &scm.AccessToken{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    result.TokenType,
		Scopes:       scopes,
	}
	if result.ExpiresIn > 0 {
		expiresAt := time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
		token.ExpiresAt = &expiresAt
	}
	return token, nil
}

// RenewToken refreshes an expired access token
func (c *GitLabConnector) RenewToken(ctx context.Context, refreshToken string) (*scm.AccessToken, error) {
	data := url.Values{}
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)
	data.Set("refresh_token", refreshToken)
	data.Set("grant_type", "refresh_token")
	data.Set("redirect_uri", c.callbackURL)

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/oauth/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("gitlab: create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return nil, scm.WrapRemoteError(0, "failed to refresh token", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, scm.ErrTokenRefreshFailed
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("gitlab: decode refresh response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, scm.ErrTokenRefreshFailed
	}

	token := &scm.AccessToken{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    result.TokenType,
	}
	if result.ExpiresIn > 0 {
		expiresAt := time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
		token.ExpiresAt = &expiresAt
	}
	return token, nil
}

// RevokeToken invalidates a token on the GitLab instance
func (c *GitLabConnector) RevokeToken(ctx context.Context, creds *scm.AccessToken) error {
	data := url.Values{}
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)
	data.Set("token", creds.AccessToken)

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/oauth/revoke", strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("gitlab: create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return scm.WrapRemoteError(0, "failed to revoke token", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return scm.WrapRemoteError(resp.StatusCode, "failed to revoke token", nil)
	}
	return nil
}

// FetchViewer returns the account that owns the credentials
func (c *GitLabConnector) FetchViewer(ctx context.Context, creds *scm.AccessToken) (*scm.Account, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.apiURL+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("gitlab: create viewer request: %w", err)
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

	var glUser struct {
		ID        int64  `json:"id"`
		Username  string `json:"username"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
		WebURL    string `json:"web_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&glUser); err != nil {
		return nil, fmt.Errorf("gitlab: decode viewer: %w", err)
	}

	return &scm.Account{
		ExternalID: strconv.FormatInt(glUser.ID, 10),
		Login:      glUser.Username,
		Name:       glUser.Name,
		Email:      glUser.Email,
		AvatarURL:  glUser.AvatarURL,
		ProfileURL: glUser.WebURL,
	}, nil
}

// FetchRepositories lists projects the user is a member of
func (c *GitLabConnector) FetchRepositories(ctx context.Context, creds *scm.AccessToken, pagination scm.Pagination) (*scm.RepoListResult, error) {
	page := pagination.PageNum
	if page < 1 {
		page = 1
	}
	perPage := pagination.PageSize
	if perPage < 1 || perPage > 100 {
		perPage = 30
	}

	endpoint := fmt.Sprintf("%s/projects?membership=true&page=%d&per_page=%d&order_by=last_activity_at", c.apiURL, page, perPage)

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("gitlab: create project-list request: %w", err)
	}
	c.setAuthHeaders(req, creds)

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return nil, scm.WrapRemoteError(0, "failed to fetch projects", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, scm.WrapRemoteError(resp.StatusCode, "failed to fetch projects", nil)
	}

	var glProjects []gitlabProject
	if err := json.NewDecoder(resp.Body).Decode(&glProjects); err != nil {
		return nil, fmt.Errorf("gitlab: decode project list: %w", err)
	}

	repos := make([]*scm.Repository, len(glProjects))
	for i := range glProjects {
		repos[i] = convertProject(&glProjects[i])
	}

	return &scm.RepoListResult{
		Repos:     repos,
		MorePages: len(repos) == perPage,
		NextPage:  page + 1,
	}, nil
}

// FetchRepository gets details for a specific project
func (c *GitLabConnector) FetchRepository(ctx context.Context, creds *scm.AccessToken, ownerName, repoName string) (*scm.Repository, error) {
	endpoint := fmt.Sprintf("%s/projects/%s", c.apiURL, c.projectPath(ownerName, repoName))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("gitlab: create fetch-project request: %w", err)
	}
	c.setAuthHeaders(req, creds)

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return nil, scm.WrapRemoteError(0, "failed to fetch project", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, scm.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, scm.WrapRemoteError(resp.StatusCode, "failed to fetch project", nil)
	}

	var glProject gitlabProject
	if err := json.NewDecoder(resp.Body).Decode(&glProject); err != nil {
		return nil, fmt.Errorf("gitlab: decode project: %w", err)
	}

	return convertProject(&glProject), nil
}

// FetchFile retrieves a single file's decoded content at a ref
func (c *GitLabConnector) FetchFile(ctx context.Context, creds *scm.AccessToken, ownerName, repoName, filePath, gitRef string) (*scm.RepoFile, error) {
	ref := gitRef
	if ref == "" {
		ref = "HEAD"
	}
	endpoint := fmt.Sprintf("%s/projects/%s/repository/files/%s?ref=%s",
		c.apiURL, c.projectPath(ownerName, repoName), url.PathEscape(filePath), url.QueryEscape(ref))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("gitlab: create file request: %w", err)
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

	var glFile struct {
		FilePath string `json:"file_path"`
		Size     int64  `json:"size"`
		Encoding string `json:"encoding"`
		Content  string `json:"content"`
		BlobID   string `json:"blob_id"`
		Ref      string `json:"ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&glFile); err != nil {
		return nil, fmt.Errorf("gitlab: decode file: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(glFile.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("gitlab: decode file body: %w", err)
	}

	return &scm.RepoFile{
		Path:    glFile.FilePath,
		Ref:     gitRef,
		BlobSHA: glFile.BlobID,
		Size:    glFile.Size,
		Content: string(raw),
	}, nil
}

// CreateBranch creates a branch pointing at an existing commit
func (c *GitLabConnector) CreateBranch(ctx context.Context, creds *scm.AccessToken, ownerName, repoName, branchName, fromSHA string) error {
	endpoint := fmt.Sprintf("%s/projects/%s/repository/branches?branch=%s&ref=%s",
		c.apiURL, c.projectPath(ownerName, repoName), url.QueryEscape(branchName), url.QueryEscape(fromSHA))

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, nil)
	if err != nil {
		return fmt.Errorf("gitlab: create branch request: %w", err)
	}
	c.setAuthHeaders(req, creds)

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return scm.WrapRemoteError(0, "failed to create branch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated {
		return nil
	}

	msg := readErrorMessage(resp.Body)
	// GitLab reports an existing branch as 400 rather than 409.
	if resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(msg), "already exists") {
		return scm.WrapRemoteError(resp.StatusCode, msg, scm.ErrConflict)
	}
	return scm.WrapRemoteError(resp.StatusCode, msg, nil)
}

// CommitFile writes one file change as a commit on a branch
func (c *GitLabConnector) CommitFile(ctx context.Context, creds *scm.AccessToken, ownerName, repoName string, change scm.FileChange) (*scm.GitCommit, error) {
	endpoint := fmt.Sprintf("%s/projects/%s/repository/commits", c.apiURL, c.projectPath(ownerName, repoName))

	action := "create"
	if change.BlobSHA != "" {
		action = "update"
	}
	payload, _ := json.Marshal(map[string]any{
		"branch":         change.Branch,
		"commit_message": change.Message,
		"actions": []map[string]string{
			{
				"action":    action,
				"file_path": change.Path,
				"content":   change.Content,
			},
		},
	})

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gitlab: create commit request: %w", err)
	}
	c.setAuthHeaders(req, creds)
	req.Header.Set("Content-Type", "application/json")

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return nil, scm.WrapRemoteError(0, "failed to commit file", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg := readErrorMessage(resp.Body)
		return nil, scm.WrapRemoteError(resp.StatusCode, msg, nil)
	}

	var glCommit struct {
		ID        string    `json:"id"`
		Title     string    `json:"title"`
		WebURL    string    `json:"web_url"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&glCommit); err != nil {
		return nil, fmt.Errorf("gitlab: decode commit: %w", err)
	}

	return &scm.GitCommit{
		SHA:       glCommit.ID,
		Message:   glCommit.Title,
		WebURL:    glCommit.WebURL,
		CreatedAt: glCommit.CreatedAt,
	}, nil
}

// OpenPullRequest opens a merge request
func (c *GitLabConnector) OpenPullRequest(ctx context.Context, creds *scm.AccessToken, ownerName, repoName string, draft scm.PullRequestDraft) (*scm.PullRequest, error) {
	endpoint := fmt.Sprintf("%s/projects/%s/merge_requests", c.apiURL, c.projectPath(ownerName, repoName))

	title := draft.Title
	if draft.Draft {
		title = "Draft: " + title
	}
	payload, _ := json.Marshal(map[string]string{
		"source_branch": draft.SourceBranch,
		"target_branch": draft.TargetBranch,
		"title":         title,
		"description":   draft.Body,
	})

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gitlab: create merge request: %w", err)
	}
	c.setAuthHeaders(req, creds)
	req.Header.Set("Content-Type", "application/json")

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return nil, scm.WrapRemoteError(0, "failed to open merge request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg := readErrorMessage(resp.Body)
		return nil, scm.WrapRemoteError(resp.StatusCode, msg, nil)
	}

	var glMR gitlabMergeRequest
	if err := json.NewDecoder(resp.Body).Decode(&glMR); err != nil {
		return nil, fmt.Errorf("gitlab: decode merge request: %w", err)
	}

	return convertMergeRequest(&glMR), nil
}

// FetchWorkflowRun gets a pipeline with normalized status and conclusion
func (c *GitLabConnector) FetchWorkflowRun(ctx context.Context, creds *scm.AccessToken, ownerName, repoName string, runID int64) (*scm.WorkflowRun, error) {
	endpoint := fmt.Sprintf("%s/projects/%s/pipelines/%d", c.apiURL, c.projectPath(ownerName, repoName), runID)

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("gitlab: create pipeline request: %w", err)
	}
	c.setAuthHeaders(req, creds)

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return nil, scm.WrapRemoteError(0, "failed to fetch pipeline", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, scm.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, scm.WrapRemoteError(resp.StatusCode, "failed to fetch pipeline", nil)
	}

	var glPipeline gitlabPipeline
	if err := json.NewDecoder(resp.Body).Decode(&glPipeline); err != nil {
		return nil, fmt.Errorf("gitlab: decode pipeline: %w", err)
	}

	return convertPipeline(&glPipeline), nil
}

// DownloadRunLogs streams the plain-text log output of a pipeline. GitLab
// exposes logs per job, so the job traces are fetched individually and
// concatenated into one stream with marker lines.
func (c *GitLabConnector) DownloadRunLogs(ctx context.Context, creds *scm.AccessToken, ownerName, repoName string, runID int64) (io.ReadCloser, error) {
	jobsEndpoint := fmt.Sprintf("%s/projects/%s/pipelines/%d/jobs?per_page=%d",
		c.apiURL, c.projectPath(ownerName, repoName), runID, maxJobsPerPipeline)

	req, err := http.NewRequestWithContext(ctx, "GET", jobsEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("gitlab: create jobs request: %w", err)
	}
	c.setAuthHeaders(req, creds)

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return nil, scm.WrapRemoteError(0, "failed to list pipeline jobs", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, scm.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, scm.WrapRemoteError(resp.StatusCode, "failed to list pipeline jobs", nil)
	}

	var jobs []struct {
		ID     int64  `json:"id"`
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return nil, fmt.Errorf("gitlab: decode jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, scm.ErrLogsExpired
	}

	var buf bytes.Buffer
	traced := 0
	for _, job := range jobs {
		if buf.Len() >= maxLogTextBytes {
			break
		}
		trace, err := c.fetchJobTrace(ctx, creds, ownerName, repoName, job.ID)
		if err != nil {
			// Erased or still-pending traces are skipped, not fatal.
			if err == scm.ErrLogsExpired {
				continue
			}
			return nil, err
		}
		fmt.Fprintf(&buf, "===== job: %s (id %d) =====\n", job.Name, job.ID)
		remaining := maxLogTextBytes - buf.Len()
		if len(trace) > remaining {
			trace = trace[:remaining]
		}
		buf.Write(trace)
		if buf.Len() == 0 || buf.Bytes()[buf.Len()-1] != '\n' {
			buf.WriteByte('\n')
		}
		traced++
	}
	if traced == 0 {
		return nil, scm.ErrLogsExpired
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

// RerunWorkflow retries a pipeline
func (c *GitLabConnector) RerunWorkflow(ctx context.Context, creds *scm.AccessToken, ownerName, repoName string, runID int64) error {
	endpoint := fmt.Sprintf("%s/projects/%s/pipelines/%d/retry", c.apiURL, c.projectPath(ownerName, repoName), runID)

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, nil)
	if err != nil {
		return fmt.Errorf("gitlab: create retry request: %w", err)
	}
	c.setAuthHeaders(req, creds)

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return scm.WrapRemoteError(0, "failed to retry pipeline", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return scm.ErrNotFound
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg := readErrorMessage(resp.Body)
		return scm.WrapRemoteError(resp.StatusCode, msg, nil)
	}
	return nil
}

// Helper methods

func (c *GitLabConnector) setAuthHeaders(req *http.Request, creds *scm.AccessToken) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", creds.AccessToken))
}

func (c *GitLabConnector) projectPath(ownerName, repoName string) string {
	return url.PathEscape(fmt.Sprintf("%s/%s", ownerName, repoName))
}

func (c *GitLabConnector) fetchJobTrace(ctx context.Context, creds *scm.AccessToken, ownerName, repoName string, jobID int64) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/projects/%s/jobs/%d/trace", c.apiURL, c.projectPath(ownerName, repoName), jobID)

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("gitlab: create trace request: %w", err)
	}
	c.setAuthHeaders(req, creds)

	resp, err := scm.DoRequest(c.logsClient, c.retry, req)
	if err != nil {
		return nil, scm.WrapRemoteError(0, "failed to fetch job trace", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, scm.ErrLogsExpired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, scm.WrapRemoteError(resp.StatusCode, "failed to fetch job trace", nil)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxLogTextBytes))
}

func convertProject(glProject *gitlabProject) *scm.Repository {
	owner := glProject.Namespace.FullPath
	if owner == "" {
		owner = glProject.Namespace.Path
	}

	return &scm.Repository{
		ExternalID:    strconv.FormatInt(glProject.ID, 10),
		Owner:         owner,
		Name:          glProject.Path,
		FullName:      glProject.PathWithNamespace,
		Description:   glProject.Description,
		WebURL:        glProject.WebURL,
		CloneURL:      glProject.HTTPURLToRepo,
		DefaultBranch: glProject.DefaultBranch,
		Private:       glProject.Visibility != "public",
		Archived:      glProject.Archived,
		UpdatedAt:     glProject.LastActivityAt,
	}
}

func convertMergeRequest(glMR *gitlabMergeRequest) *scm.PullRequest {
	return &scm.PullRequest{
		Number:       glMR.IID,
		Title:        glMR.Title,
		State:        glMR.State,
		Merged:       glMR.State == "merged",
		SourceBranch: glMR.SourceBranch,
		TargetBranch: glMR.TargetBranch,
		WebURL:       glMR.WebURL,
		CreatedAt:    glMR.CreatedAt,
		ClosedAt:     glMR.ClosedAt,
	}
}

func convertPipeline(glPipeline *gitlabPipeline) *scm.WorkflowRun {
	status, conclusion := normalizePipelineStatus(glPipeline.Status)
	return &scm.WorkflowRun{
		ExternalID: glPipeline.ID,
		Name:       glPipeline.Name,
		Status:     status,
		Conclusion: conclusion,
		HeadBranch: glPipeline.Ref,
		HeadSHA:    glPipeline.SHA,
		Event:      glPipeline.Source,
		WebURL:     glPipeline.WebURL,
		StartedAt:  glPipeline.StartedAt,
		FinishedAt: glPipeline.FinishedAt,
	}
}

// normalizePipelineStatus maps GitLab's single status field onto the shared
// status and conclusion pair.
func normalizePipelineStatus(status string) (scm.RunStatus, scm.RunConclusion) {
	switch status {
	case "running":
		return scm.RunInProgress, ""
	case "success":
		return scm.RunCompleted, scm.ConclusionSuccess
	case "failed":
		return scm.RunCompleted, scm.ConclusionFailure
	case "canceled":
		return scm.RunCompleted, scm.ConclusionCancelled
	case "skipped":
		return scm.RunCompleted, scm.ConclusionSkipped
	case "created", "pending", "preparing", "waiting_for_resource", "scheduled", "manual":
		return scm.RunQueued, ""
	default:
		return scm.RunQueued, ""
	}
}

// readErrorMessage pulls the message or error field out of a GitLab error
// body. GitLab uses both shapes depending on the endpoint.
func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var glErr struct {
		Message json.RawMessage `json:"message"`
		Error   string          `json:"error"`
	}
	if json.Unmarshal(raw, &glErr) == nil {
		if len(glErr.Message) > 0 {
			var s string
			if json.Unmarshal(glErr.Message, &s) == nil {
				return s
			}
			return strings.TrimSpace(string(glErr.Message))
		}
		if glErr.Error != "" {
			return glErr.Error
		}
	}
	return strings.TrimSpace(string(raw))
}

type gitlabProject struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Path              string    `json:"path"`
	PathWithNamespace string    `json:"path_with_namespace"`
	Description       string    `json:"description"`
	WebURL            string    `json:"web_url"`
	HTTPURLToRepo     string    `json:"http_url_to_repo"`
	DefaultBranch     string    `json:"default_branch"`
	Visibility        string    `json:"visibility"`
	Archived          bool      `json:"archived"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	Namespace         struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		Path     string `json:"path"`
		FullPath string `json:"full_path"`
	} `json:"namespace"`
}

type gitlabMergeRequest struct {
	IID          int64      `json:"iid"`
	Title        string     `json:"title"`
	State        string     `json:"state"`
	SourceBranch string     `json:"source_branch"`
	TargetBranch string     `json:"target_branch"`
	WebURL       string     `json:"web_url"`
	CreatedAt    time.Time  `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at"`
}

type gitlabPipeline struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	Ref        string     `json:"ref"`
	SHA        string     `json:"sha"`
	Source     string     `json:"source"`
	WebURL     string     `json:"web_url"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

func init() {
	scm.RegisterConnector(scm.KindGitLab, func(settings *scm.ConnectorSettings) (scm.Connector, error) {
		return NewGitLabConnector(settings)
	})
}
