// hooks.go covers webhook lifecycle and inbound delivery handling for GitLab.
// GitLab authenticates deliveries with a plain shared token header rather
// than an HMC signature, and reports one event per hook type. Timestamps in
// hook payloads use GitLab's legacy "2006-01-02 15:04:05 UTC" format, so the
// parsed run and merge request carry no times; callers needing timestamps
// refresh through the REST API.
package gitlab

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/devflowfix/devflowfix/internal/scm"
)

// Delivery headers set by GitLab on every webhook POST
const (
	headerEvent    = "X-Gitlab-Event"
	headerToken    = "X-Gitlab-Token"
	headerDelivery = "X-Gitlab-Event-Uuid"
)

// RegisterWebhook creates a webhook on the project
func (c *GitLabConnector) RegisterWebhook(ctx context.Context, creds *scm.AccessToken, ownerName, repoName string, hookConfig scm.WebhookSetup) (*scm.WebhookInfo, error) {
	endpoint := fmt.Sprintf("%s/projects/%s/hooks", c.apiURL, c.projectPath(ownerName, repoName))

	events := hookConfig.EventTypes
	if len(events) == 0 {
		events = []string{scm.HookEventRun, scm.HookEventPullRequest, scm.HookEventPush}
	}

	body := map[string]any{
		"url":                     hookConfig.CallbackURL,
		"token":                   hookConfig.SharedSecret,
		"enable_ssl_verification": true,
		"push_events":             false,
	}
	for _, event := range events {
		switch event {
		case scm.HookEventRun:
			body["pipeline_events"] = true
		case scm.HookEventPullRequest:
			body["merge_requests_events"] = true
		case scm.HookEventPush:
			body["push_events"] = true
		}
	}
	payload, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gitlab: create hook request: %w", err)
	}
	c.setAuthHeaders(req, creds)
	req.Header.Set("Content-Type", "application/json")

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return nil, scm.WrapRemoteError(0, "failed to register webhook", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg := readErrorMessage(resp.Body)
		return nil, scm.WrapRemoteError(resp.StatusCode, msg, nil)
	}

	var glHook struct {
		ID                  int64  `json:"id"`
		URL                 string `json:"url"`
		PipelineEvents      bool   `json:"pipeline_events"`
		MergeRequestsEvents bool   `json:"merge_requests_events"`
		PushEvents          bool   `json:"push_events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&glHook); err != nil {
		return nil, fmt.Errorf("gitlab: decode hook response: %w", err)
	}

	var eventTypes []string
	if glHook.PipelineEvents {
		eventTypes = append(eventTypes, scm.HookEventRun)
	}
	if glHook.MergeRequestsEvents {
		eventTypes = append(eventTypes, scm.HookEventPullRequest)
	}
	if glHook.PushEvents {
		eventTypes = append(eventTypes, scm.HookEventPush)
	}

	return &scm.WebhookInfo{
		ExternalID:  strconv.FormatInt(glHook.ID, 10),
		CallbackURL: glHook.URL,
		EventTypes:  eventTypes,
		IsActive:    true,
	}, nil
}

// RemoveWebhook deletes a webhook from the project
func (c *GitLabConnector) RemoveWebhook(ctx context.Context, creds *scm.AccessToken, ownerName, repoName, hookID string) error {
	endpoint := fmt.Sprintf("%s/projects/%s/hooks/%s", c.apiURL, c.projectPath(ownerName, repoName), hookID)

	req, err := http.NewRequestWithContext(ctx, "DELETE", endpoint, nil)
	if err != nil {
		return fmt.Errorf("gitlab: create hook-delete request: %w", err)
	}
	c.setAuthHeaders(req, creds)

	resp, err := scm.DoRequest(c.client, c.retry, req)
	if err != nil {
		return scm.WrapRemoteError(0, "failed to remove webhook", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return scm.ErrNotFound
	}
	if resp.StatusCode != http.StatusNoContent {
		return scm.WrapRemoteError(resp.StatusCode, "failed to remove webhook", nil)
	}
	return nil
}

// VerifyDeliverySignature checks the shared token GitLab attaches to each
// delivery. GitLab sends the token verbatim, so this is a constant-time
// equality check rather than an HMAC verification.
func (c *GitLabConnector) VerifyDeliverySignature(payloadBytes []byte, signatureHeader, sharedSecret string) bool {
	if sharedSecret == "" || signatureHeader == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(signatureHeader), []byte(sharedSecret)) == 1
}

// ParseDelivery parses an incoming webhook payload into the normalized hook
// shape
func (c *GitLabConnector) ParseDelivery(payloadBytes []byte, httpHeaders map[string]string) (*scm.IncomingHook, error) {
	event := headerValue(httpHeaders, headerEvent)
	if event == "" {
		return nil, fmt.Errorf("%w: missing %s header", scm.ErrMalformedDelivery, headerEvent)
	}

	hook := &scm.IncomingHook{
		DeliveryID: headerValue(httpHeaders, headerDelivery),
	}

	switch event {
	case "Pipeline Hook":
		var payload struct {
			ObjectAttributes struct {
				ID     int64  `json:"id"`
				Ref    string `json:"ref"`
				SHA    string `json:"sha"`
				Source string `json:"source"`
				Status string `json:"status"`
				URL    string `json:"url"`
			} `json:"object_attributes"`
			Project hookProject `json:"project"`
			User    struct {
				Username string `json:"username"`
			} `json:"user"`
		}
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", scm.ErrMalformedDelivery, err)
		}
		if payload.ObjectAttributes.ID == 0 {
			return nil, fmt.Errorf("%w: pipeline payload without pipeline", scm.ErrMalformedDelivery)
		}

		status, conclusion := normalizePipelineStatus(payload.ObjectAttributes.Status)
		webURL := payload.ObjectAttributes.URL
		if webURL == "" && payload.Project.WebURL != "" {
			webURL = fmt.Sprintf("%s/-/pipelines/%d", payload.Project.WebURL, payload.ObjectAttributes.ID)
		}

		hook.Event = scm.HookEventRun
		hook.Action = payload.ObjectAttributes.Status
		hook.Run = &scm.WorkflowRun{
			ExternalID: payload.ObjectAttributes.ID,
			Status:     status,
			Conclusion: conclusion,
			HeadBranch: payload.ObjectAttributes.Ref,
			HeadSHA:    payload.ObjectAttributes.SHA,
			Event:      payload.ObjectAttributes.Source,
			WebURL:     webURL,
		}
		hook.Repo = convertHookProject(&payload.Project)
		hook.Sender = payload.User.Username
		return hook, nil

	case "Merge Request Hook":
		var payload struct {
			ObjectAttributes struct {
				IID          int64  `json:"iid"`
				Title        string `json:"title"`
				State        string `json:"state"`
				Action       string `json:"action"`
				SourceBranch string `json:"source_branch"`
				TargetBranch string `json:"target_branch"`
				URL          string `json:"url"`
			} `json:"object_attributes"`
			Project hookProject `json:"project"`
			User    struct {
				Username string `json:"username"`
			} `json:"user"`
		}
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", scm.ErrMalformedDelivery, err)
		}

		hook.Event = scm.HookEventPullRequest
		hook.Action = payload.ObjectAttributes.Action
		hook.PullReq = &scm.PullRequest{
			Number:       payload.ObjectAttributes.IID,
			Title:        payload.ObjectAttributes.Title,
			State:        payload.ObjectAttributes.State,
			Merged:       payload.ObjectAttributes.State == "merged" || payload.ObjectAttributes.Action == "merge",
			SourceBranch: payload.ObjectAttributes.SourceBranch,
			TargetBranch: payload.ObjectAttributes.TargetBranch,
			WebURL:       payload.ObjectAttributes.URL,
		}
		hook.Repo = convertHookProject(&payload.Project)
		hook.Sender = payload.User.Username
		return hook, nil

	case "Push Hook":
		var payload struct {
			Project      hookProject `json:"project"`
			UserUsername string      `json:"user_username"`
		}
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", scm.ErrMalformedDelivery, err)
		}
		hook.Event = scm.HookEventPush
		hook.Repo = convertHookProject(&payload.Project)
		hook.Sender = payload.UserUsername
		return hook, nil

	default:
		hook.Event = scm.HookEventUnknown
		hook.Action = event
		return hook, nil
	}
}

// hookProject is the project shape embedded in webhook payloads. It differs
// from the REST API project: namespace is a display string, not an object.
type hookProject struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
	WebURL            string `json:"web_url"`
	DefaultBranch     string `json:"default_branch"`
	GitHTTPURL        string `json:"git_http_url"`
	VisibilityLevel   int    `json:"visibility_level"`
}

func convertHookProject(p *hookProject) *scm.Repository {
	owner, name := splitProjectPath(p.PathWithNamespace)
	return &scm.Repository{
		ExternalID:    strconv.FormatInt(p.ID, 10),
		Owner:         owner,
		Name:          name,
		FullName:      p.PathWithNamespace,
		WebURL:        p.WebURL,
		CloneURL:      p.GitHTTPURL,
		DefaultBranch: p.DefaultBranch,
		Private:       p.VisibilityLevel < 20,
	}
}

// splitProjectPath separates "group/subgroup/project" into the namespace and
// the project slug.
func splitProjectPath(fullPath string) (owner, name string) {
	idx := strings.LastIndex(fullPath, "/")
	if idx < 0 {
		return "", fullPath
	}
	return fullPath[:idx], fullPath[idx+1:]
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
