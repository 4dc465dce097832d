// hooks.go covers webhook lifecycle and inbound delivery handling for GitHub:
// hook registration on repositories, HMAC signature verification, and parsing
// of the event payloads the remediation pipeline cares about.
package github

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/devflowfix/devflowfix/internal/scm"
)

// Delivery headers set by GitHub on every webhook POST
const (
	headerEvent     = "X-GitHub-Event"
	headerDelivery  = "X-GitHub-Delivery"
	headerSignature = "X-Hub-Signature-256"

	signaturePrefix = "sha256="
)

// defaultHookEvents are the repository events subscribed to when the caller
// does not override them. workflow_run drives remediation, pull_request keeps
// fix PR state in sync, and push provides the freshness breadcrumb.
var defaultHookEvents = []string{"workflow_run", "pull_request", "push"}

// RegisterWebhook creates a webhook on the repository
func (c *GitHubConnector) RegisterWebhook(ctx context.Context, creds *scm.AccessToken, ownerName, repoName string, hookConfig scm.WebhookSetup) (*scm.WebhookInfo, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/hooks", c.apiURL, ownerName, repoName)

	events := hookConfig.EventTypes
	if len(events) == 0 {
		events = defaultHookEvents
	}

	payload, _ := json.Marshal(map[string]any{
		"name":   "web",
		"active": hookConfig.ActiveOnSetup,
		"events": events,
		"config": map[string]string{
			"url":          hookConfig.CallbackURL,
			"content_type": "json",
			"secret":       hookConfig.SharedSecret,
			"insecure_ssl": "0",
		},
	})

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("github: create hook request: %w", err)
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

	var ghHook struct {
		ID     int64    `json:"id"`
		Active bool     `json:"active"`
		Events []string `json:"events"`
		Config struct {
			URL string `json:"url"`
		} `json:"config"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ghHook); err != nil {
		return nil, fmt.Errorf("github: decode hook response: %w", err)
	}

	return &scm.WebhookInfo{
		ExternalID:  strconv.FormatInt(ghHook.ID, 10),
		CallbackURL: ghHook.Config.URL,
		EventTypes:  ghHook.Events,
		IsActive:    ghHook.Active,
	}, nil
}

// RemoveWebhook deletes a webhook from the repository
func (c *GitHubConnector) RemoveWebhook(ctx context.Context, creds *scm.AccessToken, ownerName, repoName, hookID string) error {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/hooks/%s", c.apiURL, ownerName, repoName, hookID)

	req, err := http.NewRequestWithContext(ctx, "DELETE", endpoint, nil)
	if err != nil {
		return fmt.Errorf("github: create hook-delete request: %w", err)
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

// VerifyDeliverySignature checks the HMAC-SHA256 signature GitHub attaches
// to each delivery. Comparison is constant time.
func (c *GitHubConnector) VerifyDeliverySignature(payloadBytes []byte, signatureHeader, sharedSecret string) bool {
	if sharedSecret == "" || !strings.HasPrefix(signatureHeader, signaturePrefix) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(sharedSecret))
	mac.Write(payloadBytes)
	want := signaturePrefix + hex.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(want), []byte(signatureHeader)) == 1
}

// ParseDelivery parses an incoming webhook payload into the normalized hook
// shape. Events outside the subscribed set come back with Event set to
// HookEventUnknown so callers can log and drop them.
func (c *GitHubConnector) ParseDelivery(payloadBytes []byte, httpHeaders map[string]string) (*scm.IncomingHook, error) {
	event := headerValue(httpHeaders, headerEvent)
	if event == "" {
		return nil, fmt.Errorf("%w: missing %s header", scm.ErrMalformedDelivery, headerEvent)
	}

	hook := &scm.IncomingHook{
		DeliveryID: headerValue(httpHeaders, headerDelivery),
	}

	switch event {
	case "ping":
		hook.Event = scm.HookEventPing
		return hook, nil

	case "workflow_run":
		var payload struct {
			Action      string            `json:"action"`
			WorkflowRun githubWorkflowRun `json:"workflow_run"`
			Repository  githubRepo        `json:"repository"`
			Sender      struct {
				Login string `json:"login"`
			} `json:"sender"`
		}
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", scm.ErrMalformedDelivery, err)
		}
		if payload.WorkflowRun.ID == 0 {
			return nil, fmt.Errorf("%w: workflow_run payload without run", scm.ErrMalformedDelivery)
		}
		hook.Event = scm.HookEventRun
		hook.Action = payload.Action
		hook.Run = convertWorkflowRun(&payload.WorkflowRun)
		hook.Repo = c.convertRepo(&payload.Repository)
		hook.Sender = payload.Sender.Login
		return hook, nil

	case "pull_request":
		var payload struct {
			Action      string            `json:"action"`
			PullRequest githubPullRequest `json:"pull_request"`
			Repository  githubRepo        `json:"repository"`
			Sender      struct {
				Login string `json:"login"`
			} `json:"sender"`
		}
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", scm.ErrMalformedDelivery, err)
		}
		hook.Event = scm.HookEventPullRequest
		hook.Action = payload.Action
		hook.PullReq = convertPullRequest(&payload.PullRequest)
		hook.Repo = c.convertRepo(&payload.Repository)
		hook.Sender = payload.Sender.Login
		return hook, nil

	case "push":
		var payload struct {
			Repository githubRepo `json:"repository"`
			Sender     struct {
				Login string `json:"login"`
			} `json:"sender"`
		}
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", scm.ErrMalformedDelivery, err)
		}
		hook.Event = scm.HookEventPush
		hook.Repo = c.convertRepo(&payload.Repository)
		hook.Sender = payload.Sender.Login
		return hook, nil

	default:
		hook.Event = scm.HookEventUnknown
		hook.Action = event
		return hook, nil
	}
}

// headerValue looks up a header case-insensitively; callers hand over plain
// maps rather than http.Header so canonicalization is not guaranteed.
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
