// tracker.go is the webhook ingest pipeline. Every delivery runs the same
// gauntlet: parse, resolve the repository connection, verify the signature
// against that connection's sealed secret, record the delivery for dedup, and
// only then act on it. Run failures mint incidents and hand them to the
// dispatch queue; pull request events keep remediation PR state in sync.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devflowfix/devflowfix/internal/crypto"
	"github.com/devflowfix/devflowfix/internal/db/models"
	"github.com/devflowfix/devflowfix/internal/scm"
	"github.com/devflowfix/devflowfix/internal/telemetry"
)

// Ingest outcomes. These double as the outcome label on the webhook metrics
// and drive the HTTP status the handlers answer with.
const (
	IngestAccepted          = "accepted"
	IngestIgnored           = "ignored"
	IngestMalformed         = "malformed"
	IngestInvalidSignature  = "invalid_signature"
	IngestUnknownConnection = "unknown_connection"
)

// Delivery is one raw webhook POST as received by the ingest endpoint
type Delivery struct {
	Provider string
	Body     []byte
	Headers  map[string]string
}

// Signature header per provider family. GitHub signs the body; GitLab echoes
// the shared secret verbatim.
func signatureHeaderFor(provider string) string {
	if provider == "gitlab" {
		return "X-Gitlab-Token"
	}
	return "X-Hub-Signature-256"
}

// trackerConnectionStore is the slice of RepositoryConnectionRepository the
// tracker reads
type trackerConnectionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.RepositoryConnection, error)
	ListByFullName(ctx context.Context, provider, fullName string) ([]*models.RepositoryConnection, error)
	TouchLastEvent(ctx context.Context, id uuid.UUID) error
}

// deliveryLedger records accepted deliveries for dedup and debugging
type deliveryLedger interface {
	Insert(ctx context.Context, ev *models.WebhookEvent) (bool, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, status string, errMsg *string) error
}

// trackerRunStore is the slice of WorkflowRunRepository the tracker uses
type trackerRunStore interface {
	Upsert(ctx context.Context, run *models.WorkflowRun) (*models.WorkflowRun, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.WorkflowRun, error)
}

// trackerIncidentStore is the slice of IncidentRepository the tracker uses
type trackerIncidentStore interface {
	CreateOrGet(ctx context.Context, inc *models.Incident) (*models.Incident, error)
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	SetFailure(ctx context.Context, id uuid.UUID, status, reason string, detail *string) error
}

// trackerPRStore is the slice of PullRequestRepository the tracker uses
type trackerPRStore interface {
	GetByNumber(ctx context.Context, provider, fullName string, number int64) (*models.PullRequestRecord, error)
	UpdateState(ctx context.Context, id uuid.UUID, state string, mergedAt, closedAt *time.Time) error
}

// enqueuer hands claimed incidents to the worker pool. Enqueue must not block.
type enqueuer interface {
	Enqueue(incidentID uuid.UUID) bool
}

// WorkflowTracker turns verified webhook deliveries into tracked runs and
// remediation work
type WorkflowTracker struct {
	conns      trackerConnectionStore
	events     deliveryLedger
	runs       trackerRunStore
	incidents  trackerIncidentStore
	prs        trackerPRStore
	keys       *crypto.Keyring
	connectors connectorSource
	vault      *TokenVault
	queue      enqueuer
}

// NewWorkflowTracker creates the tracker
func NewWorkflowTracker(
	conns trackerConnectionStore,
	events deliveryLedger,
	runs trackerRunStore,
	incidents trackerIncidentStore,
	prs trackerPRStore,
	keys *crypto.Keyring,
	connectors connectorSource,
	vault *TokenVault,
	queue enqueuer,
) *WorkflowTracker {
	return &WorkflowTracker{
		conns: conns, events: events, runs: runs, incidents: incidents,
		prs: prs, keys: keys, connectors: connectors, vault: vault, queue: queue,
	}
}

// Ingest processes one webhook delivery and returns its outcome. Only internal
// failures (database errors) come back as errors; everything about the
// delivery itself is an outcome, because the code host retries 5xx responses
// and a bad delivery stays bad forever.
func (t *WorkflowTracker) Ingest(ctx context.Context, d Delivery) (string, error) {
	connector, err := t.connectors.For(d.Provider)
	if err != nil {
		return IngestUnknownConnection, nil
	}

	hook, err := connector.ParseDelivery(d.Body, d.Headers)
	if err != nil {
		telemetry.WebhookEventsTotal.WithLabelValues(d.Provider, "unknown", IngestMalformed).Inc()
		return IngestMalformed, nil
	}

	outcome := func(result string) string {
		telemetry.WebhookEventsTotal.WithLabelValues(d.Provider, hook.Event, result).Inc()
		return result
	}

	if hook.Event == scm.HookEventPing {
		return outcome(IngestIgnored), nil
	}
	if hook.Repo == nil || hook.Repo.FullName == "" {
		return outcome(IngestMalformed), nil
	}

	candidates, err := t.conns.ListByFullName(ctx, d.Provider, hook.Repo.FullName)
	if err != nil {
		return "", fmt.Errorf("resolve repository connection: %w", err)
	}
	if len(candidates) == 0 {
		return outcome(IngestUnknownConnection), nil
	}

	rc := t.verifiedConnection(d, candidates, connector)
	if rc == nil {
		return outcome(IngestInvalidSignature), nil
	}

	ev := &models.WebhookEvent{
		ID:                     uuid.New(),
		RepositoryConnectionID: rc.ID,
		Provider:               d.Provider,
		EventType:              hook.Event,
		DeliveryID:             deliveryID(hook),
		Payload:                d.Body,
		Status:                 models.WebhookReceived,
		ReceivedAt:             time.Now(),
	}
	fresh, err := t.events.Insert(ctx, ev)
	if err != nil {
		return "", fmt.Errorf("record delivery: %w", err)
	}
	if !fresh {
		// Redelivery of something already handled.
		return outcome(IngestIgnored), nil
	}

	if err := t.conns.TouchLastEvent(ctx, rc.ID); err != nil {
		slog.Warn("touch last event failed", "connection_id", rc.ID, "error", err)
	}

	switch hook.Event {
	case scm.HookEventRun:
		if err := t.trackRun(ctx, rc, hook); err != nil {
			msg := err.Error()
			_ = t.events.MarkProcessed(ctx, ev.ID, models.WebhookFailed, &msg)
			return "", err
		}
		_ = t.events.MarkProcessed(ctx, ev.ID, models.WebhookProcessed, nil)
		return outcome(IngestAccepted), nil

	case scm.HookEventPullRequest:
		if err := t.trackPullRequest(ctx, d.Provider, hook); err != nil {
			msg := err.Error()
			_ = t.events.MarkProcessed(ctx, ev.ID, models.WebhookFailed, &msg)
			return "", err
		}
		_ = t.events.MarkProcessed(ctx, ev.ID, models.WebhookProcessed, nil)
		return outcome(IngestAccepted), nil

	default:
		// push and unrecognized events are breadcrumbs only.
		_ = t.events.MarkProcessed(ctx, ev.ID, models.WebhookIgnored, nil)
		return outcome(IngestIgnored), nil
	}
}

// verifiedConnection finds the candidate whose sealed secret verifies the
// delivery signature. Several users may have connected the same repository;
// each registered their own hook, so exactly one secret should match.
func (t *WorkflowTracker) verifiedConnection(d Delivery, candidates []*models.RepositoryConnection, connector scm.Connector) *models.RepositoryConnection {
	sig := headerLookup(d.Headers, signatureHeaderFor(d.Provider))
	for _, cand := range candidates {
		if cand.WebhookSecretEncrypted == nil {
			continue
		}
		secret, err := t.keys.Open(*cand.WebhookSecretEncrypted)
		if err != nil {
			slog.Warn("unsealing webhook secret failed", "connection_id", cand.ID, "error", err)
			continue
		}
		if connector.VerifyDeliverySignature(d.Body, sig, secret) {
			return cand
		}
	}
	return nil
}

// trackRun upserts the run row and, for a completed failure on an enabled
// connection, mints the incident and hands it to the dispatch queue. Exactly
// one ingest path wins the claim; redeliveries and races lose it and leave
// the incident alone.
func (t *WorkflowTracker) trackRun(ctx context.Context, rc *models.RepositoryConnection, hook *scm.IncomingHook) error {
	run := hook.Run
	if run == nil {
		return nil
	}
	now := time.Now()

	row := &models.WorkflowRun{
		ID:                     uuid.New(),
		RepositoryConnectionID: rc.ID,
		Provider:               rc.Provider,
		ExternalRunID:          strconv.FormatInt(run.ExternalID, 10),
		RunNumber:              run.RunAttempt,
		WorkflowName:           run.Name,
		Status:                 string(run.Status),
		Branch:                 run.HeadBranch,
		CommitSHA:              run.HeadSHA,
		StartedAt:              run.StartedAt,
		CompletedAt:            run.FinishedAt,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if run.Conclusion != "" {
		c := string(run.Conclusion)
		row.Conclusion = &c
	}
	if run.WebURL != "" {
		u := run.WebURL
		row.RunURL = &u
	}

	saved, err := t.runs.Upsert(ctx, row)
	if err != nil {
		return fmt.Errorf("upsert workflow run: %w", err)
	}

	if run.Status == scm.RunCompleted {
		conclusion := "unknown"
		if run.Conclusion != "" {
			conclusion = string(run.Conclusion)
		}
		telemetry.WorkflowRunsTotal.WithLabelValues(rc.Provider, conclusion).Inc()
	}

	if run.Status != scm.RunCompleted || !run.Conclusion.Failed() {
		return nil
	}
	if !rc.IsEnabled {
		return nil
	}

	severity := models.SeverityMedium
	if run.HeadBranch != "" && run.HeadBranch == rc.DefaultBranch {
		severity = models.SeverityHigh
	}

	candidate := &models.Incident{
		ID:                     uuid.New(),
		WorkflowRunID:          saved.ID,
		RepositoryConnectionID: rc.ID,
		Status:                 models.IncidentDetected,
		FailureType:            "unknown",
		Severity:               severity,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	inc, err := t.incidents.CreateOrGet(ctx, candidate)
	if err != nil {
		return fmt.Errorf("mint incident: %w", err)
	}
	if inc.ID == candidate.ID {
		// Our insert won; this failure had no incident yet.
		telemetry.IncidentsOpenedTotal.WithLabelValues(rc.Provider, severity).Inc()
	}
	if inc.Status != models.IncidentDetected {
		// Already claimed or finished by an earlier delivery of this failure.
		return nil
	}

	if !rc.AutoPREnabled {
		return t.incidents.SetFailure(ctx, inc.ID, models.IncidentSkipped, models.SkipAutoPRDisabled, nil)
	}

	claimed, err := t.incidents.Claim(ctx, inc.ID)
	if err != nil {
		return fmt.Errorf("claim incident: %w", err)
	}
	if !claimed {
		return nil
	}

	if !t.queue.Enqueue(inc.ID) {
		detail := "remediation queue full"
		slog.Warn("remediation queue full, failing incident", "incident_id", inc.ID)
		return t.incidents.SetFailure(ctx, inc.ID, models.IncidentFailed, models.FailureBudget, &detail)
	}

	slog.Info("incident dispatched",
		"incident_id", inc.ID, "repository", rc.RepositoryFullName,
		"run_id", saved.ExternalRunID, "severity", severity)
	return nil
}

// trackPullRequest syncs state changes on remediation PRs we opened. PRs we
// did not open are not tracked and their events fall through silently.
func (t *WorkflowTracker) trackPullRequest(ctx context.Context, provider string, hook *scm.IncomingHook) error {
	pr := hook.PullReq
	if pr == nil || hook.Repo == nil {
		return nil
	}

	record, err := t.prs.GetByNumber(ctx, provider, hook.Repo.FullName, pr.Number)
	if err != nil {
		return fmt.Errorf("look up pull request record: %w", err)
	}
	if record == nil {
		return nil
	}

	state := models.PRStateOpen
	var mergedAt, closedAt *time.Time
	switch {
	case pr.Merged:
		state = models.PRStateMerged
		mergedAt = pr.ClosedAt
		closedAt = pr.ClosedAt
	case strings.EqualFold(pr.State, "closed"):
		state = models.PRStateClosed
		closedAt = pr.ClosedAt
	}

	return t.prs.UpdateState(ctx, record.ID, state, mergedAt, closedAt)
}

// Rerun asks the code host for a fresh execution of a tracked run. The caller
// must own the repository connection the run belongs to.
func (t *WorkflowTracker) Rerun(ctx context.Context, userID string, runID uuid.UUID) error {
	run, err := t.runs.GetByID(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return ErrRunNotFound
	}

	rc, err := t.conns.GetByID(ctx, run.RepositoryConnectionID)
	if err != nil {
		return err
	}
	if rc == nil {
		return ErrConnectionNotFound
	}
	if rc.UserID != userID {
		return ErrNotOwner
	}

	creds, _, err := t.vault.CredentialsFor(ctx, rc.OAuthConnectionID)
	if err != nil {
		return err
	}
	connector, err := t.connectors.For(rc.Provider)
	if err != nil {
		return err
	}

	externalID, err := strconv.ParseInt(run.ExternalRunID, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed external run id %q: %w", run.ExternalRunID, err)
	}

	owner, name := rc.OwnerAndName()
	return connector.RerunWorkflow(ctx, creds, owner, name, externalID)
}

// deliveryID returns the code host's delivery identifier, or a random one when
// the host did not send any (dedup is then impossible for that delivery).
func deliveryID(hook *scm.IncomingHook) string {
	if hook.DeliveryID != "" {
		return hook.DeliveryID
	}
	return uuid.NewString()
}

// headerLookup finds a header value case-insensitively in a plain map
func headerLookup(headers map[string]string, name string) string {
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
