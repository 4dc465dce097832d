// remediator.go is the pipeline that turns a claimed incident into a pull
// request: download the failed run's logs, extract error signals, ask the
// model for line-wise fixes per candidate file, commit them to a dedicated
// branch, and open the PR. Every exit records a terminal status with a reason
// code, so an incident never stays in analyzing or remediating forever.
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devflowfix/devflowfix/internal/artifacts"
	"github.com/devflowfix/devflowfix/internal/config"
	"github.com/devflowfix/devflowfix/internal/db/models"
	"github.com/devflowfix/devflowfix/internal/llm"
	"github.com/devflowfix/devflowfix/internal/logparse"
	"github.com/devflowfix/devflowfix/internal/patch"
	"github.com/devflowfix/devflowfix/internal/scm"
	"github.com/devflowfix/devflowfix/internal/telemetry"
)

// maxLogBytes caps how much raw log output one remediation attempt will read.
// Anything past the cap cannot carry a better signal than what came before it.
const maxLogBytes = 10 << 20

// remediatorIncidentStore is the slice of IncidentRepository the pipeline uses
type remediatorIncidentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	SetAnalysis(ctx context.Context, id uuid.UUID, failureType, severity string, errorCount int, summary *string) error
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	SetFailure(ctx context.Context, id uuid.UUID, status, reason string, detail *string) error
}

// remediatorRunStore is the slice of WorkflowRunRepository the pipeline uses
type remediatorRunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.WorkflowRun, error)
}

// remediatorConnectionStore resolves the repository connection an incident
// belongs to
type remediatorConnectionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.RepositoryConnection, error)
}

// remediatorPRStore records opened pull requests
type remediatorPRStore interface {
	Create(ctx context.Context, pr *models.PullRequestRecord) error
	GetByIncident(ctx context.Context, incidentID uuid.UUID) (*models.PullRequestRecord, error)
}

// fixGenerator is the model client surface the pipeline calls
type fixGenerator interface {
	GenerateFix(ctx context.Context, req llm.FixRequest) (*llm.FileFix, error)
}

// Remediator drives the analysis and fix pipeline for claimed incidents
type Remediator struct {
	cfg        *config.RemediationConfig
	incidents  remediatorIncidentStore
	runs       remediatorRunStore
	conns      remediatorConnectionStore
	prs        remediatorPRStore
	vault      *TokenVault
	connectors connectorSource
	model      fixGenerator
	archive    artifacts.Store
	queue      enqueuer
}

// NewRemediator creates the pipeline. The archive store may be nil when no
// artifacts backend is configured; log archiving is then skipped.
func NewRemediator(
	cfg *config.RemediationConfig,
	incidents remediatorIncidentStore,
	runs remediatorRunStore,
	conns remediatorConnectionStore,
	prs remediatorPRStore,
	vault *TokenVault,
	connectors connectorSource,
	model fixGenerator,
	archive artifacts.Store,
) *Remediator {
	return &Remediator{
		cfg: cfg, incidents: incidents, runs: runs, conns: conns, prs: prs,
		vault: vault, connectors: connectors, model: model, archive: archive,
	}
}

// SetQueue wires the dispatch queue used by Requeue. Set after construction
// because the dispatcher itself wraps the remediator.
func (r *Remediator) SetQueue(q enqueuer) { r.queue = q }

// candidate is one file selected for a fix attempt, with the error blocks
// that point at it
type candidate struct {
	file   string
	blocks []logparse.ErrorBlock
}

// Remediate runs the full pipeline for one claimed incident. It always leaves
// the incident in a terminal status; the returned error is informational for
// the worker's log line.
func (r *Remediator) Remediate(ctx context.Context, incidentID uuid.UUID) error {
	started := time.Now()

	inc, err := r.incidents.GetByID(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("load incident: %w", err)
	}
	if inc == nil {
		return ErrIncidentNotFound
	}

	run, err := r.runs.GetByID(ctx, inc.WorkflowRunID)
	if err != nil || run == nil {
		r.finishFailed(ctx, inc, models.FailureProvider, "workflow run record missing")
		return fmt.Errorf("load workflow run: %w", err)
	}
	rc, err := r.conns.GetByID(ctx, inc.RepositoryConnectionID)
	if err != nil || rc == nil {
		r.finishFailed(ctx, inc, models.FailureProvider, "repository connection missing")
		return fmt.Errorf("load repository connection: %w", err)
	}

	outcome, err := r.attempt(ctx, inc, run, rc)
	telemetry.RemediationAttemptsTotal.WithLabelValues(rc.Provider, outcome).Inc()
	telemetry.RemediationDuration.Observe(time.Since(started).Seconds())
	return err
}

// attempt is the pipeline body; it returns the terminal outcome label.
func (r *Remediator) attempt(ctx context.Context, inc *models.Incident, run *models.WorkflowRun, rc *models.RepositoryConnection) (string, error) {
	creds, conn, err := r.vault.CredentialsFor(ctx, rc.OAuthConnectionID)
	if err != nil {
		r.finishFailed(ctx, inc, models.FailureNoCredentials, "code-host credentials unavailable")
		return models.FailureNoCredentials, err
	}
	connector, err := r.connectors.For(rc.Provider)
	if err != nil {
		r.finishFailed(ctx, inc, models.FailureNoCredentials, "provider not configured")
		return models.FailureNoCredentials, err
	}

	// call retries a provider operation once after a lazy token refresh when
	// the first attempt comes back unauthorized. GitHub tokens never expire,
	// so the refresh path only ever fires for providers that issue refresh
	// tokens.
	call := func(fn func(creds *scm.AccessToken) error) error {
		err := fn(creds)
		if errors.Is(err, scm.ErrUnauthorized) && creds.RefreshToken != "" {
			renewed, rerr := r.vault.Refresh(ctx, conn, connector, creds)
			if rerr != nil {
				return err
			}
			creds = renewed
			return fn(creds)
		}
		return err
	}

	owner, name := rc.OwnerAndName()
	externalID, err := strconv.ParseInt(run.ExternalRunID, 10, 64)
	if err != nil {
		r.finishFailed(ctx, inc, models.FailureProvider, "malformed external run id")
		return models.FailureProvider, err
	}

	logText, err := r.downloadLogs(ctx, call, connector, owner, name, externalID)
	if err != nil {
		if errors.Is(err, scm.ErrLogsExpired) || errors.Is(err, scm.ErrNotFound) {
			r.finishFailed(ctx, inc, models.FailureNoLogs, "run logs expired or unavailable")
			return models.FailureNoLogs, err
		}
		reason := models.FailureProvider
		if ctx.Err() != nil {
			reason = models.FailureTimeout
		}
		r.finishFailed(ctx, inc, reason, "log download failed")
		return reason, err
	}

	r.archiveLogs(ctx, rc, run, logText)

	blocks := logparse.Parse(logText)
	if len(blocks) == 0 {
		r.finishFailed(ctx, inc, models.FailureNoSignal, "no actionable error signal in run logs")
		return models.FailureNoSignal, nil
	}

	failureType, severity := summarize(blocks)
	summary := analysisSummary(blocks)
	if err := r.incidents.SetAnalysis(ctx, inc.ID, failureType, severity, len(blocks), &summary); err != nil {
		return models.FailureProvider, fmt.Errorf("record analysis: %w", err)
	}

	candidates := selectCandidates(blocks, r.cfg.MaxFilesPerPR, r.cfg.MaxErrorsPerFile)
	if len(candidates) == 0 {
		r.finishFailed(ctx, inc, models.FailureNoSignal, "no error block names a repository file")
		return models.FailureNoSignal, nil
	}

	if err := r.incidents.SetStatus(ctx, inc.ID, models.IncidentRemediating); err != nil {
		return models.FailureProvider, fmt.Errorf("mark remediating: %w", err)
	}

	branch := fmt.Sprintf("%s/%s", r.cfg.BranchPrefix, inc.ID)
	if err := call(func(c *scm.AccessToken) error {
		return connector.CreateBranch(ctx, c, owner, name, branch, run.CommitSHA)
	}); err != nil {
		if errors.Is(err, scm.ErrConflict) {
			r.finishFailed(ctx, inc, models.FailureConflict, "remediation branch already exists")
			return models.FailureConflict, err
		}
		r.finishFailed(ctx, inc, models.FailureProvider, "branch creation failed")
		return models.FailureProvider, err
	}

	fixed, summaries, allConflicts := r.fixFiles(ctx, call, connector, rc, run, branch, candidates)
	if fixed == 0 {
		if ctx.Err() != nil {
			r.finishFailed(ctx, inc, models.FailureTimeout, "remediation deadline exceeded")
			return models.FailureTimeout, ctx.Err()
		}
		if allConflicts {
			r.finishFailed(ctx, inc, models.FailureConflict, "every fix conflicted with newer commits")
			return models.FailureConflict, nil
		}
		r.finishFailed(ctx, inc, models.FailureRemediation, "no file could be fixed")
		return models.FailureRemediation, nil
	}

	title := fmt.Sprintf("Fix CI failure in %s", run.WorkflowName)
	if run.WorkflowName == "" {
		title = "Fix CI failure"
	}
	target := run.Branch
	if target == "" {
		target = rc.DefaultBranch
	}

	var pr *scm.PullRequest
	if err := call(func(c *scm.AccessToken) error {
		var perr error
		pr, perr = connector.OpenPullRequest(ctx, c, owner, name, scm.PullRequestDraft{
			Title:        title,
			Body:         prBody(inc, run, summaries),
			SourceBranch: branch,
			TargetBranch: target,
		})
		return perr
	}); err != nil {
		r.finishFailed(ctx, inc, models.FailureProvider, "pull request creation failed")
		return models.FailureProvider, err
	}

	now := time.Now()
	record := &models.PullRequestRecord{
		ID:                 uuid.New(),
		IncidentID:         inc.ID,
		Provider:           rc.Provider,
		RepositoryFullName: rc.RepositoryFullName,
		PRNumber:           pr.Number,
		PRURL:              pr.WebURL,
		Title:              pr.Title,
		BranchName:         branch,
		BaseBranch:         target,
		FilesChanged:       fixed,
		State:              models.PRStateOpen,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := r.prs.Create(ctx, record); err != nil {
		slog.Error("recording pull request failed", "incident_id", inc.ID, "pr_url", pr.WebURL, "error", err)
	}
	if err := r.incidents.SetStatus(ctx, inc.ID, models.IncidentPRCreated); err != nil {
		return models.IncidentPRCreated, fmt.Errorf("mark pr_created: %w", err)
	}

	slog.Info("remediation pull request opened",
		"incident_id", inc.ID, "repository", rc.RepositoryFullName,
		"pr_number", pr.Number, "files_changed", fixed)
	return models.IncidentPRCreated, nil
}

// downloadLogs streams the run log capped at maxLogBytes
func (r *Remediator) downloadLogs(ctx context.Context, call func(func(*scm.AccessToken) error) error, connector scm.Connector, owner, name string, runID int64) (string, error) {
	var buf bytes.Buffer
	err := call(func(c *scm.AccessToken) error {
		rd, err := connector.DownloadRunLogs(ctx, c, owner, name, runID)
		if err != nil {
			return err
		}
		defer rd.Close()
		buf.Reset()
		_, err = io.Copy(&buf, io.LimitReader(rd, maxLogBytes))
		return err
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// archiveLogs stores the raw log in the artifacts backend so the incident
// keeps evidence after the code host expires it. Best effort.
func (r *Remediator) archiveLogs(ctx context.Context, rc *models.RepositoryConnection, run *models.WorkflowRun, logText string) {
	if r.archive == nil {
		return
	}
	key := artifacts.RunLogKey(rc.Provider, rc.RepositoryFullName, run.ExternalRunID)
	if _, err := r.archive.Upload(ctx, key, strings.NewReader(logText), int64(len(logText))); err != nil {
		slog.Warn("archiving run logs failed", "key", key, "error", err)
	}
}

// fixFiles attempts a model fix for each candidate. Per-file failures are
// logged and skipped; the attempt succeeds if at least one file was committed.
// allConflicts reports that every failure was a commit conflict, which tells
// the caller the branch moved under us rather than that the fixes were bad.
func (r *Remediator) fixFiles(ctx context.Context, call func(func(*scm.AccessToken) error) error, connector scm.Connector, rc *models.RepositoryConnection, run *models.WorkflowRun, branch string, candidates []candidate) (fixed int, summaries []string, allConflicts bool) {
	owner, name := rc.OwnerAndName()
	failed, conflicted := 0, 0

	for _, cand := range candidates {
		if ctx.Err() != nil {
			break
		}

		var file *scm.RepoFile
		if err := call(func(c *scm.AccessToken) error {
			var ferr error
			file, ferr = connector.FetchFile(ctx, c, owner, name, cand.file, run.CommitSHA)
			return ferr
		}); err != nil {
			slog.Warn("fetching candidate file failed", "file", cand.file, "error", err)
			failed++
			continue
		}

		blocks := make([]logparse.ErrorBlock, len(cand.blocks))
		for i, b := range cand.blocks {
			b.Message = logparse.TruncateTail(b.Message, r.cfg.LogContextMaxChars)
			blocks[i] = b
		}

		fix, err := r.model.GenerateFix(ctx, llm.FixRequest{
			Provider:     rc.Provider,
			RepoFullName: rc.RepositoryFullName,
			WorkflowName: run.WorkflowName,
			FilePath:     cand.file,
			FileContent:  file.Content,
			ErrorBlocks:  blocks,
		})
		if err != nil {
			slog.Warn("model fix generation failed", "file", cand.file, "error", err)
			failed++
			continue
		}

		patched, err := patch.Apply(file.Content, fix.Changes)
		if err != nil {
			slog.Warn("applying model changes failed", "file", cand.file, "error", err)
			failed++
			continue
		}

		if err := call(func(c *scm.AccessToken) error {
			_, cerr := connector.CommitFile(ctx, c, owner, name, scm.FileChange{
				Path:    cand.file,
				Branch:  branch,
				Content: patched,
				Message: fmt.Sprintf("fix: %s", cand.file),
				BlobSHA: file.BlobSHA,
			})
			return cerr
		}); err != nil {
			slog.Warn("committing fix failed", "file", cand.file, "error", err)
			failed++
			if errors.Is(err, scm.ErrConflict) {
				conflicted++
			}
			continue
		}

		fixed++
		if fix.Summary != "" {
			summaries = append(summaries, fmt.Sprintf("- `%s`: %s", cand.file, fix.Summary))
		} else {
			summaries = append(summaries, fmt.Sprintf("- `%s`", cand.file))
		}
	}
	return fixed, summaries, failed > 0 && conflicted == failed
}

// Requeue re-dispatches an incident at the owner's request. force re-runs an
// incident that already produced a pull request.
func (r *Remediator) Requeue(ctx context.Context, userID string, incidentID uuid.UUID, force bool) error {
	inc, err := r.incidents.GetByID(ctx, incidentID)
	if err != nil {
		return err
	}
	if inc == nil {
		return ErrIncidentNotFound
	}

	rc, err := r.conns.GetByID(ctx, inc.RepositoryConnectionID)
	if err != nil {
		return err
	}
	if rc == nil {
		return ErrConnectionNotFound
	}
	if rc.UserID != userID {
		return ErrNotOwner
	}

	switch inc.Status {
	case models.IncidentAnalyzing, models.IncidentRemediating:
		return ErrRemediationInFlight
	}
	if !force {
		if pr, err := r.prs.GetByIncident(ctx, incidentID); err != nil {
			return err
		} else if pr != nil {
			return ErrAlreadyRemediated
		}
	}

	if err := r.incidents.SetStatus(ctx, incidentID, models.IncidentDetected); err != nil {
		return err
	}
	claimed, err := r.incidents.Claim(ctx, incidentID)
	if err != nil {
		return err
	}
	if !claimed {
		return ErrRemediationInFlight
	}
	if r.queue == nil || !r.queue.Enqueue(incidentID) {
		detail := "remediation queue full"
		_ = r.incidents.SetFailure(ctx, incidentID, models.IncidentFailed, models.FailureBudget, &detail)
		return fmt.Errorf("remediation queue full")
	}
	return nil
}

func (r *Remediator) finishFailed(ctx context.Context, inc *models.Incident, reason, detail string) {
	if err := r.incidents.SetFailure(ctx, inc.ID, models.IncidentFailed, reason, &detail); err != nil {
		slog.Error("recording incident failure failed", "incident_id", inc.ID, "reason", reason, "error", err)
	}
}

// summarize picks the dominant error type and the highest severity across the
// extracted blocks
func summarize(blocks []logparse.ErrorBlock) (string, string) {
	counts := make(map[logparse.ErrorType]int)
	top := blocks[0].Severity
	for _, b := range blocks {
		counts[b.ErrorType]++
		if b.Severity.Rank() > top.Rank() {
			top = b.Severity
		}
	}
	dominant := blocks[0].ErrorType
	for t, n := range counts {
		if n > counts[dominant] || (n == counts[dominant] && t < dominant) {
			dominant = t
		}
	}
	return string(dominant), string(top)
}

// analysisSummary is a short human-readable digest stored on the incident
func analysisSummary(blocks []logparse.ErrorBlock) string {
	first := blocks[0].Message
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	first = logparse.TruncateTail(first, 200)
	if len(blocks) == 1 {
		return first
	}
	return fmt.Sprintf("%s (+%d more)", first, len(blocks)-1)
}

// selectCandidates groups blocks by file and picks the most promising files:
// blocks with line numbers beat those without, then higher severity, then
// more blocks. Blocks without a file cannot be fixed line-wise and are
// dropped here.
func selectCandidates(blocks []logparse.ErrorBlock, maxFiles, maxPerFile int) []candidate {
	byFile := make(map[string][]logparse.ErrorBlock)
	var order []string
	for _, b := range blocks {
		if b.File == "" {
			continue
		}
		if _, seen := byFile[b.File]; !seen {
			order = append(order, b.File)
		}
		byFile[b.File] = append(byFile[b.File], b)
	}

	cands := make([]candidate, 0, len(order))
	for _, f := range order {
		cands = append(cands, candidate{file: f, blocks: byFile[f]})
	}

	score := func(c candidate) (lined int, sev int) {
		for _, b := range c.blocks {
			if b.HasLine() {
				lined++
			}
			if b.Severity.Rank() > sev {
				sev = b.Severity.Rank()
			}
		}
		return lined, sev
	}
	sort.SliceStable(cands, func(i, j int) bool {
		li, si := score(cands[i])
		lj, sj := score(cands[j])
		if (li > 0) != (lj > 0) {
			return li > 0
		}
		if si != sj {
			return si > sj
		}
		return len(cands[i].blocks) > len(cands[j].blocks)
	})

	if len(cands) > maxFiles {
		cands = cands[:maxFiles]
	}
	for i := range cands {
		if len(cands[i].blocks) > maxPerFile {
			cands[i].blocks = cands[i].blocks[:maxPerFile]
		}
	}
	return cands
}

// prBody renders the pull request description. The notice that the change is
// machine-generated is part of the contract with reviewers, and the incident
// id lets anyone trace the pull request back to its incident record.
func prBody(inc *models.Incident, run *models.WorkflowRun, summaries []string) string {
	var b strings.Builder
	b.WriteString("Automated fix for a failed CI run.\n\n")
	if run.WorkflowName != "" {
		fmt.Fprintf(&b, "Workflow: %s\n", run.WorkflowName)
	}
	fmt.Fprintf(&b, "Run: %s", run.ExternalRunID)
	if run.RunURL != nil {
		fmt.Fprintf(&b, " (%s)", *run.RunURL)
	}
	fmt.Fprintf(&b, "\nIncident: %s", inc.ID)
	b.WriteString("\n\n")
	if len(summaries) > 0 {
		b.WriteString("Changes:\n")
		b.WriteString(strings.Join(summaries, "\n"))
		b.WriteString("\n\n")
	}
	b.WriteString("This pull request was generated automatically from the run's error output. Review carefully before merging.")
	return b.String()
}
