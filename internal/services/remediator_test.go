package services

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/devflowfix/devflowfix/internal/config"
	"github.com/devflowfix/devflowfix/internal/db/models"
	"github.com/devflowfix/devflowfix/internal/llm"
	"github.com/devflowfix/devflowfix/internal/patch"
	"github.com/devflowfix/devflowfix/internal/scm"
)

const compileErrorLog = "src/main.c:2:5: error: 'x' undeclared (first use in this function)\n"

type remediatorFixture struct {
	remediator *Remediator
	incidents  *fakeIncidentStore
	runs       *fakeRunStore
	conns      *fakeRepoConnStore
	prs        *fakePRStore
	model      *fakeModel
	incident   *models.Incident
	run        *models.WorkflowRun
	rc         *models.RepositoryConnection
}

func newRemediatorFixture(t *testing.T, connector scm.Connector) *remediatorFixture {
	t.Helper()
	kr := testKeyring()

	acct := &models.OAuthConnection{
		ID:                   uuid.New(),
		UserID:               "user-1",
		Provider:             "github",
		AccessTokenEncrypted: seal(kr, "tok"),
		IsActive:             true,
	}
	oauthStore := newFakeOAuthStore()
	if err := oauthStore.Save(context.Background(), acct); err != nil {
		t.Fatal(err)
	}

	rc := &models.RepositoryConnection{
		ID:                 uuid.New(),
		UserID:             "user-1",
		OAuthConnectionID:  acct.ID,
		Provider:           "github",
		RepositoryFullName: "acme/widgets",
		DefaultBranch:      "main",
		IsEnabled:          true,
		AutoPREnabled:      true,
	}
	run := &models.WorkflowRun{
		ID:                     uuid.New(),
		RepositoryConnectionID: rc.ID,
		Provider:               "github",
		ExternalRunID:          "4242",
		WorkflowName:           "ci",
		Status:                 models.RunStatusCompleted,
		Branch:                 "main",
		CommitSHA:              "deadbeef",
	}
	inc := &models.Incident{
		ID:                     uuid.New(),
		WorkflowRunID:          run.ID,
		RepositoryConnectionID: rc.ID,
		Status:                 models.IncidentAnalyzing,
		FailureType:            "unknown",
		Severity:               models.SeverityHigh,
	}

	f := &remediatorFixture{
		incidents: newFakeIncidentStore(inc),
		runs:      newFakeRunStore(run),
		conns:     newFakeRepoConnStore(rc),
		prs:       newFakePRStore(),
		model: &fakeModel{fix: &llm.FileFix{
			Summary: "declare x before use",
			Changes: []patch.Change{{LineNumber: 2, FixedLine: "  int x = 0;"}},
		}},
		incident: inc,
		run:      run,
		rc:       rc,
	}

	cfg := &config.RemediationConfig{
		MaxFilesPerPR:      3,
		MaxErrorsPerFile:   5,
		DeadlineS:          300,
		LogContextMaxChars: 1500,
		BranchPrefix:       "remediation",
	}
	f.remediator = NewRemediator(
		cfg, f.incidents, f.runs, f.conns, f.prs,
		NewTokenVault(oauthStore, kr),
		&fakeSource{connector: connector},
		f.model, nil,
	)
	return f
}

func logConnector() *fakeConnector {
	return &fakeConnector{
		downloadRunLogs: func(int64) (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(compileErrorLog)), nil
		},
		fetchFile: func(owner, name, path, ref string) (*scm.RepoFile, error) {
			return &scm.RepoFile{Path: path, Ref: ref, BlobSHA: "blob-1", Content: "int main() {\n  return x;\n}\n"}, nil
		},
	}
}

func (f *remediatorFixture) currentIncident(t *testing.T) *models.Incident {
	t.Helper()
	inc, err := f.incidents.GetByID(context.Background(), f.incident.ID)
	if err != nil || inc == nil {
		t.Fatalf("incident lookup failed: %v", err)
	}
	return inc
}

func TestRemediateOpensFixPullRequest(t *testing.T) {
	connector := logConnector()
	var committed scm.FileChange
	connector.commitFile = func(change scm.FileChange) (*scm.GitCommit, error) {
		committed = change
		return &scm.GitCommit{SHA: "fix-sha"}, nil
	}
	var draft scm.PullRequestDraft
	connector.openPullRequest = func(d scm.PullRequestDraft) (*scm.PullRequest, error) {
		draft = d
		return &scm.PullRequest{Number: 11, Title: d.Title, State: "open", WebURL: "https://example.test/pr/11"}, nil
	}

	f := newRemediatorFixture(t, connector)
	if err := f.remediator.Remediate(context.Background(), f.incident.ID); err != nil {
		t.Fatalf("Remediate() error = %v", err)
	}

	inc := f.currentIncident(t)
	if inc.Status != models.IncidentPRCreated {
		t.Fatalf("status = %q, want pr_created", inc.Status)
	}
	if inc.FailureType != "build_failure" {
		t.Errorf("failure type = %q, want build_failure", inc.FailureType)
	}
	if inc.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", inc.ErrorCount)
	}

	if committed.Path != "src/main.c" || committed.BlobSHA != "blob-1" {
		t.Errorf("commit = %+v, want src/main.c at blob-1", committed)
	}
	if !strings.Contains(committed.Content, "int x = 0;") {
		t.Errorf("committed content missing fix: %q", committed.Content)
	}
	wantBranch := "remediation/" + f.incident.ID.String()
	if committed.Branch != wantBranch {
		t.Errorf("commit branch = %q, want %q", committed.Branch, wantBranch)
	}

	if draft.SourceBranch != wantBranch || draft.TargetBranch != "main" {
		t.Errorf("draft branches = %s -> %s, want %s -> main", draft.SourceBranch, draft.TargetBranch, wantBranch)
	}
	if !strings.Contains(draft.Body, "generated automatically") {
		t.Error("pull request body lacks the machine-generated notice")
	}
	if !strings.Contains(draft.Body, f.incident.ID.String()) {
		t.Error("pull request body lacks the incident id")
	}

	record, _ := f.prs.GetByIncident(context.Background(), f.incident.ID)
	if record == nil {
		t.Fatal("no pull request record stored")
	}
	if record.PRNumber != 11 || record.FilesChanged != 1 {
		t.Errorf("record = number %d, files %d; want 11, 1", record.PRNumber, record.FilesChanged)
	}
}

func TestRemediateNoCredentials(t *testing.T) {
	f := newRemediatorFixture(t, logConnector())
	f.rc.OAuthConnectionID = uuid.New() // points nowhere
	if err := f.conns.Create(context.Background(), f.rc); err != nil {
		t.Fatal(err)
	}

	_ = f.remediator.Remediate(context.Background(), f.incident.ID)
	inc := f.currentIncident(t)
	if inc.Status != models.IncidentFailed {
		t.Fatalf("status = %q, want failed", inc.Status)
	}
	if inc.FailureReason == nil || *inc.FailureReason != models.FailureNoCredentials {
		t.Errorf("reason = %v, want failed_no_credentials", inc.FailureReason)
	}
}

func TestRemediateExpiredLogs(t *testing.T) {
	connector := logConnector()
	connector.downloadRunLogs = func(int64) (io.ReadCloser, error) {
		return nil, scm.ErrLogsExpired
	}
	f := newRemediatorFixture(t, connector)

	_ = f.remediator.Remediate(context.Background(), f.incident.ID)
	inc := f.currentIncident(t)
	if inc.FailureReason == nil || *inc.FailureReason != models.FailureNoLogs {
		t.Errorf("reason = %v, want failed_no_logs", inc.FailureReason)
	}
}

func TestRemediateNoSignal(t *testing.T) {
	connector := logConnector()
	connector.downloadRunLogs = func(int64) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("All 42 tests passed.\nDone in 3.2s\n")), nil
	}
	f := newRemediatorFixture(t, connector)

	if err := f.remediator.Remediate(context.Background(), f.incident.ID); err != nil {
		t.Fatalf("Remediate() error = %v", err)
	}
	inc := f.currentIncident(t)
	if inc.Status != models.IncidentFailed {
		t.Fatalf("status = %q, want failed", inc.Status)
	}
	if inc.FailureReason == nil || *inc.FailureReason != models.FailureNoSignal {
		t.Errorf("reason = %v, want failed_no_signal", inc.FailureReason)
	}
}

func TestRemediateBranchConflict(t *testing.T) {
	connector := logConnector()
	connector.createBranch = func(string, string, string, string) error {
		return scm.ErrConflict
	}
	f := newRemediatorFixture(t, connector)

	_ = f.remediator.Remediate(context.Background(), f.incident.ID)
	inc := f.currentIncident(t)
	if inc.FailureReason == nil || *inc.FailureReason != models.FailureConflict {
		t.Errorf("reason = %v, want failed_conflict", inc.FailureReason)
	}
}

func TestRemediateCommitConflictMarksConflict(t *testing.T) {
	// The branch moving between fetch and commit is a conflict, not a bad fix.
	connector := logConnector()
	connector.commitFile = func(scm.FileChange) (*scm.GitCommit, error) {
		return nil, scm.WrapRemoteError(409, "sha mismatch", nil)
	}
	f := newRemediatorFixture(t, connector)

	if err := f.remediator.Remediate(context.Background(), f.incident.ID); err != nil {
		t.Fatalf("Remediate() error = %v", err)
	}
	inc := f.currentIncident(t)
	if inc.Status != models.IncidentFailed {
		t.Fatalf("status = %q, want failed", inc.Status)
	}
	if inc.FailureReason == nil || *inc.FailureReason != models.FailureConflict {
		t.Errorf("reason = %v, want failed_conflict", inc.FailureReason)
	}
}

func TestRemediateModelFailureMarksFailedRemediation(t *testing.T) {
	f := newRemediatorFixture(t, logConnector())
	f.model.err = llm.ErrNoChanges
	f.model.fix = nil

	if err := f.remediator.Remediate(context.Background(), f.incident.ID); err != nil {
		t.Fatalf("Remediate() error = %v", err)
	}
	inc := f.currentIncident(t)
	if inc.Status != models.IncidentFailed {
		t.Fatalf("status = %q, want failed", inc.Status)
	}
	if inc.FailureReason == nil || *inc.FailureReason != models.FailureRemediation {
		t.Errorf("reason = %v, want failed_remediation", inc.FailureReason)
	}
}

func TestRemediatePRCreationFailure(t *testing.T) {
	connector := logConnector()
	connector.openPullRequest = func(scm.PullRequestDraft) (*scm.PullRequest, error) {
		return nil, scm.WrapRemoteError(502, "bad gateway", nil)
	}
	f := newRemediatorFixture(t, connector)

	_ = f.remediator.Remediate(context.Background(), f.incident.ID)
	inc := f.currentIncident(t)
	if inc.FailureReason == nil || *inc.FailureReason != models.FailureProvider {
		t.Errorf("reason = %v, want failed_provider", inc.FailureReason)
	}
}

func TestRemediateTruncatesErrorContext(t *testing.T) {
	long := compileErrorLog + strings.Repeat("    very long continuation line of build output\n", 200)
	connector := logConnector()
	connector.downloadRunLogs = func(int64) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(long)), nil
	}
	f := newRemediatorFixture(t, connector)

	if err := f.remediator.Remediate(context.Background(), f.incident.ID); err != nil {
		t.Fatalf("Remediate() error = %v", err)
	}
	if len(f.model.reqs) == 0 {
		t.Fatal("model never called")
	}
	for _, req := range f.model.reqs {
		for _, b := range req.ErrorBlocks {
			if len(b.Message) > 1500 {
				t.Errorf("error message not truncated: %d bytes", len(b.Message))
			}
		}
	}
}

func TestRemediateRefreshesTokenOnUnauthorized(t *testing.T) {
	kr := testKeyring()
	refresh := seal(kr, "refresh-1")
	acct := &models.OAuthConnection{
		ID:                    uuid.New(),
		UserID:                "user-1",
		Provider:              "gitlab",
		AccessTokenEncrypted:  seal(kr, "stale"),
		RefreshTokenEncrypted: &refresh,
		IsActive:              true,
	}
	oauthStore := newFakeOAuthStore()
	if err := oauthStore.Save(context.Background(), acct); err != nil {
		t.Fatal(err)
	}

	downloads := 0
	connector := logConnector()
	connector.kind = scm.KindGitLab
	connector.downloadRunLogs = func(int64) (io.ReadCloser, error) {
		downloads++
		if downloads == 1 {
			return nil, scm.ErrUnauthorized
		}
		return io.NopCloser(strings.NewReader(compileErrorLog)), nil
	}
	connector.renewToken = func(got string) (*scm.AccessToken, error) {
		if got != "refresh-1" {
			return nil, scm.ErrUnauthorized
		}
		return &scm.AccessToken{AccessToken: "fresh", RefreshToken: "refresh-2"}, nil
	}

	f := newRemediatorFixture(t, connector)
	f.rc.OAuthConnectionID = acct.ID
	f.rc.Provider = "gitlab"
	if err := f.conns.Create(context.Background(), f.rc); err != nil {
		t.Fatal(err)
	}
	f.remediator.vault = NewTokenVault(oauthStore, kr)

	if err := f.remediator.Remediate(context.Background(), f.incident.ID); err != nil {
		t.Fatalf("Remediate() error = %v", err)
	}
	if downloads != 2 {
		t.Errorf("downloads = %d, want retry after refresh", downloads)
	}
	if f.currentIncident(t).Status != models.IncidentPRCreated {
		t.Errorf("status = %q, want pr_created", f.currentIncident(t).Status)
	}
}

func TestRemediateCapsLogRead(t *testing.T) {
	// A reader far larger than the cap must not be slurped whole.
	connector := logConnector()
	connector.downloadRunLogs = func(int64) (io.ReadCloser, error) {
		head := strings.NewReader(compileErrorLog)
		tail := bytes.NewReader(bytes.Repeat([]byte{'a'}, 1024))
		return io.NopCloser(io.MultiReader(head, tail, neverEnding{})), nil
	}
	f := newRemediatorFixture(t, connector)

	if err := f.remediator.Remediate(context.Background(), f.incident.ID); err != nil {
		t.Fatalf("Remediate() error = %v", err)
	}
	if f.currentIncident(t).Status != models.IncidentPRCreated {
		t.Errorf("status = %q, want pr_created", f.currentIncident(t).Status)
	}
}

// neverEnding reads zero bytes forever-cheaply; LimitReader must stop it.
type neverEnding struct{}

func (neverEnding) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'a'
	}
	return len(p), nil
}

func TestRequeue(t *testing.T) {
	f := newRemediatorFixture(t, logConnector())
	queue := &fakeQueue{}
	f.remediator.SetQueue(queue)

	// In-flight incidents cannot be requeued.
	if err := f.remediator.Requeue(context.Background(), "user-1", f.incident.ID, false); err != ErrRemediationInFlight {
		t.Errorf("in-flight requeue error = %v, want ErrRemediationInFlight", err)
	}

	if err := f.incidents.SetFailure(context.Background(), f.incident.ID, models.IncidentFailed, models.FailureProvider, nil); err != nil {
		t.Fatal(err)
	}
	if err := f.remediator.Requeue(context.Background(), "user-1", f.incident.ID, false); err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if len(queue.enqueued()) != 1 {
		t.Errorf("enqueued = %d, want 1", len(queue.enqueued()))
	}
	if f.currentIncident(t).Status != models.IncidentAnalyzing {
		t.Errorf("status = %q, want analyzing (claimed)", f.currentIncident(t).Status)
	}
}

func TestRequeueOwnershipAndPRGuard(t *testing.T) {
	f := newRemediatorFixture(t, logConnector())
	queue := &fakeQueue{}
	f.remediator.SetQueue(queue)

	if err := f.remediator.Requeue(context.Background(), "stranger", f.incident.ID, false); err != ErrNotOwner {
		t.Errorf("foreign requeue error = %v, want ErrNotOwner", err)
	}
	if err := f.remediator.Requeue(context.Background(), "user-1", uuid.New(), false); err != ErrIncidentNotFound {
		t.Errorf("missing incident error = %v, want ErrIncidentNotFound", err)
	}

	// A finished incident with a PR needs force.
	if err := f.incidents.SetStatus(context.Background(), f.incident.ID, models.IncidentPRCreated); err != nil {
		t.Fatal(err)
	}
	if err := f.prs.Create(context.Background(), &models.PullRequestRecord{
		ID: uuid.New(), IncidentID: f.incident.ID, Provider: "github",
		RepositoryFullName: "acme/widgets", PRNumber: 5, State: models.PRStateOpen,
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.remediator.Requeue(context.Background(), "user-1", f.incident.ID, false); err != ErrAlreadyRemediated {
		t.Errorf("requeue with PR error = %v, want ErrAlreadyRemediated", err)
	}
	if err := f.remediator.Requeue(context.Background(), "user-1", f.incident.ID, true); err != nil {
		t.Errorf("forced requeue error = %v", err)
	}
	if len(queue.enqueued()) != 1 {
		t.Errorf("enqueued = %d, want 1", len(queue.enqueued()))
	}
}
