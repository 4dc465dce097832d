package services

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devflowfix/devflowfix/internal/crypto"
	"github.com/devflowfix/devflowfix/internal/db/models"
	"github.com/devflowfix/devflowfix/internal/llm"
	"github.com/devflowfix/devflowfix/internal/scm"
)

func testKeyring() *crypto.Keyring {
	kr, err := crypto.NewKeyring(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		panic(err)
	}
	return kr
}

func seal(kr *crypto.Keyring, s string) string {
	out, err := kr.Seal(s)
	if err != nil {
		panic(err)
	}
	return out
}

// fakeConnector implements scm.Connector with per-method hooks. Methods
// without a hook return zero values.
type fakeConnector struct {
	kind scm.ProviderKind

	authorizationEndpoint func(state string, scopes []string) string
	completeAuthorization func(code string) (*scm.AccessToken, error)
	renewToken            func(refreshToken string) (*scm.AccessToken, error)
	revokeToken           func(creds *scm.AccessToken) error
	fetchViewer           func(creds *scm.AccessToken) (*scm.Account, error)
	fetchRepositories     func(pg scm.Pagination) (*scm.RepoListResult, error)
	fetchRepository       func(owner, name string) (*scm.Repository, error)
	fetchFile             func(owner, name, path, ref string) (*scm.RepoFile, error)
	createBranch          func(owner, name, branch, fromSHA string) error
	commitFile            func(change scm.FileChange) (*scm.GitCommit, error)
	openPullRequest       func(draft scm.PullRequestDraft) (*scm.PullRequest, error)
	downloadRunLogs       func(runID int64) (io.ReadCloser, error)
	rerunWorkflow         func(owner, name string, runID int64) error
	registerWebhook       func(owner, name string, setup scm.WebhookSetup) (*scm.WebhookInfo, error)
	removeWebhook         func(owner, name, hookID string) error
	parseDelivery         func(body []byte, headers map[string]string) (*scm.IncomingHook, error)
	verifySignature       func(body []byte, sig, secret string) bool
}

func (f *fakeConnector) Platform() scm.ProviderKind {
	if f.kind == "" {
		return scm.KindGitHub
	}
	return f.kind
}

func (f *fakeConnector) AuthorizationEndpoint(state string, scopes []string) string {
	if f.authorizationEndpoint != nil {
		return f.authorizationEndpoint(state, scopes)
	}
	return "https://example.test/authorize?state=" + state
}

func (f *fakeConnector) CompleteAuthorization(_ context.Context, code string) (*scm.AccessToken, error) {
	if f.completeAuthorization != nil {
		return f.completeAuthorization(code)
	}
	return &scm.AccessToken{AccessToken: "tok-" + code}, nil
}

func (f *fakeConnector) RenewToken(_ context.Context, refreshToken string) (*scm.AccessToken, error) {
	if f.renewToken != nil {
		return f.renewToken(refreshToken)
	}
	return &scm.AccessToken{AccessToken: "renewed", RefreshToken: "refresh-next"}, nil
}

func (f *fakeConnector) RevokeToken(_ context.Context, creds *scm.AccessToken) error {
	if f.revokeToken != nil {
		return f.revokeToken(creds)
	}
	return nil
}

func (f *fakeConnector) FetchViewer(_ context.Context, creds *scm.AccessToken) (*scm.Account, error) {
	if f.fetchViewer != nil {
		return f.fetchViewer(creds)
	}
	return &scm.Account{ExternalID: "u-1", Login: "octocat"}, nil
}

func (f *fakeConnector) FetchRepositories(_ context.Context, _ *scm.AccessToken, pg scm.Pagination) (*scm.RepoListResult, error) {
	if f.fetchRepositories != nil {
		return f.fetchRepositories(pg)
	}
	return &scm.RepoListResult{}, nil
}

func (f *fakeConnector) FetchRepository(_ context.Context, _ *scm.AccessToken, owner, name string) (*scm.Repository, error) {
	if f.fetchRepository != nil {
		return f.fetchRepository(owner, name)
	}
	return &scm.Repository{
		ExternalID: "r-1", Owner: owner, Name: name,
		FullName: owner + "/" + name, DefaultBranch: "main",
	}, nil
}

func (f *fakeConnector) FetchFile(_ context.Context, _ *scm.AccessToken, owner, name, path, ref string) (*scm.RepoFile, error) {
	if f.fetchFile != nil {
		return f.fetchFile(owner, name, path, ref)
	}
	return &scm.RepoFile{Path: path, Ref: ref, Content: "line one\n"}, nil
}

func (f *fakeConnector) CreateBranch(_ context.Context, _ *scm.AccessToken, owner, name, branch, fromSHA string) error {
	if f.createBranch != nil {
		return f.createBranch(owner, name, branch, fromSHA)
	}
	return nil
}

func (f *fakeConnector) CommitFile(_ context.Context, _ *scm.AccessToken, owner, name string, change scm.FileChange) (*scm.GitCommit, error) {
	if f.commitFile != nil {
		return f.commitFile(change)
	}
	return &scm.GitCommit{SHA: "abc123"}, nil
}

func (f *fakeConnector) OpenPullRequest(_ context.Context, _ *scm.AccessToken, owner, name string, draft scm.PullRequestDraft) (*scm.PullRequest, error) {
	if f.openPullRequest != nil {
		return f.openPullRequest(draft)
	}
	return &scm.PullRequest{Number: 7, Title: draft.Title, State: "open", WebURL: "https://example.test/pr/7"}, nil
}

func (f *fakeConnector) FetchWorkflowRun(_ context.Context, _ *scm.AccessToken, owner, name string, runID int64) (*scm.WorkflowRun, error) {
	return nil, scm.ErrNotFound
}

func (f *fakeConnector) DownloadRunLogs(_ context.Context, _ *scm.AccessToken, owner, name string, runID int64) (io.ReadCloser, error) {
	if f.downloadRunLogs != nil {
		return f.downloadRunLogs(runID)
	}
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *fakeConnector) RerunWorkflow(_ context.Context, _ *scm.AccessToken, owner, name string, runID int64) error {
	if f.rerunWorkflow != nil {
		return f.rerunWorkflow(owner, name, runID)
	}
	return nil
}

func (f *fakeConnector) RegisterWebhook(_ context.Context, _ *scm.AccessToken, owner, name string, setup scm.WebhookSetup) (*scm.WebhookInfo, error) {
	if f.registerWebhook != nil {
		return f.registerWebhook(owner, name, setup)
	}
	return &scm.WebhookInfo{ExternalID: "hook-1", CallbackURL: setup.CallbackURL, IsActive: true}, nil
}

func (f *fakeConnector) RemoveWebhook(_ context.Context, _ *scm.AccessToken, owner, name, hookID string) error {
	if f.removeWebhook != nil {
		return f.removeWebhook(owner, name, hookID)
	}
	return nil
}

func (f *fakeConnector) ParseDelivery(body []byte, headers map[string]string) (*scm.IncomingHook, error) {
	if f.parseDelivery != nil {
		return f.parseDelivery(body, headers)
	}
	return &scm.IncomingHook{Event: scm.HookEventPing}, nil
}

func (f *fakeConnector) VerifyDeliverySignature(body []byte, sig, secret string) bool {
	if f.verifySignature != nil {
		return f.verifySignature(body, sig, secret)
	}
	return true
}

// fakeSource hands out one connector for every provider
type fakeSource struct {
	connector scm.Connector
	err       error
	scopes    []string
}

func (s *fakeSource) For(provider string) (scm.Connector, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.connector, nil
}

func (s *fakeSource) Scopes(provider string) []string { return s.scopes }

// fakeOAuthStore is an in-memory oauthConnectionStore and vaultConnectionStore
type fakeOAuthStore struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]*models.OAuthConnection
	saves int
}

func newFakeOAuthStore() *fakeOAuthStore {
	return &fakeOAuthStore{rows: make(map[uuid.UUID]*models.OAuthConnection)}
}

func (s *fakeOAuthStore) Save(_ context.Context, conn *models.OAuthConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.UserID == conn.UserID && row.Provider == conn.Provider {
			c := *conn
			c.ID = row.ID
			s.rows[row.ID] = &c
			s.saves++
			return nil
		}
	}
	c := *conn
	s.rows[c.ID] = &c
	s.saves++
	return nil
}

func (s *fakeOAuthStore) GetByID(_ context.Context, id uuid.UUID) (*models.OAuthConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		c := *row
		return &c, nil
	}
	return nil, nil
}

func (s *fakeOAuthStore) GetByUserProvider(_ context.Context, userID, provider string) (*models.OAuthConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.UserID == userID && row.Provider == provider {
			c := *row
			return &c, nil
		}
	}
	return nil, nil
}

func (s *fakeOAuthStore) ListByUser(_ context.Context, userID string) ([]*models.OAuthConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.OAuthConnection
	for _, row := range s.rows {
		if row.UserID == userID {
			c := *row
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *fakeOAuthStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *fakeOAuthStore) UpdateTokens(_ context.Context, id uuid.UUID, accessEncrypted string, refreshEncrypted *string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil
	}
	row.AccessTokenEncrypted = accessEncrypted
	row.RefreshTokenEncrypted = refreshEncrypted
	row.ExpiresAt = expiresAt
	return nil
}

func (s *fakeOAuthStore) TouchLastUsed(_ context.Context, id uuid.UUID) error { return nil }

// fakeRepoConnStore is an in-memory store over repository connections
type fakeRepoConnStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.RepositoryConnection
}

func newFakeRepoConnStore(rows ...*models.RepositoryConnection) *fakeRepoConnStore {
	s := &fakeRepoConnStore{rows: make(map[uuid.UUID]*models.RepositoryConnection)}
	for _, r := range rows {
		c := *r
		s.rows[c.ID] = &c
	}
	return s
}

func (s *fakeRepoConnStore) Create(_ context.Context, rc *models.RepositoryConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *rc
	s.rows[c.ID] = &c
	return nil
}

func (s *fakeRepoConnStore) GetByID(_ context.Context, id uuid.UUID) (*models.RepositoryConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		c := *row
		return &c, nil
	}
	return nil, nil
}

func (s *fakeRepoConnStore) GetByUserFullName(_ context.Context, userID, fullName string) (*models.RepositoryConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.UserID == userID && row.RepositoryFullName == fullName {
			c := *row
			return &c, nil
		}
	}
	return nil, nil
}

func (s *fakeRepoConnStore) ListByFullName(_ context.Context, provider, fullName string) ([]*models.RepositoryConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.RepositoryConnection
	for _, row := range s.rows {
		if row.Provider == provider && row.RepositoryFullName == fullName {
			c := *row
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *fakeRepoConnStore) ListByUser(_ context.Context, userID string) ([]*models.RepositoryConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.RepositoryConnection
	for _, row := range s.rows {
		if row.UserID == userID {
			c := *row
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *fakeRepoConnStore) UpdateSettings(_ context.Context, id uuid.UUID, isEnabled, autoPREnabled *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil
	}
	if isEnabled != nil {
		row.IsEnabled = *isEnabled
	}
	if autoPREnabled != nil {
		row.AutoPREnabled = *autoPREnabled
	}
	return nil
}

func (s *fakeRepoConnStore) SetWebhook(_ context.Context, id uuid.UUID, webhookID, webhookURL, secretEncrypted *string, status string, events []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		row.WebhookID = webhookID
		row.WebhookURL = webhookURL
		row.WebhookSecretEncrypted = secretEncrypted
		row.WebhookStatus = status
		row.Events = events
	}
	return nil
}

func (s *fakeRepoConnStore) TouchLastEvent(_ context.Context, id uuid.UUID) error { return nil }

func (s *fakeRepoConnStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

// fakeEventLedger records webhook deliveries and reports duplicates
type fakeEventLedger struct {
	mu        sync.Mutex
	seen      map[string]bool
	processed map[uuid.UUID]string
}

func newFakeEventLedger() *fakeEventLedger {
	return &fakeEventLedger{seen: make(map[string]bool), processed: make(map[uuid.UUID]string)}
}

func (l *fakeEventLedger) Insert(_ context.Context, ev *models.WebhookEvent) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ev.Provider + "/" + ev.DeliveryID
	if l.seen[key] {
		return false, nil
	}
	l.seen[key] = true
	return true, nil
}

func (l *fakeEventLedger) MarkProcessed(_ context.Context, id uuid.UUID, status string, errMsg *string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.processed[id] = status
	return nil
}

// fakeRunStore stores workflow runs keyed by (provider, external id)
type fakeRunStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.WorkflowRun
}

func newFakeRunStore(rows ...*models.WorkflowRun) *fakeRunStore {
	s := &fakeRunStore{rows: make(map[uuid.UUID]*models.WorkflowRun)}
	for _, r := range rows {
		c := *r
		s.rows[c.ID] = &c
	}
	return s
}

func (s *fakeRunStore) Upsert(_ context.Context, run *models.WorkflowRun) (*models.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.Provider == run.Provider && row.ExternalRunID == run.ExternalRunID {
			c := *run
			c.ID = row.ID
			s.rows[row.ID] = &c
			out := c
			return &out, nil
		}
	}
	c := *run
	s.rows[c.ID] = &c
	out := c
	return &out, nil
}

func (s *fakeRunStore) GetByID(_ context.Context, id uuid.UUID) (*models.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		c := *row
		return &c, nil
	}
	return nil, nil
}

// fakeIncidentStore is an in-memory incident table with claim semantics
type fakeIncidentStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.Incident
}

func newFakeIncidentStore(rows ...*models.Incident) *fakeIncidentStore {
	s := &fakeIncidentStore{rows: make(map[uuid.UUID]*models.Incident)}
	for _, r := range rows {
		c := *r
		s.rows[c.ID] = &c
	}
	return s
}

func (s *fakeIncidentStore) CreateOrGet(_ context.Context, inc *models.Incident) (*models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.WorkflowRunID == inc.WorkflowRunID {
			c := *row
			return &c, nil
		}
	}
	c := *inc
	s.rows[c.ID] = &c
	out := c
	return &out, nil
}

func (s *fakeIncidentStore) GetByID(_ context.Context, id uuid.UUID) (*models.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		c := *row
		return &c, nil
	}
	return nil, nil
}

func (s *fakeIncidentStore) Claim(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.Status != models.IncidentDetected {
		return false, nil
	}
	row.Status = models.IncidentAnalyzing
	return true, nil
}

func (s *fakeIncidentStore) SetAnalysis(_ context.Context, id uuid.UUID, failureType, severity string, errorCount int, summary *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		row.FailureType = failureType
		row.Severity = severity
		row.ErrorCount = errorCount
		row.AnalysisSummary = summary
	}
	return nil
}

func (s *fakeIncidentStore) SetStatus(_ context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		row.Status = status
	}
	return nil
}

func (s *fakeIncidentStore) SetFailure(_ context.Context, id uuid.UUID, status, reason string, detail *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		row.Status = status
		row.FailureReason = &reason
		row.FailureDetail = detail
	}
	return nil
}

// fakePRStore is an in-memory pull request record table
type fakePRStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.PullRequestRecord
}

func newFakePRStore(rows ...*models.PullRequestRecord) *fakePRStore {
	s := &fakePRStore{rows: make(map[uuid.UUID]*models.PullRequestRecord)}
	for _, r := range rows {
		c := *r
		s.rows[c.ID] = &c
	}
	return s
}

func (s *fakePRStore) Create(_ context.Context, pr *models.PullRequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *pr
	s.rows[c.ID] = &c
	return nil
}

func (s *fakePRStore) GetByIncident(_ context.Context, incidentID uuid.UUID) (*models.PullRequestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.IncidentID == incidentID {
			c := *row
			return &c, nil
		}
	}
	return nil, nil
}

func (s *fakePRStore) GetByNumber(_ context.Context, provider, fullName string, number int64) (*models.PullRequestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.Provider == provider && row.RepositoryFullName == fullName && row.PRNumber == number {
			c := *row
			return &c, nil
		}
	}
	return nil, nil
}

func (s *fakePRStore) UpdateState(_ context.Context, id uuid.UUID, state string, mergedAt, closedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		row.State = state
		row.MergedAt = mergedAt
		row.ClosedAt = closedAt
	}
	return nil
}

// fakeQueue collects enqueued incident ids
type fakeQueue struct {
	mu   sync.Mutex
	ids  []uuid.UUID
	full bool
}

func (q *fakeQueue) Enqueue(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return false
	}
	q.ids = append(q.ids, id)
	return true
}

func (q *fakeQueue) enqueued() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uuid.UUID(nil), q.ids...)
}

// fakeModel returns a canned fix
type fakeModel struct {
	fix  *llm.FileFix
	err  error
	reqs []llm.FixRequest
}

func (m *fakeModel) GenerateFix(_ context.Context, req llm.FixRequest) (*llm.FileFix, error) {
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.fix, nil
}
