package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/devflowfix/devflowfix/internal/db/models"
)

var repoConnCols = []string{
	"id", "user_id", "oauth_connection_id", "provider", "external_repo_id",
	"repository_full_name", "default_branch", "webhook_id", "webhook_url",
	"webhook_status", "events", "webhook_secret_encrypted", "is_enabled",
	"auto_pr_enabled", "last_event_at", "created_at", "updated_at",
}

func sampleRepoConnRow() *sqlmock.Rows {
	return sqlmock.NewRows(repoConnCols).
		AddRow(uuid.New(), "user-1", uuid.New(), "github", "9001",
			"octo/widgets", "main", nil, nil,
			models.WebhookInactive, "{}", nil, true,
			true, nil, time.Now(), time.Now())
}

func newRepoConnRepo(t *testing.T) (*RepositoryConnectionRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRepositoryConnectionRepository(sqlx.NewDb(db, "sqlmock")), mock
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestRepoConnCreate_Success(t *testing.T) {
	repo, mock := newRepoConnRepo(t)
	mock.ExpectExec("INSERT INTO repository_connections").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rc := &models.RepositoryConnection{
		ID:                 uuid.New(),
		UserID:             "user-1",
		OAuthConnectionID:  uuid.New(),
		Provider:           "github",
		ExternalRepoID:     "9001",
		RepositoryFullName: "octo/widgets",
		DefaultBranch:      "main",
		IsEnabled:          true,
		AutoPREnabled:      true,
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
	if err := repo.Create(context.Background(), rc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRepoConnCreate_DBError(t *testing.T) {
	repo, mock := newRepoConnRepo(t)
	mock.ExpectExec("INSERT INTO repository_connections").
		WillReturnError(errDB)

	rc := &models.RepositoryConnection{ID: uuid.New()}
	if err := repo.Create(context.Background(), rc); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetByID
// ---------------------------------------------------------------------------

func TestRepoConnGetByID_Found(t *testing.T) {
	repo, mock := newRepoConnRepo(t)
	mock.ExpectQuery("SELECT.*FROM repository_connections.*WHERE id").
		WillReturnRows(sampleRepoConnRow())

	rc, err := repo.GetByID(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc == nil {
		t.Fatal("expected connection, got nil")
	}
	if rc.RepositoryFullName != "octo/widgets" {
		t.Errorf("RepositoryFullName = %s, want octo/widgets", rc.RepositoryFullName)
	}
}

func TestRepoConnGetByID_NotFound(t *testing.T) {
	repo, mock := newRepoConnRepo(t)
	mock.ExpectQuery("SELECT.*FROM repository_connections.*WHERE id").
		WillReturnRows(sqlmock.NewRows(repoConnCols))

	rc, err := repo.GetByID(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc != nil {
		t.Errorf("expected nil, got %v", rc)
	}
}

// ---------------------------------------------------------------------------
// ListByFullName / GetByUserFullName
// ---------------------------------------------------------------------------

func TestRepoConnListByFullName_Found(t *testing.T) {
	repo, mock := newRepoConnRepo(t)
	mock.ExpectQuery("SELECT.*FROM repository_connections.*WHERE provider.*repository_full_name").
		WithArgs("github", "octo/widgets").
		WillReturnRows(sampleRepoConnRow())

	rcs, err := repo.ListByFullName(context.Background(), "github", "octo/widgets")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rcs) != 1 {
		t.Fatalf("len = %d, want 1", len(rcs))
	}
}

func TestRepoConnListByFullName_NotFound(t *testing.T) {
	repo, mock := newRepoConnRepo(t)
	mock.ExpectQuery("SELECT.*FROM repository_connections.*WHERE provider.*repository_full_name").
		WithArgs("gitlab", "acme/payments").
		WillReturnRows(sqlmock.NewRows(repoConnCols))

	rcs, err := repo.ListByFullName(context.Background(), "gitlab", "acme/payments")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rcs) != 0 {
		t.Errorf("len = %d, want 0", len(rcs))
	}
}

func TestRepoConnGetByUserFullName_Found(t *testing.T) {
	repo, mock := newRepoConnRepo(t)
	mock.ExpectQuery("SELECT.*FROM repository_connections.*WHERE user_id.*repository_full_name").
		WithArgs("user-1", "octo/widgets").
		WillReturnRows(sampleRepoConnRow())

	rc, err := repo.GetByUserFullName(context.Background(), "user-1", "octo/widgets")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc == nil {
		t.Fatal("expected connection, got nil")
	}
}

func TestRepoConnGetByUserFullName_DBError(t *testing.T) {
	repo, mock := newRepoConnRepo(t)
	mock.ExpectQuery("SELECT.*FROM repository_connections").
		WillReturnError(errDB)

	_, err := repo.GetByUserFullName(context.Background(), "user-1", "octo/widgets")
	if err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// ListByUser / ListByOAuthConnection
// ---------------------------------------------------------------------------

func TestRepoConnListByUser_Success(t *testing.T) {
	repo, mock := newRepoConnRepo(t)
	mock.ExpectQuery("SELECT.*FROM repository_connections.*WHERE user_id.*ORDER BY").
		WithArgs("user-1").
		WillReturnRows(sampleRepoConnRow())

	conns, err := repo.ListByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conns) != 1 {
		t.Errorf("len = %d, want 1", len(conns))
	}
}

func TestRepoConnListByOAuthConnection_Empty(t *testing.T) {
	repo, mock := newRepoConnRepo(t)
	mock.ExpectQuery("SELECT.*FROM repository_connections.*WHERE oauth_connection_id").
		WillReturnRows(sqlmock.NewRows(repoConnCols))

	conns, err := repo.ListByOAuthConnection(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conns) != 0 {
		t.Errorf("len = %d, want 0", len(conns))
	}
}

// ---------------------------------------------------------------------------
// UpdateSettings
// ---------------------------------------------------------------------------

func TestRepoConnUpdateSettings_Success(t *testing.T) {
	repo, mock := newRepoConnRepo(t)
	mock.ExpectExec("UPDATE repository_connections").
		WillReturnResult(sqlmock.NewResult(1, 1))

	enabled := false
	if err := repo.UpdateSettings(context.Background(), uuid.New(), &enabled, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRepoConnUpdateSettings_DBError(t *testing.T) {
	repo, mock := newRepoConnRepo(t)
	mock.ExpectExec("UPDATE repository_connections").
		WillReturnError(errDB)

	autoPR := true
	if err := repo.UpdateSettings(context.Background(), uuid.New(), nil, &autoPR); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// SetWebhook
// ---------------------------------------------------------------------------

func TestRepoConnSetWebhook_Success(t *testing.T) {
	repo, mock := newRepoConnRepo(t)
	mock.ExpectExec("UPDATE repository_connections").
		WillReturnResult(sqlmock.NewResult(1, 1))

	hookID := "hook-42"
	hookURL := "https://devflowfix.example.com/webhooks/github"
	secret := "encrypted-secret"
	events := []string{"workflow_run", "pull_request", "push"}
	if err := repo.SetWebhook(context.Background(), uuid.New(), &hookID, &hookURL, &secret, models.WebhookActive, events); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRepoConnSetWebhook_Cleared(t *testing.T) {
	repo, mock := newRepoConnRepo(t)
	mock.ExpectExec("UPDATE repository_connections").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.SetWebhook(context.Background(), uuid.New(), nil, nil, nil, models.WebhookInactive, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// TouchLastEvent
// ---------------------------------------------------------------------------

func TestRepoConnTouchLastEvent_Success(t *testing.T) {
	repo, mock := newRepoConnRepo(t)
	mock.ExpectExec("UPDATE repository_connections").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.TouchLastEvent(context.Background(), uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

func TestRepoConnDelete_Success(t *testing.T) {
	repo, mock := newRepoConnRepo(t)
	mock.ExpectExec("DELETE FROM repository_connections").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Delete(context.Background(), uuid.New()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
