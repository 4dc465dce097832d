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

var incidentCols = []string{
	"id", "workflow_run_id", "repository_connection_id", "status",
	"failure_type", "severity", "error_count", "failure_reason",
	"failure_detail", "analysis_summary", "attempt_count",
	"last_attempt_at", "created_at", "updated_at",
}

func sampleIncidentRow() *sqlmock.Rows {
	return sqlmock.NewRows(incidentCols).
		AddRow(uuid.New(), uuid.New(), uuid.New(), models.IncidentDetected,
			"unknown", "medium", 0, nil,
			nil, nil, 0,
			nil, time.Now(), time.Now())
}

func newIncidentRepo(t *testing.T) (*IncidentRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewIncidentRepository(sqlx.NewDb(db, "sqlmock")), mock
}

// ---------------------------------------------------------------------------
// CreateOrGet
// ---------------------------------------------------------------------------

func TestIncidentCreateOrGet_New(t *testing.T) {
	repo, mock := newIncidentRepo(t)
	// Insert, then read back the canonical row
	mock.ExpectExec("INSERT INTO incidents").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT.*FROM incidents.*WHERE workflow_run_id").
		WillReturnRows(sampleIncidentRow())

	inc := &models.Incident{
		ID:                     uuid.New(),
		WorkflowRunID:          uuid.New(),
		RepositoryConnectionID: uuid.New(),
		Status:                 models.IncidentDetected,
		FailureType:            "unknown",
		Severity:               "medium",
		CreatedAt:              time.Now(),
		UpdatedAt:              time.Now(),
	}
	saved, err := repo.CreateOrGet(context.Background(), inc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved == nil {
		t.Fatal("expected incident, got nil")
	}
	if saved.Status != models.IncidentDetected {
		t.Errorf("Status = %s, want %s", saved.Status, models.IncidentDetected)
	}
}

func TestIncidentCreateOrGet_Duplicate(t *testing.T) {
	repo, mock := newIncidentRepo(t)
	// ON CONFLICT DO NOTHING swallowed the insert; the existing row wins
	mock.ExpectExec("INSERT INTO incidents").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT.*FROM incidents.*WHERE workflow_run_id").
		WillReturnRows(sampleIncidentRow())

	inc := &models.Incident{ID: uuid.New(), WorkflowRunID: uuid.New()}
	saved, err := repo.CreateOrGet(context.Background(), inc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved == nil {
		t.Fatal("expected existing incident, got nil")
	}
}

func TestIncidentCreateOrGet_InsertError(t *testing.T) {
	repo, mock := newIncidentRepo(t)
	mock.ExpectExec("INSERT INTO incidents").
		WillReturnError(errDB)

	inc := &models.Incident{ID: uuid.New(), WorkflowRunID: uuid.New()}
	if _, err := repo.CreateOrGet(context.Background(), inc); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetByID / GetByWorkflowRun
// ---------------------------------------------------------------------------

func TestIncidentGetByID_Found(t *testing.T) {
	repo, mock := newIncidentRepo(t)
	mock.ExpectQuery("SELECT.*FROM incidents.*WHERE id").
		WillReturnRows(sampleIncidentRow())

	inc, err := repo.GetByID(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inc == nil {
		t.Fatal("expected incident, got nil")
	}
}

func TestIncidentGetByID_NotFound(t *testing.T) {
	repo, mock := newIncidentRepo(t)
	mock.ExpectQuery("SELECT.*FROM incidents.*WHERE id").
		WillReturnRows(sqlmock.NewRows(incidentCols))

	inc, err := repo.GetByID(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inc != nil {
		t.Errorf("expected nil, got %v", inc)
	}
}

func TestIncidentGetByWorkflowRun_NotFound(t *testing.T) {
	repo, mock := newIncidentRepo(t)
	mock.ExpectQuery("SELECT.*FROM incidents.*WHERE workflow_run_id").
		WillReturnRows(sqlmock.NewRows(incidentCols))

	inc, err := repo.GetByWorkflowRun(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inc != nil {
		t.Errorf("expected nil, got %v", inc)
	}
}

// ---------------------------------------------------------------------------
// ListRecent / ListByStatus / ListByConnection
// ---------------------------------------------------------------------------

func TestIncidentListRecent_Success(t *testing.T) {
	repo, mock := newIncidentRepo(t)
	mock.ExpectQuery("SELECT.*FROM incidents.*ORDER BY").
		WillReturnRows(sampleIncidentRow())

	incidents, err := repo.ListRecent(context.Background(), 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(incidents) != 1 {
		t.Errorf("len = %d, want 1", len(incidents))
	}
}

func TestIncidentListByStatus_Success(t *testing.T) {
	repo, mock := newIncidentRepo(t)
	mock.ExpectQuery("SELECT.*FROM incidents.*WHERE status").
		WithArgs(models.IncidentDetected, 10).
		WillReturnRows(sampleIncidentRow())

	incidents, err := repo.ListByStatus(context.Background(), models.IncidentDetected, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(incidents) != 1 {
		t.Errorf("len = %d, want 1", len(incidents))
	}
}

func TestIncidentListByConnection_Empty(t *testing.T) {
	repo, mock := newIncidentRepo(t)
	mock.ExpectQuery("SELECT.*FROM incidents.*WHERE repository_connection_id").
		WillReturnRows(sqlmock.NewRows(incidentCols))

	incidents, err := repo.ListByConnection(context.Background(), uuid.New(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(incidents) != 0 {
		t.Errorf("len = %d, want 0", len(incidents))
	}
}

// ---------------------------------------------------------------------------
// Claim
// ---------------------------------------------------------------------------

func TestIncidentClaim_Won(t *testing.T) {
	repo, mock := newIncidentRepo(t)
	mock.ExpectExec("UPDATE incidents").
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := repo.Claim(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !claimed {
		t.Error("expected claim to succeed")
	}
}

func TestIncidentClaim_AlreadyTaken(t *testing.T) {
	repo, mock := newIncidentRepo(t)
	mock.ExpectExec("UPDATE incidents").
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := repo.Claim(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed {
		t.Error("expected claim to lose, got won")
	}
}

func TestIncidentClaim_DBError(t *testing.T) {
	repo, mock := newIncidentRepo(t)
	mock.ExpectExec("UPDATE incidents").
		WillReturnError(errDB)

	if _, err := repo.Claim(context.Background(), uuid.New()); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// SetAnalysis / SetStatus / SetFailure
// ---------------------------------------------------------------------------

func TestIncidentSetAnalysis_Success(t *testing.T) {
	repo, mock := newIncidentRepo(t)
	mock.ExpectExec("UPDATE incidents").
		WillReturnResult(sqlmock.NewResult(0, 1))

	summary := "3 import errors in app/main.py"
	err := repo.SetAnalysis(context.Background(), uuid.New(), "import_error", "high", 3, &summary)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIncidentSetAnalysis_DBError(t *testing.T) {
	repo, mock := newIncidentRepo(t)
	mock.ExpectExec("UPDATE incidents").
		WillReturnError(errDB)

	err := repo.SetAnalysis(context.Background(), uuid.New(), "import_error", "high", 3, nil)
	if err == nil {
		t.Error("expected error, got nil")
	}
}

func TestIncidentSetStatus_Success(t *testing.T) {
	repo, mock := newIncidentRepo(t)
	mock.ExpectExec("UPDATE incidents").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SetStatus(context.Background(), uuid.New(), models.IncidentRemediating); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIncidentSetFailure_Success(t *testing.T) {
	repo, mock := newIncidentRepo(t)
	mock.ExpectExec("UPDATE incidents").
		WillReturnResult(sqlmock.NewResult(0, 1))

	detail := "branch already exists"
	err := repo.SetFailure(context.Background(), uuid.New(), models.IncidentFailed, "pr_creation_failed", &detail)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// ExpireStale
// ---------------------------------------------------------------------------

func TestIncidentExpireStale_Success(t *testing.T) {
	repo, mock := newIncidentRepo(t)
	mock.ExpectExec("UPDATE incidents").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.ExpireStale(context.Background(), time.Now().Add(-time.Hour), "remediation timed out")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("expired = %d, want 3", n)
	}
}

func TestIncidentExpireStale_DBError(t *testing.T) {
	repo, mock := newIncidentRepo(t)
	mock.ExpectExec("UPDATE incidents").
		WillReturnError(errDB)

	if _, err := repo.ExpireStale(context.Background(), time.Now(), "timeout"); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// StatusCounts
// ---------------------------------------------------------------------------

func TestIncidentStatusCounts_Success(t *testing.T) {
	repo, mock := newIncidentRepo(t)
	mock.ExpectQuery("SELECT status, COUNT.*FROM incidents.*GROUP BY").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow(models.IncidentDetected, 2).
			AddRow(models.IncidentPRCreated, 5).
			AddRow(models.IncidentFailed, 1))

	counts, err := repo.StatusCounts(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts[models.IncidentPRCreated] != 5 {
		t.Errorf("pr_created = %d, want 5", counts[models.IncidentPRCreated])
	}
	if len(counts) != 3 {
		t.Errorf("len = %d, want 3", len(counts))
	}
}

func TestIncidentStatusCounts_DBError(t *testing.T) {
	repo, mock := newIncidentRepo(t)
	mock.ExpectQuery("SELECT status, COUNT.*FROM incidents.*GROUP BY").
		WillReturnError(errDB)

	if _, err := repo.StatusCounts(context.Background()); err == nil {
		t.Error("expected error, got nil")
	}
}
