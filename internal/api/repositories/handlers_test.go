package repositories

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/devflowfix/devflowfix/internal/auth"
	"github.com/devflowfix/devflowfix/internal/db/models"
	"github.com/devflowfix/devflowfix/internal/middleware"
	"github.com/devflowfix/devflowfix/internal/scm"
	"github.com/devflowfix/devflowfix/internal/services"
)

type fakeService struct {
	repos    *scm.RepoListResult
	conn     *models.RepositoryConnection
	conns    []*models.RepositoryConnection
	stats    *services.DashboardStats
	err      error
	lastUser string
	lastID   uuid.UUID
	lastOpts services.ConnectOptions
}

func (f *fakeService) AvailableRepositories(_ context.Context, userID, provider string, page, pageSize int) (*scm.RepoListResult, error) {
	f.lastUser = userID
	return f.repos, f.err
}

func (f *fakeService) Connect(_ context.Context, userID, provider, fullName string, opts services.ConnectOptions) (*models.RepositoryConnection, error) {
	f.lastUser = userID
	f.lastOpts = opts
	return f.conn, f.err
}

func (f *fakeService) Disconnect(_ context.Context, userID string, id uuid.UUID) error {
	f.lastUser, f.lastID = userID, id
	return f.err
}

func (f *fakeService) Update(_ context.Context, userID string, id uuid.UUID, isEnabled, autoPREnabled *bool) (*models.RepositoryConnection, error) {
	f.lastUser, f.lastID = userID, id
	return f.conn, f.err
}

func (f *fakeService) Get(_ context.Context, userID string, id uuid.UUID) (*models.RepositoryConnection, error) {
	f.lastUser, f.lastID = userID, id
	return f.conn, f.err
}

func (f *fakeService) List(_ context.Context, userID string) ([]*models.RepositoryConnection, error) {
	f.lastUser = userID
	return f.conns, f.err
}

func (f *fakeService) Stats(_ context.Context, userID string) (*services.DashboardStats, error) {
	f.lastUser = userID
	return f.stats, f.err
}

func newRepoRouter(svc Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.PrincipalKey, &auth.Principal{UserID: "user-1"})
	})
	h := NewHandler(svc)
	r.GET("/api/v1/repositories/:provider/available", h.Available)
	r.POST("/api/v1/repositories/connect", h.Connect)
	r.GET("/api/v1/repositories/connections", h.List)
	r.GET("/api/v1/repositories/connections/:id", h.Get)
	r.PATCH("/api/v1/repositories/connections/:id", h.Update)
	r.DELETE("/api/v1/repositories/connections/:id", h.Disconnect)
	r.GET("/api/v1/repositories/stats", h.Stats)
	return r
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAvailableListsRepositories(t *testing.T) {
	svc := &fakeService{repos: &scm.RepoListResult{
		Repos:     []*scm.Repository{{FullName: "acme/widgets", DefaultBranch: "main"}},
		MorePages: true,
		NextPage:  2,
	}}
	r := newRepoRouter(svc)

	w := doJSON(r, http.MethodGet, "/api/v1/repositories/github/available?page=1&per_page=30", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Repositories []*scm.Repository `json:"repositories"`
		MorePages    bool              `json:"more_pages"`
		NextPage     int               `json:"next_page"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Repositories) != 1 || resp.Repositories[0].FullName != "acme/widgets" {
		t.Errorf("repositories = %+v", resp.Repositories)
	}
	if !resp.MorePages || resp.NextPage != 2 {
		t.Errorf("pagination = more=%v next=%d, want more=true next=2", resp.MorePages, resp.NextPage)
	}
}

func TestAvailableWithoutLinkedAccount(t *testing.T) {
	r := newRepoRouter(&fakeService{err: services.ErrNotConnected})
	w := doJSON(r, http.MethodGet, "/api/v1/repositories/github/available", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestConnectCreatesConnection(t *testing.T) {
	svc := &fakeService{conn: &models.RepositoryConnection{
		ID:                 uuid.New(),
		RepositoryFullName: "acme/widgets",
		IsEnabled:          true,
		AutoPREnabled:      true,
	}}
	r := newRepoRouter(svc)

	w := doJSON(r, http.MethodPost, "/api/v1/repositories/connect", `{"provider":"github","full_name":"acme/widgets"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", w.Code, w.Body.String())
	}
	if svc.lastUser != "user-1" {
		t.Errorf("userID = %q, want user-1", svc.lastUser)
	}
}

func TestConnectForwardsOptions(t *testing.T) {
	svc := &fakeService{conn: &models.RepositoryConnection{ID: uuid.New()}}
	r := newRepoRouter(svc)

	body := `{"provider":"github","full_name":"acme/widgets","auto_pr_enabled":false,"setup_webhook":false,"events":["workflow_run"]}`
	w := doJSON(r, http.MethodPost, "/api/v1/repositories/connect", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", w.Code, w.Body.String())
	}
	if svc.lastOpts.AutoPREnabled == nil || *svc.lastOpts.AutoPREnabled {
		t.Error("auto_pr_enabled=false not forwarded")
	}
	if svc.lastOpts.SetupWebhook == nil || *svc.lastOpts.SetupWebhook {
		t.Error("setup_webhook=false not forwarded")
	}
	if len(svc.lastOpts.Events) != 1 || svc.lastOpts.Events[0] != "workflow_run" {
		t.Errorf("events = %v, want [workflow_run]", svc.lastOpts.Events)
	}
}

func TestConnectValidation(t *testing.T) {
	r := newRepoRouter(&fakeService{})
	for _, body := range []string{``, `{}`, `{"provider":"github"}`, `{"full_name":"acme/widgets"}`} {
		if w := doJSON(r, http.MethodPost, "/api/v1/repositories/connect", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}

func TestConnectDuplicate(t *testing.T) {
	r := newRepoRouter(&fakeService{err: services.ErrAlreadyConnected})
	w := doJSON(r, http.MethodPost, "/api/v1/repositories/connect", `{"provider":"github","full_name":"acme/widgets"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestListFiltersDisabledByDefault(t *testing.T) {
	svc := &fakeService{conns: []*models.RepositoryConnection{
		{RepositoryFullName: "acme/widgets", IsEnabled: true},
		{RepositoryFullName: "acme/paused", IsEnabled: false},
	}}
	r := newRepoRouter(svc)

	w := doJSON(r, http.MethodGet, "/api/v1/repositories/connections", "")
	if strings.Contains(w.Body.String(), "acme/paused") {
		t.Error("disabled connection returned without include_disabled")
	}

	w = doJSON(r, http.MethodGet, "/api/v1/repositories/connections?include_disabled=true", "")
	if !strings.Contains(w.Body.String(), "acme/paused") {
		t.Error("include_disabled=true did not return the disabled connection")
	}
}

func TestGetInvalidID(t *testing.T) {
	r := newRepoRouter(&fakeService{})
	w := doJSON(r, http.MethodGet, "/api/v1/repositories/connections/not-a-uuid", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestForeignConnectionReadsAsNotFound(t *testing.T) {
	for _, err := range []error{services.ErrConnectionNotFound, services.ErrNotOwner} {
		r := newRepoRouter(&fakeService{err: err})
		w := doJSON(r, http.MethodGet, "/api/v1/repositories/connections/"+uuid.NewString(), "")
		if w.Code != http.StatusNotFound {
			t.Errorf("%v: status = %d, want 404", err, w.Code)
		}
	}
}

func TestUpdatePartialBody(t *testing.T) {
	svc := &fakeService{conn: &models.RepositoryConnection{AutoPREnabled: false, IsEnabled: true}}
	r := newRepoRouter(svc)

	w := doJSON(r, http.MethodPatch, "/api/v1/repositories/connections/"+uuid.NewString(), `{"auto_pr_enabled":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
}

func TestDisconnect(t *testing.T) {
	svc := &fakeService{}
	r := newRepoRouter(svc)

	id := uuid.New()
	w := doJSON(r, http.MethodDelete, "/api/v1/repositories/connections/"+id.String(), "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if svc.lastID != id {
		t.Errorf("service saw id %s, want %s", svc.lastID, id)
	}
}

func TestStats(t *testing.T) {
	r := newRepoRouter(&fakeService{stats: &services.DashboardStats{Connections: 3, EnabledConns: 2}})
	w := doJSON(r, http.MethodGet, "/api/v1/repositories/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
