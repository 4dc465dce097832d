// Package incidents exposes the incident endpoints: listing detected CI
// failures, inspecting a single incident, streaming its archived run log, and
// requeueing a remediation attempt.
package incidents

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/devflowfix/devflowfix/internal/artifacts"
	"github.com/devflowfix/devflowfix/internal/db/models"
	"github.com/devflowfix/devflowfix/internal/middleware"
	"github.com/devflowfix/devflowfix/internal/services"
)

const defaultPageSize = 30

// Store reads incident rows
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	ListRecent(ctx context.Context, limit, offset int) ([]*models.Incident, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]*models.Incident, error)
}

// runStore resolves the workflow run behind an incident
type runStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.WorkflowRun, error)
}

// connectionStore resolves the repository a run belongs to
type connectionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.RepositoryConnection, error)
}

// Requeuer re-dispatches an incident through the remediation pipeline
type Requeuer interface {
	Requeue(ctx context.Context, userID string, incidentID uuid.UUID, force bool) error
}

// Handler serves the incident endpoints
type Handler struct {
	incidents Store
	runs      runStore
	conns     connectionStore
	requeuer  Requeuer
	archive   artifacts.Store
}

// NewHandler creates the incidents handler. The archive store may be nil when
// no artifacts backend is configured; the logs endpoint then returns 404.
func NewHandler(incidents Store, runs runStore, conns connectionStore, requeuer Requeuer, archive artifacts.Store) *Handler {
	return &Handler{incidents: incidents, runs: runs, conns: conns, requeuer: requeuer, archive: archive}
}

// @Summary      List incidents
// @Tags         Incidents
// @Produce      json
// @Param        status  query  string  false  "Filter by incident status"
// @Param        page    query  int     false  "Page number (1-based)"
// @Success      200  {object}  map[string][]models.Incident
// @Security     BearerAuth
// @Router       /api/v1/incidents [get]
func (h *Handler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 1 {
		page = 1
	}

	var (
		rows []*models.Incident
		err  error
	)
	if status := c.Query("status"); status != "" {
		rows, err = h.incidents.ListByStatus(c.Request.Context(), status, defaultPageSize)
	} else {
		rows, err = h.incidents.ListRecent(c.Request.Context(), defaultPageSize, (page-1)*defaultPageSize)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list incidents"})
		return
	}
	if rows == nil {
		rows = []*models.Incident{}
	}

	c.JSON(http.StatusOK, gin.H{"incidents": rows, "page": page})
}

// @Summary      Get one incident
// @Tags         Incidents
// @Produce      json
// @Param        id  path  string  true  "Incident ID"
// @Success      200  {object}  models.Incident
// @Failure      404  {object}  map[string]string
// @Security     BearerAuth
// @Router       /api/v1/incidents/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident id"})
		return
	}

	inc, err := h.incidents.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load incident"})
		return
	}
	if inc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		return
	}

	c.JSON(http.StatusOK, inc)
}

// @Summary      Download the archived run log behind an incident
// @Description  Streams the raw CI log that was archived when remediation picked the incident up. Logs survive the code host's own retention window.
// @Tags         Incidents
// @Produce      plain
// @Param        id  path  string  true  "Incident ID"
// @Success      200  {string}  string  "raw log text"
// @Failure      404  {object}  map[string]string  "incident or archived log not found"
// @Security     BearerAuth
// @Router       /api/v1/incidents/{id}/logs [get]
func (h *Handler) Logs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident id"})
		return
	}

	inc, err := h.incidents.GetByID(c.Request.Context(), id)
	if err != nil || inc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		return
	}
	run, err := h.runs.GetByID(c.Request.Context(), inc.WorkflowRunID)
	if err != nil || run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow run not found"})
		return
	}
	rc, err := h.conns.GetByID(c.Request.Context(), inc.RepositoryConnectionID)
	if err != nil || rc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return
	}

	if h.archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "log archiving is not configured"})
		return
	}

	key := artifacts.RunLogKey(rc.Provider, rc.RepositoryFullName, run.ExternalRunID)
	reader, err := h.archive.Download(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no archived log for incident"})
		return
	}
	defer reader.Close()

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Status(http.StatusOK)
	io.Copy(c.Writer, reader)
}

// @Summary      Requeue an incident for remediation
// @Description  Re-dispatches a settled incident through the remediation pipeline. When a pull request already exists the request is rejected unless force is set.
// @Tags         Incidents
// @Produce      json
// @Param        id     path   string  true   "Incident ID"
// @Param        force  query  bool    false  "Requeue even when a pull request already exists"
// @Success      202  {object}  map[string]string  "status: queued"
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string  "remediation in flight or already remediated"
// @Security     BearerAuth
// @Router       /api/v1/incidents/{id}/remediate [post]
func (h *Handler) Remediate(c *gin.Context) {
	principal, _ := middleware.PrincipalFrom(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident id"})
		return
	}
	force := c.Query("force") == "true"

	if err := h.requeuer.Requeue(c.Request.Context(), principal.UserID, id, force); err != nil {
		switch {
		case errors.Is(err, services.ErrIncidentNotFound),
			errors.Is(err, services.ErrNotOwner),
			errors.Is(err, services.ErrConnectionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		case errors.Is(err, services.ErrRemediationInFlight):
			c.JSON(http.StatusConflict, gin.H{"error": "remediation attempt already in progress"})
		case errors.Is(err, services.ErrAlreadyRemediated):
			c.JSON(http.StatusConflict, gin.H{"error": "incident already has a pull request; use force to retry"})
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not queue remediation"})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}
