// Package runs exposes the workflow run endpoints: listing tracked CI runs
// and triggering a re-execution on the code host.
package runs

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/devflowfix/devflowfix/internal/db/models"
	"github.com/devflowfix/devflowfix/internal/middleware"
	"github.com/devflowfix/devflowfix/internal/scm"
	"github.com/devflowfix/devflowfix/internal/services"
)

const defaultPageSize = 30

// Store reads workflow run rows
type Store interface {
	ListRecent(ctx context.Context, limit int) ([]*models.WorkflowRun, error)
	ListByConnection(ctx context.Context, connectionID uuid.UUID, limit int) ([]*models.WorkflowRun, error)
}

// Rerunner asks the code host to re-execute a run
type Rerunner interface {
	Rerun(ctx context.Context, userID string, runID uuid.UUID) error
}

// Handler serves the workflow run endpoints
type Handler struct {
	runs     Store
	rerunner Rerunner
}

// NewHandler creates the runs handler
func NewHandler(runs Store, rerunner Rerunner) *Handler {
	return &Handler{runs: runs, rerunner: rerunner}
}

// @Summary      List tracked workflow runs
// @Tags         Runs
// @Produce      json
// @Param        connection_id  query  string  false  "Filter to one repository connection"
// @Param        status         query  string  false  "Filter by run status (queued, in_progress, completed)"
// @Success      200  {object}  map[string][]models.WorkflowRun
// @Security     BearerAuth
// @Router       /api/v1/runs [get]
func (h *Handler) List(c *gin.Context) {
	var (
		rows []*models.WorkflowRun
		err  error
	)
	if raw := c.Query("connection_id"); raw != "" {
		connID, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection_id"})
			return
		}
		rows, err = h.runs.ListByConnection(c.Request.Context(), connID, defaultPageSize)
	} else {
		rows, err = h.runs.ListRecent(c.Request.Context(), defaultPageSize)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	if status := c.Query("status"); status != "" {
		filtered := rows[:0]
		for _, run := range rows {
			if run.Status == status {
				filtered = append(filtered, run)
			}
		}
		rows = filtered
	}
	if rows == nil {
		rows = []*models.WorkflowRun{}
	}

	c.JSON(http.StatusOK, gin.H{"runs": rows})
}

// @Summary      Re-run a workflow
// @Description  Asks the code host to re-execute the run. The new execution arrives back through the webhook pipeline as a fresh run attempt.
// @Tags         Runs
// @Produce      json
// @Param        id  path  string  true  "Run ID"
// @Success      202  {object}  map[string]string  "status: rerun_requested"
// @Failure      404  {object}  map[string]string
// @Security     BearerAuth
// @Router       /api/v1/runs/{id}/rerun [post]
func (h *Handler) Rerun(c *gin.Context) {
	principal, _ := middleware.PrincipalFrom(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	if err := h.rerunner.Rerun(c.Request.Context(), principal.UserID, id); err != nil {
		switch {
		case errors.Is(err, services.ErrRunNotFound),
			errors.Is(err, services.ErrNotOwner),
			errors.Is(err, services.ErrConnectionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		case errors.Is(err, scm.ErrRateLimited):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "code host rate limit reached"})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "code host rejected the rerun"})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "rerun_requested"})
}
