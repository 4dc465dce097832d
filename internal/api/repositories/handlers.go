// Package repositories exposes the repository connection endpoints: browsing
// repositories on the linked code-host account, connecting them for
// monitoring, tuning per-connection settings, and the dashboard stats.
package repositories

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/devflowfix/devflowfix/internal/db/models"
	"github.com/devflowfix/devflowfix/internal/middleware"
	"github.com/devflowfix/devflowfix/internal/scm"
	"github.com/devflowfix/devflowfix/internal/services"
)

// Service owns the repository connection lifecycle
type Service interface {
	AvailableRepositories(ctx context.Context, userID, provider string, page, pageSize int) (*scm.RepoListResult, error)
	Connect(ctx context.Context, userID, provider, fullName string, opts services.ConnectOptions) (*models.RepositoryConnection, error)
	Disconnect(ctx context.Context, userID string, id uuid.UUID) error
	Update(ctx context.Context, userID string, id uuid.UUID, isEnabled, autoPREnabled *bool) (*models.RepositoryConnection, error)
	Get(ctx context.Context, userID string, id uuid.UUID) (*models.RepositoryConnection, error)
	List(ctx context.Context, userID string) ([]*models.RepositoryConnection, error)
	Stats(ctx context.Context, userID string) (*services.DashboardStats, error)
}

// Handler serves the repository connection endpoints
type Handler struct {
	svc Service
}

// NewHandler creates the repositories handler
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// connectRequest is the POST /repositories/connect body. The optional fields
// default to auto-PR on, webhook installed, provider default event types.
type connectRequest struct {
	Provider      string   `json:"provider" binding:"required"`
	FullName      string   `json:"full_name" binding:"required"`
	AutoPREnabled *bool    `json:"auto_pr_enabled"`
	SetupWebhook  *bool    `json:"setup_webhook"`
	Events        []string `json:"events"`
}

// updateRequest is the PATCH body; absent fields keep their current value
type updateRequest struct {
	IsEnabled     *bool `json:"is_enabled"`
	AutoPREnabled *bool `json:"auto_pr_enabled"`
}

// @Summary      List repositories available on the linked account
// @Tags         Repositories
// @Produce      json
// @Param        provider  path   string  true   "Code host (github or gitlab)"
// @Param        page      query  int     false  "Page number (1-based)"
// @Param        per_page  query  int     false  "Page size (default 30)"
// @Success      200  {object}  map[string]interface{}  "repositories, more_pages, next_page"
// @Failure      404  {object}  map[string]string  "no linked account for provider"
// @Security     BearerAuth
// @Router       /api/v1/repositories/{provider}/available [get]
func (h *Handler) Available(c *gin.Context) {
	principal, _ := middleware.PrincipalFrom(c)

	page, _ := strconv.Atoi(c.Query("page"))
	perPage, _ := strconv.Atoi(c.Query("per_page"))

	result, err := h.svc.AvailableRepositories(c.Request.Context(), principal.UserID, c.Param("provider"), page, perPage)
	if err != nil {
		if errors.Is(err, services.ErrNotConnected) || errors.Is(err, services.ErrProviderNotConfigured) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no linked account for provider"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to list repositories"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"repositories": result.Repos,
		"more_pages":   result.MorePages,
		"next_page":    result.NextPage,
	})
}

// @Summary      Connect a repository for monitoring
// @Description  Verifies the repository is reachable with the linked account, stores the connection, and registers the delivery webhook. A connection is created even when webhook registration fails; the hook can be installed later.
// @Tags         Repositories
// @Accept       json
// @Produce      json
// @Param        request  body  connectRequest  true  "Repository to connect"
// @Success      201  {object}  models.RepositoryConnection
// @Failure      400  {object}  map[string]string  "missing or malformed fields"
// @Failure      409  {object}  map[string]string  "repository already connected"
// @Security     BearerAuth
// @Router       /api/v1/repositories/connect [post]
func (h *Handler) Connect(c *gin.Context) {
	principal, _ := middleware.PrincipalFrom(c)

	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider and full_name are required"})
		return
	}

	rc, err := h.svc.Connect(c.Request.Context(), principal.UserID, req.Provider, req.FullName, services.ConnectOptions{
		AutoPREnabled: req.AutoPREnabled,
		SetupWebhook:  req.SetupWebhook,
		Events:        req.Events,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAlreadyConnected):
			c.JSON(http.StatusConflict, gin.H{"error": "repository is already connected"})
		case errors.Is(err, services.ErrNotConnected), errors.Is(err, services.ErrProviderNotConfigured):
			c.JSON(http.StatusNotFound, gin.H{"error": "no linked account for provider"})
		case errors.Is(err, scm.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "repository not found on code host"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, rc)
}

// @Summary      List connected repositories
// @Tags         Repositories
// @Produce      json
// @Param        include_disabled  query  bool  false  "Include connections with monitoring disabled"
// @Success      200  {object}  map[string][]models.RepositoryConnection
// @Security     BearerAuth
// @Router       /api/v1/repositories/connections [get]
func (h *Handler) List(c *gin.Context) {
	principal, _ := middleware.PrincipalFrom(c)

	conns, err := h.svc.List(c.Request.Context(), principal.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list connections"})
		return
	}

	includeDisabled := c.Query("include_disabled") == "true"
	out := make([]*models.RepositoryConnection, 0, len(conns))
	for _, rc := range conns {
		if rc.IsEnabled || includeDisabled {
			out = append(out, rc)
		}
	}

	c.JSON(http.StatusOK, gin.H{"connections": out})
}

// @Summary      Get one connected repository
// @Tags         Repositories
// @Produce      json
// @Param        id  path  string  true  "Connection ID"
// @Success      200  {object}  models.RepositoryConnection
// @Failure      404  {object}  map[string]string
// @Security     BearerAuth
// @Router       /api/v1/repositories/connections/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	principal, _ := middleware.PrincipalFrom(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return
	}

	rc, err := h.svc.Get(c.Request.Context(), principal.UserID, id)
	if err != nil {
		respondConnectionError(c, err)
		return
	}

	c.JSON(http.StatusOK, rc)
}

// @Summary      Update connection settings
// @Description  Partially updates monitoring and auto-PR flags; absent fields are unchanged.
// @Tags         Repositories
// @Accept       json
// @Produce      json
// @Param        id       path  string         true  "Connection ID"
// @Param        request  body  updateRequest  true  "Fields to change"
// @Success      200  {object}  models.RepositoryConnection
// @Failure      404  {object}  map[string]string
// @Security     BearerAuth
// @Router       /api/v1/repositories/connections/{id} [patch]
func (h *Handler) Update(c *gin.Context) {
	principal, _ := middleware.PrincipalFrom(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return
	}

	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	rc, err := h.svc.Update(c.Request.Context(), principal.UserID, id, req.IsEnabled, req.AutoPREnabled)
	if err != nil {
		respondConnectionError(c, err)
		return
	}

	c.JSON(http.StatusOK, rc)
}

// @Summary      Disconnect a repository
// @Description  Removes the delivery webhook and archived logs on a best-effort basis, then deletes the connection. Local removal succeeds even when the code host is unreachable.
// @Tags         Repositories
// @Produce      json
// @Param        id  path  string  true  "Connection ID"
// @Success      204  "connection removed"
// @Failure      404  {object}  map[string]string
// @Security     BearerAuth
// @Router       /api/v1/repositories/connections/{id} [delete]
func (h *Handler) Disconnect(c *gin.Context) {
	principal, _ := middleware.PrincipalFrom(c)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return
	}

	if err := h.svc.Disconnect(c.Request.Context(), principal.UserID, id); err != nil {
		respondConnectionError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// @Summary      Dashboard statistics
// @Description  Returns the user's connection counts plus deployment-wide run, pull request, and incident aggregates.
// @Tags         Repositories
// @Produce      json
// @Success      200  {object}  services.DashboardStats
// @Security     BearerAuth
// @Router       /api/v1/repositories/stats [get]
func (h *Handler) Stats(c *gin.Context) {
	principal, _ := middleware.PrincipalFrom(c)

	stats, err := h.svc.Stats(c.Request.Context(), principal.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// respondConnectionError maps service errors on a single connection to HTTP.
// Another user's connection reads as 404: the ID space must not be probeable.
func respondConnectionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrConnectionNotFound), errors.Is(err, services.ErrNotOwner):
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "operation failed"})
	}
}
