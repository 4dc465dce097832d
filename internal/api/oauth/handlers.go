// Package oauth exposes the account-linking endpoints: starting and
// completing the code-host OAuth flow, listing linked accounts, and revoking
// them. Token material never appears in any response; the models' encrypted
// columns are excluded from JSON serialization.
package oauth

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devflowfix/devflowfix/internal/db/models"
	"github.com/devflowfix/devflowfix/internal/middleware"
	"github.com/devflowfix/devflowfix/internal/oauthstate"
	"github.com/devflowfix/devflowfix/internal/services"
)

// Coordinator runs the OAuth flow against the code hosts
type Coordinator interface {
	Begin(ctx context.Context, userID, provider, redirectTo string) (string, error)
	Complete(ctx context.Context, userID, provider, code, state string) (*models.OAuthConnection, error)
	Disconnect(ctx context.Context, userID, provider string) error
	List(ctx context.Context, userID string) ([]*models.OAuthConnection, error)
}

// Handler serves the account-linking endpoints
type Handler struct {
	coordinator Coordinator
}

// NewHandler creates the OAuth handler
func NewHandler(coordinator Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

// @Summary      Start the OAuth authorization flow
// @Description  Returns the code-host authorization URL the frontend should redirect the user to. The embedded state token is single-use and expires after ten minutes.
// @Tags         OAuth
// @Produce      json
// @Param        provider     path   string  true   "Code host (github or gitlab)"
// @Param        redirect_to  query  string  false  "Frontend path to return to after the callback"
// @Success      200  {object}  map[string]string  "authorization_url"
// @Failure      404  {object}  map[string]string  "provider not configured"
// @Security     BearerAuth
// @Router       /api/v1/oauth/{provider}/authorize [get]
func (h *Handler) Authorize(c *gin.Context) {
	principal, _ := middleware.PrincipalFrom(c)

	url, err := h.coordinator.Begin(c.Request.Context(), principal.UserID, c.Param("provider"), c.Query("redirect_to"))
	if err != nil {
		if errors.Is(err, services.ErrProviderNotConfigured) {
			c.JSON(http.StatusNotFound, gin.H{"error": "provider not configured"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start authorization"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"authorization_url": url})
}

// @Summary      Complete the OAuth authorization flow
// @Description  Exchanges the authorization code for tokens, stores them encrypted, and returns the linked account summary.
// @Tags         OAuth
// @Produce      json
// @Param        provider  path   string  true  "Code host (github or gitlab)"
// @Param        code      query  string  true  "Authorization code from the code host"
// @Param        state     query  string  true  "State token issued by the authorize endpoint"
// @Success      200  {object}  models.OAuthConnection
// @Failure      400  {object}  map[string]string  "state invalid, expired, or issued to another user"
// @Security     BearerAuth
// @Router       /api/v1/oauth/{provider}/callback [get]
func (h *Handler) Callback(c *gin.Context) {
	principal, _ := middleware.PrincipalFrom(c)

	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code and state are required"})
		return
	}

	conn, err := h.coordinator.Complete(c.Request.Context(), principal.UserID, c.Param("provider"), code, state)
	if err != nil {
		switch {
		case errors.Is(err, oauthstate.ErrStateInvalid), errors.Is(err, services.ErrStateMismatch):
			c.JSON(http.StatusBadRequest, gin.H{"error": "authorization state is invalid or expired"})
		case errors.Is(err, services.ErrProviderNotConfigured):
			c.JSON(http.StatusNotFound, gin.H{"error": "provider not configured"})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "authorization could not be completed"})
		}
		return
	}

	c.JSON(http.StatusOK, conn)
}

// @Summary      Disconnect a linked code-host account
// @Description  Revokes the token on the code host on a best-effort basis and deactivates the local connection. Local removal succeeds even when the remote revocation fails.
// @Tags         OAuth
// @Produce      json
// @Param        provider  path  string  true  "Code host (github or gitlab)"
// @Success      204  "account disconnected"
// @Failure      404  {object}  map[string]string  "no linked account for provider"
// @Security     BearerAuth
// @Router       /api/v1/oauth/{provider} [delete]
func (h *Handler) Disconnect(c *gin.Context) {
	principal, _ := middleware.PrincipalFrom(c)

	err := h.coordinator.Disconnect(c.Request.Context(), principal.UserID, c.Param("provider"))
	if err != nil {
		if errors.Is(err, services.ErrNotConnected) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no linked account for provider"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to disconnect account"})
		return
	}

	c.Status(http.StatusNoContent)
}

// @Summary      List linked code-host accounts
// @Tags         OAuth
// @Produce      json
// @Success      200  {object}  map[string][]models.OAuthConnection
// @Security     BearerAuth
// @Router       /api/v1/oauth/connections [get]
func (h *Handler) List(c *gin.Context) {
	principal, _ := middleware.PrincipalFrom(c)

	conns, err := h.coordinator.List(c.Request.Context(), principal.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list connections"})
		return
	}
	if conns == nil {
		conns = []*models.OAuthConnection{}
	}

	c.JSON(http.StatusOK, gin.H{"connections": conns})
}
