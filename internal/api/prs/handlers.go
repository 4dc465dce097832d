// Package prs exposes the pull request endpoints: listing remediation pull
// requests and their aggregate outcomes.
package prs

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/devflowfix/devflowfix/internal/db/models"
	"github.com/devflowfix/devflowfix/internal/db/repositories"
)

const defaultPageSize = 30

// Store reads pull request rows
type Store interface {
	ListRecent(ctx context.Context, limit, offset int) ([]*models.PullRequestRecord, error)
	Stats(ctx context.Context) (*repositories.PRStats, error)
}

// Handler serves the pull request endpoints
type Handler struct {
	prs Store
}

// NewHandler creates the pull requests handler
func NewHandler(prs Store) *Handler {
	return &Handler{prs: prs}
}

// @Summary      List remediation pull requests
// @Tags         PullRequests
// @Produce      json
// @Param        state  query  string  false  "Filter by state (open, merged, closed)"
// @Param        page   query  int     false  "Page number (1-based)"
// @Success      200  {object}  map[string][]models.PullRequestRecord
// @Security     BearerAuth
// @Router       /api/v1/prs [get]
func (h *Handler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 1 {
		page = 1
	}

	rows, err := h.prs.ListRecent(c.Request.Context(), defaultPageSize, (page-1)*defaultPageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pull requests"})
		return
	}

	if state := c.Query("state"); state != "" {
		filtered := rows[:0]
		for _, pr := range rows {
			if pr.State == state {
				filtered = append(filtered, pr)
			}
		}
		rows = filtered
	}
	if rows == nil {
		rows = []*models.PullRequestRecord{}
	}

	c.JSON(http.StatusOK, gin.H{"pull_requests": rows, "page": page})
}

// @Summary      Pull request statistics
// @Description  Returns totals by state plus the merge rate across all remediation pull requests.
// @Tags         PullRequests
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "total, open, merged, closed, merge_rate"
// @Security     BearerAuth
// @Router       /api/v1/prs/stats [get]
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.prs.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}

	// Merge rate counts merged PRs against settled ones; open PRs have no
	// outcome yet and would drag the rate down for no reason.
	mergeRate := 0.0
	if settled := stats.Merged + stats.Closed; settled > 0 {
		mergeRate = float64(stats.Merged) / float64(settled)
	}

	c.JSON(http.StatusOK, gin.H{
		"total":      stats.Total,
		"open":       stats.Open,
		"merged":     stats.Merged,
		"closed":     stats.Closed,
		"merge_rate": mergeRate,
	})
}
