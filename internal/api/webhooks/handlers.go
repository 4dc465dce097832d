// Package webhooks exposes the unauthenticated ingest endpoints that code
// hosts deliver events to. Authenticity is established per delivery by HMAC
// signature (GitHub) or shared-token comparison (GitLab) inside the tracker,
// never by bearer auth.
//
// Response codes follow the hosts' redelivery semantics: non-2xx responses
// are reserved for deliveries that are themselves bad (failed signature,
// malformed payload). Everything else is acknowledged with 2xx, including
// internal processing failures: hosts disable hooks that keep failing, so a
// transient database outage must not burn the endpoint's standing. Failed
// deliveries are logged and recovered from the code-host side on the next
// poll. A delivery for an unknown repository is likewise acknowledged, since
// the status code must not leak which repositories are registered.
package webhooks

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devflowfix/devflowfix/internal/services"
)

// maxDeliveryBytes caps the ingest request body. GitHub caps payloads at
// 25 MB; anything larger is not a webhook.
const maxDeliveryBytes = 25 << 20

// Ingestor processes one verified delivery and reports its outcome
type Ingestor interface {
	Ingest(ctx context.Context, d services.Delivery) (string, error)
}

// Handler serves the ingest endpoints
type Handler struct {
	tracker Ingestor
}

// NewHandler creates the ingest handler
func NewHandler(tracker Ingestor) *Handler {
	return &Handler{tracker: tracker}
}

// @Summary      Receive a code-host webhook delivery
// @Description  Accepts webhook deliveries from GitHub or GitLab. The delivery signature is verified against the per-connection shared secret; unsigned or tampered deliveries are rejected.
// @Tags         Webhooks
// @Accept       json
// @Produce      json
// @Param        provider  path  string  true  "Code host (github or gitlab)"
// @Success      200  {object}  map[string]string  "result: ignored"
// @Success      202  {object}  map[string]string  "result: accepted"
// @Failure      400  {object}  map[string]string  "malformed payload"
// @Failure      401  {object}  map[string]string  "signature verification failed"
// @Router       /webhooks/{provider} [post]
func (h *Handler) Receive(c *gin.Context) {
	provider := c.Param("provider")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDeliveryBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for name, values := range c.Request.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	outcome, err := h.tracker.Ingest(c.Request.Context(), services.Delivery{
		Provider: provider,
		Body:     body,
		Headers:  headers,
	})
	if err != nil {
		// Internal failures still acknowledge the delivery; repeated 5xx
		// responses get hooks auto-disabled by the hosts.
		slog.Error("webhook delivery processing failed", "provider", provider, "error", err)
		c.JSON(http.StatusOK, gin.H{"result": services.IngestIgnored})
		return
	}

	switch outcome {
	case services.IngestAccepted:
		c.JSON(http.StatusAccepted, gin.H{"result": outcome})
	case services.IngestInvalidSignature:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
	case services.IngestMalformed:
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
	default:
		// ignored and unknown_connection both acknowledge without detail.
		c.JSON(http.StatusOK, gin.H{"result": services.IngestIgnored})
	}
}
