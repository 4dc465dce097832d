// webhook_event.go defines the WebhookEvent model recording every accepted
// webhook delivery for dedup and debugging.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Webhook event processing statuses. WebhookFailed ("failed") is shared with
// the webhook registration states in repository_connection.go.
const (
	WebhookReceived  = "received"
	WebhookProcessed = "processed"
	WebhookIgnored   = "ignored"
)

// WebhookEvent is one accepted webhook delivery. (Provider, DeliveryID) is
// unique, so a redelivery is detected at insert time rather than reprocessed.
type WebhookEvent struct {
	ID                     uuid.UUID       `json:"id" db:"id"`
	RepositoryConnectionID uuid.UUID       `json:"repository_connection_id" db:"repository_connection_id"`
	Provider               string          `json:"provider" db:"provider"`
	EventType              string          `json:"event_type" db:"event_type"`
	DeliveryID             string          `json:"delivery_id" db:"delivery_id"`
	Payload                json.RawMessage `json:"-" db:"payload"`
	Status                 string          `json:"status" db:"status"`
	Error                  *string         `json:"error,omitempty" db:"error"`
	ReceivedAt             time.Time       `json:"received_at" db:"received_at"`
	ProcessedAt            *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
}
