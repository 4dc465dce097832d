// workflow_run.go defines the WorkflowRun model tracking CI runs observed
// through webhooks and polling.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Workflow run statuses as normalized by the connectors
const (
	RunStatusQueued     = "queued"
	RunStatusInProgress = "in_progress"
	RunStatusCompleted  = "completed"
)

// WorkflowRun is one CI run (GitHub Actions workflow run, GitLab pipeline).
// (Provider, ExternalRunID) is unique, so redelivered webhook events update
// the same row instead of creating duplicates.
type WorkflowRun struct {
	ID                     uuid.UUID  `json:"id" db:"id"`
	RepositoryConnectionID uuid.UUID  `json:"repository_connection_id" db:"repository_connection_id"`
	Provider               string     `json:"provider" db:"provider"`
	ExternalRunID          string     `json:"run_id" db:"external_run_id"`
	RunNumber              int        `json:"run_number" db:"run_number"`
	WorkflowName           string     `json:"workflow_name" db:"workflow_name"`
	Status                 string     `json:"status" db:"status"`
	Conclusion             *string    `json:"conclusion,omitempty" db:"conclusion"`
	Branch                 string     `json:"branch" db:"branch"`
	CommitSHA              string     `json:"commit_sha" db:"commit_sha"`
	RunURL                 *string    `json:"run_url,omitempty" db:"run_url"`
	StartedAt              *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt            *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt              time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at" db:"updated_at"`
}
