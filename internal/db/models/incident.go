// incident.go defines the Incident model, the unit of work for automated
// remediation. Status transitions are one way:
//
//	detected -> analyzing -> remediating -> pr_created
//	                      \-> failed | skipped
//
// An incident is claimed for work by the conditional update in
// IncidentRepository.Claim, which is what keeps concurrent workers from
// remediating the same failure twice.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Incident lifecycle statuses
const (
	IncidentDetected    = "detected"
	IncidentAnalyzing   = "analyzing"
	IncidentRemediating = "remediating"
	IncidentPRCreated   = "pr_created"
	IncidentFailed      = "failed"
	IncidentSkipped     = "skipped"
)

// Incident severities. Failures on the connection's default branch are high;
// everything else is medium.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// Failure reasons recorded when an incident ends in failed or skipped. They
// feed the outcome label on the remediation metrics.
const (
	FailureNoCredentials = "failed_no_credentials"
	FailureNoLogs        = "failed_no_logs"
	FailureNoSignal      = "failed_no_signal"
	FailureProvider      = "failed_provider"
	FailureBudget        = "failed_budget"
	FailureConflict      = "failed_conflict"
	FailureTimeout       = "failed_timeout"
	FailureRemediation   = "failed_remediation"
	SkipAutoPRDisabled   = "auto_pr_disabled"
)

// Incident is a detected CI failure and the record of what was done about it
type Incident struct {
	ID                     uuid.UUID  `json:"id" db:"id"`
	WorkflowRunID          uuid.UUID  `json:"workflow_run_id" db:"workflow_run_id"`
	RepositoryConnectionID uuid.UUID  `json:"repository_connection_id" db:"repository_connection_id"`
	Status                 string     `json:"status" db:"status"`
	FailureType            string     `json:"failure_type" db:"failure_type"`
	Severity               string     `json:"severity" db:"severity"`
	ErrorCount             int        `json:"error_count" db:"error_count"`
	FailureReason          *string    `json:"failure_reason,omitempty" db:"failure_reason"`
	FailureDetail          *string    `json:"failure_detail,omitempty" db:"failure_detail"`
	AnalysisSummary        *string    `json:"analysis_summary,omitempty" db:"analysis_summary"`
	AttemptCount           int        `json:"attempt_count" db:"attempt_count"`
	LastAttemptAt          *time.Time `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	CreatedAt              time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether the incident has reached a final status
func (i *Incident) Terminal() bool {
	switch i.Status {
	case IncidentPRCreated, IncidentFailed, IncidentSkipped:
		return true
	default:
		return false
	}
}
