// pull_request_record.go defines the PullRequestRecord model for remediation
// pull requests opened by the service.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Pull request states tracked from code-host events
const (
	PRStateOpen   = "open"
	PRStateMerged = "merged"
	PRStateClosed = "closed"
)

// PullRequestRecord is a pull request (merge request on GitLab) opened for an
// incident. One per incident.
type PullRequestRecord struct {
	ID                 uuid.UUID  `json:"id" db:"id"`
	IncidentID         uuid.UUID  `json:"incident_id" db:"incident_id"`
	Provider           string     `json:"provider" db:"provider"`
	RepositoryFullName string     `json:"repository_full_name" db:"repository_full_name"`
	PRNumber           int64      `json:"pr_number" db:"pr_number"`
	PRURL              string     `json:"pr_url" db:"pr_url"`
	Title              string     `json:"title" db:"title"`
	BranchName         string     `json:"branch_name" db:"branch_name"`
	BaseBranch         string     `json:"base_branch" db:"base_branch"`
	CommitSHA          *string    `json:"commit_sha,omitempty" db:"commit_sha"`
	FilesChanged       int        `json:"files_changed" db:"files_changed"`
	State              string     `json:"state" db:"state"`
	MergedAt           *time.Time `json:"merged_at,omitempty" db:"merged_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty" db:"closed_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}
