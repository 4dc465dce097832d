// remediation_sweeper.go implements the RemediationSweeper background job. It
// closes the two gaps the request path cannot cover: incidents stuck in a
// non-terminal status after a worker crash, and incidents detected while the
// queue was full. Stuck incidents are expired to failed_timeout; detected ones
// are offered to the worker pool again.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/devflowfix/devflowfix/internal/db/models"
)

// sweeperIncidentStore is the slice of IncidentRepository the sweeper uses
type sweeperIncidentStore interface {
	ExpireStale(ctx context.Context, cutoff time.Time, reason string) (int64, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]*models.Incident, error)
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
}

// sweeperQueue hands incidents back to the worker pool. Enqueue must not block.
type sweeperQueue interface {
	Enqueue(incidentID uuid.UUID) bool
}

// requeueBatchSize bounds how many detected incidents one sweep offers to the
// queue. The next sweep picks up the rest.
const requeueBatchSize = 50

// RemediationSweeper periodically expires stuck incidents and requeues
// detected ones that never reached a worker.
type RemediationSweeper struct {
	incidents sweeperIncidentStore
	queue     sweeperQueue
	interval  time.Duration
	staleAge  time.Duration
	stopChan  chan struct{}
}

// NewRemediationSweeper creates the sweeper. staleAge is how long an incident
// may sit in a non-terminal status before it is considered abandoned; callers
// pass a multiple of the per-incident deadline so a slow-but-alive worker is
// never undercut.
func NewRemediationSweeper(incidents sweeperIncidentStore, queue sweeperQueue, interval, staleAge time.Duration) *RemediationSweeper {
	return &RemediationSweeper{
		incidents: incidents,
		queue:     queue,
		interval:  interval,
		staleAge:  staleAge,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the sweep loop. It runs one sweep immediately, then repeats on
// the configured interval until ctx is cancelled or Stop is called.
func (s *RemediationSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("remediation sweeper started", "interval", s.interval, "stale_age", s.staleAge)

	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			slog.Info("remediation sweeper stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the sweep loop to exit.
func (s *RemediationSweeper) Stop() {
	close(s.stopChan)
}

func (s *RemediationSweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.staleAge)
	expired, err := s.incidents.ExpireStale(ctx, cutoff, models.FailureTimeout)
	if err != nil {
		slog.Error("sweeper failed to expire stale incidents", "error", err)
	} else if expired > 0 {
		slog.Warn("expired stale incidents", "count", expired)
	}

	pending, err := s.incidents.ListByStatus(ctx, models.IncidentDetected, requeueBatchSize)
	if err != nil {
		slog.Error("sweeper failed to list detected incidents", "error", err)
		return
	}

	requeued := 0
	for _, inc := range pending {
		// Claim first so a delivery arriving mid-sweep cannot dispatch the
		// same incident twice.
		claimed, err := s.incidents.Claim(ctx, inc.ID)
		if err != nil {
			slog.Error("sweeper failed to claim incident", "incident_id", inc.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		if !s.queue.Enqueue(inc.ID) {
			// Queue full again; release the claim and let the next sweep retry.
			if err := s.incidents.SetStatus(ctx, inc.ID, models.IncidentDetected); err != nil {
				slog.Error("sweeper failed to release claimed incident", "incident_id", inc.ID, "error", err)
			}
			break
		}
		requeued++
	}
	if requeued > 0 {
		slog.Info("requeued detected incidents", "count", requeued)
	}
}
