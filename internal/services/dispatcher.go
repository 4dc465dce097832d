// dispatcher.go runs the bounded worker pool that executes remediation
// attempts. The queue is a fixed-size channel: ingest never blocks on it, and
// a full queue fails the incident with a budget reason instead of building an
// unbounded backlog.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devflowfix/devflowfix/internal/safego"
	"github.com/devflowfix/devflowfix/internal/telemetry"
)

// remediationRunner is the pipeline surface the workers drive
type remediationRunner interface {
	Remediate(ctx context.Context, incidentID uuid.UUID) error
}

// Dispatcher owns the remediation queue and worker pool
type Dispatcher struct {
	runner   remediationRunner
	queue    chan uuid.UUID
	workers  int
	deadline time.Duration

	wg      sync.WaitGroup
	stopped chan struct{}
}

// NewDispatcher sizes the pool and queue from configuration
func NewDispatcher(runner remediationRunner, workers, queueSize int, deadline time.Duration) *Dispatcher {
	return &Dispatcher{
		runner:   runner,
		queue:    make(chan uuid.UUID, queueSize),
		workers:  workers,
		deadline: deadline,
		stopped:  make(chan struct{}),
	}
}

// Start launches the worker goroutines
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		name := fmt.Sprintf("remediation-worker-%d", i)
		safego.GoNamed(name, func() {
			defer d.wg.Done()
			d.work(name)
		})
	}
	slog.Info("remediation dispatcher started", "workers", d.workers, "queue_size", cap(d.queue))
}

// Enqueue hands a claimed incident to the pool without blocking. A false
// return means the queue is full and the caller must fail the incident.
func (d *Dispatcher) Enqueue(incidentID uuid.UUID) bool {
	select {
	case <-d.stopped:
		return false
	default:
	}
	select {
	case d.queue <- incidentID:
		telemetry.RemediationQueueDepth.Inc()
		return true
	default:
		return false
	}
}

// Stop closes the queue and waits for in-flight attempts to finish. Incidents
// still queued at shutdown are worked before the workers exit; the sweeper
// requeues anything a hard kill leaves behind.
func (d *Dispatcher) Stop() {
	close(d.stopped)
	close(d.queue)
	d.wg.Wait()
	slog.Info("remediation dispatcher stopped")
}

func (d *Dispatcher) work(name string) {
	for incidentID := range d.queue {
		telemetry.RemediationQueueDepth.Dec()

		ctx, cancel := context.WithTimeout(context.Background(), d.deadline)
		err := d.runner.Remediate(ctx, incidentID)
		cancel()

		if err != nil {
			slog.Warn("remediation attempt ended with error",
				"worker", name, "incident_id", incidentID, "error", err)
		}
	}
}
