// state_janitor.go implements the StateJanitor background job, which prunes
// expired OAuth state tokens from the in-process store. Only needed when Redis
// is not configured; the Redis store expires keys by TTL on its own.
package jobs

import (
	"context"
	"log/slog"
	"time"
)

// statePruner is the slice of the memory state store the janitor uses
type statePruner interface {
	PruneExpired() int
}

// StateJanitor periodically drops abandoned OAuth flows from the in-process
// state store so they do not accumulate over the life of the process.
type StateJanitor struct {
	store    statePruner
	interval time.Duration
	stopChan chan struct{}
}

// NewStateJanitor creates the janitor.
func NewStateJanitor(store statePruner, interval time.Duration) *StateJanitor {
	return &StateJanitor{
		store:    store,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the prune loop. It exits when ctx is cancelled or Stop is
// called.
func (j *StateJanitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if pruned := j.store.PruneExpired(); pruned > 0 {
				slog.Debug("pruned expired oauth state tokens", "count", pruned)
			}
		case <-j.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the prune loop to exit.
func (j *StateJanitor) Stop() {
	close(j.stopChan)
}
