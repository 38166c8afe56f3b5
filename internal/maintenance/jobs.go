// Package maintenance holds the periodic background jobs: re-aggregating
// stale cells and purging raw samples past retention.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/smukkama/signaltrail/internal/grid"
	"github.com/smukkama/signaltrail/internal/metrics"
	"github.com/smukkama/signaltrail/internal/queue"
	"github.com/smukkama/signaltrail/internal/scheduler"
)

// Task ids registered on the scheduler
const (
	RefreshTaskID   = "refresh-stale-cells"
	RetentionTaskID = "purge-expired-samples"
)

// StaleLister lists cells whose aggregate was computed before cutoff, oldest
// first, and moves checked cells to the back of that list.
type StaleLister interface {
	ListStaleCells(ctx context.Context, cutoff time.Time, limit int) ([]grid.CellID, error)
	MarkRefreshed(ctx context.Context, ids []grid.CellID) error
}

// SamplePurger deletes raw samples captured before cutoff.
type SamplePurger interface {
	DeleteSamplesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Enqueuer hands cells to the aggregation workers without blocking.
type Enqueuer interface {
	Enqueue(ctx context.Context, cells []grid.CellID) error
}

// Refresher re-aggregates cells whose aggregate has gone stale, so confidence
// keeps decaying as samples age out of the window.
type Refresher struct {
	store      StaleLister
	queue      Enqueuer
	staleAfter time.Duration
	limit      int
	now        func() time.Time
}

// NewRefresher creates a refresher
func NewRefresher(store StaleLister, q Enqueuer, staleAfter time.Duration, limit int) *Refresher {
	return &Refresher{
		store:      store,
		queue:      q,
		staleAfter: staleAfter,
		limit:      limit,
		now:        time.Now,
	}
}

// RefreshStale enqueues up to limit stale cells and returns how many were queued.
// Queued cells are marked refreshed, so cells that stay cold starts do not
// crowd out the rest. Cells dropped by a full queue keep their place and are
// picked up by the next sweep.
func (r *Refresher) RefreshStale(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.staleAfter)
	cells, err := r.store.ListStaleCells(ctx, cutoff, r.limit)
	if err != nil {
		return 0, fmt.Errorf("listing stale cells: %w", err)
	}
	if len(cells) == 0 {
		return 0, nil
	}

	queued := make([]grid.CellID, 0, len(cells))
	dropped := 0
	for _, cell := range cells {
		err := r.queue.Enqueue(ctx, []grid.CellID{cell})
		switch {
		case errors.Is(err, queue.ErrQueueFull):
			dropped++
		case err != nil:
			return len(queued), fmt.Errorf("enqueueing stale cells: %w", err)
		default:
			queued = append(queued, cell)
		}
	}

	if err := r.store.MarkRefreshed(ctx, queued); err != nil {
		return len(queued), fmt.Errorf("marking refreshed cells: %w", err)
	}
	metrics.RefreshEnqueued.Add(float64(len(queued)))

	if dropped > 0 {
		log.Printf("[Scheduler] Refresh sweep: queue full, %d of %d stale cells deferred", dropped, len(cells))
	}
	log.Printf("[Scheduler] Refresh sweep queued %d stale cells (older than %s)", len(queued), cutoff.Format(time.RFC3339))
	return len(queued), nil
}

// Retention deletes raw samples older than maxAge.
type Retention struct {
	store  SamplePurger
	maxAge time.Duration
	now    func() time.Time
}

// NewRetention creates a retention job
func NewRetention(store SamplePurger, maxAge time.Duration) *Retention {
	return &Retention{store: store, maxAge: maxAge, now: time.Now}
}

// Purge deletes expired samples and returns how many were removed
func (r *Retention) Purge(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.maxAge)
	n, err := r.store.DeleteSamplesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging samples before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	metrics.SamplesPurged.Add(float64(n))
	log.Printf("[Scheduler] Retention purged %d samples captured before %s", n, cutoff.Format(time.RFC3339))
	return n, nil
}

// Register schedules both jobs. A nil job is skipped.
func Register(s *scheduler.Scheduler, refresher *Refresher, refreshEvery time.Duration,
	retention *Retention, retentionEvery time.Duration, timeout time.Duration) error {
	if refresher != nil {
		err := s.Every(RefreshTaskID, refreshEvery, func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if _, err := refresher.RefreshStale(ctx); err != nil {
				log.Printf("[Scheduler] Refresh sweep failed: %v", err)
			}
		})
		if err != nil {
			return fmt.Errorf("scheduling refresh sweep: %w", err)
		}
	}

	if retention != nil {
		err := s.Every(RetentionTaskID, retentionEvery, func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if _, err := retention.Purge(ctx); err != nil {
				log.Printf("[Scheduler] Retention failed: %v", err)
			}
		})
		if err != nil {
			return fmt.Errorf("scheduling retention: %w", err)
		}
	}

	return nil
}
