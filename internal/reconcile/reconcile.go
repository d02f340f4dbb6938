// Package reconcile re-queues payment captures that never completed for
// confirmed maintenance jobs.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rentflow/internal/maintenance"
	"rentflow/internal/payment"
	"rentflow/internal/tasks"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Finder lists jobs whose capture should be retried.
type Finder interface {
	PendingCaptures(ctx context.Context, maxAttempts, limit int) ([]uuid.UUID, error)
}

// Queue checks for and inserts capture tasks; *tasks.Repo implements it.
type Queue interface {
	HasOpen(ctx context.Context, refID uuid.UUID, typ string) (bool, error)
	Enqueue(ctx context.Context, ts ...tasks.Task) error
}

// Releaser frees payments whose capture was interrupted mid-call;
// *payment.Service implements it.
type Releaser interface {
	ReleaseStaleCaptures(ctx context.Context, olderThan time.Duration) (int64, error)
}

type Observer interface {
	ObserveRequeued(n int)
}

// GormFinder selects completed jobs whose payment is still authorized.
type GormFinder struct {
	DB *gorm.DB
}

func (f *GormFinder) PendingCaptures(ctx context.Context, maxAttempts, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := f.DB.WithContext(ctx).Raw(`
select p.maintenance_job_id
from payments p
join maintenance_jobs j on j.id = p.maintenance_job_id
where p.status = ? and j.status = ? and p.capture_attempts < ?
order by p.updated_at asc
limit ?
`, payment.StatusAuthorized, maintenance.StatusCompleted, maxAttempts, limit).Scan(&ids).Error
	return ids, err
}

type Reconciler struct {
	Finder      Finder
	Queue       Queue
	Log         logrus.FieldLogger
	Metrics     Observer
	MaxAttempts int
	BatchSize   int

	// Stale, when set, runs before each sweep so interrupted captures
	// become eligible again after StaleAfter.
	Stale      Releaser
	StaleAfter time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

// Sweep enqueues one capture task for each pending job that has none open.
// It returns the number of tasks enqueued.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	if r.Stale != nil {
		after := r.StaleAfter
		if after <= 0 {
			after = 10 * time.Minute
		}
		if _, err := r.Stale.ReleaseStaleCaptures(ctx, after); err != nil {
			return 0, fmt.Errorf("release stale captures: %w", err)
		}
	}

	batch := r.BatchSize
	if batch <= 0 {
		batch = 100
	}
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	ids, err := r.Finder.PendingCaptures(ctx, maxAttempts, batch)
	if err != nil {
		return 0, fmt.Errorf("find pending captures: %w", err)
	}

	var queued int
	for _, id := range ids {
		open, err := r.Queue.HasOpen(ctx, id, maintenance.TaskPaymentCapture)
		if err != nil {
			return queued, err
		}
		if open {
			continue
		}
		t, err := maintenance.CaptureTask(id)
		if err != nil {
			return queued, err
		}
		if err := r.Queue.Enqueue(ctx, t); err != nil {
			return queued, err
		}
		r.logger().WithField("job_id", id).Info("payment capture re-queued")
		queued++
	}
	if r.Metrics != nil && queued > 0 {
		r.Metrics.ObserveRequeued(queued)
	}
	return queued, nil
}

// Start runs Sweep on the cron schedule until Stop.
func (r *Reconciler) Start(schedule string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("reconciler already started")
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		n, err := r.Sweep(context.Background())
		if err != nil {
			r.logger().WithError(err).Error("payment reconciliation failed")
			return
		}
		r.logger().WithField("queued", n).Debug("payment reconciliation finished")
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}
	c.Start()
	r.cron = c
	r.logger().WithField("schedule", schedule).Info("payment reconciler started")
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	r.logger().Info("payment reconciler stopped")
}

func (r *Reconciler) logger() logrus.FieldLogger {
	if r.Log == nil {
		return logrus.StandardLogger()
	}
	return r.Log
}
