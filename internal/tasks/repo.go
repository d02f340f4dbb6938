package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Enqueue inserts tasks using the caller's transaction so they commit or
// roll back together with the domain write.
func Enqueue(tx *gorm.DB, ts ...Task) error {
	if len(ts) == 0 {
		return nil
	}
	return tx.Create(&ts).Error
}

type Repo struct {
	DB *gorm.DB

	// StuckAfter requeues RUNNING tasks whose lock is older than this.
	StuckAfter time.Duration
}

func (r *Repo) Enqueue(ctx context.Context, ts ...Task) error {
	return Enqueue(r.DB.WithContext(ctx), ts...)
}

// HasOpen reports whether a PENDING or RUNNING task of the given type exists
// for refID.
func (r *Repo) HasOpen(ctx context.Context, refID uuid.UUID, typ string) (bool, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&Task{}).
		Where("ref_id=? AND type=? AND status IN ?", refID, typ, []string{StatusPending, StatusRunning}).
		Count(&n).Error
	return n > 0, err
}

// Claim one due task atomically using SKIP LOCKED.
// Works on Postgres.
func (r *Repo) Claim(ctx context.Context, workerID string) (*Task, error) {
	stuck := r.StuckAfter
	if stuck <= 0 {
		stuck = 5 * time.Minute
	}

	var t Task
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`
update tasks
set status='PENDING', locked_by=null, locked_at=null, updated_at=now()
where status='RUNNING' and locked_at is not null and locked_at < ?
`, time.Now().Add(-stuck)).Error; err != nil {
			return err
		}

		// FOR UPDATE SKIP LOCKED ensures no double-claim
		q := tx.Raw(`
with cte as (
  select id
  from tasks
  where status='PENDING' and run_at <= now()
  order by run_at asc
  for update skip locked
  limit 1
)
update tasks
set status='RUNNING', locked_by=?, locked_at=now(), updated_at=now()
where id in (select id from cte)
returning *;
`, workerID)

		return q.Scan(&t).Error
	})
	if err != nil {
		return nil, err
	}
	if t.ID == 0 {
		return nil, nil
	}
	return &t, nil
}

func (r *Repo) MarkDone(ctx context.Context, id uint64) error {
	return r.DB.WithContext(ctx).Exec(`update tasks set status='DONE', locked_by=null, updated_at=now() where id=?`, id).Error
}

func (r *Repo) MarkFailed(ctx context.Context, id uint64, attempts int, errMsg string) error {
	return r.DB.WithContext(ctx).Exec(`
update tasks
set status='FAILED', attempts=?, last_error=?, locked_by=null, updated_at=now()
where id=?`, attempts, errMsg, id).Error
}

func (r *Repo) RetryLater(ctx context.Context, id uint64, attempts int, runAt time.Time, errMsg string) error {
	return r.DB.WithContext(ctx).Exec(`
update tasks
set status='PENDING',
    attempts=?,
    run_at=?,
    locked_by=null,
    locked_at=null,
    last_error=?,
    updated_at=now()
where id=?`, attempts, runAt, errMsg, id).Error
}
