package tasks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Handler executes one claimed task. Returning an error schedules a retry
// unless the error is wrapped with Permanent.
type Handler func(ctx context.Context, t *Task) error

// Queue is the storage side of the worker; *Repo implements it.
type Queue interface {
	Claim(ctx context.Context, workerID string) (*Task, error)
	MarkDone(ctx context.Context, id uint64) error
	MarkFailed(ctx context.Context, id uint64, attempts int, errMsg string) error
	RetryLater(ctx context.Context, id uint64, attempts int, runAt time.Time, errMsg string) error
}

type Observer interface {
	ObserveTask(taskType, outcome string, elapsed time.Duration)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Backoff returns the delay before retry number attempts: 2^attempts
// seconds capped at ten minutes.
func Backoff(attempts int) time.Duration {
	sec := math.Min(math.Pow(2, float64(attempts)), 600)
	return time.Duration(sec) * time.Second
}

type Worker struct {
	ID      string
	Queue   Queue
	Poll    time.Duration
	Log     logrus.FieldLogger
	Metrics Observer

	// OnFailed runs once a task is marked FAILED.
	OnFailed func(ctx context.Context, t *Task, err error)

	mu       sync.RWMutex
	handlers map[string]Handler
}

func (w *Worker) Handle(taskType string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.handlers == nil {
		w.handlers = map[string]Handler{}
	}
	w.handlers[taskType] = h
}

func (w *Worker) handler(taskType string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[taskType]
	return h, ok
}

func (w *Worker) logger() logrus.FieldLogger {
	if w.Log == nil {
		return logrus.StandardLogger()
	}
	return w.Log
}

// Run polls the queue until ctx is cancelled, draining every due task on
// each tick.
func (w *Worker) Run(ctx context.Context) {
	poll := w.Poll
	if poll <= 0 {
		poll = 800 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	w.logger().WithField("worker_id", w.ID).Info("task worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger().WithField("worker_id", w.ID).Info("task worker stopped")
			return
		case <-ticker.C:
			for ctx.Err() == nil {
				ok, err := w.RunOnce(ctx)
				if err != nil {
					w.logger().WithError(err).WithField("worker_id", w.ID).Error("task claim failed")
					break
				}
				if !ok {
					break
				}
			}
		}
	}
}

// RunOnce claims and handles at most one task. It reports whether a task
// was claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	t, err := w.Queue.Claim(ctx, w.ID)
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, nil
	}
	w.handle(ctx, t)
	return true, nil
}

func (w *Worker) handle(ctx context.Context, t *Task) {
	log := w.logger().WithFields(logrus.Fields{
		"task_id":   t.ID,
		"task_type": t.Type,
		"ref_id":    t.RefID,
		"attempt":   t.Attempts + 1,
	})

	h, ok := w.handler(t.Type)
	if !ok {
		w.fail(context.WithoutCancel(ctx), t, t.Attempts, fmt.Errorf("unknown task type %q", t.Type))
		w.observe(t.Type, "unknown", 0)
		return
	}

	start := time.Now()
	err := h(ctx, t)
	elapsed := time.Since(start)

	// record the outcome even if shutdown cancelled ctx during the handler
	ctx = context.WithoutCancel(ctx)
	if err == nil {
		if err := w.Queue.MarkDone(ctx, t.ID); err != nil {
			log.WithError(err).Error("mark task done failed")
		}
		w.observe(t.Type, "done", elapsed)
		return
	}

	log.WithError(err).Warn("task failed")
	if w.retry(ctx, t, err) {
		w.observe(t.Type, "retry", elapsed)
		return
	}
	w.observe(t.Type, "failed", elapsed)
}

// retry reschedules t with backoff. It returns false when the task was
// marked FAILED instead.
func (w *Worker) retry(ctx context.Context, t *Task, cause error) bool {
	attempts := t.Attempts + 1
	if IsPermanent(cause) || attempts >= t.MaxAttempts {
		w.fail(ctx, t, attempts, cause)
		return false
	}

	next := time.Now().Add(Backoff(attempts))
	if err := w.Queue.RetryLater(ctx, t.ID, attempts, next, cause.Error()); err != nil {
		w.logger().WithError(err).WithField("task_id", t.ID).Error("reschedule task failed")
	}
	return true
}

func (w *Worker) fail(ctx context.Context, t *Task, attempts int, cause error) {
	if err := w.Queue.MarkFailed(ctx, t.ID, attempts, cause.Error()); err != nil {
		w.logger().WithError(err).WithField("task_id", t.ID).Error("mark task failed failed")
	}
	t.Attempts = attempts
	if w.OnFailed != nil {
		w.OnFailed(ctx, t, cause)
	}
}

func (w *Worker) observe(taskType, outcome string, elapsed time.Duration) {
	if w.Metrics != nil {
		w.Metrics.ObserveTask(taskType, outcome, elapsed)
	}
}
