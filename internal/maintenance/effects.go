package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rentflow/internal/payment"
	"rentflow/internal/tasks"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Notifier hands a notification to the delivery system.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, typ, title, message string, metadata map[string]any) error
}

// PaymentGateway authorizes and captures the payment of a job. A result with
// Success false is a declined call, not an infrastructure error.
type PaymentGateway interface {
	Authorize(ctx context.Context, req payment.AuthorizeRequest) (payment.AuthorizeResult, error)
	Capture(ctx context.Context, jobID uuid.UUID) (payment.CaptureResult, error)
}

type PaymentRecorder interface {
	ObservePayment(action, outcome string)
}

// Effects runs the side effects queued by transitions. Failures never touch
// job status; they are logged and appended to the job's audit notes.
type Effects struct {
	Store    Store
	Notifier Notifier
	Payments PaymentGateway
	Log      logrus.FieldLogger
	Metrics  PaymentRecorder
	Now      func() time.Time
}

// Register installs the handlers and the failure hook on w.
func (f *Effects) Register(w *tasks.Worker) {
	w.Handle(TaskNotify, f.HandleNotify)
	w.Handle(TaskPaymentAuthorize, f.HandleAuthorize)
	w.Handle(TaskPaymentCapture, f.HandleCapture)
	w.OnFailed = f.OnFailed
}

func (f *Effects) HandleNotify(ctx context.Context, t *tasks.Task) error {
	var p NotifyPayload
	if err := t.Decode(&p); err != nil {
		return tasks.Permanent(err)
	}
	if err := f.Notifier.Notify(ctx, p.UserID, p.Type, p.Title, p.Message, p.Metadata); err != nil {
		return fmt.Errorf("notify user %s: %w", p.UserID, err)
	}
	return nil
}

func (f *Effects) HandleAuthorize(ctx context.Context, t *tasks.Task) error {
	var p AuthorizePayload
	if err := t.Decode(&p); err != nil {
		return tasks.Permanent(err)
	}
	log := f.logger(t).WithFields(logrus.Fields{"amount": p.Amount, "method": p.Method})

	res, err := f.Payments.Authorize(ctx, payment.AuthorizeRequest{
		JobID:    p.JobID,
		PayerID:  p.PayerID,
		PayeeID:  p.PayeeID,
		Amount:   p.Amount,
		Method:   p.Method,
		MethodID: p.MethodID,
	})
	if err == nil && !res.Success {
		err = declined(res.Error, "authorization declined")
	}
	if err != nil {
		log.WithError(err).Error("payment authorization failed")
		f.observe("authorize", "failed")
		f.note(ctx, p.JobID, NotePayment, fmt.Sprintf("Payment authorization of %d via %s failed: %v", p.Amount, p.Method, err))
		return tasks.Permanent(err)
	}

	msg := fmt.Sprintf("Payment of %d authorized via %s (payment %s)", p.Amount, p.Method, res.PaymentID)
	if res.PayableURL != "" {
		msg += ", payable at " + res.PayableURL
	}
	log.WithField("payment_id", res.PaymentID).Info("payment authorized")
	f.observe("authorize", "ok")
	f.note(ctx, p.JobID, NotePayment, msg)
	return nil
}

func (f *Effects) HandleCapture(ctx context.Context, t *tasks.Task) error {
	var p CapturePayload
	if err := t.Decode(&p); err != nil {
		return tasks.Permanent(err)
	}
	log := f.logger(t)

	res, err := f.Payments.Capture(ctx, p.JobID)
	if err == nil && !res.Success {
		err = declined(res.Error, "capture declined")
	}
	if err != nil {
		log.WithError(err).Error("payment capture failed")
		f.observe("capture", "failed")
		f.note(ctx, p.JobID, NotePayment, fmt.Sprintf("Payment capture failed: %v", err))
		return tasks.Permanent(err)
	}

	log.WithField("transaction_id", res.TransactionID).Info("payment captured")
	f.observe("capture", "ok")
	f.note(ctx, p.JobID, NotePayment, "Payment captured (transaction "+res.TransactionID+")")
	return nil
}

// OnFailed records notifications that exhausted their retries. Payment
// handlers write their own notes.
func (f *Effects) OnFailed(ctx context.Context, t *tasks.Task, cause error) {
	if t.Type != TaskNotify {
		return
	}
	var p NotifyPayload
	if err := t.Decode(&p); err != nil {
		f.logger(t).WithError(err).Error("undecodable notification task failed")
		return
	}
	f.logger(t).WithError(cause).WithField("user_id", p.UserID).Error("notification dropped")
	f.note(ctx, t.RefID, NoteNotification, fmt.Sprintf("Notification %s to user %s failed after %d attempts: %v",
		p.Type, p.UserID, t.Attempts, cause))
}

func (f *Effects) note(ctx context.Context, jobID uuid.UUID, kind NoteKind, msg string) {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	// notes must survive a worker shutdown that cancelled ctx
	err := f.Store.AppendNote(context.WithoutCancel(ctx), Note{JobID: jobID, Kind: kind, Message: msg, CreatedAt: now().UTC()})
	if err != nil {
		f.baseLog().WithError(err).WithField("job_id", jobID).Error("append audit note failed")
	}
}

func (f *Effects) observe(action, outcome string) {
	if f.Metrics != nil {
		f.Metrics.ObservePayment(action, outcome)
	}
}

func (f *Effects) baseLog() logrus.FieldLogger {
	if f.Log == nil {
		return logrus.StandardLogger()
	}
	return f.Log
}

func (f *Effects) logger(t *tasks.Task) logrus.FieldLogger {
	return f.baseLog().WithFields(logrus.Fields{
		"task_id":   t.ID,
		"task_type": t.Type,
		"job_id":    t.RefID,
	})
}

func declined(msg, fallback string) error {
	if msg == "" {
		msg = fallback
	}
	return errors.New(msg)
}
