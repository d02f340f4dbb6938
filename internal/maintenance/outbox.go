package maintenance

import (
	"fmt"

	"rentflow/internal/tasks"

	"github.com/google/uuid"
)

const (
	TaskNotify           = "MAINTENANCE_NOTIFY"
	TaskPaymentAuthorize = "PAYMENT_AUTHORIZE"
	TaskPaymentCapture   = "PAYMENT_CAPTURE"
)

// Notification types sent to parties of a job.
const (
	NotifyRequestCreated    = "MAINTENANCE_REQUEST_CREATED"
	NotifyQuoteRequested    = "MAINTENANCE_QUOTE_REQUESTED"
	NotifyQuoteSubmitted    = "MAINTENANCE_QUOTE_SUBMITTED"
	NotifyQuoteApproved     = "MAINTENANCE_QUOTE_APPROVED"
	NotifyJobAssigned       = "MAINTENANCE_JOB_ASSIGNED"
	NotifyProviderAssigned  = "MAINTENANCE_PROVIDER_ASSIGNED"
	NotifyCompletionPending = "MAINTENANCE_COMPLETION_PENDING"
	NotifyJobConfirmed      = "MAINTENANCE_JOB_CONFIRMED"
	NotifyJobCancelled      = "MAINTENANCE_JOB_CANCELLED"
	NotifyVisitProposed     = "MAINTENANCE_VISIT_PROPOSED"
	NotifyVisitAccepted     = "MAINTENANCE_VISIT_ACCEPTED"
)

type NotifyPayload struct {
	JobID    uuid.UUID      `json:"job_id"`
	UserID   uuid.UUID      `json:"user_id"`
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type AuthorizePayload struct {
	JobID    uuid.UUID `json:"job_id"`
	PayerID  uuid.UUID `json:"payer_id"`
	PayeeID  uuid.UUID `json:"payee_id"`
	Amount   int64     `json:"amount"`
	Method   string    `json:"method"`
	MethodID string    `json:"method_id,omitempty"`
}

type CapturePayload struct {
	JobID uuid.UUID `json:"job_id"`
}

// CaptureTask builds the task that asks the gateway to capture the job's
// authorized payment.
func CaptureTask(jobID uuid.UUID) (tasks.Task, error) {
	return tasks.New(jobID, TaskPaymentCapture, CapturePayload{JobID: jobID}, 1)
}

// outbox collects the side effects of one transition. They are written in
// the same transaction as the job update.
type outbox struct {
	job               *Job
	notifyMaxAttempts int
	notified          map[uuid.UUID]bool
	tasks             []tasks.Task
	err               error
}

func (e *Engine) outbox(job *Job) *outbox {
	return &outbox{job: job, notifyMaxAttempts: e.cfg.NotifyMaxAttempts, notified: map[uuid.UUID]bool{}}
}

func (o *outbox) add(typ string, payload any, maxAttempts int) {
	if o.err != nil {
		return
	}
	t, err := tasks.New(o.job.ID, typ, payload, maxAttempts)
	if err != nil {
		o.err = fmt.Errorf("queue %s for job %s: %w", typ, o.job.ID, err)
		return
	}
	o.tasks = append(o.tasks, t)
}

// notify queues one notification per distinct recipient; uuid.Nil and users
// already notified by this transition are skipped.
func (o *outbox) notify(userID uuid.UUID, typ, title, message string) {
	if userID == uuid.Nil || o.notified[userID] {
		return
	}
	o.notified[userID] = true
	o.add(TaskNotify, NotifyPayload{
		JobID:   o.job.ID,
		UserID:  userID,
		Type:    typ,
		Title:   title,
		Message: message,
		Metadata: map[string]any{
			"job_id": o.job.ID.String(),
			"status": string(o.job.Status),
			"link":   "/maintenance/" + o.job.ID.String(),
		},
	}, o.notifyMaxAttempts)
}

// skip marks a user as already informed, typically the actor.
func (o *outbox) skip(userID uuid.UUID) {
	o.notified[userID] = true
}
