package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Recorder counts transition outcomes.
type Recorder interface {
	ObserveTransition(op, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTransition(string, string) {}

type Config struct {
	Quoting QuotePolicy
	// NotifyMaxAttempts bounds delivery retries per notification.
	NotifyMaxAttempts int
}

// Engine applies lifecycle transitions to maintenance jobs. Every transition
// is a single conditional update; notifications and payment calls are queued
// with it and run after commit.
type Engine struct {
	store   Store
	dir     Directory
	access  Resolver
	cfg     Config
	log     logrus.FieldLogger
	metrics Recorder
	now     func() time.Time
}

func NewEngine(store Store, dir Directory, cfg Config, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		store:   store,
		dir:     dir,
		access:  NewResolver(dir),
		cfg:     cfg,
		log:     log,
		metrics: nopRecorder{},
		now:     time.Now,
	}
}

func (e *Engine) WithMetrics(r Recorder) *Engine {
	if r != nil {
		e.metrics = r
	}
	return e
}

type CreateInput struct {
	PropertyID    uuid.UUID
	Title         string
	Description   string
	Category      string
	Priority      Priority
	EstimatedCost *int64
	ScheduledDate *time.Time
	Images        []string
}

// Create opens a request on behalf of a tenant holding an active lease on
// the property.
func (e *Engine) Create(ctx context.Context, actor Actor, in CreateInput) (job *Job, err error) {
	defer func() { e.observe("create", jobIDOf(job), actor, err) }()

	in.Title = strings.TrimSpace(in.Title)
	in.Category = strings.TrimSpace(in.Category)
	if in.Title == "" || in.Category == "" {
		return nil, fmt.Errorf("%w: title and category are required", ErrInvalidInput)
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, in.Priority)
	}
	if in.EstimatedCost != nil && *in.EstimatedCost < 0 {
		return nil, fmt.Errorf("%w: estimated cost must not be negative", ErrInvalidInput)
	}

	prop, err := e.dir.Property(ctx, in.PropertyID)
	if err != nil {
		return nil, err
	}
	if !actor.Admin {
		ok, err := e.dir.HasActiveLease(ctx, prop.ID, actor.UserID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: no active lease on property %s", ErrForbidden, prop.ID)
		}
	}

	now := e.now()
	j := &Job{
		ID:            uuid.New(),
		PropertyID:    prop.ID,
		RequestedBy:   actor.UserID,
		Title:         in.Title,
		Description:   strings.TrimSpace(in.Description),
		Category:      in.Category,
		Priority:      in.Priority,
		Status:        StatusPending,
		QuoteRequired: e.cfg.Quoting.Requires(in.Category),
		EstimatedCost: in.EstimatedCost,
		Images:        appendImages(nil, in.Images),
		ScheduledDate: in.ScheduledDate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	notes := []Note{e.note(actor, NoteTransition, fmt.Sprintf("Request created (%s, quote required: %t)", j.Status, j.QuoteRequired))}
	box := e.outbox(j)
	box.skip(actor.UserID)
	msg := fmt.Sprintf("New maintenance request %q on %s", j.Title, prop.Title)
	box.notify(prop.OwnerID, NotifyRequestCreated, "New maintenance request", msg)
	for _, b := range prop.BrokerIDs {
		box.notify(b, NotifyRequestCreated, "New maintenance request", msg)
	}
	if box.err != nil {
		return nil, box.err
	}

	if err := e.store.Create(ctx, j, notes, box.tasks); err != nil {
		return nil, err
	}
	return j, nil
}

// RequestQuote binds a provider and asks them to quote the job.
func (e *Engine) RequestQuote(ctx context.Context, jobID uuid.UUID, actor Actor, providerID uuid.UUID) (job *Job, err error) {
	defer func() { e.observe("request_quote", jobID, actor, err) }()

	cur, _, err := e.load(ctx, jobID, actor, RelAdmin|RelOwner|RelBroker|RelRequester)
	if err != nil {
		return nil, err
	}
	if !CanTransition(cur.Status, StatusQuotePending) {
		return nil, invalidState(cur, StatusQuotePending)
	}
	prov, err := e.assignable(ctx, providerID)
	if err != nil {
		return nil, err
	}

	next := cur.clone()
	next.ProviderID = &prov.ID
	next.Status = StatusQuotePending

	notes := []Note{e.transitionNote(actor, cur, next, "quote requested from "+prov.BusinessName)}
	box := e.outbox(next)
	box.notify(prov.UserID, NotifyQuoteRequested, "Quote requested",
		fmt.Sprintf("Please submit a quote for %q", next.Title))
	return e.commit(ctx, cur, next, notes, box)
}

type QuoteInput struct {
	EstimatedCost int64
	Note          string
}

// SubmitQuote records the bound provider's estimate. The status stays
// QUOTE_PENDING until the quote is approved.
func (e *Engine) SubmitQuote(ctx context.Context, jobID uuid.UUID, actor Actor, in QuoteInput) (job *Job, err error) {
	defer func() { e.observe("submit_quote", jobID, actor, err) }()

	cur, acc, err := e.load(ctx, jobID, actor, RelProvider)
	if err != nil {
		return nil, err
	}
	if cur.Status != StatusQuotePending {
		return nil, invalidState(cur, StatusQuotePending)
	}
	if in.EstimatedCost <= 0 {
		return nil, fmt.Errorf("%w: estimated cost must be positive", ErrInvalidInput)
	}

	next := cur.clone()
	cost := in.EstimatedCost
	next.EstimatedCost = &cost

	notes := []Note{e.note(actor, NoteTransition, fmt.Sprintf("Quote submitted: %d", cost))}
	if n := strings.TrimSpace(in.Note); n != "" {
		notes = append(notes, e.note(actor, NoteComment, n))
	}
	box := e.outbox(next)
	msg := fmt.Sprintf("%s quoted %d for %q", acc.Provider.BusinessName, cost, next.Title)
	box.notify(acc.Property.OwnerID, NotifyQuoteSubmitted, "Quote received", msg)
	for _, b := range acc.Property.BrokerIDs {
		box.notify(b, NotifyQuoteSubmitted, "Quote received", msg)
	}
	return e.commit(ctx, cur, next, notes, box)
}

// AssignProvider binds a verified, active provider and moves the job to
// ASSIGNED. From PENDING this is only allowed when the job needs no quote.
func (e *Engine) AssignProvider(ctx context.Context, jobID uuid.UUID, actor Actor, providerID uuid.UUID) (job *Job, err error) {
	defer func() { e.observe("assign_provider", jobID, actor, err) }()

	cur, _, err := e.load(ctx, jobID, actor, RelAdmin|RelOwner|RelBroker|RelRequester)
	if err != nil {
		return nil, err
	}
	if !CanTransition(cur.Status, StatusAssigned) {
		return nil, invalidState(cur, StatusAssigned)
	}
	if cur.Status == StatusPending && cur.QuoteRequired {
		return nil, fmt.Errorf("%w: job %s requires an approved quote before assignment", ErrInvalidState, cur.ID)
	}
	if cur.ProviderID != nil && *cur.ProviderID != providerID {
		return nil, fmt.Errorf("%w: job %s is bound to provider %s", ErrInvalidState, cur.ID, *cur.ProviderID)
	}
	prov, err := e.assignable(ctx, providerID)
	if err != nil {
		return nil, err
	}

	next := cur.clone()
	next.ProviderID = &prov.ID
	next.Status = StatusAssigned

	notes := []Note{e.transitionNote(actor, cur, next, "provider "+prov.BusinessName+" assigned")}
	box := e.outbox(next)
	box.notify(prov.UserID, NotifyJobAssigned, "New job assigned",
		fmt.Sprintf("You have been assigned to %q", next.Title))
	box.notify(next.RequestedBy, NotifyProviderAssigned, "Provider assigned",
		fmt.Sprintf("%s will handle %q", prov.BusinessName, next.Title))
	return e.commit(ctx, cur, next, notes, box)
}

type ApproveInput struct {
	PaymentMethod   string
	PaymentMethodID string
}

// ApproveQuote accepts the pending quote. When a payment method is given and
// the job has a cost, authorization is queued with the transition; its
// outcome never affects the approval.
func (e *Engine) ApproveQuote(ctx context.Context, jobID uuid.UUID, actor Actor, in ApproveInput) (job *Job, err error) {
	defer func() { e.observe("approve_quote", jobID, actor, err) }()

	cur, acc, err := e.load(ctx, jobID, actor, RelAdmin|RelOwner|RelBroker)
	if err != nil {
		return nil, err
	}
	if cur.Status != StatusQuotePending {
		return nil, invalidState(cur, StatusQuoteApproved)
	}

	next := cur.clone()
	next.Status = StatusQuoteApproved

	notes := []Note{e.transitionNote(actor, cur, next, "quote approved")}
	box := e.outbox(next)

	amount := next.cost()
	method := strings.TrimSpace(in.PaymentMethod)
	switch {
	case method == "":
		notes = append(notes, e.note(actor, NotePayment, "Payment authorization skipped: no payment method supplied"))
	case amount <= 0:
		notes = append(notes, e.note(actor, NotePayment, "Payment authorization skipped: job has no cost"))
	case next.ProviderID == nil:
		notes = append(notes, e.note(actor, NotePayment, "Payment authorization skipped: no provider bound"))
	default:
		payer := actor.UserID
		if !acc.Relations.Has(RelOwner | RelBroker) {
			payer = acc.Property.OwnerID
		}
		box.add(TaskPaymentAuthorize, AuthorizePayload{
			JobID:    next.ID,
			PayerID:  payer,
			PayeeID:  *next.ProviderID,
			Amount:   amount,
			Method:   method,
			MethodID: strings.TrimSpace(in.PaymentMethodID),
		}, 1)
	}

	if acc.Provider != nil {
		box.notify(acc.Provider.UserID, NotifyQuoteApproved, "Quote approved",
			fmt.Sprintf("Your quote for %q was approved", next.Title))
	}
	box.notify(next.RequestedBy, NotifyQuoteApproved, "Quote approved",
		fmt.Sprintf("The quote for %q was approved", next.Title))
	return e.commit(ctx, cur, next, notes, box)
}

type CompleteInput struct {
	ActualCost *int64
	Notes      string
	Images     []string
}

// CompleteJob records the provider's completion report. The job waits in
// PENDING_CONFIRMATION until a counter-party confirms it.
func (e *Engine) CompleteJob(ctx context.Context, jobID uuid.UUID, actor Actor, in CompleteInput) (job *Job, err error) {
	defer func() { e.observe("complete_job", jobID, actor, err) }()

	cur, acc, err := e.load(ctx, jobID, actor, RelProvider)
	if err != nil {
		return nil, err
	}
	if cur.Status == StatusCompleted || cur.Status == StatusPendingConfirmation {
		return nil, fmt.Errorf("%w: job %s is %s", ErrAlreadyCompleted, cur.ID, cur.Status)
	}
	if !CanTransition(cur.Status, StatusPendingConfirmation) {
		return nil, invalidState(cur, StatusPendingConfirmation)
	}
	if in.ActualCost != nil && *in.ActualCost < 0 {
		return nil, fmt.Errorf("%w: actual cost must not be negative", ErrInvalidInput)
	}

	now := e.now()
	next := cur.clone()
	next.Status = StatusPendingConfirmation
	next.CompletedDate = &now
	var actual int64
	switch {
	case in.ActualCost != nil:
		actual = *in.ActualCost
	case cur.EstimatedCost != nil:
		actual = *cur.EstimatedCost
	}
	next.ActualCost = &actual
	next.Images = appendImages(next.Images, in.Images)

	notes := []Note{e.transitionNote(actor, cur, next, fmt.Sprintf("work completed, actual cost %d", actual))}
	if n := strings.TrimSpace(in.Notes); n != "" {
		notes = append(notes, e.note(actor, NoteComment, n))
	}

	box := e.outbox(next)
	msg := fmt.Sprintf("%s reported %q as completed; please confirm", acc.Provider.BusinessName, next.Title)
	box.notify(acc.Property.OwnerID, NotifyCompletionPending, "Job completed, confirmation required", msg)
	for _, b := range acc.Property.BrokerIDs {
		box.notify(b, NotifyCompletionPending, "Job completed, confirmation required", msg)
	}
	return e.commit(ctx, cur, next, notes, box)
}

// ConfirmCompletion closes the job and queues capture of its authorized
// payment.
func (e *Engine) ConfirmCompletion(ctx context.Context, jobID uuid.UUID, actor Actor) (job *Job, err error) {
	defer func() { e.observe("confirm_completion", jobID, actor, err) }()

	cur, acc, err := e.load(ctx, jobID, actor, RelAdmin|RelOwner|RelBroker|RelRequester)
	if err != nil {
		return nil, err
	}
	if cur.Status != StatusPendingConfirmation {
		return nil, invalidState(cur, StatusCompleted)
	}

	next := cur.clone()
	next.Status = StatusCompleted

	notes := []Note{e.transitionNote(actor, cur, next, "completion confirmed")}
	box := e.outbox(next)
	box.add(TaskPaymentCapture, CapturePayload{JobID: next.ID}, 1)
	if acc.Provider != nil {
		box.notify(acc.Provider.UserID, NotifyJobConfirmed, "Job confirmed", confirmedMessage(next))
	}
	return e.commit(ctx, cur, next, notes, box)
}

// confirmedMessage tells the provider what is released. The authorized
// amount is the estimate; a different reported cost is stated next to it.
func confirmedMessage(j *Job) string {
	msg := fmt.Sprintf("%q was confirmed; the authorized payment of %d is being released", j.Title, j.cost())
	if j.EstimatedCost != nil && j.ActualCost != nil && *j.ActualCost != *j.EstimatedCost {
		msg += fmt.Sprintf(" (reported cost %d; settle the difference of %d separately)",
			*j.ActualCost, *j.ActualCost-*j.EstimatedCost)
	}
	return msg
}

// Cancel moves a non-terminal job to CANCELLED.
func (e *Engine) Cancel(ctx context.Context, jobID uuid.UUID, actor Actor, reason string) (job *Job, err error) {
	defer func() { e.observe("cancel", jobID, actor, err) }()

	cur, acc, err := e.load(ctx, jobID, actor, RelAdmin|RelOwner|RelBroker|RelRequester)
	if err != nil {
		return nil, err
	}
	if !CanTransition(cur.Status, StatusCancelled) {
		return nil, invalidState(cur, StatusCancelled)
	}

	next := cur.clone()
	next.Status = StatusCancelled

	detail := "cancelled"
	if r := strings.TrimSpace(reason); r != "" {
		detail += ": " + r
	}
	notes := []Note{e.transitionNote(actor, cur, next, detail)}

	box := e.outbox(next)
	box.skip(actor.UserID)
	msg := fmt.Sprintf("%q was %s", next.Title, detail)
	box.notify(next.RequestedBy, NotifyJobCancelled, "Maintenance request cancelled", msg)
	box.notify(acc.Property.OwnerID, NotifyJobCancelled, "Maintenance request cancelled", msg)
	for _, b := range acc.Property.BrokerIDs {
		box.notify(b, NotifyJobCancelled, "Maintenance request cancelled", msg)
	}
	if acc.Provider != nil {
		box.notify(acc.Provider.UserID, NotifyJobCancelled, "Maintenance request cancelled", msg)
	}
	return e.commit(ctx, cur, next, notes, box)
}

const anyRelation = RelAdmin | RelOwner | RelBroker | RelRequester | RelProvider

// Get returns the job to any party of it.
func (e *Engine) Get(ctx context.Context, jobID uuid.UUID, actor Actor) (*Job, error) {
	j, _, err := e.load(ctx, jobID, actor, anyRelation)
	return j, err
}

// History returns the job's audit notes in order.
func (e *Engine) History(ctx context.Context, jobID uuid.UUID, actor Actor) ([]Note, error) {
	if _, _, err := e.load(ctx, jobID, actor, anyRelation); err != nil {
		return nil, err
	}
	return e.store.Notes(ctx, jobID)
}

// load fetches the job and checks the actor holds one of allowed. Missing
// jobs fail before permissions are checked.
func (e *Engine) load(ctx context.Context, jobID uuid.UUID, actor Actor, allowed Relation) (*Job, *Access, error) {
	j, err := e.store.Get(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	acc, err := e.access.Resolve(ctx, actor, j)
	if err != nil {
		return nil, nil, err
	}
	if !acc.Relations.Has(allowed) {
		return nil, nil, fmt.Errorf("%w: user %s (%s) on job %s", ErrForbidden, actor.UserID, acc.Relations, j.ID)
	}
	return j, acc, nil
}

func (e *Engine) assignable(ctx context.Context, providerID uuid.UUID) (*Provider, error) {
	p, err := e.dir.Provider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if !p.Assignable() {
		return nil, fmt.Errorf("%w: %s (verified=%t, status=%s)", ErrInvalidProviderState, p.ID, p.IsVerified, p.Status)
	}
	return p, nil
}

func (e *Engine) commit(ctx context.Context, cur, next *Job, notes []Note, box *outbox, visits ...VisitProposal) (*Job, error) {
	if box.err != nil {
		return nil, box.err
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = e.now()

	err := e.store.Apply(ctx, Mutation{
		Expect:  cur.Status,
		Version: cur.Version,
		Next:    next,
		Notes:   notes,
		Tasks:   box.tasks,
		Visits:  visits,
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (e *Engine) note(actor Actor, kind NoteKind, msg string) Note {
	id := actor.UserID
	return Note{ActorID: &id, Kind: kind, Message: msg, CreatedAt: e.now().UTC()}
}

func (e *Engine) transitionNote(actor Actor, cur, next *Job, detail string) Note {
	return e.note(actor, NoteTransition, fmt.Sprintf("%s -> %s: %s", cur.Status, next.Status, detail))
}

func (e *Engine) observe(op string, jobID uuid.UUID, actor Actor, err error) {
	outcome := Outcome(err)
	e.metrics.ObserveTransition(op, outcome)

	log := e.log.WithFields(logrus.Fields{
		"op":       op,
		"job_id":   jobID,
		"actor_id": actor.UserID,
		"outcome":  outcome,
	})
	switch {
	case err == nil:
		log.Info("maintenance transition applied")
	case outcome == "error":
		log.WithError(err).Error("maintenance transition failed")
	default:
		log.WithError(err).Warn("maintenance transition rejected")
	}
}

// Outcome classifies an operation result for logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalidProviderState):
		return "invalid_provider"
	case errors.Is(err, ErrAlreadyCompleted):
		return "already_completed"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	}
	return "error"
}

func invalidState(j *Job, want Status) error {
	return fmt.Errorf("%w: job %s cannot move from %s to %s", ErrInvalidState, j.ID, j.Status, want)
}

func jobIDOf(j *Job) uuid.UUID {
	if j == nil {
		return uuid.Nil
	}
	return j.ID
}

func appendImages(dst pq.StringArray, urls []string) pq.StringArray {
	out := append(pq.StringArray{}, dst...)
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}
