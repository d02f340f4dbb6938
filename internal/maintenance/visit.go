package maintenance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type VisitStatus string

const (
	VisitProposed VisitStatus = "PROPOSED"
	VisitAccepted VisitStatus = "ACCEPTED"
	VisitRejected VisitStatus = "REJECTED"
)

// VisitSide is the party a proposal speaks for. Owner, broker and admin
// share the management side.
type VisitSide string

const (
	SideProvider   VisitSide = "PROVIDER"
	SideManagement VisitSide = "MANAGEMENT"
)

// VisitProposal is a date offered for the provider's visit. At most one
// proposal per job is PROPOSED; a newer one rejects it.
type VisitProposal struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobID       uuid.UUID `gorm:"type:uuid;index;not null" json:"job_id"`
	ProposedBy  uuid.UUID `gorm:"type:uuid;not null" json:"proposed_by"`
	Side        VisitSide `gorm:"type:text;not null" json:"side"`
	ScheduledAt time.Time `gorm:"type:timestamptz;not null" json:"scheduled_at"`

	DurationMinutes int    `gorm:"not null;default:0" json:"duration_minutes"`
	Notes           string `gorm:"type:text;not null;default:''" json:"notes,omitempty"`

	Status      VisitStatus `gorm:"type:text;index;not null" json:"status"`
	RespondedBy *uuid.UUID  `gorm:"type:uuid" json:"responded_by,omitempty"`
	RespondedAt *time.Time  `gorm:"type:timestamptz" json:"responded_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (VisitProposal) TableName() string { return "maintenance_visit_proposals" }

type VisitInput struct {
	ScheduledAt     time.Time
	DurationMinutes int
	Notes           string
}

// VisitResponse answers an open proposal: accept it, or reject it with
// Counter as the new proposal.
type VisitResponse struct {
	ProposalID uuid.UUID
	Accept     bool
	Counter    VisitInput
}

const visitRelations = RelAdmin | RelOwner | RelBroker | RelProvider

// ProposeVisit offers a visit date to the other party. Any open proposal
// is rejected. The job status does not change.
func (e *Engine) ProposeVisit(ctx context.Context, jobID uuid.UUID, actor Actor, in VisitInput) (v *VisitProposal, err error) {
	defer func() { e.observe("propose_visit", jobID, actor, err) }()

	cur, acc, err := e.load(ctx, jobID, actor, visitRelations)
	if err != nil {
		return nil, err
	}
	if err := schedulable(cur); err != nil {
		return nil, err
	}
	if err := e.validVisit(in); err != nil {
		return nil, err
	}
	existing, err := e.store.Visits(ctx, jobID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var changed []VisitProposal
	for _, p := range existing {
		if p.Status == VisitProposed {
			e.respond(&p, actor, VisitRejected, now)
			changed = append(changed, p)
		}
	}
	side := sideOf(acc.Relations)
	p := e.newVisit(cur.ID, actor, side, in)
	changed = append(changed, p)

	next := cur.clone()
	notes := []Note{e.note(actor, NoteVisit, fmt.Sprintf("Visit proposed for %s", formatVisit(p)))}
	box := e.outbox(next)
	box.skip(actor.UserID)
	e.notifyOtherSide(box, acc, side, NotifyVisitProposed, "Visit date proposed",
		fmt.Sprintf("A visit for %q was proposed for %s", next.Title, formatVisit(p)))
	if _, err := e.commit(ctx, cur, next, notes, box, changed...); err != nil {
		return nil, err
	}
	return &p, nil
}

// RespondVisit accepts or counters an open proposal made by the other
// party. Accepting sets the job's scheduled date. It returns the accepted
// proposal or the counter proposal.
func (e *Engine) RespondVisit(ctx context.Context, jobID uuid.UUID, actor Actor, in VisitResponse) (v *VisitProposal, err error) {
	defer func() { e.observe("respond_visit", jobID, actor, err) }()

	cur, acc, err := e.load(ctx, jobID, actor, visitRelations)
	if err != nil {
		return nil, err
	}
	if err := schedulable(cur); err != nil {
		return nil, err
	}
	existing, err := e.store.Visits(ctx, jobID)
	if err != nil {
		return nil, err
	}
	var prop *VisitProposal
	for i := range existing {
		if existing[i].ID == in.ProposalID {
			prop = &existing[i]
		}
	}
	if prop == nil {
		return nil, fmt.Errorf("%w: visit proposal %s on job %s", ErrNotFound, in.ProposalID, jobID)
	}
	if prop.Status != VisitProposed {
		return nil, fmt.Errorf("%w: visit proposal %s is %s", ErrInvalidState, prop.ID, prop.Status)
	}
	side := sideOf(acc.Relations)
	if side == prop.Side {
		return nil, fmt.Errorf("%w: %s proposal %s must be answered by the other party", ErrForbidden, strings.ToLower(string(prop.Side)), prop.ID)
	}
	if !in.Accept {
		if err := e.validVisit(in.Counter); err != nil {
			return nil, err
		}
	}

	now := e.now()
	next := cur.clone()
	box := e.outbox(next)
	box.skip(actor.UserID)

	if in.Accept {
		e.respond(prop, actor, VisitAccepted, now)
		at := prop.ScheduledAt
		next.ScheduledDate = &at

		notes := []Note{e.note(actor, NoteVisit, fmt.Sprintf("Visit accepted for %s", formatVisit(*prop)))}
		e.notifyOtherSide(box, acc, side, NotifyVisitAccepted, "Visit date confirmed",
			fmt.Sprintf("The visit for %q is confirmed for %s", next.Title, formatVisit(*prop)))
		if _, err := e.commit(ctx, cur, next, notes, box, *prop); err != nil {
			return nil, err
		}
		return prop, nil
	}

	e.respond(prop, actor, VisitRejected, now)
	counter := e.newVisit(cur.ID, actor, side, in.Counter)
	notes := []Note{e.note(actor, NoteVisit, fmt.Sprintf("Visit for %s declined, counter-proposed %s",
		formatVisit(*prop), formatVisit(counter)))}
	e.notifyOtherSide(box, acc, side, NotifyVisitProposed, "New visit date proposed",
		fmt.Sprintf("A new visit date for %q was proposed: %s", next.Title, formatVisit(counter)))
	if _, err := e.commit(ctx, cur, next, notes, box, *prop, counter); err != nil {
		return nil, err
	}
	return &counter, nil
}

// Visits lists the job's visit proposals, oldest first.
func (e *Engine) Visits(ctx context.Context, jobID uuid.UUID, actor Actor) ([]VisitProposal, error) {
	if _, _, err := e.load(ctx, jobID, actor, anyRelation); err != nil {
		return nil, err
	}
	return e.store.Visits(ctx, jobID)
}

// schedulable requires a bound provider and unfinished work.
func schedulable(j *Job) error {
	switch j.Status {
	case StatusQuotePending, StatusQuoteApproved, StatusAssigned:
		if j.ProviderID != nil {
			return nil
		}
	}
	return fmt.Errorf("%w: job %s is %s, visits need a bound provider", ErrInvalidState, j.ID, j.Status)
}

func (e *Engine) validVisit(in VisitInput) error {
	if !in.ScheduledAt.After(e.now()) {
		return fmt.Errorf("%w: visit date must be in the future", ErrInvalidInput)
	}
	if in.DurationMinutes < 0 {
		return fmt.Errorf("%w: visit duration must not be negative", ErrInvalidInput)
	}
	return nil
}

func (e *Engine) newVisit(jobID uuid.UUID, actor Actor, side VisitSide, in VisitInput) VisitProposal {
	now := e.now()
	return VisitProposal{
		ID:              uuid.New(),
		JobID:           jobID,
		ProposedBy:      actor.UserID,
		Side:            side,
		ScheduledAt:     in.ScheduledAt.UTC(),
		DurationMinutes: in.DurationMinutes,
		Notes:           strings.TrimSpace(in.Notes),
		Status:          VisitProposed,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (e *Engine) respond(p *VisitProposal, actor Actor, status VisitStatus, at time.Time) {
	uid := actor.UserID
	p.Status = status
	p.RespondedBy = &uid
	p.RespondedAt = &at
	p.UpdatedAt = at
}

// sideOf places a provider user on the provider side unless they also
// manage the property.
func sideOf(rel Relation) VisitSide {
	if rel.Has(RelProvider) && !rel.Has(RelAdmin|RelOwner|RelBroker) {
		return SideProvider
	}
	return SideManagement
}

// notifyOtherSide tells the party opposite to from.
func (e *Engine) notifyOtherSide(box *outbox, acc *Access, from VisitSide, typ, title, msg string) {
	if from == SideProvider {
		box.notify(acc.Property.OwnerID, typ, title, msg)
		for _, b := range acc.Property.BrokerIDs {
			box.notify(b, typ, title, msg)
		}
		return
	}
	if acc.Provider != nil {
		box.notify(acc.Provider.UserID, typ, title, msg)
	}
}

func formatVisit(p VisitProposal) string {
	s := p.ScheduledAt.UTC().Format(time.RFC3339)
	if p.DurationMinutes > 0 {
		s += fmt.Sprintf(" (%d min)", p.DurationMinutes)
	}
	return s
}
