package maintenance

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Job is a maintenance request. Costs are integer amounts in the smallest
// currency unit.
type Job struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	PropertyID  uuid.UUID  `gorm:"type:uuid;index;not null" json:"property_id"`
	RequestedBy uuid.UUID  `gorm:"type:uuid;index;not null" json:"requested_by"`
	ProviderID  *uuid.UUID `gorm:"column:maintenance_provider_id;type:uuid;index" json:"maintenance_provider_id"`

	Title       string   `gorm:"type:text;not null" json:"title"`
	Description string   `gorm:"type:text;not null;default:''" json:"description"`
	Category    string   `gorm:"type:text;index;not null" json:"category"`
	Priority    Priority `gorm:"type:text;not null;default:'MEDIUM'" json:"priority"`

	Status        Status `gorm:"type:text;index;not null;default:'PENDING'" json:"status"`
	QuoteRequired bool   `gorm:"not null;default:false" json:"quote_required"`

	EstimatedCost *int64 `json:"estimated_cost"`
	ActualCost    *int64 `json:"actual_cost"`

	Images pq.StringArray `gorm:"type:text[];not null;default:'{}'" json:"images"`

	ScheduledDate *time.Time `gorm:"type:timestamptz" json:"scheduled_date"`
	CompletedDate *time.Time `gorm:"type:timestamptz" json:"completed_date"`

	// Version increments on every transition and guards the conditional update.
	Version uint64 `gorm:"not null;default:0" json:"version"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Job) TableName() string { return "maintenance_jobs" }

// clone returns a copy that shares no slices with j.
func (j *Job) clone() *Job {
	c := *j
	c.Images = append(pq.StringArray{}, j.Images...)
	return &c
}

// cost is the amount owed for the job: the estimate, else the actual cost.
func (j *Job) cost() int64 {
	switch {
	case j.EstimatedCost != nil:
		return *j.EstimatedCost
	case j.ActualCost != nil:
		return *j.ActualCost
	}
	return 0
}

type NoteKind string

const (
	NoteTransition   NoteKind = "TRANSITION"
	NoteComment      NoteKind = "COMMENT"
	NotePayment      NoteKind = "PAYMENT"
	NoteNotification NoteKind = "NOTIFICATION"
	NoteVisit        NoteKind = "VISIT"
)

// Note is one append-only audit entry. ActorID is nil for system entries.
type Note struct {
	ID        uint64     `gorm:"primaryKey" json:"id"`
	JobID     uuid.UUID  `gorm:"type:uuid;index;not null" json:"job_id"`
	ActorID   *uuid.UUID `gorm:"type:uuid" json:"actor_id"`
	Kind      NoteKind   `gorm:"type:text;not null" json:"kind"`
	Message   string     `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time  `gorm:"index;not null" json:"created_at"`
}

func (Note) TableName() string { return "maintenance_notes" }
