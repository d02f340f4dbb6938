package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	StatusPending = "PENDING"
	StatusRunning = "RUNNING"
	StatusDone    = "DONE"
	StatusFailed  = "FAILED"
)

const DefaultMaxAttempts = 8

// Task is a unit of deferred work written in the same transaction as the
// domain change that produced it.
type Task struct {
	ID    uint64    `gorm:"primaryKey"`
	RefID uuid.UUID `gorm:"type:uuid;index;not null"` // maintenance job id

	Type    string         `gorm:"type:text;not null"`
	Payload datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'::jsonb"`

	RunAt  time.Time `gorm:"index;not null"`
	Status string    `gorm:"index;not null;default:'PENDING'"` // PENDING/RUNNING/DONE/FAILED

	Attempts    int `gorm:"not null;default:0"`
	MaxAttempts int `gorm:"not null;default:8"`

	LockedBy *string    `gorm:"type:text"`
	LockedAt *time.Time `gorm:"type:timestamptz"`

	LastError *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

// New builds a pending task due immediately. maxAttempts <= 0 falls back to
// DefaultMaxAttempts.
func New(refID uuid.UUID, typ string, payload any, maxAttempts int) (Task, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return Task{
		RefID:       refID,
		Type:        typ,
		Payload:     datatypes.JSON(b),
		RunAt:       time.Now(),
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
	}, nil
}

// Decode unmarshals the task payload into v.
func (t *Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", t.Type, err)
	}
	return nil
}
