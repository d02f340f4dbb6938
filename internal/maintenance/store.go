package maintenance

import (
	"context"
	"errors"

	"rentflow/internal/tasks"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Mutation is one transition: Next replaces the job only if it is still in
// status Expect at version Version. Notes, Tasks and Visits commit with it;
// Visits are upserted by id.
type Mutation struct {
	Expect  Status
	Version uint64
	Next    *Job
	Notes   []Note
	Tasks   []tasks.Task
	Visits  []VisitProposal
}

type Store interface {
	Create(ctx context.Context, job *Job, notes []Note, ts []tasks.Task) error
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	Notes(ctx context.Context, id uuid.UUID) ([]Note, error)
	// Apply returns ErrConflict when the job moved since it was read.
	Apply(ctx context.Context, m Mutation) error
	AppendNote(ctx context.Context, n Note) error
	Visits(ctx context.Context, jobID uuid.UUID) ([]VisitProposal, error)
}

type GormStore struct {
	DB *gorm.DB
}

func (s *GormStore) Create(ctx context.Context, job *Job, notes []Note, ts []tasks.Task) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		if err := insertNotes(tx, job.ID, notes); err != nil {
			return err
		}
		// enqueue side effects using SAME tx
		return tasks.Enqueue(tx, ts...)
	})
}

func (s *GormStore) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	var j Job
	if err := s.DB.WithContext(ctx).Where("id=?", id).First(&j).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}

func (s *GormStore) Notes(ctx context.Context, id uuid.UUID) ([]Note, error) {
	var out []Note
	err := s.DB.WithContext(ctx).
		Where("job_id=?", id).
		Order("created_at asc, id asc").
		Find(&out).Error
	return out, err
}

func (s *GormStore) Apply(ctx context.Context, m Mutation) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		j := m.Next
		res := tx.Model(&Job{}).
			Where("id=? AND status=? AND version=?", j.ID, m.Expect, m.Version).
			Updates(map[string]any{
				"status":                  j.Status,
				"maintenance_provider_id": j.ProviderID,
				"estimated_cost":          j.EstimatedCost,
				"actual_cost":             j.ActualCost,
				"images":                  j.Images,
				"scheduled_date":          j.ScheduledDate,
				"completed_date":          j.CompletedDate,
				"version":                 j.Version,
				"updated_at":              j.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		if err := insertNotes(tx, j.ID, m.Notes); err != nil {
			return err
		}
		if len(m.Visits) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"status", "responded_by", "responded_at", "updated_at"}),
			}).Create(&m.Visits).Error; err != nil {
				return err
			}
		}
		return tasks.Enqueue(tx, m.Tasks...)
	})
}

func (s *GormStore) Visits(ctx context.Context, jobID uuid.UUID) ([]VisitProposal, error) {
	var out []VisitProposal
	err := s.DB.WithContext(ctx).
		Where("job_id=?", jobID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

func (s *GormStore) AppendNote(ctx context.Context, n Note) error {
	return s.DB.WithContext(ctx).Create(&n).Error
}

func insertNotes(tx *gorm.DB, jobID uuid.UUID, notes []Note) error {
	if len(notes) == 0 {
		return nil
	}
	for i := range notes {
		notes[i].JobID = jobID
	}
	return tx.Create(&notes).Error
}
