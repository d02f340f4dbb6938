package maintenance

import (
	"context"
	"testing"
	"time"

	"rentflow/internal/db/dbtest"
	"rentflow/internal/tasks"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormStore(t *testing.T) {
	gdb := dbtest.Open(t, &Job{}, &Note{}, &tasks.Task{})
	s := &GormStore{DB: gdb}
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	job := &Job{
		ID:          uuid.New(),
		PropertyID:  uuid.New(),
		RequestedBy: uuid.New(),
		Title:       "Broken window",
		Category:    "glazing",
		Priority:    PriorityLow,
		Status:      StatusPending,
		Images:      []string{"https://cdn.example/1.jpg"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	created, err := tasks.New(job.ID, TaskNotify, NotifyPayload{JobID: job.ID}, 5)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, job, []Note{{Kind: NoteTransition, Message: "created", CreatedAt: now}}, []tasks.Task{created}))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, []string{"https://cdn.example/1.jpg"}, []string(got.Images))

	_, err = s.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	pid := uuid.New()
	next := got.clone()
	next.Status = StatusAssigned
	next.ProviderID = &pid
	next.Version = 1
	next.UpdatedAt = now.Add(time.Second)
	capture, err := CaptureTask(job.ID)
	require.NoError(t, err)

	require.NoError(t, s.Apply(ctx, Mutation{
		Expect:  StatusPending,
		Version: 0,
		Next:    next,
		Notes:   []Note{{Kind: NoteTransition, Message: "assigned", CreatedAt: now.Add(time.Second)}},
		Tasks:   []tasks.Task{capture},
	}))

	// replaying the same transition loses
	err = s.Apply(ctx, Mutation{Expect: StatusPending, Version: 0, Next: next})
	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, ErrInvalidState)

	got, err = s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, got.Status)
	assert.Equal(t, uint64(1), got.Version)
	require.NotNil(t, got.ProviderID)
	assert.Equal(t, pid, *got.ProviderID)

	require.NoError(t, s.AppendNote(ctx, Note{JobID: job.ID, Kind: NotePayment, Message: "captured", CreatedAt: now.Add(2 * time.Second)}))
	notes, err := s.Notes(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, notes, 3)
	assert.Equal(t, []string{"created", "assigned", "captured"}, []string{notes[0].Message, notes[1].Message, notes[2].Message})

	var n int64
	require.NoError(t, gdb.Model(&tasks.Task{}).Where("ref_id=?", job.ID).Count(&n).Error)
	assert.Equal(t, int64(2), n)
}

func TestGormStoreVisits(t *testing.T) {
	gdb := dbtest.Open(t, &Job{}, &Note{}, &VisitProposal{}, &tasks.Task{})
	s := &GormStore{DB: gdb}
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	pid := uuid.New()
	job := &Job{
		ID:          uuid.New(),
		PropertyID:  uuid.New(),
		RequestedBy: uuid.New(),
		ProviderID:  &pid,
		Title:       "Boiler service",
		Category:    "heating",
		Priority:    PriorityMedium,
		Status:      StatusAssigned,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.Create(ctx, job, nil, nil))

	first := VisitProposal{
		ID: uuid.New(), JobID: job.ID, ProposedBy: uuid.New(), Side: SideProvider,
		ScheduledAt: now.Add(48 * time.Hour), DurationMinutes: 90, Status: VisitProposed,
		CreatedAt: now, UpdatedAt: now,
	}
	next := job.clone()
	next.Version = 1
	require.NoError(t, s.Apply(ctx, Mutation{Expect: StatusAssigned, Version: 0, Next: next, Visits: []VisitProposal{first}}))

	by := uuid.New()
	at := now.Add(time.Minute)
	first.Status = VisitAccepted
	first.RespondedBy = &by
	first.RespondedAt = &at
	accepted := next.clone()
	accepted.Version = 2
	accepted.ScheduledDate = &first.ScheduledAt
	require.NoError(t, s.Apply(ctx, Mutation{Expect: StatusAssigned, Version: 1, Next: accepted, Visits: []VisitProposal{first}}))

	visits, err := s.Visits(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Equal(t, VisitAccepted, visits[0].Status)
	require.NotNil(t, visits[0].RespondedBy)
	assert.Equal(t, by, *visits[0].RespondedBy)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ScheduledDate)
	assert.True(t, first.ScheduledAt.Equal(*got.ScheduledDate))
	assert.Equal(t, StatusAssigned, got.Status)
}
