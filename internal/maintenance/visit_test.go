package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *memStore) visitsOf(t *testing.T, jobID uuid.UUID) []VisitProposal {
	t.Helper()
	v, err := s.Visits(context.Background(), jobID)
	require.NoError(t, err)
	return v
}

func recipients(ns []NotifyPayload, typ string) []uuid.UUID {
	var out []uuid.UUID
	for _, n := range ns {
		if n.Type == typ {
			out = append(out, n.UserID)
		}
	}
	return out
}

func TestProposeVisit(t *testing.T) {
	ctx := context.Background()

	t.Run("provider proposes to management", func(t *testing.T) {
		f := newFixture(t)
		job := f.seed(StatusAssigned)
		at := f.now.Add(26 * time.Hour)

		v, err := f.engine.ProposeVisit(ctx, job.ID, f.providerUser, VisitInput{ScheduledAt: at, DurationMinutes: 60, Notes: " bring ladder "})
		require.NoError(t, err)
		assert.Equal(t, VisitProposed, v.Status)
		assert.Equal(t, SideProvider, v.Side)
		assert.Equal(t, "bring ladder", v.Notes)
		assert.True(t, at.Equal(v.ScheduledAt))

		got := f.store.job(t, job.ID)
		assert.Equal(t, StatusAssigned, got.Status)
		assert.Equal(t, job.Version+1, got.Version)
		assert.Nil(t, got.ScheduledDate)

		assert.ElementsMatch(t,
			[]uuid.UUID{f.owner.UserID, f.broker.UserID, f.directBroker.UserID},
			recipients(f.store.notifications(t), NotifyVisitProposed))

		notes, err := f.store.Notes(ctx, job.ID)
		require.NoError(t, err)
		require.Len(t, notes, 1)
		assert.Equal(t, NoteVisit, notes[0].Kind)
		assert.Contains(t, notes[0].Message, "2026-03-15T11:30:00Z (60 min)")
		assert.Equal(t, 1, f.recorder.counts["propose_visit:ok"])
	})

	t.Run("new proposal supersedes the open one", func(t *testing.T) {
		f := newFixture(t)
		job := f.seed(StatusQuotePending)

		first, err := f.engine.ProposeVisit(ctx, job.ID, f.providerUser, VisitInput{ScheduledAt: f.now.Add(24 * time.Hour)})
		require.NoError(t, err)
		f.store.resetTasks()

		second, err := f.engine.ProposeVisit(ctx, job.ID, f.owner, VisitInput{ScheduledAt: f.now.Add(72 * time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, SideManagement, second.Side)

		visits := f.store.visitsOf(t, job.ID)
		require.Len(t, visits, 2)
		assert.Equal(t, first.ID, visits[0].ID)
		assert.Equal(t, VisitRejected, visits[0].Status)
		require.NotNil(t, visits[0].RespondedBy)
		assert.Equal(t, f.owner.UserID, *visits[0].RespondedBy)
		assert.Equal(t, VisitProposed, visits[1].Status)

		assert.Equal(t, []uuid.UUID{f.provider.UserID}, recipients(f.store.notifications(t), NotifyVisitProposed))
	})

	tests := []struct {
		name   string
		status Status
		mutate func(*Job)
		actor  func(f *fixture) Actor
		in     func(f *fixture) VisitInput
		want   error
	}{
		{
			name: "date in the past", status: StatusAssigned,
			actor: func(f *fixture) Actor { return f.providerUser },
			in:    func(f *fixture) VisitInput { return VisitInput{ScheduledAt: f.now.Add(-time.Minute)} },
			want:  ErrInvalidInput,
		},
		{
			name: "negative duration", status: StatusAssigned,
			actor: func(f *fixture) Actor { return f.owner },
			in: func(f *fixture) VisitInput {
				return VisitInput{ScheduledAt: f.now.Add(time.Hour), DurationMinutes: -5}
			},
			want: ErrInvalidInput,
		},
		{
			name: "no provider bound", status: StatusPending,
			mutate: func(j *Job) { j.ProviderID = nil },
			actor:  func(f *fixture) Actor { return f.owner },
			in:     func(f *fixture) VisitInput { return VisitInput{ScheduledAt: f.now.Add(time.Hour)} },
			want:   ErrInvalidState,
		},
		{
			name: "work already reported", status: StatusPendingConfirmation,
			actor: func(f *fixture) Actor { return f.providerUser },
			in:    func(f *fixture) VisitInput { return VisitInput{ScheduledAt: f.now.Add(time.Hour)} },
			want:  ErrInvalidState,
		},
		{
			name: "requester cannot schedule", status: StatusAssigned,
			actor: func(f *fixture) Actor { return f.tenant },
			in:    func(f *fixture) VisitInput { return VisitInput{ScheduledAt: f.now.Add(time.Hour)} },
			want:  ErrForbidden,
		},
		{
			name: "stranger cannot schedule", status: StatusAssigned,
			actor: func(f *fixture) Actor { return f.stranger },
			in:    func(f *fixture) VisitInput { return VisitInput{ScheduledAt: f.now.Add(time.Hour)} },
			want:  ErrForbidden,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var mutate []func(*Job)
			if tt.mutate != nil {
				mutate = append(mutate, tt.mutate)
			}
			job := f.seed(tt.status, mutate...)

			_, err := f.engine.ProposeVisit(ctx, job.ID, tt.actor(f), tt.in(f))
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, job.Version, f.store.job(t, job.ID).Version)
			assert.Empty(t, f.store.visitsOf(t, job.ID))
			assert.Empty(t, f.store.notifications(t))
		})
	}
}

func TestRespondVisit(t *testing.T) {
	ctx := context.Background()

	propose := func(t *testing.T, f *fixture, job *Job, by Actor) *VisitProposal {
		t.Helper()
		v, err := f.engine.ProposeVisit(ctx, job.ID, by, VisitInput{ScheduledAt: f.now.Add(48 * time.Hour), DurationMinutes: 30})
		require.NoError(t, err)
		f.store.resetTasks()
		return v
	}

	t.Run("owner accepts provider proposal", func(t *testing.T) {
		f := newFixture(t)
		job := f.seed(StatusAssigned)
		v := propose(t, f, job, f.providerUser)

		got, err := f.engine.RespondVisit(ctx, job.ID, f.owner, VisitResponse{ProposalID: v.ID, Accept: true})
		require.NoError(t, err)
		assert.Equal(t, VisitAccepted, got.Status)
		require.NotNil(t, got.RespondedAt)

		stored := f.store.job(t, job.ID)
		assert.Equal(t, StatusAssigned, stored.Status)
		require.NotNil(t, stored.ScheduledDate)
		assert.True(t, v.ScheduledAt.Equal(*stored.ScheduledDate))
		assert.Equal(t, job.Version+2, stored.Version)

		assert.Equal(t, []uuid.UUID{f.provider.UserID}, recipients(f.store.notifications(t), NotifyVisitAccepted))
		assert.Equal(t, VisitAccepted, f.store.visitsOf(t, job.ID)[0].Status)
	})

	t.Run("provider accepts management proposal", func(t *testing.T) {
		f := newFixture(t)
		job := f.seed(StatusQuoteApproved)
		v := propose(t, f, job, f.broker)

		_, err := f.engine.RespondVisit(ctx, job.ID, f.providerUser, VisitResponse{ProposalID: v.ID, Accept: true})
		require.NoError(t, err)
		assert.ElementsMatch(t,
			[]uuid.UUID{f.owner.UserID, f.broker.UserID, f.directBroker.UserID},
			recipients(f.store.notifications(t), NotifyVisitAccepted))
	})

	t.Run("provider counters", func(t *testing.T) {
		f := newFixture(t)
		job := f.seed(StatusAssigned)
		v := propose(t, f, job, f.owner)
		later := f.now.Add(96 * time.Hour)

		counter, err := f.engine.RespondVisit(ctx, job.ID, f.providerUser, VisitResponse{
			ProposalID: v.ID,
			Counter:    VisitInput{ScheduledAt: later, DurationMinutes: 45},
		})
		require.NoError(t, err)
		assert.Equal(t, VisitProposed, counter.Status)
		assert.Equal(t, SideProvider, counter.Side)
		assert.True(t, later.Equal(counter.ScheduledAt))

		visits := f.store.visitsOf(t, job.ID)
		require.Len(t, visits, 2)
		assert.Equal(t, VisitRejected, visits[0].Status)
		assert.Equal(t, counter.ID, visits[1].ID)
		assert.Nil(t, f.store.job(t, job.ID).ScheduledDate)
		assert.Len(t, recipients(f.store.notifications(t), NotifyVisitProposed), 3)
	})

	t.Run("proposer cannot answer own proposal", func(t *testing.T) {
		f := newFixture(t)
		job := f.seed(StatusAssigned)
		v := propose(t, f, job, f.providerUser)

		_, err := f.engine.RespondVisit(ctx, job.ID, f.providerUser, VisitResponse{ProposalID: v.ID, Accept: true})
		assert.ErrorIs(t, err, ErrForbidden)

		// broker and owner share a side
		v = propose(t, f, job, f.owner)
		_, err = f.engine.RespondVisit(ctx, job.ID, f.broker, VisitResponse{ProposalID: v.ID, Accept: true})
		assert.ErrorIs(t, err, ErrForbidden)
		assert.Nil(t, f.store.job(t, job.ID).ScheduledDate)
	})

	t.Run("answered proposal", func(t *testing.T) {
		f := newFixture(t)
		job := f.seed(StatusAssigned)
		v := propose(t, f, job, f.providerUser)
		_, err := f.engine.RespondVisit(ctx, job.ID, f.owner, VisitResponse{ProposalID: v.ID, Accept: true})
		require.NoError(t, err)

		_, err = f.engine.RespondVisit(ctx, job.ID, f.admin, VisitResponse{ProposalID: v.ID, Accept: true})
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("unknown proposal", func(t *testing.T) {
		f := newFixture(t)
		job := f.seed(StatusAssigned)
		other := f.seed(StatusAssigned)
		v := propose(t, f, other, f.providerUser)

		_, err := f.engine.RespondVisit(ctx, job.ID, f.owner, VisitResponse{ProposalID: v.ID, Accept: true})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("counter needs a valid date", func(t *testing.T) {
		f := newFixture(t)
		job := f.seed(StatusAssigned)
		v := propose(t, f, job, f.owner)

		_, err := f.engine.RespondVisit(ctx, job.ID, f.providerUser, VisitResponse{ProposalID: v.ID})
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, VisitProposed, f.store.visitsOf(t, job.ID)[0].Status)
	})

	t.Run("lost race leaves proposal open", func(t *testing.T) {
		f := newFixture(t)
		job := f.seed(StatusAssigned)
		v := propose(t, f, job, f.providerUser)

		// the job is cancelled between read and write
		f.store.beforeOp = func() {
			j := f.store.jobs[job.ID]
			j.Status = StatusCancelled
			j.Version++
		}
		_, err := f.engine.RespondVisit(ctx, job.ID, f.owner, VisitResponse{ProposalID: v.ID, Accept: true})
		assert.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, VisitProposed, f.store.visitsOf(t, job.ID)[0].Status)
		assert.Empty(t, f.store.notifications(t))
	})
}

func TestVisitsReadableByParties(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.seed(StatusAssigned)
	_, err := f.engine.ProposeVisit(ctx, job.ID, f.providerUser, VisitInput{ScheduledAt: f.now.Add(time.Hour)})
	require.NoError(t, err)

	got, err := f.engine.Visits(ctx, job.ID, f.tenant)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = f.engine.Visits(ctx, job.ID, f.stranger)
	assert.ErrorIs(t, err, ErrForbidden)
}
