package maintenance

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"rentflow/internal/tasks"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*Job
	notes    []Note
	tasks    []tasks.Task
	visits   []VisitProposal
	noteSeq  uint64
	beforeOp func() // runs inside Apply before the version check
}

func newMemStore() *memStore {
	return &memStore{jobs: map[uuid.UUID]*Job{}}
}

func (s *memStore) Create(_ context.Context, job *Job, notes []Note, ts []tasks.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("duplicate job %s", job.ID)
	}
	s.jobs[job.ID] = job.clone()
	s.addNotes(job.ID, notes)
	s.tasks = append(s.tasks, ts...)
	return nil
}

func (s *memStore) Get(_ context.Context, id uuid.UUID) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.clone(), nil
}

func (s *memStore) Notes(_ context.Context, id uuid.UUID) ([]Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Note
	for _, n := range s.notes {
		if n.JobID == id {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *memStore) Apply(_ context.Context, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beforeOp != nil {
		s.beforeOp()
	}
	cur, ok := s.jobs[m.Next.ID]
	if !ok || cur.Status != m.Expect || cur.Version != m.Version {
		return ErrConflict
	}
	s.jobs[m.Next.ID] = m.Next.clone()
	s.addNotes(m.Next.ID, m.Notes)
	s.tasks = append(s.tasks, m.Tasks...)
	for _, v := range m.Visits {
		s.putVisit(v)
	}
	return nil
}

func (s *memStore) putVisit(v VisitProposal) {
	for i := range s.visits {
		if s.visits[i].ID == v.ID {
			s.visits[i] = v
			return
		}
	}
	s.visits = append(s.visits, v)
}

func (s *memStore) Visits(_ context.Context, jobID uuid.UUID) ([]VisitProposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []VisitProposal
	for _, v := range s.visits {
		if v.JobID == jobID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *memStore) AppendNote(ctx context.Context, n Note) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addNotes(n.JobID, []Note{n})
	return nil
}

func (s *memStore) addNotes(jobID uuid.UUID, notes []Note) {
	for _, n := range notes {
		s.noteSeq++
		n.ID = s.noteSeq
		n.JobID = jobID
		s.notes = append(s.notes, n)
	}
}

func (s *memStore) put(j *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j.clone()
}

func (s *memStore) job(t *testing.T, id uuid.UUID) *Job {
	t.Helper()
	j, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return j
}

func (s *memStore) tasksOf(typ string) []tasks.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []tasks.Task
	for _, t := range s.tasks {
		if t.Type == typ {
			out = append(out, t)
		}
	}
	return out
}

func (s *memStore) notifications(t *testing.T) []NotifyPayload {
	t.Helper()
	var out []NotifyPayload
	for _, task := range s.tasksOf(TaskNotify) {
		var p NotifyPayload
		require.NoError(t, task.Decode(&p))
		out = append(out, p)
	}
	return out
}

func (s *memStore) resetTasks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = nil
}

type fakeDirectory struct {
	properties map[uuid.UUID]*Property
	providers  map[uuid.UUID]*Provider
	leases     map[[2]uuid.UUID]bool
}

func (d *fakeDirectory) Property(_ context.Context, id uuid.UUID) (*Property, error) {
	p, ok := d.properties[id]
	if !ok {
		return nil, fmt.Errorf("%w: property %s", ErrNotFound, id)
	}
	c := *p
	return &c, nil
}

func (d *fakeDirectory) Provider(_ context.Context, id uuid.UUID) (*Provider, error) {
	p, ok := d.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: provider %s", ErrNotFound, id)
	}
	c := *p
	return &c, nil
}

func (d *fakeDirectory) HasActiveLease(_ context.Context, propertyID, tenantID uuid.UUID) (bool, error) {
	return d.leases[[2]uuid.UUID{propertyID, tenantID}], nil
}

func (d *fakeDirectory) addProvider(verified bool, status ProviderStatus) *Provider {
	p := &Provider{ID: uuid.New(), UserID: uuid.New(), BusinessName: "Fix-It " + uuid.NewString()[:4], IsVerified: verified, Status: status}
	d.providers[p.ID] = p
	return p
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) ObserveTransition(op, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[op+":"+outcome]++
}

type fixture struct {
	store    *memStore
	dir      *fakeDirectory
	engine   *Engine
	recorder *countingRecorder
	now      time.Time

	property *Property
	provider *Provider

	admin, owner, broker, directBroker, tenant, providerUser, stranger Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:        newMemStore(),
		now:          time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		admin:        Actor{UserID: uuid.New(), Admin: true},
		owner:        Actor{UserID: uuid.New()},
		broker:       Actor{UserID: uuid.New()},
		directBroker: Actor{UserID: uuid.New()},
		tenant:       Actor{UserID: uuid.New()},
		stranger:     Actor{UserID: uuid.New()},
		recorder:     &countingRecorder{},
	}
	f.property = &Property{
		ID:        uuid.New(),
		Title:     "Depto Providencia 1203",
		OwnerID:   f.owner.UserID,
		BrokerIDs: []uuid.UUID{f.directBroker.UserID, f.broker.UserID},
	}
	f.dir = &fakeDirectory{
		properties: map[uuid.UUID]*Property{f.property.ID: f.property},
		providers:  map[uuid.UUID]*Provider{},
		leases:     map[[2]uuid.UUID]bool{{f.property.ID, f.tenant.UserID}: true},
	}
	f.provider = f.dir.addProvider(true, ProviderActive)
	f.providerUser = Actor{UserID: f.provider.UserID}

	log, _ := test.NewNullLogger()
	f.engine = NewEngine(f.store, f.dir, Config{
		Quoting:           QuotePolicy{RequiredCategories: []string{"plumbing", "electrical"}},
		NotifyMaxAttempts: 5,
	}, log).WithMetrics(f.recorder)
	f.engine.now = func() time.Time { return f.now }
	return f
}

// seed stores a job in the given status with the fixture's provider bound.
func (f *fixture) seed(status Status, mutate ...func(*Job)) *Job {
	est := int64(50000)
	pid := f.provider.ID
	j := &Job{
		ID:            uuid.New(),
		PropertyID:    f.property.ID,
		RequestedBy:   f.tenant.UserID,
		ProviderID:    &pid,
		Title:         "Leaking kitchen faucet",
		Category:      "plumbing",
		Priority:      PriorityMedium,
		Status:        status,
		QuoteRequired: false,
		EstimatedCost: &est,
		Images:        []string{"https://cdn.example/before.jpg"},
		Version:       3,
		CreatedAt:     f.now.Add(-48 * time.Hour),
		UpdatedAt:     f.now.Add(-time.Hour),
	}
	for _, m := range mutate {
		m(j)
	}
	f.store.put(j)
	return j
}

func int64p(v int64) *int64 { return &v }
