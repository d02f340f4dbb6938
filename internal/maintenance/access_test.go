package maintenance

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.seed(StatusAssigned)
	r := NewResolver(f.dir)

	tests := []struct {
		name  string
		actor Actor
		want  Relation
	}{
		{"admin", f.admin, RelAdmin},
		{"owner", f.owner, RelOwner},
		{"managing broker", f.broker, RelBroker},
		{"direct broker", f.directBroker, RelBroker},
		{"requester", f.tenant, RelRequester},
		{"provider", f.providerUser, RelProvider},
		{"stranger", f.stranger, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc, err := r.Resolve(ctx, tt.actor, job)
			require.NoError(t, err)
			assert.Equal(t, tt.want, acc.Relations)
			assert.Equal(t, f.property.ID, acc.Property.ID)
			require.NotNil(t, acc.Provider)
			assert.Equal(t, f.provider.ID, acc.Provider.ID)
		})
	}
}

func TestResolverCombinesRelations(t *testing.T) {
	f := newFixture(t)
	// owner filed the request and is an admin
	job := f.seed(StatusPending, func(j *Job) {
		j.RequestedBy = f.owner.UserID
		j.ProviderID = nil
	})

	acc, err := NewResolver(f.dir).Resolve(context.Background(), Actor{UserID: f.owner.UserID, Admin: true}, job)
	require.NoError(t, err)
	assert.Equal(t, RelAdmin|RelOwner|RelRequester, acc.Relations)
	assert.Nil(t, acc.Provider)
	assert.Equal(t, "admin|owner|requester", acc.Relations.String())
}

func TestResolverMissingProperty(t *testing.T) {
	f := newFixture(t)
	job := f.seed(StatusPending, func(j *Job) { j.PropertyID = uuid.New() })

	_, err := NewResolver(f.dir).Resolve(context.Background(), f.owner, job)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolverIgnoresVanishedProvider(t *testing.T) {
	f := newFixture(t)
	job := f.seed(StatusAssigned, func(j *Job) {
		id := uuid.New()
		j.ProviderID = &id
	})

	acc, err := NewResolver(f.dir).Resolve(context.Background(), f.providerUser, job)
	require.NoError(t, err)
	assert.Equal(t, Relation(0), acc.Relations)
	assert.Equal(t, "none", acc.Relations.String())
}

func TestRelationHas(t *testing.T) {
	r := RelOwner | RelRequester
	assert.True(t, r.Has(RelOwner))
	assert.True(t, r.Has(RelAdmin|RelRequester))
	assert.False(t, r.Has(RelBroker|RelProvider))
}

func TestProviderAssignable(t *testing.T) {
	assert.True(t, (&Provider{IsVerified: true, Status: ProviderActive}).Assignable())
	assert.True(t, (&Provider{IsVerified: true, Status: "available"}).Assignable())
	assert.False(t, (&Provider{IsVerified: false, Status: ProviderActive}).Assignable())
	assert.False(t, (&Provider{IsVerified: true, Status: ProviderBusy}).Assignable())
}
