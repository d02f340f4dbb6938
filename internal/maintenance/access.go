package maintenance

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID uuid.UUID
	Admin  bool
}

// Relation is a set of ways an actor is connected to a job.
type Relation uint8

const (
	RelAdmin Relation = 1 << iota
	RelOwner
	RelBroker
	RelRequester
	RelProvider
)

func (r Relation) Has(mask Relation) bool { return r&mask != 0 }

func (r Relation) String() string {
	if r == 0 {
		return "none"
	}
	var parts []string
	for _, n := range []struct {
		rel  Relation
		name string
	}{
		{RelAdmin, "admin"},
		{RelOwner, "owner"},
		{RelBroker, "broker"},
		{RelRequester, "requester"},
		{RelProvider, "provider"},
	} {
		if r&n.rel != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Access is the result of resolving an actor against a job.
type Access struct {
	Relations Relation
	Property  *Property
	// Provider is the job's bound provider, when one is set.
	Provider *Provider
}

// Resolver computes how an actor relates to a job.
type Resolver interface {
	Resolve(ctx context.Context, actor Actor, job *Job) (*Access, error)
}

type directoryResolver struct {
	dir Directory
}

func NewResolver(dir Directory) Resolver {
	return &directoryResolver{dir: dir}
}

func (r *directoryResolver) Resolve(ctx context.Context, actor Actor, job *Job) (*Access, error) {
	prop, err := r.dir.Property(ctx, job.PropertyID)
	if err != nil {
		return nil, err
	}

	a := &Access{Property: prop}
	if actor.Admin {
		a.Relations |= RelAdmin
	}
	if prop.OwnerID == actor.UserID {
		a.Relations |= RelOwner
	}
	if prop.ManagedBy(actor.UserID) {
		a.Relations |= RelBroker
	}
	if job.RequestedBy == actor.UserID {
		a.Relations |= RelRequester
	}

	if job.ProviderID != nil {
		p, err := r.dir.Provider(ctx, *job.ProviderID)
		switch {
		case err == nil:
			a.Provider = p
			if p.UserID == actor.UserID {
				a.Relations |= RelProvider
			}
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
	}
	return a, nil
}
