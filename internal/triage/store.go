package triage

import (
	"context"
	"errors"

	"github.com/linnemanlabs/reviewqueue/internal/status"
)

// ErrNotFound is returned by writes against a request the store does not know.
var ErrNotFound = errors.New("triage: service request not found")

// Lister reads column contents.
type Lister interface {
	ListServiceRequests(ctx context.Context, q ListQuery) ([]Listing, error)
}

// Updater issues partial updates against the canonical record.
type Updater interface {
	UpdateServiceRequest(ctx context.Context, id string, p Patch) (*ServiceRequest, error)
}

// Store is the external collaborator contract: everything the board reads
// from or writes to the system of record.
type Store interface {
	status.Source
	Lister
	Updater
	GetServiceRequest(ctx context.Context, id string) (*Detail, bool, error)
	GetServiceRequestNotes(ctx context.Context, id string) ([]Note, error)
	UnassignOwner(ctx context.Context, id string) error
	GetUser(ctx context.Context, id string) (*User, bool, error)
	SearchUsers(ctx context.Context, term string) ([]User, error)
	ListMarkets(ctx context.Context) ([]Market, error)
}
