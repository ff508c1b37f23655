// Package status provides the fixed, ordered catalog of triage statuses and a
// session-cached accessor indexed by id and by slug.
package status

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Slugs understood by the transition rules.
const (
	SlugRequested          = "requested"
	SlugClinicalScreening  = "clinical_screening"
	SlugSecondaryScreening = "secondary_screening"
	SlugAccepted           = "accepted"
)

// Status is one triage stage. Immutable once fetched.
type Status struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Slug     string `json:"slug" yaml:"slug"`
	IsActive bool   `json:"isActive" yaml:"isActive"`
}

// Source lists statuses from the external catalog, in catalog order and
// including inactive entries.
type Source interface {
	ListStatuses(ctx context.Context) ([]Status, error)
}

// ErrDuplicateSlug is returned when the catalog contains the same slug twice.
var ErrDuplicateSlug = errors.New("status: duplicate slug in catalog")

// Catalog is a read-only view of the status list. The list is fetched at most
// once successfully; concurrent first callers share a single fetch that
// outlives any one caller's cancellation. Failed fetches are not cached.
type Catalog struct {
	src   Source
	group singleflight.Group

	mu     sync.RWMutex
	loaded bool
	all    []Status
	byID   map[string]Status
	bySlug map[string]Status
}

// NewCatalog creates a Catalog backed by src.
func NewCatalog(src Source) *Catalog {
	return &Catalog{src: src}
}

func (c *Catalog) load(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("statuses", func() (any, error) {
		list, err := c.src.ListStatuses(fetchCtx)
		if err != nil {
			return nil, fmt.Errorf("list statuses: %w", err)
		}

		byID := make(map[string]Status, len(list))
		bySlug := make(map[string]Status, len(list))
		for _, s := range list {
			if _, dup := bySlug[s.Slug]; dup {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateSlug, s.Slug)
			}
			byID[s.ID] = s
			bySlug[s.Slug] = s
		}

		c.mu.Lock()
		c.all = append([]Status(nil), list...)
		c.byID = byID
		c.bySlug = bySlug
		c.loaded = true
		c.mu.Unlock()
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// All returns every status in catalog order.
func (c *Catalog) All(ctx context.Context) ([]Status, error) {
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Status(nil), c.all...), nil
}

// Active returns the active statuses in catalog order.
func (c *Catalog) Active(ctx context.Context) ([]Status, error) {
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, s := range all {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

// ByID looks up a status by its opaque id.
func (c *Catalog) ByID(ctx context.Context, id string) (Status, bool, error) {
	if err := c.load(ctx); err != nil {
		return Status{}, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byID[id]
	return s, ok, nil
}

// BySlug looks up a status by slug.
func (c *Catalog) BySlug(ctx context.Context, slug string) (Status, bool, error) {
	if err := c.load(ctx); err != nil {
		return Status{}, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.bySlug[slug]
	return s, ok, nil
}
