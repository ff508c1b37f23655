package board

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/reviewqueue/internal/detail"
	"github.com/linnemanlabs/reviewqueue/internal/status"
	"github.com/linnemanlabs/reviewqueue/internal/triage"
)

// Options tune the registry. Zero values mean no idle expiry and no size cap.
type Options struct {
	SessionTTL  time.Duration
	MaxSessions int
}

// Registry owns the mounted boards. Sessions idle longer than the TTL, or
// pushed out by the size cap, are unmounted.
type Registry struct {
	deps     Deps
	logger   log.Logger
	sessions *expirable.LRU[string, *Session]

	// mu orders Get's idle refresh against Delete.
	mu sync.Mutex

	// shared lookups for the session-independent endpoints
	catalog *status.Catalog
	markets *detail.MarketDirectory
	owners  *detail.Owners
}

// NewRegistry creates an empty registry.
func NewRegistry(deps Deps, opts Options) *Registry {
	if deps.Logger == nil {
		deps.Logger = log.Nop()
	}
	r := &Registry{
		deps:    deps,
		logger:  deps.Logger,
		catalog: status.NewCatalog(deps.Store),
		markets: detail.NewMarketDirectory(deps.Store),
		owners:  detail.NewOwners(deps.Store, deps.Logger, nil),
	}
	r.sessions = expirable.NewLRU[string, *Session](opts.MaxSessions, r.onEvict, opts.SessionTTL)
	return r
}

func (r *Registry) onEvict(_ string, s *Session) {
	if s.unmount() && r.deps.Metrics != nil {
		r.deps.Metrics.ActiveSessions.Dec()
	}
}

// Create mounts a new board hydrated from query.
func (r *Registry) Create(ctx context.Context, query string, vp Viewport) (*Session, error) {
	id := ulid.Make().String()
	s, err := NewSession(ctx, id, query, vp, r.deps)
	if err != nil {
		return nil, err
	}
	r.sessions.Add(id, s)
	if r.deps.Metrics != nil {
		r.deps.Metrics.ActiveSessions.Inc()
	}
	return s, nil
}

// Get returns a mounted board and resets its idle timer. A board that was
// unmounted while still listed is dropped and reported as not found.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions.Get(id)
	if ok && s.isClosed() {
		r.sessions.Remove(id)
		ok = false
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	r.sessions.Add(id, s)
	return s, nil
}

// Delete unmounts a board. It reports whether the board existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions.Remove(id)
}

// Len returns the number of mounted boards.
func (r *Registry) Len() int { return r.sessions.Len() }

// Close unmounts every board.
func (r *Registry) Close() {
	r.sessions.Purge()
}

// Statuses returns the full status catalog.
func (r *Registry) Statuses(ctx context.Context) ([]status.Status, error) {
	return r.catalog.All(ctx)
}

// Markets returns every market.
func (r *Registry) Markets(ctx context.Context) ([]triage.Market, error) {
	return r.markets.All(ctx)
}

// SearchUsers finds candidate owners.
func (r *Registry) SearchUsers(ctx context.Context, term string) ([]triage.User, error) {
	return r.owners.Search(ctx, term)
}
