package board

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/reviewqueue/internal/detail"
	"github.com/linnemanlabs/reviewqueue/internal/filter"
	"github.com/linnemanlabs/reviewqueue/internal/insurance"
	"github.com/linnemanlabs/reviewqueue/internal/sidebar"
	"github.com/linnemanlabs/reviewqueue/internal/status"
	"github.com/linnemanlabs/reviewqueue/internal/triage"
)

var (
	// ErrSessionNotFound is returned for unknown or expired session ids.
	ErrSessionNotFound = errors.New("board: session not found")
	// ErrClosed is returned by a session that has been unmounted.
	ErrClosed = errors.New("board: session closed")
	// ErrNoSelection is returned by Detail while the sidebar is closed.
	ErrNoSelection = errors.New("board: no request selected")
)

// Deps are the collaborators shared by every session.
type Deps struct {
	Store            triage.Store
	Logger           log.Logger
	Metrics          *triage.Metrics
	Clock            clockwork.Clock
	SearchDebounce   time.Duration
	FetchConcurrency int
}

// View is the rendered board.
type View struct {
	ID              string        `json:"id"`
	Viewport        Viewport      `json:"viewport"`
	Query           string        `json:"query"`
	Filter          filter.State  `json:"filter"`
	SearchDraft     string        `json:"searchDraft"`
	Markets         []detail.Chip `json:"markets"`
	Loading         bool          `json:"loading"`
	Columns         []Column      `json:"columns"`
	Sidebar         sidebar.State `json:"sidebar"`
	ActionsDisabled bool          `json:"actionsDisabled"`
}

// FilterView is the filter part of a View, returned by filter mutations.
type FilterView struct {
	Query       string       `json:"query"`
	Filter      filter.State `json:"filter"`
	SearchDraft string       `json:"searchDraft"`
}

// DetailView is the sidebar content: the panel plus the insurance editor of
// the selected request once it has loaded.
type DetailView struct {
	detail.Panel
	Insurance *insurance.View `json:"insurance,omitempty"`
}

type cachedColumn struct {
	key      string
	listings []triage.Listing
}

// Session is one mounted board.
type Session struct {
	id        string
	viewport  Viewport
	mountedAt time.Time
	store     triage.Store
	logger    log.Logger
	metrics   *triage.Metrics

	catalog *status.Catalog
	markets *detail.MarketDirectory
	filter  *filter.Filter
	search  *filter.SearchInput
	sidebar *sidebar.Sidebar
	orch    *Orchestrator
	engine  *triage.Engine
	loader  *detail.Loader
	owners  *detail.Owners

	insuranceObserver insurance.Observer

	// ctx is canceled on unmount; every read issued for this board derives from it.
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	closed       bool
	cache        map[string]cachedColumn
	gen          uint64
	observed     bool
	defaulted    bool
	editors      map[string]*insurance.Editor
	detailCtx    context.Context
	detailCancel context.CancelFunc
}

// NewSession mounts a board hydrated from query.
func NewSession(ctx context.Context, id, query string, vp Viewport, deps Deps) (*Session, error) {
	f, err := filter.New(query)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Nop()
	}
	logger = logger.With("session_id", id)

	var hooks triage.EngineHooks
	var observeInsurance insurance.Observer
	var observeOwner func(string, error)
	if deps.Metrics != nil {
		hooks = deps.Metrics.Hooks()
		observeInsurance = deps.Metrics.ObserveInsurance
		observeOwner = deps.Metrics.ObserveOwner
	}

	catalog := status.NewCatalog(deps.Store)
	markets := detail.NewMarketDirectory(deps.Store)
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	dctx, dcancel := context.WithCancel(sctx)

	s := &Session{
		id:           id,
		viewport:     vp,
		mountedAt:    time.Now(),
		store:        deps.Store,
		logger:       logger,
		metrics:      deps.Metrics,
		catalog:      catalog,
		markets:      markets,
		filter:       f,
		search:       filter.NewSearchInput(f, deps.Clock, deps.SearchDebounce),
		sidebar:      sidebar.New(),
		orch:         NewOrchestrator(deps.Store, logger, deps.Metrics, deps.FetchConcurrency),
		engine:       triage.NewEngine(deps.Store, catalog, logger, hooks),
		loader:       detail.NewLoader(deps.Store, catalog, markets, logger),
		owners:       detail.NewOwners(deps.Store, logger, observeOwner),
		ctx:          sctx,
		cancel:       cancel,
		cache:        make(map[string]cachedColumn),
		editors:      make(map[string]*insurance.Editor),
		detailCtx:    dctx,
		detailCancel: dcancel,

		insuranceObserver: observeInsurance,
	}
	f.OnChange(func(filter.State) { s.invalidateAll() })

	s.applyNarrowDefault(ctx)
	logger.Info(ctx, "board mounted", "viewport", vp, "query", f.Query())
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Viewport returns the layout class the board was mounted with.
func (s *Session) Viewport() Viewport { return s.viewport }

// Close unmounts the board: the debounce timer stops and in-flight reads are
// canceled. Writes already issued run to completion.
func (s *Session) Close() { s.unmount() }

// unmount closes the board and reports whether this call did so.
func (s *Session) unmount() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.mu.Unlock()

	s.search.Close()
	s.cancel()
	s.logger.Info(s.ctx, "board unmounted", "age_seconds", time.Since(s.mountedAt).Seconds())
	return true
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// readContext derives a context canceled by either the caller or unmount.
func readContext(ctx, owner context.Context) (context.Context, context.CancelFunc) {
	rctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(owner, cancel)
	return rctx, func() {
		stop()
		cancel()
	}
}

// applyNarrowDefault selects the first active status on a narrow board
// that has not yet shown any column. It runs at most once per mount and
// keeps an existing selection that names an active status.
func (s *Session) applyNarrowDefault(ctx context.Context) {
	if s.viewport != ViewportNarrow {
		return
	}
	s.mu.Lock()
	done := s.defaulted || s.observed
	s.mu.Unlock()
	if done {
		return
	}

	active, err := s.catalog.Active(ctx)
	if err != nil || len(active) == 0 {
		// retried on the next board read
		return
	}

	s.mu.Lock()
	if s.defaulted || s.observed {
		s.mu.Unlock()
		return
	}
	s.defaulted = true
	s.mu.Unlock()

	first := active[0]
	if s.filter.DefaultStatusID(first.ID, func(current string) bool {
		return slices.ContainsFunc(active, func(st status.Status) bool { return st.ID == current })
	}) {
		s.logger.Info(ctx, "defaulted status filter", "status_id", first.ID, "status", first.Slug)
	}
}

func filterKey(fs filter.State) string {
	return strings.Join(fs.MarketIDs, ",") + "\x00" + fs.SearchTerm
}

func (s *Session) invalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.cache)
	s.gen++
}

// invalidateRequest drops every cached column containing id, plus the
// columns named by statusIDs.
func (s *Session) invalidateRequest(id string, statusIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sid, col := range s.cache {
		if slices.Contains(statusIDs, sid) || slices.ContainsFunc(col.listings, func(l triage.Listing) bool {
			return l.ServiceRequest.ID == id
		}) {
			delete(s.cache, sid)
		}
	}
	s.gen++
}

// Board renders the board. Columns already read for the current filter are
// served from cache unless refresh is set; columns whose read fails render
// as loading without failing the board.
func (s *Session) Board(ctx context.Context, refresh bool) (View, error) {
	if s.isClosed() {
		return View{}, ErrClosed
	}
	s.applyNarrowDefault(ctx)

	rctx, done := readContext(ctx, s.ctx)
	defer done()

	fs := s.filter.State()
	sb := s.sidebar.State()
	v := View{
		ID:              s.id,
		Viewport:        s.viewport,
		Query:           s.filter.Query(),
		Filter:          fs,
		SearchDraft:     s.search.Draft(),
		Markets:         s.markets.Chips(rctx, fs.MarketIDs),
		Sidebar:         sb,
		ActionsDisabled: s.engine.ActionsDisabled(),
		Columns:         []Column{},
	}

	active, err := s.catalog.Active(rctx)
	if err != nil {
		if rctx.Err() == nil {
			s.logger.Warn(ctx, "status catalog unavailable", "error", err)
		}
		v.Loading = true
		return v, nil
	}
	visible := VisibleStatuses(active, s.viewport, fs.StatusID)
	key := filterKey(fs)

	s.mu.Lock()
	if refresh {
		clear(s.cache)
		s.gen++
	}
	gen := s.gen
	have := make(map[string][]triage.Listing, len(visible))
	var misses []status.Status
	for _, st := range visible {
		if col, ok := s.cache[st.ID]; ok && col.key == key {
			have[st.ID] = col.listings
			continue
		}
		misses = append(misses, st)
	}
	s.mu.Unlock()

	results := s.orch.FetchAll(rctx, misses, fs)

	s.mu.Lock()
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		have[r.Status.ID] = r.Listings
		if gen == s.gen && !s.closed {
			s.cache[r.Status.ID] = cachedColumn{key: key, listings: r.Listings}
		}
	}
	if len(have) > 0 {
		s.observed = true
	}
	s.mu.Unlock()

	selected := ""
	if sb.Phase != sidebar.PhaseClosed {
		selected = sb.SelectedID
	}
	for _, st := range visible {
		col := Column{Status: st, Cards: []Card{}}
		listings, ok := have[st.ID]
		if !ok {
			col.Loading = true
		}
		for _, l := range listings {
			col.Cards = append(col.Cards, NewCard(l, st, selected, v.ActionsDisabled))
		}
		v.Columns = append(v.Columns, col)
	}
	return v, nil
}

// lookupRequest finds the request in the column cache, falling back to a read.
func (s *Session) lookupRequest(ctx context.Context, id string) (*triage.ServiceRequest, error) {
	s.mu.Lock()
	for _, col := range s.cache {
		for _, l := range col.listings {
			if l.ServiceRequest.ID == id {
				r := l.ServiceRequest
				s.mu.Unlock()
				return &r, nil
			}
		}
	}
	s.mu.Unlock()

	rctx, done := readContext(ctx, s.ctx)
	defer done()
	d, ok, err := s.store.GetServiceRequest(rctx, id)
	if err != nil {
		return nil, fmt.Errorf("read request %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, triage.ErrNotFound)
	}
	r := d.ServiceRequest
	return &r, nil
}

// Transition moves a request one step along order. On a write, the columns
// holding the request and the target column are re-read on the next render.
func (s *Session) Transition(ctx context.Context, requestID string, order triage.Order) (triage.TransitionResult, error) {
	if s.isClosed() {
		return triage.TransitionResult{}, ErrClosed
	}
	req, err := s.lookupRequest(ctx, requestID)
	if err != nil {
		return triage.TransitionResult{}, err
	}
	res, err := s.engine.Transition(ctx, req, order)
	if err != nil || res.Skipped {
		return res, err
	}
	s.invalidateRequest(requestID, res.From.ID, res.To.ID)
	return res, nil
}

// ActionsDisabled reports whether a status write is pending on this board.
func (s *Session) ActionsDisabled() bool { return s.engine.ActionsDisabled() }

func (s *Session) filterView() FilterView {
	return FilterView{Query: s.filter.Query(), Filter: s.filter.State(), SearchDraft: s.search.Draft()}
}

// TypeSearch records a keystroke in the search box. The term is committed
// after the debounce delay.
func (s *Session) TypeSearch(text string) FilterView {
	s.search.Type(text)
	return s.filterView()
}

// FlushSearch commits the search draft immediately.
func (s *Session) FlushSearch() FilterView {
	s.search.Flush()
	return s.filterView()
}

// SetMarketIDs replaces the market selection.
func (s *Session) SetMarketIDs(ids []string) FilterView {
	s.filter.SetMarketIDs(ids)
	return s.filterView()
}

// AddMarketID adds one market to the selection.
func (s *Session) AddMarketID(id string) FilterView {
	s.filter.AddMarketID(id)
	return s.filterView()
}

// RemoveMarketID removes one market from the selection.
func (s *Session) RemoveMarketID(id string) FilterView {
	s.filter.RemoveMarketID(id)
	return s.filterView()
}

// SetStatusID replaces the single-status selection.
func (s *Session) SetStatusID(id string) FilterView {
	s.mu.Lock()
	s.defaulted = true
	s.mu.Unlock()
	s.filter.SetStatusID(id)
	return s.filterView()
}

// Filter returns the current filter.
func (s *Session) Filter() FilterView { return s.filterView() }
