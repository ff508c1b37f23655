// Package board is the review queue's board root. A Session owns one mounted
// board's filter, search input, sidebar, column cache, and editors, and the
// Orchestrator derives which columns to render and reads them in parallel.
package board

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/reviewqueue/internal/filter"
	"github.com/linnemanlabs/reviewqueue/internal/status"
	"github.com/linnemanlabs/reviewqueue/internal/triage"
)

// Viewport is the client layout class, fixed when the board mounts.
type Viewport string

const (
	ViewportWide   Viewport = "wide"
	ViewportNarrow Viewport = "narrow"
)

// ParseViewport validates a viewport. Empty means wide.
func ParseViewport(s string) (Viewport, error) {
	switch Viewport(s) {
	case "", ViewportWide:
		return ViewportWide, nil
	case ViewportNarrow:
		return ViewportNarrow, nil
	}
	return "", fmt.Errorf("unknown viewport %q", s)
}

// DefaultFetchConcurrency bounds parallel column reads per board.
const DefaultFetchConcurrency = 8

// VisibleStatuses picks the columns to render. Wide boards show every active
// status; narrow boards show only the selected status when one is set.
func VisibleStatuses(active []status.Status, vp Viewport, statusID string) []status.Status {
	if vp != ViewportNarrow || statusID == "" {
		return active
	}
	for _, s := range active {
		if s.ID == statusID {
			return []status.Status{s}
		}
	}
	return []status.Status{}
}

// ColumnQuery builds the list query for one column. Empty filters are left
// unset rather than sent as empty values.
func ColumnQuery(statusID string, fs filter.State) triage.ListQuery {
	q := triage.ListQuery{StatusIDs: []string{statusID}}
	if len(fs.MarketIDs) > 0 {
		q.MarketIDs = append([]string(nil), fs.MarketIDs...)
	}
	if fs.SearchTerm != "" {
		term := fs.SearchTerm
		q.SearchTerm = &term
	}
	return q
}

// columnResult is one column read. A nil Listings with Err set renders as loading.
type columnResult struct {
	Status   status.Status
	Listings []triage.Listing
	Err      error
}

// Orchestrator reads columns.
type Orchestrator struct {
	lister  triage.Lister
	logger  log.Logger
	metrics *triage.Metrics
	limit   int
}

// NewOrchestrator creates an Orchestrator. metrics may be nil.
func NewOrchestrator(lister triage.Lister, logger log.Logger, metrics *triage.Metrics, limit int) *Orchestrator {
	if logger == nil {
		logger = log.Nop()
	}
	if limit <= 0 {
		limit = DefaultFetchConcurrency
	}
	return &Orchestrator{lister: lister, logger: logger, metrics: metrics, limit: limit}
}

// Fetch reads one column.
func (o *Orchestrator) Fetch(ctx context.Context, st status.Status, fs filter.State) ([]triage.Listing, error) {
	start := time.Now()
	listings, err := o.lister.ListServiceRequests(ctx, ColumnQuery(st.ID, fs))
	if o.metrics != nil {
		o.metrics.ObserveFetch(time.Since(start).Seconds(), err)
	}
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Warn(ctx, "column read failed", "status", st.Slug, "status_id", st.ID, "error", err)
		}
		return nil, fmt.Errorf("list %s: %w", st.Slug, err)
	}
	return listings, nil
}

// FetchAll reads every column concurrently. A failed column never cancels or
// delays its siblings; results keep the order of statuses.
func (o *Orchestrator) FetchAll(ctx context.Context, statuses []status.Status, fs filter.State) []columnResult {
	out := make([]columnResult, len(statuses))
	var g errgroup.Group
	g.SetLimit(o.limit)
	for i, st := range statuses {
		g.Go(func() error {
			listings, err := o.Fetch(ctx, st, fs)
			out[i] = columnResult{Status: st, Listings: listings, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
