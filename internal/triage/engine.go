package triage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/reviewqueue/internal/status"
)

// Skip reasons reported when a transition is ignored.
const (
	SkipActionsDisabled = "actions disabled"
	SkipCatalog         = "catalog unavailable"
	SkipUnknownStatus   = "unknown status"
	SkipNoTransition    = "no transition"
	SkipUnknownTarget   = "unknown target"
)

// TransitionResult is the outcome of a transition attempt. A skipped attempt
// issued no write.
type TransitionResult struct {
	Skipped bool
	Reason  string
	From    status.Status
	To      status.Status
	Request *ServiceRequest
}

// TransitionEvent is reported after every issued write.
type TransitionEvent struct {
	RequestID string
	From      string
	To        string
	Duration  float64
	Err       error
}

// EngineHooks are optional callbacks for instrumentation.
type EngineHooks struct {
	OnTransition func(e *TransitionEvent)
	OnSkip       func(reason string)
}

// Engine computes forward moves for a request and issues the status update.
// At most one write is in flight per Engine; attempts made while one is
// pending are skipped.
type Engine struct {
	store   Updater
	catalog *status.Catalog
	logger  log.Logger
	hooks   EngineHooks
	busy    atomic.Bool
}

// NewEngine creates a transition engine.
func NewEngine(store Updater, catalog *status.Catalog, logger log.Logger, hooks ...EngineHooks) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	var h EngineHooks
	if len(hooks) > 0 {
		h = hooks[0]
	}
	return &Engine{
		store:   store,
		catalog: catalog,
		logger:  logger,
		hooks:   h,
	}
}

// ActionsDisabled reports whether a write is pending.
func (e *Engine) ActionsDisabled() bool {
	return e.busy.Load()
}

func (e *Engine) skip(ctx context.Context, req *ServiceRequest, reason string) (TransitionResult, error) {
	e.logger.Info(ctx, "transition skipped", "request_id", req.ID, "status_id", req.StatusID, "reason", reason)
	if e.hooks.OnSkip != nil {
		e.hooks.OnSkip(reason)
	}
	return TransitionResult{Skipped: true, Reason: reason}, nil
}

// Transition moves req one step forward along order. Unknown or stale statuses
// and attempts made while another write is pending are ignored without error.
// Only a failed write returns an error.
func (e *Engine) Transition(ctx context.Context, req *ServiceRequest, order Order) (TransitionResult, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return e.skip(ctx, req, SkipActionsDisabled)
	}
	defer e.busy.Store(false)

	from, ok, err := e.catalog.ByID(ctx, req.StatusID)
	if err != nil {
		return e.skip(ctx, req, SkipCatalog)
	}
	if !ok {
		return e.skip(ctx, req, SkipUnknownStatus)
	}

	targetSlug, ok := Next(from.Slug, order)
	if !ok {
		return e.skip(ctx, req, SkipNoTransition)
	}

	to, ok, err := e.catalog.BySlug(ctx, targetSlug)
	if err != nil {
		return e.skip(ctx, req, SkipCatalog)
	}
	if !ok {
		return e.skip(ctx, req, SkipUnknownTarget)
	}

	// the write outlives the view that triggered it
	wctx := context.WithoutCancel(ctx)
	start := time.Now()
	updated, err := e.store.UpdateServiceRequest(wctx, req.ID, Patch{StatusID: &to.ID})
	ev := &TransitionEvent{
		RequestID: req.ID,
		From:      from.Slug,
		To:        to.Slug,
		Duration:  time.Since(start).Seconds(),
		Err:       err,
	}
	if e.hooks.OnTransition != nil {
		e.hooks.OnTransition(ev)
	}
	if err != nil {
		e.logger.Error(ctx, err, "transition write failed", "request_id", req.ID, "from", from.Slug, "to", to.Slug)
		return TransitionResult{From: from, To: to}, fmt.Errorf("update service request %s: %w", req.ID, err)
	}

	e.logger.Info(ctx, "transition applied", "request_id", req.ID, "from", from.Slug, "to", to.Slug, "duration", ev.Duration)
	return TransitionResult{From: from, To: to, Request: updated}, nil
}
