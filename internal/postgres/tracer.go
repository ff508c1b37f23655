package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// QueryObserver receives the duration of every query, labelled with the
// board API route that issued it.
type QueryObserver interface {
	ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, method, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration) {
	f(ctx, method, route, outcome, dur)
}

type pendingQueryKey struct{}

// pendingQuery carries a query from TraceQueryStart to TraceQueryEnd.
type pendingQuery struct {
	sql   string
	args  []any
	start time.Time
	site  callSite
}

// callSite names the store method issuing a query and the board code above it.
type callSite struct {
	store string
	board string
}

// queryTracer chains otelpgx, logs slow or failed queries, feeds the
// observer and adds to the request's Stats.
type queryTracer struct {
	inner    pgx.QueryTracer
	slow     time.Duration
	observer QueryObserver
	clock    clockwork.Clock
}

func newQueryTracer(inner pgx.QueryTracer, opts Options) *queryTracer {
	return &queryTracer{
		inner:    inner,
		slow:     opts.SlowQuery,
		observer: opts.Observer,
		clock:    clockwork.NewRealClock(),
	}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	pq := &pendingQuery{sql: data.SQL, args: data.Args, start: t.clock.Now(), site: findCallSite()}

	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		if pq.site.store != "" {
			span.SetAttributes(attribute.String("db.caller", pq.site.store))
		}
		if pq.site.board != "" {
			span.SetAttributes(attribute.String("db.handler", pq.site.board))
		}
	}
	return context.WithValue(ctx, pendingQueryKey{}, pq)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	pq, _ := ctx.Value(pendingQueryKey{}).(*pendingQuery)
	if pq == nil {
		return
	}
	dur := t.clock.Since(pq.start)

	if s := StatsFromContext(ctx); s != nil {
		s.add(dur, data.Err)
	}

	if t.observer != nil {
		outcome := "ok"
		if data.Err != nil {
			outcome = "error"
		}
		t.observer.ObserveQuery(ctx, methodLabel(ctx), routeLabel(ctx), outcome, dur)
	}

	if data.Err == nil && dur < t.slow {
		return
	}
	logQuery(ctx, pq, dur, data)
}

func logQuery(ctx context.Context, pq *pendingQuery, dur time.Duration, data pgx.TraceQueryEndData) {
	kv := []any{
		"db.statement", pq.sql,
		"db.args", pq.args,
		"db.duration", dur.Seconds(),
	}
	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		op, _, _ := strings.Cut(tag, " ")
		kv = append(kv, "db.operation.name", strings.ToUpper(op), "db.rows", data.CommandTag.RowsAffected())
	}
	if pq.site.store != "" {
		kv = append(kv, "db.caller", pq.site.store)
	}
	if pq.site.board != "" {
		kv = append(kv, "db.handler", pq.site.board)
	}

	L := log.FromContext(ctx)
	if data.Err == nil {
		L.Info(ctx, "slow db query", kv...)
		return
	}
	var pgErr *pgconn.PgError
	if errors.As(data.Err, &pgErr) {
		kv = append(kv, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
	}
	L.Error(ctx, data.Err, "db query failed", kv...)
}

type httpMethodKey struct{}

func withHTTPMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return context.WithValue(ctx, httpMethodKey{}, method)
}

func methodLabel(ctx context.Context) string {
	if m, ok := ctx.Value(httpMethodKey{}).(string); ok {
		return m
	}
	return "none"
}

// routeLabel is the chi pattern, e.g. /api/v1/sessions/{sessionID}/board.
// Background work such as catalog loads has no route.
func routeLabel(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "background"
}

// skipFrame reports frames that never name a useful call site.
func skipFrame(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") ||
		strings.Contains(fn, "github.com/jackc/pgx/v5") ||
		strings.Contains(fn, "github.com/exaring/otelpgx") ||
		strings.Contains(fn, "/internal/postgres.")
}

// storeHelper reports pgstore plumbing that sits between a store method and
// its caller.
func storeHelper(fn string) bool {
	return strings.Contains(fn, "/internal/triage/pgstore.startSpan") ||
		strings.Contains(fn, "/internal/triage/pgstore.scan")
}

func findCallSite() callSite {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var site callSite
	for {
		fr, more := frames.Next()
		switch {
		case skipFrame(fr.Function):
		case site.store == "":
			site.store = shortFunc(fr.Function)
		case storeHelper(fr.Function):
		default:
			site.board = shortFunc(fr.Function)
			return site
		}
		if !more {
			return site
		}
	}
}

// shortFunc trims the import path and package name, leaving the receiver
// and method.
func shortFunc(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		fn = fn[i+1:]
	}
	if _, rest, ok := strings.Cut(fn, "."); ok && rest != "" {
		return rest
	}
	return fn
}
