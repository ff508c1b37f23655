package postgres

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/go-core/log"
)

// recLogger keeps the messages it was asked to log.
type recLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recLogger) record(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func (l *recLogger) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.msgs...)
}

func (l *recLogger) With(...any) log.Logger                                 { return l }
func (l *recLogger) Debug(_ context.Context, msg string, _ ...any)          { l.record(msg) }
func (l *recLogger) Info(_ context.Context, msg string, _ ...any)           { l.record(msg) }
func (l *recLogger) Warn(_ context.Context, msg string, _ ...any)           { l.record(msg) }
func (l *recLogger) Error(_ context.Context, _ error, msg string, _ ...any) { l.record(msg) }
func (l *recLogger) Sync() error                                            { return nil }

type observed struct {
	method, route, outcome string
	dur                    time.Duration
}

func newTestTracer(slow time.Duration) (*queryTracer, *clockwork.FakeClock, *[]observed) {
	var (
		mu  sync.Mutex
		got []observed
	)
	tr := newQueryTracer(nil, Options{
		SlowQuery: slow,
		Observer: QueryObserverFunc(func(_ context.Context, method, route, outcome string, dur time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, observed{method, route, outcome, dur})
		}),
	})
	clock := clockwork.NewFakeClock()
	tr.clock = clock
	return tr, clock, &got
}

// runQuery drives one query through the tracer, advancing the clock by dur.
func runQuery(ctx context.Context, tr *queryTracer, clock *clockwork.FakeClock, dur time.Duration, err error) {
	qctx := tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 1", Args: []any{"sr-1"}})
	clock.Advance(dur)
	tr.TraceQueryEnd(qctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1"), Err: err})
}

func TestShortFunc(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/reviewqueue/internal/triage/pgstore.(*Store).ListServiceRequests", "(*Store).ListServiceRequests"},
		{"board session", "github.com/linnemanlabs/reviewqueue/internal/board.(*Session).Board.func1", "(*Session).Board.func1"},
		{"receiver only", "(*Store).Get", "Get"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"trailing dot", "pgstore.", "pgstore."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := shortFunc(tt.in); got != tt.want {
				t.Errorf("shortFunc(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestQueryTracer_SlowThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		slow    time.Duration
		dur     time.Duration
		err     error
		wantLog string
	}{
		{"zero threshold logs every query", 0, time.Millisecond, nil, "slow db query"},
		{"fast query is quiet", 100 * time.Millisecond, 10 * time.Millisecond, nil, ""},
		{"slow query is logged", 100 * time.Millisecond, 150 * time.Millisecond, nil, "slow db query"},
		{"fast failure is logged", 100 * time.Millisecond, time.Millisecond, errors.New("conn reset"), "db query failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr, clock, _ := newTestTracer(tt.slow)
			L := &recLogger{}
			runQuery(log.WithContext(context.Background(), L), tr, clock, tt.dur, tt.err)

			msgs := L.messages()
			if tt.wantLog == "" {
				if len(msgs) != 0 {
					t.Errorf("logged %q, want nothing", msgs)
				}
				return
			}
			if len(msgs) != 1 || msgs[0] != tt.wantLog {
				t.Errorf("logged %q, want [%q]", msgs, tt.wantLog)
			}
		})
	}
}

func TestQueryTracer_ObserverLabels(t *testing.T) {
	t.Parallel()

	tr, clock, got := newTestTracer(time.Hour)

	runQuery(context.Background(), tr, clock, 5*time.Millisecond, nil)

	r := chi.NewRouter()
	r.Use(RequestStats)
	r.Get("/api/v1/sessions/{sessionID}/board", func(w http.ResponseWriter, req *http.Request) {
		runQuery(req.Context(), tr, clock, 20*time.Millisecond, errors.New("boom"))
		w.WriteHeader(http.StatusOK)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/board", nil))

	want := []observed{
		{"none", "background", "ok", 5 * time.Millisecond},
		{http.MethodGet, "/api/v1/sessions/{sessionID}/board", "error", 20 * time.Millisecond},
	}
	if len(*got) != len(want) {
		t.Fatalf("observed %+v, want %+v", *got, want)
	}
	for i := range want {
		if (*got)[i] != want[i] {
			t.Errorf("observed[%d] = %+v, want %+v", i, (*got)[i], want[i])
		}
	}
}

func TestRequestStats_RecordsTotalsOnSpan(t *testing.T) {
	t.Parallel()

	tr, clock, _ := newTestTracer(time.Hour)
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	L := &recLogger{}

	h := RequestStats(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		// two columns read in parallel, one fails
		var wg sync.WaitGroup
		for _, err := range []error{nil, errors.New("timeout")} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				runQuery(req.Context(), tr, clock, 0, err)
			}()
		}
		wg.Wait()
		if s := StatsFromContext(req.Context()); s == nil || s.Queries() != 2 {
			t.Errorf("stats in handler = %+v, want 2 queries", s)
		}
		w.WriteHeader(http.StatusOK)
	}))

	ctx, span := tp.Tracer("test").Start(log.WithContext(context.Background(), L), "GET /board")
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/board", nil).WithContext(ctx))
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(ended))
	}
	attrs := map[string]int64{}
	for _, kv := range ended[0].Attributes() {
		if kv.Value.Type() == attribute.INT64 {
			attrs[string(kv.Key)] = kv.Value.AsInt64()
		}
	}
	if attrs["db.query_count"] != 2 || attrs["db.query_errors"] != 1 {
		t.Errorf("span attributes = %v, want 2 queries with 1 error", attrs)
	}

	var warned bool
	for _, m := range L.messages() {
		if m == "request had failed db queries" {
			warned = true
		}
	}
	if !warned {
		t.Errorf("log = %q, want failed query warning", L.messages())
	}
}

func TestRequestStats_NoQueriesLeavesSpanAlone(t *testing.T) {
	t.Parallel()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	h := RequestStats(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	ctx, span := tp.Tracer("test").Start(context.Background(), "GET /statuses")
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/statuses", nil).WithContext(ctx))
	span.End()

	if attrs := sr.Ended()[0].Attributes(); len(attrs) != 0 {
		t.Errorf("span attributes = %v, want none", attrs)
	}
}

func TestStatsFromContext_Missing(t *testing.T) {
	t.Parallel()

	if s := StatsFromContext(context.Background()); s != nil {
		t.Errorf("StatsFromContext = %+v, want nil", s)
	}
	// queries outside a request are not counted anywhere
	tr, clock, _ := newTestTracer(time.Hour)
	runQuery(context.Background(), tr, clock, time.Millisecond, nil)
}

func TestStats_Totals(t *testing.T) {
	t.Parallel()

	_, s := WithStats(context.Background())
	s.add(10*time.Millisecond, nil)
	s.add(20*time.Millisecond, errors.New("timeout"))
	s.add(5*time.Millisecond, nil)

	if s.Queries() != 3 {
		t.Errorf("Queries() = %d, want 3", s.Queries())
	}
	if s.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1", s.Failed())
	}
	if s.Total() != 35*time.Millisecond {
		t.Errorf("Total() = %v, want 35ms", s.Total())
	}
}

func TestNewPool_InvalidURL(t *testing.T) {
	t.Parallel()

	if _, err := NewPool(context.Background(), "://not a url", Options{}); err == nil {
		t.Fatal("expected error for invalid database url")
	}
}
