package postgres

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// Stats totals the queries issued on behalf of one API request. Board
// columns are read concurrently, so the counters are atomic.
type Stats struct {
	queries atomic.Int64
	failed  atomic.Int64
	nanos   atomic.Int64
}

func (s *Stats) add(dur time.Duration, err error) {
	s.queries.Add(1)
	s.nanos.Add(int64(dur))
	if err != nil {
		s.failed.Add(1)
	}
}

// Queries is the number of queries run.
func (s *Stats) Queries() int64 { return s.queries.Load() }

// Failed is the number of queries that returned an error.
func (s *Stats) Failed() int64 { return s.failed.Load() }

// Total is the summed query time.
func (s *Stats) Total() time.Duration { return time.Duration(s.nanos.Load()) }

type statsKey struct{}

// WithStats attaches an empty Stats to ctx.
func WithStats(ctx context.Context) (context.Context, *Stats) {
	s := &Stats{}
	return context.WithValue(ctx, statsKey{}, s), s
}

// StatsFromContext returns the request's Stats, or nil.
func StatsFromContext(ctx context.Context) *Stats {
	s, _ := ctx.Value(statsKey{}).(*Stats)
	return s
}

// RequestStats labels queries with the request method and, once the
// handler returns, records the request's query totals on its span. Requests
// with failed queries also get a warning log line.
func RequestStats(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, stats := WithStats(withHTTPMethod(r.Context(), r.Method))
		next.ServeHTTP(w, r.WithContext(ctx))

		n := stats.Queries()
		if n == 0 {
			return
		}
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Int64("db.query_count", n),
			attribute.Int64("db.query_errors", stats.Failed()),
			attribute.Float64("db.query_seconds", stats.Total().Seconds()),
		)
		if failed := stats.Failed(); failed > 0 {
			log.FromContext(ctx).Warn(ctx, "request had failed db queries",
				"db.query_count", n,
				"db.query_errors", failed,
				"db.query_seconds", stats.Total().Seconds(),
			)
		}
	})
}
