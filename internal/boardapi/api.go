// Package boardapi exposes board sessions over a JSON HTTP API.
package boardapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/reviewqueue/internal/board"
	"github.com/linnemanlabs/reviewqueue/internal/detail"
	"github.com/linnemanlabs/reviewqueue/internal/insurance"
	"github.com/linnemanlabs/reviewqueue/internal/status"
	"github.com/linnemanlabs/reviewqueue/internal/triage"
)

// Sessions is the session registry surface the API needs.
type Sessions interface {
	Create(ctx context.Context, query string, vp board.Viewport) (*board.Session, error)
	Get(id string) (*board.Session, error)
	Delete(id string) bool
	Statuses(ctx context.Context) ([]status.Status, error)
	Markets(ctx context.Context) ([]triage.Market, error)
	SearchUsers(ctx context.Context, term string) ([]triage.User, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	sessions Sessions
}

// New creates a new API handler.
func New(logger log.Logger, sessions Sessions) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if sessions == nil {
		panic(xerrors.New("session registry is required"))
	}
	return &API{
		logger:   logger,
		sessions: sessions,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/statuses", a.handleStatuses)
		r.Get("/markets", a.handleMarkets)
		r.Get("/users", a.handleSearchUsers)
		r.Post("/sessions", a.handleMount)

		r.Route("/sessions/{sid}", func(r chi.Router) {
			r.Use(a.withSession)
			r.Delete("/", a.handleUnmount)
			r.Get("/board", a.handleBoard)

			r.Put("/filter/search", a.handleSearch)
			r.Put("/filter/markets", a.handleSetMarkets)
			r.Post("/filter/markets/{marketId}", a.handleAddMarket)
			r.Delete("/filter/markets/{marketId}", a.handleRemoveMarket)
			r.Put("/filter/status", a.handleSetStatus)

			r.Post("/sidebar/open", a.handleOpenSidebar)
			r.Post("/sidebar/close", a.handleCloseSidebar)
			r.Post("/sidebar/animation-end", a.handleAnimationEnd)
			r.Get("/detail", a.handleDetail)

			r.Route("/requests/{id}", func(r chi.Router) {
				r.Post("/transition", a.handleTransition)
				r.Put("/insurance/verified", a.handleSetVerified)
				r.Post("/insurance/cms/edit", a.handleStartCMSEdit)
				r.Put("/insurance/cms/draft", a.handleSetCMSDraft)
				r.Post("/insurance/cms/save", a.handleSaveCMS)
				r.Post("/insurance/cms/cancel", a.handleCancelCMSEdit)
				r.Put("/owner", a.handleAssignOwner)
				r.Delete("/owner", a.handleUnassignOwner)
			})
		})
	})
}

type sessionKey struct{}

// withSession resolves {sid} and stores the session on the request context.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := chi.URLParam(r, "sid")
		trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("reviewqueue.session.id", sid))

		s, err := a.sessions.Get(sid)
		if err != nil {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, s)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(r *http.Request) *board.Session {
	s, _ := r.Context().Value(sessionKey{}).(*board.Session)
	return s
}

// requestID reads {id} and tags the span with it.
func requestID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("reviewqueue.request.id", id))
	return id
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

// fail maps a session error onto a response. Anything unrecognized is an
// upstream failure of op.
func (a *API) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, board.ErrSessionNotFound), errors.Is(err, board.ErrClosed):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, triage.ErrNotFound):
		writeError(w, http.StatusNotFound, "request not found")
	case errors.Is(err, insurance.ErrBusy):
		writeError(w, http.StatusConflict, "update in flight")
	case errors.Is(err, insurance.ErrNotEditable):
		writeError(w, http.StatusConflict, "cms number not editable")
	case errors.Is(err, board.ErrNoSelection):
		writeError(w, http.StatusConflict, "no request selected")
	case errors.Is(err, detail.ErrEmptyUser):
		writeError(w, http.StatusBadRequest, "userId is required")
	default:
		a.logger.Error(r.Context(), err, "upstream call failed", "op", op)
		span := trace.SpanFromContext(r.Context())
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		writeError(w, http.StatusBadGateway, op+" failed")
	}
}
