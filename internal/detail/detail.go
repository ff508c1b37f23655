// Package detail loads the record shown in the detail sidebar and edits
// its ownership.
package detail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/reviewqueue/internal/status"
	"github.com/linnemanlabs/reviewqueue/internal/triage"
)

// Reader is the read side of the store used by the panel.
type Reader interface {
	GetServiceRequest(ctx context.Context, id string) (*triage.Detail, bool, error)
	GetServiceRequestNotes(ctx context.Context, id string) ([]triage.Note, error)
	GetUser(ctx context.Context, id string) (*triage.User, bool, error)
}

// Panel is everything the detail sidebar renders for one request. While
// Loading is set the other fields are zero and the panel shows a placeholder.
type Panel struct {
	RequestID   string                 `json:"requestId"`
	Loading     bool                   `json:"loading"`
	Request     *triage.ServiceRequest `json:"serviceRequest,omitempty"`
	Status      *status.Status         `json:"status,omitempty"`
	Patient     *triage.Patient        `json:"stationPatient,omitempty"`
	CareRequest *triage.CareRequest    `json:"stationCareRequest,omitempty"`
	NotesCount  *int                   `json:"notesCount,omitempty"`
	Owner       *triage.User           `json:"owner,omitempty"`
	Market      *triage.Market         `json:"market,omitempty"`
}

// Loader assembles Panels.
type Loader struct {
	store   Reader
	catalog *status.Catalog
	markets *MarketDirectory
	logger  log.Logger
}

// NewLoader creates a panel loader.
func NewLoader(store Reader, catalog *status.Catalog, markets *MarketDirectory, logger log.Logger) *Loader {
	if logger == nil {
		logger = log.Nop()
	}
	return &Loader{store: store, catalog: catalog, markets: markets, logger: logger}
}

// Load reads the request and its satellites. A failed primary read yields a
// Loading panel and no error; an id the store does not know returns
// triage.ErrNotFound. Satellite failures leave their field empty.
func (l *Loader) Load(ctx context.Context, id string) (Panel, error) {
	start := time.Now()
	p := Panel{RequestID: id}

	d, ok, err := l.store.GetServiceRequest(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Warn(ctx, "detail read failed", "request_id", id, "error", err)
		}
		p.Loading = true
		return p, nil
	}
	if !ok {
		return p, fmt.Errorf("detail %s: %w", id, triage.ErrNotFound)
	}

	req := d.ServiceRequest
	p.Request = &req
	p.Patient = d.Patient
	p.CareRequest = d.CareRequest

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		notes, err := l.store.GetServiceRequestNotes(gctx, id)
		if err != nil {
			l.logger.Warn(ctx, "notes read failed", "request_id", id, "error", err)
			return nil
		}
		n := len(notes)
		p.NotesCount = &n
		return nil
	})
	if req.AssignedUserID != nil {
		uid := *req.AssignedUserID
		g.Go(func() error {
			u, ok, err := l.store.GetUser(gctx, uid)
			switch {
			case err != nil:
				l.logger.Warn(ctx, "owner read failed", "request_id", id, "user_id", uid, "error", err)
			case ok:
				p.Owner = u
			}
			return nil
		})
	}
	if l.markets != nil {
		g.Go(func() error {
			m, ok, err := l.markets.Lookup(gctx, req.MarketID)
			switch {
			case err != nil:
				l.logger.Warn(ctx, "market read failed", "request_id", id, "market_id", req.MarketID, "error", err)
			case ok:
				p.Market = &m
			}
			return nil
		})
	}
	if l.catalog != nil {
		g.Go(func() error {
			s, ok, err := l.catalog.ByID(gctx, req.StatusID)
			if err == nil && ok {
				p.Status = &s
			}
			return nil
		})
	}
	_ = g.Wait()

	l.logger.Info(ctx, "detail loaded", "request_id", id, "duration", time.Since(start).Seconds())
	return p, nil
}

// ErrEmptyUser is returned by Assign without a user id.
var ErrEmptyUser = errors.New("detail: user id required")

// OwnerStore is the store surface used by the ownership editor.
type OwnerStore interface {
	triage.Updater
	UnassignOwner(ctx context.Context, id string) error
	SearchUsers(ctx context.Context, term string) ([]triage.User, error)
}

// Owners edits request ownership. Writes are detached from the caller's
// context so they complete after the panel closes.
type Owners struct {
	store   OwnerStore
	logger  log.Logger
	observe func(action string, err error)
}

// NewOwners creates an ownership editor. observe may be nil.
func NewOwners(store OwnerStore, logger log.Logger, observe func(action string, err error)) *Owners {
	if logger == nil {
		logger = log.Nop()
	}
	return &Owners{store: store, logger: logger, observe: observe}
}

func (o *Owners) report(ctx context.Context, action, id string, err error) {
	if o.observe != nil {
		o.observe(action, err)
	}
	if err != nil {
		o.logger.Error(ctx, err, "owner update failed", "request_id", id, "action", action)
		return
	}
	o.logger.Info(ctx, "owner updated", "request_id", id, "action", action)
}

// Assign makes userID the owner of request id.
func (o *Owners) Assign(ctx context.Context, id, userID string) (*triage.ServiceRequest, error) {
	if userID == "" {
		return nil, ErrEmptyUser
	}
	updated, err := o.store.UpdateServiceRequest(context.WithoutCancel(ctx), id, triage.Patch{AssignedUserID: &userID})
	o.report(ctx, "assign", id, err)
	if err != nil {
		return nil, fmt.Errorf("assign %s to %s: %w", id, userID, err)
	}
	return updated, nil
}

// Unassign clears the owner of request id.
func (o *Owners) Unassign(ctx context.Context, id string) error {
	err := o.store.UnassignOwner(context.WithoutCancel(ctx), id)
	o.report(ctx, "unassign", id, err)
	if err != nil {
		return fmt.Errorf("unassign %s: %w", id, err)
	}
	return nil
}

// Search finds candidate owners. A blank term returns no users without a read.
func (o *Owners) Search(ctx context.Context, term string) ([]triage.User, error) {
	if term == "" {
		return []triage.User{}, nil
	}
	users, err := o.store.SearchUsers(ctx, term)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}
