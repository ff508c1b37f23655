// Package insurance implements the verification editor shown in the detail
// panel: a verified/unverified toggle with a nested view/edit editor for the
// CMS number, which is only editable while verified.
package insurance

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/reviewqueue/internal/triage"
)

var (
	// ErrBusy is returned while a verification or CMS write is in flight.
	ErrBusy = errors.New("insurance: update in flight")
	// ErrNotEditable is returned when the CMS number cannot be edited in the current mode.
	ErrNotEditable = errors.New("insurance: cms number not editable")
)

// Fields reported to the write observer.
const (
	FieldVerified = "is_insurance_verified"
	FieldCMS      = "cms_number"
)

// Mode is the editor's visible state.
type Mode string

const (
	ModeUnverified Mode = "unverified"
	ModeVerified   Mode = "verified"
	ModeEditingCMS Mode = "editing_cms"
)

// View is a snapshot for rendering. Draft is only meaningful in ModeEditingCMS.
type View struct {
	RequestID string `json:"requestId"`
	Mode      Mode   `json:"mode"`
	Verified  bool   `json:"verified"`
	CMSNumber string `json:"cmsNumber"`
	Draft     string `json:"draft"`
	Pending   bool   `json:"pending"`
}

// ControlsDisabled reports whether edit/save/cancel must be disabled.
func (v View) ControlsDisabled() bool { return v.Pending }

// Observer is told about every issued write.
type Observer func(field string, err error)

// Editor is the per-request insurance editor. Safe for concurrent use.
type Editor struct {
	store   triage.Updater
	logger  log.Logger
	observe Observer

	mu        sync.Mutex
	requestID string
	verified  bool
	cms       string
	editing   bool
	draft     string
	pending   bool
}

// NewEditor creates an editor seeded from req.
func NewEditor(store triage.Updater, req *triage.ServiceRequest, logger log.Logger, observe Observer) *Editor {
	if logger == nil {
		logger = log.Nop()
	}
	e := &Editor{
		store:     store,
		logger:    logger,
		observe:   observe,
		requestID: req.ID,
	}
	e.syncLocked(req)
	return e
}

func (e *Editor) syncLocked(req *triage.ServiceRequest) {
	e.verified = req.InsuranceVerified()
	e.cms = req.CMS()
	if !e.verified {
		e.editing = false
	}
	if !e.editing {
		e.draft = e.cms
	}
}

// Sync refreshes the committed values from a newer read of the request.
// An open draft is kept. Ignored while a write is pending.
func (e *Editor) Sync(req *triage.ServiceRequest) View {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.pending && req.ID == e.requestID {
		e.syncLocked(req)
	}
	return e.viewLocked()
}

// View returns the current snapshot.
func (e *Editor) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

func (e *Editor) viewLocked() View {
	v := View{
		RequestID: e.requestID,
		Verified:  e.verified,
		CMSNumber: e.cms,
		Pending:   e.pending,
	}
	switch {
	case !e.verified:
		v.Mode = ModeUnverified
	case e.editing:
		v.Mode = ModeEditingCMS
		v.Draft = e.draft
	default:
		v.Mode = ModeVerified
	}
	return v
}

// write issues p with the lock released and the pending flag held. The write
// is detached from ctx cancellation so it completes after the panel closes.
func (e *Editor) write(ctx context.Context, field string, p triage.Patch) (*triage.ServiceRequest, error) {
	updated, err := e.store.UpdateServiceRequest(context.WithoutCancel(ctx), e.requestID, p)
	if e.observe != nil {
		e.observe(field, err)
	}
	if err != nil {
		e.logger.Error(ctx, err, "insurance update failed", "request_id", e.requestID, "field", field)
		return nil, fmt.Errorf("update %s on %s: %w", field, e.requestID, err)
	}
	e.logger.Info(ctx, "insurance updated", "request_id", e.requestID, "field", field)
	return updated, nil
}

// SetVerified writes the verification flag immediately. Turning verification
// off abandons any open CMS draft.
func (e *Editor) SetVerified(ctx context.Context, verified bool) (View, error) {
	e.mu.Lock()
	if e.pending {
		v := e.viewLocked()
		e.mu.Unlock()
		return v, ErrBusy
	}
	e.pending = true
	e.mu.Unlock()

	updated, err := e.write(ctx, FieldVerified, triage.Patch{IsInsuranceVerified: &verified})

	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = false
	if err != nil {
		return e.viewLocked(), err
	}
	if updated != nil {
		e.syncLocked(updated)
	} else {
		e.verified = verified
		if !verified {
			e.editing = false
			e.draft = e.cms
		}
	}
	return e.viewLocked(), nil
}

// StartEdit enters edit mode with the draft seeded from the committed value.
func (e *Editor) StartEdit() (View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.pending:
		return e.viewLocked(), ErrBusy
	case !e.verified:
		return e.viewLocked(), ErrNotEditable
	}
	if !e.editing {
		e.editing = true
		e.draft = e.cms
	}
	return e.viewLocked(), nil
}

// SetDraft replaces the draft text.
func (e *Editor) SetDraft(draft string) (View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.pending:
		return e.viewLocked(), ErrBusy
	case !e.editing:
		return e.viewLocked(), ErrNotEditable
	}
	e.draft = draft
	return e.viewLocked(), nil
}

// Save writes the draft as the CMS number and returns to view mode. On
// failure the editor stays in edit mode with the draft intact.
func (e *Editor) Save(ctx context.Context) (View, error) {
	e.mu.Lock()
	switch {
	case e.pending:
		v := e.viewLocked()
		e.mu.Unlock()
		return v, ErrBusy
	case !e.editing || !e.verified:
		v := e.viewLocked()
		e.mu.Unlock()
		return v, ErrNotEditable
	}
	e.pending = true
	draft := e.draft
	e.mu.Unlock()

	updated, err := e.write(ctx, FieldCMS, triage.Patch{CMSNumber: &draft})

	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = false
	if err != nil {
		return e.viewLocked(), err
	}
	e.editing = false
	if updated != nil {
		e.syncLocked(updated)
	} else {
		e.cms = draft
		e.draft = draft
	}
	return e.viewLocked(), nil
}

// Cancel discards the draft and returns to view mode without writing.
func (e *Editor) Cancel() (View, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending {
		return e.viewLocked(), ErrBusy
	}
	e.editing = false
	e.draft = e.cms
	return e.viewLocked(), nil
}
