package board

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/reviewqueue/internal/insurance"
	"github.com/linnemanlabs/reviewqueue/internal/sidebar"
	"github.com/linnemanlabs/reviewqueue/internal/triage"
)

// resetDetail cancels reads issued for the previous selection.
func (s *Session) resetDetail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detailCancel()
	s.detailCtx, s.detailCancel = context.WithCancel(s.ctx)
}

// OpenSidebar selects id for the detail panel.
func (s *Session) OpenSidebar(id string) sidebar.State {
	prev := s.sidebar.State()
	st := s.sidebar.Open(id)
	if prev.SelectedID != id || prev.Phase != sidebar.PhaseOpen {
		s.resetDetail()
	}
	return st
}

// CloseSidebar starts closing the detail panel and cancels its pending reads.
func (s *Session) CloseSidebar() sidebar.State {
	st := s.sidebar.Close()
	if st.Phase == sidebar.PhaseClosing {
		s.resetDetail()
	}
	return st
}

// SidebarAnimationEnd finishes a close.
func (s *Session) SidebarAnimationEnd() sidebar.State {
	return s.sidebar.AnimationEnd()
}

// Sidebar returns the sidebar state.
func (s *Session) Sidebar() sidebar.State { return s.sidebar.State() }

// Detail loads the panel for the selected request. Reads are canceled when
// the selection changes, the sidebar closes, or the board unmounts, in which
// case the panel comes back still loading.
func (s *Session) Detail(ctx context.Context) (DetailView, error) {
	if s.isClosed() {
		return DetailView{}, ErrClosed
	}
	sb := s.sidebar.State()
	if sb.Phase == sidebar.PhaseClosed {
		return DetailView{}, ErrNoSelection
	}

	s.mu.Lock()
	owner := s.detailCtx
	s.mu.Unlock()
	rctx, done := readContext(ctx, owner)
	defer done()

	panel, err := s.loader.Load(rctx, sb.SelectedID)
	if err != nil {
		return DetailView{}, err
	}
	v := DetailView{Panel: panel}
	if panel.Request != nil {
		iv := s.editorFor(panel.Request).Sync(panel.Request)
		v.Insurance = &iv
	}
	return v, nil
}

func (s *Session) editorFor(req *triage.ServiceRequest) *insurance.Editor {
	s.mu.Lock()
	defer s.mu.Unlock()
	ed, ok := s.editors[req.ID]
	if !ok {
		ed = insurance.NewEditor(s.store, req, s.logger, s.insuranceObserver)
		s.editors[req.ID] = ed
	}
	return ed
}

// Insurance returns the editor for a request, reading the request on first use.
func (s *Session) Insurance(ctx context.Context, requestID string) (*insurance.Editor, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	s.mu.Lock()
	ed, ok := s.editors[requestID]
	s.mu.Unlock()
	if ok {
		return ed, nil
	}

	rctx, done := readContext(ctx, s.ctx)
	defer done()
	d, found, err := s.store.GetServiceRequest(rctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("read request %s: %w", requestID, err)
	}
	if !found {
		return nil, fmt.Errorf("request %s: %w", requestID, triage.ErrNotFound)
	}
	return s.editorFor(&d.ServiceRequest), nil
}

// SetInsuranceVerified toggles verification for a request.
func (s *Session) SetInsuranceVerified(ctx context.Context, requestID string, verified bool) (insurance.View, error) {
	ed, err := s.Insurance(ctx, requestID)
	if err != nil {
		return insurance.View{}, err
	}
	v, err := ed.SetVerified(ctx, verified)
	if err == nil {
		s.invalidateRequest(requestID)
	}
	return v, err
}

// StartCMSEdit enters CMS edit mode.
func (s *Session) StartCMSEdit(ctx context.Context, requestID string) (insurance.View, error) {
	ed, err := s.Insurance(ctx, requestID)
	if err != nil {
		return insurance.View{}, err
	}
	return ed.StartEdit()
}

// SetCMSDraft replaces the CMS draft.
func (s *Session) SetCMSDraft(ctx context.Context, requestID, draft string) (insurance.View, error) {
	ed, err := s.Insurance(ctx, requestID)
	if err != nil {
		return insurance.View{}, err
	}
	return ed.SetDraft(draft)
}

// SaveCMS writes the CMS draft.
func (s *Session) SaveCMS(ctx context.Context, requestID string) (insurance.View, error) {
	ed, err := s.Insurance(ctx, requestID)
	if err != nil {
		return insurance.View{}, err
	}
	v, err := ed.Save(ctx)
	if err == nil {
		s.invalidateRequest(requestID)
	}
	return v, err
}

// CancelCMSEdit discards the CMS draft.
func (s *Session) CancelCMSEdit(ctx context.Context, requestID string) (insurance.View, error) {
	ed, err := s.Insurance(ctx, requestID)
	if err != nil {
		return insurance.View{}, err
	}
	return ed.Cancel()
}

// AssignOwner sets the owner of a request.
func (s *Session) AssignOwner(ctx context.Context, requestID, userID string) (*triage.ServiceRequest, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	updated, err := s.owners.Assign(ctx, requestID, userID)
	if err != nil {
		return nil, err
	}
	s.invalidateRequest(requestID)
	return updated, nil
}

// UnassignOwner clears the owner of a request.
func (s *Session) UnassignOwner(ctx context.Context, requestID string) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.owners.Unassign(ctx, requestID); err != nil {
		return err
	}
	s.invalidateRequest(requestID)
	return nil
}
