package boardapi

import (
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/reviewqueue/internal/insurance"
	"github.com/linnemanlabs/reviewqueue/internal/status"
	"github.com/linnemanlabs/reviewqueue/internal/triage"
)

type transitionResponse struct {
	Skipped bool                   `json:"skipped"`
	Reason  string                 `json:"reason,omitempty"`
	From    *status.Status         `json:"from,omitempty"`
	To      *status.Status         `json:"to,omitempty"`
	Request *triage.ServiceRequest `json:"serviceRequest,omitempty"`
}

func (a *API) handleTransition(w http.ResponseWriter, r *http.Request) {
	id := requestID(r)
	var req struct {
		Order string `json:"order"`
	}
	if !decode(w, r, &req) {
		return
	}
	order, err := triage.ParseOrder(req.Order)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := sessionFrom(r).Transition(r.Context(), id, order)
	if err != nil {
		a.fail(w, r, "transition", err)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Bool("reviewqueue.transition.skipped", res.Skipped))

	out := transitionResponse{Skipped: res.Skipped, Reason: res.Reason, Request: res.Request}
	if !res.Skipped {
		from, to := res.From, res.To
		out.From, out.To = &from, &to
		span.SetAttributes(
			attribute.String("reviewqueue.transition.from", from.Slug),
			attribute.String("reviewqueue.transition.to", to.Slug),
		)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleOpenSidebar(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	writeJSON(w, http.StatusOK, sessionFrom(r).OpenSidebar(req.ID))
}

func (a *API) handleCloseSidebar(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r).CloseSidebar())
}

func (a *API) handleAnimationEnd(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r).SidebarAnimationEnd())
}

func (a *API) handleDetail(w http.ResponseWriter, r *http.Request) {
	v, err := sessionFrom(r).Detail(r.Context())
	if err != nil {
		a.fail(w, r, "load detail", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// insuranceConflict is the 409 body for a rejected editor action.
type insuranceConflict struct {
	Error     string         `json:"error"`
	Insurance insurance.View `json:"insurance"`
}

// writeInsurance renders an editor result. Conflicts still carry the view so
// the client can render the disabled state.
func (a *API) writeInsurance(w http.ResponseWriter, r *http.Request, op string, v insurance.View, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, v)
	case errors.Is(err, insurance.ErrBusy):
		writeJSON(w, http.StatusConflict, insuranceConflict{Error: "update in flight", Insurance: v})
	case errors.Is(err, insurance.ErrNotEditable):
		writeJSON(w, http.StatusConflict, insuranceConflict{Error: "cms number not editable", Insurance: v})
	default:
		a.fail(w, r, op, err)
	}
}

func (a *API) handleSetVerified(w http.ResponseWriter, r *http.Request) {
	id := requestID(r)
	var req struct {
		Verified *bool `json:"verified"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Verified == nil {
		writeError(w, http.StatusBadRequest, "verified is required")
		return
	}
	v, err := sessionFrom(r).SetInsuranceVerified(r.Context(), id, *req.Verified)
	a.writeInsurance(w, r, "update insurance verification", v, err)
}

func (a *API) handleStartCMSEdit(w http.ResponseWriter, r *http.Request) {
	v, err := sessionFrom(r).StartCMSEdit(r.Context(), requestID(r))
	a.writeInsurance(w, r, "edit cms number", v, err)
}

func (a *API) handleSetCMSDraft(w http.ResponseWriter, r *http.Request) {
	id := requestID(r)
	var req struct {
		Draft string `json:"draft"`
	}
	if !decode(w, r, &req) {
		return
	}
	v, err := sessionFrom(r).SetCMSDraft(r.Context(), id, req.Draft)
	a.writeInsurance(w, r, "edit cms number", v, err)
}

func (a *API) handleSaveCMS(w http.ResponseWriter, r *http.Request) {
	v, err := sessionFrom(r).SaveCMS(r.Context(), requestID(r))
	a.writeInsurance(w, r, "save cms number", v, err)
}

func (a *API) handleCancelCMSEdit(w http.ResponseWriter, r *http.Request) {
	v, err := sessionFrom(r).CancelCMSEdit(r.Context(), requestID(r))
	a.writeInsurance(w, r, "cancel cms edit", v, err)
}

func (a *API) handleAssignOwner(w http.ResponseWriter, r *http.Request) {
	id := requestID(r)
	var req struct {
		UserID string `json:"userId"`
	}
	if !decode(w, r, &req) {
		return
	}
	updated, err := sessionFrom(r).AssignOwner(r.Context(), id, req.UserID)
	if err != nil {
		a.fail(w, r, "assign owner", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleUnassignOwner(w http.ResponseWriter, r *http.Request) {
	if err := sessionFrom(r).UnassignOwner(r.Context(), requestID(r)); err != nil {
		a.fail(w, r, "unassign owner", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
