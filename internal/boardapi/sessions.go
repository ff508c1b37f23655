package boardapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/reviewqueue/internal/board"
)

func (a *API) handleStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := a.sessions.Statuses(r.Context())
	if err != nil {
		a.fail(w, r, "list statuses", err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (a *API) handleMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := a.sessions.Markets(r.Context())
	if err != nil {
		a.fail(w, r, "list markets", err)
		return
	}
	writeJSON(w, http.StatusOK, markets)
}

func (a *API) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.sessions.SearchUsers(r.Context(), r.URL.Query().Get("term"))
	if err != nil {
		a.fail(w, r, "search users", err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type mountRequest struct {
	Query    string `json:"query"`
	Viewport string `json:"viewport"`
}

type mountResponse struct {
	ID       string         `json:"id"`
	Viewport board.Viewport `json:"viewport"`
	board.FilterView
}

func (a *API) handleMount(w http.ResponseWriter, r *http.Request) {
	var req mountRequest
	if !decode(w, r, &req) {
		return
	}
	vp, err := board.ParseViewport(req.Viewport)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s, err := a.sessions.Create(r.Context(), req.Query, vp)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query")
		return
	}
	writeJSON(w, http.StatusCreated, mountResponse{ID: s.ID(), Viewport: vp, FilterView: s.Filter()})
}

func (a *API) handleUnmount(w http.ResponseWriter, r *http.Request) {
	a.sessions.Delete(sessionFrom(r).ID())
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleBoard(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	v, err := sessionFrom(r).Board(r.Context(), refresh)
	if err != nil {
		a.fail(w, r, "render board", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type searchRequest struct {
	Term   string `json:"term"`
	Commit bool   `json:"commit"`
}

// handleSearch records a keystroke. The term is committed after the
// debounce delay, or immediately when commit is set.
func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decode(w, r, &req) {
		return
	}
	s := sessionFrom(r)
	v := s.TypeSearch(req.Term)
	if req.Commit {
		v = s.FlushSearch()
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) handleSetMarkets(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MarketIDs []string `json:"marketIds"`
	}
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, sessionFrom(r).SetMarketIDs(req.MarketIDs))
}

func (a *API) handleAddMarket(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r).AddMarketID(chi.URLParam(r, "marketId")))
}

func (a *API) handleRemoveMarket(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r).RemoveMarketID(chi.URLParam(r, "marketId")))
}

func (a *API) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StatusID string `json:"statusId"`
	}
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, sessionFrom(r).SetStatusID(req.StatusID))
}
