// Package filter holds the board's search/market/status filter. The URL query
// string is the source of truth: every setter rewrites the full query so a
// reload reproduces the same view.
package filter

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
)

// Query parameter keys.
const (
	KeySearchTerm = "searchTerm"
	KeyMarketIDs  = "marketIds"
	KeyStatusID   = "statusId"
)

// State is a snapshot of the committed filter. An empty StatusID means no
// single-status selection.
type State struct {
	SearchTerm string   `json:"searchTerm"`
	MarketIDs  []string `json:"marketIds"`
	StatusID   string   `json:"statusId,omitempty"`
}

// FromValues reads a State out of query values. Unknown keys are ignored.
func FromValues(v url.Values) State {
	st := State{
		SearchTerm: v.Get(KeySearchTerm),
		StatusID:   v.Get(KeyStatusID),
		MarketIDs:  []string{},
	}
	for _, id := range v[KeyMarketIDs] {
		if id != "" && !slices.Contains(st.MarketIDs, id) {
			st.MarketIDs = append(st.MarketIDs, id)
		}
	}
	return st
}

// Parse decodes a raw query string, with or without a leading '?'.
func Parse(raw string) (url.Values, error) {
	v, err := url.ParseQuery(strings.TrimPrefix(raw, "?"))
	if err != nil {
		return nil, fmt.Errorf("parse filter query: %w", err)
	}
	return v, nil
}

// Filter is the mutable, URL-backed filter for one mounted board.
// Safe for concurrent use.
type Filter struct {
	mu        sync.Mutex
	query     string
	listeners []func(State)
}

// New hydrates a Filter from a raw query string.
func New(raw string) (*Filter, error) {
	v, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return &Filter{query: v.Encode()}, nil
}

// OnChange registers fn to be called after every mutation that changes the
// query. Listeners run outside the lock, in registration order.
func (f *Filter) OnChange(fn func(State)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

// Query returns the encoded query string.
func (f *Filter) Query() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.query
}

// State returns the committed filter.
func (f *Filter) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, _ := url.ParseQuery(f.query)
	return FromValues(v)
}

// update re-reads the whole query, lets mutate change it, and writes the
// whole query back, all under one lock.
func (f *Filter) update(mutate func(v url.Values)) {
	f.mu.Lock()
	v, _ := url.ParseQuery(f.query)
	mutate(v)
	next := v.Encode()
	changed := next != f.query
	f.query = next
	st := FromValues(v)
	listeners := slices.Clone(f.listeners)
	f.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(st)
	}
}

// SetSearchTerm replaces the committed search term. Empty removes the key.
func (f *Filter) SetSearchTerm(term string) {
	f.update(func(v url.Values) {
		if term == "" {
			v.Del(KeySearchTerm)
			return
		}
		v.Set(KeySearchTerm, term)
	})
}

// SetMarketIDs replaces the market selection. Duplicates and empty ids are dropped.
func (f *Filter) SetMarketIDs(ids []string) {
	f.update(func(v url.Values) {
		v.Del(KeyMarketIDs)
		for _, id := range ids {
			if id != "" && !slices.Contains(v[KeyMarketIDs], id) {
				v.Add(KeyMarketIDs, id)
			}
		}
	})
}

// AddMarketID adds id to the current selection.
func (f *Filter) AddMarketID(id string) {
	if id == "" {
		return
	}
	f.update(func(v url.Values) {
		if !slices.Contains(v[KeyMarketIDs], id) {
			v.Add(KeyMarketIDs, id)
		}
	})
}

// RemoveMarketID drops id from the current selection.
func (f *Filter) RemoveMarketID(id string) {
	f.update(func(v url.Values) {
		kept := slices.DeleteFunc(slices.Clone(v[KeyMarketIDs]), func(s string) bool { return s == id })
		if len(kept) == 0 {
			v.Del(KeyMarketIDs)
			return
		}
		v[KeyMarketIDs] = kept
	})
}

// DefaultStatusID sets the status selection to id unless the current
// selection is non-empty and keep reports it valid. Decided under the same
// lock as the write, so a concurrent manual selection is never overwritten
// with a stale decision.
func (f *Filter) DefaultStatusID(id string, keep func(current string) bool) bool {
	var set bool
	f.update(func(v url.Values) {
		current := v.Get(KeyStatusID)
		if current == id || (current != "" && keep(current)) {
			return
		}
		v.Set(KeyStatusID, id)
		set = true
	})
	return set
}

// SetStatusID replaces the single-status selection. Empty clears it.
func (f *Filter) SetStatusID(id string) {
	f.update(func(v url.Values) {
		if id == "" {
			v.Del(KeyStatusID)
			return
		}
		v.Set(KeyStatusID, id)
	})
}
