// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/reviewqueue/internal/status"
	"github.com/linnemanlabs/reviewqueue/internal/triage"
)

// Seed is the fixture format accepted by Load.
type Seed struct {
	Statuses     []status.Status          `yaml:"statuses"`
	Markets      []triage.Market          `yaml:"markets"`
	Users        []triage.User            `yaml:"users"`
	Patients     []triage.Patient         `yaml:"patients"`
	CareRequests []triage.CareRequest     `yaml:"careRequests"`
	Requests     []triage.ServiceRequest  `yaml:"serviceRequests"`
	Notes        map[string][]triage.Note `yaml:"notes"`
}

// Store holds the system of record in memory. Suitable for dev/testing.
type Store struct {
	mu           sync.RWMutex
	now          func() time.Time
	statuses     []status.Status
	markets      []triage.Market
	users        map[string]triage.User
	userOrder    []string
	patients     map[string]triage.Patient
	careRequests map[string]triage.CareRequest
	requests     map[string]*triage.ServiceRequest
	order        []string                 // request ids in insertion order
	notes        map[string][]triage.Note // request ID -> notes
}

// New initializes a new in-memory Store from a seed. A nil seed yields an empty store.
func New(seed *Seed) *Store {
	s := &Store{
		now:          time.Now,
		users:        make(map[string]triage.User),
		patients:     make(map[string]triage.Patient),
		careRequests: make(map[string]triage.CareRequest),
		requests:     make(map[string]*triage.ServiceRequest),
		notes:        make(map[string][]triage.Note),
	}
	if seed == nil {
		return s
	}
	s.statuses = append(s.statuses, seed.Statuses...)
	s.markets = append(s.markets, seed.Markets...)
	for _, u := range seed.Users {
		s.users[u.ID] = u
		s.userOrder = append(s.userOrder, u.ID)
	}
	for _, p := range seed.Patients {
		s.patients[p.ID] = p
	}
	for _, c := range seed.CareRequests {
		s.careRequests[c.ID] = c
	}
	for i := range seed.Requests {
		r := seed.Requests[i]
		s.requests[r.ID] = &r
		s.order = append(s.order, r.ID)
	}
	for id, notes := range seed.Notes {
		s.notes[id] = append([]triage.Note(nil), notes...)
	}
	return s
}

// Load reads a YAML seed file and returns a populated Store.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return New(&seed), nil
}

// ListStatuses returns the catalog in seed order.
func (s *Store) ListStatuses(_ context.Context) ([]status.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]status.Status(nil), s.statuses...), nil
}

// ListMarkets returns all markets.
func (s *Store) ListMarkets(_ context.Context) ([]triage.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]triage.Market(nil), s.markets...), nil
}

// ListServiceRequests filters requests by q. A nil filter matches everything;
// a present but empty filter matches nothing.
func (s *Store) ListServiceRequests(_ context.Context, q triage.ListQuery) ([]triage.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var term string
	if q.SearchTerm != nil {
		term = strings.ToLower(strings.TrimSpace(*q.SearchTerm))
	}

	out := []triage.Listing{}
	for _, id := range s.order {
		r := s.requests[id]
		if q.StatusIDs != nil && !slices.Contains(q.StatusIDs, r.StatusID) {
			continue
		}
		if q.MarketIDs != nil && !slices.Contains(q.MarketIDs, r.MarketID) {
			continue
		}
		l := s.listingLocked(r)
		if q.SearchTerm != nil && !matches(l, term) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func matches(l triage.Listing, term string) bool {
	if term == "" {
		return true
	}
	fields := []string{l.ServiceRequest.ID}
	if l.Patient != nil {
		fields = append(fields, l.Patient.FullName())
	}
	if l.CareRequest != nil {
		fields = append(fields, l.CareRequest.ChiefComplaint)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), term) {
			return true
		}
	}
	return false
}

func (s *Store) listingLocked(r *triage.ServiceRequest) triage.Listing {
	l := triage.Listing{ServiceRequest: *r, NotesCount: len(s.notes[r.ID])}
	if p, ok := s.patients[r.PatientID]; ok {
		l.Patient = &p
	}
	if c, ok := s.careRequests[r.CareRequestID]; ok {
		l.CareRequest = &c
	}
	return l
}

// GetServiceRequest returns a copy of the full record.
func (s *Store) GetServiceRequest(_ context.Context, id string) (*triage.Detail, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, false, nil
	}
	l := s.listingLocked(r)
	return &triage.Detail{ServiceRequest: l.ServiceRequest, Patient: l.Patient, CareRequest: l.CareRequest}, true, nil
}

// GetServiceRequestNotes returns the notes for a request.
func (s *Store) GetServiceRequestNotes(_ context.Context, id string) ([]triage.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]triage.Note(nil), s.notes[id]...), nil
}

// UpdateServiceRequest applies a partial update and returns the new record.
func (s *Store) UpdateServiceRequest(_ context.Context, id string, p triage.Patch) (*triage.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, triage.ErrNotFound
	}
	p.Apply(r)
	r.UpdatedAt = s.now().UTC()
	cp := *r
	return &cp, nil
}

// UnassignOwner clears the assigned user.
func (s *Store) UnassignOwner(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return triage.ErrNotFound
	}
	r.AssignedUserID = nil
	r.UpdatedAt = s.now().UTC()
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(_ context.Context, id string) (*triage.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, false, nil
	}
	return &u, true, nil
}

// SearchUsers matches term against user names and email, case-insensitively.
func (s *Store) SearchUsers(_ context.Context, term string) ([]triage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	term = strings.ToLower(strings.TrimSpace(term))
	out := []triage.User{}
	for _, id := range s.userOrder {
		u := s.users[id]
		hay := strings.ToLower(u.FirstName + " " + u.LastName + " " + u.Email)
		if term == "" || strings.Contains(hay, term) {
			out = append(out, u)
		}
	}
	return out, nil
}
