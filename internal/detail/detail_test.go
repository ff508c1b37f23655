package detail

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/reviewqueue/internal/status"
	"github.com/linnemanlabs/reviewqueue/internal/triage"
	"github.com/linnemanlabs/reviewqueue/internal/triage/memstore"
)

func ptr[T any](v T) *T { return &v }

func seededStore() *memstore.Store {
	return memstore.New(&memstore.Seed{
		Statuses: []status.Status{
			{ID: "st-req", Name: "Requested", Slug: status.SlugRequested, IsActive: true},
		},
		Markets:      []triage.Market{{ID: "159", Name: "Denver", ShortName: "DEN", TZAbbreviation: "MT"}},
		Users:        []triage.User{{ID: "u-1", FirstName: "Nadja", LastName: "Ortiz"}},
		Patients:     []triage.Patient{{ID: "p-1", FirstName: "Ada", LastName: "Brown"}},
		CareRequests: []triage.CareRequest{{ID: "cr-1", ChiefComplaint: "Fall at home", RiskScore: 4}},
		Requests: []triage.ServiceRequest{
			{ID: "sr-1", MarketID: "159", StatusID: "st-req", PatientID: "p-1", CareRequestID: "cr-1", AssignedUserID: ptr("u-1")},
			{ID: "sr-2", MarketID: "999", StatusID: "st-req"},
		},
		Notes: map[string][]triage.Note{"sr-1": {{ID: "n-1"}, {ID: "n-2"}, {ID: "n-3"}}},
	})
}

func TestLoader_Load(t *testing.T) {
	t.Parallel()

	s := seededStore()
	l := NewLoader(s, status.NewCatalog(s), NewMarketDirectory(s), log.Nop())

	p, err := l.Load(context.Background(), "sr-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Loading {
		t.Fatal("Loading = true after successful read")
	}
	if p.Request == nil || p.Request.ID != "sr-1" {
		t.Fatalf("Request = %+v", p.Request)
	}
	if p.Patient.FullName() != "Ada Brown" || p.CareRequest.ChiefComplaint != "Fall at home" {
		t.Errorf("snapshots = %+v / %+v", p.Patient, p.CareRequest)
	}
	if p.NotesCount == nil || *p.NotesCount != 3 {
		t.Errorf("NotesCount = %v, want 3", p.NotesCount)
	}
	if p.Owner == nil || p.Owner.ID != "u-1" {
		t.Errorf("Owner = %+v", p.Owner)
	}
	if p.Market == nil || p.Market.TZAbbreviation != "MT" {
		t.Errorf("Market = %+v", p.Market)
	}
	if p.Status == nil || p.Status.Slug != status.SlugRequested {
		t.Errorf("Status = %+v", p.Status)
	}
}

func TestLoader_UnknownMarketAndNoOwner(t *testing.T) {
	t.Parallel()

	s := seededStore()
	l := NewLoader(s, nil, NewMarketDirectory(s), log.Nop())

	p, err := l.Load(context.Background(), "sr-2")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Market != nil || p.Owner != nil {
		t.Errorf("Market = %+v, Owner = %+v, want both nil", p.Market, p.Owner)
	}
	if p.NotesCount == nil || *p.NotesCount != 0 {
		t.Errorf("NotesCount = %v, want 0", p.NotesCount)
	}
}

func TestLoader_NotFound(t *testing.T) {
	t.Parallel()

	l := NewLoader(seededStore(), nil, nil, nil)
	if _, err := l.Load(context.Background(), "missing"); !errors.Is(err, triage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

type failingReader struct{ Reader }

func (failingReader) GetServiceRequest(context.Context, string) (*triage.Detail, bool, error) {
	return nil, false, errors.New("connection reset")
}

func TestLoader_ReadFailureKeepsLoading(t *testing.T) {
	t.Parallel()

	l := NewLoader(failingReader{}, nil, nil, log.Nop())
	p, err := l.Load(context.Background(), "sr-1")
	if err != nil {
		t.Fatalf("Load returned %v, want placeholder without error", err)
	}
	if !p.Loading || p.Request != nil {
		t.Errorf("panel = %+v, want Loading placeholder", p)
	}
}

type countingMarkets struct {
	calls int
	err   error
}

func (c *countingMarkets) ListMarkets(context.Context) ([]triage.Market, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []triage.Market{{ID: "159", Name: "Denver", TZAbbreviation: "MT"}}, nil
}

func TestMarketDirectory_Chips(t *testing.T) {
	t.Parallel()

	src := &countingMarkets{}
	d := NewMarketDirectory(src)
	ctx := context.Background()

	chips := d.Chips(ctx, []string{"159", "42"})
	want := []Chip{
		{ID: "159", Label: "Denver", TZAbbreviation: "MT", Known: true},
		{ID: "42", Label: "42"},
	}
	if len(chips) != len(want) {
		t.Fatalf("chips = %+v", chips)
	}
	for i := range want {
		if chips[i] != want[i] {
			t.Errorf("chips[%d] = %+v, want %+v", i, chips[i], want[i])
		}
	}

	_, _ = d.All(ctx)
	_, _, _ = d.Lookup(ctx, "159")
	if src.calls != 1 {
		t.Errorf("ListMarkets called %d times, want 1", src.calls)
	}
}

func TestMarketDirectory_FailureNotCached(t *testing.T) {
	t.Parallel()

	src := &countingMarkets{err: errors.New("boom")}
	d := NewMarketDirectory(src)
	ctx := context.Background()

	chips := d.Chips(ctx, []string{"159"})
	if chips[0].Known || chips[0].Label != "159" {
		t.Errorf("chip = %+v, want raw id fallback", chips[0])
	}

	src.err = nil
	if _, ok, err := d.Lookup(ctx, "159"); err != nil || !ok {
		t.Errorf("Lookup after recovery ok=%v err=%v", ok, err)
	}
	if src.calls != 2 {
		t.Errorf("calls = %d, want 2", src.calls)
	}
}

func TestOwners(t *testing.T) {
	t.Parallel()

	s := seededStore()
	var actions []string
	o := NewOwners(s, log.Nop(), func(action string, err error) {
		if err == nil {
			actions = append(actions, action)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	updated, err := o.Assign(ctx, "sr-2", "u-1")
	if err != nil {
		t.Fatalf("Assign with canceled ctx: %v", err)
	}
	if updated.AssignedUserID == nil || *updated.AssignedUserID != "u-1" {
		t.Errorf("AssignedUserID = %v", updated.AssignedUserID)
	}
	if err := o.Unassign(ctx, "sr-2"); err != nil {
		t.Fatalf("Unassign: %v", err)
	}
	if _, err := o.Assign(context.Background(), "sr-2", ""); !errors.Is(err, ErrEmptyUser) {
		t.Errorf("Assign empty user err = %v", err)
	}
	if err := o.Unassign(context.Background(), "missing"); !errors.Is(err, triage.ErrNotFound) {
		t.Errorf("Unassign missing err = %v", err)
	}
	if len(actions) != 2 || actions[0] != "assign" || actions[1] != "unassign" {
		t.Errorf("actions = %v", actions)
	}

	users, err := o.Search(context.Background(), "ortiz")
	if err != nil || len(users) != 1 {
		t.Errorf("Search = %v, %v", users, err)
	}
	users, err = o.Search(context.Background(), "")
	if err != nil || len(users) != 0 {
		t.Errorf("Search(blank) = %v, %v", users, err)
	}
}

type gatedMarkets struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (g *gatedMarkets) ListMarkets(ctx context.Context) ([]triage.Market, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return []triage.Market{{ID: "159", Name: "Denver"}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestMarketDirectory_CanceledCallerDoesNotFailSiblings(t *testing.T) {
	t.Parallel()

	src := &gatedMarkets{started: make(chan struct{}), release: make(chan struct{})}
	d := NewMarketDirectory(src)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := d.All(ctx)
		firstErr <- err
	}()
	<-src.started

	type lookup struct {
		ok  bool
		err error
	}
	sibling := make(chan lookup, 1)
	go func() {
		_, ok, err := d.Lookup(context.Background(), "159")
		sibling <- lookup{ok, err}
	}()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("canceled caller err = %v, want context.Canceled", err)
	}

	close(src.release)
	if got := <-sibling; got.err != nil || !got.ok {
		t.Errorf("sibling Lookup ok=%v err=%v, want found", got.ok, got.err)
	}
}
