package memstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/linnemanlabs/reviewqueue/internal/status"
	"github.com/linnemanlabs/reviewqueue/internal/triage"
)

func ptr[T any](v T) *T { return &v }

func testSeed() *Seed {
	return &Seed{
		Statuses: []status.Status{
			{ID: "1", Name: "Requested", Slug: status.SlugRequested, IsActive: true},
			{ID: "2", Name: "Clinical Screening", Slug: status.SlugClinicalScreening, IsActive: true},
		},
		Markets: []triage.Market{{ID: "159", Name: "Denver", ShortName: "DEN", TZAbbreviation: "MT"}},
		Users: []triage.User{
			{ID: "u-1", FirstName: "Nadja", LastName: "Ortiz", Email: "nadja@example.com"},
			{ID: "u-2", FirstName: "Sam", LastName: "Lee"},
		},
		Patients:     []triage.Patient{{ID: "p-1", FirstName: "Nadja", LastName: "Brown"}},
		CareRequests: []triage.CareRequest{{ID: "cr-1", ChiefComplaint: "Fall at home"}},
		Requests: []triage.ServiceRequest{
			{ID: "sr-1", MarketID: "159", StatusID: "1", PatientID: "p-1", CareRequestID: "cr-1"},
			{ID: "sr-2", MarketID: "160", StatusID: "1"},
			{ID: "sr-3", MarketID: "159", StatusID: "2"},
		},
		Notes: map[string][]triage.Note{"sr-1": {{ID: "n-1", Body: "called family"}, {ID: "n-2", Body: "awaiting records"}}},
	}
}

func ids(ls []triage.Listing) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.ServiceRequest.ID)
	}
	return out
}

func TestStore_ListServiceRequests(t *testing.T) {
	t.Parallel()

	s := New(testSeed())
	ctx := context.Background()

	tests := []struct {
		name string
		q    triage.ListQuery
		want []string
	}{
		{"no filters", triage.ListQuery{}, []string{"sr-1", "sr-2", "sr-3"}},
		{"by status", triage.ListQuery{StatusIDs: []string{"1"}}, []string{"sr-1", "sr-2"}},
		{"by status and market", triage.ListQuery{StatusIDs: []string{"1"}, MarketIDs: []string{"159"}}, []string{"sr-1"}},
		{"present but empty markets", triage.ListQuery{MarketIDs: []string{}}, []string{}},
		{"search patient name", triage.ListQuery{SearchTerm: ptr("nadja")}, []string{"sr-1"}},
		{"search complaint", triage.ListQuery{SearchTerm: ptr("FALL")}, []string{"sr-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := s.ListServiceRequests(ctx, tt.q)
			if err != nil {
				t.Fatalf("ListServiceRequests: %v", err)
			}
			if fmt.Sprint(ids(got)) != fmt.Sprint(tt.want) {
				t.Errorf("ids = %v, want %v", ids(got), tt.want)
			}
		})
	}
}

func TestStore_ListingJoinsSnapshots(t *testing.T) {
	t.Parallel()

	s := New(testSeed())
	got, err := s.ListServiceRequests(context.Background(), triage.ListQuery{StatusIDs: []string{"1"}, MarketIDs: []string{"159"}})
	if err != nil || len(got) != 1 {
		t.Fatalf("got %v, err %v", got, err)
	}
	l := got[0]
	if l.Patient == nil || l.Patient.FullName() != "Nadja Brown" {
		t.Errorf("Patient = %+v", l.Patient)
	}
	if l.CareRequest == nil || l.CareRequest.ChiefComplaint != "Fall at home" {
		t.Errorf("CareRequest = %+v", l.CareRequest)
	}
	if l.NotesCount != 2 {
		t.Errorf("NotesCount = %d, want 2", l.NotesCount)
	}
}

func TestStore_UpdateServiceRequest(t *testing.T) {
	t.Parallel()

	s := New(testSeed())
	ctx := context.Background()

	updated, err := s.UpdateServiceRequest(ctx, "sr-1", triage.Patch{StatusID: ptr("2"), CMSNumber: ptr("cms_number")})
	if err != nil {
		t.Fatalf("UpdateServiceRequest: %v", err)
	}
	if updated.StatusID != "2" || updated.CMS() != "cms_number" {
		t.Errorf("updated = %+v", updated)
	}
	if updated.MarketID != "159" {
		t.Errorf("MarketID = %q, untouched field changed", updated.MarketID)
	}
	if updated.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}

	d, ok, err := s.GetServiceRequest(ctx, "sr-1")
	if err != nil || !ok {
		t.Fatalf("GetServiceRequest: ok=%v err=%v", ok, err)
	}
	if d.ServiceRequest.StatusID != "2" {
		t.Errorf("stored StatusID = %q, want 2", d.ServiceRequest.StatusID)
	}

	if _, err := s.UpdateServiceRequest(ctx, "missing", triage.Patch{}); !errors.Is(err, triage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	s := New(testSeed())
	ctx := context.Background()
	d, _, _ := s.GetServiceRequest(ctx, "sr-2")
	d.ServiceRequest.StatusID = "mutated"

	d2, _, _ := s.GetServiceRequest(ctx, "sr-2")
	if d2.ServiceRequest.StatusID != "1" {
		t.Errorf("StatusID = %q, caller mutation leaked into store", d2.ServiceRequest.StatusID)
	}
}

func TestStore_Ownership(t *testing.T) {
	t.Parallel()

	s := New(testSeed())
	ctx := context.Background()

	if _, err := s.UpdateServiceRequest(ctx, "sr-1", triage.Patch{AssignedUserID: ptr("u-1")}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := s.UnassignOwner(ctx, "sr-1"); err != nil {
		t.Fatalf("UnassignOwner: %v", err)
	}
	d, _, _ := s.GetServiceRequest(ctx, "sr-1")
	if d.ServiceRequest.AssignedUserID != nil {
		t.Errorf("AssignedUserID = %v, want nil", *d.ServiceRequest.AssignedUserID)
	}

	users, err := s.SearchUsers(ctx, "NADJA")
	if err != nil || len(users) != 1 || users[0].ID != "u-1" {
		t.Errorf("SearchUsers = %v, %v", users, err)
	}
	if _, ok, _ := s.GetUser(ctx, "u-2"); !ok {
		t.Error("GetUser(u-2) missing")
	}
}

func TestLoad_YAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "seed.yaml")
	data := `
statuses:
  - {id: "1", name: Requested, slug: requested, isActive: true}
markets:
  - {id: "159", name: Denver, tzAbbreviation: MT}
serviceRequests:
  - {id: sr-1, marketId: "159", statusId: "1"}
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	st, _ := s.ListStatuses(context.Background())
	if len(st) != 1 || st[0].Slug != status.SlugRequested || !st[0].IsActive {
		t.Errorf("statuses = %+v", st)
	}
	got, _ := s.ListServiceRequests(context.Background(), triage.ListQuery{})
	if len(got) != 1 {
		t.Errorf("requests = %d, want 1", len(got))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New(testSeed())
	ctx := context.Background()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n * 2)
	for i := range n {
		go func() {
			defer wg.Done()
			_, _ = s.UpdateServiceRequest(ctx, "sr-1", triage.Patch{CMSNumber: ptr(fmt.Sprintf("cms-%d", i))})
		}()
		go func() {
			defer wg.Done()
			_, _ = s.ListServiceRequests(ctx, triage.ListQuery{})
		}()
	}
	wg.Wait()
}
