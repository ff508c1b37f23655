// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/reviewqueue/internal/status"
	"github.com/linnemanlabs/reviewqueue/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/reviewqueue/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store reads and writes the review queue mirror in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "pgstore."+name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// ListStatuses returns every status in catalog order.
func (s *Store) ListStatuses(ctx context.Context) ([]status.Status, error) {
	ctx, span := startSpan(ctx, "ListStatuses", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT id, name, slug, is_active FROM statuses ORDER BY position`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query statuses: %w", err))
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (status.Status, error) {
		var st status.Status
		err := row.Scan(&st.ID, &st.Name, &st.Slug, &st.IsActive)
		return st, err
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("scan statuses: %w", err))
	}
	return out, nil
}

// ListMarkets returns all markets ordered by name.
func (s *Store) ListMarkets(ctx context.Context) ([]triage.Market, error) {
	ctx, span := startSpan(ctx, "ListMarkets", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT id, name, short_name, tz_abbreviation FROM markets ORDER BY name`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query markets: %w", err))
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (triage.Market, error) {
		var m triage.Market
		err := row.Scan(&m.ID, &m.Name, &m.ShortName, &m.TZAbbreviation)
		return m, err
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("scan markets: %w", err))
	}
	return out, nil
}

const requestColumns = `sr.id, sr.market_id, sr.assigned_user_id, sr.updated_by_user_id, sr.status_id,
	sr.is_insurance_verified, sr.cms_number, COALESCE(sr.patient_id, ''), COALESCE(sr.care_request_id, ''),
	sr.rejected_at, sr.updated_at`

const joinedColumns = requestColumns + `,
	p.id, p.first_name, p.last_name, p.date_of_birth, p.sex,
	cr.id, cr.chief_complaint, cr.risk_score, cr.insurances`

const joinedFrom = ` FROM service_requests sr
	LEFT JOIN patients p ON p.id = sr.patient_id
	LEFT JOIN care_requests cr ON cr.id = sr.care_request_id`

// ListServiceRequests filters by q. NULL parameters (absent filters) match
// everything; an empty array matches nothing.
func (s *Store) ListServiceRequests(ctx context.Context, q triage.ListQuery) ([]triage.Listing, error) {
	ctx, span := startSpan(ctx, "ListServiceRequests", "SELECT")
	defer span.End()

	query := `SELECT ` + joinedColumns + `,
		(SELECT count(*) FROM notes n WHERE n.service_request_id = sr.id)` + joinedFrom + `
	WHERE ($1::text[] IS NULL OR sr.status_id = ANY($1))
	  AND ($2::text[] IS NULL OR sr.market_id = ANY($2))
	  AND ($3::text IS NULL
	       OR sr.id ILIKE $3
	       OR (p.first_name || ' ' || p.last_name) ILIKE $3
	       OR cr.chief_complaint ILIKE $3)
	ORDER BY sr.updated_at DESC, sr.id`

	var pattern *string
	if q.SearchTerm != nil {
		p := containsPattern(*q.SearchTerm)
		pattern = &p
	}

	rows, err := s.pool.Query(ctx, query, q.StatusIDs, q.MarketIDs, pattern)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query service requests: %w", err))
	}
	defer rows.Close()

	out := []triage.Listing{}
	for rows.Next() {
		var l triage.Listing
		d, err := scanJoined(rows, &l.NotesCount)
		if err != nil {
			return nil, fail(span, err)
		}
		l.ServiceRequest, l.Patient, l.CareRequest = d.ServiceRequest, d.Patient, d.CareRequest
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate service requests: %w", err))
	}
	span.SetAttributes(attribute.Int("reviewqueue.rows", len(out)))
	return out, nil
}

// GetServiceRequest retrieves the full record by ID.
func (s *Store) GetServiceRequest(ctx context.Context, id string) (*triage.Detail, bool, error) {
	ctx, span := startSpan(ctx, "GetServiceRequest", "SELECT")
	defer span.End()

	d, err := scanJoined(s.pool.QueryRow(ctx, `SELECT `+joinedColumns+joinedFrom+` WHERE sr.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fail(span, err)
	}
	return d, true, nil
}

// GetServiceRequestNotes returns notes for a request, oldest first.
func (s *Store) GetServiceRequestNotes(ctx context.Context, id string) ([]triage.Note, error) {
	ctx, span := startSpan(ctx, "GetServiceRequestNotes", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, body, created_at FROM notes WHERE service_request_id = $1 ORDER BY created_at`, id)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query notes: %w", err))
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (triage.Note, error) {
		var n triage.Note
		err := row.Scan(&n.ID, &n.Body, &n.CreatedAt)
		return n, err
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("scan notes: %w", err))
	}
	return out, nil
}

// UpdateServiceRequest writes the non-nil fields of p and returns the new record.
func (s *Store) UpdateServiceRequest(ctx context.Context, id string, p triage.Patch) (*triage.ServiceRequest, error) {
	ctx, span := startSpan(ctx, "UpdateServiceRequest", "UPDATE")
	defer span.End()

	query := `UPDATE service_requests sr SET
		status_id             = COALESCE($2, sr.status_id),
		assigned_user_id      = COALESCE($3, sr.assigned_user_id),
		is_insurance_verified = COALESCE($4, sr.is_insurance_verified),
		cms_number            = COALESCE($5, sr.cms_number),
		updated_at            = now()
	WHERE sr.id = $1
	RETURNING ` + requestColumns

	var r triage.ServiceRequest
	err := scanRequest(s.pool.QueryRow(ctx, query, id, p.StatusID, p.AssignedUserID, p.IsInsuranceVerified, p.CMSNumber), &r)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, triage.ErrNotFound
		}
		return nil, fail(span, fmt.Errorf("update service request: %w", err))
	}
	return &r, nil
}

// UnassignOwner clears the assigned user.
func (s *Store) UnassignOwner(ctx context.Context, id string) error {
	ctx, span := startSpan(ctx, "UnassignOwner", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE service_requests SET assigned_user_id = NULL, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fail(span, fmt.Errorf("unassign owner: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return triage.ErrNotFound
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*triage.User, bool, error) {
	ctx, span := startSpan(ctx, "GetUser", "SELECT")
	defer span.End()

	var u triage.User
	err := s.pool.QueryRow(ctx, `SELECT id, first_name, last_name, email FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fail(span, fmt.Errorf("get user: %w", err))
	}
	return &u, true, nil
}

// SearchUsers matches term against names and email.
func (s *Store) SearchUsers(ctx context.Context, term string) ([]triage.User, error) {
	ctx, span := startSpan(ctx, "SearchUsers", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT id, first_name, last_name, email FROM users
		WHERE (first_name || ' ' || last_name || ' ' || email) ILIKE $1
		ORDER BY last_name, first_name LIMIT 50`, containsPattern(term))
	if err != nil {
		return nil, fail(span, fmt.Errorf("search users: %w", err))
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (triage.User, error) {
		var u triage.User
		err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email)
		return u, err
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("scan users: %w", err))
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern turns a search term into an ILIKE substring pattern. The
// term is trimmed and its wildcards are matched literally.
func containsPattern(term string) string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(term)) + "%"
}

func scanRequest(row pgx.Row, r *triage.ServiceRequest, extra ...any) error {
	dest := []any{
		&r.ID, &r.MarketID, &r.AssignedUserID, &r.UpdatedByUserID, &r.StatusID,
		&r.IsInsuranceVerified, &r.CMSNumber, &r.PatientID, &r.CareRequestID,
		&r.RejectedAt, &r.UpdatedAt,
	}
	return row.Scan(append(dest, extra...)...)
}

// scanJoined scans a service request row with its LEFT JOINed snapshots.
// Extra destinations are appended after the joined columns.
func scanJoined(row pgx.Row, extra ...any) (*triage.Detail, error) {
	var (
		d                              triage.Detail
		pID, pFirst, pLast, pDOB, pSex *string
		crID, crComplaint              *string
		crRisk                         *float64
		crInsurances                   []byte
	)
	dest := append([]any{
		&pID, &pFirst, &pLast, &pDOB, &pSex,
		&crID, &crComplaint, &crRisk, &crInsurances,
	}, extra...)
	if err := scanRequest(row, &d.ServiceRequest, dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan service request: %w", err)
	}

	if pID != nil {
		d.Patient = &triage.Patient{
			ID:          *pID,
			FirstName:   deref(pFirst),
			LastName:    deref(pLast),
			DateOfBirth: deref(pDOB),
			Sex:         deref(pSex),
		}
	}
	if crID != nil {
		d.CareRequest = &triage.CareRequest{ID: *crID, ChiefComplaint: deref(crComplaint)}
		if crRisk != nil {
			d.CareRequest.RiskScore = *crRisk
		}
		if len(crInsurances) > 0 {
			if err := json.Unmarshal(crInsurances, &d.CareRequest.Insurances); err != nil {
				return nil, fmt.Errorf("unmarshal insurances: %w", err)
			}
		}
	}
	return &d, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
