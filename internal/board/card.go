package board

import (
	"time"

	"github.com/linnemanlabs/reviewqueue/internal/status"
	"github.com/linnemanlabs/reviewqueue/internal/triage"
)

// Card is one request as rendered in a column.
type Card struct {
	ID                string    `json:"id"`
	StatusID          string    `json:"statusId"`
	MarketID          string    `json:"marketId"`
	PatientName       string    `json:"patientName,omitempty"`
	ChiefComplaint    string    `json:"chiefComplaint,omitempty"`
	RiskScore         float64   `json:"riskScore,omitempty"`
	AssignedUserID    string    `json:"assignedUserId,omitempty"`
	InsuranceVerified bool      `json:"insuranceVerified"`
	NotesCount        int       `json:"notesCount"`
	UpdatedAt         time.Time `json:"updatedAt"`
	PrimaryLabel      string    `json:"primaryLabel"`
	SecondaryLabel    string    `json:"secondaryLabel,omitempty"`
	Selected          bool      `json:"selected"`
	ActionsDisabled   bool      `json:"actionsDisabled"`
}

// NewCard derives the card view of l sitting in column st.
func NewCard(l triage.Listing, st status.Status, selectedID string, actionsDisabled bool) Card {
	r := l.ServiceRequest
	c := Card{
		ID:                r.ID,
		StatusID:          r.StatusID,
		MarketID:          r.MarketID,
		PatientName:       l.Patient.FullName(),
		InsuranceVerified: r.InsuranceVerified(),
		NotesCount:        l.NotesCount,
		UpdatedAt:         r.UpdatedAt,
		PrimaryLabel:      triage.PrimaryLabel(st.Slug),
		SecondaryLabel:    triage.SecondaryLabel(st.Slug),
		Selected:          selectedID != "" && r.ID == selectedID,
		ActionsDisabled:   actionsDisabled,
	}
	if r.AssignedUserID != nil {
		c.AssignedUserID = *r.AssignedUserID
	}
	if l.CareRequest != nil {
		c.ChiefComplaint = l.CareRequest.ChiefComplaint
		c.RiskScore = l.CareRequest.RiskScore
	}
	return c
}

// Column is one rendered status column. A loading column has no cards yet.
type Column struct {
	Status  status.Status `json:"status"`
	Loading bool          `json:"loading"`
	Cards   []Card        `json:"cards"`
}
