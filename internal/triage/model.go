package triage

import "time"

// ServiceRequest is the canonical request record owned by the external store.
type ServiceRequest struct {
	ID                  string     `json:"id" yaml:"id"`
	MarketID            string     `json:"marketId" yaml:"marketId"`
	AssignedUserID      *string    `json:"assignedUserId,omitempty" yaml:"assignedUserId,omitempty"`
	UpdatedByUserID     *string    `json:"updatedByUserId,omitempty" yaml:"updatedByUserId,omitempty"`
	StatusID            string     `json:"statusId" yaml:"statusId"`
	IsInsuranceVerified *bool      `json:"isInsuranceVerified,omitempty" yaml:"isInsuranceVerified,omitempty"`
	CMSNumber           *string    `json:"cmsNumber,omitempty" yaml:"cmsNumber,omitempty"`
	PatientID           string     `json:"patientId,omitempty" yaml:"patientId,omitempty"`
	CareRequestID       string     `json:"careRequestId,omitempty" yaml:"careRequestId,omitempty"`
	RejectedAt          *time.Time `json:"rejectedAt,omitempty" yaml:"rejectedAt,omitempty"`
	UpdatedAt           time.Time  `json:"updatedAt" yaml:"updatedAt"`
}

// InsuranceVerified reports the verification flag, treating absent as false.
func (r *ServiceRequest) InsuranceVerified() bool {
	return r.IsInsuranceVerified != nil && *r.IsInsuranceVerified
}

// CMS returns the CMS number or the empty string.
func (r *ServiceRequest) CMS() string {
	if r.CMSNumber == nil {
		return ""
	}
	return *r.CMSNumber
}

// Patient is a read-only snapshot of the patient attached to a request.
type Patient struct {
	ID          string `json:"id" yaml:"id"`
	FirstName   string `json:"firstName" yaml:"firstName"`
	LastName    string `json:"lastName" yaml:"lastName"`
	DateOfBirth string `json:"dateOfBirth,omitempty" yaml:"dateOfBirth,omitempty"`
	Sex         string `json:"sex,omitempty" yaml:"sex,omitempty"`
}

// FullName joins first and last name.
func (p *Patient) FullName() string {
	switch {
	case p == nil:
		return ""
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// InsuranceDescriptor describes one insurance on file for a care request.
type InsuranceDescriptor struct {
	Priority  string `json:"priority,omitempty" yaml:"priority,omitempty"`
	PayerName string `json:"payerName,omitempty" yaml:"payerName,omitempty"`
	MemberID  string `json:"memberId,omitempty" yaml:"memberId,omitempty"`
}

// CareRequest is a read-only snapshot of the originating care request.
type CareRequest struct {
	ID             string                `json:"id" yaml:"id"`
	ChiefComplaint string                `json:"chiefComplaint,omitempty" yaml:"chiefComplaint,omitempty"`
	RiskScore      float64               `json:"riskScore,omitempty" yaml:"riskScore,omitempty"`
	Insurances     []InsuranceDescriptor `json:"insurances,omitempty" yaml:"insurances,omitempty"`
}

// Listing is one row of a column: the request joined with its display snapshots.
type Listing struct {
	ServiceRequest ServiceRequest `json:"serviceRequest"`
	Patient        *Patient       `json:"stationPatient,omitempty"`
	CareRequest    *CareRequest   `json:"stationCareRequest,omitempty"`
	NotesCount     int            `json:"notesCount"`
}

// Detail is the full record loaded for the detail panel.
type Detail struct {
	ServiceRequest ServiceRequest `json:"serviceRequest"`
	Patient        *Patient       `json:"stationPatient,omitempty"`
	CareRequest    *CareRequest   `json:"stationCareRequest,omitempty"`
}

// Note is a free-text note attached to a request. Only counted by this service.
type Note struct {
	ID        string    `json:"id" yaml:"id"`
	Body      string    `json:"body" yaml:"body"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
}

// User is a staff member who can own a request.
type User struct {
	ID        string `json:"id" yaml:"id"`
	FirstName string `json:"firstName" yaml:"firstName"`
	LastName  string `json:"lastName" yaml:"lastName"`
	Email     string `json:"email,omitempty" yaml:"email,omitempty"`
}

// Market is a service area shown on filter chips.
type Market struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	ShortName      string `json:"shortName,omitempty" yaml:"shortName,omitempty"`
	TZAbbreviation string `json:"tzAbbreviation,omitempty" yaml:"tzAbbreviation,omitempty"`
}

// ListQuery selects requests for a column. A nil field means "not sent"; the
// external search treats an absent filter differently from an empty one.
type ListQuery struct {
	StatusIDs  []string `json:"statusIds,omitempty"`
	MarketIDs  []string `json:"marketIds,omitempty"`
	SearchTerm *string  `json:"searchTerm,omitempty"`
}

// Patch is a partial update. Only non-nil fields are written.
type Patch struct {
	StatusID            *string `json:"statusId,omitempty"`
	AssignedUserID      *string `json:"assignedUserId,omitempty"`
	IsInsuranceVerified *bool   `json:"isInsuranceVerified,omitempty"`
	CMSNumber           *string `json:"cmsNumber,omitempty"`
}

// Apply writes the non-nil fields of p onto r.
func (p Patch) Apply(r *ServiceRequest) {
	if p.StatusID != nil {
		r.StatusID = *p.StatusID
	}
	if p.AssignedUserID != nil {
		id := *p.AssignedUserID
		r.AssignedUserID = &id
	}
	if p.IsInsuranceVerified != nil {
		v := *p.IsInsuranceVerified
		r.IsInsuranceVerified = &v
	}
	if p.CMSNumber != nil {
		cms := *p.CMSNumber
		r.CMSNumber = &cms
	}
}
