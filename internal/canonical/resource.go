// Package canonical defines the platform's canonical clinical resource shapes
// and the pure conversion functions between those shapes and the two partner
// representations the gateway speaks: HL7 v2.x segments and FHIR R4 JSON.
// Nothing in this package performs I/O.
package canonical

import (
	"time"

	"github.com/google/uuid"
)

// ResourceType enumerates the canonical resource kinds the gateway exchanges.
type ResourceType string

const (
	TypePatient     ResourceType = "Patient"
	TypeObservation ResourceType = "Observation"
	TypeAppointment ResourceType = "Appointment"
)

// Severity is the canonical interpretation of a result's abnormal flag.
type Severity string

const (
	SeverityNormal         Severity = "normal"
	SeverityLow            Severity = "low"
	SeverityHigh           Severity = "high"
	SeverityCriticallyLow  Severity = "critically-low"
	SeverityCriticallyHigh Severity = "critically-high"
	SeverityAbnormal       Severity = "abnormal"
)

// abnormalFlags maps HL7 OBX-8 abnormal flags to canonical severities.
// Unrecognized flags fall back to SeverityAbnormal rather than failing.
var abnormalFlags = map[string]Severity{
	"N":  SeverityNormal,
	"L":  SeverityLow,
	"H":  SeverityHigh,
	"LL": SeverityCriticallyLow,
	"HH": SeverityCriticallyHigh,
	"A":  SeverityAbnormal,
}

// SeverityForFlag resolves an abnormal flag to a Severity. An empty flag is
// normal; anything unrecognized is generically abnormal.
func SeverityForFlag(flag string) Severity {
	if flag == "" {
		return SeverityNormal
	}
	if s, ok := abnormalFlags[flag]; ok {
		return s
	}
	return SeverityAbnormal
}

// severityFlags is the outbound inverse of abnormalFlags. An unset severity
// renders as an empty OBX-8.
var severityFlags = map[Severity]string{
	SeverityNormal:         "N",
	SeverityLow:            "L",
	SeverityHigh:           "H",
	SeverityCriticallyLow:  "LL",
	SeverityCriticallyHigh: "HH",
	SeverityAbnormal:       "A",
}

// FlagForSeverity renders a Severity as an HL7 OBX-8 abnormal flag.
func FlagForSeverity(s Severity) string {
	return severityFlags[s]
}

// Provenance records where a resource came from.
type Provenance struct {
	PartnerID  string `json:"partner_id"`
	ResourceID string `json:"resource_id"`
}

// Patient is the canonical demographic record.
type Patient struct {
	ID          string `json:"id"`
	FamilyName  string `json:"family_name"`
	GivenName   string `json:"given_name"`
	MiddleName  string `json:"middle_name,omitempty"`
	BirthDate   string `json:"birth_date,omitempty"` // ISO-8601 date
	Gender      string `json:"gender,omitempty"`     // male, female, other, unknown
	AddressLine string `json:"address_line,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`
	Country     string `json:"country,omitempty"`
	PhoneHome   string `json:"phone_home,omitempty"`
	PhoneWork   string `json:"phone_work,omitempty"`

	// Visit carries encounter context when the source message included it
	// (HL7 PV1). Nil for plain demographic updates.
	Visit *Visit `json:"visit,omitempty"`

	// Extensions preserves vendor extension data (HL7 Z-segments) verbatim.
	Extensions map[string][]string `json:"extensions,omitempty"`
}

// Visit is the encounter context attached to an admission or transfer event.
type Visit struct {
	PatientClass    string `json:"patient_class,omitempty"` // I, O, E, ...
	Location        string `json:"location,omitempty"`
	AdmissionType   string `json:"admission_type,omitempty"`
	AttendingDoctor string `json:"attending_doctor,omitempty"`
	ReferringDoctor string `json:"referring_doctor,omitempty"`
	HospitalService string `json:"hospital_service,omitempty"`
	AdmittedAt      string `json:"admitted_at,omitempty"` // ISO-8601
	DischargedAt    string `json:"discharged_at,omitempty"`
}

// Observation is the canonical clinical result record. Exactly one of
// ValueNumeric / ValueText is populated; a numeric wire value that fails
// coercion degrades to ValueText.
type Observation struct {
	ID             string   `json:"id"`
	PatientID      string   `json:"patient_id"`
	Code           string   `json:"code"`
	Display        string   `json:"display,omitempty"`
	System         string   `json:"system,omitempty"`
	ValueNumeric   *float64 `json:"value_numeric,omitempty"`
	Unit           string   `json:"unit,omitempty"`
	ValueText      string   `json:"value_text,omitempty"`
	ReferenceRange string   `json:"reference_range,omitempty"`
	Severity       Severity `json:"severity,omitempty"`
	EffectiveAt    string   `json:"effective_at,omitempty"` // ISO-8601
	Status         string   `json:"status,omitempty"`
}

// Appointment is the canonical scheduling record.
type Appointment struct {
	ID          string `json:"id"`
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name,omitempty"`
	Start       string `json:"start,omitempty"` // ISO-8601
	End         string `json:"end,omitempty"`
	Description string `json:"description,omitempty"`
	ServiceType string `json:"service_type,omitempty"`
	Status      string `json:"status,omitempty"`
}

// Resource is the tagged variant over the canonical resource kinds. Exactly
// one payload pointer is non-nil, matching Type. A Resource is never mutated
// after creation; derive changed copies with WithUpdate, which assigns a new
// version marker.
type Resource struct {
	Type        ResourceType `json:"type"`
	Patient     *Patient     `json:"patient,omitempty"`
	Observation *Observation `json:"observation,omitempty"`
	Appointment *Appointment `json:"appointment,omitempty"`

	Source      Provenance `json:"source"`
	Version     string     `json:"version"`
	LastUpdated time.Time  `json:"last_updated"`
}

// NewResource wraps a payload in a Resource with a fresh version marker.
// payload must be a *Patient, *Observation, or *Appointment.
func NewResource(payload interface{}, source Provenance, lastUpdated time.Time) Resource {
	r := Resource{
		Source:      source,
		Version:     uuid.New().String(),
		LastUpdated: lastUpdated,
	}
	switch p := payload.(type) {
	case *Patient:
		r.Type = TypePatient
		r.Patient = p
	case *Observation:
		r.Type = TypeObservation
		r.Observation = p
	case *Appointment:
		r.Type = TypeAppointment
		r.Appointment = p
	}
	return r
}

// ID returns the payload's native identifier.
func (r Resource) ID() string {
	switch r.Type {
	case TypePatient:
		if r.Patient != nil {
			return r.Patient.ID
		}
	case TypeObservation:
		if r.Observation != nil {
			return r.Observation.ID
		}
	case TypeAppointment:
		if r.Appointment != nil {
			return r.Appointment.ID
		}
	}
	return ""
}

// Key identifies the logical resource across systems: partner-independent
// type plus source resource id. Two Resources with the same Key are versions
// of the same logical record.
func (r Resource) Key() string {
	return string(r.Type) + "/" + r.Source.ResourceID
}

// WithUpdate returns a copy carrying a new version marker and update time.
// The original is left untouched.
func (r Resource) WithUpdate(now time.Time) Resource {
	out := r
	out.Version = uuid.New().String()
	out.LastUpdated = now
	return out
}
