package canonical

import (
	"strings"
	"testing"

	"github.com/ihep/integration-gateway/internal/platform/hl7v2"
)

const sampleADT = "MSH|^~\\&|SendingApp|SendingFac|IHEP_GW|IHEPFac|20240115143025||ADT^A01|MSG00001|P|2.5.1\rPID|1||MRN12345^^^MRNAuth||Doe^John^A||19800515|M|||123 Main St^^Springfield^IL^62701||555-555-1234|555-555-9999\rZPI|1|vip-flag"

const sampleORU = "MSH|^~\\&|LabSystem|LabFac|IHEP_GW|IHEPFac|20240115150000||ORU^R01|CTRL1|P|2.5.1\rPID|1||MRN12345^^^MRNAuth||Doe^John||19800515|M\rOBR|1|ORD001|LAB001|2345-7^Glucose^LN|||20240115140000\rOBX|1|NM|2345-7^Glucose^LN||95|mg/dL|70-100|N|||F|||20240115140500\rOBX|2|NM|718-7^Hemoglobin^LN||not-a-number|g/dL|12.0-17.5|HX|||F"

const sampleSIU = "MSH|^~\\&|SchedApp|SchedFac|IHEP_GW|IHEPFac|20240116090000||SIU^S12|MSG00003|P|2.5.1\rSCH|PLACER1|FILLER1||||CHECKUP|Annual physical|ROUTINE|30|MIN|202401200930^202401201000\rPID|1||MRN777^^^Auth||Roe^Jane||19751230|F"

func mustParse(t *testing.T, raw string) *hl7v2.Message {
	t.Helper()
	msg, err := hl7v2.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("failed to parse sample: %v", err)
	}
	return msg
}

// =========== Patient ===========

func TestPatientFromHL7(t *testing.T) {
	res, err := PatientFromHL7(mustParse(t, sampleADT), "legacy-hosp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Type != TypePatient {
		t.Fatalf("expected Patient resource, got %q", res.Type)
	}
	p := res.Patient
	if p.ID != "MRN12345" {
		t.Errorf("expected ID 'MRN12345', got %q", p.ID)
	}
	if p.FamilyName != "Doe" || p.GivenName != "John" || p.MiddleName != "A" {
		t.Errorf("unexpected name: %q %q %q", p.FamilyName, p.GivenName, p.MiddleName)
	}
	if p.BirthDate != "1980-05-15" {
		t.Errorf("expected birth date '1980-05-15', got %q", p.BirthDate)
	}
	if p.Gender != "male" {
		t.Errorf("expected gender 'male', got %q", p.Gender)
	}
	if p.AddressLine != "123 Main St" || p.City != "Springfield" || p.State != "IL" || p.PostalCode != "62701" {
		t.Errorf("unexpected address: %+v", p)
	}
	if p.PhoneHome != "555-555-1234" || p.PhoneWork != "555-555-9999" {
		t.Errorf("unexpected phones: %q / %q", p.PhoneHome, p.PhoneWork)
	}

	if res.Source.PartnerID != "legacy-hosp" || res.Source.ResourceID != "MRN12345" {
		t.Errorf("unexpected provenance: %+v", res.Source)
	}
	if res.Version == "" {
		t.Error("expected version marker")
	}
	if res.LastUpdated.Year() != 2024 {
		t.Errorf("expected message timestamp as last updated, got %v", res.LastUpdated)
	}
}

func TestPatientFromHL7_PreservesZSegments(t *testing.T) {
	res, err := PatientFromHL7(mustParse(t, sampleADT), "legacy-hosp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fields, ok := res.Patient.Extensions["ZPI"]
	if !ok {
		t.Fatal("expected ZPI extension data")
	}
	if len(fields) != 2 || fields[1] != "vip-flag" {
		t.Errorf("unexpected extension fields: %v", fields)
	}
}

func TestPatientFromHL7_UnknownGender(t *testing.T) {
	raw := strings.Replace(sampleADT, "|M|", "|X|", 1)
	res, err := PatientFromHL7(mustParse(t, raw), "p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Patient.Gender != "unknown" {
		t.Errorf("expected 'unknown' for unrecognized code, got %q", res.Patient.Gender)
	}
}

func TestPatientFromHL7_NoPID(t *testing.T) {
	raw := "MSH|^~\\&|a|b|c|d|20240101||ADT^A01|X|P|2.5.1\rEVN|A01|20240101"
	if _, err := PatientFromHL7(mustParse(t, raw), "p"); err == nil {
		t.Fatal("expected error for message without PID")
	}
}

// =========== Observation ===========

func TestObservationsFromHL7(t *testing.T) {
	resources := ObservationsFromHL7(mustParse(t, sampleORU), "lab-partner")
	if len(resources) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(resources))
	}

	glucose := resources[0].Observation
	if glucose.Code != "2345-7" || glucose.Display != "Glucose" {
		t.Errorf("unexpected coding: %q %q", glucose.Code, glucose.Display)
	}
	if glucose.ValueNumeric == nil || *glucose.ValueNumeric != 95 {
		t.Errorf("expected numeric value 95, got %v", glucose.ValueNumeric)
	}
	if glucose.Unit != "mg/dL" {
		t.Errorf("expected unit 'mg/dL', got %q", glucose.Unit)
	}
	if glucose.Severity != SeverityNormal {
		t.Errorf("expected severity 'normal', got %q", glucose.Severity)
	}
	if glucose.ReferenceRange != "70-100" {
		t.Errorf("expected reference range '70-100', got %q", glucose.ReferenceRange)
	}
	if glucose.PatientID != "MRN12345" {
		t.Errorf("expected patient 'MRN12345', got %q", glucose.PatientID)
	}
	if glucose.EffectiveAt != "2024-01-15T14:05:00Z" {
		t.Errorf("unexpected effective time: %q", glucose.EffectiveAt)
	}
}

func TestObservationsFromHL7_MalformedValueDegradesToText(t *testing.T) {
	resources := ObservationsFromHL7(mustParse(t, sampleORU), "lab-partner")

	bad := resources[1].Observation
	if bad.ValueNumeric != nil {
		t.Error("expected no numeric value for unparseable NM field")
	}
	if bad.ValueText != "not-a-number" {
		t.Errorf("expected text fallback, got %q", bad.ValueText)
	}
	// Unrecognized abnormal flag falls back to the generic severity.
	if bad.Severity != SeverityAbnormal {
		t.Errorf("expected severity 'abnormal' for unknown flag, got %q", bad.Severity)
	}
}

func TestSeverityForFlag(t *testing.T) {
	cases := []struct {
		flag string
		want Severity
	}{
		{"N", SeverityNormal},
		{"H", SeverityHigh},
		{"L", SeverityLow},
		{"HH", SeverityCriticallyHigh},
		{"LL", SeverityCriticallyLow},
		{"A", SeverityAbnormal},
		{"??", SeverityAbnormal},
		{"", SeverityNormal},
	}
	for _, tc := range cases {
		if got := SeverityForFlag(tc.flag); got != tc.want {
			t.Errorf("SeverityForFlag(%q): expected %q, got %q", tc.flag, tc.want, got)
		}
	}
}

// =========== Appointment ===========

func TestAppointmentFromHL7(t *testing.T) {
	res, err := AppointmentFromHL7(mustParse(t, sampleSIU), "sched-partner")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a := res.Appointment
	if a.ID != "FILLER1" {
		t.Errorf("expected filler appointment id, got %q", a.ID)
	}
	if a.Start != "2024-01-20T09:30:00Z" || a.End != "2024-01-20T10:00:00Z" {
		t.Errorf("unexpected window: %q - %q", a.Start, a.End)
	}
	if a.Description != "Annual physical" {
		t.Errorf("unexpected description: %q", a.Description)
	}
	if a.PatientID != "MRN777" {
		t.Errorf("expected patient 'MRN777', got %q", a.PatientID)
	}
	if a.PatientName != "Jane Roe" {
		t.Errorf("expected patient name 'Jane Roe', got %q", a.PatientName)
	}
	if a.Status != "booked" {
		t.Errorf("expected status 'booked', got %q", a.Status)
	}
}

// =========== Outbound ===========

func TestObservationToHL7_RoundTrip(t *testing.T) {
	v := 7.2
	obs := &Observation{
		ID:             "obs-1",
		PatientID:      "MRN555",
		Code:           "4548-4",
		Display:        "HbA1c",
		ValueNumeric:   &v,
		Unit:           "%",
		ReferenceRange: "4.0-5.6",
		Severity:       SeverityHigh,
		Status:         "final",
	}

	raw := ObservationToHL7(obs, "IHEP_GW", "IHEP", "PartnerApp", "PartnerFac")
	msg, err := hl7v2.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("generated message failed to parse: %v", err)
	}

	if msg.Type != "ORU^R01" {
		t.Errorf("expected ORU^R01, got %q", msg.Type)
	}
	obx := msg.Segment("OBX")
	if obx == nil {
		t.Fatal("expected OBX segment")
	}
	if got := obx.GetField(2); got != "NM" {
		t.Errorf("expected NM value type, got %q", got)
	}
	if got := obx.GetField(5); got != "7.2" {
		t.Errorf("expected value '7.2', got %q", got)
	}
	if got := obx.GetField(6); got != "%" {
		t.Errorf("expected unit '%%', got %q", got)
	}
	if got := obx.GetField(7); got != "4.0-5.6" {
		t.Errorf("expected reference range at OBX-7, got %q", got)
	}
	if got := obx.GetField(8); got != "H" {
		t.Errorf("expected abnormal flag 'H' at OBX-8, got %q", got)
	}
	if got := obx.GetField(11); got != "F" {
		t.Errorf("expected result status 'F' at OBX-11, got %q", got)
	}
	if got := obx.GetField(12); got != "" {
		t.Errorf("expected empty OBX-12, got %q", got)
	}

	back := ObservationsFromHL7(msg, "partner")
	if len(back) != 1 {
		t.Fatalf("expected 1 observation back, got %d", len(back))
	}
	if back[0].Observation.ValueNumeric == nil || *back[0].Observation.ValueNumeric != 7.2 {
		t.Errorf("round-trip value mismatch: %v", back[0].Observation.ValueNumeric)
	}
	if back[0].Observation.Severity != SeverityHigh {
		t.Errorf("round-trip severity mismatch: %q", back[0].Observation.Severity)
	}
}

// =========== Immutability ===========

func TestResourceWithUpdate(t *testing.T) {
	res, err := PatientFromHL7(mustParse(t, sampleADT), "p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated := res.WithUpdate(res.LastUpdated.Add(1))
	if updated.Version == res.Version {
		t.Error("expected a new version marker")
	}
	if updated.Key() != res.Key() {
		t.Error("logical key must be stable across versions")
	}
	if res.LastUpdated.Equal(updated.LastUpdated) {
		t.Error("expected updated timestamp to change")
	}
}

func TestPatientFromHL7_VisitContext(t *testing.T) {
	raw := sampleADT + "\rPV1|1|I|ICU^201^A|E|||1234^Welby^Marcus|5678^Curie^Marie||MED"
	res, err := PatientFromHL7(mustParse(t, raw), "legacy-hosp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v := res.Patient.Visit
	if v == nil {
		t.Fatal("expected visit context from PV1 segment")
	}
	if v.PatientClass != "I" {
		t.Errorf("expected patient class 'I', got %q", v.PatientClass)
	}
	if v.Location != "ICU" {
		t.Errorf("expected location 'ICU', got %q", v.Location)
	}
	if v.AdmissionType != "E" {
		t.Errorf("expected admission type 'E', got %q", v.AdmissionType)
	}
	if v.AttendingDoctor != "Welby" {
		t.Errorf("expected attending doctor 'Welby', got %q", v.AttendingDoctor)
	}
	if v.ReferringDoctor != "Curie" {
		t.Errorf("expected referring doctor 'Curie', got %q", v.ReferringDoctor)
	}
	if v.HospitalService != "MED" {
		t.Errorf("expected hospital service 'MED', got %q", v.HospitalService)
	}
}

func TestPatientFromHL7_NoVisitSegment(t *testing.T) {
	res, err := PatientFromHL7(mustParse(t, sampleADT), "legacy-hosp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Patient.Visit != nil {
		t.Errorf("expected nil visit without PV1, got %+v", res.Patient.Visit)
	}
}
