package canonical

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ihep/integration-gateway/internal/platform/hl7v2"
)

// genderCodes maps HL7 administrative sex codes (PID-8) to canonical gender.
var genderCodes = map[string]string{
	"M": "male",
	"F": "female",
	"O": "other",
	"U": "unknown",
}

// PatientFromHL7 maps the PID segment of a parsed message to a canonical
// Patient. Z-segments are carried along in Extensions so vendor data survives
// the round trip. A message without a PID segment is an error; individual
// missing fields are not.
func PatientFromHL7(msg *hl7v2.Message, partnerID string) (Resource, error) {
	pid := msg.Segment("PID")
	if pid == nil {
		return Resource{}, fmt.Errorf("canonical: message %s has no PID segment", msg.ControlID)
	}

	id := pid.GetComponent(3, 1)
	if id == "" {
		id = pid.GetField(2)
	}
	if id == "" {
		id = uuid.New().String()
	}

	gender, ok := genderCodes[strings.ToUpper(pid.GetField(8))]
	if !ok {
		gender = "unknown"
	}

	p := &Patient{
		ID:         id,
		FamilyName: pid.GetComponent(5, 1),
		GivenName:  pid.GetComponent(5, 2),
		MiddleName: pid.GetComponent(5, 3),
		BirthDate:  hl7v2.NormalizeTimestamp(pid.GetField(7)),
		Gender:     gender,
		PhoneHome:  pid.GetField(13),
		PhoneWork:  pid.GetField(14),
	}

	// PID-11: street^other^city^state^zip^country.
	p.AddressLine = pid.GetComponent(11, 1)
	p.City = pid.GetComponent(11, 3)
	p.State = pid.GetComponent(11, 4)
	p.PostalCode = pid.GetComponent(11, 5)
	p.Country = pid.GetComponent(11, 6)

	if pv1 := msg.Segment("PV1"); pv1 != nil {
		p.Visit = &Visit{
			PatientClass:    pv1.GetField(2),
			Location:        pv1.GetComponent(3, 1),
			AdmissionType:   pv1.GetField(4),
			AttendingDoctor: pv1.GetComponent(7, 2),
			ReferringDoctor: pv1.GetComponent(8, 2),
			HospitalService: pv1.GetField(10),
			AdmittedAt:      hl7v2.NormalizeTimestamp(pv1.GetField(44)),
			DischargedAt:    hl7v2.NormalizeTimestamp(pv1.GetField(45)),
		}
	}

	if len(msg.ZSegments) > 0 {
		p.Extensions = make(map[string][]string, len(msg.ZSegments))
		for tag, z := range msg.ZSegments {
			p.Extensions[tag] = z.Fields
		}
	}

	src := Provenance{PartnerID: partnerID, ResourceID: id}
	return NewResource(p, src, updatedAt(msg)), nil
}

// ObservationsFromHL7 maps every OBX segment of a parsed message (typically
// ORU^R01) to canonical Observations. A malformed OBX value never aborts the
// rest of the message: numeric coercion failures degrade to text values.
func ObservationsFromHL7(msg *hl7v2.Message, partnerID string) []Resource {
	pid := msg.Segment("PID")
	patientID := ""
	if pid != nil {
		patientID = pid.GetComponent(3, 1)
	}

	var out []Resource
	for _, obx := range msg.AllSegments("OBX") {
		obs := &Observation{
			ID:             uuid.New().String(),
			PatientID:      patientID,
			Code:           obx.GetComponent(3, 1),
			Display:        obx.GetComponent(3, 2),
			System:         obx.GetComponent(3, 3),
			ReferenceRange: obx.GetField(7),
			Severity:       SeverityForFlag(obx.GetField(8)),
			EffectiveAt:    hl7v2.NormalizeTimestamp(obx.GetField(14)),
			Status:         "final",
		}

		raw := obx.GetField(5)
		if obx.GetField(2) == "NM" {
			if v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
				obs.ValueNumeric = &v
				obs.Unit = obx.GetComponent(6, 1)
			} else {
				obs.ValueText = raw
			}
		} else {
			obs.ValueText = raw
		}

		src := Provenance{PartnerID: partnerID, ResourceID: obs.ID}
		out = append(out, NewResource(obs, src, updatedAt(msg)))
	}
	return out
}

// AppointmentFromHL7 maps the SCH segment of a parsed message (SIU family)
// to a canonical Appointment.
func AppointmentFromHL7(msg *hl7v2.Message, partnerID string) (Resource, error) {
	sch := msg.Segment("SCH")
	if sch == nil {
		return Resource{}, fmt.Errorf("canonical: message %s has no SCH segment", msg.ControlID)
	}

	pid := msg.Segment("PID")
	patientID, patientName := "", ""
	if pid != nil {
		patientID = pid.GetComponent(3, 1)
		patientName = strings.TrimSpace(pid.GetComponent(5, 2) + " " + pid.GetComponent(5, 1))
	}

	id := sch.GetComponent(2, 1)
	if id == "" {
		id = sch.GetComponent(1, 1)
	}
	if id == "" {
		id = uuid.New().String()
	}

	appt := &Appointment{
		ID:          id,
		PatientID:   patientID,
		PatientName: patientName,
		// SCH-11: timing quantity, start^end within the repetition.
		Start:       hl7v2.NormalizeTimestamp(sch.GetComponent(11, 1)),
		End:         hl7v2.NormalizeTimestamp(sch.GetComponent(11, 2)),
		Description: sch.GetField(7),
		ServiceType: sch.GetField(8),
		Status:      "booked",
	}

	src := Provenance{PartnerID: partnerID, ResourceID: id}
	return NewResource(appt, src, updatedAt(msg)), nil
}

// ObservationToHL7 renders a canonical Observation as an outbound ORU^R01
// message, ready for MLLP framing. sendingApp/sendingFac identify this
// gateway; receivingApp/receivingFac the partner interface engine.
func ObservationToHL7(obs *Observation, sendingApp, sendingFac, receivingApp, receivingFac string) string {
	now := time.Now().UTC().Format("20060102150405")
	controlID := strings.ReplaceAll(uuid.New().String(), "-", "")[:20]

	valueType := "ST"
	value := obs.ValueText
	if obs.ValueNumeric != nil {
		valueType = "NM"
		value = strconv.FormatFloat(*obs.ValueNumeric, 'f', -1, 64)
	}

	segments := []string{
		"MSH|^~\\&|" + sendingApp + "|" + sendingFac + "|" + receivingApp + "|" + receivingFac +
			"|" + now + "||ORU^R01|" + controlID + "|P|2.5.1",
		"PID|||" + obs.PatientID + "^^^&MRN",
		"OBR|1||" + controlID + "|" + obs.Code + "^" + obs.Display + "^LN",
		// OBX-7 reference range, OBX-8 abnormal flag, OBX-11 result status.
		"OBX|1|" + valueType + "|" + obs.Code + "^" + obs.Display + "^LN||" + value + "|" + obs.Unit + "|" +
			obs.ReferenceRange + "|" + FlagForSeverity(obs.Severity) + "|||F",
	}
	return strings.Join(segments, "\r")
}

// updatedAt picks the message timestamp when present, falling back to now.
func updatedAt(msg *hl7v2.Message) time.Time {
	if !msg.Timestamp.IsZero() {
		return msg.Timestamp.UTC()
	}
	return time.Now().UTC()
}
