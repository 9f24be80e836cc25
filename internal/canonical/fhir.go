package canonical

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FromFHIR maps a single FHIR R4 resource (decoded JSON) to its canonical
// form. Unsupported resource types are an error; missing optional attributes
// are not.
func FromFHIR(partnerID string, res map[string]interface{}) (Resource, error) {
	switch str(res["resourceType"]) {
	case "Patient":
		return patientFromFHIR(partnerID, res), nil
	case "Observation":
		return observationFromFHIR(partnerID, res), nil
	case "Appointment":
		return appointmentFromFHIR(partnerID, res), nil
	default:
		return Resource{}, fmt.Errorf("canonical: unsupported FHIR resource type %q", str(res["resourceType"]))
	}
}

// ResourcesFromBundle maps every entry of a FHIR searchset bundle to canonical
// form. Entries that fail to convert are counted and skipped; one bad entry
// never discards the rest of the page.
func ResourcesFromBundle(partnerID string, bundle map[string]interface{}) (resources []Resource, failed int) {
	entries, _ := bundle["entry"].([]interface{})
	for _, e := range entries {
		entry, ok := e.(map[string]interface{})
		if !ok {
			failed++
			continue
		}
		res, ok := entry["resource"].(map[string]interface{})
		if !ok {
			failed++
			continue
		}
		r, err := FromFHIR(partnerID, res)
		if err != nil {
			failed++
			continue
		}
		resources = append(resources, r)
	}
	return resources, failed
}

// ToFHIR renders a canonical Resource as a FHIR R4 JSON structure for
// outbound push.
func (r Resource) ToFHIR() map[string]interface{} {
	switch r.Type {
	case TypePatient:
		return r.Patient.toFHIR()
	case TypeObservation:
		return r.Observation.toFHIR()
	case TypeAppointment:
		return r.Appointment.toFHIR()
	}
	return nil
}

func patientFromFHIR(partnerID string, res map[string]interface{}) Resource {
	id := str(res["id"])
	if id == "" {
		id = uuid.New().String()
	}
	p := &Patient{
		ID:        id,
		BirthDate: str(res["birthDate"]),
		Gender:    str(res["gender"]),
	}

	if names, ok := res["name"].([]interface{}); ok && len(names) > 0 {
		if name, ok := names[0].(map[string]interface{}); ok {
			p.FamilyName = str(name["family"])
			if given, ok := name["given"].([]interface{}); ok {
				if len(given) > 0 {
					p.GivenName = str(given[0])
				}
				if len(given) > 1 {
					p.MiddleName = str(given[1])
				}
			}
		}
	}

	if addrs, ok := res["address"].([]interface{}); ok && len(addrs) > 0 {
		if addr, ok := addrs[0].(map[string]interface{}); ok {
			if lines, ok := addr["line"].([]interface{}); ok && len(lines) > 0 {
				p.AddressLine = str(lines[0])
			}
			p.City = str(addr["city"])
			p.State = str(addr["state"])
			p.PostalCode = str(addr["postalCode"])
			p.Country = str(addr["country"])
		}
	}

	if telecoms, ok := res["telecom"].([]interface{}); ok {
		for _, t := range telecoms {
			tc, ok := t.(map[string]interface{})
			if !ok || str(tc["system"]) != "phone" {
				continue
			}
			switch str(tc["use"]) {
			case "work":
				p.PhoneWork = str(tc["value"])
			default:
				p.PhoneHome = str(tc["value"])
			}
		}
	}

	src := Provenance{PartnerID: partnerID, ResourceID: id}
	return NewResource(p, src, metaUpdated(res))
}

func (p *Patient) toFHIR() map[string]interface{} {
	given := []interface{}{}
	if p.GivenName != "" {
		given = append(given, p.GivenName)
	}
	if p.MiddleName != "" {
		given = append(given, p.MiddleName)
	}
	out := map[string]interface{}{
		"resourceType": "Patient",
		"id":           p.ID,
		"name": []interface{}{map[string]interface{}{
			"use":    "official",
			"family": p.FamilyName,
			"given":  given,
		}},
	}
	if p.BirthDate != "" {
		out["birthDate"] = p.BirthDate
	}
	if p.Gender != "" {
		out["gender"] = p.Gender
	}
	if p.AddressLine != "" || p.City != "" {
		out["address"] = []interface{}{map[string]interface{}{
			"use":        "home",
			"line":       []interface{}{p.AddressLine},
			"city":       p.City,
			"state":      p.State,
			"postalCode": p.PostalCode,
			"country":    p.Country,
		}}
	}
	return out
}

func observationFromFHIR(partnerID string, res map[string]interface{}) Resource {
	id := str(res["id"])
	if id == "" {
		id = uuid.New().String()
	}
	obs := &Observation{
		ID:          id,
		EffectiveAt: str(res["effectiveDateTime"]),
		Status:      str(res["status"]),
	}

	if subject, ok := res["subject"].(map[string]interface{}); ok {
		obs.PatientID = strings.TrimPrefix(str(subject["reference"]), "Patient/")
	}

	if code, ok := res["code"].(map[string]interface{}); ok {
		if codings, ok := code["coding"].([]interface{}); ok && len(codings) > 0 {
			if coding, ok := codings[0].(map[string]interface{}); ok {
				obs.Code = str(coding["code"])
				obs.Display = str(coding["display"])
				obs.System = str(coding["system"])
			}
		}
	}

	if vq, ok := res["valueQuantity"].(map[string]interface{}); ok {
		if v, ok := vq["value"].(float64); ok {
			obs.ValueNumeric = &v
		}
		obs.Unit = str(vq["unit"])
	} else {
		obs.ValueText = str(res["valueString"])
	}

	if interps, ok := res["interpretation"].([]interface{}); ok && len(interps) > 0 {
		if interp, ok := interps[0].(map[string]interface{}); ok {
			if codings, ok := interp["coding"].([]interface{}); ok && len(codings) > 0 {
				if coding, ok := codings[0].(map[string]interface{}); ok {
					obs.Severity = SeverityForFlag(str(coding["code"]))
				}
			}
		}
	}

	src := Provenance{PartnerID: partnerID, ResourceID: id}
	return NewResource(obs, src, metaUpdated(res))
}

func (o *Observation) toFHIR() map[string]interface{} {
	out := map[string]interface{}{
		"resourceType": "Observation",
		"id":           o.ID,
		"status":       o.Status,
		"subject":      map[string]interface{}{"reference": "Patient/" + o.PatientID},
		"code": map[string]interface{}{
			"coding": []interface{}{map[string]interface{}{
				"system":  o.System,
				"code":    o.Code,
				"display": o.Display,
			}},
			"text": o.Display,
		},
	}
	if o.ValueNumeric != nil {
		out["valueQuantity"] = map[string]interface{}{
			"value": *o.ValueNumeric,
			"unit":  o.Unit,
		}
	} else if o.ValueText != "" {
		out["valueString"] = o.ValueText
	}
	if o.EffectiveAt != "" {
		out["effectiveDateTime"] = o.EffectiveAt
	}
	if o.ReferenceRange != "" {
		out["referenceRange"] = []interface{}{map[string]interface{}{"text": o.ReferenceRange}}
	}
	return out
}

func appointmentFromFHIR(partnerID string, res map[string]interface{}) Resource {
	id := str(res["id"])
	if id == "" {
		id = uuid.New().String()
	}
	appt := &Appointment{
		ID:          id,
		Start:       str(res["start"]),
		End:         str(res["end"]),
		Description: str(res["description"]),
		Status:      str(res["status"]),
	}

	if participants, ok := res["participant"].([]interface{}); ok {
		for _, p := range participants {
			part, ok := p.(map[string]interface{})
			if !ok {
				continue
			}
			actor, ok := part["actor"].(map[string]interface{})
			if !ok {
				continue
			}
			ref := str(actor["reference"])
			if strings.HasPrefix(ref, "Patient/") {
				appt.PatientID = strings.TrimPrefix(ref, "Patient/")
				appt.PatientName = str(actor["display"])
				break
			}
		}
	}

	src := Provenance{PartnerID: partnerID, ResourceID: id}
	return NewResource(appt, src, metaUpdated(res))
}

func (a *Appointment) toFHIR() map[string]interface{} {
	out := map[string]interface{}{
		"resourceType": "Appointment",
		"id":           a.ID,
		"status":       a.Status,
		"participant": []interface{}{map[string]interface{}{
			"actor": map[string]interface{}{
				"reference": "Patient/" + a.PatientID,
				"display":   a.PatientName,
			},
			"status": "accepted",
		}},
	}
	if a.Start != "" {
		out["start"] = a.Start
	}
	if a.End != "" {
		out["end"] = a.End
	}
	if a.Description != "" {
		out["description"] = a.Description
	}
	return out
}

// metaUpdated reads meta.lastUpdated, falling back to now.
func metaUpdated(res map[string]interface{}) time.Time {
	if meta, ok := res["meta"].(map[string]interface{}); ok {
		if t, err := time.Parse(time.RFC3339, str(meta["lastUpdated"])); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
