package hl7v2

import (
	"strings"
	"testing"
)

// =========== Sample Messages ===========

const sampleADT = "MSH|^~\\&|SendingApp|SendingFac|ReceivingApp|ReceivingFac|20240115143025||ADT^A01|MSG00001|P|2.5.1\rEVN|A01|20240115143025\rPID|1||MRN12345^^^MRNAuth||Doe^John^A||19800515|M|||123 Main St^^Springfield^IL^62701||555-555-1234\rPV1|1|I|ICU^101^A||||1234^Smith^Robert|||MED||||||||I|VN12345"

const sampleORU = "MSH|^~\\&|LabSystem|LabFac|IHEP_GW|IHEPFac|20240115150000||ORU^R01|MSG00002|P|2.5.1\rPID|1||MRN12345^^^MRNAuth||Doe^John||19800515|M\rOBR|1|ORD001|LAB001|85025^CBC^LN|||20240115140000\rOBX|1|NM|718-7^Hemoglobin^LN||13.5|g/dL|12.0-17.5|N|||F\rOBX|2|NM|4544-3^Hematocrit^LN||40.1|%|36.0-53.0|N|||F"

const sampleWithZ = "MSH|^~\\&|App|Fac|RecvApp|RecvFac|20240115143025||ADT^A08|MSG00009|P|2.5.1\rPID|1||MRN99^^^Auth||Roe^Jane||19751230|F\rZPI|1|custom-flag|vendor-data^more"

// =========== Parser Tests ===========

func TestParse_HeaderFields(t *testing.T) {
	msg, err := Parse([]byte(sampleADT))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Type != "ADT^A01" {
		t.Errorf("expected Type 'ADT^A01', got %q", msg.Type)
	}
	if msg.ControlID != "MSG00001" {
		t.Errorf("expected ControlID 'MSG00001', got %q", msg.ControlID)
	}
	if msg.Version != "2.5.1" {
		t.Errorf("expected Version '2.5.1', got %q", msg.Version)
	}
	if msg.SendingApp != "SendingApp" || msg.SendingFac != "SendingFac" {
		t.Errorf("unexpected sender: %q/%q", msg.SendingApp, msg.SendingFac)
	}
	if msg.ReceivingApp != "ReceivingApp" || msg.ReceivingFac != "ReceivingFac" {
		t.Errorf("unexpected receiver: %q/%q", msg.ReceivingApp, msg.ReceivingFac)
	}
	if msg.Timestamp.Year() != 2024 || msg.Timestamp.Month() != 1 || msg.Timestamp.Day() != 15 {
		t.Errorf("unexpected timestamp: %v", msg.Timestamp)
	}
}

func TestParse_SegmentOrder(t *testing.T) {
	msg, err := Parse([]byte(sampleADT))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	names := []string{"MSH", "EVN", "PID", "PV1"}
	if len(msg.Segments) != len(names) {
		t.Fatalf("expected %d segments, got %d", len(names), len(msg.Segments))
	}
	for i, name := range names {
		if msg.Segments[i].Name != name {
			t.Errorf("segment %d: expected %q, got %q", i, name, msg.Segments[i].Name)
		}
	}
}

func TestParse_FieldAccess(t *testing.T) {
	msg, err := Parse([]byte(sampleADT))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pid := msg.Segment("PID")
	if pid == nil {
		t.Fatal("expected PID segment")
	}

	if got := pid.GetComponent(3, 1); got != "MRN12345" {
		t.Errorf("PID-3.1: expected 'MRN12345', got %q", got)
	}
	if got := pid.GetComponent(5, 1); got != "Doe" {
		t.Errorf("PID-5.1: expected 'Doe', got %q", got)
	}
	if got := pid.GetComponent(5, 2); got != "John" {
		t.Errorf("PID-5.2: expected 'John', got %q", got)
	}
	if got := pid.GetField(7); got != "19800515" {
		t.Errorf("PID-7: expected '19800515', got %q", got)
	}
	if got := pid.GetField(8); got != "M" {
		t.Errorf("PID-8: expected 'M', got %q", got)
	}
}

func TestParse_OutOfRangeFieldIsEmpty(t *testing.T) {
	msg, err := Parse([]byte(sampleADT))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pid := msg.Segment("PID")

	if got := pid.GetField(99); got != "" {
		t.Errorf("expected empty string for out-of-range field, got %q", got)
	}
	if got := pid.GetField(0); got != "" {
		t.Errorf("expected empty string for index 0, got %q", got)
	}
	if got := pid.GetComponent(5, 99); got != "" {
		t.Errorf("expected empty string for out-of-range component, got %q", got)
	}
}

func TestParse_RepeatedSegments(t *testing.T) {
	msg, err := Parse([]byte(sampleORU))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	obx := msg.AllSegments("OBX")
	if len(obx) != 2 {
		t.Fatalf("expected 2 OBX segments, got %d", len(obx))
	}
	if got := obx[0].GetField(5); got != "13.5" {
		t.Errorf("OBX-5: expected '13.5', got %q", got)
	}
	if got := obx[1].GetComponent(3, 2); got != "Hematocrit" {
		t.Errorf("OBX-3.2: expected 'Hematocrit', got %q", got)
	}
}

func TestParse_ZSegmentsPreserved(t *testing.T) {
	msg, err := Parse([]byte(sampleWithZ))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	z, ok := msg.ZSegments["ZPI"]
	if !ok {
		t.Fatal("expected ZPI segment to be preserved")
	}
	if z.Raw != "ZPI|1|custom-flag|vendor-data^more" {
		t.Errorf("unexpected raw Z-segment: %q", z.Raw)
	}
	if len(z.Fields) != 3 || z.Fields[1] != "custom-flag" {
		t.Errorf("unexpected Z-segment fields: %v", z.Fields)
	}

	// Z-segments are not mixed into the typed segment list.
	if msg.Segment("ZPI") != nil {
		t.Error("ZPI should not appear among typed segments")
	}
}

func TestParse_NewlineFallback(t *testing.T) {
	raw := strings.ReplaceAll(sampleADT, "\r", "\n")
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msg.Segments) != 4 {
		t.Errorf("expected 4 segments, got %d", len(msg.Segments))
	}
}

func TestParse_Errors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"blank", "\r\r\n"},
		{"no MSH first", "PID|1||MRN1\rMSH|^~\\&|a|b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw))
			if err == nil {
				t.Fatal("expected error")
			}
			if _, ok := err.(*ParseError); !ok {
				t.Errorf("expected *ParseError, got %T", err)
			}
		})
	}
}

// =========== Timestamp Tests ===========

func TestNormalizeTimestamp(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"20240115143025", "2024-01-15T14:30:25Z"},
		{"202401151430", "2024-01-15T14:30:00Z"},
		{"20240115", "2024-01-15"},
		{"", ""},
		{"not-a-date", "not-a-date"},
		{"1999", "1999"},
	}
	for _, tc := range cases {
		if got := NormalizeTimestamp(tc.in); got != tc.want {
			t.Errorf("NormalizeTimestamp(%q): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

// =========== ACK Tests ===========

func TestGenerateAck_RoundTrip(t *testing.T) {
	orig, err := Parse([]byte(sampleORU))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw := GenerateAck(orig, AckAccept, "")
	ackMsg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("generated ack failed to parse: %v", err)
	}

	ack, err := ParseAck(ackMsg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Code != AckAccept {
		t.Errorf("expected code AA, got %q", ack.Code)
	}
	if ack.InReplyToControlID != orig.ControlID {
		t.Errorf("expected in-reply-to %q, got %q", orig.ControlID, ack.InReplyToControlID)
	}

	// Sender and receiver are swapped relative to the original.
	if ackMsg.SendingApp != orig.ReceivingApp || ackMsg.ReceivingApp != orig.SendingApp {
		t.Errorf("expected swapped applications, got sending=%q receiving=%q",
			ackMsg.SendingApp, ackMsg.ReceivingApp)
	}
	if ackMsg.ControlID == orig.ControlID || ackMsg.ControlID == "" {
		t.Errorf("expected a fresh control id, got %q", ackMsg.ControlID)
	}
	if ackMsg.Version != orig.Version {
		t.Errorf("expected version %q, got %q", orig.Version, ackMsg.Version)
	}
}

func TestGenerateAck_ErrorCarriesERRSegment(t *testing.T) {
	orig, _ := Parse([]byte(sampleADT))
	raw := GenerateAck(orig, AckError, "missing PID segment")

	ackMsg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	errSeg := ackMsg.Segment("ERR")
	if errSeg == nil {
		t.Fatal("expected ERR segment on AE ack")
	}
	if got := errSeg.GetField(5); got != "missing PID segment" {
		t.Errorf("expected error text in ERR-5, got %q", got)
	}

	ack, _ := ParseAck(ackMsg)
	if ack.ErrorText != "missing PID segment" {
		t.Errorf("expected error text in MSA-3, got %q", ack.ErrorText)
	}
}

func TestGenerateAck_NilMessage(t *testing.T) {
	raw := GenerateAck(nil, AckError, "unparseable")
	ackMsg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ack, err := ParseAck(ackMsg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Code != AckError {
		t.Errorf("expected AE, got %q", ack.Code)
	}
	if ack.InReplyToControlID != "" {
		t.Errorf("expected empty correlation id, got %q", ack.InReplyToControlID)
	}
}

func TestParseAck_MissingMSA(t *testing.T) {
	msg, _ := Parse([]byte(sampleADT))
	if _, err := ParseAck(msg); err == nil {
		t.Fatal("expected error for message without MSA")
	}
}
