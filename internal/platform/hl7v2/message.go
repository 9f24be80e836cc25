// Package hl7v2 implements the legacy HL7 v2.x messaging layer of the
// integration gateway: segment-level parsing, ACK/NAK generation, and the
// MLLP framing used to move messages over raw TCP. It is intentionally
// independent of the canonical resource model; conversion to platform
// resources lives in internal/canonical.
package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// ParseError reports a structurally invalid message. Listeners translate it
// into an AE acknowledgement rather than dropping the connection.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "hl7v2: " + e.Reason
}

// Message is a parsed HL7 v2.x message.
type Message struct {
	Type         string    // MSH-9, e.g. "ORU^R01"
	ControlID    string    // MSH-10
	Version      string    // MSH-12
	Timestamp    time.Time // MSH-7
	SendingApp   string    // MSH-3
	SendingFac   string    // MSH-4
	ReceivingApp string    // MSH-5
	ReceivingFac string    // MSH-6

	Segments []Segment

	// ZSegments holds vendor extension segments (tags starting with "Z")
	// verbatim. They are preserved across parsing so round-trips never lose
	// partner-specific data.
	ZSegments map[string]ZSegment
}

// Segment is one logical line of a message: a short tag plus ordered fields.
type Segment struct {
	Name   string
	Fields []Field
}

// Field is a single field with its component (^) and repetition (~) breakdown.
type Field struct {
	Value      string
	Components []string
	Repeats    [][]string
}

// ZSegment is an unrecognized vendor extension segment kept verbatim.
type ZSegment struct {
	Raw    string
	Fields []string
}

// Parse parses raw HL7 v2.x bytes into a Message. Segments are delimited by
// \r; \n and \r\n inputs are normalized. The first segment must be MSH.
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, &ParseError{Reason: "message is empty"}
	}

	text := strings.ReplaceAll(string(raw), "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(text, "\r") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, &ParseError{Reason: "no segments found"}
	}
	if !strings.HasPrefix(lines[0], "MSH") {
		tag := lines[0]
		if len(tag) > 3 {
			tag = tag[:3]
		}
		return nil, &ParseError{Reason: fmt.Sprintf("first segment must be MSH, got %q", tag)}
	}

	msg := &Message{ZSegments: make(map[string]ZSegment)}

	for _, line := range lines {
		tag := segmentTag(line)
		if strings.HasPrefix(tag, "Z") {
			parts := strings.Split(line, "|")
			msg.ZSegments[tag] = ZSegment{Raw: line, Fields: parts[1:]}
			continue
		}
		msg.Segments = append(msg.Segments, parseSegment(line))
	}

	if err := msg.readHeader(); err != nil {
		return nil, err
	}
	return msg, nil
}

func segmentTag(line string) string {
	if i := strings.IndexByte(line, '|'); i >= 0 {
		return line[:i]
	}
	return line
}

// parseSegment splits one segment line into tag and fields. MSH is special:
// the field separator character is itself MSH-1, so Fields[0] is "|" and
// Fields[1] is the encoding characters.
func parseSegment(line string) Segment {
	if strings.HasPrefix(line, "MSH") {
		seg := Segment{Name: "MSH"}
		if len(line) < 4 {
			return seg
		}
		sep := string(line[3])
		seg.Fields = append(seg.Fields, parseField(sep))
		for _, part := range strings.Split(line[4:], sep) {
			seg.Fields = append(seg.Fields, parseField(part))
		}
		return seg
	}

	parts := strings.SplitN(line, "|", 2)
	seg := Segment{Name: parts[0]}
	if len(parts) > 1 {
		for _, f := range strings.Split(parts[1], "|") {
			seg.Fields = append(seg.Fields, parseField(f))
		}
	}
	return seg
}

func parseField(raw string) Field {
	f := Field{Value: raw}
	for _, rep := range strings.Split(raw, "~") {
		f.Repeats = append(f.Repeats, strings.Split(rep, "^"))
	}
	f.Components = f.Repeats[0]
	return f
}

// readHeader lifts the commonly used MSH fields onto the Message.
func (m *Message) readHeader() error {
	msh := m.Segment("MSH")
	if msh == nil {
		return &ParseError{Reason: "MSH segment not found"}
	}

	m.SendingApp = msh.GetField(3)
	m.SendingFac = msh.GetField(4)
	m.ReceivingApp = msh.GetField(5)
	m.ReceivingFac = msh.GetField(6)
	m.Type = msh.GetField(9)
	m.ControlID = msh.GetField(10)
	m.Version = msh.GetField(12)

	if ts := msh.GetField(7); ts != "" {
		if t, err := parseTimestamp(ts); err == nil {
			m.Timestamp = t
		}
	}
	return nil
}

// Segment returns the first segment with the given tag, or nil.
func (m *Message) Segment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// AllSegments returns every segment with the given tag, in file order.
func (m *Message) AllSegments(name string) []Segment {
	var out []Segment
	for _, seg := range m.Segments {
		if seg.Name == name {
			out = append(out, seg)
		}
	}
	return out
}

// GetField returns the value of a field by its 1-based HL7 index. Out-of-range
// indexes yield "" rather than an error. For MSH, index 1 is the field
// separator itself.
func (s *Segment) GetField(index int) string {
	idx := index - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	return s.Fields[idx].Value
}

// GetComponent returns a component value by 1-based field and component
// indexes, or "" when either is out of range.
func (s *Segment) GetComponent(fieldIdx, compIdx int) string {
	idx := fieldIdx - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	ci := compIdx - 1
	if ci < 0 || ci >= len(s.Fields[idx].Components) {
		return ""
	}
	return s.Fields[idx].Components[ci]
}

// parseTimestamp parses the compact HL7 digit timestamp (YYYYMMDD[HHMM[SS]]).
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch {
	case len(s) >= 14:
		return time.Parse("20060102150405", s[:14])
	case len(s) >= 12:
		return time.Parse("200601021504", s[:12])
	case len(s) >= 8:
		return time.Parse("20060102", s[:8])
	default:
		return time.Time{}, fmt.Errorf("hl7v2: unrecognized timestamp format: %q", s)
	}
}

// NormalizeTimestamp converts a compact HL7 timestamp to ISO-8601. The 8-digit
// form yields a bare date; 12- and 14-digit forms yield a UTC datetime.
// Unparseable input is returned unchanged so a single bad value never fails
// the surrounding message.
func NormalizeTimestamp(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	t, err := parseTimestamp(s)
	if err != nil {
		return s
	}
	if len(s) >= 12 {
		return t.Format("2006-01-02T15:04:05Z")
	}
	return t.Format("2006-01-02")
}
