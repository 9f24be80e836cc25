package hl7v2

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Acknowledgement codes (MSA-1).
const (
	AckAccept = "AA"
	AckError  = "AE"
	AckReject = "AR"
)

// Ack is the decoded form of an acknowledgement message.
type Ack struct {
	Code               string
	InReplyToControlID string
	ErrorText          string
}

// GenerateAck builds an acknowledgement for the given inbound message as a
// raw wire string. The MSH mirrors the inbound sender/receiver identifiers,
// swapped, with a freshly generated control id; MSA carries the ack code and
// the inbound control id. AE/AR acks with an error text additionally carry an
// ERR segment. A nil inbound message (unparseable input) produces an ack with
// empty correlation fields.
//
// The function is pure apart from clock and control-id generation.
func GenerateAck(in *Message, ackCode, errorText string) string {
	var sendApp, sendFac, recvApp, recvFac, inControlID string
	version := "2.5.1"
	if in != nil {
		sendApp = in.ReceivingApp
		sendFac = in.ReceivingFac
		recvApp = in.SendingApp
		recvFac = in.SendingFac
		inControlID = in.ControlID
		if in.Version != "" {
			version = in.Version
		}
	}

	now := time.Now().UTC().Format("20060102150405")
	controlID := strings.ReplaceAll(uuid.New().String(), "-", "")[:20]

	segments := []string{
		"MSH|^~\\&|" + sendApp + "|" + sendFac + "|" + recvApp + "|" + recvFac +
			"|" + now + "||ACK|" + controlID + "|P|" + version,
		"MSA|" + ackCode + "|" + inControlID + "|" + errorText,
	}
	if ackCode != AckAccept && errorText != "" {
		segments = append(segments, "ERR|||"+ackCode+"|E|"+errorText)
	}
	return strings.Join(segments, "\r")
}

// ParseAck extracts the acknowledgement fields from a parsed ACK message.
// A missing MSA segment yields a ParseError.
func ParseAck(m *Message) (*Ack, error) {
	msa := m.Segment("MSA")
	if msa == nil {
		return nil, &ParseError{Reason: "MSA segment not found"}
	}
	return &Ack{
		Code:               msa.GetField(1),
		InReplyToControlID: msa.GetField(2),
		ErrorText:          msa.GetField(3),
	}, nil
}
