package partner

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/ihep/integration-gateway/internal/canonical"
	"github.com/ihep/integration-gateway/internal/platform/hl7v2"
)

const mllpSendTimeout = 15 * time.Second

// HL7Client pushes results to a partner over MLLP. HL7v2 partners deliver
// their own data by sending to the gateway's inbound listener, so this
// adapter is write-only: FetchResources reports the type as unsupported.
type HL7Client struct {
	def    Definition
	logger zerolog.Logger
}

func NewHL7Client(def Definition, logger zerolog.Logger) (*HL7Client, error) {
	if def.Host == "" || def.Port == 0 {
		return nil, fmt.Errorf("hl7v2 partner requires host and port")
	}
	return &HL7Client{
		def:    def,
		logger: logger.With().Str("partner_id", def.ID).Logger(),
	}, nil
}

func (c *HL7Client) Capabilities() Capabilities {
	return Capabilities{Write: []canonical.ResourceType{canonical.TypeObservation}}
}

// Authenticate is a no-op: MLLP has no credential exchange.
func (c *HL7Client) Authenticate(ctx context.Context) error { return nil }

func (c *HL7Client) FetchResources(ctx context.Context, resourceType canonical.ResourceType, cursor string) (FetchPage, error) {
	return FetchPage{}, fmt.Errorf("%w: %s (hl7v2 partners deliver inbound via the listener)", ErrUnsupportedResource, resourceType)
}

// PushResource serializes an observation as an ORU^R01 message, sends it over
// MLLP, and inspects the partner's acknowledgement. Anything but an AA ack is
// a failure carrying the partner's error text.
func (c *HL7Client) PushResource(ctx context.Context, res canonical.Resource) error {
	if res.Type != canonical.TypeObservation || res.Observation == nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedResource, res.Type)
	}

	raw := canonical.ObservationToHL7(res.Observation, c.def.SendingApp, c.def.SendingFac, c.def.ReceivingApp, c.def.ReceivingFac)
	reply, err := hl7v2.Send(ctx, c.def.Host, c.def.Port, []byte(raw), mllpSendTimeout)
	if err != nil {
		return fmt.Errorf("send observation %s: %w", res.ID(), err)
	}

	ackMsg, err := hl7v2.Parse(reply)
	if err != nil {
		return fmt.Errorf("unparseable acknowledgement: %w", err)
	}
	ack, err := hl7v2.ParseAck(ackMsg)
	if err != nil {
		return err
	}
	if ack.Code != hl7v2.AckAccept {
		return fmt.Errorf("partner rejected observation %s: %s %s", res.ID(), ack.Code, ack.ErrorText)
	}

	c.logger.Debug().Str("control_id", ack.InReplyToControlID).Msg("observation acknowledged")
	return nil
}

// ValidateConnection opens and closes a TCP connection to the listener.
func (c *HL7Client) ValidateConnection(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", c.def.Host, c.def.Port))
	if err != nil {
		return fmt.Errorf("partner unreachable: %w", err)
	}
	return conn.Close()
}
