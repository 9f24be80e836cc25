// Package partner defines the capability interface the sync orchestrator
// depends on and the concrete adapters the gateway ships: a generic FHIR REST
// client and an HL7v2/MLLP push adapter. The orchestrator never sees a
// concrete adapter type, only the Client interface, injected per partner from
// the registry built at startup.
package partner

import (
	"context"
	"errors"

	"github.com/ihep/integration-gateway/internal/canonical"
)

// SyncMode controls which directions SyncAllPartners runs for a partner.
type SyncMode string

const (
	SyncInboundOnly   SyncMode = "inbound_only"
	SyncOutboundOnly  SyncMode = "outbound_only"
	SyncBidirectional SyncMode = "bidirectional"
)

// ErrUnsupportedResource signals a read or write against a resource type the
// partner's capability set does not cover.
var ErrUnsupportedResource = errors.New("resource type not supported by partner")

// Capabilities declares which resource types a partner can serve in each
// direction.
type Capabilities struct {
	Read  []canonical.ResourceType
	Write []canonical.ResourceType
}

func (c Capabilities) CanRead(t canonical.ResourceType) bool  { return contains(c.Read, t) }
func (c Capabilities) CanWrite(t canonical.ResourceType) bool { return contains(c.Write, t) }

func contains(list []canonical.ResourceType, t canonical.ResourceType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

// FetchPage is one page of resources pulled from a partner. NextCursor is the
// opaque progress marker to persist once the sync attempt succeeds; Failed
// counts entries the partner returned that could not be converted.
type FetchPage struct {
	Resources  []canonical.Resource
	NextCursor string
	Failed     int
}

// Client is the capability interface every partner adapter implements.
type Client interface {
	// Authenticate establishes or refreshes the adapter's credentials.
	Authenticate(ctx context.Context) error

	// FetchResources pulls resources of one type changed since cursor. An
	// empty cursor means a full pull. Returns ErrUnsupportedResource when
	// the partner cannot serve the type.
	FetchResources(ctx context.Context, resourceType canonical.ResourceType, cursor string) (FetchPage, error)

	// PushResource writes one canonical resource to the partner. Returns
	// ErrUnsupportedResource when the partner cannot accept the type.
	PushResource(ctx context.Context, res canonical.Resource) error

	// ValidateConnection checks reachability without side effects.
	ValidateConnection(ctx context.Context) error

	// Capabilities reports what the partner can read and write.
	Capabilities() Capabilities
}
