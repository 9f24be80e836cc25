package partner

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// Definition is the static configuration for one partner, loaded at startup.
type Definition struct {
	ID               string   `mapstructure:"id"`
	Name             string   `mapstructure:"name"`
	Protocol         string   `mapstructure:"protocol"` // "fhir" or "hl7v2"
	SyncMode         string   `mapstructure:"sync_mode"`
	ConflictStrategy string   `mapstructure:"conflict_strategy"`
	ResourceTypes    []string `mapstructure:"resource_types"`
	WebhookSecret    string   `mapstructure:"webhook_secret"`

	// FHIR protocol settings.
	BaseURL       string `mapstructure:"base_url"`
	TokenURL      string `mapstructure:"token_url"`
	ClientID      string `mapstructure:"client_id"`
	PrivateKeyPEM string `mapstructure:"private_key_pem"`

	// HL7v2 protocol settings.
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	SendingApp   string `mapstructure:"sending_app"`
	SendingFac   string `mapstructure:"sending_facility"`
	ReceivingApp string `mapstructure:"receiving_app"`
	ReceivingFac string `mapstructure:"receiving_facility"`
}

// Mode returns the partner's sync mode, defaulting to bidirectional.
func (d Definition) Mode() SyncMode {
	switch SyncMode(d.SyncMode) {
	case SyncInboundOnly, SyncOutboundOnly, SyncBidirectional:
		return SyncMode(d.SyncMode)
	}
	return SyncBidirectional
}

// Entry pairs a partner definition with its constructed adapter.
type Entry struct {
	Definition Definition
	Client     Client
}

// Registry holds all configured partners. It is built once at startup and
// never mutated afterwards, so lookups need no locking.
type Registry struct {
	entries map[string]*Entry
}

// NewRegistry constructs adapters for every definition. Unknown protocols are
// a configuration error.
func NewRegistry(defs []Definition, logger zerolog.Logger) (*Registry, error) {
	entries := make(map[string]*Entry, len(defs))
	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("partner definition missing id")
		}
		if _, dup := entries[def.ID]; dup {
			return nil, fmt.Errorf("duplicate partner id %q", def.ID)
		}

		var client Client
		var err error
		switch def.Protocol {
		case "fhir":
			client, err = NewFHIRClient(def, logger)
		case "hl7v2":
			client, err = NewHL7Client(def, logger)
		default:
			err = fmt.Errorf("unknown protocol %q", def.Protocol)
		}
		if err != nil {
			return nil, fmt.Errorf("partner %s: %w", def.ID, err)
		}

		entries[def.ID] = &Entry{Definition: def, Client: client}
		logger.Info().
			Str("partner_id", def.ID).
			Str("protocol", def.Protocol).
			Str("sync_mode", string(def.Mode())).
			Msg("partner registered")
	}
	return &Registry{entries: entries}, nil
}

// NewStaticRegistry builds a registry from already-constructed entries,
// bypassing adapter construction. Useful for custom adapters and tests.
func NewStaticRegistry(entries ...*Entry) *Registry {
	m := make(map[string]*Entry, len(entries))
	for _, e := range entries {
		m[e.Definition.ID] = e
	}
	return &Registry{entries: m}
}

// Get returns the entry for a partner id.
func (r *Registry) Get(partnerID string) (*Entry, bool) {
	e, ok := r.entries[partnerID]
	return e, ok
}

// All returns every entry in stable id order.
func (r *Registry) All() []*Entry {
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Definition.ID < out[j].Definition.ID })
	return out
}
