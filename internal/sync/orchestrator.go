package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ihep/integration-gateway/internal/canonical"
	"github.com/ihep/integration-gateway/internal/partner"
	"github.com/ihep/integration-gateway/internal/webhook"
)

// ErrSyncInProgress rejects a sync request for a partner that already has one
// in flight. The second request is refused, not queued.
var ErrSyncInProgress = errors.New("sync already in progress for partner")

// ErrUnknownPartner rejects a sync request for an unregistered partner id.
var ErrUnknownPartner = errors.New("unknown partner")

// Orchestrator runs sync attempts. It is the sole writer of sync state and
// holds an in-process guard ensuring at most one active sync per partner.
type Orchestrator struct {
	registry *partner.Registry
	store    Store
	local    LocalStore
	outbox   Outbox
	logger   zerolog.Logger

	mu     sync.Mutex
	active map[string]bool
}

func NewOrchestrator(registry *partner.Registry, store Store, local LocalStore, outbox Outbox, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		store:    store,
		local:    local,
		outbox:   outbox,
		logger:   logger,
		active:   make(map[string]bool),
	}
}

// acquire claims the partner's sync slot.
func (o *Orchestrator) acquire(partnerID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[partnerID] {
		return false
	}
	o.active[partnerID] = true
	return true
}

func (o *Orchestrator) release(partnerID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, partnerID)
}

// SyncPartner runs one sync attempt for a partner and returns per-direction
// results. An empty types slice falls back to the partner's configured
// resource types; forceFull ignores the stored cursor. A partner already
// syncing yields ErrSyncInProgress.
func (o *Orchestrator) SyncPartner(ctx context.Context, partnerID string, direction Direction, types []canonical.ResourceType, forceFull bool) (map[Direction]*Result, error) {
	entry, ok := o.registry.Get(partnerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPartner, partnerID)
	}
	if !o.acquire(partnerID) {
		return nil, fmt.Errorf("%w: %s", ErrSyncInProgress, partnerID)
	}
	defer o.release(partnerID)

	state, err := o.store.Get(ctx, partnerID)
	if err != nil {
		return nil, fmt.Errorf("load sync state: %w", err)
	}
	state.Status = StatusSyncing
	if err := o.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save sync state: %w", err)
	}

	if len(types) == 0 {
		types = configuredTypes(entry.Definition)
	}
	strategy, err := ParseStrategy(entry.Definition.ConflictStrategy)
	if err != nil {
		strategy = StrategyNewestWins
	}

	results := make(map[Direction]*Result)
	if direction == DirectionInbound || direction == DirectionBidirectional {
		results[DirectionInbound] = o.syncInbound(ctx, entry, state, types, strategy, forceFull)
	}
	if direction == DirectionOutbound || direction == DirectionBidirectional {
		results[DirectionOutbound] = o.syncOutbound(ctx, entry, state, types)
	}

	var firstErr string
	for _, r := range results {
		if r.Error != "" {
			firstErr = r.Error
			break
		}
	}
	if firstErr != "" {
		state.Status = StatusError
		state.LastError = firstErr
		state.ConsecutiveFailures++
	} else {
		state.Status = StatusIdle
		state.LastError = ""
		state.ConsecutiveFailures = 0
	}
	if err := o.store.Save(ctx, state); err != nil {
		return results, fmt.Errorf("save sync state: %w", err)
	}

	for dir, r := range results {
		o.logger.Info().
			Str("partner_id", partnerID).
			Str("direction", string(dir)).
			Int("processed", r.Processed).
			Int("failed", r.Failed).
			Int("conflicts", r.Conflicts).
			Int64("duration_ms", r.DurationMs).
			Msg("sync direction finished")
	}
	return results, nil
}

// WebhookTrigger returns a webhook handler that kicks an inbound sync for
// the partner. A sync already in flight means the notification's work is
// being picked up anyway, so the rejection counts as handled rather than a
// retryable failure.
func (o *Orchestrator) WebhookTrigger(partnerID string) webhook.HandlerFunc {
	return func(ctx context.Context, _ *webhook.Event) error {
		_, err := o.SyncPartner(ctx, partnerID, DirectionInbound, nil, false)
		if errors.Is(err, ErrSyncInProgress) {
			return nil
		}
		return err
	}
}

// SyncAllPartners runs a sync for every registered partner in its configured
// mode. Partners already syncing are skipped, not treated as failures.
func (o *Orchestrator) SyncAllPartners(ctx context.Context) map[string]map[Direction]*Result {
	out := make(map[string]map[Direction]*Result)
	for _, entry := range o.registry.All() {
		var dir Direction
		switch entry.Definition.Mode() {
		case partner.SyncInboundOnly:
			dir = DirectionInbound
		case partner.SyncOutboundOnly:
			dir = DirectionOutbound
		default:
			dir = DirectionBidirectional
		}

		results, err := o.SyncPartner(ctx, entry.Definition.ID, dir, nil, false)
		if err != nil {
			if errors.Is(err, ErrSyncInProgress) {
				o.logger.Warn().Str("partner_id", entry.Definition.ID).Msg("skipping partner, sync already running")
				continue
			}
			o.logger.Error().Err(err).Str("partner_id", entry.Definition.ID).Msg("partner sync failed")
			continue
		}
		out[entry.Definition.ID] = results
	}
	return out
}

// syncInbound pulls each requested resource type from the partner and merges
// the results into the local store. A failing type is isolated: it counts
// into Failed and the remaining types still run. The cursor advances only
// when at least one type succeeded.
func (o *Orchestrator) syncInbound(ctx context.Context, entry *partner.Entry, state *State, types []canonical.ResourceType, strategy Strategy, forceFull bool) *Result {
	start := time.Now()
	result := &Result{PartnerID: entry.Definition.ID, Direction: DirectionInbound}

	cursor := state.LastInboundCursor
	if forceFull {
		cursor = ""
	}

	var succeeded int
	var nextCursor, lastErr string
	for _, t := range types {
		page, err := entry.Client.FetchResources(ctx, t, cursor)
		if err != nil {
			result.Failed++
			lastErr = err.Error()
			o.logger.Error().Err(err).
				Str("partner_id", entry.Definition.ID).
				Str("resource_type", string(t)).
				Msg("inbound pull failed for resource type")
			continue
		}
		succeeded++
		if page.NextCursor != "" {
			nextCursor = page.NextCursor
		}
		result.Failed += page.Failed

		for _, res := range page.Resources {
			result.Processed++
			o.mergeInbound(ctx, res, strategy, result)
		}
	}

	if succeeded > 0 {
		now := time.Now().UTC()
		state.LastInboundSyncAt = &now
		if nextCursor != "" {
			state.LastInboundCursor = nextCursor
		}
	} else if len(types) > 0 {
		result.Error = lastErr
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

// mergeInbound applies one pulled resource to the local store, resolving a
// conflict when a diverged local version exists.
func (o *Orchestrator) mergeInbound(ctx context.Context, remote canonical.Resource, strategy Strategy, result *Result) {
	local, exists, err := o.local.Get(ctx, remote.Key())
	if err != nil {
		result.Failed++
		return
	}

	if !exists {
		if err := o.local.Upsert(ctx, remote); err != nil {
			result.Failed++
			return
		}
		result.Created++
		return
	}
	if local.Version == remote.Version {
		return
	}

	decision := Resolve(local, remote, strategy, time.Now().UTC())
	if decision.Manual {
		if err := o.local.FlagConflict(ctx, decision); err != nil {
			result.Failed++
			return
		}
		result.Conflicts++
		return
	}
	if decision.Source == "remote" {
		if err := o.local.Upsert(ctx, *decision.Winner); err != nil {
			result.Failed++
			return
		}
		result.Updated++
	}
}

// syncOutbound pushes the partner's pending local resources. Types outside
// the partner's write capability are counted as unsupported without a wire
// attempt.
func (o *Orchestrator) syncOutbound(ctx context.Context, entry *partner.Entry, state *State, types []canonical.ResourceType) *Result {
	start := time.Now()
	result := &Result{PartnerID: entry.Definition.ID, Direction: DirectionOutbound}

	pending, err := o.outbox.Pending(ctx, entry.Definition.ID, types)
	if err != nil {
		result.Error = err.Error()
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	caps := entry.Client.Capabilities()
	var pushed int
	var lastErr string
	for _, res := range pending {
		result.Processed++
		if !caps.CanWrite(res.Type) {
			result.Failed++
			result.Unsupported++
			continue
		}

		if err := entry.Client.PushResource(ctx, res); err != nil {
			result.Failed++
			lastErr = err.Error()
			o.logger.Error().Err(err).
				Str("partner_id", entry.Definition.ID).
				Str("resource_key", res.Key()).
				Msg("outbound push failed")
			continue
		}
		pushed++
		result.Updated++
		if err := o.outbox.MarkDelivered(ctx, entry.Definition.ID, res); err != nil {
			o.logger.Error().Err(err).Str("resource_key", res.Key()).Msg("failed to clear delivered resource")
		}
	}

	if pushed > 0 || (len(pending) == 0) {
		now := time.Now().UTC()
		state.LastOutboundSyncAt = &now
	}
	if pushed == 0 && lastErr != "" && result.Unsupported < result.Failed {
		result.Error = lastErr
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

func configuredTypes(def partner.Definition) []canonical.ResourceType {
	if len(def.ResourceTypes) == 0 {
		return []canonical.ResourceType{canonical.TypePatient, canonical.TypeObservation, canonical.TypeAppointment}
	}
	out := make([]canonical.ResourceType, 0, len(def.ResourceTypes))
	for _, t := range def.ResourceTypes {
		out = append(out, canonical.ResourceType(t))
	}
	return out
}
