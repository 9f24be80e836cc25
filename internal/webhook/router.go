package webhook

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ihep/integration-gateway/internal/platform/queue"
	"github.com/ihep/integration-gateway/internal/platform/retry"
)

// HandlerFunc processes one event. A returned error triggers a retry; the
// error from the last attempt becomes the event's LastError.
type HandlerFunc func(ctx context.Context, evt *Event) error

// RetryPolicy tunes handler retries. The context deadline still bounds the
// whole sequence.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy matches the gateway's shipped configuration.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, InitialDelay: time.Second, Multiplier: 2}

// Router dispatches events to handlers by event type. Handlers are registered
// during startup; the table is treated as immutable once the server begins
// accepting requests, so dispatch takes no lock.
type Router struct {
	handlers  map[string]HandlerFunc
	prefixes  []string
	store     EventStore
	publisher queue.Publisher
	policy    RetryPolicy
	logger    zerolog.Logger
}

func NewRouter(store EventStore, publisher queue.Publisher, policy RetryPolicy, logger zerolog.Logger) *Router {
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy
	}
	return &Router{
		handlers:  make(map[string]HandlerFunc),
		store:     store,
		publisher: publisher,
		policy:    policy,
		logger:    logger,
	}
}

// Register binds a handler to an event type or type prefix (a key ending in
// "." matches any type it prefixes). Not safe to call after serving begins.
func (r *Router) Register(eventType string, h HandlerFunc) {
	r.handlers[eventType] = h
	if strings.HasSuffix(eventType, ".") {
		r.prefixes = append(r.prefixes, eventType)
		// longest first so the most specific prefix wins
		sort.Slice(r.prefixes, func(i, j int) bool { return len(r.prefixes[i]) > len(r.prefixes[j]) })
	}
}

// resolve tries exact match, then longest registered prefix, then the
// substring before the first dot.
func (r *Router) resolve(eventType string) (HandlerFunc, bool) {
	if h, ok := r.handlers[eventType]; ok {
		return h, true
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(eventType, p) {
			return r.handlers[p], true
		}
	}
	if i := strings.Index(eventType, "."); i > 0 {
		if h, ok := r.handlers[eventType[:i]]; ok {
			return h, true
		}
	}
	return nil, false
}

// Process runs an event through its handler with bounded retries, persists
// every status transition, and publishes the terminal event to the durable
// queue. Unrecognized event types end as unhandled but are still published
// for offline inspection. The returned error is the handler's final failure;
// publish problems are logged, never surfaced.
func (r *Router) Process(ctx context.Context, evt *Event) error {
	handler, ok := r.resolve(evt.EventType)
	if !ok {
		evt.Status = StatusUnhandled
		if err := r.store.Update(ctx, evt); err != nil {
			r.logger.Error().Err(err).Str("event_id", evt.ID).Msg("failed to persist event status")
		}
		r.logger.Warn().
			Str("event_id", evt.ID).
			Str("event_type", evt.EventType).
			Msg("no handler registered for event type")
		r.publish(ctx, evt)
		return nil
	}

	evt.Status = StatusProcessing
	if err := r.store.Update(ctx, evt); err != nil {
		r.logger.Error().Err(err).Str("event_id", evt.ID).Msg("failed to persist event status")
	}

	runErr := retry.Do(ctx, func(ctx context.Context) error {
		if err := handler(ctx, evt); err != nil {
			evt.RetryCount++
			evt.LastError = err.Error()
			return err
		}
		return nil
	}, r.policy.MaxAttempts, r.policy.InitialDelay, r.policy.Multiplier)

	if runErr != nil {
		evt.Status = StatusFailed
	} else {
		evt.Status = StatusCompleted
		evt.LastError = ""
	}
	if err := r.store.Update(ctx, evt); err != nil {
		r.logger.Error().Err(err).Str("event_id", evt.ID).Msg("failed to persist event status")
	}

	r.publish(ctx, evt)
	return runErr
}

// publish is best-effort: a queue failure is logged and does not change the
// processing result.
func (r *Router) publish(ctx context.Context, evt *Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		r.logger.Error().Err(err).Str("event_id", evt.ID).Msg("failed to encode event for queue")
		return
	}
	msg := queue.Message{
		EventID:   evt.ID,
		EventType: evt.EventType,
		Source:    HashSource(evt.Source),
		Body:      body,
	}
	if err := r.publisher.Publish(ctx, msg); err != nil {
		r.logger.Error().Err(err).Str("event_id", evt.ID).Msg("failed to publish event to queue")
	}
}
