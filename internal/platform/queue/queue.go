// Package queue publishes processed integration events to a durable stream
// so downstream consumers can replay them.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Message is a single event destined for the stream. Body carries the
// serialized event; the remaining fields travel as stream attributes.
type Message struct {
	EventID   string
	EventType string
	Source    string
	Body      []byte
}

// Publisher delivers messages to a durable queue.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// RedisPublisher appends messages to a Redis stream with XADD.
type RedisPublisher struct {
	client *redis.Client
	stream string
	logger zerolog.Logger
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(ctx context.Context, addr, password, stream string, db int, logger zerolog.Logger) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisPublisher{client: rdb, stream: stream, logger: logger}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"event_id":   msg.EventID,
			"event_type": msg.EventType,
			"source":     msg.Source,
			"body":       msg.Body,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd to %s: %w", p.stream, err)
	}
	p.logger.Debug().
		Str("stream", p.stream).
		Str("entry_id", id).
		Str("event_id", msg.EventID).
		Msg("event published")
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// NopPublisher discards messages. Used when no queue is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, msg Message) error { return nil }
func (NopPublisher) Close() error                                   { return nil }
