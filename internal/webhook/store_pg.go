package webhook

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type eventStorePG struct{ pool *pgxpool.Pool }

// NewEventStorePG returns an EventStore backed by the webhook_event table.
func NewEventStorePG(pool *pgxpool.Pool) EventStore {
	return &eventStorePG{pool: pool}
}

const eventCols = `id, source, event_type, payload, received_at, status, retry_count, last_error`

func (s *eventStorePG) scan(row pgx.Row) (*Event, error) {
	var evt Event
	err := row.Scan(&evt.ID, &evt.Source, &evt.EventType, &evt.Payload,
		&evt.ReceivedAt, &evt.Status, &evt.RetryCount, &evt.LastError)
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

func (s *eventStorePG) Create(ctx context.Context, evt *Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_event (id, source, event_type, payload, received_at, status, retry_count, last_error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		evt.ID, evt.Source, evt.EventType, evt.Payload,
		evt.ReceivedAt, evt.Status, evt.RetryCount, evt.LastError)
	return err
}

func (s *eventStorePG) Update(ctx context.Context, evt *Event) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_event SET status=$2, retry_count=$3, last_error=$4
		WHERE id = $1`,
		evt.ID, evt.Status, evt.RetryCount, evt.LastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %q not found", evt.ID)
	}
	return nil
}

func (s *eventStorePG) GetByID(ctx context.Context, id string) (*Event, error) {
	return s.scan(s.pool.QueryRow(ctx, `SELECT `+eventCols+` FROM webhook_event WHERE id = $1`, id))
}

func (s *eventStorePG) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Event, int, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM webhook_event WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+eventCols+` FROM webhook_event
		WHERE status = $1 ORDER BY received_at LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		evt, err := s.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, evt)
	}
	return out, total, rows.Err()
}
