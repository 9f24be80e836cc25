package sync

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type storePG struct{ pool *pgxpool.Pool }

// NewStorePG returns a Store backed by the sync_state table.
func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

const stateCols = `partner_id, last_inbound_cursor, last_outbound_cursor,
	last_inbound_sync_at, last_outbound_sync_at, consecutive_failures, last_error, status`

func (s *storePG) Get(ctx context.Context, partnerID string) (*State, error) {
	var st State
	err := s.pool.QueryRow(ctx, `SELECT `+stateCols+` FROM sync_state WHERE partner_id = $1`, partnerID).
		Scan(&st.PartnerID, &st.LastInboundCursor, &st.LastOutboundCursor,
			&st.LastInboundSyncAt, &st.LastOutboundSyncAt,
			&st.ConsecutiveFailures, &st.LastError, &st.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		st = State{PartnerID: partnerID, Status: StatusIdle}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO sync_state (partner_id, status) VALUES ($1, $2)
			ON CONFLICT (partner_id) DO NOTHING`, partnerID, StatusIdle)
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *storePG) Save(ctx context.Context, state *State) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (`+stateCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (partner_id) DO UPDATE SET
			last_inbound_cursor = EXCLUDED.last_inbound_cursor,
			last_outbound_cursor = EXCLUDED.last_outbound_cursor,
			last_inbound_sync_at = EXCLUDED.last_inbound_sync_at,
			last_outbound_sync_at = EXCLUDED.last_outbound_sync_at,
			consecutive_failures = EXCLUDED.consecutive_failures,
			last_error = EXCLUDED.last_error,
			status = EXCLUDED.status`,
		state.PartnerID, state.LastInboundCursor, state.LastOutboundCursor,
		state.LastInboundSyncAt, state.LastOutboundSyncAt,
		state.ConsecutiveFailures, state.LastError, state.Status)
	return err
}
