package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/retail-orders/internal/domain/order"
	"github.com/xenking/retail-orders/internal/events"
)

const (
	insertOutboxSQL = `INSERT INTO outbox (event_id, event_type, key, payload) VALUES ($1, $2, $3, $4)`

	claimOutboxSQL = `SELECT id, event_type, key, payload, created_at FROM outbox
		WHERE sent_at IS NULL ORDER BY id LIMIT $1 FOR UPDATE SKIP LOCKED`

	markOutboxSentSQL = `UPDATE outbox SET sent_at = now() WHERE id = ANY($1)`
)

var (
	_ order.EventRecorder = (*OutboxRepository)(nil)
	_ events.Source       = (*OutboxRepository)(nil)
)

// OutboxRepository stores lifecycle events next to the order rows they
// describe and hands them out to the relay.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// Record appends e to the outbox in the transaction bound to ctx.
func (r *OutboxRepository) Record(ctx context.Context, e order.Event) error {
	_, err := conn(ctx, r.pool).Exec(ctx, insertOutboxSQL, e.ID, e.Type, e.OrderID, events.Encode(e))
	if err != nil {
		return fmt.Errorf("recording event %q: %w", e.ID, err)
	}
	return nil
}

// Claim locks up to limit unsent messages, skipping rows locked by other
// relays, and marks them sent when fn succeeds.
func (r *OutboxRepository) Claim(ctx context.Context, limit int, fn func(ctx context.Context, msgs []events.Message) error) (int, error) {
	var n int
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, claimOutboxSQL, limit)
		if err != nil {
			return fmt.Errorf("claiming outbox: %w", err)
		}
		msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (events.Message, error) {
			var m events.Message
			err := row.Scan(&m.ID, &m.Type, &m.Key, &m.Payload, &m.CreatedAt)
			return m, err
		})
		if err != nil {
			return fmt.Errorf("claiming outbox: %w", err)
		}
		if len(msgs) == 0 {
			return nil
		}

		if err := fn(ctx, msgs); err != nil {
			return err
		}

		ids := make([]int64, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		if _, err := tx.Exec(ctx, markOutboxSentSQL, ids); err != nil {
			return fmt.Errorf("marking outbox sent: %w", err)
		}
		n = len(msgs)
		return nil
	})
	return n, err
}

const oldestPendingSQL = `SELECT COALESCE(EXTRACT(EPOCH FROM now() - min(created_at)), 0)::float8
	FROM outbox WHERE sent_at IS NULL`

// OldestPending reports how long the oldest unsent message has waited. It is
// zero when the outbox is drained.
func (r *OutboxRepository) OldestPending(ctx context.Context) (time.Duration, error) {
	var secs float64
	if err := r.pool.QueryRow(ctx, oldestPendingSQL).Scan(&secs); err != nil {
		return 0, fmt.Errorf("reading outbox lag: %w", err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
