// Package pgqueue implements domain.Queue on top of a PostgreSQL table,
// using the same availability-timeout pattern (inspired by SQS visibility
// timeout) the teacher's generation worker uses for stuck-job recovery,
// adapted here for the scheduler-trigger, small-update, and large-update
// queues named in spec §2/§4.7.
package pgqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rezkam/mono/internal/domain"
)

// Queue is a named FIFO queue backed by the queue_messages table. Multiple
// Queue values over the same pool share that table, partitioned by name.
type Queue struct {
	pool *pgxpool.Pool
	name string
}

// New returns a Queue bound to name, e.g. "scheduler-trigger",
// "update-small", or "update-large".
func New(pool *pgxpool.Pool, name string) *Queue {
	return &Queue{pool: pool, name: name}
}

var _ domain.Queue = (*Queue)(nil)

// Send enqueues one message, visible immediately.
func (q *Queue) Send(ctx context.Context, body []byte, groupID string) error {
	id := uuid.Must(uuid.NewV7())
	_, err := q.pool.Exec(ctx, `
		INSERT INTO queue_messages (id, queue_name, group_id, body, receive_count, visible_at, created_at)
		VALUES ($1, $2, $3, $4, 0, now(), now())
	`, pgtype.UUID{Bytes: id, Valid: true}, q.name, groupID, body)
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", q.name, err)
	}
	return nil
}

// pollInterval is how often Receive retries an empty queue while long
// polling within waitSec.
const pollInterval = 250 * time.Millisecond

// Receive long-polls for up to n visible messages, retrying every
// pollInterval until one arrives or waitSec elapses. Claimed messages are
// hidden from other receivers for domain.VisibilityTimeout using
// SELECT ... FOR UPDATE SKIP LOCKED.
func (q *Queue) Receive(ctx context.Context, n int, waitSec int) ([]domain.Message, error) {
	deadline := time.Now().Add(time.Duration(waitSec) * time.Second)
	for {
		claimed, err := q.claim(ctx, n)
		if err != nil {
			return nil, err
		}
		if len(claimed) > 0 || !time.Now().Before(deadline) {
			return claimed, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (q *Queue) claim(ctx context.Context, n int) ([]domain.Message, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin receive transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, group_id, body, receive_count
		FROM queue_messages
		WHERE queue_name = $1 AND visible_at <= now()
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, q.name, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages from %s: %w", q.name, err)
	}

	var claimed []domain.Message
	for rows.Next() {
		var (
			dbID         pgtype.UUID
			groupID      string
			body         []byte
			receiveCount int
		)
		if err := rows.Scan(&dbID, &groupID, &body, &receiveCount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		claimed = append(claimed, domain.Message{
			ID:            uuid.UUID(dbID.Bytes).String(),
			GroupID:       groupID,
			Body:          body,
			ReceiptHandle: uuid.UUID(dbID.Bytes).String(),
			ReceiveCount:  receiveCount + 1,
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages from %s: %w", q.name, err)
	}

	for _, m := range claimed {
		id, err := uuid.Parse(m.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidID, err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE queue_messages SET visible_at = $2, receive_count = receive_count + 1
			WHERE id = $1
		`, pgtype.UUID{Bytes: id, Valid: true}, time.Now().UTC().Add(domain.VisibilityTimeout))
		if err != nil {
			return nil, fmt.Errorf("failed to extend visibility for message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit receive transaction: %w", err)
	}
	return claimed, nil
}

// Delete removes one message by its receipt handle, acknowledging
// successful processing.
func (q *Queue) Delete(ctx context.Context, receiptHandle string) error {
	id, err := uuid.Parse(receiptHandle)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidID, err)
	}
	_, err = q.pool.Exec(ctx, `DELETE FROM queue_messages WHERE id = $1 AND queue_name = $2`,
		pgtype.UUID{Bytes: id, Valid: true}, q.name)
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", receiptHandle, err)
	}
	return nil
}

// DeleteBatch removes multiple messages in one round trip, matching the
// "receive -> process -> delete-batch" ingest loop shape (spec §4.7).
func (q *Queue) DeleteBatch(ctx context.Context, receiptHandles []string) error {
	if len(receiptHandles) == 0 {
		return nil
	}

	ids := make([]pgtype.UUID, 0, len(receiptHandles))
	for _, rh := range receiptHandles {
		id, err := uuid.Parse(rh)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrInvalidID, err)
		}
		ids = append(ids, pgtype.UUID{Bytes: id, Valid: true})
	}

	_, err := q.pool.Exec(ctx, `DELETE FROM queue_messages WHERE queue_name = $1 AND id = ANY($2)`, q.name, ids)
	if err != nil {
		return fmt.Errorf("failed to delete %d messages: %w", len(receiptHandles), err)
	}
	return nil
}

// Purge removes every message currently queued under this name. Used by
// tests; job cancellation does not purge queues.
func (q *Queue) Purge(ctx context.Context) error {
	_, err := q.pool.Exec(ctx, `DELETE FROM queue_messages WHERE queue_name = $1`, q.name)
	if err != nil {
		return fmt.Errorf("failed to purge queue %s: %w", q.name, err)
	}
	return nil
}
