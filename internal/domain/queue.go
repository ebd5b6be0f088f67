package domain

import (
	"context"
	"time"
)

// Message is one envelope received from a Queue.
type Message struct {
	ID            string
	GroupID       string
	Body          []byte
	ReceiptHandle string // opaque token required by Delete
	ReceiveCount  int
}

// Queue is the FIFO message queue collaborator from spec §2/§6: at-least
// once delivery, visibility timeout, short/long-polling receive, batch
// receive, per-message and batch delete, purge. One instance exists per
// service (worker-facing), plus a small-update queue, a large-update
// queue, and a scheduler-trigger queue (spec §2).
type Queue interface {
	// Send enqueues a message, optionally under groupID for FIFO ordering
	// guarantees among messages that share it.
	Send(ctx context.Context, body []byte, groupID string) error

	// Receive long-polls for up to n messages, waiting up to waitSec for
	// the first message to arrive. Delivered messages become invisible to
	// other receivers until their visibility timeout elapses or they are
	// deleted.
	Receive(ctx context.Context, n int, waitSec int) ([]Message, error)

	// Delete removes a message by its receipt handle. Must be called
	// whether or not processing succeeded, to avoid poison-message loops
	// (spec §4.7).
	Delete(ctx context.Context, receiptHandle string) error

	// DeleteBatch removes several messages in one call.
	DeleteBatch(ctx context.Context, receiptHandles []string) error

	// Purge removes every message currently in the queue.
	Purge(ctx context.Context) error
}

// VisibilityTimeout is the default duration a received-but-undeleted
// message stays invisible to other receivers, modeled on the teacher's
// SQS-visibility-timeout-inspired availability timeout
// (internal/application/worker/coordinator.go).
const VisibilityTimeout = 5 * time.Minute
