package pgqueue_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rezkam/mono/internal/infrastructure/persistence/postgres"
	"github.com/rezkam/mono/internal/infrastructure/queue/pgqueue"
)

func newTestQueue(t *testing.T) *pgqueue.Queue {
	t.Helper()
	dsn := os.Getenv("HARMONY_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("HARMONY_TEST_DB_DSN not set, skipping queue integration tests")
	}

	ctx := context.Background()
	store, err := postgres.NewStoreWithConfig(ctx, postgres.DBConfig{DSN: dsn})
	require.NoError(t, err)

	q := pgqueue.New(store.Pool(), "test-queue-"+t.Name())
	t.Cleanup(func() {
		_ = q.Purge(context.Background())
		_ = store.Close()
	})
	return q
}

func TestQueue_SendReceiveDelete(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.Send(ctx, []byte("payload-1"), "job-1"))

	msgs, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, []byte("payload-1"), msgs[0].Body)
	require.Equal(t, "job-1", msgs[0].GroupID)
	require.Equal(t, 1, msgs[0].ReceiveCount)

	require.NoError(t, q.Delete(ctx, msgs[0].ReceiptHandle))

	again, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestQueue_ReceiveHidesUntilVisibilityExpires(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.Send(ctx, []byte("payload-1"), ""))

	first, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Empty(t, second, "message should stay hidden until visibility timeout elapses")
}

func TestQueue_DeleteBatch(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.Send(ctx, []byte("a"), ""))
	require.NoError(t, q.Send(ctx, []byte("b"), ""))

	msgs, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	handles := []string{msgs[0].ReceiptHandle, msgs[1].ReceiptHandle}
	require.NoError(t, q.DeleteBatch(ctx, handles))

	remaining, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Empty(t, remaining)
}
