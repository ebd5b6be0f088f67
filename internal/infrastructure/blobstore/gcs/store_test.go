package gcs

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rezkam/mono/internal/domain"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	bucket := os.Getenv("TEST_GCS_BUCKET")
	if bucket == "" {
		t.Skip("TEST_GCS_BUCKET not set, skipping GCS tests")
	}

	ctx := context.Background()
	store, err := NewStore(ctx, bucket)
	require.NoError(t, err)

	prefix := fmt.Sprintf("blobstore-test-%d/", time.Now().UnixNano())

	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		keys, err := store.List(cleanupCtx, prefix)
		if err != nil {
			t.Logf("warning: failed to list objects during cleanup: %v", err)
			return
		}
		for _, key := range keys {
			if err := store.client.Bucket(bucket).Object(key).Delete(cleanupCtx); err != nil {
				t.Logf("warning: failed to delete object %s: %v", key, err)
			}
		}
	})

	return store, prefix
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	store, prefix := newTestStore(t)
	ctx := context.Background()

	key := prefix + "job-1/item-1/outputs/catalog.json"
	want := []byte(`{"stac_version":"1.0.0"}`)

	require.NoError(t, store.Put(ctx, key, want))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestStore_GetMissingReturnsNotFound(t *testing.T) {
	store, prefix := newTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, prefix+"does-not-exist.json")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ListFiltersByPrefix(t *testing.T) {
	store, prefix := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, prefix+"job-1/item-1/outputs/catalog.json", []byte("{}")))
	require.NoError(t, store.Put(ctx, prefix+"job-2/item-1/outputs/catalog.json", []byte("{}")))

	keys, err := store.List(ctx, prefix+"job-1/")
	require.NoError(t, err)
	require.Len(t, keys, 1)
}

func TestStore_URL(t *testing.T) {
	store, prefix := newTestStore(t)
	url := store.URL(prefix + "job-1/item-1/outputs/catalog.json")
	require.Contains(t, url, "gs://")
}
