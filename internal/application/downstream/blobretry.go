package downstream

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/rezkam/mono/internal/domain"
)

// blobBackoff bounds the handful of retries a catalog read or write gets:
// at most 3 retries, backing off exponentially from 50ms. The catalog
// helpers run from Generate inside the caller's open store transaction,
// so blob-store I/O and its retries happen while that transaction is
// still open, not after it commits.
func blobBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))
}

// getWithRetry wraps bs.Get with a bounded exponential backoff, since a
// transient blob store error here would otherwise surface as a permanent
// downstream-generation failure.
func getWithRetry(ctx context.Context, bs domain.BlobStore, key string) ([]byte, error) {
	var data []byte
	err := retry.Do(ctx, blobBackoff(), func(ctx context.Context) error {
		d, err := bs.Get(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return err
			}
			return retry.RetryableError(err)
		}
		data = d
		return nil
	})
	return data, err
}

// putWithRetry wraps bs.Put the same way.
func putWithRetry(ctx context.Context, bs domain.BlobStore, key string, data []byte) error {
	return retry.Do(ctx, blobBackoff(), func(ctx context.Context) error {
		if err := bs.Put(ctx, key, data); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
