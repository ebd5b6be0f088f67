package domain

import "context"

// BlobStore is the object store collaborator, specified only at the
// interface level per spec §1/§6: JSON read/write and URL construction for
// catalog artifacts, keyed by jobID/itemID.
type BlobStore interface {
	// Get reads the bytes stored at key. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes data at key, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// List returns every key under prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// URL constructs the externally-addressable URL for key (e.g.
	// s3://bucket/key or gs://bucket/key).
	URL(key string) string
}
