package config

import "fmt"

// BlobStoreConfig selects and configures the catalog artifact blob store
// (spec §6). "fs" is for local development and tests; "gcs" is production.
type BlobStoreConfig struct {
	Type      string `env:"HARMONY_BLOBSTORE_TYPE" default:"fs"`
	GCSBucket string `env:"HARMONY_BLOBSTORE_GCS_BUCKET"`
	FSDir     string `env:"HARMONY_BLOBSTORE_FS_DIR" default:"./harmony-artifacts"`
}

// Validate validates the blob store configuration.
func (c *BlobStoreConfig) Validate() error {
	switch c.Type {
	case "fs":
		if c.FSDir == "" {
			return fmt.Errorf("HARMONY_BLOBSTORE_FS_DIR is required when HARMONY_BLOBSTORE_TYPE is 'fs'")
		}
	case "gcs":
		if c.GCSBucket == "" {
			return fmt.Errorf("HARMONY_BLOBSTORE_GCS_BUCKET is required when HARMONY_BLOBSTORE_TYPE is 'gcs'")
		}
	default:
		return fmt.Errorf("unknown HARMONY_BLOBSTORE_TYPE: %s", c.Type)
	}
	return nil
}
