package storage

import (
	"fmt"

	"github.com/kaoru/booru/internal/config"
)

// NewStorage creates an ObjectStorage from configuration. The local backend
// is the default for development; s3, r2 and other compatible services all
// go through the S3 client.
func NewStorage(cfg *config.StorageConfig) (ObjectStorage, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStorage(cfg.LocalPath)
	case "s3", "r2", "s3compatible":
		return NewS3Storage(&S3Config{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			PublicURL: cfg.PublicURL,
		})
	default:
		return nil, fmt.Errorf("storage: unknown storage type %q", cfg.Type)
	}
}
