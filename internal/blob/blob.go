// Package blob stores uploaded images and returns the URL they are served from.
package blob

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Driver names
const (
	DriverLocal = "local"
	DriverS3    = "s3"
)

// Config holds blob store configuration, parsed from environment variables
type Config struct {
	Driver    string `env:"BLOB_DRIVER" envDefault:"local"`
	LocalPath string `env:"BLOB_LOCAL_PATH" envDefault:"./blobs"`
	PublicURL string `env:"BLOB_PUBLIC_URL" envDefault:"/blobs"`

	S3 S3Config
}

// Store is what the chat pipeline and the server need from a blob driver
type Store interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// New builds the driver named by cfg.Driver
func New(ctx context.Context, logger *zap.SugaredLogger, cfg Config) (Store, error) {
	logger.Debugf("Creating %s blob store", cfg.Driver)

	switch cfg.Driver {
	case DriverLocal:
		return NewLocalStorage(cfg.LocalPath, cfg.PublicURL)
	case DriverS3:
		return NewS3Storage(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}
