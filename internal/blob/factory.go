package blob

import (
	"context"
	"fmt"
	"time"

	fsstore "bizdir/internal/infra/blob/fs"
	"bizdir/internal/infra/blob/httphost"
	memorystore "bizdir/internal/infra/blob/memory"
	infraS3 "bizdir/internal/infra/blob/s3"
)

// S3Config re-exports the S3 driver configuration.
type S3Config = infraS3.Config

// HTTPHostConfig re-exports the image host driver configuration.
type HTTPHostConfig = httphost.Config

// Config selects and configures a driver. PublicBaseURL, when set, is the
// prefix under which stored keys are publicly reachable.
type Config struct {
	Driver        Driver
	FSRoot        string
	PublicBaseURL string
	S3            S3Config
	HTTPHost      HTTPHostConfig
}

// Open constructs the configured store. The filesystem driver is the default.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot, cfg.PublicBaseURL)
	case DriverS3:
		s3cfg := cfg.S3
		if s3cfg.PublicBaseURL == "" {
			s3cfg.PublicBaseURL = cfg.PublicBaseURL
		}
		return NewS3(ctx, s3cfg)
	case DriverMemory:
		return NewMemory(cfg.PublicBaseURL), nil
	case DriverHTTPHost:
		return NewHTTPHost(cfg.HTTPHost)
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewFilesystem returns a store rooted at a local directory.
func NewFilesystem(root, publicBaseURL string) (Store, error) {
	return fsstore.New(root, fsstore.WithBaseURL(publicBaseURL))
}

// NewMemory returns an in-process store.
func NewMemory(publicBaseURL string) Store { return memorystore.New(publicBaseURL) }

// NewS3 constructs an S3-backed store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}

// NewHTTPHost constructs a client for an external image hosting API.
func NewHTTPHost(cfg HTTPHostConfig) (Store, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return httphost.New(cfg)
}

// NewMockS3ForTests exposes the in-process S3 fake for cross-package tests.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }
