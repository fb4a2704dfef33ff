// Package storage holds the files a recap produces: transient copies on local
// disk (downloaded music, rendered artifacts) and, when configured, published
// objects in an S3-compatible bucket.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for transient and published recap files.
type Storage interface {
	// SaveTemp saves data to a new transient file and returns its path.
	// The name is a hint; its extension, if any, is kept.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp opens a transient file. The caller closes the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the given transient files, continuing past failures.
	CleanupTemp(ctx context.Context, paths []string) error

	// UploadToS3 publishes data under key and returns its URL.
	// Returns ErrS3NotConfigured if no bucket is configured.
	UploadToS3(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)
}
