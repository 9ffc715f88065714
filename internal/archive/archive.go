// Package archive optionally retains screenshots after classification.
package archive

import (
	"context"
	"io"
)

// BlobStore writes screenshot artifacts to a backing medium and returns a
// URI for the stored object.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

var (
	_ BlobStore = (*Local)(nil)
	_ BlobStore = (*GCS)(nil)
)
