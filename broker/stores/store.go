// Package stores abstracts the cold-storage backends that sealed, trimmed
// journal segments are shipped to once the local hot journal has no more
// use for them.
package stores

import (
	"context"
	"io"
	"net/url"
	"time"
)

// Store is a cold-storage backend capable of holding sealed journal
// segments addressed by path, independent of the wire format of the
// segment contents.
type Store interface {
	// Provider names the backend ("s3", "gcs", "azure", "file").
	Provider() string

	// SignGet returns a pre-signed URL for retrieving path, valid for d.
	SignGet(path string, d time.Duration) (string, error)

	// Exists reports whether a segment is present at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Get opens a reader over the raw segment bytes at path.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Put durably writes a sealed segment to path. contentEncoding sets
	// the appropriate transfer header (e.g. "gzip") when the segment was
	// compressed before shipping.
	Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error

	// List enumerates segments under prefix, invoking callback with each
	// path relative to prefix and its modification time. Listing stops
	// and returns callback's error the first time it returns one.
	List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error

	// Remove deletes the segment at path.
	Remove(ctx context.Context, path string) error

	// IsAuthError reports whether err represents an authorization
	// failure (missing permissions, bucket not found, access denied) as
	// opposed to a transient one, so callers can fail over rather than
	// retry.
	IsAuthError(error) bool
}

// Constructor builds a Store from an endpoint URL. Each backend registers
// its own constructor against a URL scheme.
type Constructor func(*url.URL) (Store, error)

// DisableSignedUrls makes SignGet return a bare, unsigned URL instead of a
// credentialed one. Only useful against a cloud emulator or a bucket
// already reachable without per-request signing; the cloud backends check
// it rather than always attempting to sign.
var DisableSignedUrls bool
