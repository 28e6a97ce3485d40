// Package storage defines the FileStore interface the downloader writes media
// files to. The local implementation backs the audio directory; the S3
// implementation mirrors the corpus to any S3-compatible bucket.
package storage

import (
	"context"
	"io"
)

// FileStore is a minimal interface for file-oriented storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file for reading.
	// If the file does not exist, an error wrapping os.ErrNotExist is returned.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write opens the named file for writing. The file only becomes visible
	// to Exists and Read once the returned writer is closed without error.
	Write(ctx context.Context, path string) (Writer, error)

	// Delete removes the named file. Missing files are not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, path string) (bool, error)
}

// Writer is returned by FileStore.Write. Close commits the file, Abort
// discards everything written so far. Calling either after the other is a
// no-op.
type Writer interface {
	io.WriteCloser
	Abort(err error) error
}
