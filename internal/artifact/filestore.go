// Package artifact stores uploaded audio: staged files awaiting an
// accept/retake decision and accepted files under the dataset tree.
package artifact

import (
	"context"
	"io"
)

// FileStore is a minimal file-oriented storage backend. Paths are
// forward-slash separated and relative to the store root. Implementations
// must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file. A missing file yields an error wrapping
	// os.ErrNotExist.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write creates or truncates the named file, creating parents. The
	// caller must Close the writer to flush the data.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named file; deleting a missing file is not an error.
	Delete(ctx context.Context, path string) error

	Exists(ctx context.Context, path string) (bool, error)
}

// Aborter is implemented by writers that commit on Close. Abort drops the
// buffered data without committing it.
type Aborter interface {
	Abort() error
}

// AbortWrite abandons a partially written file: the writer is aborted when
// it supports it, otherwise closed and the file removed.
func AbortWrite(ctx context.Context, files FileStore, path string, w io.WriteCloser) error {
	if a, ok := w.(Aborter); ok {
		return a.Abort()
	}
	w.Close()
	return files.Delete(ctx, path)
}
