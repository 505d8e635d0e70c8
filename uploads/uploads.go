// Package uploads stores task attachments and serves the upload
// endpoint. Files land in a blob store keyed by a sanitized, timestamp
// prefixed name; tasks reference them by that name.
package uploads

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// BlobStore persists one uploaded file under the given name and
// returns the URL clients can fetch it from.
type BlobStore interface {
	Put(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// StoredName derives the blob name for an uploaded file: the original
// name with unsafe characters replaced and a millisecond timestamp
// prefix to keep names unique.
func StoredName(original string, now time.Time) string {
	safe := unsafeChars.ReplaceAllString(filepath.Base(original), "_")
	return fmt.Sprintf("%d-%s", now.UnixMilli(), safe)
}

// Disk stores blobs as files in a local directory.
type Disk struct {
	dir     string
	baseURL string
}

var _ BlobStore = (*Disk)(nil)

// NewDisk creates the directory if needed. baseURL is the public path
// prefix the files are served under, such as "/uploads".
func NewDisk(dir, baseURL string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("uploads: create dir: %w", err)
	}
	return &Disk{dir: dir, baseURL: baseURL}, nil
}

func (d *Disk) Put(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	f, err := os.OpenFile(filepath.Join(d.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("uploads: create blob: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("uploads: write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("uploads: close blob: %w", err)
	}
	return d.baseURL + "/" + name, nil
}

// Dir returns the directory blobs are written to, for wiring a static
// file server.
func (d *Disk) Dir() string { return d.dir }
