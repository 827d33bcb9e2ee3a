// Package attachments stores uploaded item photos.
//
// A stored file is addressed by a reference of the form "<uuid>-<name>",
// where name is the base name of the uploaded file. References never
// contain path separators.
package attachments

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("attachment not found")
	ErrEmptyName = errors.New("attachment filename is required")
)

// Store persists attachments and serves them back by reference.
type Store interface {
	// Put stores the content under a new reference derived from filename.
	Put(ctx context.Context, filename string, r io.Reader) (string, error)

	// Open returns the content stored under ref.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// NewRef builds a fresh reference for an uploaded file name.
func NewRef(filename string) (string, error) {
	// Browsers on Windows may send full paths.
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		return "", ErrEmptyName
	}
	return uuid.New().String() + "-" + name, nil
}

// ValidRef reports whether ref can address a stored file.
func ValidRef(ref string) bool {
	if ref == "" || ref == "." || ref == ".." {
		return false
	}
	return !strings.ContainsAny(ref, `/\`) && !strings.HasPrefix(ref, ".")
}
