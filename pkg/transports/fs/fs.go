// Package fs implements a local filesystem transport.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/updohilo/updohilo/pkg/transports"
)

// Transport reads and writes files under an optional root directory.
type Transport struct {
	root     string
	fileMode os.FileMode
	dirMode  os.FileMode
}

// New creates a filesystem transport. Relative locations resolve under root.
func New(root string) *Transport {
	return &Transport{root: root, fileMode: 0o644, dirMode: 0o755}
}

// Path converts a location ("file:///a/b", "/a/b" or "a/b") into a file path.
func (t *Transport) Path(location string) string {
	p := location
	if transports.Scheme(location) == transports.SchemeFile {
		p = transports.StripScheme(location)
	}
	p = filepath.FromSlash(p)
	if !filepath.IsAbs(p) && t.root != "" {
		p = filepath.Join(t.root, p)
	}
	return filepath.Clean(p)
}

// Fetch reads the file at location.
func (t *Transport) Fetch(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(t.Path(location))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", transports.ErrNotFound, location)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return content, nil
}

// Store writes content to location, creating parent directories. The file is
// written to a temporary sibling and renamed into place.
func (t *Transport) Store(ctx context.Context, content []byte, location string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p := t.Path(location)
	if err := os.MkdirAll(filepath.Dir(p), t.dirMode); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Chmod(t.fileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// DetectFile reports the MIME type of the file at path.
func DetectFile(path string) (string, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to detect file type: %w", err)
	}
	return m.String(), nil
}

// IsText reports whether a MIME type describes text content.
func IsText(mime string) bool {
	m := mimetype.Lookup(strings.SplitN(mime, ";", 2)[0])
	for ; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}
