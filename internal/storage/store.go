// Package storage provides the local-disk file store for uploaded lesion
// images, biopsy documents, and generated explanation heatmaps.
//
// Files live under a single configured root and are addressed by relative
// paths that the database persists verbatim. All writes are atomic: content
// lands in a temp file in the destination directory and is renamed into
// place, so readers never observe a partially written file.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a stored file does not exist.
var ErrNotFound = errors.New("storage: file not found")

// Store is a root-scoped local filesystem store. Safe for concurrent use.
type Store struct {
	root string
}

// NewStore creates the root directory if needed and returns a store
// scoped to it.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string { return s.root }

// resolve maps a stored relative path onto the filesystem, rejecting
// anything that would escape the root.
func (s *Store) resolve(rel string) (string, error) {
	clean := path.Clean("/" + rel)[1:] // strips any leading ../ sequences
	if clean == "" || clean == "." {
		return "", fmt.Errorf("storage: invalid path %q", rel)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Save streams r into the file at rel, creating parent directories.
// It returns the relative path as persisted.
func (s *Store) Save(rel string, r io.Reader) (string, error) {
	abs, err := s.resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("storage: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("storage: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		return "", fmt.Errorf("storage: rename: %w", err)
	}
	return rel, nil
}

// SaveBytes is Save for in-memory content.
func (s *Store) SaveBytes(rel string, data []byte) (string, error) {
	return s.Save(rel, bytes.NewReader(data))
}

// Open returns a reader for the stored file at rel.
func (s *Store) Open(rel string) (io.ReadCloser, error) {
	abs, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	return f, nil
}

// Read returns the full content of the stored file at rel.
func (s *Store) Read(rel string) ([]byte, error) {
	f, err := s.Open(rel)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Remove deletes the stored file at rel. Missing files are not an error.
func (s *Store) Remove(rel string) error {
	abs, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: remove: %w", err)
	}
	return nil
}

// sanitizeName keeps uploaded filenames readable while stripping anything
// unsafe for a path segment.
func sanitizeName(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		out = "file"
	}
	return out
}

// CheckupImagePath builds the storage path for an uploaded lesion image.
// A random prefix keeps same-named uploads within one checkup distinct.
func CheckupImagePath(checkupID uint, filename string) string {
	return fmt.Sprintf("checkups/%d/%s_%s", checkupID, uuid.NewString()[:8], sanitizeName(filename))
}

// HeatmapPath builds the storage path for a generated explanation heatmap.
func HeatmapPath(checkupID, sampleID uint) string {
	return fmt.Sprintf("heatmaps/checkup_%d_sample_%d.png", checkupID, sampleID)
}

// BiopsyDocPath builds the storage path for an uploaded biopsy document.
func BiopsyDocPath(biopsyKey, filename string) string {
	return fmt.Sprintf("biopsies/%s_%s", biopsyKey, sanitizeName(filename))
}
