// Package blob stores raw uploaded bytes on disk, keyed by a generated
// system filename under a date-partitioned directory tree.
package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a stored blob does not exist on disk.
var ErrNotFound = errors.New("blob not found")

// Store persists file bytes under root/uploads/YYYY/MM/DD/<uuid>.<ext>.
type Store struct {
	root string
}

// NewStore creates a Store rooted at dataDir. Directories are created lazily
// on first save.
func NewStore(dataDir string) *Store {
	return &Store{root: filepath.Join(dataDir, "uploads")}
}

// SystemFilename generates a unique on-disk name, preserving the original
// extension so external tools can sniff the format.
func SystemFilename(originalFilename string) string {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	return uuid.New().String() + ext
}

// Save writes data under a date-partitioned path and returns the path
// relative to the store root. The relative path is what the ledger records.
func (s *Store) Save(systemFilename string, data []byte) (string, error) {
	now := time.Now()
	datePath := filepath.Join(
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()),
	)
	dir := filepath.Join(s.root, datePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating upload directory: %w", err)
	}

	rel := filepath.Join(datePath, systemFilename)
	if err := os.WriteFile(filepath.Join(s.root, rel), data, 0o644); err != nil {
		return "", fmt.Errorf("writing blob: %w", err)
	}
	return rel, nil
}

// Read returns the full contents of a stored blob.
func (s *Store) Read(relPath string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(relPath))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob: %w", err)
	}
	return data, nil
}

// Delete removes a stored blob. Deleting a blob that is already gone is not
// an error; the ledger entry may outlive the bytes during a crash window.
func (s *Store) Delete(relPath string) error {
	err := os.Remove(s.Path(relPath))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting blob: %w", err)
	}
	return nil
}

// Path returns the absolute filesystem path for a relative blob path.
func (s *Store) Path(relPath string) string {
	return filepath.Join(s.root, relPath)
}
