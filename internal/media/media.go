// Package media stores uploaded image blobs and owns the single probe
// that decides whether a message body is renderable media.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// imageURLPattern matches http(s) URLs that end in a known image extension,
// optionally followed by a query string. Message bodies are stored in the
// same field whether they are text or an uploaded image's URL; this pattern
// is the boundary where the two are told apart.
var imageURLPattern = regexp.MustCompile(`(?i)^https?://\S+\.(png|jpe?g|gif|webp|svg)(\?\S*)?$`)

// IsImageURL reports whether a plaintext message body is an image URL.
func IsImageURL(body string) bool {
	return imageURLPattern.MatchString(body)
}

// Store accepts image blobs and hands back stable retrieval URLs.
type Store interface {
	// Put stores the blob and returns its retrieval URL.
	Put(filename string, data []byte) (string, error)
	// Path resolves a stored object name to a local file path for serving.
	Path(name string) (string, error)
}

// DiskStore implements Store on the local filesystem. Objects are served
// back under the configured base URL.
type DiskStore struct {
	dir     string
	baseURL string
}

// NewDiskStore creates a disk-backed blob store rooted at dir. baseURL is
// the public prefix stored URLs are built from (e.g. "http://host/media").
func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media dir: %w", err)
	}
	return &DiskStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Put stores the blob under a fresh name and returns its retrieval URL.
func (s *DiskStore) Put(filename string, data []byte) (string, error) {
	name := uuid.NewString() + sanitizeExt(filename)

	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}

	return s.baseURL + "/" + name, nil
}

// Path resolves a stored object name to its file path. Names that escape
// the store directory are rejected.
func (s *DiskStore) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid object name %q", name)
	}

	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("object not found: %w", err)
	}

	return path, nil
}

func sanitizeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg":
		return ext
	default:
		return ".png"
	}
}
