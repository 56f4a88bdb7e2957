package blob

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Store is the raw-document blob store. Refs returned by Put are opaque
// to callers and stable for the life of the blob; the pipeline only ever
// reads blobs back, never rewrites them.
type Store interface {
	// Put saves a blob and returns its ref.
	Put(name string, data []byte) (string, error)

	// Get retrieves a blob by ref.
	Get(ref string) ([]byte, error)

	// Delete removes a blob.
	Delete(ref string) error
}

// LocalStore implements Store on the local filesystem.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates the base directory when missing.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, eris.Wrap(err, "blob: create storage directory")
	}
	return &LocalStore{basePath: basePath}, nil
}

func (l *LocalStore) Put(name string, data []byte) (string, error) {
	// A fresh prefix per upload keeps same-named documents from
	// clobbering each other.
	ref := uuid.New().String() + "_" + sanitizeName(name)
	path := filepath.Join(l.basePath, ref)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", eris.Wrap(err, "blob: write file")
	}
	return ref, nil
}

func (l *LocalStore) Get(ref string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, filepath.Clean("/"+ref)))
	if err != nil {
		return nil, eris.Wrap(err, "blob: read file")
	}
	return data, nil
}

func (l *LocalStore) Delete(ref string) error {
	if err := os.Remove(filepath.Join(l.basePath, filepath.Clean("/"+ref))); err != nil {
		return eris.Wrap(err, "blob: delete file")
	}
	return nil
}

// sanitizeName strips path separators and characters that do not survive
// phone-generated filenames, and bounds the length.
func sanitizeName(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(filepath.Base(name), ext)

	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	base = b.String()
	if len(base) > 64 {
		base = base[:64]
	}
	if base == "" {
		base = "receipt"
	}
	return base + strings.ToLower(ext)
}
