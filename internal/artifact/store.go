package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"model_gateway/internal/serving"
)

// Store fetches serialized model artifacts by the path recorded at
// registration time.
type Store interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// FileStore reads artifacts from a local directory. Paths from version
// records are resolved relative to the root and must not escape it.
type FileStore struct {
	root string
}

// NewFileStore creates a filesystem-backed artifact store.
func NewFileStore(root string) (*FileStore, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("artifact directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("artifact path %s is not a directory", root)
	}
	return &FileStore{root: root}, nil
}

// Fetch reads one artifact. Missing files map to a not-found error so
// callers can distinguish a bad registration from an infrastructure fault.
func (s *FileStore) Fetch(ctx context.Context, path string) ([]byte, error) {
	full := filepath.Join(s.root, filepath.Clean("/"+path))
	if !strings.HasPrefix(full, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return nil, serving.NotFoundf("artifact path %q escapes the artifact root", path)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, serving.NotFoundf("artifact %q does not exist", path)
		}
		return nil, serving.Unavailablef("failed to read artifact %q: %v", path, err)
	}
	return data, nil
}

var _ Store = (*FileStore)(nil)
