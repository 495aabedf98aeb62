package attachments

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DiskStore writes blobs under a root directory and serves them from a
// base URL path. The production deployment points the same directory at
// the static file handler.
type DiskStore struct {
	root    string
	baseURL string
}

func NewDiskStore(root, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("upload directory unavailable: %w", err)
	}
	return &DiskStore{root: root, baseURL: baseURL}, nil
}

func (s *DiskStore) Put(ctx context.Context, name string, r io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	path := filepath.Join(s.root, name)
	f, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}

	written, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, err
	}
	return s.baseURL + "/" + name, written, nil
}
