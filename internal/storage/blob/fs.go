// Package blob stores uploaded media on the local filesystem and serves it
// under a public base URL.
package blob

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-storefront/internal/domain/product"
)

var _ product.ObjectStore = (*FS)(nil)

// ErrInvalidPath is returned for object paths that escape the root.
var ErrInvalidPath = errors.New("invalid object path")

// FS is an object store rooted at a directory.
type FS struct {
	root    string
	baseURL string
}

// NewFS returns an FS rooted at root whose objects are public at
// baseURL/<path>.
func NewFS(root, baseURL string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "create blob root")
	}
	return &FS{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *FS) Put(_ context.Context, objectPath string, data []byte) error {
	full, err := s.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errors.Wrap(err, "create object dir")
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write object")
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "commit object")
	}
	return nil
}

func (s *FS) PublicURL(_ context.Context, objectPath string) (string, error) {
	if _, err := s.resolve(objectPath); err != nil {
		return "", err
	}
	return s.baseURL + "/" + strings.TrimLeft(objectPath, "/"), nil
}

// Delete accepts either the object path or its public URL. Missing objects
// are not an error.
func (s *FS) Delete(_ context.Context, ref string) error {
	objectPath := strings.TrimPrefix(ref, s.baseURL+"/")
	full, err := s.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "delete object")
	}
	return nil
}

// Handler serves stored objects; mount it under the base URL path.
func (s *FS) Handler() http.Handler {
	return http.FileServer(http.Dir(s.root))
}

func (s *FS) resolve(objectPath string) (string, error) {
	clean := path.Clean("/" + objectPath)
	if clean == "/" || strings.Contains(objectPath, "..") {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}
