package objstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
)

// FS is a filesystem object store laid out as
// <root>/<repo>/<commits|fs|blocks>/<id[0:2]>/<id[2:]>.
type FS struct {
	objectStore
	root string
}

var _ ReadWriter = (*FS)(nil)

// NewFS opens (and creates if needed) a filesystem object store.
func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, rerrors.ConfigError("object store path is required", nil)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create object store root: %w", err)
	}
	s := &FS{root: root}
	s.blobs = fsBlobs{root: root}
	return s, nil
}

// Root returns the store's root directory.
func (s *FS) Root() string {
	return s.root
}

type fsBlobs struct {
	root string
}

func (b fsBlobs) path(repoID, kind, id string) (string, error) {
	if !ValidID(id) {
		return "", rerrors.ValidationError(fmt.Sprintf("invalid object id %q", id), nil)
	}
	if repoID == "" || filepath.Base(repoID) != repoID || repoID == "." || repoID == ".." {
		return "", rerrors.ValidationError(fmt.Sprintf("invalid repo id %q", repoID), nil)
	}
	return filepath.Join(b.root, repoID, kind, id[:2], id[2:]), nil
}

func (b fsBlobs) read(ctx context.Context, repoID, kind, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := b.path(repoID, kind, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(repoID, kind, id, err)
		}
		return nil, fmt.Errorf("read object %s: %w", id, err)
	}
	return data, nil
}

func (b fsBlobs) write(ctx context.Context, repoID, kind, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := b.path(repoID, kind, id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err == nil {
		return nil // content-addressed: already present
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write object %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close object %s: %w", id, err)
	}
	return os.Rename(tmp.Name(), p)
}
