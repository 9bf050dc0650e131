// Package blob is the opaque byte-store boundary for uploaded documents.
// The pipeline only ever gets and puts whole blobs by path.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Store reads and writes opaque document blobs.
type Store interface {
	Download(ctx context.Context, path string) ([]byte, error)
	Upload(ctx context.Context, data []byte, ext string) (string, error)
}

// FSStore implements Store on the local filesystem, content-addressed by
// sha256 so repeated uploads of the same bytes share one path.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrapf(err, "blob: create root %s", root)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) Download(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := filepath.Clean(path)
	if strings.Contains(clean, "..") {
		return nil, eris.Errorf("blob: invalid path %q", path)
	}
	data, err := os.ReadFile(filepath.Join(s.root, clean))
	if err != nil {
		return nil, eris.Wrapf(err, "blob: download %s", path)
	}
	return data, nil
}

func (s *FSStore) Upload(ctx context.Context, data []byte, ext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	name := hex.EncodeToString(sum[:])
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	rel := filepath.Join(name[:2], name+ext)
	full := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", eris.Wrap(err, "blob: create shard dir")
	}
	if _, err := os.Stat(full); err == nil {
		return rel, nil
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "blob: write %s", rel)
	}
	if err := os.Rename(tmp, full); err != nil {
		return "", eris.Wrapf(err, "blob: finalize %s", rel)
	}
	return rel, nil
}
