package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"donation-logistics-service/internal/ports"
)

// Local resolves references against files under a base directory.
type Local struct {
	basePath string
}

func NewLocal(basePath string) (*Local, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: create base dir %q: %w", basePath, err)
	}
	return &Local{basePath: basePath}, nil
}

var _ ports.ObjectStore = (*Local)(nil)

// Exists reports whether ref names a regular file inside the base directory.
// References that escape the directory are reported as missing.
func (l *Local) Exists(ctx context.Context, ref string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	clean := filepath.Clean("/" + strings.TrimPrefix(filepath.ToSlash(ref), "/uploads"))
	if clean == "/" {
		return false, nil
	}

	info, err := os.Stat(filepath.Join(l.basePath, clean))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("objectstore: stat %q: %w", ref, err)
	}
	return info.Mode().IsRegular(), nil
}
