package trust

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/polisai/polis-sandbox/pkg/domain"
)

// PathNormalizer resolves a filesystem path to its canonical absolute form.
type PathNormalizer interface {
	Normalize(ctx context.Context, path string) (string, error)
}

// FSNormalizer canonicalizes paths against the local filesystem, resolving
// symlinks and dot segments.
type FSNormalizer struct {
	// Dir anchors relative paths. Empty means the process working directory.
	Dir string
}

// Normalize returns the absolute, symlink-free form of path. Paths that do not
// exist return an error wrapping domain.ErrUnresolvablePath.
func (n FSNormalizer) Normalize(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("%w: empty path", domain.ErrUnresolvablePath)
	}

	if !filepath.IsAbs(path) && n.Dir != "" {
		path = filepath.Join(n.Dir, path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrUnresolvablePath, path, err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrUnresolvablePath, path, err)
	}

	return filepath.Clean(resolved), nil
}
