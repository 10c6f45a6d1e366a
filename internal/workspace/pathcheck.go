package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/folio/internal/errors"
)

type pathMode int

const (
	pathRead  pathMode = iota // import
	pathWrite                 // export
)

// checkPath validates an import or export path and returns its format.
// Traversal components, symlinked files and symlinked parent directories are
// refused; reads also require the file to exist.
func checkPath(path string, mode pathMode) (Format, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.NewInvalidRequest("path is required")
	}
	if containsTraversal(path) {
		return "", errors.NewInvalidRequest("path must not contain directory traversal (..)")
	}
	format, err := FormatForPath(path)
	if err != nil {
		return "", err
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}
	if info, err := os.Lstat(filepath.Dir(absPath)); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return "", errors.NewInvalidRequest("parent directory must not be a symlink")
	}

	info, err := os.Lstat(absPath)
	switch {
	case err == nil && info.Mode()&os.ModeSymlink != 0:
		return "", errors.NewInvalidRequest("path must not be a symlink")
	case err != nil && os.IsNotExist(err) && mode == pathRead:
		return "", errors.NewNotFound(path)
	}
	return format, nil
}

func containsTraversal(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	if filepath.Separator != '/' {
		for _, part := range strings.Split(path, "/") {
			if part == ".." {
				return true
			}
		}
	}
	return false
}
