//go:build windows

package workspace

import (
	"os"

	"github.com/hpungsan/folio/internal/errors"
)

// openFileNoFollow opens a file. O_NOFOLLOW is not available on Windows;
// callers still reject symlinks with Lstat before getting here.
func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound(path)
		}
		return nil, err
	}
	return f, nil
}
