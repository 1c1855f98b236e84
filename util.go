package lhex

import (
	"os"

	"github.com/pkg/errors"
)

// ensureDir creates path if it does not exist and otherwise validates it is a
// real directory and not a symlink.
func ensureDir(path string, wrapErr error) error {
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0755); err != nil {
				return wrapKind(wrapErr, err, "unable to mkdir %v", path)
			}
			return nil
		}
		return wrapKind(wrapErr, err, "unable to stat %v", path)
	}

	if fi.Mode()&os.ModeSymlink == os.ModeSymlink {
		// here we attempt to remove a whole class of potential bugs.
		return wrapKind(wrapErr, errors.New("cannot operate on a symlink"), "%v", path)
	}

	if !fi.IsDir() {
		return wrapKind(wrapErr, errors.New("not a directory"), "%v", path)
	}

	return nil
}

// exists reports whether anything (including a dangling symlink) is at path.
func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
