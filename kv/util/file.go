package util

import (
	"os"

	"github.com/pingcap/errors"
)

// FileExists reports whether path names a regular file.
func FileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func DirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// EnsureDir creates dir and its parents unless it already exists.
func EnsureDir(dir string) error {
	if DirExists(dir) {
		return nil
	}
	return errors.Annotatef(os.MkdirAll(dir, 0o755), "create %s", dir)
}

// RemoveIfExists removes path and reports whether there was anything to remove.
func RemoveIfExists(path string) (bool, error) {
	err := os.Remove(path)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, errors.Annotatef(err, "remove %s", path)
	}
}
