//go:build !linux

package integrity

import (
	"errors"
	"io/fs"
	"os"
)

func socketPresent(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
