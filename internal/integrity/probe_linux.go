//go:build linux

package integrity

import (
	"errors"

	"golang.org/x/sys/unix"
)

// socketPresent reports false only when path does not exist. Permission
// problems still count as present: the agent is installed, just not usable
// by this user, and the session preparation will say so.
func socketPresent(path string) bool {
	err := unix.Access(path, unix.R_OK|unix.W_OK)
	if err == nil {
		return true
	}
	return !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.ENOTDIR)
}
