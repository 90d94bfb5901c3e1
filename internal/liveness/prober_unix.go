//go:build unix

package liveness

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Alive sends signal 0, which performs the permission and existence
// checks without delivering anything. EPERM means the process exists
// but belongs to someone else, so it still counts as alive.
func (ProcessProber) Alive(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}

	err := unix.Kill(pid, 0)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.ESRCH):
		return false, nil
	case errors.Is(err, unix.EPERM):
		return true, nil
	default:
		return false, err
	}
}
