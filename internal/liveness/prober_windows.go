//go:build windows

package liveness

import (
	"errors"

	"golang.org/x/sys/windows"
)

// Alive opens the process handle with the narrowest query right and
// checks its exit code. A handle that cannot be opened because the pid
// is unknown means the process is gone; access-denied means it exists
// under another account.
func (ProcessProber) Alive(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}

	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
			return false, nil
		}
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return true, nil
		}
		return false, err
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false, err
	}
	return code == windows.STILL_ACTIVE, nil
}
