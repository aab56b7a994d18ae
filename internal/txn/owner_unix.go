//go:build unix

package txn

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ownerProcessAlive probes a pid with signal 0. EPERM means the process
// exists but belongs to another user, which still counts as alive.
func ownerProcessAlive(pid int) (bool, error) {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, unix.EPERM) {
		return true, nil
	}
	if errors.Is(err, unix.ESRCH) {
		return false, nil
	}
	return false, err
}
