package util

import (
	"os"
	"syscall"
)

// IsProcessAlive reports whether a process with the given pid exists, by
// sending it the null signal. Exited processes that have not been reaped
// yet still count as alive.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = p.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
