//go:build unix

package worker

import (
	"os/exec"
	"syscall"
)

func sendSignal(cmd *exec.Cmd, signal syscall.Signal) error {
	pid := cmd.Process.Pid
	if pgid, err := syscall.Getpgid(pid); err == nil {
		// Negative pid sends signal to all in process group
		return syscall.Kill(-pgid, signal)
	}
	return syscall.Kill(pid, signal)
}
