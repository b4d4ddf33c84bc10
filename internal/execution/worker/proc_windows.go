package worker

import (
	"os/exec"
	"syscall"
)

func initCmd(cmd *exec.Cmd) {
	// No-op on Windows.
}

func sendSignal(cmd *exec.Cmd, _ syscall.Signal) error {
	return cmd.Process.Kill()
}
