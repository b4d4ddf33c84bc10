//go:build unix && !linux

package worker

import (
	"os/exec"
	"syscall"
)

func initCmd(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
