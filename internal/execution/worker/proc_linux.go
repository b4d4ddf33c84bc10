package worker

import (
	"os/exec"
	"syscall"
)

func initCmd(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		// the worker must not outlive the supervisor
		Pdeathsig: syscall.SIGKILL,
	}
}
