//go:build unix

package tools

import (
	"os/exec"
	"syscall"
	"time"
)

// killProcessGroup runs cmd in its own process group and kills the whole
// group when the command's context is done.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second
}
