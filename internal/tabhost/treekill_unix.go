//go:build !windows

package tabhost

import (
	"os/exec"
	"syscall"
	"time"
)

func killTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	// setDetachedProcess makes the child a process-group leader, so the
	// negative pid signals the child and everything in its group.
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func setDetachedProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

var gracePeriod = 3 * time.Second
