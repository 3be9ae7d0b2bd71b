//go:build !windows

package task

import (
	"context"
	"os/exec"
	"syscall"
)

// commandContext starts the program in its own process group so that a
// timeout kills any children it spawned as well.
func commandContext(ctx context.Context, path string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, path)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	return cmd
}
