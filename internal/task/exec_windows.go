//go:build windows

package task

import (
	"context"
	"os/exec"
)

func commandContext(ctx context.Context, path string) *exec.Cmd {
	return exec.CommandContext(ctx, path)
}
