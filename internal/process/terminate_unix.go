//go:build !windows

package process

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// terminate asks the worker to shut down with SIGTERM.
func terminate(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return unix.Kill(cmd.Process.Pid, unix.SIGTERM)
}

func applyProcessAttributes(cmd *exec.Cmd) {}
