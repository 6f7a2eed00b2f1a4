//go:build windows

package launcher

import (
	"os"
	"os/exec"
)

// setProcessGroup is a no-op; Windows has no POSIX process groups.
func setProcessGroup(cmd *exec.Cmd) {}

// signalGroup interrupts the main process, or kills it when force is set.
// Chrome tears down its own children on Windows.
func signalGroup(cmd *exec.Cmd, force bool) {
	if cmd.Process == nil {
		return
	}
	if force {
		_ = cmd.Process.Kill()
		return
	}
	_ = cmd.Process.Signal(os.Interrupt)
}
