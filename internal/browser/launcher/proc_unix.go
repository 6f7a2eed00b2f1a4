//go:build !windows

package launcher

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the browser in its own process group so renderer and
// GPU children are signalled together.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup sends SIGTERM, or SIGKILL when force is set, to the whole group.
func signalGroup(cmd *exec.Cmd, force bool) {
	if cmd.Process == nil {
		return
	}
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		// Group already gone or never formed; fall back to the leader.
		_ = cmd.Process.Signal(sig)
	}
}
