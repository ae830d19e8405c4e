//go:build unix

package ffmpeg

import (
	"os/exec"
	"syscall"
)

// SetProcessGroup puts the command in its own process group so the whole
// ffmpeg tree can be killed together, muxer children included.
func SetProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// KillProcessGroup kills the command's process group. Falls back to the
// single process when the group signal fails.
func KillProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}
