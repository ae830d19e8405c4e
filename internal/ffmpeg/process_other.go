//go:build !unix

package ffmpeg

import "os/exec"

func SetProcessGroup(cmd *exec.Cmd) {}

// KillProcessGroup kills the single process; group semantics are a unix
// concept.
func KillProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
