// Package ffmpeg wraps the ffmpeg and ffprobe binaries behind a small
// client: media probing, keyframe extraction, encoder selection with
// hardware fallback, and -progress output parsing. The transcode module
// and the scan pipeline's probe extractor both sit on top of it.
package ffmpeg

import (
	"context"
	"os"
	"os/exec"
	"sync"
)

// CommandRunner executes external commands; swapped for a mock in tests.
type CommandRunner interface {
	Run(ctx context.Context, cmd string, args ...string) ([]byte, error)
}

// DefaultCommandRunner runs commands through os/exec.
type DefaultCommandRunner struct{}

func (r *DefaultCommandRunner) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	command := exec.CommandContext(ctx, cmd, args...)
	return command.CombinedOutput()
}

// Client is a handle on the local ffmpeg installation. Safe for concurrent
// use; the encoder probe runs once and is cached.
type Client struct {
	runner      CommandRunner
	ffmpegPath  string
	ffprobePath string

	encodersOnce sync.Once
	encoders     map[string]bool
}

// New builds a client using the real binaries, honoring FFMPEG_PATH and
// FFPROBE_PATH overrides.
func New() *Client {
	return NewWithRunner(&DefaultCommandRunner{})
}

// NewWithRunner builds a client with a custom command runner, used by tests.
func NewWithRunner(runner CommandRunner) *Client {
	return &Client{
		runner:      runner,
		ffmpegPath:  binaryPath("FFMPEG_PATH", "ffmpeg"),
		ffprobePath: binaryPath("FFPROBE_PATH", "ffprobe"),
	}
}

// FFmpegPath returns the resolved ffmpeg binary path for callers that spawn
// long-running processes themselves.
func (c *Client) FFmpegPath() string {
	return c.ffmpegPath
}

// Exec runs ffmpeg with the given arguments and returns its combined
// output. For one-shot invocations only; long encodes spawn their own
// process via FFmpegPath so they can stream progress and kill the
// process group.
func (c *Client) Exec(ctx context.Context, args ...string) ([]byte, error) {
	return c.runner.Run(ctx, c.ffmpegPath, args...)
}

func binaryPath(env, fallback string) string {
	if p := os.Getenv(env); p != "" {
		return p
	}
	return fallback
}
