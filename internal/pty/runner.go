package pty

import (
	"context"
	"io"
	"os/exec"

	"github.com/creack/pty"
)

// Size represents terminal dimensions in rows and columns.
type Size struct {
	Rows uint16
	Cols uint16
}

// DefaultSize is wide enough that cargo does not wrap its progress lines in
// CI logs, which have no real terminal behind them.
var DefaultSize = Size{Rows: 50, Cols: 200}

// Runner is the interface for spawning a command attached to a PTY.
// Implementations can be swapped (e.g. creack/pty, or a mock for tests).
type Runner interface {
	Start(ctx context.Context, cmd *exec.Cmd, size Size) (io.ReadCloser, error)
}

// CreackPTY implements Runner using github.com/creack/pty.
type CreackPTY struct{}

// Ensure CreackPTY implements Runner.
var _ Runner = (*CreackPTY)(nil)

// Start implements Runner. It spawns cmd with stdin, stdout and stderr all
// wired to the terminal; the returned reader yields the merged output.
// The caller must Wait on cmd after draining the reader.
func (c *CreackPTY) Start(ctx context.Context, cmd *exec.Cmd, size Size) (io.ReadCloser, error) {
	ws := &pty.Winsize{Rows: size.Rows, Cols: size.Cols}
	f, err := pty.StartWithSize(cmd, ws)
	if err != nil {
		return nil, err
	}
	// Context cancellation kills the process through exec.CommandContext.
	return f, nil
}
