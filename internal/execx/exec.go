package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"cirelease/internal/pty"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CommandFactory builds an *exec.Cmd for the given context, binary and
// arguments. The default factory uses exec.CommandContext. Tests can inject
// a factory that invokes a helper process instead.
type CommandFactory func(ctx context.Context, name string, args ...string) *exec.Cmd

func defaultCommandFactory(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}

// Exec is the Runner backed by real processes.
//
// Each command is echoed to stderr as "$ cmd args..." before it starts.
// Run streams the child's stdout and stderr to the configured writers; Read
// captures stdout and keeps stderr for the error message.
type Exec struct {
	stdout         io.Writer
	stderr         io.Writer
	env            []string
	tty            bool
	pty            pty.Runner
	commandFactory CommandFactory
	logger         *zap.Logger
}

var _ Runner = (*Exec)(nil)

// Option configures an Exec.
type Option func(*Exec)

// WithStdout overrides the writer Run streams child stdout to (default os.Stdout).
func WithStdout(w io.Writer) Option {
	return func(e *Exec) { e.stdout = w }
}

// WithStderr overrides the writer for child stderr and command echo (default os.Stderr).
func WithStderr(w io.Writer) Option {
	return func(e *Exec) { e.stderr = w }
}

// WithEnv adds KEY=VALUE entries to every command's environment.
func WithEnv(kv ...string) Option {
	return func(e *Exec) { e.env = append(e.env, kv...) }
}

// WithTTY makes Run attach commands to a pseudo-terminal so tools keep
// their coloured output. Read is unaffected.
func WithTTY(r pty.Runner) Option {
	return func(e *Exec) {
		e.tty = true
		e.pty = r
	}
}

// WithCommandFactory injects a custom command factory (used in tests).
func WithCommandFactory(f CommandFactory) Option {
	return func(e *Exec) { e.commandFactory = f }
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Exec) { e.logger = l }
}

// New returns an Exec with the given options applied.
func New(opts ...Option) *Exec {
	e := &Exec{
		stdout:         os.Stdout,
		stderr:         os.Stderr,
		commandFactory: defaultCommandFactory,
		logger:         zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.tty && e.pty == nil {
		e.pty = &pty.CreackPTY{}
	}
	return e
}

func (e *Exec) command(ctx context.Context, c Cmd) *exec.Cmd {
	fmt.Fprintf(e.stderr, "$ %s\n", c)
	trace.SpanFromContext(ctx).AddEvent("exec", trace.WithAttributes(
		attribute.String("cirelease.command", c.String()),
	))
	e.logger.Debug("exec", zap.Stringer("cmd", c), zap.String("dir", c.Dir))

	cmd := e.commandFactory(ctx, c.Name, c.Args...)
	if c.Dir != "" {
		cmd.Dir = c.Dir
	}
	if extra := append(append([]string{}, e.env...), c.Env...); len(extra) > 0 {
		if cmd.Env == nil {
			cmd.Env = os.Environ()
		}
		cmd.Env = append(cmd.Env, extra...)
	}
	return cmd
}

// Run implements Runner.
func (e *Exec) Run(ctx context.Context, c Cmd) error {
	cmd := e.command(ctx, c)
	if e.tty {
		return e.runTTY(ctx, c, cmd)
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = e.stdout
	cmd.Stderr = e.stderr
	return commandError(c, cmd.Run(), "")
}

func (e *Exec) runTTY(ctx context.Context, c Cmd, cmd *exec.Cmd) error {
	out, err := e.pty.Start(ctx, cmd, pty.DefaultSize)
	if err != nil {
		return &CommandError{Cmd: c, ExitCode: -1, Err: err}
	}
	// Reading the master side fails with EIO once the child exits; that is
	// the normal end of stream.
	_, _ = io.Copy(e.stdout, out)
	_ = out.Close()
	return commandError(c, cmd.Wait(), "")
}

// Read implements Runner.
func (e *Exec) Read(ctx context.Context, c Cmd) (string, error) {
	cmd := e.command(ctx, c)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", commandError(c, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func commandError(c Cmd, err error, stderr string) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &CommandError{Cmd: c, ExitCode: exitErr.ExitCode(), Stderr: stderr, Err: err}
	}
	return &CommandError{Cmd: c, ExitCode: -1, Stderr: stderr, Err: err}
}
