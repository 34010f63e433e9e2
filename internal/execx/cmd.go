// Package execx runs the external tools the release pipeline drives.
//
// Every invocation is described by a Cmd value and executed through a
// Runner. Exec is the real implementation backed by os/exec; Recorder is a
// scripted fake used by the tests of the packages built on top of it.
package execx

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Cmd describes a single external invocation.
type Cmd struct {
	Name string
	Args []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Env holds extra KEY=VALUE entries layered over the process environment.
	Env []string
	// Secrets are argument values masked when the command is displayed.
	Secrets []string
}

// Command is shorthand for building a Cmd.
func Command(name string, args ...string) Cmd {
	return Cmd{Name: name, Args: args}
}

// Line returns the raw command line: name and arguments joined by spaces.
// Nothing is quoted or masked. It is meant for matching, not for display.
func (c Cmd) Line() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// String renders the command for logs. Arguments containing whitespace are
// quoted and secret values are masked.
func (c Cmd) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		if c.isSecret(a) {
			parts = append(parts, "***")
			continue
		}
		if a == "" || strings.ContainsAny(a, " \t\n\"") {
			a = strconv.Quote(a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

func (c Cmd) isSecret(arg string) bool {
	for _, s := range c.Secrets {
		if s != "" && s == arg {
			return true
		}
	}
	return false
}

// Runner executes commands.
type Runner interface {
	// Run executes c with output streamed to the runner's writers.
	Run(ctx context.Context, c Cmd) error
	// Read executes c and returns its stdout with surrounding whitespace
	// trimmed.
	Read(ctx context.Context, c Cmd) (string, error)
}

// CommandError reports a command that could not be started or that exited
// with a non-zero status.
type CommandError struct {
	Cmd Cmd
	// ExitCode is -1 when the process never started.
	ExitCode int
	// Stderr is the trimmed captured stderr, when it was captured.
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.ExitCode < 0 {
		return fmt.Sprintf("running `%s`: %v", e.Cmd, e.Err)
	}
	msg := fmt.Sprintf("command `%s` exited with code %d", e.Cmd, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }
