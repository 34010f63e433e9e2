package execx

import (
	"context"
	"strings"
)

// Response is a scripted outcome for a Recorder command.
type Response struct {
	Output   string
	ExitCode int
}

// Recorder is a Runner that records every command and answers from a
// script instead of spawning processes. Unscripted commands succeed with
// empty output.
type Recorder struct {
	Calls   []Cmd
	scripts map[string][]Response
}

var _ Runner = (*Recorder)(nil)

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{scripts: make(map[string][]Response)}
}

// On queues responses for the command whose Line equals line. Responses
// are consumed in order; the last one repeats once the queue is drained.
func (r *Recorder) On(line string, responses ...Response) *Recorder {
	r.scripts[line] = append(r.scripts[line], responses...)
	return r
}

// Lines returns the Line of every recorded call in order.
func (r *Recorder) Lines() []string {
	lines := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		lines[i] = c.Line()
	}
	return lines
}

// Count reports how many recorded calls have the given Line.
func (r *Recorder) Count(line string) int {
	n := 0
	for _, c := range r.Calls {
		if c.Line() == line {
			n++
		}
	}
	return n
}

func (r *Recorder) next(c Cmd) Response {
	r.Calls = append(r.Calls, c)
	queue := r.scripts[c.Line()]
	if len(queue) == 0 {
		return Response{}
	}
	resp := queue[0]
	if len(queue) > 1 {
		r.scripts[c.Line()] = queue[1:]
	}
	return resp
}

// Run implements Runner.
func (r *Recorder) Run(ctx context.Context, c Cmd) error {
	if err := ctx.Err(); err != nil {
		return &CommandError{Cmd: c, ExitCode: -1, Err: err}
	}
	resp := r.next(c)
	if resp.ExitCode != 0 {
		return &CommandError{Cmd: c, ExitCode: resp.ExitCode, Stderr: resp.Output}
	}
	return nil
}

// Read implements Runner.
func (r *Recorder) Read(ctx context.Context, c Cmd) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &CommandError{Cmd: c, ExitCode: -1, Err: err}
	}
	resp := r.next(c)
	if resp.ExitCode != 0 {
		return "", &CommandError{Cmd: c, ExitCode: resp.ExitCode, Stderr: resp.Output}
	}
	return strings.TrimSpace(resp.Output), nil
}
