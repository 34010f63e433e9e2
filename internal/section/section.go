// Package section brackets named pipeline phases with log-folding markers
// and reports how long each phase took.
//
// A phase prints "::group::NAME" to stdout when it starts. When it ends it
// prints "NAME: ELAPSED" to stderr and then "::endgroup::" to stdout. CI
// log viewers collapse everything between the two markers. Each phase is
// also an OpenTelemetry span.
package section

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	colorName  = "39"  // Blue
	colorMuted = "245" // Gray
)

// Reporter writes phase markers and timings.
type Reporter struct {
	stdout io.Writer
	stderr io.Writer
	tracer trace.Tracer
	now    func() time.Time

	nameStyle lipgloss.Style
	timeStyle lipgloss.Style
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithTracer sets the tracer used to open one span per phase.
func WithTracer(t trace.Tracer) Option {
	return func(r *Reporter) { r.tracer = t }
}

// WithClock overrides time.Now (used in tests).
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// NewReporter returns a Reporter writing markers to stdout and timings to
// stderr. A nil writer falls back to the matching os stream.
func NewReporter(stdout, stderr io.Writer, opts ...Option) *Reporter {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	r := &Reporter{
		stdout: stdout,
		stderr: stderr,
		tracer: noop.NewTracerProvider().Tracer(""),
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	// Style against the writer the text ends up in: plain for pipes and
	// files, coloured for terminals.
	renderer := lipgloss.NewRenderer(stderr)
	r.nameStyle = renderer.NewStyle().Bold(true).Foreground(lipgloss.Color(colorName))
	r.timeStyle = renderer.NewStyle().Foreground(lipgloss.Color(colorMuted))
	return r
}

// Section is one running phase.
type Section struct {
	r     *Reporter
	name  string
	start time.Time
	span  trace.Span
	ended bool
}

// Begin opens the phase name. The returned context carries its span.
// Callers must arrange for End to run on every path, normally with defer.
func (r *Reporter) Begin(ctx context.Context, name string) (context.Context, *Section) {
	fmt.Fprintf(r.stdout, "::group::%s\n", name)
	ctx, span := r.tracer.Start(ctx, name)
	return ctx, &Section{r: r, name: name, start: r.now(), span: span}
}

// Name returns the phase name.
func (s *Section) Name() string { return s.name }

// End closes the phase. err is the phase outcome; it is recorded on the
// span. The timing line is the same either way. Calling End more than once
// is a no-op.
func (s *Section) End(err error) time.Duration {
	if s.ended {
		return 0
	}
	s.ended = true
	elapsed := s.r.now().Sub(s.start)

	line := s.r.nameStyle.Render(s.name+":") + " " + s.r.timeStyle.Render(FormatElapsed(elapsed))
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	fmt.Fprintln(s.r.stderr, line)
	fmt.Fprintln(s.r.stdout, "::endgroup::")
	s.span.End()
	return elapsed
}

// Run executes fn as the phase name. The closing markers are written
// whether fn returns nil, returns an error or panics.
func (r *Reporter) Run(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	ctx, s := r.Begin(ctx, name)
	defer func() {
		if p := recover(); p != nil {
			s.End(fmt.Errorf("panic: %v", p))
			panic(p)
		}
		s.End(err)
	}()
	return fn(ctx)
}

// FormatElapsed renders d with two decimals in the largest unit that keeps
// the value at or above one: 1.50s, 12.25ms, 3.00µs, 12.00ns.
func FormatElapsed(d time.Duration) string {
	switch {
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	case d >= time.Microsecond:
		return fmt.Sprintf("%.2fµs", float64(d)/float64(time.Microsecond))
	default:
		return fmt.Sprintf("%.2fns", float64(d))
	}
}
