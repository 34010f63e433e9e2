// Package dryrun holds the switch that turns mutating release steps
// (publish, tag, push) into simulations.
//
// The flag is computed once per run and handed to every component that
// touches external state. It is a plain value, so sharing it is safe.
package dryrun

// SimulateArg is the argument appended to commands that support a native
// simulation mode.
const SimulateArg = "--dry-run"

// Flag reports whether mutating operations are simulated.
type Flag bool

const (
	Off Flag = false
	On  Flag = true
)

// Enabled reports whether the run is simulated.
func (f Flag) Enabled() bool { return bool(f) }

// Arg returns the simulate argument and true when enabled.
func (f Flag) Arg() (string, bool) {
	if f {
		return SimulateArg, true
	}
	return "", false
}

// Args returns the simulate argument as a slice ready to append to a
// command line, or nil when disabled.
func (f Flag) Args() []string {
	if a, ok := f.Arg(); ok {
		return []string{a}
	}
	return nil
}

func (f Flag) String() string {
	if f {
		return "dry-run"
	}
	return "live"
}
