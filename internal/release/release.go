// Package release drives a CI release: build, test, then publish and tag,
// simulating the mutating steps unless the run is a genuine release.
//
// # Basic Usage
//
//	seq := &release.Sequencer{
//	    Dir:      ".",
//	    Runner:   execx.New(),
//	    Reporter: section.NewReporter(os.Stdout, os.Stderr),
//	}
//	err := seq.Run(ctx)
//
// # Dry-run decision
//
// A run only publishes for real when all of these hold: the CI variable is
// present, the tag "v<version>" does not exist yet, and HEAD is on the
// release branch. Anything else simulates publish and skips tag and push.
//
// # Testing
//
// Every external call goes through Runner, so execx.Recorder can script git
// and cargo. LookupEnv replaces the process environment.
package release

import (
	"context"
	"fmt"
	"os"

	"cirelease/internal/cargo"
	"cirelease/internal/dryrun"
	"cirelease/internal/execx"
	"cirelease/internal/git"
	"cirelease/internal/manifest"
	"cirelease/internal/section"

	"go.uber.org/zap"
)

// Phase names, as they appear in the log markers.
const (
	PhaseBuild   = "BUILD"
	PhaseTest    = "TEST"
	PhasePublish = "PUBLISH"
)

// DefaultReleaseBranch is the only branch that publishes by default.
const DefaultReleaseBranch = "master"

// DefaultCIEnv is the variable CI systems set to mark a CI run.
const DefaultCIEnv = "CI"

// Sequencer runs the release pipeline for the package in Dir.
type Sequencer struct {
	Dir      string
	Runner   execx.Runner
	Reporter *section.Reporter
	Logger   *zap.Logger

	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(key string) (string, bool)
	// CIEnv defaults to DefaultCIEnv.
	CIEnv string
	// ReleaseBranch defaults to DefaultReleaseBranch.
	ReleaseBranch string
	// ForceDryRun simulates even when every release condition holds.
	ForceDryRun bool
	// Token is the registry token; empty means cargo.DefaultToken.
	Token string
	Retry cargo.Retry
}

// plan is everything decided before the first phase runs.
type plan struct {
	manifest *manifest.Manifest
	version  string
	tag      string
	decision Decision
	repo     *git.Repo
	cargo    *cargo.Cargo
}

func (s *Sequencer) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Sequencer) reporter() *section.Reporter {
	if s.Reporter == nil {
		s.Reporter = section.NewReporter(os.Stdout, os.Stderr)
	}
	return s.Reporter
}

// prepare reads the manifest, makes the dry-run decision and builds the
// adapters bound to it.
func (s *Sequencer) prepare(ctx context.Context) (*plan, error) {
	m, err := manifest.Load(s.Dir)
	if err != nil {
		return nil, err
	}
	version, err := m.Version()
	if err != nil {
		return nil, err
	}
	tag := "v" + version

	query := &git.Repo{Dir: s.Dir, Runner: s.Runner, Logger: s.logger()}
	decision, err := s.Decide(ctx, query, tag)
	if err != nil {
		return nil, err
	}
	flag := decision.Flag()

	log := s.logger().With(zap.String("version", version), zap.String("tag", tag))
	if flag.Enabled() {
		log.Info("dry run", zap.Strings("reasons", decision.Reasons()))
	} else {
		log.Info("releasing")
	}

	return &plan{
		manifest: m,
		version:  version,
		tag:      tag,
		decision: decision,
		repo:     &git.Repo{Dir: s.Dir, Runner: s.Runner, DryRun: flag, Logger: s.logger()},
		cargo: &cargo.Cargo{
			Dir:    s.Dir,
			Runner: s.Runner,
			DryRun: flag,
			Token:  s.Token,
			Retry:  s.Retry,
			Logger: s.logger(),
		},
	}, nil
}

// Run executes BUILD, TEST and PUBLISH in order. The first failure aborts
// the remaining phases; nothing already done is rolled back.
func (s *Sequencer) Run(ctx context.Context) error {
	p, err := s.prepare(ctx)
	if err != nil {
		return err
	}
	r := s.reporter()

	if err := r.Run(ctx, PhaseBuild, p.cargo.CompileTests); err != nil {
		return err
	}
	// TEST repeats the compile-only build; the suite itself is not run here.
	if err := r.Run(ctx, PhaseTest, p.cargo.CompileTests); err != nil {
		return err
	}
	return r.Run(ctx, PhasePublish, func(ctx context.Context) error {
		if err := p.cargo.Publish(ctx); err != nil {
			return err
		}
		if err := p.repo.Tag(ctx, p.tag); err != nil {
			return err
		}
		return p.repo.PushTags(ctx)
	})
}

// PublishAll publishes the workspace crates under dirs, one after another.
// With no dirs the manifest's workspace members are used. Like Run, it
// does nothing external unless the dry-run decision says this is a release;
// a dry run does not resolve the crate list at all.
func (s *Sequencer) PublishAll(ctx context.Context, dirs []string) error {
	p, err := s.prepare(ctx)
	if err != nil {
		return err
	}
	if len(dirs) == 0 && !p.decision.DryRun() {
		if dirs, err = p.manifest.WorkspaceMembers(); err != nil {
			return err
		}
		if len(dirs) == 0 {
			return fmt.Errorf("no crates to publish: pass directories or declare [workspace] members in %s", p.manifest.Path)
		}
	}
	return s.reporter().Run(ctx, PhasePublish, func(ctx context.Context) error {
		return p.cargo.PublishAll(ctx, dirs)
	})
}

// Version returns the manifest version and its release tag without
// touching git or cargo.
func (s *Sequencer) Version() (version, tag string, err error) {
	m, err := manifest.Load(s.Dir)
	if err != nil {
		return "", "", err
	}
	if version, err = m.Version(); err != nil {
		return "", "", err
	}
	return version, "v" + version, nil
}

// Decide gathers the dry-run conditions for tag. When the run is forced or
// not in CI, git is not consulted: a local run outside a repository is
// still a valid dry run.
func (s *Sequencer) Decide(ctx context.Context, repo *git.Repo, tag string) (Decision, error) {
	lookup := s.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	ciEnv := s.CIEnv
	if ciEnv == "" {
		ciEnv = DefaultCIEnv
	}
	releaseBranch := s.ReleaseBranch
	if releaseBranch == "" {
		releaseBranch = DefaultReleaseBranch
	}

	_, inCI := lookup(ciEnv)
	if s.ForceDryRun || !inCI {
		return Decision{
			Tag:           tag,
			InCI:          inCI,
			ReleaseBranch: releaseBranch,
			Forced:        s.ForceDryRun,
			Early:         true,
		}, nil
	}
	tagExists, err := repo.HasTag(ctx, tag)
	if err != nil {
		return Decision{}, err
	}
	branch, err := repo.CurrentBranch(ctx)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Tag:           tag,
		InCI:          inCI,
		TagExists:     tagExists,
		Branch:        branch,
		ReleaseBranch: releaseBranch,
		Forced:        s.ForceDryRun,
	}, nil
}

// Decision records the inputs of the dry-run decision.
type Decision struct {
	Tag           string
	InCI          bool
	TagExists     bool
	Branch        string
	ReleaseBranch string
	Forced        bool
	// Early is set when the decision was made without asking git; TagExists
	// and Branch are then unknown.
	Early         bool
}

// DryRun reports whether any condition forces a simulated release.
func (d Decision) DryRun() bool {
	return d.Forced || !d.InCI || d.TagExists || d.Branch != d.ReleaseBranch
}

// Flag converts the decision into the flag handed to git and cargo.
func (d Decision) Flag() dryrun.Flag { return dryrun.Flag(d.DryRun()) }

// Reasons lists, in a fixed order, every condition that forces a dry run.
func (d Decision) Reasons() []string {
	var reasons []string
	if d.Forced {
		reasons = append(reasons, "dry run requested")
	}
	if !d.InCI {
		reasons = append(reasons, "not running in CI")
	}
	if d.Early {
		return reasons
	}
	if d.TagExists {
		reasons = append(reasons, fmt.Sprintf("tag %s already exists", d.Tag))
	}
	if d.Branch != d.ReleaseBranch {
		reasons = append(reasons, fmt.Sprintf("on branch %q, releases come from %q", d.Branch, d.ReleaseBranch))
	}
	return reasons
}
