// Package git wraps the handful of git operations a release needs.
package git

import (
	"context"
	"fmt"
	"strings"

	"cirelease/internal/dryrun"
	"cirelease/internal/execx"

	"go.uber.org/zap"
)

// Repo runs git in a working tree. Tag and PushTags become no-ops when
// DryRun is enabled.
type Repo struct {
	Dir    string
	Runner execx.Runner
	DryRun dryrun.Flag
	Logger *zap.Logger
}

func (r *Repo) git(args ...string) execx.Cmd {
	c := execx.Command("git", args...)
	c.Dir = r.Dir
	return c
}

func (r *Repo) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// CurrentBranch returns the checked-out branch name. It is empty on a
// detached HEAD.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.Runner.Read(ctx, r.git("branch", "--show-current"))
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// TagList returns the existing tags in the order git prints them.
func (r *Repo) TagList(ctx context.Context) ([]string, error) {
	out, err := r.Runner.Read(ctx, r.git("tag", "--list"))
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	var tags []string
	for _, line := range strings.Split(out, "\n") {
		if tag := strings.TrimSpace(line); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags, nil
}

// HasTag reports whether name is among TagList.
func (r *Repo) HasTag(ctx context.Context, name string) (bool, error) {
	tags, err := r.TagList(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range tags {
		if t == name {
			return true, nil
		}
	}
	return false, nil
}

// Tag creates a lightweight tag at HEAD.
func (r *Repo) Tag(ctx context.Context, name string) error {
	if r.DryRun.Enabled() {
		r.logger().Info("skipping tag", zap.String("tag", name), zap.Stringer("mode", r.DryRun))
		return nil
	}
	if err := r.Runner.Run(ctx, r.git("tag", name)); err != nil {
		return fmt.Errorf("create tag %s: %w", name, err)
	}
	return nil
}

// PushTags pushes all local tags to the default remote.
//
// In dry-run mode nothing runs at all. `git push --tags --dry-run` exists,
// but it fails with a permission error on forks.
func (r *Repo) PushTags(ctx context.Context) error {
	if r.DryRun.Enabled() {
		r.logger().Info("skipping tag push", zap.Stringer("mode", r.DryRun))
		return nil
	}
	if err := r.Runner.Run(ctx, r.git("push", "--tags")); err != nil {
		return fmt.Errorf("push tags: %w", err)
	}
	return nil
}
