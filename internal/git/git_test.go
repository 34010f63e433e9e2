package git

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"cirelease/internal/dryrun"
	"cirelease/internal/execx"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentBranch_Trims(t *testing.T) {
	rec := execx.NewRecorder().On("git branch --show-current", execx.Response{Output: "  master\n"})
	r := &Repo{Dir: "/repo", Runner: rec}

	branch, err := r.CurrentBranch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "master", branch)
	require.Len(t, rec.Calls, 1)
	assert.Equal(t, "/repo", rec.Calls[0].Dir)
}

func TestTagList(t *testing.T) {
	rec := execx.NewRecorder().On("git tag --list", execx.Response{Output: "v0.1.0\n  v0.2.0 \n\nv1.0.0\n"})
	r := &Repo{Runner: rec}

	tags, err := r.TagList(context.Background())
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"v0.1.0", "v0.2.0", "v1.0.0"}, tags); diff != "" {
		t.Errorf("TagList mismatch (-want +got):\n%s", diff)
	}
}

func TestTagList_Empty(t *testing.T) {
	r := &Repo{Runner: execx.NewRecorder()}
	tags, err := r.TagList(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestHasTag(t *testing.T) {
	tests := []struct {
		name   string
		output string
		tag    string
		want   bool
	}{
		{name: "present last", output: "v0.1.0\nv1.2.3", tag: "v1.2.3", want: true},
		{name: "present first", output: "v1.2.3\nv0.1.0", tag: "v1.2.3", want: true},
		{name: "absent", output: "v0.1.0\nv1.2.30", tag: "v1.2.3", want: false},
		{name: "prefix only", output: "v1.2.3-rc1", tag: "v1.2.3", want: false},
		{name: "no tags", output: "", tag: "v1.2.3", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Repo{Runner: execx.NewRecorder().On("git tag --list", execx.Response{Output: tt.output})}
			got, err := r.HasTag(context.Background(), tt.tag)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueries_PropagateFailure(t *testing.T) {
	rec := execx.NewRecorder().
		On("git tag --list", execx.Response{ExitCode: 128, Output: "fatal: not a git repository"}).
		On("git branch --show-current", execx.Response{ExitCode: 128})
	r := &Repo{Runner: rec}

	_, err := r.HasTag(context.Background(), "v1")
	var cmdErr *execx.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 128, cmdErr.ExitCode)
	assert.Contains(t, err.Error(), "list tags")

	_, err = r.CurrentBranch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "current branch")
}

func TestMutations_DryRunSkips(t *testing.T) {
	rec := execx.NewRecorder()
	r := &Repo{Runner: rec, DryRun: dryrun.On}

	require.NoError(t, r.Tag(context.Background(), "v1.2.3"))
	require.NoError(t, r.PushTags(context.Background()))
	assert.Empty(t, rec.Calls, "dry run must not invoke git")
}

func TestMutations_Live(t *testing.T) {
	rec := execx.NewRecorder()
	r := &Repo{Dir: "/repo", Runner: rec, DryRun: dryrun.Off}

	require.NoError(t, r.Tag(context.Background(), "v1.2.3"))
	require.NoError(t, r.PushTags(context.Background()))
	assert.Equal(t, []string{"git tag v1.2.3", "git push --tags"}, rec.Lines())
	assert.Equal(t, 1, rec.Count("git tag v1.2.3"))
	assert.Equal(t, 1, rec.Count("git push --tags"))
}

func TestMutations_LiveFailure(t *testing.T) {
	rec := execx.NewRecorder().
		On("git tag v1.2.3", execx.Response{ExitCode: 128}).
		On("git push --tags", execx.Response{ExitCode: 1})
	r := &Repo{Runner: rec}

	err := r.Tag(context.Background(), "v1.2.3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create tag v1.2.3")

	err = r.PushTags(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push tags")
}

// setupTestRepo creates a temporary git repository with one commit on master.
func setupTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	cmds := [][]string{
		{"init"},
		{"config", "user.name", "Test User"},
		{"config", "user.email", "test@example.com"},
		{"symbolic-ref", "HEAD", "refs/heads/master"},
		{"config", "commit.gpgsign", "false"},
	}
	for _, args := range cmds {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v: %s", args, err, out)
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte("[package]\n"), 0644))
	for _, args := range [][]string{{"add", "Cargo.toml"}, {"commit", "-m", "initial"}} {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v: %s", args, err, out)
		}
	}
	return dir
}

func TestRepo_RealGit(t *testing.T) {
	dir := setupTestRepo(t)
	var stderr bytes.Buffer
	r := &Repo{Dir: dir, Runner: execx.New(execx.WithStdout(io.Discard), execx.WithStderr(&stderr))}
	ctx := context.Background()

	branch, err := r.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "master", branch)

	has, err := r.HasTag(ctx, "v0.1.0")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, r.Tag(ctx, "v0.1.0"))
	has, err = r.HasTag(ctx, "v0.1.0")
	require.NoError(t, err)
	assert.True(t, has)
	assert.Contains(t, stderr.String(), "$ git tag v0.1.0")

	dry := &Repo{Dir: dir, Runner: r.Runner, DryRun: dryrun.On}
	require.NoError(t, dry.Tag(ctx, "v0.2.0"))
	tags, err := r.TagList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v0.1.0"}, tags)

	// No remote is configured, so only the dry-run push succeeds.
	require.NoError(t, dry.PushTags(ctx))
	require.Error(t, r.PushTags(ctx))
}
