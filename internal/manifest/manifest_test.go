package manifest

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, contents string) *Manifest {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(contents), 0644))
	m, err := Load(dir)
	require.NoError(t, err)
	return m
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist), "got %v", err)
}

func TestLoad_RecordsPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("[package]\n"), 0644))
	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Cargo.toml"), m.Path)
	assert.Equal(t, "[package]\n", m.Contents)
}

func TestVersion(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		want     string
	}{
		{
			name:     "package section",
			contents: "[package]\nname = \"xaction\"\nversion = \"1.2.3\"\nedition = \"2018\"\n",
			want:     "1.2.3",
		},
		{
			name:     "first match wins",
			contents: "version = \"0.1.0\"\n[dependencies.foo]\nversion = \"9.9.9\"\n",
			want:     "0.1.0",
		},
		{
			name:     "trailing comment and tabs",
			contents: "\tversion\t=\t\"2.0.0-alpha.1\" # bumped by release\n",
			want:     "2.0.0-alpha.1",
		},
		{
			name:     "crlf line endings",
			contents: "[package]\r\nversion = \"3.1.4\"\r\n",
			want:     "3.1.4",
		},
		{
			name:     "similar keys are not matched",
			contents: "rust-version = \"1.56\"\nversion_x = \"0\"\nversion = \"0.0.1\"\n",
			want:     "0.0.1",
		},
		{
			name:     "inline tables are skipped",
			contents: "serde = { version = \"1.0\" }\nversion = \"4.5.6\"\n",
			want:     "4.5.6",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manifest{Path: "Cargo.toml", Contents: tt.contents}
			got, err := m.Version()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersion_NotFound(t *testing.T) {
	m := writeManifest(t, "[package]\nname = \"xaction\"\n")
	_, err := m.Version()
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrFieldNotFound))
	var nf *FieldNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "version", nf.Field)
	assert.Equal(t, m.Path, nf.Path)
	assert.Equal(t, "can't find `version` in "+m.Path, err.Error())
}

func TestGet_Malformed(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		line     int
		token    string
	}{
		{name: "unquoted", contents: "[package]\nversion = 1.2.3\n", line: 2, token: "1.2.3"},
		{name: "single quotes", contents: "version = '1.2.3'\n", line: 1, token: "'1.2.3'"},
		{name: "empty string", contents: "version = \"\"\n", line: 1, token: `""`},
		{name: "lone quote", contents: "version = \"\n", line: 1, token: `"`},
		{name: "value with spaces", contents: "version = \"1 2\"\n", line: 1, token: `"1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manifest{Path: "Cargo.toml", Contents: tt.contents}
			_, err := m.Version()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedValue))
			assert.False(t, errors.Is(err, ErrFieldNotFound))

			var mv *MalformedValueError
			require.True(t, errors.As(err, &mv))
			assert.Equal(t, "version", mv.Field)
			assert.Equal(t, tt.line, mv.Line)
			assert.Equal(t, tt.token, mv.Token)
		})
	}
}

func TestGet_OtherField(t *testing.T) {
	m := &Manifest{Path: "Cargo.toml", Contents: "[package]\nname = \"xaction\"\nversion = \"0.2.1\"\n"}
	got, err := m.Get("name")
	require.NoError(t, err)
	assert.Equal(t, "xaction", got)
}

func TestWorkspaceMembers(t *testing.T) {
	m := &Manifest{Path: "Cargo.toml", Contents: `
[workspace]
members = [
    "crates/core",
    "crates/cli",
]

[package]
name = "root"
version = "0.1.0"
`}
	members, err := m.WorkspaceMembers()
	require.NoError(t, err)
	assert.Equal(t, []string{"crates/core", "crates/cli"}, members)
}

func TestWorkspaceMembers_Absent(t *testing.T) {
	m := &Manifest{Path: "Cargo.toml", Contents: "[package]\nversion = \"0.1.0\"\n"}
	members, err := m.WorkspaceMembers()
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestWorkspaceMembers_InvalidTOML(t *testing.T) {
	m := &Manifest{Path: "Cargo.toml", Contents: "[workspace\nmembers = [\n"}
	_, err := m.WorkspaceMembers()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse Cargo.toml")
}

func TestWorkspaceMembers_NotStrings(t *testing.T) {
	m := &Manifest{Path: "Cargo.toml", Contents: "[workspace]\nmembers = [1, 2]\n"}
	_, err := m.WorkspaceMembers()
	require.Error(t, err)
}

func TestWorkspaceMembers_Glob(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"crates/b", "crates/a", "crates/skip", "tools/gen"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(root, dir, FileName), []byte("[package]\n"), 0644))
	}
	// A directory without a manifest is not a crate.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "crates", "docs"), 0755))

	m := &Manifest{Path: filepath.Join(root, FileName), Contents: `
[workspace]
members = ["crates/*", "tools/gen"]
exclude = ["crates/skip"]
`}
	members, err := m.WorkspaceMembers()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("crates", "a"),
		filepath.Join("crates", "b"),
		"tools/gen",
	}, members)
}

func TestWorkspaceMembers_GlobWithoutMatches(t *testing.T) {
	root := t.TempDir()
	m := &Manifest{Path: filepath.Join(root, FileName), Contents: "[workspace]\nmembers = [\"crates/*\"]\n"}
	_, err := m.WorkspaceMembers()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"crates/*" matches no crate directory`)
}
