// Package manifest reads the package manifest (Cargo.toml) that supplies the
// release version.
//
// Field lookup is a deliberately naive line scanner: it expects
// single-line `name = "value"` assignments and does not understand tables.
// Workspace membership, which needs real table structure, goes through a
// TOML parser instead.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml"
)

// FileName is the manifest file looked up in the working directory.
const FileName = "Cargo.toml"

var (
	// ErrFieldNotFound matches a *FieldNotFoundError via errors.Is.
	ErrFieldNotFound = errors.New("manifest field not found")
	// ErrMalformedValue matches a *MalformedValueError via errors.Is.
	ErrMalformedValue = errors.New("malformed manifest value")
)

// FieldNotFoundError reports a field with no matching assignment line.
type FieldNotFoundError struct {
	Field string
	Path  string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("can't find `%s` in %s", e.Field, e.Path)
}

func (e *FieldNotFoundError) Is(target error) bool { return target == ErrFieldNotFound }

// MalformedValueError reports an assignment whose value is not a non-empty
// double-quoted token.
type MalformedValueError struct {
	Field string
	Path  string
	Line  int // 1-based
	Token string
}

func (e *MalformedValueError) Error() string {
	return fmt.Sprintf("%s:%d: value of `%s` must be a quoted string, got %s", e.Path, e.Line, e.Field, e.Token)
}

func (e *MalformedValueError) Is(target error) bool { return target == ErrMalformedValue }

// Manifest is the raw text of a manifest file.
type Manifest struct {
	Path     string
	Contents string
}

// Load reads FileName from dir.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return &Manifest{Path: path, Contents: string(data)}, nil
}

// Version returns the value of the `version` field.
func (m *Manifest) Version() (string, error) {
	return m.Get("version")
}

// Get returns the unquoted value of the first line whose whitespace-split
// tokens read `<field> = "<value>" ...`.
func (m *Manifest) Get(field string) (string, error) {
	for i, line := range strings.Split(m.Contents, "\n") {
		words := strings.FieldsFunc(line, isASCIISpace)
		if len(words) < 3 || words[0] != field || words[1] != "=" {
			continue
		}
		v := words[2]
		if len(v) < 3 || v[0] != '"' || v[len(v)-1] != '"' {
			return "", &MalformedValueError{Field: field, Path: m.Path, Line: i + 1, Token: v}
		}
		return v[1 : len(v)-1], nil
	}
	return "", &FieldNotFoundError{Field: field, Path: m.Path}
}

func isASCIISpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\f':
		return true
	}
	return false
}

// WorkspaceMembers returns the entries of `[workspace] members`, or nil if
// the manifest declares no workspace. Glob entries such as "crates/*" are
// expanded against the manifest's directory to the matching crate
// directories, in lexical order, minus any listed in `[workspace] exclude`.
// Plain entries are returned as written.
func (m *Manifest) WorkspaceMembers() ([]string, error) {
	tree, err := toml.Load(m.Contents)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", m.Path, err)
	}
	patterns, err := m.stringArray(tree, "workspace.members")
	if err != nil || patterns == nil {
		return nil, err
	}
	exclude, err := m.stringArray(tree, "workspace.exclude")
	if err != nil {
		return nil, err
	}
	excluded := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		excluded[filepath.Clean(e)] = true
	}

	root := filepath.Dir(m.Path)
	members := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[") {
			members = append(members, pattern)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			return nil, fmt.Errorf("%s: workspace member %q: %w", m.Path, pattern, err)
		}
		found := 0
		for _, match := range matches {
			if _, err := os.Stat(filepath.Join(match, FileName)); err != nil {
				continue
			}
			rel, err := filepath.Rel(root, match)
			if err != nil {
				return nil, fmt.Errorf("%s: workspace member %q: %w", m.Path, pattern, err)
			}
			found++
			if excluded[rel] {
				continue
			}
			members = append(members, rel)
		}
		if found == 0 {
			return nil, fmt.Errorf("%s: workspace member %q matches no crate directory", m.Path, pattern)
		}
	}
	return members, nil
}

// stringArray returns the array of strings at key, or nil if key is unset.
func (m *Manifest) stringArray(tree *toml.Tree, key string) ([]string, error) {
	switch v := tree.Get(key).(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s: %s entry %v is not a string", m.Path, key, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: %s is %T, want an array of strings", m.Path, key, v)
	}
}
