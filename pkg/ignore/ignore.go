// Package ignore decides which local files are collected for upload.
//
// Patterns come from built-in defaults plus an optional .insightignore file
// at the collection root, using .gitignore syntax:
//
//	# comment
//	*.min.js        match files by name at any depth
//	fixtures/       match directories by name (trailing slash)
//	/docs/*.md      anchored to the root (leading or interior slash)
//	**/generated/   match at any depth
//	!keep.min.js    negate an earlier pattern
//
// Later rules win over earlier ones.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FileName is the per-project ignore file.
const FileName = ".insightignore"

// BuiltinDefaults are applied before any user patterns.
var BuiltinDefaults = []string{
	".git/",
	".svn/",
	".hg/",
	".insight/",

	"node_modules/",
	"bower_components/",
	"dist/",
	".next/",
	"coverage/",
	".cache/",

	"__pycache__/",
	".venv/",
	"venv/",
	".tox/",
	".mypy_cache/",
	".pytest_cache/",
	"*.egg-info/",

	"vendor/",
	"target/",
	"build/",
	".gradle/",
	"bin/",
	"obj/",

	".idea/",
	".vscode/",
	".DS_Store",

	"*.min.js",
	"*.bundle.js",
	"*.lock",
}

// Matcher tests whether a path should be skipped.
type Matcher struct {
	rules []rule
}

type rule struct {
	glob     string
	negation bool
	dirOnly  bool
}

// New builds a Matcher from the defaults and <root>/.insightignore when it
// exists.
func New(root string) (*Matcher, error) {
	m := NewFromDefaults()
	if err := m.loadFile(filepath.Join(root, FileName)); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return m, nil
}

// NewFromDefaults returns a Matcher with only the built-in defaults.
func NewFromDefaults() *Matcher {
	return NewFromPatterns(BuiltinDefaults...)
}

// NewFromPatterns returns a Matcher for the given patterns, in order.
func NewFromPatterns(patterns ...string) *Matcher {
	m := &Matcher{}
	m.Add(patterns...)
	return m
}

// Add appends patterns. Blank lines and comments are skipped; invalid globs
// are dropped.
func (m *Matcher) Add(patterns ...string) {
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		if r, ok := parse(p); ok {
			m.rules = append(m.rules, r)
		}
	}
}

// Match reports whether path (relative to the root) should be ignored.
// Files inside an ignored directory are ignored too.
func (m *Matcher) Match(path string, isDir bool) bool {
	path = strings.TrimSuffix(filepath.ToSlash(path), "/")
	path = strings.TrimPrefix(path, "./")
	if path == "" || path == "." {
		return false
	}

	ignored, matched := m.eval(path, isDir)
	if matched {
		return ignored
	}
	if !isDir {
		parts := strings.Split(path, "/")
		for i := 1; i < len(parts); i++ {
			if ig, _ := m.eval(strings.Join(parts[:i], "/"), true); ig {
				return true
			}
		}
	}
	return false
}

func (m *Matcher) eval(path string, isDir bool) (ignored, matched bool) {
	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		if ok, _ := doublestar.Match(r.glob, path); ok {
			ignored = !r.negation
			matched = true
		}
	}
	return ignored, matched
}

func (m *Matcher) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m.Add(scanner.Text())
	}
	return scanner.Err()
}

// parse turns a gitignore-style pattern into a doublestar glob. Patterns
// without an interior slash match at any depth.
func parse(pattern string) (rule, bool) {
	var r rule
	if strings.HasPrefix(pattern, "!") {
		r.negation = true
		pattern = pattern[1:]
	}
	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}

	anchored := strings.Contains(pattern, "/")
	pattern = strings.TrimPrefix(pattern, "/")
	if !anchored {
		pattern = "**/" + pattern
	}
	if pattern == "" || !doublestar.ValidatePattern(pattern) {
		return rule{}, false
	}
	r.glob = pattern
	return r, true
}
