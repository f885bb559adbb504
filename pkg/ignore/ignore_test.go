package ignore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	m := NewFromDefaults()

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"node_modules", true, true},
		{"web/node_modules/react/index.js", false, true},
		{".git/config", false, true},
		{"src/app.min.js", false, true},
		{"poetry.lock", false, true},
		{"src/build", true, true},
		{"src/main.go", false, false},
		{"build.py", false, false},
		{"docs/vendor.md", false, false},
		{".", true, false},
	}
	for _, tt := range tests {
		if got := m.Match(tt.path, tt.isDir); got != tt.want {
			t.Errorf("Match(%q, %v) = %v, want %v", tt.path, tt.isDir, got, tt.want)
		}
	}
}

func TestPatterns(t *testing.T) {
	m := NewFromPatterns(
		"# generated",
		"*.gen.ts",
		"/scripts/*.sh",
		"**/fixtures/",
		"legacy/",
		"!legacy/keep.py",
		"[",
	)

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"api/client.gen.ts", false, true},
		{"scripts/deploy.sh", false, true},
		{"tools/scripts/deploy.sh", false, false},
		{"a/b/fixtures", true, true},
		{"a/b/fixtures/data.json", false, true},
		{"legacy/old.py", false, true},
		{"legacy/keep.py", false, false},
		{"fixtures.py", false, false},
	}
	for _, tt := range tests {
		if got := m.Match(tt.path, tt.isDir); got != tt.want {
			t.Errorf("Match(%q, %v) = %v, want %v", tt.path, tt.isDir, got, tt.want)
		}
	}
}

func TestNewLoadsIgnoreFile(t *testing.T) {
	root := t.TempDir()
	content := "secrets/\n*.sql\n!node_modules/\n"
	if err := os.WriteFile(filepath.Join(root, FileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Match("secrets/key.py", false) {
		t.Error("secrets/ from file should be ignored")
	}
	if !m.Match("db/schema.sql", false) {
		t.Error("*.sql from file should be ignored")
	}
	if m.Match("node_modules", true) {
		t.Error("user negation should override builtin default")
	}

	if _, err := New(t.TempDir()); err != nil {
		t.Errorf("missing ignore file should not fail: %v", err)
	}
}
