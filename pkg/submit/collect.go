package submit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/insight/pkg/api"
	"github.com/jmylchreest/insight/pkg/ignore"
)

// SourceExtensions are the source file types the backend analyzes.
var SourceExtensions = []string{
	".js", ".ts", ".jsx", ".tsx", ".py", ".java",
	".cpp", ".c", ".cs", ".php", ".rb", ".go",
}

// ArchiveExtensions are unpacked by the backend before analysis.
var ArchiveExtensions = []string{".zip", ".rar", ".7z", ".tar", ".gz"}

// IsSupported reports whether name has an extension the backend accepts.
func IsSupported(name string) bool {
	return IsSource(name) || IsArchive(name)
}

// IsSource reports whether name is an analyzable source file.
func IsSource(name string) bool {
	return slices.Contains(SourceExtensions, strings.ToLower(filepath.Ext(name)))
}

// IsArchive reports whether name is an archive.
func IsArchive(name string) bool {
	return slices.Contains(ArchiveExtensions, strings.ToLower(filepath.Ext(name)))
}

// Collection is the set of files selected for one upload.
type Collection struct {
	Files []api.UploadFile
	// Skipped counts files passed over: ignored paths and unsupported types.
	Skipped int
}

// Names returns the upload names in order.
func (c *Collection) Names() []string {
	out := make([]string, len(c.Files))
	for i, f := range c.Files {
		out[i] = f.Name
	}
	return out
}

const collectWorkers = 4

// Collect walks roots and selects supported files. A root may be a file,
// which is taken as-is when its type is supported, or a directory, which is
// walked honouring its .insightignore. With more than one root, names are
// prefixed by the root's base name so they stay distinct.
func Collect(ctx context.Context, roots ...string) (*Collection, error) {
	parts := make([]Collection, len(roots))
	prefix := len(roots) > 1

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(collectWorkers)
	for i, root := range roots {
		g.Go(func() error {
			c, err := collectRoot(ctx, root, prefix)
			if err != nil {
				return fmt.Errorf("collect %s: %w", root, err)
			}
			parts[i] = *c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Collection{}
	seen := make(map[string]bool)
	for _, p := range parts {
		out.Skipped += p.Skipped
		for _, f := range p.Files {
			if seen[f.Name] {
				continue
			}
			seen[f.Name] = true
			out.Files = append(out.Files, f)
		}
	}
	slices.SortFunc(out.Files, func(a, b api.UploadFile) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func collectRoot(ctx context.Context, root string, prefix bool) (*Collection, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	c := &Collection{}
	if !info.IsDir() {
		if IsSupported(root) {
			c.Files = append(c.Files, api.UploadFile{Name: filepath.Base(root), Path: root})
		} else {
			c.Skipped++
		}
		return c, nil
	}

	m, err := ignore.New(root)
	if err != nil {
		return nil, err
	}
	base := filepath.Base(filepath.Clean(root))

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." {
			return nil
		}
		if m.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			c.Skipped++
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !IsSupported(p) {
			c.Skipped++
			return nil
		}
		name := filepath.ToSlash(rel)
		if prefix {
			name = path.Join(base, name)
		}
		c.Files = append(c.Files, api.UploadFile{Name: name, Path: p})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
