package probe

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ergon73/portfolio-fit/internal/stack"
)

// Entity is a repository prepared for probing. The tree is walked once; all
// probes read through it, so paths denied by the repository settings are
// invisible to every probe.
type Entity struct {
	Name     string
	Root     string // empty when the tree is not on disk
	FS       fs.FS
	Settings *stack.Settings
	Markers  stack.Markers
	Profile  stack.Profile

	files []string

	srcOnce sync.Once
	src     sourceStats
}

// NewEntity prepares the repository at root.
func NewEntity(root string) (*Entity, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}
	e, err := NewEntityFS(filepath.Base(abs), os.DirFS(abs))
	if err != nil {
		return nil, err
	}
	e.Root = abs
	return e, nil
}

// NewEntityFS prepares a repository tree held in fsys.
func NewEntityFS(name string, fsys fs.FS) (*Entity, error) {
	settings, err := stack.LoadSettings(fsys)
	if err != nil {
		return nil, err
	}
	markers, err := stack.Scan(fsys, settings)
	if err != nil {
		return nil, err
	}
	e := &Entity{
		Name:     name,
		FS:       fsys,
		Settings: settings,
		Markers:  markers,
		Profile:  stack.Detect(markers),
	}
	err = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == "." {
			return nil
		}
		if settings.IsDenied(p) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if stack.SkipDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		e.files = append(e.files, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", name, err)
	}
	sort.Strings(e.files)
	return e, nil
}

// Files returns every visible file, slash separated and sorted.
func (e *Entity) Files() []string { return e.files }

// Glob returns the visible files matching any of patterns. A pattern ending
// in "/" matches a directory prefix; "**/" matches any depth.
func (e *Entity) Glob(patterns ...string) []string {
	var out []string
	for _, f := range e.files {
		for _, p := range patterns {
			if matchFile(p, f) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// Exists reports whether any visible file matches one of patterns.
func (e *Entity) Exists(patterns ...string) bool {
	for _, f := range e.files {
		for _, p := range patterns {
			if matchFile(p, f) {
				return true
			}
		}
	}
	return false
}

// Read returns the content of a visible file, or "" when it cannot be read.
func (e *Entity) Read(name string) string {
	if e.Settings.IsDenied(name) {
		return ""
	}
	data, err := fs.ReadFile(e.FS, name)
	if err != nil {
		return ""
	}
	return string(data)
}

// ReadAll concatenates the lowercased content of files.
func (e *Entity) ReadAll(files []string) string {
	var b strings.Builder
	for _, f := range files {
		b.WriteString("\n")
		b.WriteString(strings.ToLower(e.Read(f)))
	}
	return b.String()
}

// Sources returns the visible files with one of exts. Test files are left
// out unless tests is set.
func (e *Entity) Sources(tests bool, exts ...string) []string {
	var out []string
	for _, f := range e.files {
		ext := path.Ext(f)
		for _, x := range exts {
			if ext != x {
				continue
			}
			if tests || !isTestFile(f) {
				out = append(out, f)
			}
			break
		}
	}
	return out
}

func isTestFile(f string) bool {
	base := path.Base(f)
	switch {
	case strings.HasSuffix(base, "_test.go"),
		strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py"),
		strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."):
		return true
	}
	for _, dir := range strings.Split(path.Dir(f), "/") {
		if dir == "tests" || dir == "test" || dir == "__tests__" {
			return true
		}
	}
	return false
}

func matchFile(pattern, f string) bool {
	if strings.HasSuffix(pattern, "/") {
		return strings.HasPrefix(f, pattern)
	}
	if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
		if ok, _ := path.Match(rest, path.Base(f)); ok {
			return true
		}
		return false
	}
	ok, _ := path.Match(pattern, f)
	return ok
}
