package report

// report.go: text renderings of results, calibrations and tunings.
//
// Renderers are pure: they return strings and never touch the filesystem.
// Pages collects rendered files keyed by relative path; Write stores them
// in sorted path order so repeated runs produce identical trees.

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// rule separates report sections.
var rule = strings.Repeat("=", 100)

// Pages holds rendered files (relative slash path → content).
type Pages struct {
	pages map[string]string
}

// NewPages returns an empty page set.
func NewPages() *Pages {
	return &Pages{pages: make(map[string]string)}
}

// Add stores content under path, replacing any earlier page.
func (p *Pages) Add(path, content string) {
	p.pages[path] = content
}

// Get returns the content stored under path.
func (p *Pages) Get(path string) (string, bool) {
	c, ok := p.pages[path]
	return c, ok
}

// Paths returns all page paths in sorted order.
func (p *Pages) Paths() []string {
	paths := make([]string, 0, len(p.pages))
	for path := range p.pages {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Write stores every page under dir.
func Write(p *Pages, dir string) error {
	for _, path := range p.Paths() {
		abs := filepath.Join(dir, filepath.FromSlash(path))
		if err := writeFile(abs, p.pages[path]); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Header writes a ruled title block.
func Header(b *strings.Builder, title string) {
	b.WriteString(rule + "\n")
	b.WriteString(title + "\n")
	b.WriteString(rule + "\n\n")
}

// Num formats an optional statistic the way JSON shows it.
func Num(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%g", *v)
}
