// Package stack classifies a repository into a closed set of technology
// stack profiles and decides which criteria apply to each profile.
//
// Detection is split in two: Scan reads the file tree once into Markers,
// and Detect is a pure, total function of those markers.
package stack

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/ergon73/portfolio-fit/internal/criteria"
)

// Profile is a technology stack classification.
type Profile string

const (
	PythonBackend         Profile = "python_backend"
	PythonFullstackReact  Profile = "python_fullstack_react"
	PythonDjangoTemplates Profile = "python_django_templates"
	NodeFrontend          Profile = "node_frontend"
	GoBackend             Profile = "go_backend"
	MixedUnknown          Profile = "mixed_unknown"
)

// Selector words accepted wherever a profile can be chosen.
const (
	Auto        = "auto"
	All         = "all"
	DjangoAlias = "django_templates"
)

var profiles = []Profile{
	PythonBackend,
	PythonFullstackReact,
	PythonDjangoTemplates,
	NodeFrontend,
	GoBackend,
	MixedUnknown,
}

var aliases = map[string]Profile{
	DjangoAlias: PythonDjangoTemplates,
}

// notApplicable lists, per criterion, the profiles where it does not apply.
var notApplicable = map[criteria.ID][]Profile{
	criteria.TestCoverage:     {MixedUnknown},
	criteria.CodeComplexity:   {NodeFrontend, MixedUnknown},
	criteria.TypeHints:        {MixedUnknown},
	criteria.Vulnerabilities:  {MixedUnknown},
	criteria.DepHealth:        {MixedUnknown},
	criteria.SecurityScanning: {MixedUnknown},
	criteria.Docstrings:       {NodeFrontend, MixedUnknown},
	criteria.Logging:          {NodeFrontend, MixedUnknown},
	criteria.APIDocs:          {NodeFrontend, MixedUnknown},
}

// Profiles returns every concrete profile.
func Profiles() []Profile {
	return append([]Profile(nil), profiles...)
}

// Applicable reports whether criterion id participates in scoring for p.
func Applicable(id criteria.ID, p Profile) bool {
	for _, x := range notApplicable[id] {
		if x == p {
			return false
		}
	}
	return true
}

// Canonical maps a stored profile name to a Profile, applying aliases.
// Empty and unrecognised names become MixedUnknown.
func Canonical(name string) Profile {
	n := strings.ToLower(strings.TrimSpace(name))
	if p, ok := aliases[n]; ok {
		return p
	}
	for _, p := range profiles {
		if string(p) == n {
			return p
		}
	}
	return MixedUnknown
}

// Choices returns every accepted selector, for help text and errors.
func Choices() []string {
	out := []string{Auto, All}
	for _, p := range profiles {
		out = append(out, string(p))
	}
	out = append(out, DjangoAlias)
	return out
}

// ParseSelector normalises a user-supplied selector. It returns Auto, All, or
// a canonical profile name.
func ParseSelector(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return Auto, nil
	}
	if n == Auto || n == All {
		return n, nil
	}
	p := Canonical(n)
	if p == MixedUnknown && n != string(MixedUnknown) {
		return "", fmt.Errorf("unsupported stack profile %q (allowed: %s)", name, strings.Join(Choices(), ", "))
	}
	return string(p), nil
}

// Slug returns the short file-name form of p; the empty profile means "all".
func Slug(p Profile) string {
	switch p {
	case "":
		return All
	case PythonDjangoTemplates:
		return DjangoAlias
	}
	return string(Canonical(string(p)))
}

// ---------------------------------------------------------------------------
// Detection
// ---------------------------------------------------------------------------

// Markers are the stack signals found in a repository tree.
type Markers struct {
	PythonFiles    int  `json:"python_files"`
	NodeFiles      int  `json:"node_files"`
	GoFiles        int  `json:"go_files"`
	PythonManifest bool `json:"python_manifest"`
	NodeManifest   bool `json:"node_manifest"`
	GoModule       bool `json:"go_module"`
	ReactLike      bool `json:"react_like"`
	Django         bool `json:"django"`
	Templates      bool `json:"templates"`
}

// Detect classifies a repository from its markers. It never fails.
func Detect(m Markers) Profile {
	python := m.PythonFiles > 0 || m.PythonManifest
	node := m.NodeFiles > 0 || m.NodeManifest
	switch {
	case python && node && m.ReactLike:
		return PythonFullstackReact
	case python && m.Django && m.Templates:
		return PythonDjangoTemplates
	case python:
		return PythonBackend
	case node:
		return NodeFrontend
	case m.GoModule || m.GoFiles > 0:
		return GoBackend
	}
	return MixedUnknown
}

var pythonManifests = []string{
	"pyproject.toml", "requirements.txt", "requirements-dev.txt", "setup.py",
	"manage.py", "Pipfile", "poetry.lock",
}

var nodeManifests = []string{
	"package.json", "tsconfig.json", "vite.config.ts", "vite.config.js",
	"next.config.js", "next.config.mjs", "webpack.config.js", "webpack.config.ts",
	"yarn.lock", "pnpm-lock.yaml",
}

var frontendConfigs = []string{
	"next.config.js", "next.config.mjs", "vite.config.ts", "vite.config.js",
	"nuxt.config.ts", "nuxt.config.js",
}

var frontendDeps = []string{"react", "next", "vue", "@angular/core", "svelte", "nuxt"}

// skipDirs are never descended into while scanning.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, ".venv": true, "venv": true, "env": true,
	"__pycache__": true, "dist": true, "build": true, ".tox": true, "vendor": true,
}

// SkipDir reports whether a directory name is excluded from every walk.
func SkipDir(name string) bool {
	return skipDirs[name]
}

// Scan walks fsys once and collects stack markers. Paths denied by settings
// are ignored.
func Scan(fsys fs.FS, settings *Settings) (Markers, error) {
	var m Markers
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
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
			if SkipDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		switch path.Ext(p) {
		case ".py":
			m.PythonFiles++
		case ".js", ".ts":
			m.NodeFiles++
		case ".go":
			m.GoFiles++
		case ".html":
			if strings.HasPrefix(p, "templates/") {
				m.Templates = true
			}
		}
		return nil
	})
	if err != nil {
		return Markers{}, fmt.Errorf("scan: %w", err)
	}

	m.PythonManifest = anyExists(fsys, pythonManifests)
	m.NodeManifest = anyExists(fsys, nodeManifests)
	m.GoModule = exists(fsys, "go.mod")

	deps := PackageDependencies(fsys)
	for _, dep := range frontendDeps {
		if deps[dep] {
			m.ReactLike = true
			break
		}
	}
	if !m.ReactLike {
		m.ReactLike = anyExists(fsys, frontendConfigs)
	}

	m.Django = exists(fsys, "manage.py")
	if !m.Django {
		var text strings.Builder
		reqs, _ := fs.Glob(fsys, "requirements*.txt")
		for _, r := range append(reqs, "pyproject.toml") {
			data, err := fs.ReadFile(fsys, r)
			if err == nil {
				text.Write(data)
			}
		}
		m.Django = strings.Contains(strings.ToLower(text.String()), "django")
	}
	return m, nil
}

// DetectDir scans a directory on disk and classifies it.
func DetectDir(root string) (Profile, Markers, error) {
	fsys := os.DirFS(root)
	settings, err := LoadSettings(fsys)
	if err != nil {
		return MixedUnknown, Markers{}, err
	}
	m, err := Scan(fsys, settings)
	if err != nil {
		return MixedUnknown, Markers{}, err
	}
	return Detect(m), m, nil
}

// PackageDependencies returns the lowercased dependency names declared in
// package.json (dependencies, devDependencies, peerDependencies).
func PackageDependencies(fsys fs.FS) map[string]bool {
	deps := map[string]bool{}
	data, err := fs.ReadFile(fsys, "package.json")
	if err != nil {
		return deps
	}
	var pkg map[string]json.RawMessage
	if err := json.Unmarshal(data, &pkg); err != nil {
		return deps
	}
	for _, section := range []string{"dependencies", "devDependencies", "peerDependencies"} {
		var names map[string]any
		if raw, ok := pkg[section]; ok && json.Unmarshal(raw, &names) == nil {
			for name := range names {
				deps[strings.ToLower(name)] = true
			}
		}
	}
	return deps
}

// Counts tallies profiles.
func Counts(values []Profile) map[Profile]int {
	out := map[Profile]int{}
	for _, p := range values {
		out[p]++
	}
	return out
}

// SortedNames returns the keys of counts in lexical order.
func SortedNames(counts map[Profile]int) []Profile {
	names := make([]Profile, 0, len(counts))
	for p := range counts {
		names = append(names, p)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func exists(fsys fs.FS, name string) bool {
	_, err := fs.Stat(fsys, name)
	return err == nil
}

func anyExists(fsys fs.FS, names []string) bool {
	for _, n := range names {
		if exists(fsys, n) {
			return true
		}
	}
	return false
}
