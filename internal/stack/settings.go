package stack

// settings.go: per-repository scan settings loaded from
// .portfolio-fit/settings.yaml.
//
// The settings file carries a deny list of glob patterns that hides paths
// from the scanner and from every probe. Patterns may be written as bare
// globs ("generated/**") or wrapped in a Read() verb
// ("Read(./generated/**)").

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// SettingsPath is the settings file location relative to a repository root.
const SettingsPath = ".portfolio-fit/settings.yaml"

// Settings holds scan configuration for one repository.
type Settings struct {
	Permissions Permissions `yaml:"permissions"`
}

// Permissions controls which files are read.
type Permissions struct {
	// Deny is a list of glob patterns for files that must not be read.
	// Example: ["Read(./generated/**)"]
	Deny []string `yaml:"deny"`
}

// LoadSettings reads SettingsPath from fsys.
// Returns nil (not an error) if the file does not exist.
func LoadSettings(fsys fs.FS) (*Settings, error) {
	data, err := fs.ReadFile(fsys, SettingsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", SettingsPath, err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", SettingsPath, err)
	}
	return &s, nil
}

// IsDenied reports whether relPath (forward-slash, relative to root) matches
// any deny rule. Safe to call on a nil *Settings receiver.
func (s *Settings) IsDenied(relPath string) bool {
	if s == nil {
		return false
	}
	for _, rule := range s.Permissions.Deny {
		if matchDenyPattern(parseDenyRule(rule), relPath) {
			return true
		}
	}
	return false
}

// parseDenyRule extracts the path glob from a deny rule.
//
//	"Read(./generated/**)" → "generated/**"
//	"generated/**"         → "generated/**"
func parseDenyRule(rule string) string {
	rule = strings.TrimSpace(rule)
	if strings.HasPrefix(rule, "Read(") && strings.HasSuffix(rule, ")") {
		rule = rule[5 : len(rule)-1]
	}
	return strings.TrimPrefix(rule, "./")
}

// matchDenyPattern reports whether p matches a deny glob pattern.
//
// "prefix/**" matches the prefix directory itself and every path beneath it.
// All other patterns use path.Match semantics (single * does not cross /).
func matchDenyPattern(pattern, p string) bool {
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return p == prefix || strings.HasPrefix(p, prefix+"/")
	}
	matched, _ := path.Match(pattern, p)
	return matched
}
