package stack

// settings_internal_test.go: deny-rule parsing and matching.

import (
	"testing"
	"testing/fstest"
)

// ---------------------------------------------------------------------------
// parseDenyRule
// ---------------------------------------------------------------------------

func TestParseDenyRule(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		// Read() wrapper stripped, leading ./ stripped.
		{"Read(./generated/**)", "generated/**"},
		// Leading ./ stripped without Read wrapper.
		{"./generated/**", "generated/**"},
		// Bare pattern unchanged.
		{"generated/**", "generated/**"},
		// Read() with no leading ./.
		{"Read(fixtures/**)", "fixtures/**"},
	}
	for _, tc := range tests {
		got := parseDenyRule(tc.input)
		if got != tc.want {
			t.Errorf("parseDenyRule(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// matchDenyPattern
// ---------------------------------------------------------------------------

func TestMatchDenyPattern(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"generated/**", "generated", true},
		{"generated/**", "generated/api.py", true},
		{"generated/**", "generated/types/foo.py", true},
		{"generated/**", "other/generated/foo.py", false},
		{"generated/**", "main.py", false},
		{"*.py", "main.py", true},
		{"*.py", "dir/main.py", false},
		{"setup.py", "setup.py", true},
	}
	for _, tc := range tests {
		got := matchDenyPattern(tc.pattern, tc.path)
		if got != tc.want {
			t.Errorf("matchDenyPattern(%q, %q) = %v, want %v", tc.pattern, tc.path, got, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// LoadSettings
// ---------------------------------------------------------------------------

func TestLoadSettingsMissingFile(t *testing.T) {
	s, err := LoadSettings(fstest.MapFS{})
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s != nil {
		t.Fatalf("expected nil settings, got %+v", s)
	}
	// Nil receiver is safe.
	if s.IsDenied("anything.py") {
		t.Error("nil settings must deny nothing")
	}
}

func TestLoadSettingsParsesDenyList(t *testing.T) {
	fsys := fstest.MapFS{
		SettingsPath: {Data: []byte("permissions:\n  deny:\n    - Read(./generated/**)\n    - \"*.min.js\"\n")},
	}
	s, err := LoadSettings(fsys)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if !s.IsDenied("generated/client.py") {
		t.Error("generated/client.py should be denied")
	}
	if !s.IsDenied("app.min.js") {
		t.Error("app.min.js should be denied")
	}
	if s.IsDenied("src/app.py") {
		t.Error("src/app.py should not be denied")
	}
}

func TestLoadSettingsInvalidYAML(t *testing.T) {
	fsys := fstest.MapFS{SettingsPath: {Data: []byte("permissions: [unclosed\n")}}
	if _, err := LoadSettings(fsys); err == nil {
		t.Fatal("expected error for malformed settings")
	}
}
