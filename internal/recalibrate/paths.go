package recalibrate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/ergon73/portfolio-fit/internal/stack"
)

// Paths is the file layout of one recalibration profile.
type Paths struct {
	Name string
	Slug string
	Root string

	LabelsCSV     string
	LabelsByStack string

	ArtifactsDir    string
	CalibrationJSON string
	CalibrationTXT  string
	TuningPatch     string
	SummaryJSON     string
	SummaryTXT      string
	MetricsFile     string

	ConfigsDir    string
	ProfileConfig string
	RootConfig    string
	BackupDir     string
}

// Layout returns the paths of profile name under workspace dir. Nothing is
// created; call Ensure.
func Layout(dir, name string) Paths {
	slug := Slugify(name)
	root := filepath.Join(dir, slug)
	labels := filepath.Join(root, "labels")
	artifacts := filepath.Join(root, "artifacts")
	configs := filepath.Join(root, "configs")
	return Paths{
		Name:            name,
		Slug:            slug,
		Root:            root,
		LabelsCSV:       filepath.Join(labels, "golden_set.csv"),
		LabelsByStack:   filepath.Join(labels, "by_stack"),
		ArtifactsDir:    artifacts,
		CalibrationJSON: filepath.Join(artifacts, "calibration_report.json"),
		CalibrationTXT:  filepath.Join(artifacts, "calibration_report.txt"),
		TuningPatch:     filepath.Join(artifacts, "scoring_config_patch.json"),
		SummaryJSON:     filepath.Join(artifacts, "recalibration_summary.json"),
		SummaryTXT:      filepath.Join(artifacts, "recalibration_summary.txt"),
		MetricsFile:     filepath.Join(artifacts, "metrics.prom"),
		ConfigsDir:      configs,
		ProfileConfig:   filepath.Join(configs, "scoring_config.profile.yaml"),
		RootConfig:      filepath.Join(root, "scoring_config.yaml"),
		BackupDir:       filepath.Join(configs, "active_config_backups"),
	}
}

// StackConfig is the per-stack copy of the profile config. A nil stack
// (no filtering) uses the slug "all".
func (p Paths) StackConfig(resolved stack.Profile) string {
	return filepath.Join(p.Root, "scoring_config."+stack.Slug(resolved)+".yaml")
}

// Ensure creates every directory of the layout.
func (p Paths) Ensure() error {
	for _, dir := range []string{p.LabelsByStack, p.ArtifactsDir, p.ConfigsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return nil
}

// rel returns path relative to the profile root, in slash form.
func (p Paths) rel(path string) string {
	r, err := filepath.Rel(p.Root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(r)
}

// Slugify turns a profile name into a directory name.
//
//	"Recruiter Vision 2026" → "recruiter-vision-2026"
func Slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_':
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteByte('-')
		}
	}
	s := b.String()
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-_")
	if s == "" {
		return "default"
	}
	return s
}
