// Package bundle renders scored repositories as a markdown vault: one note
// per repository with YAML frontmatter, one note per stack profile, and an
// index linking them.
//
// Vault layout:
//
//	index.md               every repository, best score first
//	repos/<name>.md        frontmatter + criteria table + recommendations
//	stacks/<profile>.md    repositories classified under one profile
package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ergon73/portfolio-fit/internal/criteria"
	"github.com/ergon73/portfolio-fit/internal/frontmatter"
	"github.com/ergon73/portfolio-fit/internal/report"
	"github.com/ergon73/portfolio-fit/internal/results"
	"github.com/ergon73/portfolio-fit/internal/signal"
	"github.com/ergon73/portfolio-fit/internal/stack"
)

// Meta is the frontmatter of a repository note.
type Meta struct {
	Repo          string      `yaml:"repo"`
	Path          string      `yaml:"path,omitempty"`
	StackProfile  string      `yaml:"stack_profile"`
	TotalScore    float64     `yaml:"total_score"`
	MaxScore      float64     `yaml:"max_score"`
	Coverage      float64     `yaml:"data_coverage_percent"`
	QualityStatus string      `yaml:"data_quality_status"`
	Category      string      `yaml:"category"`
	Error         string      `yaml:"error,omitempty"`
	Warnings      []string    `yaml:"warnings,omitempty"`
	Criteria      []Criterion `yaml:"criteria,omitempty"`
	Blocks        []Block     `yaml:"blocks,omitempty"`
	Tags          []string    `yaml:"tags"`
}

// Criterion is one criterion row of a note.
type Criterion struct {
	ID         criteria.ID     `yaml:"id"`
	Score      *float64        `yaml:"score"`
	Max        float64         `yaml:"max_score"`
	Status     signal.Status   `yaml:"status"`
	Method     criteria.Method `yaml:"method"`
	Confidence float64         `yaml:"confidence"`
	Note       string          `yaml:"note,omitempty"`
}

// Block is one block subtotal of a note.
type Block struct {
	ID       criteria.Block `yaml:"id"`
	Score    *float64       `yaml:"score"`
	Max      float64        `yaml:"max_score"`
	Coverage float64        `yaml:"data_coverage_percent"`
}

// NoteName returns the vault-relative path of a repository note.
func NoteName(repo string) string {
	return "repos/" + sanitizeFilename(repo) + ".md"
}

// MetaOf builds the frontmatter of e. Criteria and blocks follow canonical
// order.
func MetaOf(e results.Entity) Meta {
	m := Meta{
		Repo:          e.Repo,
		Path:          e.Path,
		StackProfile:  e.StackProfile,
		TotalScore:    e.TotalScore,
		MaxScore:      e.MaxScore,
		Coverage:      e.Coverage,
		QualityStatus: e.QualityStatus,
		Category:      e.Category,
		Error:         e.Error,
		Warnings:      e.Warnings,
		Tags:          tags(e),
	}
	for _, id := range criteria.All() {
		meta, ok := e.Criteria[id]
		if !ok {
			continue
		}
		m.Criteria = append(m.Criteria, Criterion{
			ID:         id,
			Score:      e.Scores[id],
			Max:        meta.MaxScore,
			Status:     meta.Status,
			Method:     meta.Method,
			Confidence: meta.Confidence,
			Note:       meta.Note,
		})
	}
	for _, b := range criteria.Blocks() {
		meta, ok := e.Blocks[b]
		if !ok {
			continue
		}
		m.Blocks = append(m.Blocks, Block{ID: b, Score: meta.Score, Max: meta.MaxScore, Coverage: meta.Coverage})
	}
	return m
}

func tags(e results.Entity) []string {
	t := []string{"portfolio-fit/repo", "stack/" + e.StackProfile}
	if e.QualityStatus != "" {
		t = append(t, "quality/"+e.QualityStatus)
	}
	sort.Strings(t)
	return t
}

// Note renders the markdown note of one repository.
func Note(e results.Entity) (string, error) {
	var body strings.Builder
	fmt.Fprintf(&body, "# %s\n\n", e.Repo)
	profile := stack.Canonical(e.StackProfile)
	fmt.Fprintf(&body, "- **Stack**: [[stacks/%s|%s]]\n", profile, profile)
	if e.Error != "" {
		fmt.Fprintf(&body, "- **Error**: %s\n", e.Error)
	} else {
		fmt.Fprintf(&body, "- **Score**: %.2f/%g\n", e.TotalScore, e.MaxScore)
		fmt.Fprintf(&body, "- **Data coverage**: %.1f%%\n", e.Coverage)
		fmt.Fprintf(&body, "- **Data quality**: %s\n", e.QualityStatus)
		fmt.Fprintf(&body, "- **Category**: %s\n", e.Category)
	}

	if len(e.Warnings) > 0 {
		body.WriteString("\n## Warnings\n\n")
		for _, w := range e.Warnings {
			body.WriteString("- " + w + "\n")
		}
	}

	if len(e.Criteria) > 0 {
		body.WriteString("\n## Criteria\n\n")
		body.WriteString("| Criterion | Score | Status | Method | Confidence | Note |\n")
		body.WriteString("|-----------|-------|--------|--------|------------|------|\n")
		for _, c := range MetaOf(e).Criteria {
			fmt.Fprintf(&body, "| %s | %s | %s | %s | %.2f | %s |\n",
				c.ID, scoreText(c.Score, c.Max), c.Status, c.Method, c.Confidence, escapeCell(c.Note))
		}
	}

	if recs := Recommendations(e, DefaultLimit); len(recs) > 0 {
		body.WriteString("\n## Recommendations\n\n")
		for _, r := range recs {
			quick := ""
			if r.QuickWin {
				quick = " (quick win)"
			}
			fmt.Fprintf(&body, "- **%s**%s: %s _%s_\n", r.Title, quick, r.Action, r.Reason)
		}
	}

	data, err := frontmatter.Write(MetaOf(e), body.String())
	if err != nil {
		return "", fmt.Errorf("bundle %s: %w", e.Repo, err)
	}
	return string(data), nil
}

// Generate renders the vault for entities. No files are written.
func Generate(entities []results.Entity) (*report.Pages, error) {
	sorted := append([]results.Entity(nil), entities...)
	results.Sort(sorted)

	pages := report.NewPages()
	byStack := map[string][]results.Entity{}
	for _, e := range sorted {
		note, err := Note(e)
		if err != nil {
			return nil, err
		}
		pages.Add(NoteName(e.Repo), note)
		p := string(stack.Canonical(e.StackProfile))
		byStack[p] = append(byStack[p], e)
	}
	pages.Add("index.md", index(sorted))
	for profile, members := range byStack {
		pages.Add("stacks/"+profile+".md", stackNote(profile, members))
	}
	return pages, nil
}

// Write renders the vault for entities and stores it under dir.
func Write(dir string, entities []results.Entity) error {
	pages, err := Generate(entities)
	if err != nil {
		return err
	}
	return report.Write(pages, dir)
}

// Read parses a repository note.
func Read(path string) (Meta, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, "", err
	}
	var m Meta
	body, err := frontmatter.Decode(data, &m)
	if err != nil {
		return Meta{}, "", fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return m, body, nil
}

func index(entities []results.Entity) string {
	var b strings.Builder
	b.WriteString("---\ntags:\n  - portfolio-fit/index\n---\n\n")
	b.WriteString("# Portfolio\n\n")
	b.WriteString("| Repository | Stack | Score | Coverage | Quality | Category |\n")
	b.WriteString("|------------|-------|-------|----------|---------|----------|\n")
	for _, e := range entities {
		link := strings.TrimSuffix(NoteName(e.Repo), ".md")
		if e.Error != "" {
			fmt.Fprintf(&b, "| [[%s|%s]] | %s | error | - | %s | %s |\n",
				link, e.Repo, e.StackProfile, e.QualityStatus, e.Category)
			continue
		}
		fmt.Fprintf(&b, "| [[%s|%s]] | %s | %.2f | %.1f%% | %s | %s |\n",
			link, e.Repo, e.StackProfile, e.TotalScore, e.Coverage, e.QualityStatus, e.Category)
	}
	return b.String()
}

func stackNote(profile string, members []results.Entity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "---\ntags:\n  - portfolio-fit/stack\n---\n\n# %s\n\n", profile)
	for _, e := range members {
		link := strings.TrimSuffix(NoteName(e.Repo), ".md")
		fmt.Fprintf(&b, "- [[%s|%s]] %.2f\n", link, e.Repo, e.TotalScore)
	}
	return b.String()
}

func scoreText(v *float64, max float64) string {
	if v == nil {
		return fmt.Sprintf("n/a/%g", max)
	}
	return fmt.Sprintf("%.2f/%g", *v, max)
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// sanitizeFilename replaces path separators and dots with -, collapses runs
// of - and trims them from both ends.
func sanitizeFilename(s string) string {
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, ".", "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")
	if s == "" {
		return "unnamed"
	}
	return s
}
