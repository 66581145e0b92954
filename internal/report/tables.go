package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/ergon73/portfolio-fit/internal/aggregate"
	"github.com/ergon73/portfolio-fit/internal/calibrate"
	"github.com/ergon73/portfolio-fit/internal/results"
	"github.com/ergon73/portfolio-fit/internal/tune"
)

var (
	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	bandColors = map[string]lipgloss.Color{
		string(aggregate.Green):  lipgloss.Color("#2CD7C7"),
		string(aggregate.Yellow): lipgloss.Color("#F4D03F"),
		string(aggregate.Red):    lipgloss.Color("#E74C3C"),
	}
)

// Options controls terminal-only decoration.
type Options struct {
	// Color paints quality bands. Leave off for files.
	Color bool
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style { return cellStyle })
}

// Portfolio renders one row per entity in results order.
func Portfolio(entities []results.Entity, opts Options) string {
	bandCol := 4
	t := newTable("repo", "stack", "score", "coverage", "band", "category")
	for _, e := range entities {
		score := fmt.Sprintf("%.2f/%g", e.TotalScore, e.MaxScore)
		if e.Error != "" {
			score = "error"
		}
		t.Row(e.Repo, e.StackProfile, score, fmt.Sprintf("%.1f%%", e.Coverage), e.QualityStatus, e.Category)
	}
	if opts.Color {
		t.StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow || col != bandCol || row >= len(entities) {
				return cellStyle
			}
			if c, ok := bandColors[entities[row].QualityStatus]; ok {
				return cellStyle.Foreground(c)
			}
			return cellStyle
		})
	}
	return t.String() + "\n"
}

// BandStyle returns the terminal style for a quality band.
func BandStyle(band string) lipgloss.Style {
	if c, ok := bandColors[band]; ok {
		return lipgloss.NewStyle().Foreground(c).Bold(true)
	}
	return lipgloss.NewStyle()
}

// StackBreakdown renders per-stack calibration statistics.
func StackBreakdown(b map[string]calibrate.StackStats) string {
	t := newTable("stack", "sample", "quality", "pearson", "spearman", "mae", "p90_abs_error")
	for _, name := range calibrate.StackNames(b) {
		s := b[name]
		t.Row(name, fmt.Sprint(s.SampleSize), string(s.Band), Num(s.Pearson), Num(s.Spearman),
			Num(s.ErrorBands.MAE), Num(s.ErrorBands.P90))
	}
	return t.String() + "\n"
}

// Counts renders a name → count map as sorted bullet lines.
func Counts(counts map[string]int) string {
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		fmt.Fprintf(&b, "  - %s: %d\n", n, counts[n])
	}
	return b.String()
}

// TuningRows renders weight proposals in report order.
func TuningRows(rows []tune.Row) string {
	t := newTable("criterion", "samples", "spearman", "factor", "old_max", "suggested_max", "delta")
	for _, r := range rows {
		t.Row(string(r.Criterion), fmt.Sprint(r.Samples), Num(r.Spearman), fmt.Sprintf("%g", r.Factor),
			fmt.Sprintf("%g", r.OldMax), fmt.Sprintf("%g", r.SuggestedMax), fmt.Sprintf("%+g", r.Delta))
	}
	return t.String() + "\n"
}
