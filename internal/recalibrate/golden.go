package recalibrate

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ergon73/portfolio-fit/internal/aggregate"
	"github.com/ergon73/portfolio-fit/internal/criteria"
	"github.com/ergon73/portfolio-fit/internal/report"
	"github.com/ergon73/portfolio-fit/internal/results"
	"github.com/ergon73/portfolio-fit/internal/stack"
)

// ErrGoldenSetExists is returned when the golden set exists and Force is off.
var ErrGoldenSetExists = errors.New("golden set already exists")

// Label sources written into a golden set.
const (
	SourceManual      = "manual_required"
	SourceProvisional = "provisional_v1"
)

// GoldenColumns is the header of a prepared golden set.
var GoldenColumns = []string{
	"repo", "expert_score", "model_score", "data_quality_status",
	"data_coverage_percent", "category", "label_source", "notes",
}

// GoldenOptions configures PrepareGoldenSet.
type GoldenOptions struct {
	Size     int
	Autofill bool
	Force    bool
	// Stack limits the candidates to one stack profile; "", "auto" and
	// "all" keep every repository.
	Stack string
}

// PrepareGoldenSet writes a labelling template to path with a stratified
// selection of entities and returns how many rows it wrote.
func PrepareGoldenSet(entities []results.Entity, path string, opts GoldenOptions) (int, error) {
	if _, err := os.Stat(path); err == nil && !opts.Force {
		return 0, fmt.Errorf("%w: %s", ErrGoldenSetExists, path)
	}
	sel, err := stack.ParseSelector(opts.Stack)
	if err != nil {
		return 0, fmt.Errorf("%w for golden set: '%s'", ErrUnsupportedStack, opts.Stack)
	}
	// Failed entities carry no score to label against.
	var scored []results.Entity
	for _, e := range entities {
		if e.Error == "" {
			scored = append(scored, e)
		}
	}
	if len(scored) == 0 {
		return 0, errors.New("no successfully evaluated repositories in results")
	}
	entities = scored

	if sel != stack.All && sel != stack.Auto {
		var kept []results.Entity
		for _, e := range entities {
			if stack.Canonical(e.StackProfile) == stack.Profile(sel) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			return 0, fmt.Errorf("no repositories in results for stack profile '%s'", opts.Stack)
		}
		entities = kept
	}

	selected := SelectStratified(entities, max(1, opts.Size))
	rows := make([][]string, 0, len(selected))
	for _, e := range selected {
		expert, source := "", SourceManual
		if opts.Autofill {
			expert, source = fmt.Sprintf("%.1f", EstimateExpert(e)), SourceProvisional
		}
		status := e.QualityStatus
		if status == "" {
			status = "unknown"
		}
		rows = append(rows, []string{
			e.Repo, expert, fmt.Sprintf("%.2f", e.TotalScore), status,
			fmt.Sprintf("%.2f", e.Coverage), e.Category, source, "review_required",
		})
	}
	content, err := encodeCSV(GoldenColumns, rows)
	if err != nil {
		return 0, err
	}
	pages := report.NewPages()
	pages.Add(filepath.Base(path), content)
	if err := report.Write(pages, filepath.Dir(path)); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// SelectStratified picks size entities evenly spaced over the total score
// range and makes sure low data-quality cases are represented. The result
// is ordered by total score, lowest first.
func SelectStratified(entities []results.Entity, size int) []results.Entity {
	ordered := append([]results.Entity(nil), entities...)
	byScore(ordered)
	base := evenlySpaced(ordered, size)

	var reds []results.Entity
	for _, e := range ordered {
		if strings.EqualFold(e.QualityStatus, string(aggregate.Red)) {
			reds = append(reds, e)
		}
	}
	redTarget := min(max(4, size/5), len(reds))

	picked := map[string]results.Entity{}
	var order []string
	add := func(e results.Entity) {
		if _, ok := picked[e.Repo]; !ok {
			order = append(order, e.Repo)
		}
		picked[e.Repo] = e
	}
	for _, e := range base {
		add(e)
	}
	for _, e := range reds[:redTarget] {
		add(e)
	}
	selected := make([]results.Entity, 0, len(order))
	for _, repo := range order {
		selected = append(selected, picked[repo])
	}
	byScore(selected)
	if len(selected) > size {
		selected = evenlySpaced(selected, size)
	}
	return selected
}

func byScore(entities []results.Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].TotalScore < entities[j].TotalScore
	})
}

// evenlySpaced takes size items at evenly spaced indices, topping up with
// the first unused items when rounding collapses indices.
func evenlySpaced(items []results.Entity, size int) []results.Entity {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	if size >= len(items) {
		return append([]results.Entity(nil), items...)
	}
	used := map[int]bool{}
	for i := 0; i < size; i++ {
		idx := math.RoundToEven(float64(i) * float64(len(items)-1) / float64(max(1, size-1)))
		used[int(idx)] = true
	}
	indices := make([]int, 0, len(used))
	for idx := range used {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	out := make([]results.Entity, 0, size)
	for _, idx := range indices {
		out = append(out, items[idx])
	}
	for idx := 0; idx < len(items) && len(out) < size; idx++ {
		if !used[idx] {
			out = append(out, items[idx])
		}
	}
	return out[:size]
}

// EstimateExpert is a provisional expert score derived from the model score
// and a few strong signals. It is meant to be reviewed by a human.
func EstimateExpert(e results.Entity) float64 {
	adj := 0.0
	switch strings.ToLower(e.QualityStatus) {
	case string(aggregate.Red):
		adj -= 3
	case string(aggregate.Yellow):
		adj -= 1.5
	}
	switch {
	case e.Coverage >= 95:
		adj++
	case e.Coverage < 80:
		adj--
	}
	if value(e, criteria.CICD) >= 1 {
		adj++
	}
	if value(e, criteria.Readme) >= 3 {
		adj++
	}
	if v := e.Scores[criteria.TestCoverage]; v != nil {
		switch {
		case *v >= 4:
			adj += 0.8
		case *v < 2:
			adj -= 0.8
		}
	}
	if v := e.Scores[criteria.Vulnerabilities]; v != nil {
		switch {
		case *v >= 4:
			adj += 0.8
		case *v < 2:
			adj--
		}
	}
	scale := e.MaxScore
	if scale <= 0 {
		scale = criteria.DefaultTotalScale
	}
	est := math.Max(0, math.Min(scale, e.TotalScore+adj))
	return math.Round(est*10) / 10
}

func value(e results.Entity, id criteria.ID) float64 {
	if v := e.Scores[id]; v != nil {
		return *v
	}
	return 0
}
