// Package aggregate combines one entity's evidence records into a
// renormalized score, per-block subtotals, a coverage percentage and a
// data-quality verdict.
//
// Missing evidence is never scored as zero: the total is the ratio of known
// score to known weight, rescaled to the published range, and coverage
// reports separately how much of the applicable weight that ratio rests on.
//
//	total    = known_score / known_max * total_scale      (0 when known_max = 0)
//	coverage = known_max / applicable_max * 100          (0 when applicable_max = 0)
package aggregate

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ergon73/portfolio-fit/internal/config"
	"github.com/ergon73/portfolio-fit/internal/criteria"
	"github.com/ergon73/portfolio-fit/internal/signal"
	"github.com/ergon73/portfolio-fit/internal/stack"
)

// Band is the tiered data-quality verdict.
type Band string

const (
	Green  Band = "green"
	Yellow Band = "yellow"
	Red    Band = "red"
)

// Warning severities used as message prefixes.
const (
	severityCritical = "critical: "
	severityWarning  = "warning: "
)

// BlockResult is one block's subtotal.
type BlockResult struct {
	Block         criteria.Block `json:"block"`
	Score         *float64       `json:"score"`
	KnownScore    float64        `json:"known_score"`
	KnownMax      float64        `json:"known_max"`
	ApplicableMax float64        `json:"applicable_max"`
	Budget        float64        `json:"max_score"`
	Coverage      float64        `json:"data_coverage_percent"`
}

// Result is the outcome of aggregating one entity. It is never modified
// after Aggregate returns.
type Result struct {
	Profile       stack.Profile
	TotalScore    float64
	TotalScale    float64
	RawMax        float64
	KnownScore    float64
	KnownMax      float64
	ApplicableMax float64
	Coverage      float64
	Band          Band
	Category      string
	Warnings      []string
	Blocks        []BlockResult
	Criteria      map[criteria.ID]signal.Record
}

// Block returns the subtotal for b.
func (r Result) Block(b criteria.Block) (BlockResult, bool) {
	for _, br := range r.Blocks {
		if br.Block == b {
			return br, true
		}
	}
	return BlockResult{}, false
}

// Aggregate scores one entity.
//
// Every record must satisfy the signal contract; the first violation is
// returned as a *signal.ContractError and no result is produced. Criteria
// with no record are treated as Unknown. Criteria that do not apply to
// profile are reported as NotApplicable and excluded from every sum.
func Aggregate(records map[criteria.ID]signal.Record, cfg config.Config, profile stack.Profile) (Result, error) {
	ids := make([]criteria.ID, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		rec := records[id]
		if rec.Criterion != id {
			return Result{}, &signal.ContractError{Criterion: id, Reason: fmt.Sprintf("record keyed as %s names %s", id, rec.Criterion)}
		}
		if err := rec.Validate(); err != nil {
			return Result{}, err
		}
	}

	resolved := make(map[criteria.ID]signal.Record, len(criteria.All()))
	for _, id := range criteria.All() {
		rec, ok := records[id]
		if !ok {
			rec = signal.NewUnknown(id, cfg.Weight(id), criteria.DefaultMethod(id), "no evidence record")
		}
		if !stack.Applicable(id, profile) && rec.Status != signal.NotApplicable {
			rec = signal.NewNotApplicable(id, rec.Max, rec.Method,
				fmt.Sprintf("not applicable for stack profile '%s'", profile))
		}
		resolved[id] = rec
	}

	res := Result{
		Profile:    profile,
		TotalScale: cfg.TotalScale,
		RawMax:     cfg.RawMax(),
		Criteria:   resolved,
	}

	all := sums(criteria.All(), resolved)
	res.KnownScore, res.KnownMax, res.ApplicableMax = all.knownScore, all.knownMax, all.applicableMax
	res.TotalScore = ratio(all.knownScore, all.knownMax) * cfg.TotalScale
	res.Coverage = ratio(all.knownMax, all.applicableMax) * 100

	for _, b := range criteria.Blocks() {
		s := sums(criteria.Members(b), resolved)
		br := BlockResult{
			Block:         b,
			KnownScore:    s.knownScore,
			KnownMax:      s.knownMax,
			ApplicableMax: s.applicableMax,
			Budget:        cfg.Budget(b),
			Coverage:      ratio(s.knownMax, s.applicableMax) * 100,
		}
		if s.knownMax > 0 {
			v := s.knownScore / s.knownMax * br.Budget
			br.Score = &v
		}
		res.Blocks = append(res.Blocks, br)
	}

	res.Warnings = Warnings(resolved, res.Coverage, cfg)
	res.Band = BandOf(res.Warnings)
	res.Category = Categorize(res.TotalScore, res.Coverage)
	return res, nil
}

type totals struct {
	knownScore    float64
	knownMax      float64
	applicableMax float64
}

func sums(ids []criteria.ID, records map[criteria.ID]signal.Record) totals {
	var t totals
	for _, id := range ids {
		rec := records[id]
		if rec.Status == signal.NotApplicable {
			continue
		}
		t.applicableMax += rec.Max
		if rec.IsKnown() {
			t.knownScore += rec.Score()
			t.knownMax += rec.Max
		}
	}
	return t
}

func ratio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return num / den
}

// Warnings derives the ordered data-quality warnings for a set of resolved
// records. Order: coverage, core evidence, confidence, measurability.
func Warnings(records map[criteria.ID]signal.Record, coverage float64, cfg config.Config) []string {
	var out []string
	th := cfg.Aggregation

	switch {
	case coverage < th.CriticalCoverage:
		out = append(out, fmt.Sprintf("%sdata coverage below %s%%; final score has low reliability", severityCritical, trimFloat(th.CriticalCoverage)))
	case coverage < th.WarningCoverage:
		out = append(out, fmt.Sprintf("%sdata coverage below %s%%; conclusions may be unstable", severityWarning, trimFloat(th.WarningCoverage)))
	}

	var missing []string
	for _, id := range cfg.CoreCriteria() {
		rec, ok := records[id]
		if !ok || rec.Status == signal.NotApplicable {
			continue
		}
		if !rec.IsKnown() || rec.Confidence <= 0 {
			missing = append(missing, string(id))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		out = append(out, severityCritical+"missing core evidence for "+strings.Join(missing, ", "))
	}

	var confSum float64
	var known int
	for _, id := range criteria.All() {
		rec, ok := records[id]
		if ok && rec.IsKnown() {
			confSum += rec.Confidence
			known++
		}
	}
	if known == 0 {
		out = append(out, severityCritical+"no measurable criteria available")
	} else if avg := confSum / float64(known); avg < th.MinAvgConfidence {
		out = append(out, fmt.Sprintf("%saverage criterion confidence is low (%.2f)", severityWarning, avg))
	}
	return out
}

// BandOf returns Red when any warning is critical, Yellow when any warning
// exists, else Green.
func BandOf(warnings []string) Band {
	band := Green
	for _, w := range warnings {
		if strings.HasPrefix(w, severityCritical) {
			return Red
		}
		band = Yellow
	}
	return band
}

// Categorize maps a total score and coverage onto a portfolio category.
func Categorize(score, coverage float64) string {
	switch {
	case coverage < 40:
		return "Insufficient data"
	case score >= 40:
		return "Perfect"
	case score >= 30:
		return "Excellent"
	case score >= 20:
		return "Good"
	case score >= 10:
		return "Average"
	}
	return "Parking"
}

// Round2 rounds v to two decimals for publication.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func trimFloat(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}
