package calibrate

import (
	"math"
	"sort"
	"time"

	"github.com/ergon73/portfolio-fit/internal/config"
)

// ErrorBands summarises the spread of absolute disagreement. Every field is
// nil when there are no pairs.
type ErrorBands struct {
	MAE *float64 `json:"mae"`
	P50 *float64 `json:"p50_abs_error"`
	P75 *float64 `json:"p75_abs_error"`
	P90 *float64 `json:"p90_abs_error"`
	Max *float64 `json:"max_abs_error"`
}

// Bands computes error bands over pairs.
func Bands(pairs []Pair) ErrorBands {
	if len(pairs) == 0 {
		return ErrorBands{}
	}
	abs := make([]float64, len(pairs))
	var sum float64
	for i, p := range pairs {
		abs[i] = math.Abs(p.Delta)
		sum += abs[i]
	}
	sort.Float64s(abs)
	at := func(v float64) *float64 {
		r := round(v, 4)
		return &r
	}
	return ErrorBands{
		MAE: at(sum / float64(len(abs))),
		P50: at(percentile(abs, 0.50)),
		P75: at(percentile(abs, 0.75)),
		P90: at(percentile(abs, 0.90)),
		Max: at(abs[len(abs)-1]),
	}
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	q = math.Max(0, math.Min(1, q))
	pos := q * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	return sorted[lower] + (sorted[upper]-sorted[lower])*(pos-float64(lower))
}

// StackStats is the calibration of one stack profile's subset.
type StackStats struct {
	SampleSize int        `json:"sample_size"`
	Band       Band       `json:"quality_band"`
	Pearson    *float64   `json:"pearson"`
	Spearman   *float64   `json:"spearman"`
	ErrorBands ErrorBands `json:"error_bands"`
}

// ByStack calibrates each stack profile present in the overlap on its own.
// stackOf maps a repo to its profile name; repos it does not know are
// grouped under unknown.
func ByStack(labels, scores map[string]float64, stackOf map[string]string, unknown string, th config.CalibrationConfig) map[string]StackStats {
	groups := map[string][]string{}
	for _, s := range Samples(labels, scores) {
		name, ok := stackOf[s.Repo]
		if !ok || name == "" {
			name = unknown
		}
		groups[name] = append(groups[name], s.Repo)
	}

	out := make(map[string]StackStats, len(groups))
	for name, repos := range groups {
		l := make(map[string]float64, len(repos))
		m := make(map[string]float64, len(repos))
		for _, r := range repos {
			l[r] = labels[r]
			m[r] = scores[r]
		}
		rep := Correlate(l, m, th, time.Time{})
		out[name] = StackStats{
			SampleSize: rep.SampleSize,
			Band:       rep.Band,
			Pearson:    rep.Metrics.Pearson,
			Spearman:   rep.Metrics.Spearman,
			ErrorBands: Bands(rep.Pairs),
		}
	}
	return out
}

// StackNames returns the keys of a breakdown in sorted order.
func StackNames(b map[string]StackStats) []string {
	names := make([]string, 0, len(b))
	for n := range b {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
