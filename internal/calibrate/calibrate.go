// Package calibrate compares model scores against expert labels.
//
// Every statistic that cannot be computed from its inputs is reported as a
// nil pointer, never as zero. Series of different lengths are a caller bug
// and fail with ErrLengthMismatch.
package calibrate

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ergon73/portfolio-fit/internal/config"
)

// ErrLengthMismatch is returned when paired series differ in length.
var ErrLengthMismatch = errors.New("paired series have different lengths")

// Band classifies how well the model ranks entities.
type Band string

const (
	Poor     Band = "poor"
	Moderate Band = "moderate"
	Good     Band = "good"
)

// Sample is one entity scored by both the expert and the model.
type Sample struct {
	Repo   string
	Expert float64
	Model  float64
}

// Pair is a published sample with its disagreement.
type Pair struct {
	Repo   string  `json:"repo"`
	Expert float64 `json:"expert_score"`
	Model  float64 `json:"model_score"`
	Delta  float64 `json:"delta"`
}

// Metrics holds the headline statistics, each nil when undefined.
type Metrics struct {
	Spearman *float64 `json:"spearman"`
	Pearson  *float64 `json:"pearson"`
	MAE      *float64 `json:"mae"`
}

// Report is the result of one calibration.
type Report struct {
	GeneratedAt   string   `json:"generated_at"`
	LabelsSource  string   `json:"labels_source,omitempty"`
	ResultsSource string   `json:"results_source,omitempty"`
	SampleSize    int      `json:"sample_size"`
	Metrics       Metrics  `json:"metrics"`
	Band          Band     `json:"quality_band"`
	Warnings      []string `json:"warnings"`
	Pairs         []Pair   `json:"pairs"`
}

// Samples intersects labels and scores, sorted by repo.
func Samples(labels, scores map[string]float64) []Sample {
	out := make([]Sample, 0, len(labels))
	for repo, expert := range labels {
		if model, ok := scores[repo]; ok {
			out = append(out, Sample{Repo: repo, Expert: expert, Model: model})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Repo < out[j].Repo })
	return out
}

// Correlate builds a calibration report over the overlap of labels and
// scores. now stamps GeneratedAt.
func Correlate(labels, scores map[string]float64, th config.CalibrationConfig, now time.Time) Report {
	samples := Samples(labels, scores)
	expert := make([]float64, len(samples))
	model := make([]float64, len(samples))
	for i, s := range samples {
		expert[i] = s.Expert
		model[i] = s.Model
	}

	// Lengths match by construction.
	pearson, _ := Pearson(expert, model)
	spearman, _ := Spearman(expert, model)
	mae, _ := MAE(expert, model)

	rep := Report{
		GeneratedAt: now.Format("2006-01-02T15:04:05"),
		SampleSize:  len(samples),
		Metrics: Metrics{
			Spearman: round4(spearman),
			Pearson:  round4(pearson),
			MAE:      round4(mae),
		},
		Band:     BandOf(spearman, th),
		Warnings: warnings(len(samples), spearman, mae, th),
		Pairs:    pairs(samples),
	}
	return rep
}

func warnings(n int, spearman, mae *float64, th config.CalibrationConfig) []string {
	out := []string{}
	if n < th.SmallSample {
		out = append(out, fmt.Sprintf("small sample size (<%d); calibration results are directionally useful only", th.SmallSample))
	}
	switch {
	case spearman == nil:
		out = append(out, "unable to compute rank correlation (insufficient variance)")
	case *spearman < th.PoorBelow:
		out = append(out, fmt.Sprintf("low rank correlation (%.2f); thresholds/weights need review", *spearman))
	}
	if mae != nil && *mae > th.HighMAE {
		out = append(out, fmt.Sprintf("high absolute error (%.2f); score calibration is weak", *mae))
	}
	return out
}

// BandOf classifies a rank correlation. An undefined correlation is poor.
func BandOf(spearman *float64, th config.CalibrationConfig) Band {
	switch {
	case spearman == nil || *spearman < th.PoorBelow:
		return Poor
	case *spearman < th.GoodFrom:
		return Moderate
	}
	return Good
}

// pairs publishes samples largest disagreement first, ties by repo.
func pairs(samples []Sample) []Pair {
	out := make([]Pair, len(samples))
	for i, s := range samples {
		out[i] = Pair{
			Repo:   s.Repo,
			Expert: round(s.Expert, 3),
			Model:  round(s.Model, 3),
			Delta:  round(s.Model-s.Expert, 3),
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := math.Abs(out[i].Delta), math.Abs(out[j].Delta)
		if di != dj {
			return di > dj
		}
		return out[i].Repo < out[j].Repo
	})
	return out
}

// Pearson returns the linear correlation of x and y, or nil when it is
// undefined (fewer than two samples or zero variance).
func Pearson(x, y []float64) (*float64, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("pearson: %w (%d vs %d)", ErrLengthMismatch, len(x), len(y))
	}
	if len(x) < 2 {
		return nil, nil
	}
	mx, my := mean(x), mean(y)
	var num, sx, sy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		num += dx * dy
		sx += dx * dx
		sy += dy * dy
	}
	den := math.Sqrt(sx) * math.Sqrt(sy)
	if den == 0 {
		return nil, nil
	}
	r := num / den
	return &r, nil
}

// AverageRanks assigns 1-based ranks, giving tied values the mean of the
// positions they occupy: [1,2,2,4] ranks as [1,2.5,2.5,4].
func AverageRanks(values []float64) []float64 {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	ranks := make([]float64, len(values))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && values[idx[j+1]] == values[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}
	return ranks
}

// Spearman is Pearson over average ranks.
func Spearman(x, y []float64) (*float64, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("spearman: %w (%d vs %d)", ErrLengthMismatch, len(x), len(y))
	}
	if len(x) < 2 {
		return nil, nil
	}
	return Pearson(AverageRanks(x), AverageRanks(y))
}

// MAE is the mean absolute difference, nil for empty series.
func MAE(x, y []float64) (*float64, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("mae: %w (%d vs %d)", ErrLengthMismatch, len(x), len(y))
	}
	if len(x) == 0 {
		return nil, nil
	}
	var sum float64
	for i := range x {
		sum += math.Abs(x[i] - y[i])
	}
	v := sum / float64(len(x))
	return &v, nil
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func round4(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := round(*v, 4)
	return &r
}
