// Package tune proposes new criterion weights from expert labels.
//
// Each criterion's weight moves relative to the median correlation of its
// peers, then every block is rescaled back to its budget, so the suggested
// configuration always publishes the same block maxima as the old one.
package tune

import (
	"errors"
	"math"
	"sort"

	"github.com/ergon73/portfolio-fit/internal/calibrate"
	"github.com/ergon73/portfolio-fit/internal/config"
	"github.com/ergon73/portfolio-fit/internal/criteria"
	"github.com/ergon73/portfolio-fit/internal/results"
)

// ErrNoOverlap is returned when no labelled repository has a result.
var ErrNoOverlap = errors.New("no overlapping repositories between labels and results")

// Row is the proposal for one criterion.
type Row struct {
	Criterion    criteria.ID `json:"criterion"`
	Samples      int         `json:"samples"`
	Spearman     *float64    `json:"spearman"`
	Factor       float64     `json:"factor"`
	OldMax       float64     `json:"old_max"`
	SuggestedMax float64     `json:"suggested_max"`
	Delta        float64     `json:"delta_max"`
}

// Report is a weight proposal. It never modifies configuration; apply
// SuggestedWeights with config.Config.WithWeights.
type Report struct {
	SampleSize       int                     `json:"sample_size"`
	MinSamples       int                     `json:"min_samples"`
	MedianSpearman   float64                 `json:"median_spearman_used"`
	Rows             []Row                   `json:"criterion_stats"`
	SuggestedWeights map[criteria.ID]float64 `json:"suggested_criterion_max_scores"`
}

// Options overrides the tuning parameters of a configuration.
type Options struct {
	// MinSamples, when positive, replaces cfg.Tuning.MinSamples.
	MinSamples int
}

// SuggestWeights computes per-criterion weight proposals for the entities
// that have an expert label.
func SuggestWeights(labels map[string]float64, entities []results.Entity, cfg config.Config, opts Options) (Report, error) {
	p := cfg.Tuning
	if opts.MinSamples > 0 {
		p.MinSamples = opts.MinSamples
	}

	byRepo := results.Index(entities)
	var repos []string
	for repo := range labels {
		if _, ok := byRepo[repo]; ok {
			repos = append(repos, repo)
		}
	}
	if len(repos) == 0 {
		return Report{}, ErrNoOverlap
	}
	sort.Strings(repos)

	ids := criteria.All()
	rhos := make(map[criteria.ID]*float64, len(ids))
	samples := make(map[criteria.ID]int, len(ids))
	var computable []float64
	for _, id := range ids {
		var x, y []float64
		for _, repo := range repos {
			r, ok := byRepo[repo].Ratio(id)
			if !ok {
				continue
			}
			x = append(x, r)
			y = append(y, labels[repo]/cfg.TotalScale)
		}
		samples[id] = len(x)
		if len(x) < p.MinSamples {
			continue
		}
		// x and y grow together.
		rho, _ := calibrate.Spearman(x, y)
		if rho != nil {
			rhos[id] = rho
			computable = append(computable, *rho)
		}
	}

	median := p.DefaultMedian
	if len(computable) > 0 {
		sort.Float64s(computable)
		median = computable[len(computable)/2]
	}

	factors := make(map[criteria.ID]float64, len(ids))
	raw := make(map[criteria.ID]float64, len(ids))
	for _, id := range ids {
		var f float64
		switch {
		case rhos[id] != nil:
			f = clamp(1+(*rhos[id]-median)*p.Sensitivity, p.LowerBound, p.UpperBound)
		case samples[id] >= p.MinSamples:
			f = p.FlatFactor
		default:
			f = p.InsufficientFactor
		}
		factors[id] = f
		raw[id] = cfg.Weight(id) * f
	}

	suggested := make(map[criteria.ID]float64, len(ids))
	for _, b := range criteria.Blocks() {
		members := criteria.Members(b)
		var sum float64
		for _, id := range members {
			sum += raw[id]
		}
		if sum <= 0 {
			for _, id := range members {
				suggested[id] = cfg.Weight(id)
			}
			continue
		}
		scale := cfg.Budget(b) / sum
		for _, id := range members {
			suggested[id] = raw[id] * scale
		}
	}

	rows := make([]Row, 0, len(ids))
	for _, id := range ids {
		old := cfg.Weight(id)
		rows = append(rows, Row{
			Criterion:    id,
			Samples:      samples[id],
			Spearman:     round4(rhos[id]),
			Factor:       round(factors[id], 4),
			OldMax:       round(old, 4),
			SuggestedMax: round(suggested[id], 4),
			Delta:        round(suggested[id]-old, 4),
		})
	}
	SortRows(rows)

	return Report{
		SampleSize:       len(repos),
		MinSamples:       p.MinSamples,
		MedianSpearman:   round(median, 4),
		Rows:             rows,
		SuggestedWeights: suggested,
	}, nil
}

// SortRows orders rows by absolute delta, largest first, ties in canonical
// criterion order.
func SortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		di, dj := math.Abs(rows[i].Delta), math.Abs(rows[j].Delta)
		if di != dj {
			return di > dj
		}
		return criteria.Order(rows[i].Criterion) < criteria.Order(rows[j].Criterion)
	})
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
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
