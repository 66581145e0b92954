package tune_test

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ergon73/portfolio-fit/internal/config"
	"github.com/ergon73/portfolio-fit/internal/criteria"
	"github.com/ergon73/portfolio-fit/internal/results"
	"github.com/ergon73/portfolio-fit/internal/signal"
	"github.com/ergon73/portfolio-fit/internal/tune"
)

func known(e *results.Entity, id criteria.ID, value, max float64) {
	e.Scores[id] = &value
	e.Criteria[id] = results.CriterionMeta{MaxScore: max, Status: signal.Known, Method: criteria.DefaultMethod(id), Confidence: 0.8}
}

// fixture builds twelve labelled repos. test_coverage tracks the label,
// code_complexity runs against it, type_hints is flat and vulnerabilities
// is only known for three repos.
func fixture() (map[string]float64, []results.Entity) {
	labels := map[string]float64{}
	var entities []results.Entity
	for i := 0; i < 12; i++ {
		repo := fmt.Sprintf("r%02d", i)
		expert := 8 + 3*float64(i)
		labels[repo] = expert
		e := results.Entity{
			Repo:     repo,
			Scores:   map[criteria.ID]*float64{},
			Criteria: map[criteria.ID]results.CriterionMeta{},
		}
		known(&e, criteria.TestCoverage, expert/50*5, 5)
		known(&e, criteria.CodeComplexity, 5-expert/50*5, 5)
		known(&e, criteria.TypeHints, 3, 5)
		if i < 3 {
			known(&e, criteria.Vulnerabilities, float64(i), 5)
		}
		entities = append(entities, e)
	}
	labels["unscored"] = 20
	return labels, entities
}

func TestSuggestWeightsPreservesBlockBudgets(t *testing.T) {
	cfg := config.Default()
	labels, entities := fixture()

	rep, err := tune.SuggestWeights(labels, entities, cfg, tune.Options{})
	require.NoError(t, err)
	assert.Equal(t, 12, rep.SampleSize)
	assert.Len(t, rep.SuggestedWeights, len(criteria.All()))

	for _, b := range criteria.Blocks() {
		var sum float64
		for _, id := range criteria.Members(b) {
			sum += rep.SuggestedWeights[id]
		}
		assert.InDeltaf(t, cfg.Budget(b), sum, 1e-6, "block %s", b)
	}
	require.NoError(t, cfg.WithWeights(rep.SuggestedWeights).Validate())
}

func TestSuggestWeightsFactors(t *testing.T) {
	cfg := config.Default()
	labels, entities := fixture()

	rep, err := tune.SuggestWeights(labels, entities, cfg, tune.Options{})
	require.NoError(t, err)
	// Computable correlations are -1 and 1; the upper median is 1.
	assert.Equal(t, 1.0, rep.MedianSpearman)

	rows := map[criteria.ID]tune.Row{}
	for _, r := range rep.Rows {
		rows[r.Criterion] = r
	}
	require.NotNil(t, rows[criteria.TestCoverage].Spearman)
	assert.Equal(t, 1.0, *rows[criteria.TestCoverage].Spearman)
	assert.Equal(t, 1.0, rows[criteria.TestCoverage].Factor)
	assert.Equal(t, 0.75, rows[criteria.CodeComplexity].Factor)
	assert.Nil(t, rows[criteria.TypeHints].Spearman)
	assert.Equal(t, 0.92, rows[criteria.TypeHints].Factor)
	assert.Equal(t, 3, rows[criteria.Vulnerabilities].Samples)
	assert.Equal(t, 0.85, rows[criteria.Vulnerabilities].Factor)
	assert.Equal(t, 0, rows[criteria.Readme].Samples)

	scale := 15 / (5*1.0 + 5*0.75 + 5*0.92)
	assert.InDelta(t, 5*scale, rep.SuggestedWeights[criteria.TestCoverage], 1e-12)
	assert.Greater(t, rows[criteria.TestCoverage].Delta, 0.0)
	assert.Less(t, rows[criteria.CodeComplexity].Delta, 0.0)

	// A block where every criterion shrinks by the same factor keeps its weights.
	assert.InDelta(t, 5, rep.SuggestedWeights[criteria.Readme], 1e-12)
	assert.Equal(t, 0.0, rows[criteria.Readme].Delta)
}

func TestRowsSortedByAbsoluteDelta(t *testing.T) {
	labels, entities := fixture()
	rep, err := tune.SuggestWeights(labels, entities, config.Default(), tune.Options{})
	require.NoError(t, err)

	for i := 1; i < len(rep.Rows); i++ {
		prev, cur := rep.Rows[i-1], rep.Rows[i]
		require.GreaterOrEqual(t, math.Abs(prev.Delta), math.Abs(cur.Delta))
		if math.Abs(prev.Delta) == math.Abs(cur.Delta) {
			assert.Less(t, criteria.Order(prev.Criterion), criteria.Order(cur.Criterion))
		}
	}
	assert.Equal(t, criteria.CodeComplexity, rep.Rows[0].Criterion)
}

func TestMinSamplesOverride(t *testing.T) {
	labels, entities := fixture()
	rep, err := tune.SuggestWeights(labels, entities, config.Default(), tune.Options{MinSamples: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.MinSamples)
	for _, r := range rep.Rows {
		if r.Criterion == criteria.Vulnerabilities {
			require.NotNil(t, r.Spearman)
			assert.Equal(t, 1.0, *r.Spearman)
		}
	}
}

func TestNoOverlap(t *testing.T) {
	_, entities := fixture()
	_, err := tune.SuggestWeights(map[string]float64{"elsewhere": 10}, entities, config.Default(), tune.Options{})
	assert.True(t, errors.Is(err, tune.ErrNoOverlap))
}

func TestSuggestWeightsIsPureAndDeterministic(t *testing.T) {
	cfg := config.Default()
	before := cfg.Weights()
	labels, entities := fixture()

	first, err := tune.SuggestWeights(labels, entities, cfg, tune.Options{})
	require.NoError(t, err)
	second, err := tune.SuggestWeights(labels, entities, cfg, tune.Options{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, before, cfg.Weights())
}

func TestNoComputableCorrelationUsesDefaultMedian(t *testing.T) {
	labels := map[string]float64{"a": 10, "b": 20}
	entities := []results.Entity{{Repo: "a"}, {Repo: "b"}}
	rep, err := tune.SuggestWeights(labels, entities, config.Default(), tune.Options{})
	require.NoError(t, err)
	assert.Equal(t, 0.45, rep.MedianSpearman)
	for _, r := range rep.Rows {
		assert.Equal(t, 0.85, r.Factor)
		assert.InDelta(t, r.OldMax, r.SuggestedMax, 1e-9)
	}
}
