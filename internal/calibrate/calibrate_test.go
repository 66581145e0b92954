package calibrate_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ergon73/portfolio-fit/internal/calibrate"
	"github.com/ergon73/portfolio-fit/internal/config"
)

var now = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func thresholds() config.CalibrationConfig { return config.Default().Calibration }

func TestAverageRanksTies(t *testing.T) {
	assert.Equal(t, []float64{1, 2.5, 2.5, 4}, calibrate.AverageRanks([]float64{1, 2, 2, 4}))
	assert.Equal(t, []float64{3, 1, 3, 3}, calibrate.AverageRanks([]float64{5, 1, 5, 5}))
	assert.Empty(t, calibrate.AverageRanks(nil))
}

func TestSpearmanWithTies(t *testing.T) {
	x := []float64{1, 2, 2, 4}
	y := []float64{10, 20, 20, 40}
	rho, err := calibrate.Spearman(x, y)
	require.NoError(t, err)
	require.NotNil(t, rho)

	onRanks, err := calibrate.Pearson(calibrate.AverageRanks(x), calibrate.AverageRanks(y))
	require.NoError(t, err)
	assert.InDelta(t, *onRanks, *rho, 1e-12)
	assert.InDelta(t, 1.0, *rho, 1e-12)
}

func TestUndefinedStatisticsAreNil(t *testing.T) {
	r, err := calibrate.Pearson([]float64{1}, []float64{2})
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = calibrate.Pearson([]float64{3, 3, 3}, []float64{1, 2, 3})
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = calibrate.Spearman(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, r)

	m, err := calibrate.MAE(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestLengthMismatchIsAnError(t *testing.T) {
	_, err := calibrate.Pearson([]float64{1, 2}, []float64{1})
	assert.True(t, errors.Is(err, calibrate.ErrLengthMismatch))
	_, err = calibrate.Spearman([]float64{1, 2}, []float64{1})
	assert.True(t, errors.Is(err, calibrate.ErrLengthMismatch))
	_, err = calibrate.MAE([]float64{1}, nil)
	assert.True(t, errors.Is(err, calibrate.ErrLengthMismatch))
}

func TestCorrelatePerfectAgreement(t *testing.T) {
	labels := map[string]float64{"a": 10, "b": 20, "c": 30, "d": 40}
	scores := map[string]float64{"a": 10, "b": 20, "c": 30, "d": 40}

	rep := calibrate.Correlate(labels, scores, thresholds(), now)
	assert.Equal(t, 4, rep.SampleSize)
	require.NotNil(t, rep.Metrics.Spearman)
	require.NotNil(t, rep.Metrics.Pearson)
	require.NotNil(t, rep.Metrics.MAE)
	assert.Equal(t, 1.0, *rep.Metrics.Spearman)
	assert.Equal(t, 1.0, *rep.Metrics.Pearson)
	assert.Equal(t, 0.0, *rep.Metrics.MAE)
	assert.Equal(t, calibrate.Good, rep.Band)
	assert.Equal(t, []string{"small sample size (<10); calibration results are directionally useful only"}, rep.Warnings)
	assert.Equal(t, "2026-01-02T03:04:05", rep.GeneratedAt)
}

func TestCorrelateWarnings(t *testing.T) {
	labels := map[string]float64{"a": 10, "b": 20, "c": 30, "d": 40, "e": 5}
	scores := map[string]float64{"a": 40, "b": 30, "c": 20, "d": 10, "e": 49, "orphan": 1}

	rep := calibrate.Correlate(labels, scores, thresholds(), now)
	assert.Equal(t, 5, rep.SampleSize)
	assert.Equal(t, calibrate.Poor, rep.Band)
	require.Len(t, rep.Warnings, 3)
	assert.Equal(t, "low rank correlation (-1.00); thresholds/weights need review", rep.Warnings[1])
	assert.True(t, strings.HasPrefix(rep.Warnings[2], "high absolute error ("))

	flat := calibrate.Correlate(map[string]float64{"a": 1, "b": 1}, map[string]float64{"a": 1, "b": 2}, thresholds(), now)
	assert.Nil(t, flat.Metrics.Spearman)
	assert.Equal(t, calibrate.Poor, flat.Band)
	assert.Contains(t, flat.Warnings, "unable to compute rank correlation (insufficient variance)")
}

func TestBandOf(t *testing.T) {
	th := thresholds()
	v := func(f float64) *float64 { return &f }
	assert.Equal(t, calibrate.Poor, calibrate.BandOf(nil, th))
	assert.Equal(t, calibrate.Poor, calibrate.BandOf(v(0.39), th))
	assert.Equal(t, calibrate.Moderate, calibrate.BandOf(v(0.4), th))
	assert.Equal(t, calibrate.Moderate, calibrate.BandOf(v(0.69), th))
	assert.Equal(t, calibrate.Good, calibrate.BandOf(v(0.7), th))
}

func TestPairsSortedByDisagreement(t *testing.T) {
	labels := map[string]float64{"a": 10, "b": 20, "c": 30, "d": 40}
	scores := map[string]float64{"a": 12, "b": 10, "c": 28, "d": 40}

	rep := calibrate.Correlate(labels, scores, thresholds(), now)
	var repos []string
	for _, p := range rep.Pairs {
		repos = append(repos, p.Repo)
	}
	assert.Equal(t, []string{"b", "a", "c", "d"}, repos)
	assert.Equal(t, -10.0, rep.Pairs[0].Delta)
}

func TestCorrelateIsDeterministic(t *testing.T) {
	labels := map[string]float64{}
	scores := map[string]float64{}
	for i, r := range []string{"q", "w", "e", "r", "t", "y", "u", "i", "o", "p"} {
		labels[r] = float64(i * 3 % 7)
		scores[r] = float64(i * 5 % 9)
	}
	first := calibrate.Correlate(labels, scores, thresholds(), now)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, calibrate.Correlate(labels, scores, thresholds(), now))
	}
}

func TestBands(t *testing.T) {
	assert.Equal(t, calibrate.ErrorBands{}, calibrate.Bands(nil))

	b := calibrate.Bands([]calibrate.Pair{{Delta: -1}, {Delta: 2}, {Delta: 3}, {Delta: -4}})
	require.NotNil(t, b.MAE)
	assert.Equal(t, 2.5, *b.MAE)
	assert.Equal(t, 2.5, *b.P50)
	assert.Equal(t, 3.25, *b.P75)
	assert.Equal(t, 3.7, *b.P90)
	assert.Equal(t, 4.0, *b.Max)
}

func TestByStack(t *testing.T) {
	labels := map[string]float64{"a": 10, "b": 20, "c": 30, "x": 5}
	scores := map[string]float64{"a": 11, "b": 19, "c": 33, "x": 9}
	stacks := map[string]string{"a": "python_backend", "b": "python_backend", "c": "python_backend"}

	b := calibrate.ByStack(labels, scores, stacks, "mixed_unknown", thresholds())
	assert.Equal(t, []string{"mixed_unknown", "python_backend"}, calibrate.StackNames(b))
	assert.Equal(t, 3, b["python_backend"].SampleSize)
	assert.Equal(t, calibrate.Good, b["python_backend"].Band)
	assert.Equal(t, 1, b["mixed_unknown"].SampleSize)
	assert.Nil(t, b["mixed_unknown"].Spearman)
	require.NotNil(t, b["mixed_unknown"].ErrorBands.Max)
	assert.Equal(t, 4.0, *b["mixed_unknown"].ErrorBands.Max)
}

func TestReadLabels(t *testing.T) {
	in := "\ufeffrepo,expert_score,notes\n" +
		"alpha,31.5,ok\n" +
		" ,12,blank repo\n" +
		"beta,n/a,not yet\n" +
		"gamma,20\n" +
		"alpha,33,relabelled\n"
	labels, err := calibrate.ReadLabels(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"alpha": 33, "gamma": 20}, labels)

	_, err = calibrate.ReadLabels(strings.NewReader(""))
	assert.True(t, errors.Is(err, calibrate.ErrNoHeader))

	_, err = calibrate.ReadLabels(strings.NewReader("repo,score\nx,1\n"))
	assert.Error(t, err)
}

func TestLoadLabelsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "golden_set.csv")
	_, err := calibrate.LoadLabels(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, calibrate.ErrLabelsMissing))
	assert.Contains(t, err.Error(), path)

	require.NoError(t, os.WriteFile(path, []byte("repo,expert_score\nx,12\n"), 0o644))
	labels, err := calibrate.LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, 12.0, labels["x"])
}
