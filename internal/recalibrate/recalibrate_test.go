package recalibrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ergon73/portfolio-fit/internal/aggregate"
	"github.com/ergon73/portfolio-fit/internal/calibrate"
	"github.com/ergon73/portfolio-fit/internal/config"
	"github.com/ergon73/portfolio-fit/internal/criteria"
	"github.com/ergon73/portfolio-fit/internal/history"
	"github.com/ergon73/portfolio-fit/internal/metrics"
	"github.com/ergon73/portfolio-fit/internal/results"
	"github.com/ergon73/portfolio-fit/internal/signal"
	"github.com/ergon73/portfolio-fit/internal/stack"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// entity scores every criterion at fraction of its weight.
func entity(t *testing.T, repo string, p stack.Profile, fraction float64) results.Entity {
	t.Helper()
	cfg := config.Default()
	records := map[criteria.ID]signal.Record{}
	for _, id := range criteria.All() {
		w := cfg.Weight(id)
		records[id] = signal.NewKnown(id, w*fraction, w, criteria.DefaultMethod(id), 0.9, "")
	}
	res, err := aggregate.Aggregate(records, cfg, p)
	require.NoError(t, err)
	return results.FromAggregate(repo, "", res)
}

// workspace writes twelve python_backend results with perfectly ranked
// labels plus two unlabelled node_frontend results.
func workspace(t *testing.T) (dir, resultsPath string, labels map[string]float64) {
	t.Helper()
	dir = t.TempDir()
	var entities []results.Entity
	labels = map[string]float64{}
	for i := 0; i < 12; i++ {
		repo := fmt.Sprintf("py-%02d", i)
		entities = append(entities, entity(t, repo, stack.PythonBackend, float64(i+1)/12))
		labels[repo] = 8 + 3*float64(i)
	}
	entities = append(entities,
		entity(t, "web-a", stack.NodeFrontend, 0.5),
		entity(t, "web-b", stack.NodeFrontend, 0.7),
	)
	resultsPath = filepath.Join(dir, "results.json")
	require.NoError(t, results.Write(resultsPath, entities))
	return dir, resultsPath, labels
}

func writeLabels(t *testing.T, path string, labels map[string]float64) {
	t.Helper()
	var b strings.Builder
	b.WriteString("repo,expert_score,notes\n")
	for repo, score := range labels {
		fmt.Fprintf(&b, "%s,%g,ok\n", repo, score)
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Recruiter Vision 2026", "recruiter-vision-2026"},
		{"  backend__team  ", "backend__team"},
		{"a//b", "a-b"},
		{"--x--", "x"},
		{"!!!", "default"},
		{"", "default"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), "Slugify(%q)", tt.in)
	}
}

func TestLayout(t *testing.T) {
	p := Layout("/ws", "Team A")
	assert.Equal(t, filepath.Join("/ws", "team-a", "labels", "golden_set.csv"), p.LabelsCSV)
	assert.Equal(t, filepath.Join("/ws", "team-a", "scoring_config.yaml"), p.RootConfig)
	assert.Equal(t, filepath.Join("/ws", "team-a", "scoring_config.django_templates.yaml"), p.StackConfig(stack.PythonDjangoTemplates))
	assert.Equal(t, filepath.Join("/ws", "team-a", "scoring_config.all.yaml"), p.StackConfig(""))
	assert.Equal(t, "artifacts/metrics.prom", p.rel(p.MetricsFile))
}

func TestResolveStack(t *testing.T) {
	mixed := map[stack.Profile]int{stack.PythonBackend: 2, stack.NodeFrontend: 2}

	t.Run("strict auto rejects a mix", func(t *testing.T) {
		_, err := ResolveStack("auto", mixed, true)
		var conflict *StackConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, mixed, conflict.Counts)
		assert.Contains(t, err.Error(), "node_frontend=2, python_backend=2")
	})

	t.Run("lenient auto picks the dominant stack", func(t *testing.T) {
		got, err := ResolveStack("auto", map[stack.Profile]int{stack.PythonBackend: 1, stack.NodeFrontend: 3}, false)
		require.NoError(t, err)
		assert.Equal(t, stack.NodeFrontend, got)

		got, err = ResolveStack("auto", mixed, false)
		require.NoError(t, err)
		assert.Equal(t, stack.NodeFrontend, got, "ties go to the first name")
	})

	t.Run("auto with one stack", func(t *testing.T) {
		got, err := ResolveStack("", map[stack.Profile]int{stack.GoBackend: 5}, true)
		require.NoError(t, err)
		assert.Equal(t, stack.GoBackend, got)
	})

	t.Run("all disables filtering", func(t *testing.T) {
		got, err := ResolveStack("all", mixed, true)
		require.NoError(t, err)
		assert.Equal(t, stack.Profile(""), got)
	})

	t.Run("explicit alias", func(t *testing.T) {
		got, err := ResolveStack("Django_Templates", mixed, true)
		require.NoError(t, err)
		assert.Equal(t, stack.PythonDjangoTemplates, got)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := ResolveStack("cobol", mixed, true)
		require.ErrorIs(t, err, ErrUnsupportedStack)
		assert.Contains(t, err.Error(), "'cobol'. Allowed:")
	})
}

func TestRunEndToEnd(t *testing.T) {
	dir, resultsPath, labels := workspace(t)
	paths := Layout(dir, "Backend Team")
	writeLabels(t, paths.LabelsCSV, labels)

	store, err := history.Open(filepath.Join(dir, history.FileName))
	require.NoError(t, err)
	defer store.Close()
	m, err := metrics.NewRegistered()
	require.NoError(t, err)

	sum, err := Run(context.Background(), Options{
		Profile:      "Backend Team",
		WorkspaceDir: dir,
		ResultsPath:  resultsPath,
		Stack:        "auto",
		Strict:       true,
		Config:       config.Default(),
		History:      store,
		Metrics:      m,
		Now:          func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	assert.Equal(t, "backend-team", sum.Profile)
	assert.Equal(t, "auto", sum.RequestedStack)
	assert.Equal(t, "python_backend", sum.ResolvedStack)
	assert.Equal(t, 12, sum.SampleSize)
	assert.Equal(t, calibrate.Good, sum.Band)
	require.NotNil(t, sum.Metrics.Spearman)
	assert.InDelta(t, 1.0, *sum.Metrics.Spearman, 1e-9)
	assert.Equal(t, map[string]int{"python_backend": 12}, sum.FilteredCounts)
	assert.Equal(t, "2026-03-14T09:30:00", sum.GeneratedAt)
	assert.NotEmpty(t, sum.RunID)

	for _, p := range []string{
		paths.CalibrationJSON, paths.CalibrationTXT, paths.TuningPatch,
		paths.ProfileConfig, paths.RootConfig, paths.StackConfig(stack.PythonBackend),
		paths.SummaryJSON, paths.SummaryTXT, paths.MetricsFile,
	} {
		assert.FileExists(t, p)
	}

	tuned, err := config.Load(paths.StackConfig(stack.PythonBackend))
	require.NoError(t, err)
	for _, b := range criteria.Blocks() {
		sum := 0.0
		for _, id := range criteria.Members(b) {
			sum += tuned.Weight(id)
		}
		assert.InDelta(t, config.Default().Budget(b), sum, 1e-6, "block %s", b)
	}
	require.NotNil(t, tuned.Profile())
	assert.Equal(t, "backend-team", tuned.Profile().Profile)
	assert.Equal(t, "python_backend", tuned.Profile().ResolvedStack)

	var cal map[string]any
	data, err := os.ReadFile(paths.CalibrationJSON)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &cal))
	assert.Equal(t, "python_backend", cal["resolved_stack_profile"])
	assert.Contains(t, cal, "stack_profile_breakdown")
	assert.Contains(t, cal, "pairs")

	text, err := os.ReadFile(paths.SummaryTXT)
	require.NoError(t, err)
	assert.Contains(t, string(text), "RECALIBRATION SUMMARY")
	assert.Contains(t, string(text), "  - python_backend: 12")
	assert.Contains(t, string(text), "applied_config_path: none")

	last, err := store.Latest(context.Background(), "backend-team")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, sum.RunID, last.ID)
	assert.Equal(t, 12, last.SampleSize)

	assert.Equal(t, "profile=backend-team | stack=python_backend | sample=12 | spearman=1 | pearson=1 | mae="+*numString(sum.Metrics.MAE), OneLine(sum))
}

func numString(v *float64) *string {
	s := "null"
	if v != nil {
		s = fmt.Sprintf("%g", *v)
	}
	return &s
}

func TestRunStrictConflictWritesNothing(t *testing.T) {
	dir, resultsPath, labels := workspace(t)
	labels["web-a"] = 20
	labels["web-b"] = 30
	labelsPath := filepath.Join(dir, "labels.csv")
	writeLabels(t, labelsPath, labels)
	target := filepath.Join(dir, "active.yaml")

	_, err := Run(context.Background(), Options{
		Profile:      "mixed",
		WorkspaceDir: dir,
		ResultsPath:  resultsPath,
		LabelsPath:   labelsPath,
		ApplyTo:      target,
		Stack:        "auto",
		Strict:       true,
		Config:       config.Default(),
	})
	var conflict *StackConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 12, conflict.Counts[stack.PythonBackend])
	assert.Equal(t, 2, conflict.Counts[stack.NodeFrontend])

	assert.NoDirExists(t, Layout(dir, "mixed").Root)
	assert.NoFileExists(t, target)
}

func TestRunExplicitStackAndApply(t *testing.T) {
	dir, resultsPath, labels := workspace(t)
	labels["web-a"] = 20
	labels["web-b"] = 30
	labelsPath := filepath.Join(dir, "labels.csv")
	writeLabels(t, labelsPath, labels)

	target := filepath.Join(dir, "active.yaml")
	require.NoError(t, config.Save(target, config.Default()))

	sum, err := Run(context.Background(), Options{
		Profile:      "backend",
		WorkspaceDir: dir,
		ResultsPath:  resultsPath,
		LabelsPath:   labelsPath,
		ApplyTo:      target,
		Stack:        "python_backend",
		Strict:       true,
		Config:       config.Default(),
		Now:          func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	assert.Equal(t, 12, sum.SampleSize)
	assert.Equal(t, map[string]int{"node_frontend": 2, "python_backend": 12}, sum.OverlapCounts)
	assert.Equal(t, target, sum.AppliedConfig)
	require.NotEmpty(t, sum.BackupConfig)
	assert.Equal(t, "active.yaml.backup.20260314_093000", filepath.Base(sum.BackupConfig))
	assert.FileExists(t, sum.BackupConfig)

	applied, err := config.Load(target)
	require.NoError(t, err)
	require.NotNil(t, applied.Profile())
	assert.Equal(t, "python_backend", applied.Profile().RequestedStack)
}

func TestRunFailureLeavesActiveConfig(t *testing.T) {
	dir, resultsPath, labels := workspace(t)
	labelsPath := filepath.Join(dir, "labels.csv")
	writeLabels(t, labelsPath, labels)

	target := filepath.Join(dir, "active.yaml")
	require.NoError(t, config.Save(target, config.Default()))
	before, err := os.ReadFile(target)
	require.NoError(t, err)

	store, err := history.Open(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = Run(context.Background(), Options{
		Profile:      "backend",
		WorkspaceDir: dir,
		ResultsPath:  resultsPath,
		LabelsPath:   labelsPath,
		ApplyTo:      target,
		Stack:        "python_backend",
		Config:       config.Default(),
		History:      store,
		Now:          func() time.Time { return fixedNow },
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record run")

	after, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	paths := Layout(dir, "backend")
	assert.NoFileExists(t, filepath.Join(paths.BackupDir, config.BackupName("active.yaml", fixedNow)))
	assert.NoFileExists(t, paths.SummaryJSON)
}

func TestRunAllKeepsEverySample(t *testing.T) {
	dir, resultsPath, labels := workspace(t)
	labels["web-a"] = 20
	labelsPath := filepath.Join(dir, "labels.csv")
	writeLabels(t, labelsPath, labels)

	sum, err := Run(context.Background(), Options{
		Profile:      "everything",
		WorkspaceDir: dir,
		ResultsPath:  resultsPath,
		LabelsPath:   labelsPath,
		Stack:        "all",
		Strict:       true,
		Config:       config.Default(),
	})
	require.NoError(t, err)
	assert.Equal(t, "all", sum.ResolvedStack)
	assert.Equal(t, 13, sum.SampleSize)
	assert.Len(t, sum.Breakdown, 2)
	assert.FileExists(t, Layout(dir, "everything").StackConfig(""))
}

func TestRunErrors(t *testing.T) {
	dir, resultsPath, labels := workspace(t)

	t.Run("missing labels", func(t *testing.T) {
		_, err := Run(context.Background(), Options{
			Profile: "none", WorkspaceDir: dir, ResultsPath: resultsPath, Config: config.Default(),
		})
		require.ErrorIs(t, err, calibrate.ErrLabelsMissing)
		assert.Contains(t, err.Error(), "golden_set.csv")
	})

	t.Run("empty stack filter", func(t *testing.T) {
		labelsPath := filepath.Join(dir, "labels.csv")
		writeLabels(t, labelsPath, labels)
		_, err := Run(context.Background(), Options{
			Profile: "go", WorkspaceDir: dir, ResultsPath: resultsPath, LabelsPath: labelsPath,
			Stack: "go_backend", Config: config.Default(),
		})
		require.ErrorIs(t, err, ErrEmptyFilter)
		assert.Contains(t, err.Error(), "go_backend")
	})

	t.Run("no overlap", func(t *testing.T) {
		labelsPath := filepath.Join(dir, "other.csv")
		writeLabels(t, labelsPath, map[string]float64{"unknown-repo": 10})
		_, err := Run(context.Background(), Options{
			Profile: "x", WorkspaceDir: dir, ResultsPath: resultsPath, LabelsPath: labelsPath, Config: config.Default(),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no overlapping repositories")
	})

	t.Run("cancelled", func(t *testing.T) {
		labelsPath := filepath.Join(dir, "labels.csv")
		writeLabels(t, labelsPath, labels)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Run(ctx, Options{
			Profile: "c", WorkspaceDir: dir, ResultsPath: resultsPath, LabelsPath: labelsPath, Config: config.Default(),
		})
		require.ErrorIs(t, err, context.Canceled)
		assert.NoDirExists(t, Layout(dir, "c").Root)
	})
}

func TestSplitLabels(t *testing.T) {
	dir, resultsPath, labels := workspace(t)
	labels["web-a"] = 20
	labels["ghost"] = 5
	labelsPath := filepath.Join(dir, "labels.csv")
	writeLabels(t, labelsPath, labels)
	out := filepath.Join(dir, "by_stack")

	sum, err := SplitLabels(labelsPath, resultsPath, out, false, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"python_backend": 12}, sum.Groups)
	assert.Equal(t, []string{"ghost"}, sum.MissingRepos)
	assert.FileExists(t, filepath.Join(out, "split_summary.json"))

	data, err := os.ReadFile(filepath.Join(out, "golden_set_python_backend.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "repo,expert_score,notes\n"))

	sum, err = SplitLabels(labelsPath, resultsPath, out, true, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Groups["node_frontend"])
	assert.FileExists(t, filepath.Join(out, "golden_set_node_frontend.csv"))
}

func TestSelectStratified(t *testing.T) {
	var entities []results.Entity
	for i := 0; i < 20; i++ {
		e := results.Entity{Repo: fmt.Sprintf("r%02d", i), TotalScore: float64(i), QualityStatus: "green"}
		if i >= 1 && i <= 5 {
			e.QualityStatus = "red"
		}
		entities = append(entities, e)
	}

	got := SelectStratified(entities, 5)
	require.Len(t, got, 5)
	reds := 0
	for i, e := range got {
		if e.QualityStatus == "red" {
			reds++
		}
		if i > 0 {
			assert.LessOrEqual(t, got[i-1].TotalScore, e.TotalScore)
		}
	}
	assert.GreaterOrEqual(t, reds, 1)

	assert.Len(t, SelectStratified(entities, 50), 20)
	assert.Equal(t, []string{"r00", "r10", "r19"}, repos(evenlySpaced(entities, 3)))
}

func repos(es []results.Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Repo
	}
	return out
}

func TestPrepareGoldenSet(t *testing.T) {
	dir, resultsPath, _ := workspace(t)
	entities, err := results.Load(resultsPath)
	require.NoError(t, err)
	path := filepath.Join(dir, "p", "labels", "golden_set.csv")

	n, err := PrepareGoldenSet(entities, path, GoldenOptions{Size: 6, Stack: "python_backend"})
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, strings.Join(GoldenColumns, ","), lines[0])
	assert.NotContains(t, string(data), "web-")
	assert.Contains(t, lines[1], ","+SourceManual+",review_required")

	_, err = PrepareGoldenSet(entities, path, GoldenOptions{Size: 6})
	require.ErrorIs(t, err, ErrGoldenSetExists)

	n, err = PrepareGoldenSet(entities, path, GoldenOptions{Size: 3, Autofill: true, Force: true})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	header, _, err := readLabelRows(path)
	require.NoError(t, err)
	assert.Equal(t, GoldenColumns, header)
	labels, err := calibrate.LoadLabels(path)
	require.NoError(t, err)
	assert.Len(t, labels, 3)

	_, err = PrepareGoldenSet(entities, path, GoldenOptions{Force: true, Stack: "go_backend"})
	require.Error(t, err)
}

func TestPrepareGoldenSetSkipsFailedRepos(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "golden_set.csv")
	entities := []results.Entity{
		entity(t, "py-good", stack.PythonBackend, 0.6),
		results.Failed("py-broken", "", stack.PythonBackend, errors.New("clone failed")),
	}

	n, err := PrepareGoldenSet(entities, path, GoldenOptions{Size: 5, Stack: "python_backend"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "py-good")
	assert.NotContains(t, string(data), "py-broken")

	onlyFailed := entities[1:]
	_, err = PrepareGoldenSet(onlyFailed, path, GoldenOptions{Size: 5, Force: true})
	require.Error(t, err)
}

func TestEstimateExpert(t *testing.T) {
	four := 4.0
	e := results.Entity{
		TotalScore:    30,
		MaxScore:      50,
		QualityStatus: "yellow",
		Coverage:      96,
		Scores:        map[criteria.ID]*float64{criteria.TestCoverage: &four},
	}
	// 30 - 1.5 + 1 + 0.8
	assert.InDelta(t, 30.3, EstimateExpert(e), 1e-9)

	e = results.Entity{TotalScore: 1, QualityStatus: "red", Coverage: 10}
	assert.Equal(t, 0.0, EstimateExpert(e))
}

func TestPendingAndRecordLabels(t *testing.T) {
	dir, resultsPath, _ := workspace(t)
	entities, err := results.Load(resultsPath)
	require.NoError(t, err)
	path := filepath.Join(dir, "labels", "golden_set.csv")
	_, err = PrepareGoldenSet(entities, path, GoldenOptions{Size: 4})
	require.NoError(t, err)

	pending, err := PendingLabels(path)
	require.NoError(t, err)
	require.Len(t, pending, 4)
	assert.NotEmpty(t, pending[0].ModelScore)

	n, err := RecordLabels(path, map[string]float64{pending[0].Repo: 31.5, "ghost": 10})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	labels, err := calibrate.LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{pending[0].Repo: 31.5}, labels)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), pending[0].Repo+",31.5,")
	assert.Contains(t, string(data), ","+SourceExpert+",")

	left, err := PendingLabels(path)
	require.NoError(t, err)
	assert.Len(t, left, 3)

	n, err = RecordLabels(path, map[string]float64{"ghost": 1})
	require.NoError(t, err)
	assert.Zero(t, n)
}
