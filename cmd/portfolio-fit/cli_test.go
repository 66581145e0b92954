package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ergon73/portfolio-fit/internal/aggregate"
	"github.com/ergon73/portfolio-fit/internal/bundle"
	"github.com/ergon73/portfolio-fit/internal/calibrate"
	"github.com/ergon73/portfolio-fit/internal/config"
	"github.com/ergon73/portfolio-fit/internal/criteria"
	"github.com/ergon73/portfolio-fit/internal/results"
	"github.com/ergon73/portfolio-fit/internal/signal"
	"github.com/ergon73/portfolio-fit/internal/stack"
)

// run dispatches args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := dispatch(args, &stdout, &stderr)
	return stdout.String(), err
}

// helpText calls the help function and returns the output as a string.
func helpText() string {
	var sb strings.Builder
	printUsage(&sb)
	return sb.String()
}

// longHelpText returns the long help for a named command.
func longHelpText(name string) string {
	var sb strings.Builder
	printCommandHelp(&sb, name)
	return sb.String()
}

// stubAsk replaces the interactive prompt with fixed answers.
func stubAsk(t *testing.T, answer func(q question) string) {
	t.Helper()
	orig := ask
	ask = func(questions []question) (map[string]string, error) {
		out := map[string]string{}
		for _, q := range questions {
			out[q.Key] = answer(q)
		}
		return out, nil
	}
	t.Cleanup(func() { ask = orig })
}

// isolate points the workspace and clock at test values.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(config.EnvHome, home)
	orig := now
	now = func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }
	t.Cleanup(func() { now = orig })
	return home
}

// fixture writes twelve python_backend results and ranked labels.
func fixture(t *testing.T) (resultsPath, labelsPath string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	var entities []results.Entity
	var labels strings.Builder
	labels.WriteString("repo,expert_score\n")
	for i := 0; i < 12; i++ {
		records := map[criteria.ID]signal.Record{}
		for _, id := range criteria.All() {
			w := cfg.Weight(id)
			records[id] = signal.NewKnown(id, w*float64(i+1)/12, w, criteria.DefaultMethod(id), 0.9, "")
		}
		res, err := aggregate.Aggregate(records, cfg, stack.PythonBackend)
		require.NoError(t, err)
		repo := fmt.Sprintf("py-%02d", i)
		entities = append(entities, results.FromAggregate(repo, "", res))
		fmt.Fprintf(&labels, "%s,%d\n", repo, 8+3*i)
	}
	resultsPath = filepath.Join(dir, "results.json")
	require.NoError(t, results.Write(resultsPath, entities))
	labelsPath = filepath.Join(dir, "labels.csv")
	require.NoError(t, os.WriteFile(labelsPath, []byte(labels.String()), 0o644))
	return resultsPath, labelsPath
}

func TestHelpContainsAllCommands(t *testing.T) {
	help := helpText()
	assert.Contains(t, help, "Usage:")
	for _, cmd := range commands {
		assert.Contains(t, help, cmd.name)
		assert.Contains(t, help, cmd.short)
	}
}

func TestLongHelpForKnownCommands(t *testing.T) {
	for _, cmd := range commands {
		t.Run(cmd.name, func(t *testing.T) {
			assert.Contains(t, longHelpText(cmd.name), cmd.usage)
		})
	}
	assert.Contains(t, longHelpText("no-such-command"), "unknown")
}

func TestCommandsHaveRequiredFields(t *testing.T) {
	require.NotEmpty(t, commands)
	seen := map[string]bool{}
	for _, cmd := range commands {
		assert.NotEmpty(t, cmd.name)
		assert.NotEmpty(t, cmd.short, cmd.name)
		assert.NotEmpty(t, cmd.usage, cmd.name)
		assert.NotNil(t, cmd.run, cmd.name)
		assert.False(t, seen[cmd.name], "duplicate command %q", cmd.name)
		seen[cmd.name] = true
	}
}

func TestDispatchHelp(t *testing.T) {
	for _, args := range [][]string{nil, {"--help"}, {"-h"}, {"help"}, {"help", "tune"}} {
		out, err := run(t, args...)
		require.NoError(t, err, args)
		assert.Contains(t, out, "Usage")
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	_, err := run(t, "no-such-command-xyz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestSubcommandBadArgsGivesUsage(t *testing.T) {
	isolate(t)
	for _, name := range []string{"detect", "calibrate", "tune", "recalibrate", "split-labels", "golden-set", "label", "snapshot"} {
		t.Run(name, func(t *testing.T) {
			_, err := run(t, name)
			require.Error(t, err)
			assert.NotContains(t, err.Error(), "unknown command")
			assert.Contains(t, err.Error(), "usage:")
		})
	}
	_, err := run(t, "tune", "--no-such-flag")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage: portfolio-fit tune --labels")
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte("flask\n"), 0o644))
	out, err := run(t, "detect", dir)
	require.NoError(t, err)
	assert.Equal(t, "python_backend\n", out)
}

func TestEvaluate(t *testing.T) {
	dir := t.TempDir()
	for name, files := range map[string]map[string]string{
		"api": {"requirements.txt": "flask\n", "app.py": "import logging\n", "README.md": "# api\n"},
		"web": {"package.json": `{"name":"web","version":"1.2.0"}`},
	} {
		for file, body := range files {
			path := filepath.Join(dir, "repos", name, file)
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		}
	}
	resultsPath := filepath.Join(dir, "results.json")
	vault := filepath.Join(dir, "vault")
	promFile := filepath.Join(dir, "metrics.prom")

	out, err := run(t, "evaluate", "--dir", filepath.Join(dir, "repos"), "--out", resultsPath,
		"--bundles", vault, "--metrics", promFile, "--concurrency", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "api")
	assert.Contains(t, out, "web")

	entities, err := results.Load(resultsPath)
	require.NoError(t, err)
	require.Len(t, entities, 2)

	meta, _, err := bundle.Read(filepath.Join(vault, "repos", "api.md"))
	require.NoError(t, err)
	assert.Equal(t, "api", meta.Repo)

	prom, err := os.ReadFile(promFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "portfolio_fit_entities_evaluated_total")
}

func TestEvaluateRejectsLocalRepoFlag(t *testing.T) {
	_, err := run(t, "evaluate", "--repo", "/tmp/not-a-url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a git URL")
}

func TestCalibrate(t *testing.T) {
	resultsPath, labelsPath := fixture(t)
	prefix := filepath.Join(t.TempDir(), "out", "cal")

	out, err := run(t, "calibrate", "--labels", labelsPath, "--results", resultsPath, "--out", prefix)
	require.NoError(t, err)
	assert.Contains(t, out, "SCORING CALIBRATION REPORT")
	assert.Contains(t, out, "Quality band: good")

	data, err := os.ReadFile(prefix + ".json")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"stack_profile_breakdown"`)
	assert.FileExists(t, prefix+".txt")
}

func TestTuneApplyAsksFirst(t *testing.T) {
	resultsPath, labelsPath := fixture(t)
	dir := t.TempDir()
	patch := filepath.Join(dir, "patch.json")
	target := filepath.Join(dir, "scoring_config.yaml")

	stubAsk(t, func(question) string { return "n" })
	out, err := run(t, "tune", "--labels", labelsPath, "--results", resultsPath, "--out", patch, "--apply", target)
	require.NoError(t, err)
	assert.Contains(t, out, "not applied")
	assert.FileExists(t, patch)
	assert.NoFileExists(t, target)

	stubAsk(t, func(question) string { return "yes" })
	out, err = run(t, "tune", "--labels", labelsPath, "--results", resultsPath, "--out", patch, "--apply", target)
	require.NoError(t, err)
	assert.Contains(t, out, "applied tuned weights")
	_, err = config.Load(target)
	require.NoError(t, err)

	// Second apply backs up the first.
	out, err = run(t, "tune", "--labels", labelsPath, "--results", resultsPath, "--out", patch, "--apply", target, "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "backup:")
}

func TestTuneApplyKeepsTargetSettings(t *testing.T) {
	resultsPath, labelsPath := fixture(t)
	dir := t.TempDir()
	patch := filepath.Join(dir, "patch.json")
	target := filepath.Join(dir, "scoring_config.yaml")

	custom := config.Default().WithCoreCriteria([]criteria.ID{criteria.Readme})
	custom.Calibration.HighMAE = 3
	require.NoError(t, config.Save(target, custom))

	_, err := run(t, "tune", "--labels", labelsPath, "--results", resultsPath, "--out", patch, "--apply", target, "--yes")
	require.NoError(t, err)

	got, err := config.Load(target)
	require.NoError(t, err)
	assert.Equal(t, []criteria.ID{criteria.Readme}, got.CoreCriteria())
	assert.InDelta(t, 3, got.Calibration.HighMAE, 1e-9)

	data, err := os.ReadFile(patch)
	require.NoError(t, err)
	var proposal struct {
		Weights map[criteria.ID]float64 `json:"suggested_criterion_max_scores"`
	}
	require.NoError(t, json.Unmarshal(data, &proposal))
	require.NotEmpty(t, proposal.Weights)
	for id, w := range proposal.Weights {
		assert.InDelta(t, w, got.Weight(id), 1e-6, id)
	}
}

func TestGoldenSetLabelRecalibrate(t *testing.T) {
	home := isolate(t)
	resultsPath, _ := fixture(t)

	out, err := run(t, "golden-set", "--profile", "Team A", "--results", resultsPath, "--size", "12")
	require.NoError(t, err)
	assert.Contains(t, out, "(12 rows)")
	golden := filepath.Join(home, "team-a", "labels", "golden_set.csv")
	assert.FileExists(t, golden)

	_, err = run(t, "golden-set", "--profile", "Team A", "--results", resultsPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	// Label every repo with its rank so the correlation is perfect.
	stubAsk(t, func(q question) string {
		var i int
		fmt.Sscanf(q.Key, "py-%d", &i)
		return fmt.Sprint(8 + 3*i)
	})
	out, err = run(t, "label", "--profile", "Team A")
	require.NoError(t, err)
	assert.Contains(t, out, "Recorded 12 labels")
	labels, err := calibrate.LoadLabels(golden)
	require.NoError(t, err)
	assert.Len(t, labels, 12)

	out, err = run(t, "recalibrate", "--profile", "Team A", "--results", resultsPath)
	require.NoError(t, err)
	assert.Contains(t, out, "RECALIBRATION SUMMARY")
	assert.FileExists(t, filepath.Join(home, "team-a", "artifacts", "recalibration_summary.json"))

	out, err = run(t, "history", "--profile", "Team A")
	require.NoError(t, err)
	assert.Contains(t, out, "team-a")
	assert.Contains(t, out, "stack=python_backend")

	out, err = run(t, "profiles")
	require.NoError(t, err)
	assert.Contains(t, out, "team-a\t2026-03-14 09:30:00")

	dest := t.TempDir()
	out, err = run(t, "snapshot", "--profile", "team-a", "--dest", dest)
	require.NoError(t, err)
	assert.Contains(t, out, "team-a-20260314_093000")

	_, err = run(t, "profiles", "--remove", "team-a", "--yes")
	require.NoError(t, err)
	out, err = run(t, "profiles")
	require.NoError(t, err)
	assert.Contains(t, out, "no profiles")
}

func TestParseScores(t *testing.T) {
	got, err := parseScores(map[string]string{"a": "12.5", "b": ""}, 50)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a": 12.5}, got)

	_, err = parseScores(map[string]string{"a": "x"}, 50)
	assert.ErrorContains(t, err, "not a number")
	_, err = parseScores(map[string]string{"a": "51"}, 50)
	assert.ErrorContains(t, err, "outside")
}
