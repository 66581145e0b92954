package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/ergon73/portfolio-fit/internal/bundle"
	"github.com/ergon73/portfolio-fit/internal/calibrate"
	"github.com/ergon73/portfolio-fit/internal/config"
	"github.com/ergon73/portfolio-fit/internal/history"
	"github.com/ergon73/portfolio-fit/internal/metrics"
	"github.com/ergon73/portfolio-fit/internal/probe"
	"github.com/ergon73/portfolio-fit/internal/recalibrate"
	"github.com/ergon73/portfolio-fit/internal/report"
	"github.com/ergon73/portfolio-fit/internal/results"
	"github.com/ergon73/portfolio-fit/internal/stack"
	"github.com/ergon73/portfolio-fit/internal/tune"
	"github.com/ergon73/portfolio-fit/internal/workspace"
)

// now is replaced in tests.
var now = time.Now

func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func colorOutput() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

// ---------------------------------------------------------------------------
// evaluate
// ---------------------------------------------------------------------------

func runEvaluate(a *app, args []string) error {
	fs := newFlags("evaluate")
	dir := fs.String("dir", "", "directory whose children are repositories")
	repos := fs.StringArray("repo", nil, "remote repository URL")
	out := fs.String("out", "results.json", "results file")
	bundles := fs.String("bundles", "", "evidence vault directory")
	concurrency := fs.Int("concurrency", probe.DefaultConcurrency, "parallel repositories")
	cache := fs.String("cache", "", "clone cache directory")
	metricsFile := fs.String("metrics", "", "Prometheus textfile")
	if err := parse(fs, args); err != nil {
		return err
	}
	cfg, err := a.config()
	if err != nil {
		return err
	}

	var targets []probe.Target
	if *dir != "" || len(*repos) == 0 {
		root := *dir
		if root == "" {
			root = "."
		}
		found, err := probe.Discover(root)
		if err != nil {
			return err
		}
		targets = append(targets, found...)
	}
	for _, url := range *repos {
		if !probe.IsRemote(url) {
			return fmt.Errorf("--repo %q is not a git URL", url)
		}
		targets = append(targets, probe.Remote(url))
	}
	if len(targets) == 0 {
		return errors.New("no repositories to evaluate")
	}

	m, err := metrics.NewRegistered()
	if err != nil {
		return err
	}
	ctx, cancel := interruptible()
	defer cancel()
	entities := probe.EvaluateAll(ctx, targets, probe.BatchOptions{
		Config:      cfg,
		Concurrency: *concurrency,
		CacheDir:    *cache,
		Logger:      a.log,
		Metrics:     m,
	})
	if err := results.Write(*out, entities); err != nil {
		return err
	}
	a.log.Info("results written", "path", *out, "entities", len(entities))

	if *bundles != "" {
		if err := bundle.Write(*bundles, entities); err != nil {
			return err
		}
		a.log.Info("evidence vault written", "dir", *bundles)
	}
	if *metricsFile != "" {
		if err := m.WriteTextfile(*metricsFile); err != nil {
			return err
		}
	}

	fmt.Fprint(a.out, report.Portfolio(entities, report.Options{Color: colorOutput()}))
	failed := 0
	for _, e := range entities {
		if e.Error != "" {
			failed++
			fmt.Fprintf(a.out, "  %s: %s\n", e.Repo, e.Error)
		}
	}
	if failed > 0 {
		fmt.Fprintf(a.out, "%d of %d repositories failed\n", failed, len(entities))
	}
	return nil
}

// ---------------------------------------------------------------------------
// detect
// ---------------------------------------------------------------------------

func runDetect(a *app, args []string) error {
	fs := newFlags("detect")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return usageError("detect")
	}
	profile, markers, err := stack.DetectDir(fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, profile)
	a.log.Debug("stack markers", "path", fs.Arg(0), "markers", markers)
	return nil
}

// ---------------------------------------------------------------------------
// calibrate
// ---------------------------------------------------------------------------

func runCalibrate(a *app, args []string) error {
	fs := newFlags("calibrate")
	labelsPath := fs.String("labels", "", "expert labels CSV")
	resultsPath := fs.String("results", "", "results JSON")
	prefix := fs.String("out", "calibration_report", "output path prefix")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *labelsPath == "" || *resultsPath == "" {
		return usageError("calibrate")
	}
	cfg, err := a.config()
	if err != nil {
		return err
	}
	labels, err := calibrate.LoadLabels(*labelsPath)
	if err != nil {
		return err
	}
	entities, err := results.Load(*resultsPath)
	if err != nil {
		return err
	}

	scores := results.TotalScores(entities)
	byRepo := results.Index(entities)
	stackOf := map[string]string{}
	for _, s := range calibrate.Samples(labels, scores) {
		stackOf[s.Repo] = string(byRepo[s.Repo].Stack())
	}
	rep := calibrate.Correlate(labels, scores, cfg.Calibration, now())
	rep.LabelsSource = *labelsPath
	rep.ResultsSource = *resultsPath
	breakdown := calibrate.ByStack(labels, scores, stackOf, string(stack.MixedUnknown), cfg.Calibration)

	data, err := json.MarshalIndent(struct {
		calibrate.Report
		Breakdown map[string]calibrate.StackStats `json:"stack_profile_breakdown"`
	}{rep, breakdown}, "", "  ")
	if err != nil {
		return err
	}
	text := report.Calibration(rep, report.StackContext{Breakdown: breakdown})
	base := filepath.Base(*prefix)
	pages := report.NewPages()
	pages.Add(base+".json", string(data)+"\n")
	pages.Add(base+".txt", text)
	if err := report.Write(pages, filepath.Dir(*prefix)); err != nil {
		return err
	}
	fmt.Fprint(a.out, text)
	return nil
}

// ---------------------------------------------------------------------------
// tune
// ---------------------------------------------------------------------------

func runTune(a *app, args []string) error {
	fs := newFlags("tune")
	labelsPath := fs.String("labels", "", "expert labels CSV")
	resultsPath := fs.String("results", "", "results JSON")
	out := fs.String("out", "scoring_config_patch.json", "proposal file")
	minSamples := fs.Int("min-samples", 0, "minimum samples per criterion")
	apply := fs.String("apply", "", "config file to update")
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *labelsPath == "" || *resultsPath == "" {
		return usageError("tune")
	}
	cfg, err := a.config()
	if err != nil {
		return err
	}
	labels, err := calibrate.LoadLabels(*labelsPath)
	if err != nil {
		return err
	}
	entities, err := results.Load(*resultsPath)
	if err != nil {
		return err
	}
	rep, err := tune.SuggestWeights(labels, entities, cfg, tune.Options{MinSamples: *minSamples})
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Fprint(a.out, report.Tuning(rep))

	if *apply == "" {
		return nil
	}
	if !*yes {
		ok, err := confirm(fmt.Sprintf("Write tuned weights to %s", *apply))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(a.out, "not applied")
			return nil
		}
	}
	// Only the weights change; everything else in an existing target is kept.
	target := cfg
	if _, err := os.Stat(*apply); err == nil {
		if target, err = config.Load(*apply); err != nil {
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	backup, err := config.Apply(*apply, target.WithWeights(rep.SuggestedWeights), "", now())
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "applied tuned weights to %s\n", *apply)
	if backup != "" {
		fmt.Fprintf(a.out, "backup: %s\n", backup)
	}
	return nil
}

// ---------------------------------------------------------------------------
// recalibrate
// ---------------------------------------------------------------------------

func runRecalibrate(a *app, args []string) error {
	fs := newFlags("recalibrate")
	profile := fs.String("profile", "", "profile name")
	resultsPath := fs.String("results", "", "results JSON")
	labelsPath := fs.String("labels", "", "labels CSV")
	stackName := fs.String("stack", stack.Auto, "stack selector")
	strict := fs.Bool("strict", true, "fail on ambiguous auto stack")
	minSamples := fs.Int("min-samples", 0, "minimum samples per criterion")
	baseConfig := fs.String("base-config", "", "config the tuned weights are merged into")
	apply := fs.String("apply", "", "config file to update")
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *profile == "" || *resultsPath == "" {
		return usageError("recalibrate")
	}
	cfg, err := a.config()
	if err != nil {
		return err
	}
	ws, err := workspace.New(cfg)
	if err != nil {
		return err
	}
	if *apply != "" && !*yes {
		ok, err := confirm(fmt.Sprintf("Write the recalibrated config to %s", *apply))
		if err != nil {
			return err
		}
		if !ok {
			*apply = ""
		}
	}

	store, err := history.Open(ws.HistoryPath())
	if err != nil {
		return err
	}
	defer store.Close()
	m, err := metrics.NewRegistered()
	if err != nil {
		return err
	}

	ctx, cancel := interruptible()
	defer cancel()
	sum, err := recalibrate.Run(ctx, recalibrate.Options{
		Profile:        *profile,
		WorkspaceDir:   ws.Dir,
		ResultsPath:    *resultsPath,
		LabelsPath:     *labelsPath,
		MinSamples:     *minSamples,
		BaseConfigPath: *baseConfig,
		ApplyTo:        *apply,
		Stack:          *stackName,
		Strict:         *strict,
		Config:         cfg,
		Logger:         a.log,
		History:        store,
		Metrics:        m,
		Now:            now,
	})
	if err != nil {
		var conflict *recalibrate.StackConflictError
		if errors.As(err, &conflict) {
			a.log.Debug("stack conflict", "counts", conflict.Counts)
		}
		return err
	}
	fmt.Fprint(a.out, recalibrate.SummaryText(sum))
	a.log.Info("recalibration finished", "summary", recalibrate.OneLine(sum))
	return nil
}

// ---------------------------------------------------------------------------
// split-labels
// ---------------------------------------------------------------------------

func runSplitLabels(a *app, args []string) error {
	fs := newFlags("split-labels")
	profile := fs.String("profile", "", "profile name")
	resultsPath := fs.String("results", "", "results JSON")
	labelsPath := fs.String("labels", "", "labels CSV")
	allStacks := fs.Bool("all-stacks", false, "also write stacks outside the default groups")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *profile == "" || *resultsPath == "" {
		return usageError("split-labels")
	}
	ws, err := a.workspace()
	if err != nil {
		return err
	}
	p, err := ws.Open(*profile)
	if err != nil {
		return err
	}
	src := *labelsPath
	if src == "" {
		src = p.LabelsCSV
	}
	sum, err := recalibrate.SplitLabels(src, *resultsPath, p.LabelsByStack, *allStacks, now())
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Split labels written to %s\n", sum.OutputDir)
	for _, group := range sortedKeys(sum.Groups) {
		fmt.Fprintf(a.out, "  - %s: %d\n", group, sum.Groups[group])
	}
	if len(sum.MissingRepos) > 0 {
		fmt.Fprintf(a.out, "Missing from results: %s\n", strings.Join(sum.MissingRepos, ", "))
	}
	return nil
}

// ---------------------------------------------------------------------------
// golden-set
// ---------------------------------------------------------------------------

func runGoldenSet(a *app, args []string) error {
	fs := newFlags("golden-set")
	profile := fs.String("profile", "", "profile name")
	resultsPath := fs.String("results", "", "results JSON")
	size := fs.Int("size", 36, "rows to select")
	stackName := fs.String("stack", stack.All, "stack selector")
	autofill := fs.Bool("autofill", false, "write provisional expert scores")
	force := fs.Bool("force", false, "overwrite an existing golden set")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *profile == "" || *resultsPath == "" {
		return usageError("golden-set")
	}
	ws, err := a.workspace()
	if err != nil {
		return err
	}
	entities, err := results.Load(*resultsPath)
	if err != nil {
		return err
	}
	p, err := ws.Ensure(*profile)
	if err != nil {
		return err
	}
	n, err := recalibrate.PrepareGoldenSet(entities, p.LabelsCSV, recalibrate.GoldenOptions{
		Size:     *size,
		Autofill: *autofill,
		Force:    *force,
		Stack:    *stackName,
	})
	if err != nil {
		if errors.Is(err, recalibrate.ErrGoldenSetExists) {
			return fmt.Errorf("%w (pass --force to overwrite)", err)
		}
		return err
	}
	fmt.Fprintf(a.out, "Golden set written: %s (%d rows)\n", p.LabelsCSV, n)
	return nil
}

// ---------------------------------------------------------------------------
// label
// ---------------------------------------------------------------------------

func runLabel(a *app, args []string) error {
	fs := newFlags("label")
	profile := fs.String("profile", "", "profile name")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *profile == "" {
		return usageError("label")
	}
	cfg, err := a.config()
	if err != nil {
		return err
	}
	ws, err := workspace.New(cfg)
	if err != nil {
		return err
	}
	p, err := ws.Open(*profile)
	if err != nil {
		return err
	}
	pending, err := recalibrate.PendingLabels(p.LabelsCSV)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Fprintln(a.out, "every repository is labelled")
		return nil
	}

	questions := make([]question, len(pending))
	for i, row := range pending {
		questions[i] = question{
			Key:    row.Repo,
			Prompt: fmt.Sprintf("%s (model %s, %s) score 0-%g", row.Repo, row.ModelScore, row.Category, cfg.TotalScale),
		}
	}
	answers, err := ask(questions)
	if err != nil {
		return err
	}
	scores, err := parseScores(answers, cfg.TotalScale)
	if err != nil {
		return err
	}
	n, err := recalibrate.RecordLabels(p.LabelsCSV, scores)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Recorded %d labels in %s (%d still pending)\n", n, p.LabelsCSV, len(pending)-n)
	return nil
}

// parseScores validates entered scores. Empty answers are skipped.
func parseScores(answers map[string]string, scale float64) (map[string]float64, error) {
	scores := map[string]float64{}
	for _, repo := range sortedKeys(answers) {
		raw := answers[repo]
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("score for %s: %q is not a number", repo, raw)
		}
		if v < 0 || v > scale {
			return nil, fmt.Errorf("score for %s: %g is outside 0-%g", repo, v, scale)
		}
		scores[repo] = v
	}
	return scores, nil
}

// ---------------------------------------------------------------------------
// profiles, history, snapshot
// ---------------------------------------------------------------------------

func runProfiles(a *app, args []string) error {
	fs := newFlags("profiles")
	remove := fs.String("remove", "", "delete a profile")
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	if err := parse(fs, args); err != nil {
		return err
	}
	ws, err := a.workspace()
	if err != nil {
		return err
	}
	if *remove != "" {
		if !*yes {
			ok, err := confirm(fmt.Sprintf("Delete profile %s and all its artifacts", *remove))
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		if err := ws.Remove(*remove); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "removed profile %q\n", *remove)
		return nil
	}

	names, err := ws.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintf(a.out, "no profiles in %s\n", ws.Dir)
		return nil
	}
	store, err := history.Open(ws.HistoryPath())
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := context.Background()
	for _, name := range names {
		last, err := store.Latest(ctx, name)
		if err != nil {
			return err
		}
		if last == nil {
			fmt.Fprintf(a.out, "%s\tno runs\n", name)
			continue
		}
		fmt.Fprintf(a.out, "%s\t%s\tstack=%s spearman=%s band=%s\n",
			name, last.CreatedAt.Format(time.DateTime), last.ResolvedStack, report.Num(last.Spearman), last.Band)
	}
	return nil
}

func runHistory(a *app, args []string) error {
	fs := newFlags("history")
	profile := fs.String("profile", "", "profile name (all when empty)")
	limit := fs.Int("limit", 20, "runs to show, 0 for all")
	if err := parse(fs, args); err != nil {
		return err
	}
	ws, err := a.workspace()
	if err != nil {
		return err
	}
	store, err := history.Open(ws.HistoryPath())
	if err != nil {
		return err
	}
	defer store.Close()
	slug := ""
	if *profile != "" {
		slug = recalibrate.Slugify(*profile)
	}
	runs, err := store.List(context.Background(), slug, *limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.out, "no recorded runs")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(a.out, "%s  %s  %-20s stack=%s n=%d spearman=%s pearson=%s mae=%s band=%s\n",
			r.CreatedAt.Format(time.DateTime), r.ID, r.Profile, r.ResolvedStack, r.SampleSize,
			report.Num(r.Spearman), report.Num(r.Pearson), report.Num(r.MAE), r.Band)
	}
	return nil
}

func runSnapshot(a *app, args []string) error {
	fs := newFlags("snapshot")
	profile := fs.String("profile", "", "profile name")
	dest := fs.String("dest", "", "destination directory")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *profile == "" || *dest == "" {
		return usageError("snapshot")
	}
	ws, err := a.workspace()
	if err != nil {
		return err
	}
	target, err := ws.Snapshot(*profile, *dest, now())
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "snapshot written to %s\n", target)
	return nil
}
