// Package recalibrate runs the profile-aware recalibration workflow: it
// calibrates a results file against a profile's expert labels, tunes the
// criterion weights on the same samples and writes the artifacts and tuned
// configs into the profile's workspace directory.
package recalibrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ergon73/portfolio-fit/internal/calibrate"
	"github.com/ergon73/portfolio-fit/internal/config"
	"github.com/ergon73/portfolio-fit/internal/history"
	"github.com/ergon73/portfolio-fit/internal/metrics"
	"github.com/ergon73/portfolio-fit/internal/report"
	"github.com/ergon73/portfolio-fit/internal/results"
	"github.com/ergon73/portfolio-fit/internal/stack"
	"github.com/ergon73/portfolio-fit/internal/tune"
)

const timeLayout = "2006-01-02T15:04:05"

// Options configures one Run.
type Options struct {
	Profile      string
	WorkspaceDir string
	ResultsPath  string
	// LabelsPath defaults to the profile's golden set.
	LabelsPath string
	// MinSamples overrides the tuning minimum; Run never uses less than 2.
	MinSamples int
	// BaseConfigPath, when it exists, is the config the tuned weights are
	// merged into. Otherwise Config is used.
	BaseConfigPath string
	// ApplyTo, when set, receives the tuned config after a backup.
	ApplyTo string
	Stack   string
	Strict  bool
	Config  config.Config

	Logger  *slog.Logger
	History *history.Store
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// StackScope is the stack context published with every artifact.
type StackScope struct {
	RequestedStack string                          `json:"requested_stack_profile"`
	ResolvedStack  string                          `json:"resolved_stack_profile"`
	Strict         bool                            `json:"strict_stack_profile"`
	OverlapCounts  map[string]int                  `json:"overlap_stack_counts"`
	FilteredCounts map[string]int                  `json:"filtered_stack_counts"`
	Breakdown      map[string]calibrate.StackStats `json:"stack_profile_breakdown"`
}

type calibrationArtifact struct {
	calibrate.Report
	StackScope
}

type tuningArtifact struct {
	tune.Report
	StackScope
}

// Summary describes a finished run.
type Summary struct {
	RunID       string `json:"run_id,omitempty"`
	Profile     string `json:"profile"`
	GeneratedAt string `json:"generated_at"`
	ResultsPath string `json:"results_path"`
	LabelsPath  string `json:"labels_path"`
	StackScope
	SampleSize int               `json:"sample_size"`
	Band       calibrate.Band    `json:"calibration_quality_band"`
	Metrics    calibrate.Metrics `json:"calibration_metrics"`

	CalibrationJSON string `json:"calibration_json"`
	CalibrationTXT  string `json:"calibration_txt"`
	TuningPatch     string `json:"tuning_patch_json"`
	ProfileConfig   string `json:"profile_config"`
	StackConfig     string `json:"profile_stack_config"`
	RootConfig      string `json:"profile_root_config"`
	AppliedConfig   string `json:"applied_config_path"`
	BackupConfig    string `json:"backup_config_path"`
}

// Run executes the workflow. Every input is read and every artifact rendered
// before the first file is written, so a failing stage leaves the workspace
// and any active config untouched.
func Run(ctx context.Context, opts Options) (Summary, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	paths := Layout(opts.WorkspaceDir, opts.Profile)
	log = log.With("profile", paths.Slug)

	labelsPath := opts.LabelsPath
	if labelsPath == "" {
		labelsPath = paths.LabelsCSV
	}
	if _, err := os.Stat(labelsPath); errors.Is(err, os.ErrNotExist) {
		return Summary{}, fmt.Errorf("%w: %s. Run golden-set first", calibrate.ErrLabelsMissing, labelsPath)
	}
	labels, err := calibrate.LoadLabels(labelsPath)
	if err != nil {
		return Summary{}, err
	}
	entities, err := results.Load(opts.ResultsPath)
	if err != nil {
		return Summary{}, err
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	// Scope: overlap, resolve, filter.
	scores := results.TotalScores(entities)
	byRepo := results.Index(entities)
	stackOf := map[string]stack.Profile{}
	var overlap []string
	for _, s := range calibrate.Samples(labels, scores) {
		overlap = append(overlap, s.Repo)
		stackOf[s.Repo] = byRepo[s.Repo].Stack()
	}
	if len(overlap) == 0 {
		return Summary{}, tune.ErrNoOverlap
	}
	overlapCounts := map[stack.Profile]int{}
	for _, repo := range overlap {
		overlapCounts[stackOf[repo]]++
	}

	resolved, err := ResolveStack(opts.Stack, overlapCounts, opts.Strict)
	if err != nil {
		return Summary{}, err
	}
	requested, _ := stack.ParseSelector(opts.Stack)
	resolvedName := stack.All
	if resolved != "" {
		resolvedName = string(resolved)
	}
	filtered := overlap
	if resolved != "" {
		filtered = nil
		for _, repo := range overlap {
			if stackOf[repo] == resolved {
				filtered = append(filtered, repo)
			}
		}
		if len(filtered) == 0 {
			return Summary{}, fmt.Errorf("%w '%s'", ErrEmptyFilter, resolved)
		}
	}
	log.Info("stack scope resolved",
		"requested", requested, "resolved", resolvedName,
		"overlap", len(overlap), "filtered", len(filtered))

	fLabels := make(map[string]float64, len(filtered))
	fScores := make(map[string]float64, len(filtered))
	fStack := make(map[string]string, len(filtered))
	fEntities := make([]results.Entity, 0, len(filtered))
	filteredCounts := map[stack.Profile]int{}
	for _, repo := range filtered {
		fLabels[repo] = labels[repo]
		fScores[repo] = scores[repo]
		fStack[repo] = string(stackOf[repo])
		fEntities = append(fEntities, byRepo[repo])
		filteredCounts[stackOf[repo]]++
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	// Calibrate and tune.
	base := opts.Config
	if opts.BaseConfigPath != "" {
		if _, err := os.Stat(opts.BaseConfigPath); err == nil {
			if base, err = config.Load(opts.BaseConfigPath); err != nil {
				return Summary{}, fmt.Errorf("base config: %w", err)
			}
		}
	}
	started := now()
	cal := calibrate.Correlate(fLabels, fScores, base.Calibration, started)
	cal.LabelsSource = labelsPath
	cal.ResultsSource = opts.ResultsPath
	scope := StackScope{
		RequestedStack: requested,
		ResolvedStack:  resolvedName,
		Strict:         opts.Strict,
		OverlapCounts:  countNames(overlapCounts),
		FilteredCounts: countNames(filteredCounts),
		Breakdown:      calibrate.ByStack(fLabels, fScores, fStack, string(stack.MixedUnknown), base.Calibration),
	}
	log.Info("calibrated", "sample_size", cal.SampleSize, "band", cal.Band)

	minSamples := base.Tuning.MinSamples
	if opts.MinSamples > 0 {
		minSamples = opts.MinSamples
	}
	tuned, err := tune.SuggestWeights(fLabels, fEntities, base, tune.Options{MinSamples: max(2, minSamples)})
	if err != nil {
		return Summary{}, err
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	profileCfg := base.WithWeights(tuned.SuggestedWeights).WithProfile(config.ProfileInfo{
		Profile:        paths.Slug,
		GeneratedAt:    started.Format(timeLayout),
		LabelsSource:   labelsPath,
		RequestedStack: requested,
		ResolvedStack:  resolvedName,
		SampleSize:     cal.SampleSize,
		StackCounts:    scope.FilteredCounts,
	})
	if err := profileCfg.Validate(); err != nil {
		return Summary{}, fmt.Errorf("tuned config: %w", err)
	}

	sum := Summary{
		Profile:         paths.Slug,
		GeneratedAt:     started.Format(timeLayout),
		ResultsPath:     opts.ResultsPath,
		LabelsPath:      labelsPath,
		StackScope:      scope,
		SampleSize:      cal.SampleSize,
		Band:            cal.Band,
		Metrics:         cal.Metrics,
		CalibrationJSON: paths.CalibrationJSON,
		CalibrationTXT:  paths.CalibrationTXT,
		TuningPatch:     paths.TuningPatch,
		ProfileConfig:   paths.ProfileConfig,
		StackConfig:     paths.StackConfig(resolved),
		RootConfig:      paths.RootConfig,
		AppliedConfig:   opts.ApplyTo,
	}

	pages, err := render(paths, sum, cal, tuned, profileCfg)
	if err != nil {
		return Summary{}, err
	}
	if err := paths.Ensure(); err != nil {
		return Summary{}, err
	}
	if err := report.Write(pages, paths.Root); err != nil {
		return Summary{}, err
	}
	log.Info("artifacts written", "dir", paths.Root, "files", len(pages.Paths()))

	// The active config is replaced last, so a failure in any earlier
	// stage leaves it untouched. The backup path is known up front.
	applyAt := now()
	if opts.ApplyTo != "" {
		if _, err := os.Stat(opts.ApplyTo); err == nil {
			sum.BackupConfig = filepath.Join(paths.BackupDir, config.BackupName(filepath.Base(opts.ApplyTo), applyAt))
		} else if !errors.Is(err, os.ErrNotExist) {
			return Summary{}, fmt.Errorf("apply config: %w", err)
		}
	}

	if opts.History != nil {
		weights := make(map[string]float64, len(tuned.SuggestedWeights))
		for id, w := range tuned.SuggestedWeights {
			weights[string(id)] = w
		}
		run, err := opts.History.Record(ctx, history.Run{
			Profile:        paths.Slug,
			RequestedStack: requested,
			ResolvedStack:  resolvedName,
			SampleSize:     cal.SampleSize,
			Pearson:        cal.Metrics.Pearson,
			Spearman:       cal.Metrics.Spearman,
			MAE:            cal.Metrics.MAE,
			Band:           string(cal.Band),
			AppliedConfig:  opts.ApplyTo,
			Weights:        weights,
			CreatedAt:      started,
		})
		if err != nil {
			return Summary{}, fmt.Errorf("record run: %w", err)
		}
		sum.RunID = run.ID
	}

	final := report.NewPages()
	data, err := marshal(sum)
	if err != nil {
		return Summary{}, err
	}
	final.Add(paths.rel(paths.SummaryJSON), data)
	final.Add(paths.rel(paths.SummaryTXT), SummaryText(sum))
	if err := report.Write(final, paths.Root); err != nil {
		return Summary{}, err
	}

	if opts.ApplyTo != "" {
		backup, err := config.Apply(opts.ApplyTo, profileCfg, paths.BackupDir, applyAt)
		if err != nil {
			return Summary{}, fmt.Errorf("apply config: %w", err)
		}
		log.Info("config applied", "target", opts.ApplyTo, "backup", backup)
	}

	if opts.Metrics != nil {
		opts.Metrics.SetSpearman(paths.Slug, cal.Metrics.Spearman)
		for _, row := range tuned.Rows {
			opts.Metrics.SetWeightDelta(string(row.Criterion), row.Delta)
		}
		if err := opts.Metrics.WriteTextfile(paths.MetricsFile); err != nil {
			log.Warn("metrics textfile not written", "error", err)
		}
	}
	return sum, nil
}

// render builds every artifact except the summary, keyed relative to the
// profile root.
func render(paths Paths, sum Summary, cal calibrate.Report, tuned tune.Report, cfg config.Config) (*report.Pages, error) {
	pages := report.NewPages()

	calJSON, err := marshal(calibrationArtifact{Report: cal, StackScope: sum.StackScope})
	if err != nil {
		return nil, err
	}
	pages.Add(paths.rel(paths.CalibrationJSON), calJSON)
	pages.Add(paths.rel(paths.CalibrationTXT), report.Calibration(cal, report.StackContext{
		Requested: sum.RequestedStack,
		Resolved:  sum.ResolvedStack,
		Breakdown: sum.Breakdown,
	}))

	tuneJSON, err := marshal(tuningArtifact{Report: tuned, StackScope: sum.StackScope})
	if err != nil {
		return nil, err
	}
	pages.Add(paths.rel(paths.TuningPatch), tuneJSON)

	yml, err := cfg.Marshal()
	if err != nil {
		return nil, err
	}
	for _, p := range []string{sum.ProfileConfig, sum.RootConfig, sum.StackConfig} {
		pages.Add(paths.rel(p), string(yml))
	}
	return pages, nil
}

func marshal(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	return string(data) + "\n", nil
}
