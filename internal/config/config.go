// Package config holds the scoring rubric and every tunable threshold as one
// immutable value.
//
// A Config is built once (Default, or Load over a YAML file) and passed
// explicitly to the aggregator, calibration, tuning and recalibration code.
// Methods that change something return a modified copy; maps held inside a
// Config are never written after construction.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/ergon73/portfolio-fit/internal/criteria"
)

// EnvHome overrides the workspace directory.
const EnvHome = "PORTFOLIO_FIT_HOME"

// BudgetTolerance is the allowed drift between a block budget and the sum of
// its member weights.
const BudgetTolerance = 1e-6

// Configuration errors.
var (
	ErrUnknownCriterion = errors.New("unknown criterion")
	ErrUnknownBlock     = errors.New("unknown block")
	ErrBudgetMismatch   = errors.New("block weights do not sum to block budget")
)

// AggregationConfig holds the data-quality warning thresholds.
type AggregationConfig struct {
	CriticalCoverage float64 `yaml:"critical_coverage" validate:"gte=0,lte=100"`
	WarningCoverage  float64 `yaml:"warning_coverage" validate:"gte=0,lte=100,gtefield=CriticalCoverage"`
	MinAvgConfidence float64 `yaml:"min_avg_confidence" validate:"gte=0,lte=1"`
}

// CalibrationConfig holds the quality-band and warning thresholds.
type CalibrationConfig struct {
	PoorBelow   float64 `yaml:"poor_below" validate:"gte=-1,lte=1"`
	GoodFrom    float64 `yaml:"good_from" validate:"gte=-1,lte=1,gtefield=PoorBelow"`
	SmallSample int     `yaml:"small_sample" validate:"gte=0"`
	HighMAE     float64 `yaml:"high_mae" validate:"gte=0"`
}

// TuningConfig holds the weight-suggestion parameters.
type TuningConfig struct {
	MinSamples         int     `yaml:"min_samples" validate:"gte=1"`
	Sensitivity        float64 `yaml:"sensitivity" validate:"gte=0"`
	LowerBound         float64 `yaml:"lower_bound" validate:"gt=0"`
	UpperBound         float64 `yaml:"upper_bound" validate:"gtefield=LowerBound"`
	InsufficientFactor float64 `yaml:"insufficient_factor" validate:"gt=0"`
	FlatFactor         float64 `yaml:"flat_factor" validate:"gt=0"`
	DefaultMedian      float64 `yaml:"default_median" validate:"gte=-1,lte=1"`
}

// ProfileInfo records where a tuned configuration came from.
type ProfileInfo struct {
	Profile        string         `yaml:"profile" koanf:"profile"`
	GeneratedAt    string         `yaml:"generated_at" koanf:"generated_at"`
	LabelsSource   string         `yaml:"labels_source" koanf:"labels_source"`
	RequestedStack string         `yaml:"requested_stack_profile" koanf:"requested_stack_profile"`
	ResolvedStack  string         `yaml:"resolved_stack_profile" koanf:"resolved_stack_profile"`
	SampleSize     int            `yaml:"sample_size" koanf:"sample_size"`
	StackCounts    map[string]int `yaml:"stack_counts,omitempty" koanf:"stack_counts"`
}

// Config is the immutable scoring configuration.
type Config struct {
	TotalScale   float64 `validate:"gt=0"`
	WorkspaceDir string
	Aggregation  AggregationConfig
	Calibration  CalibrationConfig
	Tuning       TuningConfig

	weights map[criteria.ID]float64
	budgets map[criteria.Block]float64
	core    []criteria.ID
	profile *ProfileInfo
}

// Default returns the built-in rubric.
func Default() Config {
	return Config{
		TotalScale: criteria.DefaultTotalScale,
		Aggregation: AggregationConfig{
			CriticalCoverage: 40,
			WarningCoverage:  60,
			MinAvgConfidence: 0.65,
		},
		Calibration: CalibrationConfig{
			PoorBelow:   0.4,
			GoodFrom:    0.7,
			SmallSample: 10,
			HighMAE:     8,
		},
		Tuning: TuningConfig{
			MinSamples:         8,
			Sensitivity:        0.45,
			LowerBound:         0.75,
			UpperBound:         1.30,
			InsufficientFactor: 0.85,
			FlatFactor:         0.92,
			DefaultMedian:      0.45,
		},
		weights: criteria.DefaultWeights(),
		budgets: criteria.DefaultBudgets(),
		core:    []criteria.ID{criteria.TestCoverage, criteria.CodeComplexity, criteria.Vulnerabilities},
	}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Weight returns the max weight of id.
func (c Config) Weight(id criteria.ID) float64 { return c.weights[id] }

// Weights returns a copy of every criterion weight.
func (c Config) Weights() map[criteria.ID]float64 {
	out := make(map[criteria.ID]float64, len(c.weights))
	for k, v := range c.weights {
		out[k] = v
	}
	return out
}

// Budget returns the published budget of block b.
func (c Config) Budget(b criteria.Block) float64 { return c.budgets[b] }

// Budgets returns a copy of every block budget.
func (c Config) Budgets() map[criteria.Block]float64 {
	out := make(map[criteria.Block]float64, len(c.budgets))
	for k, v := range c.budgets {
		out[k] = v
	}
	return out
}

// RawMax is the sum of all criterion weights.
func (c Config) RawMax() float64 {
	var sum float64
	for _, id := range criteria.All() {
		sum += c.weights[id]
	}
	return sum
}

// CoreCriteria returns the criteria whose absence is escalated to critical.
func (c Config) CoreCriteria() []criteria.ID {
	return append([]criteria.ID(nil), c.core...)
}

// IsCore reports whether id is a core criterion.
func (c Config) IsCore(id criteria.ID) bool {
	for _, x := range c.core {
		if x == id {
			return true
		}
	}
	return false
}

// Profile returns the recalibration provenance, if any.
func (c Config) Profile() *ProfileInfo {
	if c.profile == nil {
		return nil
	}
	p := *c.profile
	return &p
}

// ---------------------------------------------------------------------------
// Derivations
// ---------------------------------------------------------------------------

// WithWeights returns a copy of c where the given weights override existing
// ones by criterion id. Unspecified criteria keep their prior weight.
func (c Config) WithWeights(overrides map[criteria.ID]float64) Config {
	w := c.Weights()
	for id, v := range overrides {
		w[id] = v
	}
	c.weights = w
	return c
}

// WithCoreCriteria returns a copy of c with a different core set.
func (c Config) WithCoreCriteria(ids []criteria.ID) Config {
	c.core = append([]criteria.ID(nil), ids...)
	return c
}

// WithProfile returns a copy of c carrying recalibration provenance.
func (c Config) WithProfile(info ProfileInfo) Config {
	c.profile = &info
	return c
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

var validate = validator.New()

// Validate checks thresholds and structural rules: every criterion has a
// non-negative weight, every block budget equals the sum of its members, and
// core criteria belong to the closed set.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	var errs []error
	for id := range c.weights {
		if !criteria.Valid(id) {
			errs = append(errs, fmt.Errorf("weight %q: %w", id, ErrUnknownCriterion))
		}
	}
	for _, id := range criteria.All() {
		w, ok := c.weights[id]
		if !ok {
			errs = append(errs, fmt.Errorf("missing weight for %s", id))
			continue
		}
		if w < 0 || math.IsNaN(w) {
			errs = append(errs, fmt.Errorf("negative weight %v for %s", w, id))
		}
	}
	for b := range c.budgets {
		if !criteria.ValidBlock(b) {
			errs = append(errs, fmt.Errorf("budget %q: %w", b, ErrUnknownBlock))
		}
	}
	for _, b := range criteria.Blocks() {
		var sum float64
		for _, id := range criteria.Members(b) {
			sum += c.weights[id]
		}
		if math.Abs(sum-c.budgets[b]) > BudgetTolerance {
			errs = append(errs, fmt.Errorf("%s: weights %.6f vs budget %.6f: %w", b, sum, c.budgets[b], ErrBudgetMismatch))
		}
	}
	for _, id := range c.core {
		if !criteria.Valid(id) {
			errs = append(errs, fmt.Errorf("core criterion %q: %w", id, ErrUnknownCriterion))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads an optional YAML file over the defaults. Keys absent from the
// file keep their default value. PORTFOLIO_FIT_HOME overrides workspace_dir.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		if err := apply(k, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if home := os.Getenv(EnvHome); home != "" {
		cfg.WorkspaceDir = home
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// apply copies every key present in k onto cfg.
func apply(k *koanf.Koanf, cfg *Config) error {
	setFloat := func(key string, dst *float64) {
		if k.Exists(key) {
			*dst = k.Float64(key)
		}
	}
	setInt := func(key string, dst *int) {
		if k.Exists(key) {
			*dst = k.Int(key)
		}
	}

	setFloat("total_scale", &cfg.TotalScale)
	if k.Exists("workspace_dir") {
		cfg.WorkspaceDir = k.String("workspace_dir")
	}

	setFloat("aggregation.critical_coverage", &cfg.Aggregation.CriticalCoverage)
	setFloat("aggregation.warning_coverage", &cfg.Aggregation.WarningCoverage)
	setFloat("aggregation.min_avg_confidence", &cfg.Aggregation.MinAvgConfidence)

	setFloat("calibration.poor_below", &cfg.Calibration.PoorBelow)
	setFloat("calibration.good_from", &cfg.Calibration.GoodFrom)
	setInt("calibration.small_sample", &cfg.Calibration.SmallSample)
	setFloat("calibration.high_mae", &cfg.Calibration.HighMAE)

	setInt("tuning.min_samples", &cfg.Tuning.MinSamples)
	setFloat("tuning.sensitivity", &cfg.Tuning.Sensitivity)
	setFloat("tuning.lower_bound", &cfg.Tuning.LowerBound)
	setFloat("tuning.upper_bound", &cfg.Tuning.UpperBound)
	setFloat("tuning.insufficient_factor", &cfg.Tuning.InsufficientFactor)
	setFloat("tuning.flat_factor", &cfg.Tuning.FlatFactor)
	setFloat("tuning.default_median", &cfg.Tuning.DefaultMedian)

	weights := cfg.Weights()
	for _, key := range k.MapKeys("weights") {
		id := criteria.ID(key)
		if !criteria.Valid(id) {
			return fmt.Errorf("weights.%s: %w", key, ErrUnknownCriterion)
		}
		weights[id] = k.Float64("weights." + key)
	}
	cfg.weights = weights

	budgets := cfg.Budgets()
	for _, key := range k.MapKeys("block_budgets") {
		b := criteria.Block(key)
		if !criteria.ValidBlock(b) {
			return fmt.Errorf("block_budgets.%s: %w", key, ErrUnknownBlock)
		}
		budgets[b] = k.Float64("block_budgets." + key)
	}
	cfg.budgets = budgets

	if k.Exists("core_criteria") {
		var core []criteria.ID
		for _, name := range k.Strings("core_criteria") {
			id, err := criteria.Parse(name)
			if err != nil {
				return fmt.Errorf("core_criteria: %w", err)
			}
			core = append(core, id)
		}
		cfg.core = core
	}

	if k.Exists("calibration_profile") {
		var info ProfileInfo
		if err := k.Unmarshal("calibration_profile", &info); err != nil {
			return fmt.Errorf("calibration_profile: %w", err)
		}
		cfg.profile = &info
	}
	return nil
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

// document is the on-disk YAML shape of a Config.
type document struct {
	TotalScale   float64            `yaml:"total_scale"`
	WorkspaceDir string             `yaml:"workspace_dir,omitempty"`
	Weights      map[string]float64 `yaml:"weights"`
	BlockBudgets map[string]float64 `yaml:"block_budgets"`
	CoreCriteria []string           `yaml:"core_criteria"`
	Aggregation  AggregationConfig  `yaml:"aggregation"`
	Calibration  CalibrationConfig  `yaml:"calibration"`
	Tuning       TuningConfig       `yaml:"tuning"`
	Profile      *ProfileInfo       `yaml:"calibration_profile,omitempty"`
}

// Marshal renders c as YAML. Map keys are emitted in sorted order.
func (c Config) Marshal() ([]byte, error) {
	doc := document{
		TotalScale:   c.TotalScale,
		WorkspaceDir: c.WorkspaceDir,
		Weights:      make(map[string]float64, len(c.weights)),
		BlockBudgets: make(map[string]float64, len(c.budgets)),
		Aggregation:  c.Aggregation,
		Calibration:  c.Calibration,
		Tuning:       c.Tuning,
		Profile:      c.profile,
	}
	for id, w := range c.weights {
		doc.Weights[string(id)] = w
	}
	for b, v := range c.budgets {
		doc.BlockBudgets[string(b)] = v
	}
	for _, id := range c.core {
		doc.CoreCriteria = append(doc.CoreCriteria, string(id))
	}
	sort.Strings(doc.CoreCriteria)
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// Save writes c to path, creating parent directories.
func Save(path string, c Config) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// BackupName returns the backup file name for name at time now.
func BackupName(name string, now time.Time) string {
	return name + ".backup." + now.Format("20060102_150405")
}

// Backup copies an existing target into backupDir and returns the backup
// path. It returns "" when target does not exist.
func Backup(target, backupDir string, now time.Time) (string, error) {
	data, err := os.ReadFile(target)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", target, err)
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	dst := filepath.Join(backupDir, BackupName(filepath.Base(target), now))
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return dst, nil
}

// Apply validates c, backs up an existing target and writes c over it.
// It returns the backup path ("" when nothing was overwritten).
func Apply(target string, c Config, backupDir string, now time.Time) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	if backupDir == "" {
		backupDir = filepath.Dir(target)
	}
	backup, err := Backup(target, backupDir, now)
	if err != nil {
		return "", err
	}
	if err := Save(target, c); err != nil {
		return backup, err
	}
	return backup, nil
}
