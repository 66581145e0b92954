package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ergon73/portfolio-fit/internal/aggregate"
	"github.com/ergon73/portfolio-fit/internal/config"
	"github.com/ergon73/portfolio-fit/internal/metrics"
	"github.com/ergon73/portfolio-fit/internal/results"
	"github.com/ergon73/portfolio-fit/internal/signal"
	"github.com/ergon73/portfolio-fit/internal/stack"
)

// DefaultConcurrency is the number of repositories evaluated at once.
const DefaultConcurrency = 4

// Target is one repository to evaluate. URL is set for remote targets and
// is cloned into the cache before probing.
type Target struct {
	Name string
	Root string
	URL  string
}

// Discover returns one target per child directory of dir, sorted by name.
// Hidden directories are skipped.
func Discover(dir string) ([]Target, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var out []Target
	for _, de := range entries {
		if !de.IsDir() || strings.HasPrefix(de.Name(), ".") || stack.SkipDir(de.Name()) {
			continue
		}
		out = append(out, Target{Name: de.Name(), Root: filepath.Join(dir, de.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Remote returns the target for a clone URL.
func Remote(url string) Target {
	return Target{Name: RepoName(url), URL: url}
}

// BatchOptions configures EvaluateAll.
type BatchOptions struct {
	Config      config.Config
	Registry    *Registry // nil means Default()
	Concurrency int
	CacheDir    string // clone destination for remote targets
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// EvaluateAll probes and aggregates every target. Failures are recorded on
// the target's entity and never abort the batch; the returned slice has one
// entity per target, sorted by score.
func EvaluateAll(ctx context.Context, targets []Target, opts BatchOptions) []results.Entity {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	reg := opts.Registry
	if reg == nil {
		reg = Default()
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	out := make([]results.Entity, len(targets))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, t := range targets {
		g.Go(func() error {
			out[i] = evaluateTarget(ctx, t, reg, opts, log)
			return nil
		})
	}
	_ = g.Wait()

	results.Sort(out)
	return out
}

func evaluateTarget(ctx context.Context, t Target, reg *Registry, opts BatchOptions, log *slog.Logger) results.Entity {
	log = log.With("repo", t.Name)
	root := t.Root
	if t.URL != "" {
		dir := opts.CacheDir
		if dir == "" {
			dir = filepath.Join(os.TempDir(), "portfolio-fit-repos")
		}
		cloned, err := Clone(ctx, t.URL, dir)
		if err != nil {
			log.Error("clone failed", "url", t.URL, "error", err)
			return results.Failed(t.Name, t.URL, stack.MixedUnknown, err)
		}
		root = cloned
	}

	e, err := NewEntity(root)
	if err != nil {
		log.Error("open repository failed", "path", root, "error", err)
		return results.Failed(t.Name, root, stack.MixedUnknown, err)
	}
	e.Name = t.Name
	log.Debug("stack detected", "profile", e.Profile, "markers", e.Markers)

	records := Evaluate(ctx, e, reg, opts.Config, log)
	res, err := aggregate.Aggregate(records, opts.Config, e.Profile)
	if err != nil {
		var ce *signal.ContractError
		if errors.As(err, &ce) {
			opts.Metrics.IncContractViolation(string(ce.Criterion))
		}
		log.Error("aggregation failed", "error", err)
		return results.Failed(t.Name, root, e.Profile, err)
	}
	opts.Metrics.ObserveEntity(string(res.Band), res.Coverage)
	log.Info("repository scored", "profile", res.Profile, "score", aggregate.Round2(res.TotalScore),
		"coverage", aggregate.Round2(res.Coverage), "band", res.Band)
	return results.FromAggregate(t.Name, root, res)
}
