// Package probe gathers evidence from a repository checkout: one probe per
// criterion, each returning a single signal record.
//
// Probes never fail. Missing evidence, unreadable files and tool errors are
// reported as Unknown records so the aggregator can rescale around them.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ergon73/portfolio-fit/internal/config"
	"github.com/ergon73/portfolio-fit/internal/criteria"
	"github.com/ergon73/portfolio-fit/internal/signal"
)

// Probe produces the evidence record of one criterion.
type Probe interface {
	// Criterion returns the criterion this probe scores.
	Criterion() criteria.ID

	// Evaluate inspects e. The record's Max is the criterion's default
	// weight; Evaluate rebases it onto the configured weight.
	Evaluate(ctx context.Context, e *Entity) signal.Record
}

// Func adapts a function to the Probe interface.
type Func struct {
	ID criteria.ID
	Fn func(ctx context.Context, e *Entity) signal.Record
}

func (f Func) Criterion() criteria.ID { return f.ID }

func (f Func) Evaluate(ctx context.Context, e *Entity) signal.Record { return f.Fn(ctx, e) }

// Registry maps criteria to probes.
type Registry struct {
	probes map[criteria.ID]Probe
}

// NewRegistry returns a registry holding probes.
func NewRegistry(probes ...Probe) *Registry {
	r := &Registry{probes: make(map[criteria.ID]Probe)}
	for _, p := range probes {
		r.Register(p)
	}
	return r
}

// Register adds p. Registering two probes for one criterion, or a probe for
// an unknown criterion, is a programming error and panics.
func (r *Registry) Register(p Probe) {
	id := p.Criterion()
	if !criteria.Valid(id) {
		panic(fmt.Sprintf("probe: unknown criterion %q", id))
	}
	if _, dup := r.probes[id]; dup {
		panic(fmt.Sprintf("probe: duplicate probe for %s", id))
	}
	r.probes[id] = p
}

// Lookup returns the probe registered for id.
func (r *Registry) Lookup(id criteria.ID) (Probe, bool) {
	p, ok := r.probes[id]
	return p, ok
}

// Probes returns the registered probes in canonical criterion order.
func (r *Registry) Probes() []Probe {
	out := make([]Probe, 0, len(r.probes))
	for _, p := range r.probes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return criteria.Order(out[i].Criterion()) < criteria.Order(out[j].Criterion())
	})
	return out
}

// Default returns a registry with the built-in probe of every criterion.
func Default() *Registry {
	return NewRegistry(
		Func{criteria.TestCoverage, testCoverage},
		Func{criteria.CodeComplexity, codeComplexity},
		Func{criteria.TypeHints, typeHints},
		Func{criteria.Vulnerabilities, vulnerabilities},
		Func{criteria.DepHealth, depHealth},
		Func{criteria.SecurityScanning, securityScanning},
		Func{criteria.ProjectActivity, projectActivity},
		Func{criteria.VersionStability, versionStability},
		Func{criteria.Changelog, changelog},
		Func{criteria.Docstrings, docstrings},
		Func{criteria.Logging, logging},
		Func{criteria.Structure, structure},
		Func{criteria.Readme, readme},
		Func{criteria.APIDocs, apiDocs},
		Func{criteria.GettingStarted, gettingStarted},
		Func{criteria.Docker, docker},
		Func{criteria.CICD, cicd},
	)
}

// Evaluate runs every probe of reg against e concurrently and returns one
// record per criterion. Criteria without a probe, probes that panic and
// probes cut short by ctx all yield Unknown records.
func Evaluate(ctx context.Context, e *Entity, reg *Registry, cfg config.Config, log *slog.Logger) map[criteria.ID]signal.Record {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	ids := criteria.All()
	out := make([]signal.Record, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		p, ok := reg.Lookup(id)
		if !ok {
			out[i] = signal.NewUnknown(id, cfg.Weight(id), criteria.DefaultMethod(id), "no probe registered")
			continue
		}
		g.Go(func() error {
			out[i] = rebase(run(ctx, p, e, log), cfg.Weight(id))
			return nil
		})
	}
	_ = g.Wait()

	records := make(map[criteria.ID]signal.Record, len(ids))
	for i, id := range ids {
		records[id] = out[i]
	}
	return records
}

func run(ctx context.Context, p Probe, e *Entity, log *slog.Logger) (rec signal.Record) {
	id := p.Criterion()
	defer func() {
		if r := recover(); r != nil {
			log.Error("probe panicked", "entity", e.Name, "criterion", id, "panic", r, "stack", string(debug.Stack()))
			rec = unknown(id, fmt.Sprintf("probe failed: %v", r))
		}
	}()
	if err := ctx.Err(); err != nil {
		return unknown(id, "evaluation cancelled")
	}
	rec = p.Evaluate(ctx, e)
	if rec.Status != signal.Known && ctx.Err() != nil {
		return unknown(id, "evaluation cancelled")
	}
	log.Debug("probe done", "entity", e.Name, "criterion", id, "status", rec.Status, "note", rec.Note)
	return rec
}

// rebase moves a valid record onto the configured weight, clamping the
// value. Records that already break the contract are left for the
// aggregator to reject.
func rebase(rec signal.Record, max float64) signal.Record {
	if rec.Value != nil && *rec.Value > rec.Max {
		return rec
	}
	if rec.Value != nil && *rec.Value > max {
		rec.Value = signal.Float(max)
	}
	rec.Max = max
	return rec
}

func known(id criteria.ID, score float64, method criteria.Method, confidence float64, note string) signal.Record {
	return signal.NewKnown(id, score, criteria.DefaultWeight(id), method, confidence, note)
}

func unknown(id criteria.ID, note string) signal.Record {
	return signal.NewUnknown(id, criteria.DefaultWeight(id), criteria.DefaultMethod(id), note)
}
