// Package results is the published per-repository record: what the
// aggregator produces and what calibration and tuning read back.
//
// On disk a results file is a JSON list of flat objects. Besides the named
// fields, each object carries one numeric field per criterion and per block
// so that spreadsheets and older tooling can read scores directly.
package results

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ergon73/portfolio-fit/internal/aggregate"
	"github.com/ergon73/portfolio-fit/internal/criteria"
	"github.com/ergon73/portfolio-fit/internal/signal"
	"github.com/ergon73/portfolio-fit/internal/stack"
)

// ErrNotList is returned when a results file is not a JSON list.
var ErrNotList = errors.New("results json must be a list of repository objects")

// CriterionMeta describes how one criterion's value was obtained.
type CriterionMeta struct {
	MaxScore   float64         `json:"max_score"`
	Status     signal.Status   `json:"status"`
	Method     criteria.Method `json:"method"`
	Confidence float64         `json:"confidence"`
	Note       string          `json:"note,omitempty"`
}

// BlockMeta is one block's published subtotal.
type BlockMeta struct {
	Score      *float64 `json:"score"`
	KnownScore float64  `json:"known_score"`
	KnownMax   float64  `json:"known_max"`
	MaxScore   float64  `json:"max_score"`
	Coverage   float64  `json:"data_coverage_percent"`
}

// Entity is one repository's published result.
type Entity struct {
	Repo          string                        `json:"repo"`
	Path          string                        `json:"path,omitempty"`
	StackProfile  string                        `json:"stack_profile"`
	TotalScore    float64                       `json:"total_score"`
	MaxScore      float64                       `json:"max_score"`
	RawMaxScore   float64                       `json:"raw_max_score"`
	KnownScore    float64                       `json:"known_score"`
	KnownMaxScore float64                       `json:"known_max_score"`
	Coverage      float64                       `json:"data_coverage_percent"`
	QualityStatus string                        `json:"data_quality_status"`
	Warnings      []string                      `json:"data_quality_warnings"`
	Category      string                        `json:"category"`
	Criteria      map[criteria.ID]CriterionMeta `json:"criteria_meta"`
	Blocks        map[criteria.Block]BlockMeta  `json:"blocks_meta"`
	Error         string                        `json:"error,omitempty"`

	// Scores holds the flat per-criterion values; nil means no value.
	Scores map[criteria.ID]*float64 `json:"-"`
}

// FromAggregate flattens an aggregate result for publication.
func FromAggregate(repo, path string, res aggregate.Result) Entity {
	e := Entity{
		Repo:          repo,
		Path:          path,
		StackProfile:  string(res.Profile),
		TotalScore:    aggregate.Round2(res.TotalScore),
		MaxScore:      res.TotalScale,
		RawMaxScore:   res.RawMax,
		KnownScore:    aggregate.Round2(res.KnownScore),
		KnownMaxScore: aggregate.Round2(res.KnownMax),
		Coverage:      aggregate.Round2(res.Coverage),
		QualityStatus: string(res.Band),
		Warnings:      append([]string{}, res.Warnings...),
		Category:      res.Category,
		Criteria:      make(map[criteria.ID]CriterionMeta, len(res.Criteria)),
		Blocks:        make(map[criteria.Block]BlockMeta, len(res.Blocks)),
		Scores:        make(map[criteria.ID]*float64, len(res.Criteria)),
	}
	for id, rec := range res.Criteria {
		e.Criteria[id] = CriterionMeta{
			MaxScore:   rec.Max,
			Status:     rec.Status,
			Method:     rec.Method,
			Confidence: rec.Confidence,
			Note:       rec.Note,
		}
		if rec.Value != nil {
			v := aggregate.Round2(*rec.Value)
			e.Scores[id] = &v
		} else {
			e.Scores[id] = nil
		}
	}
	for _, b := range res.Blocks {
		var score *float64
		if b.Score != nil {
			v := aggregate.Round2(*b.Score)
			score = &v
		}
		e.Blocks[b.Block] = BlockMeta{
			Score:      score,
			KnownScore: aggregate.Round2(b.KnownScore),
			KnownMax:   aggregate.Round2(b.KnownMax),
			MaxScore:   b.Budget,
			Coverage:   aggregate.Round2(b.Coverage),
		}
	}
	return e
}

// Failed records an entity that could not be scored.
func Failed(repo, path string, profile stack.Profile, err error) Entity {
	return Entity{
		Repo:          repo,
		Path:          path,
		StackProfile:  string(profile),
		QualityStatus: string(aggregate.Red),
		Warnings:      []string{},
		Category:      "Insufficient data",
		Error:         err.Error(),
	}
}

// Signal reconstructs the evidence record for id.
func (e Entity) Signal(id criteria.ID) signal.Record {
	meta, ok := e.Criteria[id]
	value := e.Scores[id]
	if !ok {
		if value == nil {
			return signal.NewUnknown(id, 0, criteria.DefaultMethod(id), "no criteria meta")
		}
		return signal.Record{Criterion: id, Value: value, Status: signal.Known, Method: criteria.DefaultMethod(id)}
	}
	rec := signal.Record{
		Criterion:  id,
		Max:        meta.MaxScore,
		Status:     meta.Status,
		Method:     meta.Method,
		Confidence: meta.Confidence,
		Note:       meta.Note,
	}
	if rec.Status == "" {
		rec.Status = signal.Known
	}
	if rec.Status == signal.Known {
		rec.Value = value
	}
	return rec
}

// Ratio returns value/max clamped to [0,1] for a Known criterion with a
// positive max.
func (e Entity) Ratio(id criteria.ID) (float64, bool) {
	rec := e.Signal(id)
	if !rec.IsKnown() || rec.Max <= 0 {
		return 0, false
	}
	r := rec.Score() / rec.Max
	switch {
	case r < 0:
		r = 0
	case r > 1:
		r = 1
	}
	return r, true
}

// Stack returns the entity's canonical profile. An unclassified entity
// whose path still exists on disk is detected again.
func (e Entity) Stack() stack.Profile {
	p := stack.Canonical(e.StackProfile)
	if p != stack.MixedUnknown || e.Path == "" {
		return p
	}
	if fi, err := os.Stat(e.Path); err != nil || !fi.IsDir() {
		return p
	}
	detected, _, err := stack.DetectDir(e.Path)
	if err != nil {
		return p
	}
	return detected
}

type plain Entity

// MarshalJSON writes the named fields plus the flat score fields.
func (e Entity) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(plain(e))
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	for id, v := range e.Scores {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		fields[string(id)] = b
	}
	for block, meta := range e.Blocks {
		b, err := json.Marshal(meta.Score)
		if err != nil {
			return nil, err
		}
		fields[string(block)] = b
	}
	return json.Marshal(fields)
}

// UnmarshalJSON reads the named fields and picks up flat criterion scores.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	p.Scores = map[criteria.ID]*float64{}
	for _, id := range criteria.All() {
		raw, ok := fields[string(id)]
		if !ok {
			continue
		}
		var v *float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("criterion %s: %w", id, err)
		}
		p.Scores[id] = v
	}
	*e = Entity(p)
	return nil
}

// Load reads a results file. Entries without a repo, and entries that are
// not objects, are skipped.
func Load(path string) ([]Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("results file not found: %s", path)
		}
		return nil, err
	}
	return Decode(data)
}

// Decode parses the content of a results file.
func Decode(data []byte) ([]Entity, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, ErrNotList
	}
	out := make([]Entity, 0, len(items))
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' {
			continue
		}
		var e Entity
		if err := json.Unmarshal(item, &e); err != nil {
			continue
		}
		if e.Repo == "" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Write stores entities sorted by total score, best first, then by repo.
func Write(path string, entities []Entity) error {
	sorted := append([]Entity(nil), entities...)
	Sort(sorted)
	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Sort orders entities by total score descending, then repo.
func Sort(entities []Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].TotalScore != entities[j].TotalScore {
			return entities[i].TotalScore > entities[j].TotalScore
		}
		return entities[i].Repo < entities[j].Repo
	})
}

// Index keys entities by repo. A later duplicate wins.
func Index(entities []Entity) map[string]Entity {
	m := make(map[string]Entity, len(entities))
	for _, e := range entities {
		m[e.Repo] = e
	}
	return m
}

// TotalScores maps repo to total score, leaving out failed entities.
func TotalScores(entities []Entity) map[string]float64 {
	m := make(map[string]float64, len(entities))
	for _, e := range entities {
		if e.Error != "" {
			continue
		}
		m[e.Repo] = e.TotalScore
	}
	return m
}
