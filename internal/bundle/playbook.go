package bundle

import (
	"fmt"
	"math"
	"sort"

	"github.com/ergon73/portfolio-fit/internal/criteria"
	"github.com/ergon73/portfolio-fit/internal/results"
	"github.com/ergon73/portfolio-fit/internal/signal"
)

// DefaultLimit is how many recommendations a note lists.
const DefaultLimit = 7

// satisfiedRatio is the score ratio above which a criterion needs no advice.
const satisfiedRatio = 0.85

type play struct {
	title, action  string
	impact, effort int
}

var playbook = map[criteria.ID]play{
	criteria.TestCoverage:     {"Raise automated test coverage", "Add tests for critical flows and publish a coverage report in CI.", 5, 3},
	criteria.CodeComplexity:   {"Reduce complex functions", "Split large functions and add guard clauses for simpler flow.", 4, 3},
	criteria.TypeHints:        {"Tighten typing", "Annotate public functions first and enforce a type checker in CI.", 3, 2},
	criteria.Vulnerabilities:  {"Resolve dependency vulnerabilities", "Run an audit tool in CI and upgrade vulnerable packages.", 5, 3},
	criteria.DepHealth:        {"Trim dependency surface", "Remove unused packages and pin direct dependencies.", 3, 2},
	criteria.SecurityScanning: {"Enable security scanning", "Add Dependabot and a vulnerability scanner to the workflows.", 4, 2},
	criteria.ProjectActivity:  {"Improve maintenance signals", "Publish regular updates and tag stable checkpoints.", 2, 3},
	criteria.VersionStability: {"Adopt semantic versioning", "Declare a stable version and cut tagged releases.", 2, 1},
	criteria.Changelog:        {"Maintain CHANGELOG", "Document user-visible changes in CHANGELOG.md.", 2, 1},
	criteria.Docstrings:       {"Improve doc comment coverage", "Document public functions and types.", 3, 2},
	criteria.Logging:          {"Harden logging", "Replace debug prints with structured logging.", 3, 2},
	criteria.Structure:        {"Normalize project layout", "Keep code, tests and docs in conventional directories.", 3, 2},
	criteria.Readme:           {"Strengthen README onboarding", "Add install, usage, examples and troubleshooting sections.", 4, 2},
	criteria.APIDocs:          {"Publish API contract", "Provide OpenAPI or Postman artifacts and usage examples.", 3, 2},
	criteria.GettingStarted:   {"Simplify first run", "Add a make target or one-command startup script.", 3, 1},
	criteria.Docker:           {"Containerize reproducibly", "Add Dockerfile, compose, .dockerignore and a healthcheck.", 3, 3},
	criteria.CICD:             {"Expand CI checks", "Run lint, tests, coverage and release checks in workflows.", 4, 2},
}

// Recommendation is one suggested improvement.
type Recommendation struct {
	Criterion criteria.ID `yaml:"criterion"`
	Title     string      `yaml:"title"`
	Action    string      `yaml:"action"`
	Reason    string      `yaml:"reason"`
	Impact    int         `yaml:"impact"`
	Effort    int         `yaml:"effort"`
	QuickWin  bool        `yaml:"quick_win"`
	Priority  float64     `yaml:"priority_score"`
}

// Recommendations ranks the weak or unknown criteria of e by
// gap × impact / effort, boosted for missing or low-confidence evidence.
// Not-applicable criteria and criteria at or above 85% of their weight are
// skipped.
func Recommendations(e results.Entity, limit int) []Recommendation {
	var out []Recommendation
	for _, id := range criteria.All() {
		meta, ok := e.Criteria[id]
		p, known := playbook[id]
		if !ok || !known || meta.MaxScore <= 0 || meta.Status == signal.NotApplicable {
			continue
		}
		score := e.Scores[id]

		var gap, boost float64
		var reason string
		if meta.Status == signal.Unknown || score == nil {
			gap = 0.7
			if id == criteria.TestCoverage || id == criteria.CodeComplexity || id == criteria.Vulnerabilities {
				gap = 0.9
			}
			boost = 0.15
			reason = meta.Note
			if reason == "" {
				reason = "No reliable data available to score this criterion yet."
			}
		} else {
			ratio := *score / meta.MaxScore
			if ratio >= satisfiedRatio {
				continue
			}
			gap = max(0, 1-ratio)
			boost = (1 - meta.Confidence) * 0.1
			reason = meta.Note
			if reason == "" {
				reason = fmt.Sprintf("Partial result: %.2f/%.2f, gap %.2f.", *score, meta.MaxScore, meta.MaxScore-*score)
			}
		}
		priority := gap * float64(p.impact) / float64(max(1, p.effort)) * (1 + boost)
		out = append(out, Recommendation{
			Criterion: id,
			Title:     p.title,
			Action:    p.action,
			Reason:    reason,
			Impact:    p.impact,
			Effort:    p.effort,
			QuickWin:  p.impact >= 3 && p.effort <= 2,
			Priority:  math.Round(priority*1000) / 1000,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Impact != b.Impact {
			return a.Impact > b.Impact
		}
		return a.Effort < b.Effort
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
