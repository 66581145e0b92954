package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/mod/modfile"
	"golang.org/x/mod/semver"

	"github.com/ergon73/portfolio-fit/internal/criteria"
	"github.com/ergon73/portfolio-fit/internal/signal"
)

func depHealth(_ context.Context, e *Entity) signal.Record {
	var (
		count  int
		source string
	)
	switch {
	case e.Exists("requirements*.txt"):
		source = "python"
		for _, f := range e.Glob("requirements*.txt") {
			for _, line := range strings.Split(e.Read(f), "\n") {
				line = strings.TrimSpace(line)
				if line != "" && !strings.HasPrefix(line, "#") {
					count++
				}
			}
		}
	case e.Exists("go.mod"):
		source = "go"
		mf, err := modfile.ParseLax("go.mod", []byte(e.Read("go.mod")), nil)
		if err != nil {
			return unknown(criteria.DepHealth, fmt.Sprintf("go.mod parse error: %v", err))
		}
		for _, r := range mf.Require {
			if !r.Indirect {
				count++
			}
		}
	case e.Exists("package.json"):
		source = "node"
		count = nodeDependencies(e)
	default:
		return unknown(criteria.DepHealth, "no requirements/go.mod/package.json file found for dependency count")
	}

	var score float64
	switch {
	case count < 20:
		score = 3
	case count < 50:
		score = 2.5
	case count < 100:
		score = 2
	default:
		score = 1
	}
	return known(criteria.DepHealth, score, criteria.Measured, 0.8,
		fmt.Sprintf("dependency entries counted (%s): %d", source, count))
}

func nodeDependencies(e *Entity) int {
	var pkg map[string]json.RawMessage
	if err := json.Unmarshal([]byte(e.Read("package.json")), &pkg); err != nil {
		return 0
	}
	n := 0
	for _, section := range []string{"dependencies", "devDependencies", "peerDependencies"} {
		var deps map[string]string
		if json.Unmarshal(pkg[section], &deps) == nil {
			n += len(deps)
		}
	}
	return n
}

var versionPattern = regexp.MustCompile(`version\s*=\s*["']([0-9][0-9.]*)["']`)

// versionScore grades a release version: 1.x and later are stable, 0.5+ is
// maturing, anything else is early.
func versionScore(v string) float64 {
	v = "v" + strings.TrimPrefix(strings.TrimSpace(v), "v")
	if !semver.IsValid(v) {
		return 0
	}
	if semver.Major(v) != "v0" {
		return 3
	}
	if minor, _ := strconv.Atoi(strings.TrimPrefix(semver.MajorMinor(v), "v0.")); minor >= 5 {
		return 2
	}
	return 1
}

func versionStability(ctx context.Context, e *Entity) signal.Record {
	var (
		score   float64
		sources []string
	)
	for _, f := range []string{"setup.py", "pyproject.toml"} {
		content := e.Read(f)
		if content == "" {
			continue
		}
		sources = append(sources, f)
		if m := versionPattern.FindStringSubmatch(content); m != nil {
			score = max(score, versionScore(m[1]))
		}
	}
	var pkg struct {
		Version string `json:"version"`
	}
	if json.Unmarshal([]byte(e.Read("package.json")), &pkg) == nil && pkg.Version != "" {
		sources = append(sources, "package.json")
		score = max(score, versionScore(pkg.Version))
	}
	if tag := latestTag(ctx, e); tag != "" && semver.IsValid(tag) {
		sources = append(sources, "git tag "+tag)
		score = max(score, versionScore(tag))
	}
	if len(sources) == 0 {
		return unknown(criteria.VersionStability, "no setup.py/pyproject/package.json version metadata or release tag found")
	}
	return known(criteria.VersionStability, score, criteria.Measured, 0.8,
		"version metadata parsed from "+strings.Join(sources, ", "))
}
