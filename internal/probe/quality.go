package probe

import (
	"bufio"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/ergon73/portfolio-fit/internal/criteria"
	"github.com/ergon73/portfolio-fit/internal/signal"
)

func testCoverage(_ context.Context, e *Entity) signal.Record {
	if pct, source, ok := coveragePercent(e); ok {
		var score float64
		switch {
		case pct >= 80:
			score = 5
		case pct >= 60:
			score = 4
		case pct >= 40:
			score = 3
		case pct >= 20:
			score = 2
		}
		return known(criteria.TestCoverage, score, criteria.Measured, 0.9,
			fmt.Sprintf("coverage from %s: %.1f%%", source, pct))
	}
	tests := 0
	for _, f := range e.Files() {
		if isTestFile(f) && isSource(f) {
			tests++
		}
	}
	if tests > 0 {
		return known(criteria.TestCoverage, 1.5, criteria.Heuristic, 0.45,
			fmt.Sprintf("%d test files found, no coverage report", tests))
	}
	return known(criteria.TestCoverage, 0, criteria.Heuristic, 0.55, "no tests or coverage report found")
}

func isSource(f string) bool {
	for _, ext := range []string{".go", ".py", ".js", ".jsx", ".ts", ".tsx"} {
		if strings.HasSuffix(f, ext) {
			return true
		}
	}
	return false
}

// coveragePercent reads the first coverage artifact it understands.
func coveragePercent(e *Entity) (float64, string, bool) {
	if raw := e.Read("coverage.xml"); raw != "" {
		var doc struct {
			LineRate string `xml:"line-rate,attr"`
		}
		if err := xml.Unmarshal([]byte(raw), &doc); err == nil {
			if rate, err := strconv.ParseFloat(doc.LineRate, 64); err == nil {
				return rate * 100, "coverage.xml", true
			}
		}
	}
	for _, name := range []string{"htmlcov/status.json", "coverage.json"} {
		var doc struct {
			Totals struct {
				PercentCovered *float64 `json:"percent_covered"`
				Display        string   `json:"percent_covered_display"`
			} `json:"totals"`
		}
		if err := json.Unmarshal([]byte(e.Read(name)), &doc); err != nil {
			continue
		}
		if doc.Totals.PercentCovered != nil {
			return *doc.Totals.PercentCovered, name, true
		}
		if v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(doc.Totals.Display), "%"), 64); err == nil {
			return v, name, true
		}
	}
	for _, name := range []string{"coverage.out", "cover.out", "coverage.txt"} {
		if pct, ok := goCoverProfile(e.Read(name)); ok {
			return pct, name, true
		}
	}
	for _, name := range []string{"coverage/lcov.info", "lcov.info"} {
		if pct, ok := lcov(e.Read(name)); ok {
			return pct, name, true
		}
	}
	var summary struct {
		Total struct {
			Lines struct {
				Pct *float64 `json:"pct"`
			} `json:"lines"`
		} `json:"total"`
	}
	if err := json.Unmarshal([]byte(e.Read("coverage/coverage-summary.json")), &summary); err == nil && summary.Total.Lines.Pct != nil {
		return *summary.Total.Lines.Pct, "coverage/coverage-summary.json", true
	}
	return 0, "", false
}

// goCoverProfile computes statement coverage from a `go test -coverprofile`
// file: "mode: x" followed by "file:start,end statements count" lines.
func goCoverProfile(raw string) (float64, bool) {
	if !strings.HasPrefix(raw, "mode:") {
		return 0, false
	}
	var total, covered int
	sc := bufio.NewScanner(strings.NewReader(raw))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 3 {
			continue
		}
		stmts, err1 := strconv.Atoi(fields[1])
		count, err2 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil {
			continue
		}
		total += stmts
		if count > 0 {
			covered += stmts
		}
	}
	if total == 0 {
		return 0, false
	}
	return float64(covered) / float64(total) * 100, true
}

func lcov(raw string) (float64, bool) {
	var found, hit int
	sc := bufio.NewScanner(strings.NewReader(raw))
	for sc.Scan() {
		line := sc.Text()
		if v, ok := strings.CutPrefix(line, "LF:"); ok {
			n, _ := strconv.Atoi(v)
			found += n
		} else if v, ok := strings.CutPrefix(line, "LH:"); ok {
			n, _ := strconv.Atoi(v)
			hit += n
		}
	}
	if found == 0 {
		return 0, false
	}
	return float64(hit) / float64(found) * 100, true
}

func typeHints(ctx context.Context, e *Entity) signal.Record {
	st := e.sources(ctx)
	switch {
	case st.PyFuncs > 0:
		pct := st.percent(st.PyTyped, st.PyFuncs)
		note := fmt.Sprintf("hinted functions: %d/%d (%.1f%%)", st.PyTyped, st.PyFuncs, pct)
		if e.Exists("mypy.ini", "pyrightconfig.json", ".pyright.json") {
			note += "; type checker config detected"
		}
		return known(criteria.TypeHints, percentBand(pct), criteria.Measured, 0.85, note)
	case st.GoFuncs > 0:
		pct := st.percent(st.GoTyped, st.GoFuncs)
		return known(criteria.TypeHints, percentBand(pct), criteria.Measured, 0.8,
			fmt.Sprintf("functions without empty-interface signatures: %d/%d (%.1f%%)", st.GoTyped, st.GoFuncs, pct))
	}

	if !e.Exists("package.json", "tsconfig.json", "**/*.js", "**/*.jsx", "**/*.ts", "**/*.tsx") {
		return unknown(criteria.TypeHints, "no Python or frontend files found to evaluate typing discipline")
	}
	if !e.Exists("tsconfig.json", "**/*.ts", "**/*.tsx") {
		return signal.NewNotApplicable(criteria.TypeHints, criteria.DefaultWeight(criteria.TypeHints),
			criteria.Measured, "plain JavaScript project")
	}
	var ts struct {
		CompilerOptions struct {
			Strict           bool `json:"strict"`
			NoImplicitAny    bool `json:"noImplicitAny"`
			StrictNullChecks bool `json:"strictNullChecks"`
		} `json:"compilerOptions"`
	}
	if raw := e.Read("tsconfig.json"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &ts); err != nil {
			return unknown(criteria.TypeHints, fmt.Sprintf("tsconfig.json parse error: %v", err))
		}
	}
	o := ts.CompilerOptions
	flags := 0
	for _, on := range []bool{o.Strict, o.NoImplicitAny, o.StrictNullChecks} {
		if on {
			flags++
		}
	}
	var score float64
	switch {
	case flags == 3:
		score = 5
	case o.Strict && flags == 2:
		score = 4
	case flags == 2:
		score = 3
	case flags == 1:
		score = 2
	default:
		score = 1
	}
	return known(criteria.TypeHints, score, criteria.Measured, 0.8,
		fmt.Sprintf("tsconfig strictness: strict=%t, noImplicitAny=%t, strictNullChecks=%t",
			o.Strict, o.NoImplicitAny, o.StrictNullChecks))
}

// vulnerabilities consumes audit reports committed next to the manifests.
// Scanners are not run; without a report the score is a low-confidence
// middle value.
func vulnerabilities(_ context.Context, e *Entity) signal.Record {
	python := e.Exists("requirements*.txt", "pyproject.toml", "Pipfile", "poetry.lock")
	node := e.Exists("package.json")
	golang := e.Exists("go.mod")
	if !python && !node && !golang {
		return unknown(criteria.Vulnerabilities, "no dependency manifest found")
	}

	reports := []struct {
		name  string
		on    bool
		count func(string) (int, bool)
	}{
		{"pip-audit-report.json", python, countPipAudit},
		{"npm-audit-report.json", node, countNpmAudit},
		{"govulncheck.json", golang, countGovulncheck},
	}
	for _, r := range reports {
		if !r.on {
			continue
		}
		raw := e.Read(r.name)
		if raw == "" {
			continue
		}
		if n, ok := r.count(raw); ok {
			return known(criteria.Vulnerabilities, vulnScore(n), criteria.Measured, 0.9,
				fmt.Sprintf("%s vulnerabilities: %d", r.name, n))
		}
	}
	return known(criteria.Vulnerabilities, 2.5, criteria.Heuristic, 0.35,
		"no audit report found; neutral fallback")
}

func vulnScore(n int) float64 {
	switch {
	case n <= 0:
		return 5
	case n <= 2:
		return 4
	case n <= 5:
		return 3
	case n <= 10:
		return 2
	}
	return 0
}

// countPipAudit accepts a list of dependencies or an object with
// "dependencies" and/or "vulnerabilities".
func countPipAudit(raw string) (int, bool) {
	type dep struct {
		Vulns           []json.RawMessage `json:"vulns"`
		Vulnerabilities []json.RawMessage `json:"vulnerabilities"`
	}
	count := func(deps []dep) int {
		n := 0
		for _, d := range deps {
			if d.Vulns != nil {
				n += len(d.Vulns)
			} else {
				n += len(d.Vulnerabilities)
			}
		}
		return n
	}
	var list []dep
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return count(list), true
	}
	var obj struct {
		Dependencies    []dep             `json:"dependencies"`
		Vulnerabilities []json.RawMessage `json:"vulnerabilities"`
	}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return 0, false
	}
	return count(obj.Dependencies) + len(obj.Vulnerabilities), true
}

func countNpmAudit(raw string) (int, bool) {
	var doc struct {
		Metadata struct {
			Vulnerabilities map[string]float64 `json:"vulnerabilities"`
		} `json:"metadata"`
		Vulnerabilities map[string]struct {
			Severity string `json:"severity"`
		} `json:"vulnerabilities"`
		Advisories map[string]json.RawMessage `json:"advisories"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return 0, false
	}
	if v := doc.Metadata.Vulnerabilities; v != nil {
		if total, ok := v["total"]; ok {
			return int(total), true
		}
		sum := 0
		for _, sev := range []string{"critical", "high", "moderate", "low", "info"} {
			sum += int(v[sev])
		}
		if sum > 0 {
			return sum, true
		}
	}
	if doc.Vulnerabilities != nil {
		n := 0
		for _, issue := range doc.Vulnerabilities {
			if strings.TrimSpace(issue.Severity) != "" {
				n++
			}
		}
		return n, true
	}
	if doc.Advisories != nil {
		return len(doc.Advisories), true
	}
	return 0, false
}

// countGovulncheck counts distinct OSV ids among the findings of a
// `govulncheck -json` stream.
func countGovulncheck(raw string) (int, bool) {
	dec := json.NewDecoder(strings.NewReader(raw))
	seen := map[string]bool{}
	parsed := false
	for dec.More() {
		var msg struct {
			Finding *struct {
				OSV string `json:"osv"`
			} `json:"finding"`
		}
		if err := dec.Decode(&msg); err != nil {
			return 0, false
		}
		parsed = true
		if msg.Finding != nil && msg.Finding.OSV != "" {
			seen[msg.Finding.OSV] = true
		}
	}
	return len(seen), parsed
}
