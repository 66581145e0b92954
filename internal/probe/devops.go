package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/ergon73/portfolio-fit/internal/criteria"
	"github.com/ergon73/portfolio-fit/internal/signal"
)

func docker(_ context.Context, e *Entity) signal.Record {
	dockerfile := e.Exists("Dockerfile")
	compose := e.Exists("docker-compose.yml", "docker-compose.yaml", "compose.yaml", "compose.yml")
	ignore := e.Exists(".dockerignore")

	var score float64
	switch {
	case dockerfile && compose && ignore:
		score = 2.5
		content := e.Read("Dockerfile")
		if strings.Contains(content, "FROM") && strings.Contains(content, "HEALTHCHECK") {
			score = 3
		}
	case dockerfile && compose:
		score = 2
	case dockerfile:
		score = 1
	}
	return known(criteria.Docker, score, criteria.Heuristic, 0.75,
		fmt.Sprintf("dockerfile=%t, compose=%t, dockerignore=%t", dockerfile, compose, ignore))
}

func workflows(e *Entity) []string {
	return e.Glob(".github/workflows/*.yml", ".github/workflows/*.yaml", ".gitlab-ci.yml")
}

func cicd(_ context.Context, e *Entity) signal.Record {
	files := workflows(e)
	if len(files) == 0 {
		return known(criteria.CICD, 0, criteria.Heuristic, 0.75, "no workflow files found")
	}
	content := e.ReadAll(files)
	checks := 0
	for _, words := range [][]string{
		{"lint", "ruff", "black", "golangci", "go vet"},
		{"test", "pytest"},
		{"coverage"},
		{"deploy", "push", "release"},
	} {
		if containsAny(content, words...) {
			checks++
		}
	}
	score := 0.5
	switch {
	case checks >= 3:
		score = 2
	case checks >= 2:
		score = 1
	}
	return known(criteria.CICD, score, criteria.Heuristic, 0.75,
		fmt.Sprintf("workflow files: %d, checks matched: %d/4", len(files), checks))
}

func securityScanning(_ context.Context, e *Entity) signal.Record {
	dependabot := e.Exists(".github/dependabot.yml", ".github/dependabot.yaml", "renovate.json")
	content := e.ReadAll(workflows(e))

	scanners := map[string]bool{
		"bandit":      strings.Contains(content, "bandit"),
		"safety":      strings.Contains(content, "safety"),
		"pip_audit":   strings.Contains(content, "pip-audit"),
		"npm_audit":   containsAny(content, "npm audit", "audit-ci"),
		"govulncheck": containsAny(content, "govulncheck", "gosec"),
		"codeql":      strings.Contains(content, "codeql"),
	}
	for k, v := range packageScripts(e) {
		if containsAny(strings.ToLower(k+" "+v), "audit", "snyk") {
			scanners["script_audit"] = true
		}
	}
	scanner := false
	for _, on := range scanners {
		scanner = scanner || on
	}

	var score float64
	switch {
	case dependabot && scanner:
		score = 2
	case dependabot || scanner:
		score = 1
	}
	var found []string
	for _, name := range []string{"bandit", "safety", "pip_audit", "npm_audit", "govulncheck", "codeql", "script_audit"} {
		if scanners[name] {
			found = append(found, name)
		}
	}
	return known(criteria.SecurityScanning, score, criteria.Heuristic, 0.65,
		fmt.Sprintf("dependabot=%t, scanners=[%s]", dependabot, strings.Join(found, ", ")))
}

func structure(_ context.Context, e *Entity) signal.Record {
	src := e.Exists("src/", "internal/", "pkg/", "cmd/")
	pyTests := e.Exists("tests/", "test_*.py", "**/*_test.go")
	feTests := e.Exists("**/*.test.ts", "**/*.test.tsx", "**/*.test.js", "**/*.spec.ts", "**/*.spec.js", "__tests__/")
	docs := e.Exists("docs/", "mkdocs.yml")

	var backend float64
	switch {
	case src && pyTests && docs:
		backend = 2
	case src && pyTests:
		backend = 1.5
	case src || pyTests:
		backend = 1
	}

	feDirs := e.Exists("src/", "app/", "components/", "pages/", "public/")
	feConfig := e.Exists("package.json", "tsconfig.json", "vite.config.ts", "vite.config.js", "next.config.js", "next.config.mjs")
	var frontend float64
	switch {
	case feDirs && feTests && docs:
		frontend = 2
	case feDirs && feTests:
		frontend = 1.5
	case feDirs || feConfig:
		frontend = 1
	}

	return known(criteria.Structure, max(backend, frontend), criteria.Heuristic, 0.75,
		fmt.Sprintf("src=%t, tests=%t, docs=%t, frontend_dirs=%t, frontend_config=%t",
			src, pyTests || feTests, docs, feDirs, feConfig))
}
