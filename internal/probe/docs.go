package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ergon73/portfolio-fit/internal/criteria"
	"github.com/ergon73/portfolio-fit/internal/signal"
)

const (
	readmeFull       = 500
	readmePartial    = 200
	changelogMinimum = 500
)

func readme(_ context.Context, e *Entity) signal.Record {
	files := e.Glob("README*")
	if len(files) == 0 {
		return known(criteria.Readme, 0, criteria.Heuristic, 0.8, "README file not found")
	}
	content := strings.ToLower(e.Read(files[0]))
	sections := 0
	for _, words := range [][]string{
		{"install", "setup"},
		{"usage", "example", "quickstart"},
		{"screenshot", "demo"},
		{"troubleshoot", "faq", "issue"},
	} {
		if containsAny(content, words...) {
			sections++
		}
	}
	var score float64
	switch {
	case len(content) > readmeFull && sections >= 3:
		score = 5
	case len(content) > readmeFull && sections >= 2:
		score = 4
	case len(content) > readmeFull:
		score = 3
	case len(content) > readmePartial:
		score = 2
	default:
		score = 1
	}
	return known(criteria.Readme, score, criteria.Heuristic, 0.75,
		fmt.Sprintf("sections matched: %d; length: %d", sections, len(content)))
}

func changelog(_ context.Context, e *Entity) signal.Record {
	files := e.Glob("CHANGELOG*", "HISTORY.md")
	if len(files) == 0 {
		return known(criteria.Changelog, 0, criteria.Heuristic, 0.7, "changelog file not found")
	}
	content := e.Read(files[0])
	score := 1.0
	if len(content) > changelogMinimum && strings.Contains(strings.ToLower(content), "version") {
		score = 2
	}
	return known(criteria.Changelog, score, criteria.Heuristic, 0.7,
		fmt.Sprintf("changelog length: %d chars", len(content)))
}

func apiDocs(_ context.Context, e *Entity) signal.Record {
	py := e.Sources(true, ".py")
	goFiles := e.Sources(false, ".go")
	pyText := e.ReadAll(py)

	fastapi := strings.Contains(pyText, "fastapi")
	postman := e.Exists("**/*.postman_collection.json")
	openapi := e.Exists("openapi.json", "openapi.yaml", "openapi.yml", "**/swagger.json", "**/swagger.yaml")
	// Go services document handlers with swag annotations.
	swag := strings.Contains(e.ReadAll(goFiles), "// @router")

	if len(py) == 0 && len(goFiles) == 0 && !postman && !openapi {
		return unknown(criteria.APIDocs, "no API/documentation artifacts found to evaluate")
	}

	var score float64
	switch {
	case (fastapi || postman || swag) && openapi:
		score = 3
	case fastapi || postman || swag:
		score = 2
	case openapi:
		score = 1.5
	case containsAny(pyText, "args:", "returns:", "raises:"):
		score = 1
	}
	return known(criteria.APIDocs, score, criteria.Heuristic, 0.65,
		fmt.Sprintf("fastapi=%t, postman=%t, openapi=%t, swag=%t", fastapi, postman, openapi, swag))
}

func gettingStarted(_ context.Context, e *Entity) signal.Record {
	var score float64
	var notes []string
	switch {
	case e.Exists("Makefile", "Taskfile.yml"):
		score = 2
		notes = append(notes, "Makefile detected")
	case e.Exists("docker-compose.yml", "docker-compose.yaml", "compose.yaml"):
		score = 2
		notes = append(notes, "docker-compose detected")
	case e.Exists("run.sh", "start.sh"):
		score = 1.5
		notes = append(notes, "run/start script detected")
	case containsAny(e.ReadAll(e.Glob("README*")), "docker-compose up", "python main.py", "go run ", "npm start"):
		score = 1
		notes = append(notes, "README quick-start command detected")
	}

	if scripts := packageScripts(e); len(scripts) > 0 {
		var lint, test, build, typecheck bool
		for k, v := range scripts {
			k, v = strings.ToLower(k), strings.ToLower(v)
			lint = lint || strings.Contains(k, "lint") || strings.Contains(v, "eslint")
			test = test || strings.Contains(k, "test") || containsAny(v, "vitest", "jest")
			build = build || strings.Contains(k, "build") || containsAny(v, "vite build", "next build")
			typecheck = typecheck || strings.Contains(k, "typecheck") || containsAny(v, "tsc --noemit", "tsc -noemit")
		}
		n := 0
		for _, on := range []bool{lint, test, build, typecheck} {
			if on {
				n++
			}
		}
		switch {
		case n >= 3:
			score = max(score, 2)
		case n == 2:
			score = max(score, 1.5)
		case n == 1:
			score = max(score, 1)
		}
		notes = append(notes, fmt.Sprintf("package scripts: lint=%t, test=%t, build=%t, typecheck=%t", lint, test, build, typecheck))
	}

	note := "quick-start artifacts scanned"
	if len(notes) > 0 {
		note = strings.Join(notes, "; ")
	}
	return known(criteria.GettingStarted, score, criteria.Heuristic, 0.7, note)
}

// packageScripts returns the scripts section of package.json.
func packageScripts(e *Entity) map[string]string {
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal([]byte(e.Read("package.json")), &pkg); err != nil {
		return nil
	}
	return pkg.Scripts
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
