package probe

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/tools/go/packages"

	"github.com/ergon73/portfolio-fit/internal/criteria"
	"github.com/ergon73/portfolio-fit/internal/signal"
)

// sourceStats summarises the non-test sources of an entity. It is computed
// once per entity and shared by the docstring, complexity and logging probes.
type sourceStats struct {
	Files        int
	LoggingFiles int

	Defs        int // functions and exported types eligible for a doc comment
	Documented  int
	Functions   int
	Complexity  int // summed cyclomatic complexity
	// Fully typed signatures per language.
	GoFuncs, GoTyped int
	PyFuncs, PyTyped int
}

func (s sourceStats) percent(n, of int) float64 {
	if of == 0 {
		return 0
	}
	return float64(n) / float64(of) * 100
}

func (e *Entity) sources(ctx context.Context) sourceStats {
	e.srcOnce.Do(func() {
		var st sourceStats
		goFiles := e.Sources(false, ".go")
		if len(goFiles) > 0 {
			files := e.loadGo(ctx, goFiles)
			for _, f := range files {
				goStats(&st, f)
			}
		}
		for _, f := range e.Sources(false, ".py") {
			pythonStats(&st, e.Read(f))
		}
		e.src = st
	})
	return e.src
}

// loadGo returns the syntax trees of files. Trees on disk are loaded through
// go/packages so that build constraints are honoured; anything the loader
// misses is parsed directly from the entity's file system.
func (e *Entity) loadGo(ctx context.Context, files []string) map[string]*ast.File {
	fset := token.NewFileSet()
	out := make(map[string]*ast.File, len(files))
	if e.Root != "" && e.Exists("go.mod") {
		cfg := &packages.Config{
			Context: ctx,
			Mode:    packages.NeedName | packages.NeedFiles | packages.NeedSyntax,
			Dir:     e.Root,
			Fset:    fset,
		}
		if pkgs, err := packages.Load(cfg, "./..."); err == nil {
			for _, pkg := range pkgs {
				for _, f := range pkg.Syntax {
					rel, err := filepath.Rel(e.Root, fset.Position(f.Pos()).Filename)
					if err != nil {
						continue
					}
					out[filepath.ToSlash(rel)] = f
				}
			}
		}
	}
	for _, name := range files {
		if _, ok := out[name]; ok {
			continue
		}
		f, err := parser.ParseFile(fset, name, e.Read(name), parser.ParseComments)
		if err != nil {
			continue
		}
		out[name] = f
	}
	// The loader walks the whole module; keep only visible files.
	for name := range out {
		if !slices.Contains(files, name) {
			delete(out, name)
		}
	}
	return out
}

var goLoggers = []string{
	"log", "log/slog",
	"go.uber.org/zap", "github.com/rs/zerolog", "github.com/sirupsen/logrus",
}

func goStats(st *sourceStats, f *ast.File) {
	st.Files++
	for _, imp := range f.Imports {
		p := strings.Trim(imp.Path.Value, `"`)
		if slices.Contains(goLoggers, p) || strings.HasPrefix(p, "github.com/rs/zerolog/") {
			st.LoggingFiles++
			break
		}
	}
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			st.Functions++
			st.Complexity += cyclomatic(d)
			st.GoFuncs++
			if typedSignature(d.Type) {
				st.GoTyped++
			}
			if d.Name.IsExported() {
				st.Defs++
				if d.Doc != nil {
					st.Documented++
				}
			}
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts := spec.(*ast.TypeSpec)
				if !ts.Name.IsExported() {
					continue
				}
				st.Defs++
				if ts.Doc != nil || d.Doc != nil {
					st.Documented++
				}
			}
		}
	}
}

// typedSignature reports whether no parameter or result is an empty interface.
func typedSignature(ft *ast.FuncType) bool {
	lists := []*ast.FieldList{ft.Params, ft.Results}
	for _, l := range lists {
		if l == nil {
			continue
		}
		for _, f := range l.List {
			if emptyInterface(f.Type) {
				return false
			}
		}
	}
	return true
}

func emptyInterface(t ast.Expr) bool {
	switch x := t.(type) {
	case *ast.Ident:
		return x.Name == "any"
	case *ast.InterfaceType:
		return x.Methods == nil || len(x.Methods.List) == 0
	case *ast.Ellipsis:
		return emptyInterface(x.Elt)
	}
	return false
}

// cyclomatic counts decision points in fn plus one.
func cyclomatic(fn *ast.FuncDecl) int {
	n := 1
	if fn.Body == nil {
		return n
	}
	ast.Inspect(fn.Body, func(node ast.Node) bool {
		switch x := node.(type) {
		case *ast.IfStmt, *ast.ForStmt, *ast.RangeStmt:
			n++
		case *ast.CaseClause:
			if x.List != nil {
				n++
			}
		case *ast.CommClause:
			if x.Comm != nil {
				n++
			}
		case *ast.BinaryExpr:
			if x.Op == token.LAND || x.Op == token.LOR {
				n++
			}
		}
		return true
	})
	return n
}

var pythonBranches = []string{"if ", "elif ", "for ", "while ", "except", "async for "}

// pythonStats scans Python source line by line. Function complexity is one
// plus the branch statements and boolean operators inside the function.
func pythonStats(st *sourceStats, src string) {
	st.Files++
	lower := strings.ToLower(src)
	if strings.Contains(lower, "import logging") || strings.Contains(lower, "from loguru") ||
		strings.Contains(lower, "import structlog") || strings.Contains(lower, "logging.getlogger") {
		st.LoggingFiles++
	}

	lines := strings.Split(src, "\n")
	inFunc := false
	defIndent := 0
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		indent := len(raw) - len(strings.TrimLeft(raw, " \t"))
		if inFunc && indent <= defIndent {
			inFunc = false
		}
		if strings.HasPrefix(line, "def ") || strings.HasPrefix(line, "async def ") ||
			strings.HasPrefix(line, "class ") {
			st.Defs++
			if docstringFollows(lines[i+1:]) {
				st.Documented++
			}
			if strings.HasPrefix(line, "class ") {
				continue
			}
			st.Functions++
			st.Complexity++
			st.PyFuncs++
			if hinted(signature(lines[i:])) {
				st.PyTyped++
			}
			inFunc = true
			defIndent = indent
			continue
		}
		if !inFunc {
			continue
		}
		for _, kw := range pythonBranches {
			if strings.HasPrefix(line, kw) {
				st.Complexity++
				break
			}
		}
		if strings.Contains(line, " if ") && strings.Contains(line, " else ") {
			st.Complexity++
		}
		st.Complexity += strings.Count(line, " and ") + strings.Count(line, " or ")
	}
}

// signature joins a def statement that may span several lines.
func signature(lines []string) string {
	var b strings.Builder
	depth := 0
	for _, l := range lines {
		l = strings.TrimSpace(l)
		b.WriteString(l)
		b.WriteString(" ")
		depth += strings.Count(l, "(") - strings.Count(l, ")")
		if depth <= 0 && strings.HasSuffix(l, ":") {
			break
		}
	}
	return b.String()
}

// hinted reports whether every parameter other than self and cls carries an
// annotation and the return type is declared.
func hinted(sig string) bool {
	open, end := strings.Index(sig, "("), strings.LastIndex(sig, ")")
	if open < 0 || end < open {
		return false
	}
	if !strings.Contains(sig[end:], "->") {
		return false
	}
	depth := 0
	start := open + 1
	params := []string{}
	for i := open + 1; i < end; i++ {
		switch sig[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				params = append(params, sig[start:i])
				start = i + 1
			}
		}
	}
	params = append(params, sig[start:end])
	for _, p := range params {
		p = strings.TrimSpace(p)
		name, _, _ := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		switch {
		case p == "", p == "/", name == "self", name == "cls", strings.HasPrefix(name, "*"):
			continue
		case !strings.Contains(name, ":"):
			return false
		}
	}
	return true
}

func docstringFollows(rest []string) bool {
	for _, l := range rest {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		return strings.HasPrefix(l, `"""`) || strings.HasPrefix(l, `'''`) ||
			strings.HasPrefix(l, `r"""`)
	}
	return false
}

func docstrings(ctx context.Context, e *Entity) signal.Record {
	st := e.sources(ctx)
	if st.Defs == 0 {
		return unknown(criteria.Docstrings, "no functions or classes found")
	}
	pct := st.percent(st.Documented, st.Defs)
	return known(criteria.Docstrings, percentBand(pct), criteria.Measured, 0.85,
		fmt.Sprintf("documented %d of %d definitions (%.1f%%)", st.Documented, st.Defs, pct))
}

func codeComplexity(ctx context.Context, e *Entity) signal.Record {
	st := e.sources(ctx)
	if st.Functions == 0 {
		return unknown(criteria.CodeComplexity, "no functions found to measure")
	}
	avg := float64(st.Complexity) / float64(st.Functions)
	var score float64
	switch {
	case avg <= 5:
		score = 5
	case avg <= 10:
		score = 4
	case avg <= 20:
		score = 3
	case avg <= 50:
		score = 1
	}
	return known(criteria.CodeComplexity, score, criteria.Measured, 0.8,
		fmt.Sprintf("average cyclomatic complexity %.2f over %d functions", avg, st.Functions))
}

func logging(ctx context.Context, e *Entity) signal.Record {
	st := e.sources(ctx)
	if st.Files == 0 {
		return unknown(criteria.Logging, "no source files found")
	}
	pct := st.percent(st.LoggingFiles, st.Files)
	var score float64
	switch {
	case pct >= 80:
		score = 3
	case pct >= 50:
		score = 2
	case pct > 0:
		score = 1
	}
	return known(criteria.Logging, score, criteria.Heuristic, 0.7,
		fmt.Sprintf("logging imported in %d of %d files (%.1f%%)", st.LoggingFiles, st.Files, pct))
}

// percentBand maps a coverage-like percentage onto the 0..5 scale.
func percentBand(pct float64) float64 {
	switch {
	case pct >= 90:
		return 5
	case pct >= 70:
		return 4
	case pct >= 50:
		return 3
	case pct >= 30:
		return 2
	}
	return 0
}
