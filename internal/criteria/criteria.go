// Package criteria defines the closed set of scored criteria and the blocks
// that partition them.
//
// Canonical order (used for every deterministic iteration in the module):
//
//	block1_code_quality   (15)  test_coverage, code_complexity, type_hints
//	block2_security       (10)  vulnerabilities, dep_health, security_scanning
//	block3_maintenance    (10)  project_activity, version_stability, changelog
//	block4_architecture   (10)  docstrings, logging, structure
//	block5_documentation  (10)  readme, api_docs, getting_started
//	block6_devops          (5)  docker, cicd
package criteria

import (
	"fmt"
	"strings"
)

// ID identifies one scored criterion.
type ID string

const (
	TestCoverage     ID = "test_coverage"
	CodeComplexity   ID = "code_complexity"
	TypeHints        ID = "type_hints"
	Vulnerabilities  ID = "vulnerabilities"
	DepHealth        ID = "dep_health"
	SecurityScanning ID = "security_scanning"
	ProjectActivity  ID = "project_activity"
	VersionStability ID = "version_stability"
	Changelog        ID = "changelog"
	Docstrings       ID = "docstrings"
	Logging          ID = "logging"
	Structure        ID = "structure"
	Readme           ID = "readme"
	APIDocs          ID = "api_docs"
	GettingStarted   ID = "getting_started"
	Docker           ID = "docker"
	CICD             ID = "cicd"
)

// Block identifies a named partition of criteria with its own budget.
type Block string

const (
	CodeQuality   Block = "block1_code_quality"
	Security      Block = "block2_security"
	Maintenance   Block = "block3_maintenance"
	Architecture  Block = "block4_architecture"
	Documentation Block = "block5_documentation"
	DevOps        Block = "block6_devops"
)

// Method records how a criterion value is obtained.
type Method string

const (
	Measured  Method = "measured"
	Heuristic Method = "heuristic"
)

// DefaultTotalScale is the published range of a total score.
const DefaultTotalScale = 50.0

type definition struct {
	id     ID
	block  Block
	weight float64
	method Method
}

// definitions is the single source of truth for the closed set.
var definitions = []definition{
	{TestCoverage, CodeQuality, 5, Measured},
	{CodeComplexity, CodeQuality, 5, Measured},
	{TypeHints, CodeQuality, 5, Measured},
	{Vulnerabilities, Security, 5, Heuristic},
	{DepHealth, Security, 3, Measured},
	{SecurityScanning, Security, 2, Heuristic},
	{ProjectActivity, Maintenance, 5, Measured},
	{VersionStability, Maintenance, 3, Measured},
	{Changelog, Maintenance, 2, Heuristic},
	{Docstrings, Architecture, 5, Measured},
	{Logging, Architecture, 3, Heuristic},
	{Structure, Architecture, 2, Heuristic},
	{Readme, Documentation, 5, Heuristic},
	{APIDocs, Documentation, 3, Heuristic},
	{GettingStarted, Documentation, 2, Heuristic},
	{Docker, DevOps, 3, Heuristic},
	{CICD, DevOps, 2, Heuristic},
}

var blocks = []Block{CodeQuality, Security, Maintenance, Architecture, Documentation, DevOps}

var index = func() map[ID]int {
	m := make(map[ID]int, len(definitions))
	for i, d := range definitions {
		m[d.id] = i
	}
	return m
}()

// All returns every criterion in canonical order. The slice is a fresh copy.
func All() []ID {
	out := make([]ID, len(definitions))
	for i, d := range definitions {
		out[i] = d.id
	}
	return out
}

// Blocks returns every block in canonical order.
func Blocks() []Block {
	return append([]Block(nil), blocks...)
}

// Members returns the criteria of b in canonical order.
func Members(b Block) []ID {
	var out []ID
	for _, d := range definitions {
		if d.block == b {
			out = append(out, d.id)
		}
	}
	return out
}

// BlockOf returns the block that owns id.
func BlockOf(id ID) (Block, bool) {
	i, ok := index[id]
	if !ok {
		return "", false
	}
	return definitions[i].block, true
}

// DefaultWeight returns the nominal max weight of id (0 for unknown ids).
func DefaultWeight(id ID) float64 {
	if i, ok := index[id]; ok {
		return definitions[i].weight
	}
	return 0
}

// DefaultMethod returns how id is usually measured.
func DefaultMethod(id ID) Method {
	if i, ok := index[id]; ok {
		return definitions[i].method
	}
	return Heuristic
}

// DefaultWeights returns a fresh map of nominal max weights.
func DefaultWeights() map[ID]float64 {
	m := make(map[ID]float64, len(definitions))
	for _, d := range definitions {
		m[d.id] = d.weight
	}
	return m
}

// DefaultBudgets returns the published budget of every block, which is the
// sum of its members' nominal weights.
func DefaultBudgets() map[Block]float64 {
	m := make(map[Block]float64, len(blocks))
	for _, d := range definitions {
		m[d.block] += d.weight
	}
	return m
}

// Order returns the canonical position of id, or -1.
func Order(id ID) int {
	if i, ok := index[id]; ok {
		return i
	}
	return -1
}

// Valid reports whether id belongs to the closed set.
func Valid(id ID) bool {
	_, ok := index[id]
	return ok
}

// Parse converts a name into an ID, rejecting anything outside the set.
func Parse(name string) (ID, error) {
	id := ID(strings.TrimSpace(strings.ToLower(name)))
	if !Valid(id) {
		return "", fmt.Errorf("criteria: unknown criterion %q", name)
	}
	return id, nil
}

// ValidBlock reports whether b is one of the published blocks.
func ValidBlock(b Block) bool {
	for _, x := range blocks {
		if x == b {
			return true
		}
	}
	return false
}

// DefaultConfidence is the confidence assigned when a probe does not report
// one explicitly.
func DefaultConfidence(m Method) float64 {
	if m == Measured {
		return 0.85
	}
	return 0.6
}
