package recalibrate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ergon73/portfolio-fit/internal/calibrate"
	"github.com/ergon73/portfolio-fit/internal/report"
	"github.com/ergon73/portfolio-fit/internal/results"
	"github.com/ergon73/portfolio-fit/internal/stack"
)

// splitGroups are the label groups always produced, keyed by group name.
var splitGroups = map[stack.Profile]string{
	stack.PythonBackend:         string(stack.PythonBackend),
	stack.PythonFullstackReact:  string(stack.PythonFullstackReact),
	stack.PythonDjangoTemplates: stack.DjangoAlias,
}

// SplitSummary describes the per-stack label files written by SplitLabels.
type SplitSummary struct {
	GeneratedAt  string            `json:"generated_at"`
	LabelsPath   string            `json:"labels_path"`
	ResultsPath  string            `json:"results_path"`
	OutputDir    string            `json:"output_dir"`
	Groups       map[string]int    `json:"groups"`
	Files        map[string]string `json:"files"`
	MissingRepos []string          `json:"missing_repos"`
}

// SplitLabels writes one golden_set_<group>.csv per stack group found in the
// labels, keeping the original header and columns. Repos absent from the
// results are listed as missing. Stacks outside the default groups are only
// written when includeAdditional is set.
func SplitLabels(labelsPath, resultsPath, outDir string, includeAdditional bool, now time.Time) (SplitSummary, error) {
	header, rows, err := readLabelRows(labelsPath)
	if err != nil {
		return SplitSummary{}, err
	}
	entities, err := results.Load(resultsPath)
	if err != nil {
		return SplitSummary{}, err
	}
	stackOf := map[string]stack.Profile{}
	for _, e := range entities {
		stackOf[e.Repo] = e.Stack()
	}

	repoCol := -1
	for i, h := range header {
		if h == calibrate.ColumnRepo {
			repoCol = i
		}
	}
	if repoCol < 0 {
		return SplitSummary{}, fmt.Errorf("labels csv must contain column: %s", calibrate.ColumnRepo)
	}

	grouped := map[string][][]string{}
	missing := map[string]bool{}
	for _, row := range rows {
		if repoCol >= len(row) {
			continue
		}
		repo := strings.TrimSpace(row[repoCol])
		if repo == "" {
			continue
		}
		p, ok := stackOf[repo]
		if !ok {
			missing[repo] = true
			continue
		}
		group, ok := splitGroups[p]
		if !ok {
			if !includeAdditional {
				continue
			}
			group = string(p)
		}
		grouped[group] = append(grouped[group], row)
	}

	sum := SplitSummary{
		GeneratedAt:  now.Format(timeLayout),
		LabelsPath:   labelsPath,
		ResultsPath:  resultsPath,
		OutputDir:    outDir,
		Groups:       map[string]int{},
		Files:        map[string]string{},
		MissingRepos: []string{},
	}
	for repo := range missing {
		sum.MissingRepos = append(sum.MissingRepos, repo)
	}
	sort.Strings(sum.MissingRepos)

	pages := report.NewPages()
	for group, groupRows := range grouped {
		name := "golden_set_" + group + ".csv"
		content, err := encodeCSV(header, groupRows)
		if err != nil {
			return SplitSummary{}, err
		}
		pages.Add(name, content)
		sum.Groups[group] = len(groupRows)
		sum.Files[group] = filepath.Join(outDir, name)
	}
	data, err := marshal(sum)
	if err != nil {
		return SplitSummary{}, err
	}
	pages.Add("split_summary.json", data)
	if err := report.Write(pages, outDir); err != nil {
		return SplitSummary{}, err
	}
	return sum, nil
}

func readLabelRows(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("%w: %s", calibrate.ErrLabelsMissing, path)
	}
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	header, rows, err := calibrate.ReadTable(f)
	if err != nil {
		return nil, nil, fmt.Errorf("read labels %s: %w", path, err)
	}
	return header, rows, nil
}

func encodeCSV(header []string, rows [][]string) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(header); err != nil {
		return "", err
	}
	if err := w.WriteAll(rows); err != nil {
		return "", err
	}
	return b.String(), nil
}
