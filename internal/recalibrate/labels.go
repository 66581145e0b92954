package recalibrate

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ergon73/portfolio-fit/internal/calibrate"
	"github.com/ergon73/portfolio-fit/internal/report"
)

// SourceExpert marks a label entered by a reviewer.
const SourceExpert = "expert"

// Pending is a golden set row still waiting for an expert score.
type Pending struct {
	Repo       string
	ModelScore string
	Category   string
}

// PendingLabels lists the golden set rows at path with an empty
// expert_score, in file order.
func PendingLabels(path string) ([]Pending, error) {
	header, rows, err := readLabelRows(path)
	if err != nil {
		return nil, err
	}
	repoCol, scoreCol := column(header, calibrate.ColumnRepo), column(header, calibrate.ColumnExpert)
	if repoCol < 0 || scoreCol < 0 {
		return nil, fmt.Errorf("labels csv must contain columns: %s, %s", calibrate.ColumnRepo, calibrate.ColumnExpert)
	}
	modelCol, catCol := column(header, "model_score"), column(header, "category")

	var out []Pending
	for _, row := range rows {
		repo := strings.TrimSpace(cell(row, repoCol))
		if repo == "" || strings.TrimSpace(cell(row, scoreCol)) != "" {
			continue
		}
		out = append(out, Pending{Repo: repo, ModelScore: cell(row, modelCol), Category: cell(row, catCol)})
	}
	return out, nil
}

// RecordLabels writes scores into the golden set at path and returns how
// many rows changed. Other columns are kept; label_source, when present,
// becomes SourceExpert.
func RecordLabels(path string, scores map[string]float64) (int, error) {
	header, rows, err := readLabelRows(path)
	if err != nil {
		return 0, err
	}
	repoCol, scoreCol := column(header, calibrate.ColumnRepo), column(header, calibrate.ColumnExpert)
	if repoCol < 0 || scoreCol < 0 {
		return 0, fmt.Errorf("labels csv must contain columns: %s, %s", calibrate.ColumnRepo, calibrate.ColumnExpert)
	}
	srcCol := column(header, "label_source")

	changed := 0
	for i, row := range rows {
		score, ok := scores[strings.TrimSpace(cell(row, repoCol))]
		if !ok {
			continue
		}
		for len(row) < len(header) {
			row = append(row, "")
		}
		row[scoreCol] = strconv.FormatFloat(score, 'f', -1, 64)
		if srcCol >= 0 {
			row[srcCol] = SourceExpert
		}
		rows[i] = row
		changed++
	}
	if changed == 0 {
		return 0, nil
	}

	content, err := encodeCSV(header, rows)
	if err != nil {
		return 0, err
	}
	pages := report.NewPages()
	pages.Add(filepath.Base(path), content)
	if err := report.Write(pages, filepath.Dir(path)); err != nil {
		return 0, err
	}
	return changed, nil
}

func column(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
