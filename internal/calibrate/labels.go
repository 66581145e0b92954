package calibrate

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var (
	// ErrLabelsMissing is returned when the labels file does not exist.
	ErrLabelsMissing = errors.New("labels file not found")

	// ErrNoHeader is returned for a labels file without a header row.
	ErrNoHeader = errors.New("labels csv has no header")
)

// Label columns.
const (
	ColumnRepo   = "repo"
	ColumnExpert = "expert_score"
)

// LoadLabels reads expert labels from a CSV file.
func LoadLabels(path string) (map[string]float64, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrLabelsMissing, path)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	labels, err := ReadLabels(f)
	if err != nil {
		return nil, fmt.Errorf("read labels %s: %w", path, err)
	}
	return labels, nil
}

// ReadLabels parses a labels CSV. The header must name repo and
// expert_score. Rows with a blank repo or an unparseable score are
// skipped; a later row for the same repo wins.
func ReadLabels(r io.Reader) (map[string]float64, error) {
	header, rows, err := ReadTable(r)
	if err != nil {
		return nil, err
	}
	repoCol, scoreCol := -1, -1
	for i, h := range header {
		switch h {
		case ColumnRepo:
			repoCol = i
		case ColumnExpert:
			scoreCol = i
		}
	}
	if repoCol < 0 || scoreCol < 0 {
		return nil, fmt.Errorf("labels csv must contain columns: %s, %s", ColumnRepo, ColumnExpert)
	}

	labels := make(map[string]float64, len(rows))
	for _, row := range rows {
		if repoCol >= len(row) || scoreCol >= len(row) {
			continue
		}
		repo := strings.TrimSpace(row[repoCol])
		if repo == "" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[scoreCol]), 64)
		if err != nil {
			continue
		}
		labels[repo] = v
	}
	return labels, nil
}

// ReadTable reads a CSV with a header row. Short rows are allowed.
func ReadTable(r io.Reader) ([]string, [][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, ErrNoHeader
	}
	if err != nil {
		return nil, nil, err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	return header, rows, nil
}
