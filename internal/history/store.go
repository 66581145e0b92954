// Package history records recalibration runs in a local SQLite database so
// that profiles can be compared over time.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// FileName is the database file kept in the workspace root.
const FileName = "history.db"

// timeLayout is fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id          TEXT PRIMARY KEY,
	profile         TEXT NOT NULL,
	requested_stack TEXT NOT NULL,
	resolved_stack  TEXT NOT NULL,
	sample_size     INTEGER NOT NULL,
	pearson         REAL,
	spearman        REAL,
	mae             REAL,
	quality_band    TEXT NOT NULL,
	applied_config  TEXT,
	weights_json    TEXT NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS runs_profile_created ON runs (profile, created_at);
`

// Run is one recorded recalibration.
type Run struct {
	ID             string
	Profile        string
	RequestedStack string
	ResolvedStack  string
	SampleSize     int
	Pearson        *float64
	Spearman       *float64
	MAE            *float64
	Band           string
	AppliedConfig  string
	Weights        map[string]float64
	CreatedAt      time.Time
}

// Store is the run history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores r. An empty ID gets a fresh UUID and a zero CreatedAt the
// current time; the stored run is returned.
func (s *Store) Record(ctx context.Context, r Run) (Run, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.CreatedAt = r.CreatedAt.UTC()
	if r.Weights == nil {
		r.Weights = map[string]float64{}
	}
	weights, err := json.Marshal(r.Weights)
	if err != nil {
		return Run{}, fmt.Errorf("marshal weights: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, profile, requested_stack, resolved_stack, sample_size,
			pearson, spearman, mae, quality_band, applied_config, weights_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Profile, r.RequestedStack, r.ResolvedStack, r.SampleSize,
		nullable(r.Pearson), nullable(r.Spearman), nullable(r.MAE),
		r.Band, r.AppliedConfig, string(weights), r.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return r, nil
}

// List returns runs newest first. An empty profile lists every profile;
// limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, profile string, limit int) ([]Run, error) {
	q := `SELECT run_id, profile, requested_stack, resolved_stack, sample_size,
		pearson, spearman, mae, quality_band, applied_config, weights_json, created_at
		FROM runs WHERE (? = '' OR profile = ?) ORDER BY created_at DESC, run_id`
	args := []any{profile, profile}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Latest returns the newest run for profile, or nil when there is none.
func (s *Store) Latest(ctx context.Context, profile string) (*Run, error) {
	runs, err := s.List(ctx, profile, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r                      Run
		pearson, spearman, mae sql.NullFloat64
		applied                sql.NullString
		weights, createdAt     string
	)
	err := sc.Scan(&r.ID, &r.Profile, &r.RequestedStack, &r.ResolvedStack, &r.SampleSize,
		&pearson, &spearman, &mae, &r.Band, &applied, &weights, &createdAt)
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	r.Pearson = fromNull(pearson)
	r.Spearman = fromNull(spearman)
	r.MAE = fromNull(mae)
	r.AppliedConfig = applied.String
	if err := json.Unmarshal([]byte(weights), &r.Weights); err != nil {
		return Run{}, fmt.Errorf("decode weights for run %s: %w", r.ID, err)
	}
	r.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return r, nil
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
