package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", FileName))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr(v float64) *float64 { return &v }

func TestRecordAssignsIDAndTime(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	r, err := s.Record(ctx, Run{Profile: "team-a", ResolvedStack: "python_backend", Band: "good"})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if r.ID == "" {
		t.Fatal("expected a run id")
	}
	if r.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}

	got, err := s.Latest(ctx, "team-a")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got == nil || got.ID != r.ID {
		t.Fatalf("Latest = %+v, want id %s", got, r.ID)
	}
	if got.Pearson != nil || got.Spearman != nil || got.MAE != nil {
		t.Fatalf("undefined metrics should stay nil: %+v", got)
	}
}

func TestListNewestFirstPerProfile(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, p := range []string{"a", "b", "a", "a"} {
		_, err := s.Record(ctx, Run{
			Profile:   p,
			Band:      "moderate",
			Spearman:  ptr(0.5 + float64(i)/10),
			Weights:   map[string]float64{"readme": float64(i)},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	runs, err := s.List(ctx, "a", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs for a, got %d", len(runs))
	}
	if runs[0].Weights["readme"] != 3 || runs[2].Weights["readme"] != 0 {
		t.Fatalf("unexpected order: %+v", runs)
	}
	if runs[0].Spearman == nil || *runs[0].Spearman != 0.8 {
		t.Fatalf("spearman = %v, want 0.8", runs[0].Spearman)
	}
	if !runs[0].CreatedAt.Equal(base.Add(3 * time.Second)) {
		t.Fatalf("created_at = %v", runs[0].CreatedAt)
	}

	all, err := s.List(ctx, "", 2)
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("limit not applied: %d", len(all))
	}
}

func TestLatestWithoutRuns(t *testing.T) {
	s := tempStore(t)
	got, err := s.Latest(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Record(context.Background(), Run{Profile: "p", Band: "poor", AppliedConfig: "/tmp/x.yaml"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Latest(context.Background(), "p")
	if err != nil || got == nil {
		t.Fatalf("Latest: %v %v", got, err)
	}
	if got.AppliedConfig != "/tmp/x.yaml" {
		t.Fatalf("applied config = %q", got.AppliedConfig)
	}
}
