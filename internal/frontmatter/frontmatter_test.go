package frontmatter_test

import (
	"errors"
	"testing"

	"github.com/ergon73/portfolio-fit/internal/frontmatter"
)

type note struct {
	Repo  string   `yaml:"repo"`
	Score float64  `yaml:"total_score"`
	Tags  []string `yaml:"tags"`
}

func TestDecodeRoundtrip(t *testing.T) {
	in := note{Repo: "alpha", Score: 41.5, Tags: []string{"stack/go_backend"}}
	body := "# alpha\n\n- **Score**: 41.50/50\n"

	data, err := frontmatter.Write(in, body)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	var out note
	gotBody, err := frontmatter.Decode(data, &out)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if gotBody != body {
		t.Errorf("body mismatch: got %q want %q", gotBody, body)
	}
	if out.Repo != "alpha" || out.Score != 41.5 || len(out.Tags) != 1 {
		t.Errorf("meta mismatch: %+v", out)
	}
}

func TestParseCRLF(t *testing.T) {
	fm, body, err := frontmatter.Parse([]byte("---\r\nrepo: beta\r\n---\r\ntext\r\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if string(fm) != "repo: beta\n" {
		t.Errorf("frontmatter = %q", fm)
	}
	if string(body) != "text\n" {
		t.Errorf("body = %q", body)
	}
}

func TestParseEmptyBlock(t *testing.T) {
	fm, body, err := frontmatter.Parse([]byte("---\n---\nbody"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(fm) != 0 || string(body) != "body" {
		t.Errorf("got fm=%q body=%q", fm, body)
	}
}

func TestParseErrors(t *testing.T) {
	if _, _, err := frontmatter.Parse([]byte("no delimiter")); !errors.Is(err, frontmatter.ErrNoOpening) {
		t.Errorf("missing open: got %v", err)
	}
	if _, _, err := frontmatter.Parse([]byte("---\nrepo: x\n")); !errors.Is(err, frontmatter.ErrNoClosing) {
		t.Errorf("missing close: got %v", err)
	}
	var n note
	if _, err := frontmatter.Decode([]byte("---\nrepo: [\n---\n"), &n); err == nil {
		t.Error("expected unmarshal error")
	}
}
