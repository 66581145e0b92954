// Package workspace manages the ~/.portfolio-fit/ directory hierarchy.
//
// Directory layout:
//
//	~/.portfolio-fit/
//	    history.db                  # recalibration run history
//	    <profile>/labels/           # golden set and per-stack splits
//	    <profile>/artifacts/        # calibration, tuning and summary reports
//	    <profile>/configs/          # profile config and active-config backups
//	    <profile>/scoring_config*.yaml
package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ergon73/portfolio-fit/internal/config"
	"github.com/ergon73/portfolio-fit/internal/history"
	"github.com/ergon73/portfolio-fit/internal/recalibrate"
)

// DirName is the default workspace directory under the user's home.
const DirName = ".portfolio-fit"

var (
	ErrExists   = errors.New("profile already exists")
	ErrNotFound = errors.New("profile not found")
)

// Workspace is the root holding every recalibration profile.
type Workspace struct {
	Dir string
}

// New resolves the workspace directory: PORTFOLIO_FIT_HOME, then the
// configured workspace_dir, then ~/.portfolio-fit.
func New(cfg config.Config) (*Workspace, error) {
	if dir := os.Getenv(config.EnvHome); dir != "" {
		return &Workspace{Dir: dir}, nil
	}
	if cfg.WorkspaceDir != "" {
		return &Workspace{Dir: cfg.WorkspaceDir}, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("home dir: %w", err)
	}
	return &Workspace{Dir: filepath.Join(home, DirName)}, nil
}

// Paths returns the layout of profile name without touching the disk.
func (w *Workspace) Paths(name string) recalibrate.Paths {
	return recalibrate.Layout(w.Dir, name)
}

// HistoryPath is the run history database of the workspace.
func (w *Workspace) HistoryPath() string {
	return filepath.Join(w.Dir, history.FileName)
}

// Init creates profile name and errors if it already exists.
func (w *Workspace) Init(name string) (recalibrate.Paths, error) {
	p := w.Paths(name)
	if _, err := os.Stat(p.Root); err == nil {
		return recalibrate.Paths{}, fmt.Errorf("%w: %q at %s", ErrExists, name, p.Root)
	}
	if err := p.Ensure(); err != nil {
		return recalibrate.Paths{}, fmt.Errorf("create profile: %w", err)
	}
	return p, nil
}

// Ensure returns profile name, creating it when missing.
func (w *Workspace) Ensure(name string) (recalibrate.Paths, error) {
	p := w.Paths(name)
	if err := p.Ensure(); err != nil {
		return recalibrate.Paths{}, fmt.Errorf("create profile: %w", err)
	}
	return p, nil
}

// Open returns an existing profile.
func (w *Workspace) Open(name string) (recalibrate.Paths, error) {
	p := w.Paths(name)
	if fi, err := os.Stat(p.Root); err != nil || !fi.IsDir() {
		return recalibrate.Paths{}, fmt.Errorf("%w: %q (run 'portfolio-fit golden-set --profile %s' first)", ErrNotFound, name, name)
	}
	return p, nil
}

// List returns the profile directories of the workspace, sorted. A missing
// workspace has no profiles.
func (w *Workspace) List() ([]string, error) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workspace dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Remove deletes a profile and everything under it.
func (w *Workspace) Remove(name string) error {
	p, err := w.Open(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p.Root); err != nil {
		return fmt.Errorf("remove profile: %w", err)
	}
	return nil
}

// Snapshot copies profile name to dst/<slug>-YYYYMMDD_HHMMSS and returns the
// copy's path. It errors if the target already exists.
func (w *Workspace) Snapshot(name, dst string, now time.Time) (string, error) {
	p, err := w.Open(name)
	if err != nil {
		return "", err
	}
	target := filepath.Join(dst, p.Slug+"-"+now.Format("20060102_150405"))
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("snapshot target %q already exists", target)
	}
	if err := copyDir(p.Root, target); err != nil {
		return "", fmt.Errorf("snapshot %s: %w", name, err)
	}
	return target, nil
}

// copyDir recursively copies src to dst.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

// copyFile copies a single file, preserving permissions.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
