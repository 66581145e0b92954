package probe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ergon73/portfolio-fit/internal/criteria"
	"github.com/ergon73/portfolio-fit/internal/signal"
)

// gitTimeout bounds every git invocation made while probing.
const gitTimeout = 5 * time.Second

// now is replaced in tests.
var now = time.Now

func git(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func projectActivity(ctx context.Context, e *Entity) signal.Record {
	if e.Root == "" {
		return unknown(criteria.ProjectActivity, "repository is not a git checkout")
	}
	out, err := git(ctx, e.Root, "log", "-1", "--format=%ct")
	if err != nil {
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			return unknown(criteria.ProjectActivity, "git log returned no commit date")
		}
		return unknown(criteria.ProjectActivity, fmt.Sprintf("git activity unavailable: %v", err))
	}
	if out == "" {
		return unknown(criteria.ProjectActivity, "git log returned no commit date")
	}
	sec, err := strconv.ParseInt(out, 10, 64)
	if err != nil {
		return unknown(criteria.ProjectActivity, fmt.Sprintf("cannot parse git date: %s", out))
	}
	days := int(now().Sub(time.Unix(sec, 0)).Hours() / 24)
	return known(criteria.ProjectActivity, activityScore(days), criteria.Measured, 0.9,
		fmt.Sprintf("last commit %d days ago", days))
}

func activityScore(days int) float64 {
	switch {
	case days < 7:
		return 5
	case days < 30:
		return 4
	case days < 90:
		return 3
	case days < 180:
		return 2
	}
	return 0
}

// latestTag returns the most recent tag reachable from HEAD, or "".
func latestTag(ctx context.Context, e *Entity) string {
	if e.Root == "" {
		return ""
	}
	tag, err := git(ctx, e.Root, "describe", "--tags", "--abbrev=0")
	if err != nil {
		return ""
	}
	return tag
}

// RepoName derives a repository name from a clone URL.
func RepoName(url string) string {
	url = strings.TrimSuffix(strings.TrimRight(url, "/"), ".git")
	if i := strings.LastIndexAny(url, "/:"); i >= 0 {
		url = url[i+1:]
	}
	return url
}

// Clone fetches url into cacheDir and returns the checkout path. An existing
// checkout is fast-forwarded instead. Clones are full so that commit dates
// and tags are available to the maintenance probes.
func Clone(ctx context.Context, url, cacheDir string) (string, error) {
	sum := sha256.Sum256([]byte(url))
	dir := filepath.Join(cacheDir, RepoName(url)+"-"+hex.EncodeToString(sum[:4]))

	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		cmd := exec.CommandContext(ctx, "git", "-C", dir, "pull", "--ff-only", "--tags")
		if out, err := cmd.CombinedOutput(); err != nil {
			return "", fmt.Errorf("git pull: %w\n%s", err, out)
		}
		return dir, nil
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", cacheDir, err)
	}
	cmd := exec.CommandContext(ctx, "git", "clone", url, dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("git clone: %w\n%s", err, out)
	}
	return dir, nil
}

// IsRemote reports whether target names a git remote rather than a path.
func IsRemote(target string) bool {
	for _, p := range []string{"https://", "http://", "git@", "ssh://", "git://"} {
		if strings.HasPrefix(target, p) {
			return true
		}
	}
	return false
}
