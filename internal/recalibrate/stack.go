package recalibrate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ergon73/portfolio-fit/internal/stack"
)

// Stack selection errors.
var (
	ErrUnsupportedStack = errors.New("unsupported stack profile")
	ErrEmptyFilter      = errors.New("no overlapping repositories after stack filter")
)

// StackConflictError reports that strict auto mode found labelled samples
// from more than one stack profile.
type StackConflictError struct {
	Counts map[stack.Profile]int
}

func (e *StackConflictError) Error() string {
	parts := make([]string, 0, len(e.Counts))
	for _, p := range stack.SortedNames(e.Counts) {
		parts = append(parts, fmt.Sprintf("%s=%d", p, e.Counts[p]))
	}
	return "mixed stack profiles detected in overlapping labels/results (" +
		strings.Join(parts, ", ") + "); specify --stack or disable strict mode"
}

// ResolveStack picks the stack profile a recalibration runs on. An empty
// result means no filtering.
//
//   - all: no filtering.
//   - auto: the single profile in counts; with several profiles, a
//     *StackConflictError when strict, else the most frequent one (ties go
//     to the lexically first name).
//   - a profile name: that profile.
func ResolveStack(selector string, counts map[stack.Profile]int, strict bool) (stack.Profile, error) {
	sel, err := stack.ParseSelector(selector)
	if err != nil {
		return "", fmt.Errorf("%w '%s'. Allowed: %s", ErrUnsupportedStack, selector, strings.Join(stack.Choices(), ", "))
	}
	switch sel {
	case stack.All:
		return "", nil
	case stack.Auto:
		if len(counts) == 0 {
			return "", nil
		}
		names := stack.SortedNames(counts)
		if len(names) == 1 {
			return names[0], nil
		}
		if strict {
			cp := make(map[stack.Profile]int, len(counts))
			for k, v := range counts {
				cp[k] = v
			}
			return "", &StackConflictError{Counts: cp}
		}
		best := names[0]
		for _, n := range names[1:] {
			if counts[n] > counts[best] {
				best = n
			}
		}
		return best, nil
	}
	return stack.Profile(sel), nil
}

// countNames converts profile counts to plain string keys for publication.
func countNames(counts map[stack.Profile]int) map[string]int {
	out := make(map[string]int, len(counts))
	for p, n := range counts {
		out[string(p)] = n
	}
	return out
}
