package report

import (
	"fmt"
	"strings"

	"github.com/ergon73/portfolio-fit/internal/calibrate"
	"github.com/ergon73/portfolio-fit/internal/tune"
)

// topPairs is how many disagreements the calibration text lists.
const topPairs = 20

// StackContext describes the stack filter a calibration ran under. The zero
// value renders nothing.
type StackContext struct {
	Requested string
	Resolved  string
	Breakdown map[string]calibrate.StackStats
}

// Calibration renders a calibration report as text.
func Calibration(rep calibrate.Report, sc StackContext) string {
	var b strings.Builder
	Header(&b, "SCORING CALIBRATION REPORT")
	fmt.Fprintf(&b, "Generated: %s\n", rep.GeneratedAt)
	fmt.Fprintf(&b, "Labels source: %s\n", rep.LabelsSource)
	fmt.Fprintf(&b, "Results source: %s\n", rep.ResultsSource)
	if sc.Requested != "" {
		fmt.Fprintf(&b, "Requested stack: %s\n", sc.Requested)
		fmt.Fprintf(&b, "Resolved stack: %s\n", sc.Resolved)
	}
	fmt.Fprintf(&b, "Sample size: %d\n", rep.SampleSize)
	fmt.Fprintf(&b, "Quality band: %s\n\n", rep.Band)

	b.WriteString("Metrics:\n")
	fmt.Fprintf(&b, "  Spearman: %s\n", Num(rep.Metrics.Spearman))
	fmt.Fprintf(&b, "  Pearson: %s\n", Num(rep.Metrics.Pearson))
	fmt.Fprintf(&b, "  MAE: %s\n\n", Num(rep.Metrics.MAE))

	if len(rep.Warnings) > 0 {
		b.WriteString("Warnings:\n")
		for _, w := range rep.Warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
		b.WriteString("\n")
	}

	if len(sc.Breakdown) > 0 {
		b.WriteString("Stack profile breakdown:\n")
		b.WriteString(StackBreakdown(sc.Breakdown))
		b.WriteString("\n")
	}

	b.WriteString("Top sample deltas:\n")
	for i, p := range rep.Pairs {
		if i == topPairs {
			break
		}
		fmt.Fprintf(&b, "  - %s: expert=%g model=%g delta=%g\n", p.Repo, p.Expert, p.Model, p.Delta)
	}
	return b.String()
}

// Tuning renders a weight proposal as text.
func Tuning(rep tune.Report) string {
	var b strings.Builder
	Header(&b, "SCORING WEIGHT TUNING")
	fmt.Fprintf(&b, "Sample size: %d\n", rep.SampleSize)
	fmt.Fprintf(&b, "Minimum samples per criterion: %d\n", rep.MinSamples)
	fmt.Fprintf(&b, "Median spearman used: %g\n\n", rep.MedianSpearman)
	b.WriteString(TuningRows(rep.Rows))
	return b.String()
}
