package recalibrate

import (
	"fmt"
	"strings"

	"github.com/ergon73/portfolio-fit/internal/report"
)

// SummaryText renders a run summary.
func SummaryText(s Summary) string {
	var b strings.Builder
	report.Header(&b, "RECALIBRATION SUMMARY")
	fmt.Fprintf(&b, "Profile: %s\n", s.Profile)
	if s.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", s.RunID)
	}
	fmt.Fprintf(&b, "Generated at: %s\n", s.GeneratedAt)
	fmt.Fprintf(&b, "Results: %s\n", s.ResultsPath)
	fmt.Fprintf(&b, "Labels: %s\n", s.LabelsPath)
	fmt.Fprintf(&b, "Requested stack: %s\n", s.RequestedStack)
	fmt.Fprintf(&b, "Resolved stack: %s\n", s.ResolvedStack)
	fmt.Fprintf(&b, "Strict stack mode: %t\n\n", s.Strict)

	b.WriteString("Calibration metrics:\n")
	fmt.Fprintf(&b, "  sample_size: %d\n", s.SampleSize)
	fmt.Fprintf(&b, "  quality_band: %s\n", s.Band)
	fmt.Fprintf(&b, "  spearman: %s\n", report.Num(s.Metrics.Spearman))
	fmt.Fprintf(&b, "  pearson: %s\n", report.Num(s.Metrics.Pearson))
	fmt.Fprintf(&b, "  mae: %s\n\n", report.Num(s.Metrics.MAE))

	b.WriteString("Overlap stack counts:\n")
	b.WriteString(report.Counts(s.OverlapCounts))
	b.WriteString("\nFiltered stack counts:\n")
	b.WriteString(report.Counts(s.FilteredCounts))
	b.WriteString("\n")

	if len(s.Breakdown) > 0 {
		b.WriteString("Stack profile breakdown:\n")
		b.WriteString(report.StackBreakdown(s.Breakdown))
		b.WriteString("\n")
	}

	b.WriteString("Artifacts:\n")
	for _, a := range []struct{ name, path string }{
		{"calibration_json", s.CalibrationJSON},
		{"calibration_txt", s.CalibrationTXT},
		{"tuning_patch_json", s.TuningPatch},
		{"profile_config", s.ProfileConfig},
		{"profile_stack_config", s.StackConfig},
		{"profile_root_config", s.RootConfig},
		{"applied_config_path", s.AppliedConfig},
		{"backup_config_path", s.BackupConfig},
	} {
		fmt.Fprintf(&b, "  %s: %s\n", a.name, orNone(a.path))
	}
	return b.String()
}

// OneLine is the summary printed after a run.
func OneLine(s Summary) string {
	return fmt.Sprintf("profile=%s | stack=%s | sample=%d | spearman=%s | pearson=%s | mae=%s",
		s.Profile, s.ResolvedStack, s.SampleSize,
		report.Num(s.Metrics.Spearman), report.Num(s.Metrics.Pearson), report.Num(s.Metrics.MAE))
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
