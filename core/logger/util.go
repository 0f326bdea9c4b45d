package logger

import (
	"strings"
	"time"
)

// Status folds an error into the two-valued status attribute used across
// all event summaries.
func Status(err error) string {
	if err == nil {
		return "ok"
	}
	return "fail"
}

// RoundMS normalizes a duration to millisecond precision so log lines
// stay comparable across components.
func RoundMS(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d.Round(time.Millisecond)
}

// Took is shorthand for the rounded elapsed time since start.
func Took(start time.Time) time.Duration {
	return RoundMS(time.Since(start))
}

// SummarizeStrings renders at most limit values as a comma list. The
// second return reports whether anything was cut off.
func SummarizeStrings(values []string, limit int) (summary string, truncated bool) {
	switch {
	case limit <= 0:
		return "", len(values) > 0
	case len(values) > limit:
		return strings.Join(values[:limit], ", "), true
	default:
		return strings.Join(values, ", "), false
	}
}
