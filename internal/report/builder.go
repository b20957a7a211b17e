package report

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/iago/analytics-audio-reports/internal/domain"
)

const maxBreakdownLines = 5

type metricLine struct {
	key   string
	label string
	unit  string
}

var sectionMetrics = map[domain.Category][]metricLine{
	domain.CategoryViews: {
		{key: "total_views", label: "Total views"},
		{key: "unique_viewers", label: "Unique viewers"},
		{key: "total_watch_time_seconds", label: "Total watch time", unit: "s"},
	},
	domain.CategoryErrors: {
		{key: "total_errors", label: "Total errors"},
		{key: "error_rate", label: "Error rate", unit: "%"},
	},
	domain.CategoryPerformance: {
		{key: "video_startup_time_ms", label: "Average startup time", unit: "ms"},
		{key: "rebuffer_percentage", label: "Rebuffering", unit: "%"},
		{key: "average_bitrate_kbps", label: "Average bitrate", unit: "kbps"},
	},
	domain.CategoryEngagement: {
		{key: "average_view_duration_seconds", label: "Average view duration", unit: "s"},
		{key: "completion_rate", label: "Completion rate", unit: "%"},
	},
	domain.CategoryAssets: {
		{key: "total_row_count", label: "Assets in library"},
	},
}

var sectionTitles = map[domain.Category]string{
	domain.CategoryViews:       "Views",
	domain.CategoryErrors:      "Playback errors",
	domain.CategoryPerformance: "Streaming performance",
	domain.CategoryEngagement:  "Engagement",
	domain.CategoryAssets:      "Assets",
}

// Build renders a snapshot into report text. It never returns an empty
// string: a snapshot without any successful category yields fallback text.
func Build(snapshot domain.ReportSnapshot) string {
	var b strings.Builder
	b.WriteString("# Video analytics report\n")
	fmt.Fprintf(&b, "Period: %s to %s\n",
		snapshot.TimeRange.StartTime().Format("2006-01-02"),
		snapshot.TimeRange.EndTime().Format("2006-01-02"))

	if snapshot.Succeeded() == 0 {
		b.WriteString("\nAnalytics data could not be retrieved for this period. ")
		b.WriteString("None of the requested categories returned data, so no figures are available. ")
		b.WriteString("Please try again in a few minutes.\n")
		return b.String()
	}

	var unavailable []string
	for _, result := range snapshot.Results {
		if !result.OK() {
			unavailable = append(unavailable, string(result.Category))
			continue
		}
		writeSection(&b, result)
	}

	if len(unavailable) > 0 {
		b.WriteString("\n## Unavailable data\n")
		fmt.Fprintf(&b, "- Data for %s could not be retrieved.\n", strings.Join(unavailable, ", "))
	}

	b.WriteString("\n")
	b.WriteString(closingLine(snapshot))
	b.WriteString("\n")
	return b.String()
}

func writeSection(b *strings.Builder, result domain.CategoryResult) {
	title := sectionTitles[result.Category]
	if title == "" {
		title = string(result.Category)
	}
	fmt.Fprintf(b, "\n## %s\n", title)

	for _, line := range sectionMetrics[result.Category] {
		value, ok := result.Payload.Metric(line.key)
		if !ok {
			continue
		}
		fmt.Fprintf(b, "- %s: %s%s\n", line.label, formatNumber(value), line.unit)
	}

	if result.Category == domain.CategoryErrors {
		if total, _ := result.Payload.Metric("total_errors"); total == 0 {
			b.WriteString("No playback errors were recorded in this period.\n")
			return
		}
		if len(result.Payload.Breakdown) > 0 {
			b.WriteString("Top errors:\n")
		}
	}

	for i, item := range result.Payload.Breakdown {
		if i == maxBreakdownLines {
			fmt.Fprintf(b, "- and %d more\n", len(result.Payload.Breakdown)-maxBreakdownLines)
			break
		}
		fmt.Fprintf(b, "- %s: %s\n", item.Label, formatNumber(item.Value))
	}
}

func closingLine(snapshot domain.ReportSnapshot) string {
	errorsResult, ok := snapshot.Result(domain.CategoryErrors)
	if !ok || !errorsResult.OK() {
		return "Overall, review the figures above for changes against the previous period."
	}
	total, _ := errorsResult.Payload.Metric("total_errors")
	if total == 0 {
		return "Overall, playback was healthy with no errors recorded. Keep the current configuration and continue monitoring."
	}
	if len(errorsResult.Payload.Breakdown) > 0 {
		return fmt.Sprintf("Recommendation: investigate %s first, since it is the most frequent error.",
			errorsResult.Payload.Breakdown[0].Label)
	}
	return "Recommendation: investigate the recorded playback errors to improve viewer experience."
}

func formatNumber(value float64) string {
	if value == math.Trunc(value) && math.Abs(value) < 1e15 {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', 1, 64)
}
