package orchestrator

import (
	"fmt"
	"strings"

	"github.com/threatline/threatline/internal/analysis"
)

// summarySeverityOrder fixes the display order of the severity breakdown.
var summarySeverityOrder = []analysis.Severity{
	analysis.SeverityCritical,
	analysis.SeverityHigh,
	analysis.SeverityMedium,
	analysis.SeverityLow,
}

// buildSummary renders the human-readable run summary: file identity,
// event count, and the match count broken down by severity.
func buildSummary(a *analysis.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyzed %s (%d bytes, sha256 %s): %d events, %d rule matches.",
		a.FileName, a.FileSize, a.SHA256, a.Statistics.EventCount, a.Statistics.MatchCount)

	if a.Statistics.MatchCount == 0 {
		b.WriteString(" No detection rules matched.")
		return b.String()
	}

	var parts []string
	for _, sev := range summarySeverityOrder {
		if n := a.Statistics.SeverityCounts[string(sev)]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}
	if len(parts) > 0 {
		fmt.Fprintf(&b, " Matches by severity: %s.", strings.Join(parts, ", "))
	}
	fmt.Fprintf(&b, " Threat score %d (%s).", a.ThreatScore, a.Severity)
	return b.String()
}
