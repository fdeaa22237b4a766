// Package score aggregates rule matches into a bounded 0–100 threat score.
package score

import "github.com/threatline/threatline/internal/analysis"

// severityBase maps a match severity to its base contribution.
var severityBase = map[analysis.Severity]float64{
	analysis.SeverityCritical: 100,
	analysis.SeverityHigh:     75,
	analysis.SeverityMedium:   50,
	analysis.SeverityLow:      25,
}

const unknownBase = 10

// Aggregate computes the threat score and severity label for a set of rule
// matches. Each result contributes base × matchCount × confidence; the
// total is the weighted sum divided by the total match count, truncated
// and clamped to [0,100]. Empty input yields (0, low). Pure and
// deterministic: no I/O, no error paths.
func Aggregate(matches []analysis.RuleMatchResult) (int, analysis.Severity) {
	if len(matches) == 0 {
		return 0, analysis.SeverityLow
	}

	var weighted float64
	totalCount := 0
	for _, m := range matches {
		base, ok := severityBase[m.Severity]
		if !ok {
			base = unknownBase
		}
		weighted += base * float64(m.MatchCount) * m.Confidence
		totalCount += m.MatchCount
	}

	if totalCount < 1 {
		totalCount = 1
	}
	score := int(weighted / float64(totalCount))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, Label(score)
}

// Label maps a 0–100 score to its severity label.
func Label(score int) analysis.Severity {
	switch {
	case score >= 80:
		return analysis.SeverityCritical
	case score >= 60:
		return analysis.SeverityHigh
	case score >= 30:
		return analysis.SeverityMedium
	default:
		return analysis.SeverityLow
	}
}
