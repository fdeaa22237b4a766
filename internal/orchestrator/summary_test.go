package orchestrator

import (
	"strings"
	"testing"

	"github.com/threatline/threatline/internal/analysis"
)

func TestBuildSummaryNoMatches(t *testing.T) {
	a := analysis.New("up-1")
	a.FileName = "clean.log"
	a.FileSize = 100
	a.SHA256 = "deadbeef"
	a.Statistics.EventCount = 4

	s := buildSummary(a)
	if !strings.Contains(s, "clean.log") || !strings.Contains(s, "4 events") {
		t.Errorf("summary = %q", s)
	}
	if !strings.Contains(s, "No detection rules matched") {
		t.Errorf("summary = %q", s)
	}
	if strings.Contains(s, "Threat score") {
		t.Errorf("clean summary should omit threat score: %q", s)
	}
}

func TestBuildSummaryWithBreakdown(t *testing.T) {
	a := analysis.New("up-1")
	a.FileName = "auth.log"
	a.FileSize = 2048
	a.SHA256 = "cafe"
	a.ThreatScore = 82
	a.Severity = analysis.SeverityCritical
	a.Statistics = analysis.Statistics{
		EventCount: 20,
		MatchCount: 3,
		SeverityCounts: map[string]int{
			"critical": 1,
			"low":      2,
		},
	}

	s := buildSummary(a)
	if !strings.Contains(s, "3 rule matches") {
		t.Errorf("summary = %q", s)
	}
	// Breakdown follows severity order, highest first.
	if !strings.Contains(s, "Matches by severity: 1 critical, 2 low.") {
		t.Errorf("summary = %q", s)
	}
	if !strings.Contains(s, "Threat score 82 (critical)") {
		t.Errorf("summary = %q", s)
	}
}
