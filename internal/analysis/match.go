package analysis

import "time"

// MatchDetail is one occurrence of a rule match inside the artifact.
type MatchDetail struct {
	Content    string     `json:"content"`
	Offset     int64      `json:"offset"`
	LineNumber int        `json:"line_number"`
	Context    string     `json:"context,omitempty"`
	Fields     Fields     `json:"fields,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	Confidence float64    `json:"confidence"` // [0,1]
}

// RuleMatchResult is the outcome of one detection rule that matched.
// Produced by the rule engine; one per matching rule. MatchCount is
// always ≥1 and Matches holds one detail per occurrence.
type RuleMatchResult struct {
	RuleID     string        `json:"rule_id"`
	RuleName   string        `json:"rule_name"`
	RuleType   string        `json:"rule_type,omitempty"`
	Severity   Severity      `json:"severity"`
	MatchCount int           `json:"match_count"`
	Confidence float64       `json:"confidence"` // [0,1]
	Matches    []MatchDetail `json:"matches,omitempty"`
	Techniques []string      `json:"techniques,omitempty"` // MITRE technique ids
	Metadata   Fields        `json:"metadata,omitempty"`
}
