package analysis

// SubTechnique is a nested ATT&CK sub-technique entry. Its id is always
// the parent technique id plus a ".NNN" suffix.
type SubTechnique struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Confidence float64  `json:"confidence"`
	MatchCount int      `json:"match_count"`
	Evidence   []string `json:"evidence,omitempty"`
}

// Technique is an ATT&CK technique accumulated across all matches of one
// analysis. Evidence strings are deduplicated.
type Technique struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Tactics       []string       `json:"tactics,omitempty"`
	Confidence    float64        `json:"confidence"`
	MatchCount    int            `json:"match_count"`
	Evidence      []string       `json:"evidence,omitempty"`
	SubTechniques []SubTechnique `json:"sub_techniques,omitempty"`
}

// Tactic groups the techniques registered under one ATT&CK tactic. A
// technique id counts once, on first registration.
type Tactic struct {
	ID             string   `json:"id,omitempty"`
	Name           string   `json:"name"`
	Techniques     []string `json:"techniques,omitempty"`
	TechniqueCount int      `json:"technique_count"`
}

// TechniqueFrequency is one entry of the most-common-techniques ranking.
type TechniqueFrequency struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TacticStat carries per-tactic statistics from the mapping pass.
type TacticStat struct {
	Name           string  `json:"name"`
	TechniqueCount int     `json:"technique_count"`
	AvgConfidence  float64 `json:"avg_confidence"`
}

// MITREResult is the full technique/tactic mapping for one analysis.
// Techniques and Tactics preserve discovery order.
type MITREResult struct {
	Techniques           []Technique          `json:"techniques,omitempty"`
	Tactics              []Tactic             `json:"tactics,omitempty"`
	MostCommonTechniques []TechniqueFrequency `json:"most_common_techniques,omitempty"`
	HighConfidence       []Technique          `json:"high_confidence,omitempty"`
	TacticStats          []TacticStat         `json:"tactic_stats,omitempty"`
	OverallScore         int                  `json:"overall_score"` // [0,100]
}
