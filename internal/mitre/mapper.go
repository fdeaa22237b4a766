package mitre

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/threatline/threatline/internal/analysis"
)

// techniqueIDPattern matches ATT&CK technique ids (T#### or T####.###)
// anywhere in free text, case-insensitively.
var techniqueIDPattern = regexp.MustCompile(`(?i)\bT\d{4}(?:\.\d{3})?\b`)

// Mapper accumulates technique and tactic statistics for one analysis.
// Each Map call is independent; the reference table is read-only.
type Mapper struct {
	ref ReferenceData
}

// NewMapper creates a Mapper backed by the given reference data.
func NewMapper(ref ReferenceData) *Mapper {
	return &Mapper{ref: ref}
}

// accumulator carries the running state of one mapping pass.
type accumulator struct {
	techniques   map[string]*analysis.Technique
	techniqueSeq []string // discovery order of parent ids
	frequency    map[string]int
	tactics      map[string]*analysis.Tactic
	tacticSeq    []string
	tacticFreq   map[string]int
	seenEvidence map[string]map[string]bool // parent id to evidence text
	seenSubEvid  map[string]map[string]bool // sub id to evidence text
	registered   map[string]map[string]bool // tactic to parent ids counted
}

func newAccumulator() *accumulator {
	return &accumulator{
		techniques:   make(map[string]*analysis.Technique),
		frequency:    make(map[string]int),
		tactics:      make(map[string]*analysis.Tactic),
		tacticFreq:   make(map[string]int),
		seenEvidence: make(map[string]map[string]bool),
		seenSubEvid:  make(map[string]map[string]bool),
		registered:   make(map[string]map[string]bool),
	}
}

// Map processes all rule matches of one analysis into a technique/tactic
// mapping with summary statistics. Absence of any technique ids yields
// empty collections and overall score 0, never an error. Cancellation is
// observed between matches; a cancelled pass returns no partial result.
func (m *Mapper) Map(ctx context.Context, matches []analysis.RuleMatchResult) (*analysis.MITREResult, error) {
	acc := newAccumulator()

	for _, match := range matches {
		select {
		case <-ctx.Done():
			return nil, analysis.WrapError(analysis.KindCancelled, "mitre mapping cancelled", ctx.Err())
		default:
		}
		m.processMatch(acc, match)
	}

	return m.finalize(acc), nil
}

// processMatch extracts every technique id occurrence from one match and
// folds it into the accumulator.
func (m *Mapper) processMatch(acc *accumulator, match analysis.RuleMatchResult) {
	ids := make([]string, 0, len(match.Techniques))
	ids = append(ids, match.Techniques...)

	for _, meta := range match.Metadata {
		ids = append(ids, techniqueIDPattern.FindAllString(meta.Value.Render(), -1)...)
	}
	for _, detail := range match.Matches {
		ids = append(ids, techniqueIDPattern.FindAllString(detail.Content, -1)...)
		ids = append(ids, techniqueIDPattern.FindAllString(detail.Context, -1)...)
	}

	evidence := evidenceText(match)
	for _, raw := range ids {
		// Attached ids may carry tag prefixes ("attack.t1059"); extract
		// the bare technique id rather than trusting the whole string.
		id := techniqueIDPattern.FindString(strings.ToUpper(strings.TrimSpace(raw)))
		if id == "" {
			continue
		}
		m.recordOccurrence(acc, id, match, evidence)
	}
}

// evidenceText formats the evidence string for one match occurrence. Only
// the first match detail's content is used.
func evidenceText(match analysis.RuleMatchResult) string {
	content := ""
	if len(match.Matches) > 0 {
		content = match.Matches[0].Content
	}
	return fmt.Sprintf("Rule '%s' matched: %s", match.RuleName, content)
}

// recordOccurrence updates the parent technique, its sub-technique entry
// when the id carries a suffix, and every associated tactic.
func (m *Mapper) recordOccurrence(acc *accumulator, id string, match analysis.RuleMatchResult, evidence string) {
	parentID := id
	if dot := strings.Index(id, "."); dot >= 0 {
		parentID = id[:dot]
	}

	acc.frequency[parentID]++

	tech, ok := acc.techniques[parentID]
	if !ok {
		tech = &analysis.Technique{
			ID:      parentID,
			Name:    m.ref.TechniqueName(parentID),
			Tactics: m.ref.TacticsFor(parentID),
		}
		acc.techniques[parentID] = tech
		acc.techniqueSeq = append(acc.techniqueSeq, parentID)
		acc.seenEvidence[parentID] = make(map[string]bool)
	}
	tech.MatchCount++
	if match.Confidence > tech.Confidence {
		tech.Confidence = match.Confidence
	}
	if !acc.seenEvidence[parentID][evidence] {
		acc.seenEvidence[parentID][evidence] = true
		tech.Evidence = append(tech.Evidence, evidence)
	}

	if parentID != id {
		m.recordSubTechnique(acc, tech, id, match, evidence)
	}

	for _, tacticName := range tech.Tactics {
		acc.tacticFreq[tacticName]++
		tac, ok := acc.tactics[tacticName]
		if !ok {
			tac = &analysis.Tactic{ID: m.ref.TacticID(tacticName), Name: tacticName}
			acc.tactics[tacticName] = tac
			acc.tacticSeq = append(acc.tacticSeq, tacticName)
			acc.registered[tacticName] = make(map[string]bool)
		}
		if !acc.registered[tacticName][parentID] {
			acc.registered[tacticName][parentID] = true
			tac.Techniques = append(tac.Techniques, parentID)
			tac.TechniqueCount++
		}
	}
}

func (m *Mapper) recordSubTechnique(acc *accumulator, tech *analysis.Technique, id string, match analysis.RuleMatchResult, evidence string) {
	var sub *analysis.SubTechnique
	for i := range tech.SubTechniques {
		if tech.SubTechniques[i].ID == id {
			sub = &tech.SubTechniques[i]
			break
		}
	}
	if sub == nil {
		tech.SubTechniques = append(tech.SubTechniques, analysis.SubTechnique{
			ID:   id,
			Name: m.ref.TechniqueName(id),
		})
		sub = &tech.SubTechniques[len(tech.SubTechniques)-1]
		acc.seenSubEvid[id] = make(map[string]bool)
	}
	sub.MatchCount++
	if match.Confidence > sub.Confidence {
		sub.Confidence = match.Confidence
	}
	if !acc.seenSubEvid[id][evidence] {
		acc.seenSubEvid[id][evidence] = true
		sub.Evidence = append(sub.Evidence, evidence)
	}
}

// finalize runs the statistics pass over the accumulated state.
func (m *Mapper) finalize(acc *accumulator) *analysis.MITREResult {
	result := &analysis.MITREResult{}

	for _, id := range acc.techniqueSeq {
		result.Techniques = append(result.Techniques, *acc.techniques[id])
	}
	for _, name := range acc.tacticSeq {
		result.Tactics = append(result.Tactics, *acc.tactics[name])
	}

	result.TacticStats = m.tacticStats(acc)
	result.MostCommonTechniques = m.mostCommon(acc)
	result.HighConfidence = highConfidence(result.Techniques)
	result.OverallScore = m.overallScore(result.Techniques)
	return result
}

// tacticStats computes per-tactic technique counts and the average
// confidence across the techniques registered under each tactic.
func (m *Mapper) tacticStats(acc *accumulator) []analysis.TacticStat {
	var stats []analysis.TacticStat
	for _, name := range acc.tacticSeq {
		tac := acc.tactics[name]
		var sum float64
		for _, techID := range tac.Techniques {
			sum += acc.techniques[techID].Confidence
		}
		avg := 0.0
		if len(tac.Techniques) > 0 {
			avg = sum / float64(len(tac.Techniques))
		}
		stats = append(stats, analysis.TacticStat{
			Name:           name,
			TechniqueCount: tac.TechniqueCount,
			AvgConfidence:  avg,
		})
	}
	return stats
}

// mostCommon returns the top five techniques by occurrence frequency.
// Ties keep original discovery order.
func (m *Mapper) mostCommon(acc *accumulator) []analysis.TechniqueFrequency {
	ranked := make([]analysis.TechniqueFrequency, 0, len(acc.techniqueSeq))
	for _, id := range acc.techniqueSeq {
		ranked = append(ranked, analysis.TechniqueFrequency{
			ID:    id,
			Name:  acc.techniques[id].Name,
			Count: acc.frequency[id],
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	if len(ranked) > 5 {
		ranked = ranked[:5]
	}
	return ranked
}

// highConfidence returns up to five techniques with confidence ≥0.8,
// highest confidence first; ties keep discovery order.
func highConfidence(techniques []analysis.Technique) []analysis.Technique {
	var picked []analysis.Technique
	for _, t := range techniques {
		if t.Confidence >= 0.8 {
			picked = append(picked, t)
		}
	}
	sort.SliceStable(picked, func(i, j int) bool {
		return picked[i].Confidence > picked[j].Confidence
	})
	if len(picked) > 5 {
		picked = picked[:5]
	}
	return picked
}

// overallScore computes the weighted tactic-severity score. Each
// technique weighs matchCount × confidence; its severity is the average
// base severity of its associated tactics. Clamped to [0,100].
func (m *Mapper) overallScore(techniques []analysis.Technique) int {
	var weightedSum, weightTotal float64
	for _, t := range techniques {
		weight := float64(t.MatchCount) * t.Confidence
		if weight <= 0 {
			continue
		}
		weightedSum += weight * m.tacticSeverity(t.Tactics)
		weightTotal += weight
	}
	if weightTotal == 0 {
		return 0
	}
	score := int(weightedSum / weightTotal)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// tacticSeverity averages the base severities of the given tactics. A
// technique with no known tactics falls back to the default severity.
func (m *Mapper) tacticSeverity(tactics []string) float64 {
	if len(tactics) == 0 {
		return tacticSeverityDefault
	}
	sum := 0
	for _, name := range tactics {
		sum += m.ref.TacticSeverity(name)
	}
	return float64(sum) / float64(len(tactics))
}
