// Package rules runs Sigma detection rules against extracted log events.
// Matching semantics live in the sigma-go evaluator; this package adapts
// its results into rule match records.
package rules

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	sigmalib "github.com/bradleyjkemp/sigma-go"
	"github.com/bradleyjkemp/sigma-go/evaluator"
	"go.uber.org/zap"

	"github.com/threatline/threatline/internal/analysis"
)

//go:embed rules
var embeddedRules embed.FS

// attackTag extracts a technique id from a Sigma "attack.tXXXX" tag.
var attackTag = regexp.MustCompile(`(?i)^attack\.(t\d{4}(?:\.\d{3})?)$`)

// Engine evaluates a loaded Sigma rule set. The set is swapped atomically
// on reload; in-flight Match calls keep the snapshot they started with.
type Engine struct {
	source fs.FS
	log    *zap.Logger

	mu    sync.RWMutex
	rules []evaluator.RuleEvaluator
}

// NewDefault creates an Engine loaded with the built-in embedded rules.
func NewDefault(log *zap.Logger) (*Engine, error) {
	sub, err := fs.Sub(embeddedRules, "rules")
	if err != nil {
		return nil, err
	}
	return New(sub, log)
}

// NewFromDir creates an Engine loading rules from a directory.
func NewFromDir(dir string, log *zap.Logger) (*Engine, error) {
	return New(os.DirFS(dir), log)
}

// New creates an Engine by loading all .yml/.yaml Sigma rules from the
// given FS.
func New(source fs.FS, log *zap.Logger) (*Engine, error) {
	e := &Engine{source: source, log: log}
	if err := e.load(); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload re-reads the rule source and swaps the loaded set. Matches
// already computed are unaffected.
func (e *Engine) Reload(_ context.Context) error {
	return e.load()
}

func (e *Engine) load() error {
	var loaded []evaluator.RuleEvaluator

	err := fs.WalkDir(e.source, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := filepath.Ext(path)
		if ext != ".yml" && ext != ".yaml" {
			return nil
		}
		data, err := fs.ReadFile(e.source, path)
		if err != nil {
			return err
		}
		rule, err := sigmalib.ParseRule(data)
		if err != nil {
			return fmt.Errorf("parse rule %s: %w", path, err)
		}
		loaded = append(loaded, *evaluator.ForRule(rule))
		return nil
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.rules = loaded
	e.mu.Unlock()
	e.log.Info("sigma rules loaded", zap.Int("count", len(loaded)))
	return nil
}

// RuleCount returns the size of the loaded rule set.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Match evaluates every loaded rule against every event. One
// RuleMatchResult is produced per matching rule, with one MatchDetail
// per matching event.
func (e *Engine) Match(ctx context.Context, events []analysis.LogEvent, raw []byte) ([]analysis.RuleMatchResult, error) {
	e.mu.RLock()
	snapshot := e.rules
	e.mu.RUnlock()

	offsets := lineOffsets(raw)
	var results []analysis.RuleMatchResult

	for _, ev := range snapshot {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var details []analysis.MatchDetail
		confidence := statusConfidence(ev.Rule.Status)

		for _, event := range events {
			res, err := ev.Matches(ctx, eventMap(event))
			if err != nil || !res.Match {
				continue
			}
			details = append(details, matchDetail(event, offsets, confidence))
		}
		if len(details) == 0 {
			continue
		}
		results = append(results, analysis.RuleMatchResult{
			RuleID:     ruleID(ev.Rule),
			RuleName:   ev.Rule.Title,
			RuleType:   "sigma",
			Severity:   levelSeverity(ev.Rule.Level),
			MatchCount: len(details),
			Confidence: confidence,
			Matches:    details,
			Techniques: techniquesFromTags(ev.Rule.Tags),
			Metadata:   ruleMetadata(ev.Rule),
		})
	}
	return results, nil
}

// eventMap flattens a LogEvent for the sigma evaluator: field values
// first, scalar members on top.
func eventMap(ev analysis.LogEvent) map[string]interface{} {
	m := ev.Fields.Map()
	m["message"] = ev.Message
	m["level"] = ev.Level
	m["source"] = ev.Source
	if !ev.Timestamp.IsZero() {
		m["timestamp"] = ev.Timestamp
	}
	return m
}

func matchDetail(event analysis.LogEvent, offsets []int64, confidence float64) analysis.MatchDetail {
	detail := analysis.MatchDetail{
		Content:    event.Message,
		LineNumber: event.LineNumber,
		Context:    event.Raw,
		Fields:     event.Fields,
		Confidence: confidence,
	}
	if event.LineNumber >= 1 && event.LineNumber <= len(offsets) {
		detail.Offset = offsets[event.LineNumber-1]
	}
	if !event.Timestamp.IsZero() {
		ts := event.Timestamp
		detail.Timestamp = &ts
	}
	return detail
}

// lineOffsets returns the byte offset of each line start in raw.
func lineOffsets(raw []byte) []int64 {
	if len(raw) == 0 {
		return nil
	}
	offsets := []int64{0}
	for i, b := range raw {
		if b == '\n' && i+1 < len(raw) {
			offsets = append(offsets, int64(i+1))
		}
	}
	return offsets
}

func ruleID(rule sigmalib.Rule) string {
	if rule.ID != "" {
		return rule.ID
	}
	return strings.ToLower(strings.ReplaceAll(rule.Title, " ", "_"))
}

// levelSeverity maps a Sigma level to a match severity.
func levelSeverity(level string) analysis.Severity {
	switch strings.ToLower(level) {
	case "critical":
		return analysis.SeverityCritical
	case "high":
		return analysis.SeverityHigh
	case "medium":
		return analysis.SeverityMedium
	default: // low, informational, unset
		return analysis.SeverityLow
	}
}

// statusConfidence derives match confidence from rule maturity.
func statusConfidence(status string) float64 {
	switch strings.ToLower(status) {
	case "stable":
		return 0.9
	case "experimental", "test":
		return 0.7
	default:
		return 0.8
	}
}

// techniquesFromTags extracts normalized technique ids from Sigma attack
// tags, e.g. "attack.t1059.001" → "T1059.001".
func techniquesFromTags(tags []string) []string {
	var ids []string
	for _, tag := range tags {
		m := attackTag.FindStringSubmatch(strings.TrimSpace(tag))
		if m == nil {
			continue
		}
		ids = append(ids, strings.ToUpper(m[1]))
	}
	return ids
}

func ruleMetadata(rule sigmalib.Rule) analysis.Fields {
	var fields analysis.Fields
	if rule.Description != "" {
		fields = append(fields, analysis.Field{Key: "description", Value: analysis.String(rule.Description)})
	}
	if rule.Author != "" {
		fields = append(fields, analysis.Field{Key: "author", Value: analysis.String(rule.Author)})
	}
	if rule.Level != "" {
		fields = append(fields, analysis.Field{Key: "level", Value: analysis.String(rule.Level)})
	}
	return fields
}
