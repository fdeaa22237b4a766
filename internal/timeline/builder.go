// Package timeline merges log events and rule matches into a sorted,
// annotated timeline with summary statistics.
package timeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/threatline/threatline/internal/analysis"
)

// levelSeverity maps a log level to a timeline severity. Unrecognized
// levels fall back to info.
var levelSeverity = map[string]analysis.Severity{
	"critical": analysis.SeverityCritical,
	"fatal":    analysis.SeverityCritical,
	"error":    analysis.SeverityHigh,
	"warning":  analysis.SeverityMedium,
	"warn":     analysis.SeverityMedium,
	"info":     analysis.SeverityLow,
	"debug":    analysis.SeverityInfo,
	"trace":    analysis.SeverityInfo,
}

// Builder converts one analysis's events and matches into a timeline.
// The clock is injectable so the fallback timestamp rule is testable.
type Builder struct {
	now func() time.Time
}

// NewBuilder creates a Builder using the wall clock.
func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// NewBuilderAt creates a Builder with a fixed clock.
func NewBuilderAt(now func() time.Time) *Builder {
	return &Builder{now: now}
}

// Build merges log events and rule match occurrences into one timeline
// sorted ascending by timestamp. The sort is stable: on equal timestamps
// log events keep their position before rule matches. Cancellation is
// checked between conversions; a cancelled build returns no partial
// timeline.
func (b *Builder) Build(ctx context.Context, events []analysis.LogEvent, matches []analysis.RuleMatchResult) (*analysis.TimelineResult, error) {
	buildTime := b.now().UTC()
	merged := make([]analysis.TimelineEvent, 0, len(events)+len(matches))

	for _, ev := range events {
		if err := checkCancel(ctx); err != nil {
			return nil, err
		}
		merged = append(merged, fromLogEvent(ev))
	}

	for _, match := range matches {
		if err := checkCancel(ctx); err != nil {
			return nil, err
		}
		for _, detail := range match.Matches {
			merged = append(merged, fromMatchDetail(match, detail, buildTime))
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})

	return &analysis.TimelineResult{
		Events: merged,
		Stats:  computeStats(merged),
	}, nil
}

func checkCancel(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return analysis.WrapError(analysis.KindCancelled, "timeline build cancelled", ctx.Err())
	default:
		return nil
	}
}

// fromLogEvent emits one timeline event for a parsed log line.
func fromLogEvent(ev analysis.LogEvent) analysis.TimelineEvent {
	level := strings.ToLower(ev.Level)
	severity, ok := levelSeverity[level]
	if !ok {
		severity = analysis.SeverityInfo
	}

	tags := []string{"log"}
	if level != "" {
		tags = append(tags, level)
	}

	return analysis.TimelineEvent{
		ID:          uuid.New(),
		Timestamp:   ev.Timestamp,
		Type:        analysis.TimelineLogEvent,
		Title:       eventTitle(ev),
		Description: ev.Raw,
		Severity:    severity,
		Source:      ev.Source,
		Category:    "log",
		Fields:      ev.Fields,
		Tags:        tags,
		Confidence:  1.0,
	}
}

// fromMatchDetail emits one timeline event for a single rule match
// occurrence. When the detail carries no timestamp the build time is used.
func fromMatchDetail(match analysis.RuleMatchResult, detail analysis.MatchDetail, buildTime time.Time) analysis.TimelineEvent {
	ts := buildTime
	if detail.Timestamp != nil {
		ts = *detail.Timestamp
	}

	description := detail.Context
	if description == "" {
		description = detail.Content
	}

	tags := []string{"detection"}
	if match.RuleType != "" {
		tags = append(tags, match.RuleType)
	}

	return analysis.TimelineEvent{
		ID:          uuid.New(),
		Timestamp:   ts,
		Type:        analysis.TimelineRuleMatch,
		Title:       fmt.Sprintf("Rule match: %s", match.RuleName),
		Description: description,
		Severity:    analysis.Severity(strings.ToLower(string(match.Severity))),
		Source:      match.RuleID,
		Category:    "detection",
		Fields:      detail.Fields,
		Tags:        tags,
		Techniques:  match.Techniques,
		Confidence:  match.Confidence,
		Anomalous:   true,
	}
}

// eventTitle derives a short title from the first line of the message.
func eventTitle(ev analysis.LogEvent) string {
	title := ev.Message
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	if len(title) > 120 {
		title = title[:120]
	}
	if title == "" {
		title = fmt.Sprintf("Log line %d", ev.LineNumber)
	}
	return title
}
