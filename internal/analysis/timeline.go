package analysis

import (
	"time"

	"github.com/google/uuid"
)

// TimelineEventType discriminates the two timeline event sources.
type TimelineEventType string

const (
	TimelineLogEvent  TimelineEventType = "log_event"
	TimelineRuleMatch TimelineEventType = "rule_match"
)

// TimelineEvent is one chronologically placed record derived from either
// a parsed log line or a rule match occurrence.
type TimelineEvent struct {
	ID          uuid.UUID         `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Type        TimelineEventType `json:"type"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Severity    Severity          `json:"severity"`
	Source      string            `json:"source,omitempty"`
	Category    string            `json:"category,omitempty"`
	Fields      Fields            `json:"fields,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Techniques  []string          `json:"techniques,omitempty"` // related MITRE ids
	Confidence  float64           `json:"confidence"`
	Anomalous   bool              `json:"anomalous"`
}

// TagCount is one entry of the most-frequent-tags ranking.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// TimelineStats summarizes a merged timeline.
type TimelineStats struct {
	TotalEvents    int            `json:"total_events"`
	FirstEvent     *time.Time     `json:"first_event,omitempty"`
	LastEvent      *time.Time     `json:"last_event,omitempty"`
	TimeRange      string         `json:"time_range,omitempty"`
	ByType         map[string]int `json:"by_type,omitempty"`
	BySeverity     map[string]int `json:"by_severity,omitempty"`
	BySource       map[string]int `json:"by_source,omitempty"`
	ByCategory     map[string]int `json:"by_category,omitempty"`
	ByHour         map[string]int `json:"by_hour,omitempty"`
	TopTags        []TagCount     `json:"top_tags,omitempty"`
	AnomalousCount int            `json:"anomalous_count"`
}

// TimelineResult is the sorted, annotated timeline plus its statistics.
type TimelineResult struct {
	Events []TimelineEvent `json:"events,omitempty"`
	Stats  TimelineStats   `json:"stats"`
}
