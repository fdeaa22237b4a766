// Package analysis defines the aggregate produced by one evidence analysis
// run and the value types flowing between pipeline phases.
package analysis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an Analysis.
// Transitions only move forward: pending → processing → {completed, failed, cancelled}.
type Status int

const (
	StatusPending Status = iota
	StatusProcessing
	StatusCompleted
	StatusFailed
	StatusCancelled
)

// String returns the wire label for the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseStatus converts a wire label back to a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "pending":
		return StatusPending, nil
	case "processing":
		return StatusProcessing, nil
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	case "cancelled":
		return StatusCancelled, nil
	default:
		return 0, fmt.Errorf("unknown status %q", s)
	}
}

// MarshalJSON encodes the status as its string label.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status from its string label.
func (s *Status) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return err
	}
	parsed, err := ParseStatus(label)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Severity classifies rule matches and timeline events.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Statistics summarizes one completed analysis for quick display.
type Statistics struct {
	EventCount     int            `json:"event_count"`
	MatchCount     int            `json:"match_count"`
	SeverityCounts map[string]int `json:"severity_counts,omitempty"`
}

// Analysis is the aggregate root for one evidence artifact run. It is
// created once at pipeline start, mutated in place by each phase, and
// treated as immutable once Status leaves processing.
type Analysis struct {
	ID       uuid.UUID `json:"id"`
	UploadID string    `json:"upload_id"`

	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	FileType string `json:"file_type"`
	SHA256   string `json:"sha256"`

	Status       Status   `json:"status"`
	Progress     int      `json:"progress"` // 0 to 100
	ThreatScore  int      `json:"threat_score"`
	Severity     Severity `json:"severity"`
	Summary      string   `json:"summary,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`

	RuleMatches []RuleMatchResult `json:"rule_matches,omitempty"`
	Timeline    *TimelineResult   `json:"timeline,omitempty"`
	MITRE       *MITREResult      `json:"mitre,omitempty"`
	Statistics  Statistics        `json:"statistics"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New creates a pending Analysis for the given upload.
func New(uploadID string) *Analysis {
	return &Analysis{
		ID:        uuid.New(),
		UploadID:  uploadID,
		Status:    StatusPending,
		Severity:  SeverityLow,
		StartedAt: time.Now().UTC(),
	}
}

// validTransitions lists the forward edges of the status machine.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

// TransitionTo moves the analysis to the next status. Backward moves and
// transitions out of a terminal status are rejected.
func (a *Analysis) TransitionTo(next Status) error {
	for _, allowed := range validTransitions[a.Status] {
		if next == allowed {
			a.Status = next
			return nil
		}
	}
	return fmt.Errorf("invalid status transition %s → %s", a.Status, next)
}

// Begin marks the analysis as processing.
func (a *Analysis) Begin() error {
	return a.TransitionTo(StatusProcessing)
}

// Complete finalizes a successful run.
func (a *Analysis) Complete() error {
	if err := a.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	a.CompletedAt = &now
	a.Progress = 100
	return nil
}

// Fail finalizes a failed run with the given message. The record stays
// well-formed: everything attached before the failure is kept.
func (a *Analysis) Fail(message string) {
	if a.Status.Terminal() {
		return
	}
	a.Status = StatusFailed
	a.ErrorMessage = message
	now := time.Now().UTC()
	a.CompletedAt = &now
}

// Cancel finalizes a cancelled run. Distinct from failure: no error
// message is recorded and summary generation is skipped by the caller.
func (a *Analysis) Cancel() {
	if a.Status.Terminal() {
		return
	}
	a.Status = StatusCancelled
	now := time.Now().UTC()
	a.CompletedAt = &now
}

// Completion is the payload pushed to the notifier when a run finalizes.
type Completion struct {
	AnalysisID  uuid.UUID  `json:"analysis_id"`
	FileName    string     `json:"file_name"`
	SHA256      string     `json:"sha256"`
	Status      Status     `json:"status"`
	ThreatScore int        `json:"threat_score"`
	Severity    Severity   `json:"severity"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	MatchCount  int        `json:"match_count"`
}
