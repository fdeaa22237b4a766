package analysis

import "time"

// LogEvent is one extracted log record. Produced by a parser; immutable
// once produced.
type LogEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	Level      string    `json:"level,omitempty"`
	Source     string    `json:"source,omitempty"`
	Message    string    `json:"message"`
	LineNumber int       `json:"line_number"`
	Raw        string    `json:"raw"`
	Fields     Fields    `json:"fields,omitempty"`
}

// ParseResult is what invoking a parser handle returns. Failure is a
// reported condition, not a Go error: the pipeline turns OK=false into a
// ParseFailure with ErrorMessage.
type ParseResult struct {
	Events       []LogEvent
	OK           bool
	ErrorMessage string
}
