package logparse

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/threatline/threatline/internal/analysis"
)

// rfc3339Token finds an RFC3339-style timestamp anywhere in a line.
var rfc3339Token = regexp.MustCompile(
	`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)

// PlainTextParser is the fallback: one event per non-empty line. It
// refuses content that looks binary so unsupported formats surface as
// UnsupportedFormat instead of garbage events.
type PlainTextParser struct{}

func (p *PlainTextParser) ID() string { return "text" }

// Matches accepts anything that is not binary. Registered last.
func (p *PlainTextParser) Matches(_ string, content []byte) bool {
	head := content
	if len(head) > 1024 {
		head = head[:1024]
	}
	return !bytes.ContainsRune(head, 0)
}

// Parse emits one event per non-empty line, inferring level and
// timestamp from the line text where possible.
func (p *PlainTextParser) Parse(_ context.Context, content []byte) analysis.ParseResult {
	var events []analysis.LogEvent

	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		ev := analysis.LogEvent{
			Level:      inferLevel(line),
			Message:    strings.TrimSpace(line),
			LineNumber: lineNum,
			Raw:        line,
		}
		if token := rfc3339Token.FindString(line); token != "" {
			if ts, ok := parseTimestamp(strings.Replace(token, " ", "T", 1)); ok {
				ev.Timestamp = ts
			}
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return analysis.ParseResult{ErrorMessage: fmt.Sprintf("scan input: %v", err)}
	}
	if len(events) == 0 {
		return analysis.ParseResult{ErrorMessage: "no log lines found"}
	}
	return analysis.ParseResult{Events: events, OK: true}
}
