package logparse

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/threatline/threatline/internal/analysis"
)

// syslogLine matches the classic BSD syslog line:
// "Jan  2 15:04:05 host prog[pid]: message".
var syslogLine = regexp.MustCompile(
	`^([A-Z][a-z]{2})\s+(\d{1,2})\s+(\d{2}:\d{2}:\d{2})\s+(\S+)\s+([^:\[\s]+)(?:\[(\d+)\])?:\s*(.*)$`)

// SyslogParser handles BSD-style syslog text.
type SyslogParser struct{}

func (p *SyslogParser) ID() string { return "syslog" }

// Matches requires the first non-empty line to look like a syslog record.
func (p *SyslogParser) Matches(_ string, content []byte) bool {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		return syslogLine.MatchString(line)
	}
	return false
}

// Parse converts each syslog line into a LogEvent. Lines that do not
// match the format are kept as raw events so nothing is dropped.
func (p *SyslogParser) Parse(_ context.Context, content []byte) analysis.ParseResult {
	var events []analysis.LogEvent
	year := time.Now().Year()

	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		events = append(events, syslogEvent(line, lineNum, year))
	}
	if err := scanner.Err(); err != nil {
		return analysis.ParseResult{ErrorMessage: fmt.Sprintf("scan input: %v", err)}
	}
	if len(events) == 0 {
		return analysis.ParseResult{ErrorMessage: "empty syslog input"}
	}
	return analysis.ParseResult{Events: events, OK: true}
}

func syslogEvent(line string, lineNum, year int) analysis.LogEvent {
	m := syslogLine.FindStringSubmatch(line)
	if m == nil {
		return analysis.LogEvent{
			Level:      "info",
			Message:    line,
			LineNumber: lineNum,
			Raw:        line,
		}
	}

	ts, err := time.Parse("Jan 2 15:04:05 2006",
		fmt.Sprintf("%s %s %s %d", m[1], m[2], m[3], year))
	if err != nil {
		ts = time.Time{}
	}

	message := m[7]
	fields := analysis.Fields{
		{Key: "host", Value: analysis.String(m[4])},
		{Key: "program", Value: analysis.String(m[5])},
	}
	if m[6] != "" {
		fields = append(fields, analysis.Field{Key: "pid", Value: analysis.String(m[6])})
	}

	return analysis.LogEvent{
		Timestamp:  ts,
		Level:      inferLevel(message),
		Source:     m[5],
		Message:    message,
		LineNumber: lineNum,
		Raw:        line,
		Fields:     fields,
	}
}

// levelToken finds an explicit level word inside a message.
var levelToken = regexp.MustCompile(`(?i)\b(critical|fatal|error|warn(?:ing)?|info|debug|trace)\b`)

// inferLevel derives a level from message content; syslog lines carry no
// explicit level field.
func inferLevel(message string) string {
	m := levelToken.FindString(message)
	if m == "" {
		return "info"
	}
	level := strings.ToLower(m)
	if level == "warn" {
		level = "warning"
	}
	return level
}
