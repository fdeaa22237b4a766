package logparse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/threatline/threatline/internal/analysis"
)

// Well-known keys promoted from JSON records into LogEvent scalars.
var (
	timestampKeys = []string{"timestamp", "@timestamp", "time", "ts", "datetime"}
	levelKeys     = []string{"level", "severity", "loglevel", "log_level"}
	messageKeys   = []string{"message", "msg"}
	sourceKeys    = []string{"source", "host", "hostname", "service", "logger"}
)

// timestampLayouts are tried in order when a timestamp value is a string.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/Jan/2006:15:04:05 -0700",
}

// JSONLinesParser handles newline-delimited JSON records. Field order of
// each record is preserved.
type JSONLinesParser struct{}

func (p *JSONLinesParser) ID() string { return "jsonl" }

// Matches accepts .json/.jsonl/.ndjson files and any content whose first
// non-space byte opens a JSON object or array.
func (p *JSONLinesParser) Matches(filename string, content []byte) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json", ".jsonl", ".ndjson":
		return true
	}
	trimmed := bytes.TrimLeft(content, " \t\r\n")
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// Parse decodes one record per line. Undecodable lines are skipped; a
// file with no decodable records is a reported failure.
func (p *JSONLinesParser) Parse(_ context.Context, content []byte) analysis.ParseResult {
	var events []analysis.LogEvent

	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		keys, obj, err := decodeOrdered([]byte(line))
		if err != nil {
			continue
		}
		events = append(events, eventFromRecord(keys, obj, lineNum, line))
	}
	if err := scanner.Err(); err != nil {
		return analysis.ParseResult{ErrorMessage: fmt.Sprintf("scan input: %v", err)}
	}
	if len(events) == 0 {
		return analysis.ParseResult{ErrorMessage: "no decodable JSON records"}
	}
	return analysis.ParseResult{Events: events, OK: true}
}

// decodeOrdered decodes one JSON object, returning its keys in document
// order alongside the decoded map.
func decodeOrdered(data []byte) ([]string, map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("not a JSON object")
	}

	var keys []string
	obj := make(map[string]interface{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected token %v", tok)
		}
		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return nil, nil, err
		}
		keys = append(keys, key)
		obj[key] = value
	}
	return keys, obj, nil
}

// eventFromRecord promotes well-known keys and keeps the rest as ordered
// fields.
func eventFromRecord(keys []string, obj map[string]interface{}, lineNum int, raw string) analysis.LogEvent {
	ev := analysis.LogEvent{
		LineNumber: lineNum,
		Raw:        raw,
		Fields:     analysis.FieldsFromJSON(keys, obj),
	}
	if v, ok := firstString(obj, messageKeys); ok {
		ev.Message = v
	}
	if v, ok := firstString(obj, levelKeys); ok {
		ev.Level = strings.ToLower(v)
	}
	if v, ok := firstString(obj, sourceKeys); ok {
		ev.Source = v
	}
	if ts, ok := extractTimestamp(obj); ok {
		ev.Timestamp = ts
	}
	if ev.Message == "" {
		ev.Message = raw
	}
	return ev
}

func firstString(obj map[string]interface{}, keys []string) (string, bool) {
	for _, k := range keys {
		if v, ok := obj[k].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func extractTimestamp(obj map[string]interface{}) (time.Time, bool) {
	for _, k := range timestampKeys {
		switch v := obj[k].(type) {
		case string:
			if ts, ok := parseTimestamp(v); ok {
				return ts, true
			}
		case float64:
			// Epoch seconds, with millisecond heuristic.
			if v > 1e12 {
				return time.UnixMilli(int64(v)).UTC(), true
			}
			if v > 0 {
				return time.Unix(int64(v), 0).UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
