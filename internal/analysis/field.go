package analysis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// FieldKind discriminates the closed set of field value types.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindNumber FieldKind = "number"
	KindBool   FieldKind = "bool"
	KindTime   FieldKind = "time"
)

// FieldValue is a tagged value: exactly one of the payload members is
// meaningful, selected by Kind. Replaces free-form interface{} maps so
// scoring and mapping code stays total.
type FieldValue struct {
	Kind FieldKind `json:"kind"`
	Str  string    `json:"str,omitempty"`
	Num  float64   `json:"num,omitempty"`
	Bool bool      `json:"bool,omitempty"`
	Time time.Time `json:"time,omitzero"`
}

// String builds a string-kind value.
func String(s string) FieldValue { return FieldValue{Kind: KindString, Str: s} }

// Number builds a number-kind value.
func Number(n float64) FieldValue { return FieldValue{Kind: KindNumber, Num: n} }

// Bool builds a bool-kind value.
func Bool(b bool) FieldValue { return FieldValue{Kind: KindBool, Bool: b} }

// Time builds a time-kind value.
func Time(t time.Time) FieldValue { return FieldValue{Kind: KindTime, Time: t} }

// Render returns the value as display text.
func (v FieldValue) Render() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindTime:
		return v.Time.Format(time.RFC3339)
	default:
		return ""
	}
}

// Any returns the underlying value as an untyped interface, for handing
// events to external evaluators.
func (v FieldValue) Any() interface{} {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindTime:
		return v.Time
	default:
		return nil
	}
}

// Field is one key/value pair. Slices of Field preserve insertion order,
// unlike Go maps.
type Field struct {
	Key   string     `json:"key"`
	Value FieldValue `json:"value"`
}

// Fields is an ordered field map.
type Fields []Field

// Get returns the value for key and whether it was present.
func (f Fields) Get(key string) (FieldValue, bool) {
	for _, field := range f {
		if field.Key == key {
			return field.Value, true
		}
	}
	return FieldValue{}, false
}

// Set appends or replaces the value for key, keeping existing order.
func (f Fields) Set(key string, v FieldValue) Fields {
	for i, field := range f {
		if field.Key == key {
			f[i].Value = v
			return f
		}
	}
	return append(f, Field{Key: key, Value: v})
}

// Map flattens the fields into an unordered map for external evaluators.
func (f Fields) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(f))
	for _, field := range f {
		m[field.Key] = field.Value.Any()
	}
	return m
}

// FieldsFromJSON converts a decoded JSON object into tagged fields. Nested
// values are flattened to their JSON text.
func FieldsFromJSON(keys []string, obj map[string]interface{}) Fields {
	fields := make(Fields, 0, len(keys))
	for _, k := range keys {
		v, ok := obj[k]
		if !ok {
			continue
		}
		fields = append(fields, Field{Key: k, Value: fieldValueOf(v)})
	}
	return fields
}

func fieldValueOf(v interface{}) FieldValue {
	switch typed := v.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, typed); err == nil {
			return Time(t)
		}
		return String(typed)
	case float64:
		return Number(typed)
	case bool:
		return Bool(typed)
	case nil:
		return String("")
	default:
		raw, err := json.Marshal(typed)
		if err != nil {
			return String(fmt.Sprintf("%v", typed))
		}
		return String(string(raw))
	}
}
