package analysis

import (
	"testing"
	"time"
)

func TestFieldValueRender(t *testing.T) {
	ts := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	cases := []struct {
		in   FieldValue
		want string
	}{
		{String("hello"), "hello"},
		{Number(42), "42"},
		{Number(3.5), "3.5"},
		{Bool(true), "true"},
		{Time(ts), "2026-03-10T08:00:00Z"},
		{FieldValue{}, ""},
	}
	for _, c := range cases {
		if got := c.in.Render(); got != c.want {
			t.Errorf("Render(%+v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFieldValueAny(t *testing.T) {
	if got := String("x").Any(); got != "x" {
		t.Errorf("Any = %v", got)
	}
	if got := Number(7).Any(); got != 7.0 {
		t.Errorf("Any = %v", got)
	}
	if got := Bool(false).Any(); got != false {
		t.Errorf("Any = %v", got)
	}
	if got := (FieldValue{}).Any(); got != nil {
		t.Errorf("Any = %v", got)
	}
}

func TestFieldsGetSet(t *testing.T) {
	var f Fields
	f = f.Set("user", String("root"))
	f = f.Set("attempts", Number(3))
	f = f.Set("user", String("admin")) // replace keeps position

	if len(f) != 2 {
		t.Fatalf("len = %d, want 2", len(f))
	}
	if f[0].Key != "user" || f[0].Value.Str != "admin" {
		t.Errorf("f[0] = %+v", f[0])
	}
	v, ok := f.Get("attempts")
	if !ok || v.Num != 3 {
		t.Errorf("Get(attempts) = %+v, %v", v, ok)
	}
	if _, ok := f.Get("missing"); ok {
		t.Error("Get(missing) should report absent")
	}
}

func TestFieldsMap(t *testing.T) {
	f := Fields{
		{Key: "user", Value: String("root")},
		{Key: "ok", Value: Bool(true)},
	}
	m := f.Map()
	if m["user"] != "root" || m["ok"] != true {
		t.Errorf("Map = %v", m)
	}
}

func TestFieldsFromJSONPreservesOrder(t *testing.T) {
	obj := map[string]interface{}{
		"zeta":  "last key first",
		"alpha": 1.5,
		"flag":  true,
		"when":  "2026-03-10T08:00:00Z",
		"blob":  map[string]interface{}{"nested": 1},
		"gone":  nil,
	}
	keys := []string{"zeta", "alpha", "flag", "when", "blob", "gone"}

	fields := FieldsFromJSON(keys, obj)
	if len(fields) != 6 {
		t.Fatalf("len = %d", len(fields))
	}
	for i, k := range keys {
		if fields[i].Key != k {
			t.Errorf("fields[%d].Key = %s, want %s (insertion order)", i, fields[i].Key, k)
		}
	}
	if fields[0].Value.Kind != KindString {
		t.Errorf("zeta kind = %s", fields[0].Value.Kind)
	}
	if fields[1].Value.Kind != KindNumber || fields[1].Value.Num != 1.5 {
		t.Errorf("alpha = %+v", fields[1].Value)
	}
	if fields[2].Value.Kind != KindBool {
		t.Errorf("flag kind = %s", fields[2].Value.Kind)
	}
	if fields[3].Value.Kind != KindTime {
		t.Errorf("RFC3339 string should decode as time, got %s", fields[3].Value.Kind)
	}
	if fields[4].Value.Kind != KindString || fields[4].Value.Str != `{"nested":1}` {
		t.Errorf("nested value = %+v", fields[4].Value)
	}
	if fields[5].Value.Kind != KindString || fields[5].Value.Str != "" {
		t.Errorf("null value = %+v", fields[5].Value)
	}

	// Keys absent from the object are skipped.
	fields = FieldsFromJSON([]string{"zeta", "nope"}, obj)
	if len(fields) != 1 {
		t.Errorf("len = %d, want 1", len(fields))
	}
}
