package grade

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Value wraps one numbered-key field of the grading output. The model is
// asked for a strict shape but drifts in practice, so every accessor
// parses tolerantly and falls back to a zero value.
type Value struct {
	raw json.RawMessage
}

func (v Value) Present() bool { return len(v.raw) > 0 }

// Int coerces numbers, numeric strings and booleans. Everything else is 0.
func (v Value) Int() int {
	if len(v.raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(v.raw, &f); err == nil {
		return int(f)
	}
	var s string
	if err := json.Unmarshal(v.raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return int(f)
		}
		return 0
	}
	var b bool
	if err := json.Unmarshal(v.raw, &b); err == nil && b {
		return 1
	}
	return 0
}

func (v Value) Str() string {
	if len(v.raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(v.raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(v.raw))
}

// List accepts a JSON array, a stringified JSON array, a comma-separated
// string, or the literal "0" / 0 meaning empty.
func (v Value) List() []string {
	if len(v.raw) == 0 {
		return nil
	}
	if out, ok := parseJSONList(v.raw); ok {
		return out
	}

	var s string
	if err := json.Unmarshal(v.raw, &s); err == nil {
		return parseStringList(s)
	}

	// A bare 0 means empty; any other bare number is not a list.
	return nil
}

func parseJSONList(raw json.RawMessage) ([]string, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
			continue
		}
		out = append(out, strings.TrimSpace(string(item)))
	}
	return out, true
}

func parseStringList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return nil
	}
	if strings.HasPrefix(s, "[") {
		if out, ok := parseJSONList(json.RawMessage(s)); ok {
			return out
		}
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" && part != "0" {
			out = append(out, part)
		}
	}
	return out
}
