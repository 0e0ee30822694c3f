package api

import (
	"encoding/json"
	"fmt"
	"math"
)

// Arguments holds decoded tool parameters. Values are whatever the JSON
// decoder produced; accessors convert and fall back to zero values.
type Arguments map[string]any

// Has reports whether key is present and non-null.
func (a Arguments) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

// String returns the string value for key.
func (a Arguments) String(key string) string {
	if s, ok := a[key].(string); ok {
		return s
	}
	return ""
}

// Int returns the integer value for key, or def when absent.
func (a Arguments) Int(key string, def int64) int64 {
	v, ok := a[key]
	if !ok || v == nil {
		return def
	}
	if n, ok := toInt(v); ok {
		return n
	}
	return def
}

// Bool returns the boolean value for key, or def when absent.
func (a Arguments) Bool(key string, def bool) bool {
	if b, ok := a[key].(bool); ok {
		return b
	}
	return def
}

// StringSlice returns the string array for key.
func (a Arguments) StringSlice(key string) []string {
	switch v := a[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Object returns the JSON object for key.
func (a Arguments) Object(key string) (map[string]any, bool) {
	m, ok := a[key].(map[string]any)
	return m, ok
}

// JSON returns the raw JSON encoding of the value for key. Strings are
// returned as-is so callers can accept either an encoded document or an object.
func (a Arguments) JSON(key string) ([]byte, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, fmt.Errorf("missing %s", key)
	}
	if s, ok := v.(string); ok {
		return []byte(s), nil
	}
	return json.Marshal(v)
}

// toInt converts JSON numbers to int64, rejecting fractional values.
func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// IsInteger reports whether v is a whole JSON number.
func IsInteger(v any) bool {
	_, ok := toInt(v)
	return ok
}
