package chunk

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Metadata is the schema-less key/value map attached to a chunk.
// Values are strings, numbers, RFC3339 timestamps or string arrays.
type Metadata map[string]any

// String returns a string value. Missing or non-string values report false.
func (m Metadata) String(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// Strings returns a string array value. A single string is treated as a one-element array.
func (m Metadata) Strings(key string) ([]string, bool) {
	switch v := m[key].(type) {
	case []string:
		return v, true
	case string:
		return []string{v}, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// Number returns a numeric value. Numeric strings are accepted.
func (m Metadata) Number(key string) (float64, bool) {
	return ToFloat(m[key])
}

// Time returns a timestamp value (RFC3339 string, time.Time or unix seconds).
func (m Metadata) Time(key string) (time.Time, bool) {
	return ToTime(m[key])
}

// ToFloat converts JSON-decoded and Go numeric values to float64. NaN and Inf are rejected.
func ToFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ToTime converts RFC3339 strings, time.Time and unix seconds to time.Time.
func ToTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		sec, ok := ToFloat(v)
		if !ok {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(math.Round(sec * 1000))).UTC(), true
	}
}
