package transform

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// toFloat coerces v to a finite float64. ok is false for anything that is not a number.
func toFloat(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int32:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := strconv.ParseFloat(val.String(), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
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

// toTime parses v into a UTC instant.
func toTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		if val.IsZero() {
			return time.Time{}, false
		}
		return val.UTC(), true
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// toInt accepts integral numbers only.
func toInt(v any) (int64, bool) {
	if i, ok := v.(int64); ok {
		return i, true
	}
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// floatOrMissing maps a coercion result onto the missing marker.
func floatOrMissing(f float64, ok bool) any {
	if !ok {
		return nil
	}
	return f
}

// ratio divides num by den, yielding missing for absent operands or a zero denominator.
func ratio(num, den any) any {
	n, ok := num.(float64)
	if !ok {
		return nil
	}
	d, ok := den.(float64)
	if !ok || d == 0 {
		return nil
	}
	q := n / d
	if math.IsNaN(q) || math.IsInf(q, 0) {
		return nil
	}
	return q
}
