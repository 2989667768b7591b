package frame

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ToFloat64 converts v to a finite float64. Text is parsed after trimming
// spaces. The boolean is false when v is nil, NaN, infinite or cannot be
// interpreted as a number.
func ToFloat64(v any) (float64, bool) {
	f, ok := toFloat64(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}

	return f, true
}

// IsMissing reports whether v holds no usable value: nil or a NaN float
func IsMissing(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	default:
		return false
	}
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	case []byte:
		return toFloat64(string(x))
	default:
		return 0, false
	}
}

// ToInt64 converts v to an int64. Floats are accepted only when integral.
func ToInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return i, true
		}
	}

	f, ok := ToFloat64(v)
	if !ok || f != float64(int64(f)) {
		return 0, false
	}

	return int64(f), true
}

// ToBool converts v to a bool. Numbers map 1/0, text accepts the forms
// understood by strconv.ParseBool.
func ToBool(v any) (bool, bool) {
	switch x := v.(type) {
	case nil:
		return false, false
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return b, err == nil
	}

	f, ok := ToFloat64(v)
	if !ok {
		return false, false
	}

	switch f {
	case 1:
		return true, true
	case 0:
		return false, true
	default:
		return false, false
	}
}

// ToString converts v to its text form
func ToString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case []byte:
		return string(x), true
	case json.Number:
		return x.String(), true
	case time.Time:
		return x.Format(time.RFC3339Nano), true
	default:
		return fmt.Sprint(x), true
	}
}

// timestampLayouts are tried in order when parsing text timestamps
var timestampLayouts = []string{ //nolint:gochecknoglobals // read-only lookup table
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ToTimestamp converts v to a UTC time. Numbers are unix seconds.
func ToTimestamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return x.UTC(), true
	case string:
		for _, layout := range timestampLayouts {
			if t, err := time.ParseInLocation(layout, strings.TrimSpace(x), time.UTC); err == nil {
				return t, true
			}
		}
	}

	f, ok := ToFloat64(v)
	if !ok {
		return time.Time{}, false
	}

	sec := int64(f)
	nsec := int64((f - float64(sec)) * float64(time.Second))

	return time.Unix(sec, nsec).UTC(), true
}

// Coerce converts v to the Go representation of typ. The boolean is false
// when v is nil or cannot be converted.
func Coerce(v any, typ Type) (any, bool) {
	switch typ {
	case TypeString:
		return ToString(v)
	case TypeFloat64:
		return ToFloat64(v)
	case TypeInt64:
		return ToInt64(v)
	case TypeBool:
		return ToBool(v)
	case TypeTimestamp:
		return ToTimestamp(v)
	default:
		return v, v != nil
	}
}
