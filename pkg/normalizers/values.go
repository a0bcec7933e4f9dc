package normalizers

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Attributes returns a normalized copy of attrs: keys are trimmed and lowercased,
// strings are trimmed, numbers are reduced to a canonical form, and nil stays nil.
// Keys that collide after normalization keep the value of the lexically smallest
// original key.
func Attributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}

	originals := make([]string, 0, len(attrs))
	for k := range attrs {
		originals = append(originals, k)
	}
	sort.Strings(originals)

	out := make(map[string]any, len(attrs))
	for _, k := range originals {
		nk := strings.ToLower(strings.TrimSpace(k))
		if _, seen := out[nk]; seen {
			continue
		}
		out[nk] = Value(attrs[k])
	}
	return out
}

// Value normalizes a single attribute value.
func Value(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return strings.TrimSpace(x)
	case bool:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return canonicalUint(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return canonicalUint(x)
	case float32:
		return canonicalFloat(float64(x))
	case float64:
		return canonicalFloat(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return canonicalFloat(f)
		}
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		return Attributes(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = Value(item)
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = strings.TrimSpace(item)
		}
		return out
	default:
		return x
	}
}

// whole floats collapse to int64 so 12 and 12.0 hash alike
func canonicalFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

func canonicalUint(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return strconv.FormatUint(u, 10)
}
