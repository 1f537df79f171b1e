package querier

import (
	"math"
	"net/netip"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// MaxSafeInteger is the largest integer a float64-based JSON consumer can
// represent exactly.
const MaxSafeInteger = 1<<53 - 1

// normalizeValue converts a pgx-decoded value into a JSON-safe primitive.
// Integers outside ±MaxSafeInteger and NUMERIC values become decimal strings.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case int64:
		return safeInt(val)
	case int:
		return safeInt(int64(val))
	case uint64:
		if val > MaxSafeInteger {
			return strconv.FormatUint(val, 10)
		}
		return val
	case uint32:
		return val
	case float64:
		if math.IsInf(val, 0) || math.IsNaN(val) {
			return nil
		}
		return val
	case float32:
		if math.IsInf(float64(val), 0) || math.IsNaN(float64(val)) {
			return nil
		}
		return val
	case []byte:
		return string(val)
	case [16]byte:
		return uuid.UUID(val).String()
	case pgtype.Numeric:
		return numericString(val)
	case pgtype.Time:
		if !val.Valid {
			return nil
		}
		return time.Time{}.Add(time.Duration(val.Microseconds) * time.Microsecond).Format("15:04:05.999999")
	case netip.Prefix:
		return val.String()
	case netip.Addr:
		return val.String()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return val
	}
}

func safeInt(v int64) any {
	if v > MaxSafeInteger || v < -MaxSafeInteger {
		return strconv.FormatInt(v, 10)
	}
	return v
}

func numericString(n pgtype.Numeric) any {
	if !n.Valid {
		return nil
	}
	v, err := n.Value()
	if err != nil || v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		return s
	}
	return v
}
