package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultExcludedColumns are columns that carry no row identity: bookkeeping
// timestamps and any digest persisted by a previous run.
var DefaultExcludedColumns = []string{
	"created_at",
	"updated_at",
	"registration_date",
	"row_hash",
}

// maxNumericLen bounds pathological precision: a numeric canonical form is cut
// to its first 10 characters.
const maxNumericLen = 10

// Row canonicalizes a raw row into a comparable form: excluded columns are
// dropped and every remaining value is reduced to a canonical string. Two rows
// with equal output are content-identical as far as the engine is concerned.
func Row(row map[string]any, excluded []string) map[string]string {
	skip := make(map[string]struct{}, len(excluded))
	for _, col := range excluded {
		skip[strings.ToLower(col)] = struct{}{}
	}

	out := make(map[string]string, len(row))
	for name, value := range row {
		if _, ok := skip[strings.ToLower(name)]; ok {
			continue
		}
		out[name] = Value(value)
	}

	return out
}

// Value reduces a single scalar to its canonical string: nil becomes "null",
// numbers are integer-truncated, strings are trimmed and lower-cased, and
// everything else is stringified then treated like a string.
func Value(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return strings.ToLower(strings.TrimSpace(x))
	case float64:
		return truncNumeric(strconv.FormatFloat(math.Trunc(x), 'f', -1, 64))
	case float32:
		return truncNumeric(strconv.FormatFloat(math.Trunc(float64(x)), 'f', -1, 64))
	case int:
		return truncNumeric(strconv.FormatInt(int64(x), 10))
	case int8:
		return truncNumeric(strconv.FormatInt(int64(x), 10))
	case int16:
		return truncNumeric(strconv.FormatInt(int64(x), 10))
	case int32:
		return truncNumeric(strconv.FormatInt(int64(x), 10))
	case int64:
		return truncNumeric(strconv.FormatInt(x, 10))
	case uint:
		return truncNumeric(strconv.FormatUint(uint64(x), 10))
	case uint8:
		return truncNumeric(strconv.FormatUint(uint64(x), 10))
	case uint16:
		return truncNumeric(strconv.FormatUint(uint64(x), 10))
	case uint32:
		return truncNumeric(strconv.FormatUint(uint64(x), 10))
	case uint64:
		return truncNumeric(strconv.FormatUint(x, 10))
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		// UTC RFC3339 so the canonical form does not depend on the host zone.
		return strings.ToLower(x.UTC().Format(time.RFC3339))
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", x)))
	}
}

func truncNumeric(s string) string {
	if len(s) > maxNumericLen {
		return s[:maxNumericLen]
	}
	return s
}
