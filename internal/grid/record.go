// ABOUTME: Record type shared by the grid, bindings and orchestrator
// ABOUTME: Identity lookup, value stringification and case folding helpers

package grid

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// Record is one row of a resource collection as decoded from JSON.
type Record map[string]any

// ID returns the record identity: "_id" first, then "id". Empty when neither is set.
func (r Record) ID() string {
	for _, key := range []string{"_id", "id"} {
		if v, ok := r[key]; ok && v != nil {
			return FormatValue(v)
		}
	}
	return ""
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// CloneAll copies the slice and every record in it.
func CloneAll(records []Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// FormatValue stringifies a record value the way it is displayed and compared.
// Whole floats print without a fractional part.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		if math.Trunc(x) == x && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return FormatValue(float64(x))
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}

// Fold case-folds s for case-insensitive comparison.
func Fold(s string) string {
	// Casers carry state, so each call gets its own.
	return cases.Fold().String(s)
}

// ContainsFold reports whether substr is within s, ignoring case.
func ContainsFold(s, substr string) bool {
	return strings.Contains(Fold(s), Fold(substr))
}

// Diff returns the keys of updates whose value differs from original.
func Diff(original, updates Record) Record {
	diff := Record{}
	for k, v := range updates {
		if !valuesEqual(original[k], v) {
			diff[k] = v
		}
	}
	return diff
}

func valuesEqual(a, b any) bool {
	if isBlank(a) && isBlank(b) {
		return true
	}
	switch x := a.(type) {
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	}
	return FormatValue(a) == FormatValue(b) && fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}
