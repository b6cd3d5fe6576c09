package model

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Record is one parsed data row, keyed by destination field name.
// Values are raw strings unless a transform produced a typed value
// (int64 or float64 for numeric fields).
type Record map[string]any

// keySeparator joins key components. The ASCII unit separator never occurs in
// the published CSV files, so joined keys cannot collide across fields.
const keySeparator = "\x1f"

// UniqueKey builds the composite identity of r over fields, in field order.
// Two records are the same for persistence purposes iff their keys are equal.
func UniqueKey(r Record, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = KeyComponent(r[f])
	}
	return strings.Join(parts, keySeparator)
}

// KeyComponent renders a single field value in canonical form, so that a value
// read back from the database matches the freshly parsed value.
func KeyComponent(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return formatFloat(float64(x))
	case float64:
		return formatFloat(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Fields returns the field names of r in sorted order.
func (r Record) Fields() []string {
	fields := make([]string, 0, len(r))
	for k := range r {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}
