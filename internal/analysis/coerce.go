package analysis

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/datagouv/hydra-go/internal/dateutil"
)

var (
	intRe   = regexp.MustCompile(`^[+-]?\d+(\.0+)?$`)
	floatRe = regexp.MustCompile(`^[+-]?\d+([.,]\d+)?$`)
)

// detectValueFormat classifies a single non-empty cell.
func detectValueFormat(v string) string {
	switch {
	case intRe.MatchString(v):
		return "int"
	case floatRe.MatchString(v):
		return "float"
	case isBool(v):
		return "bool"
	case isJSON(v):
		return "json"
	}
	if _, hasTime, ok := dateutil.ParseTolerant(v); ok {
		if hasTime {
			return "datetime"
		}
		return "date"
	}
	return "string"
}

func isBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "false":
		return true
	}
	return false
}

func isJSON(v string) bool {
	trimmed := strings.TrimSpace(v)
	if len(trimmed) == 0 {
		return false
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return false
	}
	return json.Valid([]byte(trimmed))
}

// parseNumeric parses a number accepting a comma decimal separator when it is
// unambiguous (exactly one comma and no dot).
func parseNumeric(v string) (float64, error) {
	if strings.Count(v, ",") == 1 && !strings.Contains(v, ".") {
		v = strings.Replace(v, ",", ".", 1)
	}
	return strconv.ParseFloat(v, 64)
}

// Coerce converts a raw cell into the native value for its column format.
// Empty cells become nil. Values that resist coercion are returned as-is so
// a stray cell degrades to text instead of failing the whole load.
func Coerce(value, format string) any {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	switch format {
	case "int":
		// Columns classed integer may carry float-shaped values like "2.0".
		if f, err := parseNumeric(v); err == nil {
			return int64(f)
		}
	case "float":
		if f, err := parseNumeric(v); err == nil {
			return f
		}
	case "bool":
		switch strings.ToLower(v) {
		case "true":
			return true
		case "false":
			return false
		}
	case "date", "datetime":
		if t, _, ok := dateutil.ParseTolerant(v); ok {
			return t
		}
	case "json":
		return v
	}
	return v
}

// CoerceRows converts raw CSV records into typed rows following the profiled
// column formats, in header order.
func CoerceRows(profile *Profile, records [][]string) ([][]any, error) {
	rows := make([][]any, 0, len(records))
	for i, record := range records {
		if len(record) != len(profile.Header) {
			return nil, fmt.Errorf("row %d has %d fields, want %d", i+1, len(record), len(profile.Header))
		}
		row := make([]any, len(record))
		for j, cell := range record {
			row[j] = Coerce(cell, profile.Formats[profile.Header[j]])
		}
		rows = append(rows, row)
	}
	return rows, nil
}
