package analysis

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Profile is the full result of CSV introspection, serialized into the
// tables_index for each materialized table.
type Profile struct {
	Encoding   string                  `json:"encoding"`
	Separator  string                  `json:"separator"`
	Header     []string                `json:"header"`
	Columns    map[string]ColumnDetail `json:"columns"`
	Formats    map[string]string       `json:"formats"`
	Stats      map[string]ColumnStats  `json:"profile"`
	TotalLines int                     `json:"total_lines"`
}

// ColumnDetail describes one profiled column.
type ColumnDetail struct {
	Format string `json:"format"`
}

// ColumnStats carries lightweight per-column statistics.
type ColumnStats struct {
	Distinct int      `json:"nb_distinct"`
	Empty    int      `json:"nb_empty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Mean     *float64 `json:"mean,omitempty"`
}

var delimiterCandidates = []rune{',', ';', '\t', '|'}

// ProfileCSV reads and introspects a CSV file: encoding, delimiter, header
// and per-column formats in the lattice int < float < string, alongside
// bool, date, datetime and json. It returns the profile and the raw records
// (header excluded).
func ProfileCSV(path string) (*Profile, [][]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read csv file: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil, errors.New("empty file")
	}

	encoding := "utf-8"
	if !utf8.Valid(raw) {
		// Most non-UTF-8 open data files are windows-1252 / latin-1.
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("decode non-utf8 content: %w", err)
		}
		raw = decoded
		encoding = "windows-1252"
	}
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})

	delimiter := detectDelimiter(raw)
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = delimiter
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, errors.New("empty file")
	}

	header := records[0]
	rows := records[1:]
	if len(rows) == 0 {
		// A header alone would materialize an empty table.
		return nil, nil, errors.New("no data rows")
	}

	profile := &Profile{
		Encoding:   encoding,
		Separator:  string(delimiter),
		Header:     header,
		Columns:    make(map[string]ColumnDetail, len(header)),
		Formats:    make(map[string]string, len(header)),
		Stats:      make(map[string]ColumnStats, len(header)),
		TotalLines: len(rows),
	}
	for i, name := range header {
		values := make([]string, 0, len(rows))
		for _, row := range rows {
			values = append(values, row[i])
		}
		format := detectFormat(values)
		profile.Columns[name] = ColumnDetail{Format: format}
		profile.Formats[name] = format
		profile.Stats[name] = computeStats(values, format)
	}
	return profile, rows, nil
}

// detectDelimiter counts candidate delimiters outside quoted sections on the
// first line and picks the most frequent one. Comma wins ties.
func detectDelimiter(raw []byte) rune {
	line := raw
	if idx := bytes.IndexByte(raw, '\n'); idx >= 0 {
		line = raw[:idx]
	}
	best, bestCount := ',', 0
	for _, cand := range delimiterCandidates {
		count, inQuotes := 0, false
		for _, r := range string(line) {
			switch {
			case r == '"':
				inQuotes = !inQuotes
			case r == cand && !inQuotes:
				count++
			}
		}
		if count > bestCount {
			best, bestCount = cand, count
		}
	}
	return best
}

// detectFormat infers the column format from its non-empty values. Mixed
// numeric kinds widen int to float; any other mix degrades to string.
func detectFormat(values []string) string {
	format := ""
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		kind := detectValueFormat(v)
		switch {
		case format == "":
			format = kind
		case format == kind:
		case (format == "int" && kind == "float") || (format == "float" && kind == "int"):
			format = "float"
		case (format == "date" && kind == "datetime") || (format == "datetime" && kind == "date"):
			format = "datetime"
		default:
			return "string"
		}
	}
	if format == "" {
		return "string"
	}
	return format
}

func computeStats(values []string, format string) ColumnStats {
	stats := ColumnStats{}
	distinct := make(map[string]struct{}, len(values))
	var sum float64
	var count int
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			stats.Empty++
			continue
		}
		distinct[v] = struct{}{}
		if format == "int" || format == "float" {
			if f, err := parseNumeric(v); err == nil {
				if stats.Min == nil || f < *stats.Min {
					f := f
					stats.Min = &f
				}
				if stats.Max == nil || f > *stats.Max {
					f := f
					stats.Max = &f
				}
				sum += f
				count++
			}
		}
	}
	stats.Distinct = len(distinct)
	if count > 0 {
		mean := sum / float64(count)
		stats.Mean = &mean
	}
	return stats
}
