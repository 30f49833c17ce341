// Package dateutil parses the heterogeneous date formats found in crawled
// headers and CSV cells: HTTP dates, ISO variants with swapped day/month, and
// French or English prose dates.
package dateutil

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Month names normalized to their English form before layout matching.
// French names cover the accented and unaccented spellings.
var monthNames = map[string]string{
	"janvier": "January", "février": "February", "fevrier": "February",
	"mars": "March", "avril": "April", "mai": "May", "juin": "June",
	"juillet": "July", "août": "August", "aout": "August",
	"septembre": "September", "octobre": "October", "novembre": "November",
	"décembre": "December", "decembre": "December",
	"january": "January", "february": "February", "march": "March",
	"april": "April", "may": "May", "june": "June", "july": "July",
	"august": "August", "september": "September", "october": "October",
	"november": "November", "december": "December",
}

var ordinalRe = regexp.MustCompile(`\b(\d{1,2})(st|nd|rd|th)\b`)

// Layouts tried after prose normalization and for day/month-swapped ISO
// forms that dateparse rejects.
var extraLayouts = []string{
	"2 January 2006 15:04:05",
	"2 January 2006",
	"January 2, 2006 15:04:05",
	"January 2, 2006",
	"2006-02-01 15:04:05",
	"2006-02-01",
	"02-01-2006 15:04:05",
	"02-01-2006",
	"02/01/2006 15:04:05",
	"02/01/2006",
}

// ParseTolerant parses a value into a UTC time, reporting whether the value
// carried a time-of-day component. It accepts ISO forms, US and day-first
// numeric forms and French/English prose like "31 décembre 2022".
func ParseTolerant(value string) (t time.Time, hasTime bool, ok bool) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, false, false
	}
	hasTime = strings.Contains(s, ":")

	if t, err := dateparse.ParseIn(s, time.UTC); err == nil {
		return t.UTC(), hasTime, true
	}

	normalized := normalizeProse(s)
	for _, layout := range extraLayouts {
		if t, err := time.ParseInLocation(layout, normalized, time.UTC); err == nil {
			return t.UTC(), hasTime, true
		}
	}
	if normalized != s {
		if t, err := dateparse.ParseIn(normalized, time.UTC); err == nil {
			return t.UTC(), hasTime, true
		}
	}
	return time.Time{}, false, false
}

func normalizeProse(s string) string {
	out := ordinalRe.ReplaceAllString(s, "$1")
	words := strings.Fields(out)
	for i, w := range words {
		key := strings.ToLower(strings.Trim(w, ".,"))
		if month, found := monthNames[key]; found {
			words[i] = month
		}
	}
	return strings.Join(words, " ")
}

var gmtOffsetRe = regexp.MustCompile(`GMT([+-])(\d{1,2})$`)

// ParseHTTPDate parses a Last-Modified style header value, tolerating
// non-standard timezone suffixes like "GMT+1".
func ParseHTTPDate(value string) (time.Time, bool) {
	if t, err := http.ParseTime(value); err == nil {
		return t.UTC(), true
	}
	if m := gmtOffsetRe.FindStringSubmatch(value); m != nil {
		offset := m[1] + strings.Repeat("0", 2-len(m[2])) + m[2] + "00"
		fixed := gmtOffsetRe.ReplaceAllLiteralString(value, offset)
		if t, err := time.Parse("Mon, 02 Jan 2006 15:04:05 -0700", fixed); err == nil {
			return t.UTC(), true
		}
	}
	if t, err := dateparse.ParseAny(value); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
