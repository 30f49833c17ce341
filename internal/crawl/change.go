package crawl

import (
	"time"

	"github.com/datagouv/hydra-go/internal/dateutil"
	"github.com/datagouv/hydra-go/internal/models"
)

// changeVerdict is the outcome of comparing a fresh check against its
// predecessor along the modification signals. Decided means some signal was
// comparable; when no signal applies the checksum computed after download
// settles the question.
type changeVerdict struct {
	Decided    bool
	Changed    bool
	DetectedAt *time.Time
	Source     string
}

// detectChange evaluates the modification signals in their fixed order:
// last-modified header, content-length header, harvest metadata. The first
// signal present on both sides decides; a signal that newly appeared counts
// as a change.
func detectChange(prev, cur *models.Check, harvestModifiedAt *time.Time, now time.Time) changeVerdict {
	// Rule 1: Last-Modified header, timezone-aware compare.
	if lm := cur.Header("last-modified"); lm != "" {
		parsed, ok := dateutil.ParseHTTPDate(lm)
		if ok {
			if prev != nil {
				if prevLM := prev.Header("last-modified"); prevLM != "" {
					prevParsed, prevOK := dateutil.ParseHTTPDate(prevLM)
					if prevOK && parsed.Equal(prevParsed) {
						return changeVerdict{Decided: true, Changed: false}
					}
				} else if prev.DetectedLastModifiedAt != nil && parsed.Equal(prev.DetectedLastModifiedAt.UTC()) {
					return changeVerdict{Decided: true, Changed: false}
				}
			}
			return changeVerdict{Decided: true, Changed: true, DetectedAt: &parsed, Source: models.SourceLastModifiedHeader}
		}
	}

	// Rule 2: Content-Length header, both sides required.
	if prev != nil {
		prevCL, curCL := prev.Header("content-length"), cur.Header("content-length")
		if prevCL != "" && curCL != "" {
			if prevCL == curCL {
				return changeVerdict{Decided: true, Changed: false}
			}
			detected := now.UTC()
			return changeVerdict{Decided: true, Changed: true, DetectedAt: &detected, Source: models.SourceContentLengthHeader}
		}
	}

	// Rule 3: harvest metadata against the previously detected modification.
	if harvestModifiedAt != nil {
		if prev != nil && prev.DetectedLastModifiedAt != nil && harvestModifiedAt.Equal(*prev.DetectedLastModifiedAt) {
			return changeVerdict{Decided: true, Changed: false}
		}
		detected := harvestModifiedAt.UTC()
		return changeVerdict{Decided: true, Changed: true, DetectedAt: &detected, Source: models.SourceHarvestMetadata}
	}

	return changeVerdict{}
}

// contentTypeChanged reports whether the media type flipped between two
// checks. A content-type only change never sets a detected modification but
// is still announced.
func contentTypeChanged(prev, cur *models.Check) bool {
	if prev == nil {
		return false
	}
	prevCT, curCT := parseContentType(prev.Header("content-type")), parseContentType(cur.Header("content-type"))
	return prevCT != "" && curCT != "" && prevCT != curCT
}

// statusChanged reports whether the HTTP status differs from the previous
// check, treating a missing status (transport failure) as its own value.
func statusChanged(prev, cur *models.Check) bool {
	if prev == nil {
		return false
	}
	switch {
	case prev.Status == nil && cur.Status == nil:
		return false
	case prev.Status == nil || cur.Status == nil:
		return true
	default:
		return *prev.Status != *cur.Status
	}
}
