// Package models defines the shared data types for the hydra crawler:
// catalog resources, probe checks and the artifacts of CSV analysis.
package models

import "time"

// Resource statuses. A resource is only eligible for a new check while it is
// idle (empty status) or in BACKOFF; every other state is transient and is
// cleared back to idle when the corresponding step resolves.
const (
	StatusBackoff           = "BACKOFF"
	StatusCrawling          = "CRAWLING_URL"
	StatusToAnalyseResource = "TO_ANALYSE_RESOURCE"
	StatusAnalysingResource = "ANALYSING_RESOURCE"
	StatusToAnalyseCSV      = "TO_ANALYSE_CSV"
	StatusAnalysingCSV      = "ANALYSING_CSV"
	StatusInsertingInDB     = "INSERTING_IN_DB"
)

// statusVerbose maps a resource status to the human readable form served by
// the resource status endpoint.
var statusVerbose = map[string]string{
	"":                      "idle, waiting for next check",
	StatusBackoff:           "backoff mode for crawling",
	StatusCrawling:          "crawling URL",
	StatusToAnalyseResource: "to analyse resource",
	StatusAnalysingResource: "analysing resource",
	StatusToAnalyseCSV:      "to analyse CSV",
	StatusAnalysingCSV:      "analysing CSV",
	StatusInsertingInDB:     "inserting CSV into DB",
}

// StatusVerbose returns the display string for a resource status.
func StatusVerbose(status string) string {
	if v, ok := statusVerbose[status]; ok {
		return v
	}
	return status
}

// CheckEligible reports whether a resource in the given status may be probed.
func CheckEligible(status string) bool {
	return status == "" || status == StatusBackoff
}

// Resource is a row in the catalog.
type Resource struct {
	ID                int64      `json:"id"`
	DatasetID         string     `json:"dataset_id"`
	ResourceID        string     `json:"resource_id"`
	URL               string     `json:"url"`
	Deleted           bool       `json:"deleted"`
	Priority          bool       `json:"priority"`
	Status            string     `json:"status"`
	HarvestModifiedAt *time.Time `json:"harvest_modified_at,omitempty"`
	LastCheckAt       *time.Time `json:"last_check_at,omitempty"`
}

// Sources for a detected last modification, in the order the change analyzer
// evaluates them. The checksum source only applies once a download happened.
const (
	SourceLastModifiedHeader  = "last-modified-header"
	SourceContentLengthHeader = "content-length-header"
	SourceHarvestMetadata     = "harvest-resource-metadata"
	SourceComputedChecksum    = "computed-checksum"
)

// Check is the immutable record of one probe attempt. Nullable columns are
// pointers; Headers always carries lowercased keys.
type Check struct {
	ID                         int64             `json:"id"`
	ResourceID                 string            `json:"resource_id"`
	URL                        string            `json:"url"`
	Domain                     string            `json:"domain"`
	CreatedAt                  time.Time         `json:"created_at"`
	Status                     *int              `json:"status"`
	Headers                    map[string]string `json:"headers"`
	Timeout                    bool              `json:"timeout"`
	Error                      *string           `json:"error"`
	ResponseTimeMs             *int64            `json:"response_time_ms"`
	Checksum                   *string           `json:"checksum"`
	Filesize                   *int64            `json:"filesize"`
	MimeType                   *string           `json:"mime_type"`
	ParsingTable               *string           `json:"parsing_table"`
	ParsingError               *string           `json:"parsing_error"`
	ParsingStartedAt           *time.Time        `json:"parsing_started_at"`
	ParsingFinishedAt          *time.Time        `json:"parsing_finished_at"`
	DetectedLastModifiedAt     *time.Time        `json:"detected_last_modified_at"`
	DetectedLastModifiedSource *string           `json:"detected_last_modified_source"`
	Deleted                    bool              `json:"deleted"`
}

// Header returns the named response header, or "" when absent. Keys are
// stored lowercased so lookups are case-insensitive by construction.
func (c *Check) Header(name string) string {
	if c == nil || c.Headers == nil {
		return ""
	}
	return c.Headers[name]
}

// HasStatus reports whether the check recorded the given HTTP status.
func (c *Check) HasStatus(status int) bool {
	return c != nil && c.Status != nil && *c.Status == status
}

// CheckAggregate is one bucket of the daily group-by endpoint.
type CheckAggregate struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// TableIndexEntry records one materialized per-resource table together with
// the full CSV profile that produced it.
type TableIndexEntry struct {
	ResourceID string    `json:"resource_id"`
	TableName  string    `json:"table_name"`
	CSVProfile string    `json:"csv_detective"`
	CreatedAt  time.Time `json:"created_at"`
}

// ResourceException marks a resource allowed to bypass the size cap, with an
// optional index specification ({column: "unique"|"index"}) applied after
// materialization.
type ResourceException struct {
	ResourceID   string            `json:"resource_id"`
	TableIndexes map[string]string `json:"table_indexes"`
	CreatedAt    time.Time         `json:"created_at"`
}
