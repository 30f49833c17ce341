package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/datagouv/hydra-go/internal/models"
)

const checkColumns = `id, resource_id, url, domain, created_at, status, headers, timeout, error,
	response_time_ms, checksum, filesize, mime_type, parsing_table, parsing_error,
	parsing_started_at, parsing_finished_at, detected_last_modified_at, detected_last_modified_source, deleted`

// AppendCheck appends an immutable check row to the journal and fills in the
// generated id, the creation time and the URL domain.
func (s *Store) AppendCheck(ctx context.Context, check *models.Check) error {
	if check.CreatedAt.IsZero() {
		check.CreatedAt = time.Now().UTC()
	}
	if check.Domain == "" {
		if u, err := url.Parse(check.URL); err == nil {
			check.Domain = u.Hostname()
		}
	}
	headers, err := json.Marshal(check.Headers)
	if err != nil {
		return fmt.Errorf("marshal check headers: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO checks (resource_id, url, domain, created_at, status, headers, timeout, error,
			response_time_ms, checksum, filesize, mime_type, parsing_table, parsing_error,
			parsing_started_at, parsing_finished_at, detected_last_modified_at, detected_last_modified_source, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		check.ResourceID, check.URL, check.Domain, fmtTime(check.CreatedAt),
		ptrOrNil(check.Status), string(headers), check.Timeout, ptrOrNil(check.Error),
		ptrOrNil(check.ResponseTimeMs), ptrOrNil(check.Checksum), ptrOrNil(check.Filesize),
		ptrOrNil(check.MimeType), ptrOrNil(check.ParsingTable), ptrOrNil(check.ParsingError),
		fmtTimePtr(check.ParsingStartedAt), fmtTimePtr(check.ParsingFinishedAt),
		fmtTimePtr(check.DetectedLastModifiedAt), ptrOrNil(check.DetectedLastModifiedSource),
		check.Deleted)
	if err != nil {
		return fmt.Errorf("append check for %s: %w", check.ResourceID, err)
	}
	check.ID, err = res.LastInsertId()
	return err
}

// GetCheck returns a check by id, or ErrNotFound.
func (s *Store) GetCheck(ctx context.Context, id int64) (*models.Check, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+checkColumns+` FROM checks WHERE id = ?`, id)
	return scanCheckRow(row)
}

// LatestCheck returns the most recent non-deleted check matching the given
// url and/or resource_id; at least one selector must be provided.
func (s *Store) LatestCheck(ctx context.Context, rawURL, resourceID string) (*models.Check, error) {
	where, args := checkSelectors(rawURL, resourceID)
	if where == "" {
		return nil, fmt.Errorf("latest check: url or resource_id required")
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+checkColumns+` FROM checks WHERE deleted = 0 AND `+where+`
		 ORDER BY created_at DESC, id DESC LIMIT 1`, args...)
	return scanCheckRow(row)
}

// AllChecks returns the full check history for a url and/or resource_id,
// most recent first.
func (s *Store) AllChecks(ctx context.Context, rawURL, resourceID string) ([]models.Check, error) {
	where, args := checkSelectors(rawURL, resourceID)
	if where == "" {
		return nil, fmt.Errorf("all checks: url or resource_id required")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkColumns+` FROM checks WHERE `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query checks: %w", err)
	}
	defer rows.Close()

	var checks []models.Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		checks = append(checks, *c)
	}
	return checks, rows.Err()
}

func checkSelectors(rawURL, resourceID string) (string, []any) {
	var conds []string
	var args []any
	if rawURL != "" {
		conds = append(conds, "url = ?")
		args = append(args, rawURL)
	}
	if resourceID != "" {
		conds = append(conds, "resource_id = ?")
		args = append(args, resourceID)
	}
	return strings.Join(conds, " AND "), args
}

// Columns the aggregate endpoint may group by. The column name lands in the
// statement text, so anything outside this set is rejected.
var aggregateColumns = map[string]bool{
	"status":                        true,
	"domain":                        true,
	"error":                         true,
	"timeout":                       true,
	"mime_type":                     true,
	"parsing_error":                 true,
	"detected_last_modified_source": true,
}

// AggregateChecksForDate groups the checks created on the given day by the
// given column and counts each bucket.
func (s *Store) AggregateChecksForDate(ctx context.Context, column string, day time.Time) ([]models.CheckAggregate, error) {
	if !aggregateColumns[column] {
		return nil, fmt.Errorf("cannot group by column %q", column)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(CAST(`+column+` AS TEXT), ''), COUNT(*)
		FROM checks
		WHERE date(created_at) = ?
		GROUP BY `+column+`
		ORDER BY COUNT(*) DESC`, day.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("aggregate checks: %w", err)
	}
	defer rows.Close()

	var out []models.CheckAggregate
	for rows.Next() {
		var agg models.CheckAggregate
		if err := rows.Scan(&agg.Value, &agg.Count); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}

// CountChecksSince returns the number of checks created since the given time,
// split into all and erroneous.
func (s *Store) CountChecksSince(ctx context.Context, since time.Time) (total, errored int64, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN error IS NOT NULL OR timeout = 1 THEN 1 ELSE 0 END), 0)
		FROM checks WHERE created_at >= ?`, fmtTime(since))
	if err := row.Scan(&total, &errored); err != nil {
		return 0, 0, fmt.Errorf("count checks: %w", err)
	}
	return total, errored, nil
}

// UpdateCheckAnalysis records the outcome of the resource analysis step on an
// existing check: checksum, size, mime type and the detected modification.
func (s *Store) UpdateCheckAnalysis(ctx context.Context, id int64, checksum *string, filesize *int64, mimeType *string, detectedAt *time.Time, source *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE checks SET
			checksum = COALESCE(?, checksum),
			filesize = COALESCE(?, filesize),
			mime_type = COALESCE(?, mime_type),
			detected_last_modified_at = COALESCE(?, detected_last_modified_at),
			detected_last_modified_source = COALESCE(?, detected_last_modified_source)
		WHERE id = ?`,
		ptrOrNil(checksum), ptrOrNil(filesize), ptrOrNil(mimeType), fmtTimePtr(detectedAt), ptrOrNil(source), id)
	if err != nil {
		return fmt.Errorf("update check %d analysis: %w", id, err)
	}
	return nil
}

// StampParsingStarted marks the beginning of CSV parsing on a check.
func (s *Store) StampParsingStarted(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE checks SET parsing_started_at = ? WHERE id = ?`, fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("stamp parsing started on check %d: %w", id, err)
	}
	return nil
}

// StampParsingFinished marks the end of CSV parsing with either a table name
// or a parsing error.
func (s *Store) StampParsingFinished(ctx context.Context, id int64, at time.Time, tableName, parsingError *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE checks SET parsing_finished_at = ?, parsing_table = ?, parsing_error = ?
		WHERE id = ?`, fmtTime(at), ptrOrNil(tableName), ptrOrNil(parsingError), id)
	if err != nil {
		return fmt.Errorf("stamp parsing finished on check %d: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckRow(row *sql.Row) (*models.Check, error) {
	c, err := scanCheck(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func scanCheck(row rowScanner) (*models.Check, error) {
	var c models.Check
	var created string
	var status, responseTime, filesize sql.NullInt64
	var headers, errMsg, checksum, mimeType, parsingTable, parsingError sql.NullString
	var parsingStarted, parsingFinished, detectedAt, detectedSource sql.NullString

	err := row.Scan(&c.ID, &c.ResourceID, &c.URL, &c.Domain, &created, &status, &headers,
		&c.Timeout, &errMsg, &responseTime, &checksum, &filesize, &mimeType,
		&parsingTable, &parsingError, &parsingStarted, &parsingFinished,
		&detectedAt, &detectedSource, &c.Deleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan check: %w", err)
	}

	c.CreatedAt = parseTime(created)
	if status.Valid {
		v := int(status.Int64)
		c.Status = &v
	}
	if headers.Valid && headers.String != "" {
		if err := json.Unmarshal([]byte(headers.String), &c.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal check headers: %w", err)
		}
	}
	c.Error = nullStr(errMsg)
	c.ResponseTimeMs = nullInt(responseTime)
	c.Checksum = nullStr(checksum)
	c.Filesize = nullInt(filesize)
	c.MimeType = nullStr(mimeType)
	c.ParsingTable = nullStr(parsingTable)
	c.ParsingError = nullStr(parsingError)
	c.ParsingStartedAt = parseTimeNull(parsingStarted)
	c.ParsingFinishedAt = parseTimeNull(parsingFinished)
	c.DetectedLastModifiedAt = parseTimeNull(detectedAt)
	c.DetectedLastModifiedSource = nullStr(detectedSource)
	return &c, nil
}
