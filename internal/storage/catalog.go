package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/datagouv/hydra-go/internal/models"
)

// UpsertResource inserts a resource in the catalog or updates its URL and
// harvest timestamp, marking it priority for the next crawling cycle either
// way. Soft-deleted rows are resurrected.
func (s *Store) UpsertResource(ctx context.Context, datasetID, resourceID, rawURL string, harvestModifiedAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog (dataset_id, resource_id, url, priority, harvest_modified_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (dataset_id, resource_id) DO UPDATE SET
			url = excluded.url,
			priority = 1,
			deleted = 0,
			harvest_modified_at = COALESCE(excluded.harvest_modified_at, catalog.harvest_modified_at)`,
		datasetID, resourceID, rawURL, fmtTimePtr(harvestModifiedAt))
	if err != nil {
		return fmt.Errorf("upsert resource %s: %w", resourceID, err)
	}
	return nil
}

// GetResource returns the catalog row for a resource_id, or ErrNotFound.
func (s *Store) GetResource(ctx context.Context, resourceID string) (*models.Resource, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, dataset_id, resource_id, url, deleted, priority, status, harvest_modified_at, last_check_at
		FROM catalog WHERE resource_id = ?`, resourceID)
	return scanResource(row)
}

func scanResource(row *sql.Row) (*models.Resource, error) {
	var r models.Resource
	var harvest, lastCheck sql.NullString
	err := row.Scan(&r.ID, &r.DatasetID, &r.ResourceID, &r.URL, &r.Deleted, &r.Priority, &r.Status, &harvest, &lastCheck)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan resource: %w", err)
	}
	r.HarvestModifiedAt = parseTimeNull(harvest)
	r.LastCheckAt = parseTimeNull(lastCheck)
	return &r, nil
}

// SoftDeleteResource tombstones a resource. Checks and materialized tables
// are left in place.
func (s *Store) SoftDeleteResource(ctx context.Context, resourceID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE catalog SET deleted = 1 WHERE resource_id = ? AND deleted = 0`, resourceID)
	if err != nil {
		return fmt.Errorf("delete resource %s: %w", resourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetResourceStatus moves a resource through its state machine. An empty
// status means idle.
func (s *Store) SetResourceStatus(ctx context.Context, resourceID, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE catalog SET status = ? WHERE resource_id = ?`, status, resourceID)
	if err != nil {
		return fmt.Errorf("set status %q on resource %s: %w", status, resourceID, err)
	}
	return nil
}

// MarkChecked stamps last_check_at and clears the one-shot priority flag
// after a successful probe.
func (s *Store) MarkChecked(ctx context.Context, resourceID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE catalog SET last_check_at = ?, priority = 0 WHERE resource_id = ?`, fmtTime(at), resourceID)
	if err != nil {
		return fmt.Errorf("mark resource %s checked: %w", resourceID, err)
	}
	return nil
}

// Candidate pairs a check-eligible resource with the scheduling facts of its
// latest non-deleted check. LastCheck fields are nil when the resource has
// never been probed.
type Candidate struct {
	Resource               models.Resource
	LastCheckID            *int64
	LastCheckAt            *time.Time
	DetectedLastModifiedAt *time.Time
}

// CheckCandidates lists all resources whose status allows a probe, priority
// resources first, least-recently-checked next. Exclusion patterns and the
// freshness rule are applied by the scheduler.
func (s *Store) CheckCandidates(ctx context.Context) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.dataset_id, r.resource_id, r.url, r.deleted, r.priority, r.status,
		       r.harvest_modified_at, r.last_check_at,
		       k.id, k.created_at, k.detected_last_modified_at
		FROM catalog r
		LEFT JOIN checks k ON k.id = (
			SELECT c.id FROM checks c
			WHERE c.resource_id = r.resource_id AND c.deleted = 0
			ORDER BY c.created_at DESC, c.id DESC LIMIT 1)
		WHERE r.deleted = 0 AND (r.status = '' OR r.status = ?)
		ORDER BY r.priority DESC, r.last_check_at ASC`, models.StatusBackoff)
	if err != nil {
		return nil, fmt.Errorf("query check candidates: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		var harvest, lastCheck, checkCreated, checkModified sql.NullString
		var checkID sql.NullInt64
		err := rows.Scan(
			&c.Resource.ID, &c.Resource.DatasetID, &c.Resource.ResourceID, &c.Resource.URL,
			&c.Resource.Deleted, &c.Resource.Priority, &c.Resource.Status,
			&harvest, &lastCheck,
			&checkID, &checkCreated, &checkModified)
		if err != nil {
			return nil, fmt.Errorf("scan check candidate: %w", err)
		}
		c.Resource.HarvestModifiedAt = parseTimeNull(harvest)
		c.Resource.LastCheckAt = parseTimeNull(lastCheck)
		c.LastCheckID = nullInt(checkID)
		c.LastCheckAt = parseTimeNull(checkCreated)
		c.DetectedLastModifiedAt = parseTimeNull(checkModified)
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}
