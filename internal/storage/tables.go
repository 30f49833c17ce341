package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/datagouv/hydra-go/internal/models"
)

// UpsertTableIndex records (or replaces) the profile of a materialized table
// for a resource.
func (s *Store) UpsertTableIndex(ctx context.Context, resourceID, tableName, profileJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tables_index (resource_id, table_name, csv_detective, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (resource_id) DO UPDATE SET
			table_name = excluded.table_name,
			csv_detective = excluded.csv_detective,
			created_at = excluded.created_at`,
		resourceID, tableName, profileJSON, fmtTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert tables_index for %s: %w", resourceID, err)
	}
	return nil
}

// GetTableIndex returns the tables_index entry for a resource, or ErrNotFound.
func (s *Store) GetTableIndex(ctx context.Context, resourceID string) (*models.TableIndexEntry, error) {
	var entry models.TableIndexEntry
	var created string
	err := s.db.QueryRowContext(ctx, `
		SELECT resource_id, table_name, csv_detective, created_at
		FROM tables_index WHERE resource_id = ?`, resourceID).
		Scan(&entry.ResourceID, &entry.TableName, &entry.CSVProfile, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tables_index for %s: %w", resourceID, err)
	}
	entry.CreatedAt = parseTime(created)
	return &entry, nil
}

// GetResourceException returns the size-cap exception for a resource, or
// ErrNotFound when none exists.
func (s *Store) GetResourceException(ctx context.Context, resourceID string) (*models.ResourceException, error) {
	var exc models.ResourceException
	var indexes, created string
	err := s.db.QueryRowContext(ctx, `
		SELECT resource_id, table_indexes, created_at
		FROM resources_exceptions WHERE resource_id = ?`, resourceID).
		Scan(&exc.ResourceID, &indexes, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get resource exception for %s: %w", resourceID, err)
	}
	if err := json.Unmarshal([]byte(indexes), &exc.TableIndexes); err != nil {
		return nil, fmt.Errorf("unmarshal table_indexes for %s: %w", resourceID, err)
	}
	exc.CreatedAt = parseTime(created)
	return &exc, nil
}

// InsertResourceException allows an oversized resource through the size cap.
// The resource must already exist in the catalog.
func (s *Store) InsertResourceException(ctx context.Context, resourceID string, tableIndexes map[string]string) (*models.ResourceException, error) {
	if _, err := s.GetResource(ctx, resourceID); err != nil {
		return nil, fmt.Errorf("resource %s: %w", resourceID, err)
	}
	for column, kind := range tableIndexes {
		if kind != "unique" && kind != "index" {
			return nil, fmt.Errorf("invalid index type %q for column %q", kind, column)
		}
	}
	if tableIndexes == nil {
		tableIndexes = map[string]string{}
	}
	indexes, err := json.Marshal(tableIndexes)
	if err != nil {
		return nil, fmt.Errorf("marshal table_indexes: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resources_exceptions (resource_id, table_indexes, created_at)
		VALUES (?, ?, ?)`, resourceID, string(indexes), fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert resource exception for %s: %w", resourceID, err)
	}
	return &models.ResourceException{ResourceID: resourceID, TableIndexes: tableIndexes, CreatedAt: now}, nil
}
