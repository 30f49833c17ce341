package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Column describes one column of a materialized per-resource table. Format is
// a profile type: int, float, bool, date, datetime, json or string.
type Column struct {
	Name   string
	Format string
}

// Postgres system column names (plus the synthetic primary key) that cannot
// be used as user column names; they get renamed on materialization. The set
// is part of the public contract since materialized tables may be replicated
// into Postgres downstream.
var reservedColumnNames = map[string]bool{
	"xmin":     true,
	"xmax":     true,
	"cmin":     true,
	"cmax":     true,
	"ctid":     true,
	"tableoid": true,
	"oid":      true,
	"__id":     true,
}

// SafeColumnName returns the column name to materialize: reserved identifiers
// get a "__hydra_renamed" suffix, everything else survives verbatim.
func SafeColumnName(name string) string {
	if reservedColumnNames[strings.ToLower(name)] {
		return name + "__hydra_renamed"
	}
	return name
}

// quoteIdentifier double-quotes an identifier, escaping internal quotes. DDL
// cannot take bound parameters, so this is the injection barrier: any SQL
// fragment inside a column or table name lands inside the quoted identifier.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlType(format string) string {
	switch format {
	case "int":
		return "INTEGER"
	case "float":
		return "REAL"
	case "bool":
		return "BOOLEAN"
	case "date":
		return "DATE"
	case "datetime":
		return "TIMESTAMP"
	default:
		// json stays textual on purpose, everything unknown degrades to text.
		return "TEXT"
	}
}

// ReplaceTable atomically replaces the named table with one holding the given
// rows. The drop, create and load happen in a single transaction so readers
// never observe a partial table; on error the previous table survives.
// Optional indexes ({column: "unique"|"index"}) are created after the load.
func (s *Store) ReplaceTable(ctx context.Context, name string, columns []Column, rows [][]any, indexes map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin table replace: %w", err)
	}
	defer tx.Rollback()

	quoted := quoteIdentifier(name)
	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+quoted); err != nil {
		return fmt.Errorf("drop table %s: %w", name, err)
	}

	defs := make([]string, 0, len(columns)+1)
	defs = append(defs, `"__id" INTEGER PRIMARY KEY`)
	for _, col := range columns {
		defs = append(defs, quoteIdentifier(SafeColumnName(col.Name))+" "+sqlType(col.Format))
	}
	createStmt := `CREATE TABLE ` + quoted + ` (` + strings.Join(defs, ", ") + `)`
	if _, err := tx.ExecContext(ctx, createStmt); err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)+1), ", ")
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+quoted+` VALUES (`+placeholders+`)`)
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", name, err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if len(row) != len(columns) {
			return fmt.Errorf("row %d has %d values, want %d", i+1, len(row), len(columns))
		}
		args := make([]any, 0, len(row)+1)
		args = append(args, i+1)
		for j, val := range row {
			args = append(args, bindValue(val, columns[j].Format))
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert row %d into %s: %w", i+1, name, err)
		}
	}

	for column, kind := range indexes {
		unique := ""
		if kind == "unique" {
			unique = "UNIQUE "
		}
		idxName := quoteIdentifier("idx_" + name + "_" + column)
		colName := quoteIdentifier(SafeColumnName(column))
		if _, err := tx.ExecContext(ctx, `CREATE `+unique+`INDEX `+idxName+` ON `+quoted+` (`+colName+`)`); err != nil {
			return fmt.Errorf("create index on %s(%s): %w", name, column, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit table replace %s: %w", name, err)
	}
	log.Debug().Str("table", name).Int("rows", len(rows)).Msg("Table materialized")
	return nil
}

// bindValue converts a coerced cell value into something the driver binds as
// the declared column type.
func bindValue(val any, format string) any {
	if val == nil {
		return nil
	}
	if t, ok := val.(time.Time); ok {
		if format == "date" {
			return t.Format("2006-01-02")
		}
		return t.Format("2006-01-02 15:04:05")
	}
	return val
}

// DropTable removes a materialized table if it exists.
func (s *Store) DropTable(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+quoteIdentifier(name))
	if err != nil {
		return fmt.Errorf("drop table %s: %w", name, err)
	}
	return nil
}

// TableExists reports whether a table with the given name exists.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("table exists %s: %w", name, err)
	}
	return n > 0, nil
}

// TableRowCount counts the rows of a materialized table.
func (s *Store) TableRowCount(ctx context.Context, name string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+quoteIdentifier(name)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rows of %s: %w", name, err)
	}
	return n, nil
}

// TableRows returns all rows of a materialized table keyed by column name,
// ordered by the synthetic primary key.
func (s *Store) TableRows(ctx context.Context, name string) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT * FROM `+quoteIdentifier(name)+` ORDER BY "__id"`)
	if err != nil {
		return nil, fmt.Errorf("select rows of %s: %w", name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row of %s: %w", name, err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
