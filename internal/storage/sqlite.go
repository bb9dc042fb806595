package storage

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/statmeta/go-stat-catalog/internal/logger"
	"github.com/statmeta/go-stat-catalog/internal/types"
)

// SQLiteStorage writes the catalog into two tables: `catalog` with one
// column per output column, and `skipped` with the skip list. Existing
// tables are replaced, matching the overwrite semantics of the file sinks.
type SQLiteStorage struct {
	path string
}

func (s *SQLiteStorage) Write(cat *types.Catalog, stats types.CatalogStats) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", s.path, err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cols := make([]string, len(cat.Columns))
	marks := make([]string, len(cat.Columns))
	for i, c := range cat.Columns {
		cols[i] = quoteIdent(c) + " TEXT"
		marks[i] = "?"
	}
	ddl := []string{
		`DROP TABLE IF EXISTS catalog`,
		`DROP TABLE IF EXISTS skipped`,
		fmt.Sprintf("CREATE TABLE catalog (%s)", strings.Join(cols, ", ")),
		`CREATE TABLE skipped (source TEXT, reason TEXT)`,
	}
	for _, stmt := range ddl {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("preparing schema: %w", err)
		}
	}

	insert, err := tx.Prepare(fmt.Sprintf("INSERT INTO catalog VALUES (%s)", strings.Join(marks, ", ")))
	if err != nil {
		return err
	}
	defer insert.Close()
	rows := 0
	for _, g := range cat.Groups {
		for _, row := range g.Rows {
			args := make([]interface{}, len(row))
			for i, cell := range row {
				args[i] = cell
			}
			if _, err := insert.Exec(args...); err != nil {
				return fmt.Errorf("inserting row from %s: %w", g.Source, err)
			}
			rows++
		}
	}
	for _, skip := range cat.Skipped {
		if _, err := tx.Exec(`INSERT INTO skipped VALUES (?, ?)`, skip.Source, skip.Reason); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Infof("Wrote %d rows and %d skip records to %s", rows, len(cat.Skipped), s.path)
	return nil
}

// quoteIdent quotes a column name for SQLite; attribute names may carry
// arbitrary characters.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
