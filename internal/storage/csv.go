package storage

import (
	"encoding/csv"
	"fmt"

	"github.com/statmeta/go-stat-catalog/internal/logger"
	"github.com/statmeta/go-stat-catalog/internal/types"
)

// CSVStorage writes the flattened rows under a single header line. Skip
// records have no place in a flat table and are only logged.
type CSVStorage struct {
	path string
}

func (s *CSVStorage) Write(cat *types.Catalog, stats types.CatalogStats) error {
	w, closer, err := createOutput(s.path)
	if err != nil {
		return err
	}
	defer closer.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write(cat.Columns); err != nil {
		return err
	}
	rows := 0
	for _, g := range cat.Groups {
		for _, row := range g.Rows {
			if len(row) != len(cat.Columns) {
				return fmt.Errorf("row from %s has %d cells, header has %d", g.Source, len(row), len(cat.Columns))
			}
			if err := cw.Write(row); err != nil {
				return err
			}
			rows++
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	for _, skip := range cat.Skipped {
		logger.Warningf("Skipped %s: %s", skip.Source, skip.Reason)
	}
	logger.Infof("Wrote %d rows to %s", rows, s.path)
	return nil
}
