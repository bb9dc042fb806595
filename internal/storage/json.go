package storage

import (
	"encoding/json"
	"time"

	"github.com/statmeta/go-stat-catalog/internal/logger"
	"github.com/statmeta/go-stat-catalog/internal/types"
)

// JSONOutput is the JSON document layout: the run summary, the shared
// column header, one group per cataloged file, and the skip list.
type JSONOutput struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Stats       types.CatalogStats `json:"stats"`
	Columns     []string           `json:"columns"`
	Files       []types.FileGroup  `json:"files"`
	Skipped     []types.SkipRecord `json:"skipped"`
}

// JSONStorage writes the catalog as an indented JSON document.
type JSONStorage struct {
	path string
}

func (s *JSONStorage) Write(cat *types.Catalog, stats types.CatalogStats) error {
	w, closer, err := createOutput(s.path)
	if err != nil {
		return err
	}
	defer closer.Close()

	out := JSONOutput{
		GeneratedAt: time.Now(),
		Stats:       stats,
		Columns:     cat.Columns,
		Files:       cat.Groups,
		Skipped:     cat.Skipped,
	}
	if out.Files == nil {
		out.Files = []types.FileGroup{}
	}
	if out.Skipped == nil {
		out.Skipped = []types.SkipRecord{}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(out); err != nil {
		return err
	}
	logger.Infof("Wrote %d file groups (%d skipped) to %s", len(out.Files), len(out.Skipped), s.path)
	return nil
}
