// Package storage persists a finished catalog. Three sinks share one
// interface: JSON (the default), CSV for spreadsheet use, and a SQLite
// table for downstream querying. A .gz output path transparently
// gzip-compresses the JSON and CSV sinks.
package storage

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/statmeta/go-stat-catalog/internal/types"
)

// Storage writes one catalog to its destination.
type Storage interface {
	Write(cat *types.Catalog, stats types.CatalogStats) error
}

// New selects a sink by format name for the given output path.
func New(format, path string) (Storage, error) {
	switch format {
	case "json":
		return &JSONStorage{path: path}, nil
	case "csv":
		return &CSVStorage{path: path}, nil
	case "sqlite":
		return &SQLiteStorage{path: path}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// createOutput opens the output file, wrapping it in a gzip writer when
// the path asks for one. The returned closer flushes everything.
func createOutput(path string) (io.Writer, io.Closer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		return f, f, nil
	}
	zw := gzip.NewWriter(f)
	return zw, &stackedCloser{first: zw, second: f}, nil
}

type stackedCloser struct {
	first, second io.Closer
}

func (c *stackedCloser) Close() error {
	if err := c.first.Close(); err != nil {
		c.second.Close()
		return err
	}
	return c.second.Close()
}
