package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/statmeta/go-stat-catalog/internal/config"
	"github.com/statmeta/go-stat-catalog/internal/logger"
	"github.com/statmeta/go-stat-catalog/internal/sniffer"
)

// Scanner discovers candidate dataset files from the configured inputs:
// files are taken as given, directories are walked recursively. The
// extension and filename filters run here so the worker pool only ever
// sees plausible work.
type Scanner struct {
	cfg  *config.Config
	exts map[string]bool
}

// NewScanner builds a scanner for the configured format families.
func NewScanner(cfg *config.Config) *Scanner {
	exts := make(map[string]bool)
	for _, family := range cfg.Formats {
		for _, ext := range sniffer.FormatsFor(family) {
			exts[ext] = true
		}
	}
	return &Scanner{cfg: cfg, exts: exts}
}

// Scan resolves the inputs into an ordered list of file paths. Inputs that
// do not exist are reported in notFound rather than aborting discovery.
func (s *Scanner) Scan(inputs []string) (paths []string, notFound []string, err error) {
	for _, item := range inputs {
		item = filepath.Clean(item)
		info, statErr := os.Stat(item)
		switch {
		case statErr != nil:
			notFound = append(notFound, item)
		case info.IsDir():
			walkErr := filepath.Walk(item, func(path string, fi os.FileInfo, err error) error {
				if err != nil {
					logger.Warningf("Skipping unreadable entry %s: %v", path, err)
					return nil
				}
				if fi.IsDir() {
					return nil
				}
				if s.accept(path) {
					paths = append(paths, path)
				}
				return nil
			})
			if walkErr != nil {
				return nil, nil, fmt.Errorf("walking %s: %w", item, walkErr)
			}
		default:
			if s.accept(item) {
				paths = append(paths, item)
			} else {
				logger.Debugf("Listed file %s does not match the active filters", item)
			}
		}
	}
	return paths, notFound, nil
}

// accept applies the extension set and the filename pattern. Both look
// through compression wrapper extensions, so survey.sav.gz is treated as
// survey.sav.
func (s *Scanner) accept(path string) bool {
	base := sniffer.BaseName(filepath.Base(path))
	ext := strings.ToLower(filepath.Ext(base))
	if !s.exts[ext] {
		return false
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return s.cfg.MatchFilename(stem)
}
