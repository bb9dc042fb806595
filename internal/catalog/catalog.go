// Package catalog runs the extraction engine across the discovered files:
// a bounded worker pool parses files independently, results flow to a
// single collector, and the assembled catalog preserves discovery order
// regardless of worker count.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/statmeta/go-stat-catalog/internal/config"
	"github.com/statmeta/go-stat-catalog/internal/logger"
	"github.com/statmeta/go-stat-catalog/internal/parse"
	"github.com/statmeta/go-stat-catalog/internal/parse/sas"
	"github.com/statmeta/go-stat-catalog/internal/parse/spss"
	"github.com/statmeta/go-stat-catalog/internal/parse/stata"
	"github.com/statmeta/go-stat-catalog/internal/resolve"
	"github.com/statmeta/go-stat-catalog/internal/sniffer"
	"github.com/statmeta/go-stat-catalog/internal/types"
)

// Runner executes one catalog run over a fixed configuration.
type Runner struct {
	cfg *config.Config

	savParser   parse.Parser
	porParser   parse.Parser
	sasParser   parse.Parser
	xportParser parse.Parser
	dtaParser   parse.Parser

	stats      types.CatalogStats
	statsMutex sync.RWMutex
}

// New creates a Runner. The configuration must already be validated;
// validation failures (such as a reserved attribute name) belong before
// any file is opened.
func New(cfg *config.Config) *Runner {
	return &Runner{
		cfg:         cfg,
		savParser:   &spss.SavParser{},
		porParser:   &spss.PorParser{},
		sasParser:   &sas.SAS7BDATParser{},
		xportParser: &sas.XportParser{},
		dtaParser:   &stata.Parser{},
	}
}

// job is one unit of work: a discovered file and its discovery position.
type job struct {
	index int
	path  string
}

// outcome is what a worker reports back to the collector: exactly one of
// group or skip is set.
type outcome struct {
	index int
	group *types.FileGroup
	skip  *types.SkipRecord
}

// Run discovers, parses and assembles. Per-file failures become skip
// records; only configuration and discovery failures abort the run.
// Cancellation stops dispatching new files; rows from abandoned files are
// never emitted.
func (r *Runner) Run(ctx context.Context, inputs []string) (*types.Catalog, error) {
	r.statsMutex.Lock()
	r.stats = types.CatalogStats{StartTime: time.Now()}
	r.statsMutex.Unlock()

	paths, notFound, err := NewScanner(r.cfg).Scan(inputs)
	if err != nil {
		return nil, err
	}
	logger.Infof("Discovered %d candidate files", len(paths))

	jobs := make(chan job)
	outcomes := make(chan outcome, len(paths))

	var wg sync.WaitGroup
	workers := r.cfg.Workers
	if workers > len(paths) && len(paths) > 0 {
		workers = len(paths)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := range jobs {
				outcomes <- r.processFile(id, j)
			}
		}(i)
	}

dispatch:
	for i, path := range paths {
		select {
		case <-ctx.Done():
			logger.Warningf("Run cancelled after dispatching %d of %d files", i, len(paths))
			break dispatch
		case jobs <- job{index: i, path: path}:
		}
	}
	close(jobs)
	wg.Wait()
	close(outcomes)

	// Assemble in discovery order so worker count never changes output.
	groups := make([]*types.FileGroup, len(paths))
	skips := make([]*types.SkipRecord, len(paths))
	for o := range outcomes {
		groups[o.index] = o.group
		skips[o.index] = o.skip
	}

	cat := &types.Catalog{Columns: r.cfg.Columns()}
	variables := 0
	for i := range paths {
		switch {
		case groups[i] != nil:
			cat.Groups = append(cat.Groups, *groups[i])
			variables += len(groups[i].Rows)
		case skips[i] != nil:
			cat.Skipped = append(cat.Skipped, *skips[i])
		}
		// A nil pair means the job was never dispatched (cancellation);
		// dropped silently per the abandonment contract.
	}
	for _, missing := range notFound {
		cat.Skipped = append(cat.Skipped, types.SkipRecord{Source: missing, Reason: "not found"})
	}

	r.statsMutex.Lock()
	r.stats.FilesDiscovered = len(paths)
	r.stats.FilesCataloged = len(cat.Groups)
	r.stats.FilesSkipped = len(cat.Skipped)
	r.stats.VariablesListed = variables
	r.stats.EndTime = time.Now()
	r.statsMutex.Unlock()

	return cat, nil
}

// Stats returns the statistics of the last run.
func (r *Runner) Stats() types.CatalogStats {
	r.statsMutex.RLock()
	defer r.statsMutex.RUnlock()
	return r.stats
}

// processFile parses one file and flattens it into catalog rows. All
// failure paths release the file handle and degrade to a skip record; a
// bad file never aborts the run.
func (r *Runner) processFile(workerID int, j job) outcome {
	group, err := r.extract(j.path)
	if err != nil {
		logger.Warningf("Worker %d: skipping %s: %v", workerID, j.path, err)
		return outcome{index: j.index, skip: &types.SkipRecord{
			Source: filepath.ToSlash(j.path),
			Reason: skipReason(err),
		}}
	}
	logger.Debugf("Worker %d: cataloged %s (%d rows)", workerID, j.path, len(group.Rows))
	return outcome{index: j.index, group: group}
}

func (r *Runner) extract(path string) (*types.FileGroup, error) {
	reader, closer, err := sniffer.Open(path)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	sniffed, err := sniffer.Sniff(reader, path)
	if err != nil {
		return nil, err
	}
	parser, err := r.parserFor(sniffed)
	if err != nil {
		return nil, err
	}

	source := filepath.ToSlash(path)
	dict, err := parser.Parse(reader, source)
	if err != nil {
		return nil, err
	}

	group := &types.FileGroup{Source: source, Format: sniffed.Format.String()}
	for i := range dict.Variables {
		v := &dict.Variables[i]
		if !r.cfg.MatchVarname(v.Name) {
			continue
		}
		row := []string{source, v.Name, v.Label}
		row = append(row, resolve.Attributes(v, r.cfg.AttributeNames, r.cfg.AttrLength)...)
		if r.cfg.ValueLabels {
			summary := resolve.SummarizeLabels(v.ValueLabels, r.cfg.LabelLength)
			row = append(row, strconv.Itoa(summary.Count), summary.Text)
		}
		group.Rows = append(group.Rows, row)
	}

	if r.cfg.HashFiles {
		hash, err := hashFile(reader)
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", path, err)
		}
		group.SHA3Hash = hash
	}
	return group, nil
}

// parserFor maps a sniff result onto the closed set of family parsers.
func (r *Runner) parserFor(s sniffer.Result) (parse.Parser, error) {
	switch s.Format {
	case parse.FormatSPSSSav:
		return r.savParser, nil
	case parse.FormatSPSSPor:
		return r.porParser, nil
	case parse.FormatSAS:
		if s.Variant == sniffer.VariantXport {
			return r.xportParser, nil
		}
		return r.sasParser, nil
	case parse.FormatStata:
		return r.dtaParser, nil
	}
	return nil, fmt.Errorf("no parser for format %s", s.Format)
}

// skipReason renders the failure kind for the skip list: typed parse
// failures keep their taxonomy, everything else is reported verbatim.
func skipReason(err error) string {
	var perr *parse.Error
	if errors.As(err, &perr) {
		return fmt.Sprintf("%s: %s", perr.Kind, perr.Detail)
	}
	if errors.Is(err, sniffer.ErrUnsupportedFormat) {
		return err.Error()
	}
	return err.Error()
}

// hashFile computes the SHA3-256 of the whole (unwrapped) byte stream for
// provenance records.
func hashFile(r io.ReadSeeker) (string, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	h := sha3.New256()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
