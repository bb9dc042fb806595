// Package config holds the run configuration: which format families to
// catalog, the requested attributes, the filters, and the output and
// concurrency settings. A Config is validated once and then threaded,
// immutable, through every component.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/statmeta/go-stat-catalog/internal/resolve"
)

// Config holds the application configuration.
type Config struct {
	// Main settings
	Inputs         []string `yaml:"inputs"`
	Formats        []string `yaml:"formats"`
	AttributeNames []string `yaml:"attributes"`
	AttrLength     int      `yaml:"attr_length"`
	ValueLabels    bool     `yaml:"value_labels"`
	LabelLength    int      `yaml:"label_length"`

	// Filters (anchored at the start, case-insensitive)
	FilenamePattern string `yaml:"filename_pattern"`
	VarnamePattern  string `yaml:"varname_pattern"`

	// Output settings
	OutputFile   string `yaml:"output"`
	OutputFormat string `yaml:"output_format"` // json, csv or sqlite
	HashFiles    bool   `yaml:"hash_files"`

	// Concurrency settings
	Workers        int `yaml:"workers"`
	TimeoutSeconds int `yaml:"timeout"`

	// Compiled forms, populated by Validate.
	filenameRe *regexp.Regexp
	varnameRe  *regexp.Regexp
}

// Defaults mirrors the catalog tool's historical defaults: SPSS files only,
// 256-character attribute values.
func Defaults() Config {
	return Config{
		Formats:      []string{"spss"},
		AttrLength:   256,
		LabelLength:  256,
		OutputFile:   "catalog.json",
		OutputFormat: "json",
		Workers:      4,
	}
}

// LoadFile merges settings from a YAML config file beneath the receiver's
// zero-valued fields, so command-line flags stay authoritative.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration and compiles the filter patterns.
// A requested attribute colliding with a reserved output column is fatal
// here, before any file is opened: the request is unsatisfiable.
func (c *Config) Validate() error {
	if err := resolve.CheckAttributeNames(c.AttributeNames); err != nil {
		return err
	}
	attrSeen := map[string]bool{}
	for _, name := range c.AttributeNames {
		// Attribute lookup and the output columns are case-insensitive, so
		// case-only variants collide just like exact repeats.
		key := strings.ToLower(name)
		if attrSeen[key] {
			return fmt.Errorf("attribute %q requested twice", name)
		}
		attrSeen[key] = true
	}
	if c.AttrLength <= 0 {
		return fmt.Errorf("attr-length must be positive, got %d", c.AttrLength)
	}
	if c.LabelLength <= 0 {
		return fmt.Errorf("label-length must be positive, got %d", c.LabelLength)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	seen := map[string]bool{}
	for _, f := range c.Formats {
		key := strings.ToLower(f)
		switch key {
		case "spss", "spsspor", "sas", "stata":
		default:
			return fmt.Errorf("unknown format family %q", f)
		}
		if seen[key] {
			return fmt.Errorf("format family %q listed twice", f)
		}
		seen[key] = true
	}
	switch c.OutputFormat {
	case "json", "csv", "sqlite":
	default:
		return fmt.Errorf("unknown output format %q", c.OutputFormat)
	}

	var err error
	if c.filenameRe, err = compileAnchored(c.FilenamePattern); err != nil {
		return fmt.Errorf("invalid file name pattern %q: %w", c.FilenamePattern, err)
	}
	if c.varnameRe, err = compileAnchored(c.VarnamePattern); err != nil {
		return fmt.Errorf("invalid variable name pattern %q: %w", c.VarnamePattern, err)
	}
	return nil
}

// compileAnchored compiles a pattern anchored at the start of its subject
// and matched case-insensitively; the empty pattern matches everything.
func compileAnchored(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile("(?i)^(?:" + pattern + ")")
}

// MatchFilename applies the filename filter to a base name without its
// extension.
func (c *Config) MatchFilename(stem string) bool {
	return c.filenameRe == nil || c.filenameRe.MatchString(stem)
}

// MatchVarname applies the variable name filter.
func (c *Config) MatchVarname(name string) bool {
	return c.varnameRe == nil || c.varnameRe.MatchString(name)
}

// Columns builds the output header: reserved columns, requested attributes
// in request order, then the value-label columns when enabled.
func (c *Config) Columns() []string {
	cols := []string{resolve.ColumnSource, resolve.ColumnVariableName, resolve.ColumnVariableLabel}
	cols = append(cols, c.AttributeNames...)
	if c.ValueLabels {
		cols = append(cols, "label_count", "label_text")
	}
	return cols
}
