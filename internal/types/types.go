package types

import (
	"strings"
	"time"
)

// TypeTag classifies a variable for display purposes only.
type TypeTag int

const (
	TypeNumeric TypeTag = iota
	TypeString
	TypeDateTime
)

func (t TypeTag) String() string {
	switch t {
	case TypeNumeric:
		return "numeric"
	case TypeString:
		return "string"
	case TypeDateTime:
		return "datetime"
	default:
		return "unknown"
	}
}

// ValueLabel is one coded-value-to-display-text entry. The coded value is
// carried as text regardless of its on-disk type so that all formats share
// one representation.
type ValueLabel struct {
	Value string
	Label string
}

// Attribute is one custom attribute. Values holds every element for
// array-valued attributes; scalar attributes have exactly one element.
type Attribute struct {
	Name   string
	Values []string
}

// VariableMeta is the parsed metadata for a single variable.
type VariableMeta struct {
	Name        string
	Label       string
	Type        TypeTag
	ValueLabels []ValueLabel
	Attributes  []Attribute
}

// SetValueLabel appends or, if the coded value was already labeled,
// overwrites in place. Last write wins; insertion order is preserved.
func (v *VariableMeta) SetValueLabel(value, label string) {
	for i := range v.ValueLabels {
		if v.ValueLabels[i].Value == value {
			v.ValueLabels[i].Label = label
			return
		}
	}
	v.ValueLabels = append(v.ValueLabels, ValueLabel{Value: value, Label: label})
}

// SetAttribute replaces an existing attribute of the same name or appends a
// new one. Attribute names compare case-insensitively, matching the source
// formats' dictionaries. Last write wins.
func (v *VariableMeta) SetAttribute(name string, values []string) {
	for i := range v.Attributes {
		if strings.EqualFold(v.Attributes[i].Name, name) {
			v.Attributes[i] = Attribute{Name: name, Values: values}
			return
		}
	}
	v.Attributes = append(v.Attributes, Attribute{Name: name, Values: values})
}

// Attribute returns the values stored under name, or nil when absent.
func (v *VariableMeta) Attribute(name string) []string {
	for i := range v.Attributes {
		if strings.EqualFold(v.Attributes[i].Name, name) {
			return v.Attributes[i].Values
		}
	}
	return nil
}

// VariableDictionary is the metadata summary of one source file. Variables
// appear in on-disk declaration order and are never reordered or
// deduplicated. The dictionary is built once per parsed file and is
// read-only afterwards.
type VariableDictionary struct {
	Source    string
	Variables []VariableMeta
}

// FileGroup is the catalog contribution of one successfully parsed file.
type FileGroup struct {
	Source   string     `json:"source"`
	Format   string     `json:"format"`
	SHA3Hash string     `json:"sha3_hash,omitempty"`
	Rows     [][]string `json:"rows"`
}

// SkipRecord explains why a discovered file produced no catalog rows.
type SkipRecord struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// Catalog is the flattened result of one run: a shared column header, one
// group of rows per surviving file in discovery order, and the skip list.
type Catalog struct {
	Columns []string     `json:"columns"`
	Groups  []FileGroup  `json:"files"`
	Skipped []SkipRecord `json:"skipped"`
}

// Rows returns every row of every group in discovery order.
func (c *Catalog) Rows() [][]string {
	var rows [][]string
	for _, g := range c.Groups {
		rows = append(rows, g.Rows...)
	}
	return rows
}

// CatalogStats holds run statistics for the final summary.
type CatalogStats struct {
	FilesDiscovered int       `json:"files_discovered"`
	FilesCataloged  int       `json:"files_cataloged"`
	FilesSkipped    int       `json:"files_skipped"`
	VariablesListed int       `json:"variables_listed"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
}
