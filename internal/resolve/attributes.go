// Package resolve turns a parsed variable dictionary into catalog cell
// values: requested custom attributes and the optional value-label summary.
package resolve

import (
	"fmt"
	"strings"

	"github.com/statmeta/go-stat-catalog/internal/types"
)

// Reserved output column names. A requested attribute may not shadow them.
const (
	ColumnSource        = "source"
	ColumnVariableName  = "VariableName"
	ColumnVariableLabel = "VariableLabel"
)

// ReservedNameConflict reports a requested attribute that collides with a
// reserved output column. It is a configuration error and fails the run
// before any file is opened.
type ReservedNameConflict struct {
	Name string
}

func (e *ReservedNameConflict) Error() string {
	return fmt.Sprintf("attribute name %q collides with a reserved output column", e.Name)
}

// CheckAttributeNames validates the requested attribute list against the
// reserved columns, case-insensitively.
func CheckAttributeNames(names []string) error {
	for _, n := range names {
		switch strings.ToLower(n) {
		case strings.ToLower(ColumnSource),
			strings.ToLower(ColumnVariableName),
			strings.ToLower(ColumnVariableLabel):
			return &ReservedNameConflict{Name: n}
		}
	}
	return nil
}

// Attributes resolves the requested attribute names for one variable, in
// request order. An absent attribute resolves to the empty string; an
// array-valued attribute contributes its first element only. Values are
// hard-truncated to maxLen characters with no word-boundary awareness.
func Attributes(v *types.VariableMeta, requested []string, maxLen int) []string {
	out := make([]string, 0, len(requested))
	for _, name := range requested {
		values := v.Attribute(name)
		if len(values) == 0 {
			out = append(out, "")
			continue
		}
		out = append(out, Truncate(values[0], maxLen))
	}
	return out
}

// Truncate hard-truncates s to max characters (not bytes, so multibyte
// text is never cut mid-rune). max <= 0 means no limit.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
