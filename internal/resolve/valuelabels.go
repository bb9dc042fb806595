package resolve

import (
	"strings"

	"github.com/statmeta/go-stat-catalog/internal/types"
)

// LabelSummary is the value-label roll-up for one variable: how many coded
// values carry labels, and their label texts joined for display.
type LabelSummary struct {
	Count int
	Text  string
}

// SummarizeLabels joins the variable's label texts, in insertion order,
// with a semicolon separator, truncated to maxLen characters.
//
// A label containing a literal semicolon is indistinguishable downstream
// from two separate labels. That lossiness is part of the established
// output format and is preserved here for compatibility, not resolved.
func SummarizeLabels(labels []types.ValueLabel, maxLen int) LabelSummary {
	texts := make([]string, 0, len(labels))
	for _, l := range labels {
		texts = append(texts, l.Label)
	}
	return LabelSummary{
		Count: len(labels),
		Text:  Truncate(strings.Join(texts, ";"), maxLen),
	}
}
