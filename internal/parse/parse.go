// Package parse defines the common contract shared by the format-family
// parsers and the failure taxonomy they report. Parsers read only the
// dictionary portion of a file; case data is never materialized.
package parse

import (
	"io"

	"github.com/statmeta/go-stat-catalog/internal/types"
)

// Format tags the closed set of supported container formats.
type Format int

const (
	FormatUnknown Format = iota
	FormatSPSSSav        // .sav / .zsav binary system files
	FormatSPSSPor        // .por portable files
	FormatSAS            // .sas7bdat family and .xpt transport
	FormatStata          // .dta
)

func (f Format) String() string {
	switch f {
	case FormatSPSSSav:
		return "spss"
	case FormatSPSSPor:
		return "spsspor"
	case FormatSAS:
		return "sas"
	case FormatStata:
		return "stata"
	default:
		return "unknown"
	}
}

// Parser extracts a variable dictionary from one file. Implementations must
// consume exactly the variable count the header declares and fail with a
// typed Error otherwise; a partial dictionary is never returned.
type Parser interface {
	Parse(r io.ReadSeeker, source string) (*types.VariableDictionary, error)
}
