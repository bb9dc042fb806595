// Package sniffer classifies a file into one of the supported statistical
// container formats. The extension decides the family; a short magic-byte
// check settles sub-variants that share an extension. The sniffer never
// reads more of the file than the decision needs.
package sniffer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/statmeta/go-stat-catalog/internal/parse"
)

// ErrUnsupportedFormat reports a file outside the supported format set.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Variant refines parse.Format where one family has distinct on-disk
// sub-variants behind the same extension set.
type Variant int

const (
	VariantNone Variant = iota
	VariantSavPlain
	VariantSavCompressed // zsav, magic $FL3
	VariantSAS7BDAT
	VariantXport // SAS transport container
)

// Result is a pure classification; no file state is retained.
type Result struct {
	Format  parse.Format
	Variant Variant
}

// extensionFormats is the authoritative first pass, matched
// case-insensitively. The sets come from the catalog tool this engine
// serves: spss = sav/zsav, spsspor = por, sas = sas7bdat and friends plus
// transport, stata = dta.
var extensionFormats = map[string]parse.Format{
	".sav":      parse.FormatSPSSSav,
	".zsav":     parse.FormatSPSSSav,
	".por":      parse.FormatSPSSPor,
	".sas7bdat": parse.FormatSAS,
	".sd7":      parse.FormatSAS,
	".sd2":      parse.FormatSAS,
	".ssd01":    parse.FormatSAS,
	".ssd04":    parse.FormatSAS,
	".xpt":      parse.FormatSAS,
	".dta":      parse.FormatStata,
}

var (
	magicSav   = []byte("$FL2")
	magicZsav  = []byte("$FL3")
	magicXport = []byte("HEADER RECORD*******LIB")
	magicStata = []byte("<stata_dta>")
	magicSAS7  = sas7bdatMagic()
)

// sas7bdatMagic is the fixed 32-byte signature at the start of every
// sas7bdat file.
func sas7bdatMagic() []byte {
	return []byte{
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0xc2, 0xea, 0x81, 0x60,
		0xb3, 0x14, 0x11, 0xcf, 0xbd, 0x92, 0x08, 0x00,
		0x09, 0xc7, 0x31, 0x8c, 0x18, 0x1f, 0x10, 0x11,
	}
}

// FormatsFor maps a family tag from the run configuration to its extension
// set, lower-cased and dot-prefixed.
func FormatsFor(family string) []string {
	switch strings.ToLower(family) {
	case "spss":
		return []string{".sav", ".zsav"}
	case "spsspor":
		return []string{".por"}
	case "sas":
		return []string{".sas7bdat", ".sd7", ".sd2", ".ssd01", ".ssd04", ".xpt"}
	case "stata":
		return []string{".dta"}
	default:
		return nil
	}
}

// Sniff classifies a file from its name and leading bytes. r must be
// positioned at the start of the (already unwrapped) byte stream; Sniff
// reads at most 64 bytes and rewinds before returning.
func Sniff(r io.ReadSeeker, name string) (Result, error) {
	ext := strings.ToLower(filepath.Ext(BaseName(name)))
	format, ok := extensionFormats[ext]
	if !ok {
		return Result{}, fmt.Errorf("%w: extension %q", ErrUnsupportedFormat, ext)
	}

	head := make([]byte, 64)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return Result{}, fmt.Errorf("%w: unreadable header: %v", ErrUnsupportedFormat, err)
	}
	head = head[:n]
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Result{}, err
	}

	switch format {
	case parse.FormatSPSSSav:
		if bytes.HasPrefix(head, magicZsav) {
			return Result{Format: format, Variant: VariantSavCompressed}, nil
		}
		if bytes.HasPrefix(head, magicSav) {
			return Result{Format: format, Variant: VariantSavPlain}, nil
		}
		return Result{}, fmt.Errorf("%w: %s lacks the $FL2/$FL3 signature", ErrUnsupportedFormat, name)
	case parse.FormatSPSSPor:
		// Portable files open with 200 bytes of vanity splash; the real
		// signature sits past the translation table, so the extension is
		// trusted here and the parser verifies the signature itself.
		return Result{Format: format}, nil
	case parse.FormatSAS:
		if bytes.HasPrefix(head, magicXport) {
			return Result{Format: format, Variant: VariantXport}, nil
		}
		if len(head) >= len(magicSAS7) && bytes.Equal(head[:len(magicSAS7)], magicSAS7) {
			return Result{Format: format, Variant: VariantSAS7BDAT}, nil
		}
		return Result{}, fmt.Errorf("%w: %s matches no SAS signature", ErrUnsupportedFormat, name)
	case parse.FormatStata:
		if bytes.HasPrefix(head, magicStata) {
			return Result{Format: format}, nil
		}
		// Legacy dta has no magic string: byte 0 is the release, byte 1 the
		// byte order, byte 2 the filetype (always 1).
		if len(head) >= 3 && head[0] >= 0x69 && head[0] <= 0x73 &&
			(head[1] == 0x01 || head[1] == 0x02) && head[2] == 0x01 {
			return Result{Format: format}, nil
		}
		return Result{}, fmt.Errorf("%w: %s is not a Stata dataset", ErrUnsupportedFormat, name)
	}
	return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
}

// BaseName strips any compression wrapper extension so that sniffing and
// filename filtering see the dataset's own name (x.sav.gz -> x.sav).
func BaseName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := wrapperDecoders[ext]; ok {
		return strings.TrimSuffix(name, filepath.Ext(name))
	}
	return name
}
