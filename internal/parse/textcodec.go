package parse

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// TextCodec decodes dictionary strings from a file's declared encoding into
// UTF-8. Decoding is strict: bytes the encoding cannot represent are an
// error, not a replacement character.
type TextCodec struct {
	name string
	enc  encoding.Encoding
	utf8 bool
}

// codecsByName maps the encoding names and codepage aliases seen in the wild
// across the three families. Lookup is case-insensitive.
var codecsByName = map[string]encoding.Encoding{
	"utf-8":        unicode.UTF8,
	"utf8":         unicode.UTF8,
	"65001":        unicode.UTF8,
	"windows-1250": charmap.Windows1250,
	"cp1250":       charmap.Windows1250,
	"1250":         charmap.Windows1250,
	"windows-1251": charmap.Windows1251,
	"cp1251":       charmap.Windows1251,
	"1251":         charmap.Windows1251,
	"windows-1252": charmap.Windows1252,
	"cp1252":       charmap.Windows1252,
	"1252":         charmap.Windows1252,
	"windows-1253": charmap.Windows1253,
	"cp1253":       charmap.Windows1253,
	"1253":         charmap.Windows1253,
	"windows-1254": charmap.Windows1254,
	"cp1254":       charmap.Windows1254,
	"1254":         charmap.Windows1254,
	"windows-1255": charmap.Windows1255,
	"1255":         charmap.Windows1255,
	"windows-1256": charmap.Windows1256,
	"1256":         charmap.Windows1256,
	"windows-1257": charmap.Windows1257,
	"1257":         charmap.Windows1257,
	"windows-1258": charmap.Windows1258,
	"1258":         charmap.Windows1258,
	"iso-8859-1":   charmap.ISO8859_1,
	"iso8859-1":    charmap.ISO8859_1,
	"latin1":       charmap.ISO8859_1,
	"latin-1":      charmap.ISO8859_1,
	"28591":        charmap.ISO8859_1,
	"iso-8859-2":   charmap.ISO8859_2,
	"latin2":       charmap.ISO8859_2,
	"cyrillic":     charmap.ISO8859_5,
	"us-ascii":     charmap.Windows1252,
	"iso-8859-5":   charmap.ISO8859_5,
	"iso-8859-7":   charmap.ISO8859_7,
	"iso-8859-9":   charmap.ISO8859_9,
	"iso-8859-15":  charmap.ISO8859_15,
	"cp850":        charmap.CodePage850,
	"850":          charmap.CodePage850,
	"cp437":        charmap.CodePage437,
	"437":          charmap.CodePage437,
	"koi8-r":       charmap.KOI8R,
	"ascii":        charmap.Windows1252, // strict ASCII is a 1252 subset
	"2":            charmap.Windows1252, // SPSS machine-info code for 7-bit ASCII
}

// CodecFor resolves an encoding name or numeric codepage. The empty string
// falls back to windows-1252, the historical single-byte default of all
// three families.
func CodecFor(name string) (*TextCodec, bool) {
	if name == "" {
		name = "windows-1252"
	}
	key := strings.ToLower(strings.TrimSpace(name))
	enc, ok := codecsByName[key]
	if !ok {
		return nil, false
	}
	return &TextCodec{name: key, enc: enc, utf8: enc == unicode.UTF8}, true
}

// MustCodec is CodecFor for encodings known at compile time.
func MustCodec(name string) *TextCodec {
	c, ok := CodecFor(name)
	if !ok {
		panic("textcodec: unknown encoding " + name)
	}
	return c
}

// Name reports the resolved encoding name.
func (c *TextCodec) Name() string { return c.name }

// Decode converts raw dictionary bytes to a UTF-8 string. Returns false when
// the bytes are not valid in the codec's encoding.
func (c *TextCodec) Decode(raw []byte) (string, bool) {
	if c.utf8 {
		if !utf8.Valid(raw) {
			return "", false
		}
		return string(raw), true
	}
	decoded, err := c.enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	// Single-byte decoders map unassigned positions to U+FFFD rather than
	// erroring; surface those as failures too.
	if strings.ContainsRune(string(decoded), utf8.RuneError) {
		return "", false
	}
	return string(decoded), true
}

// DecodeTrim decodes and strips trailing blanks and NULs, the padding used
// by the fixed-width dictionary fields in every family.
func (c *TextCodec) DecodeTrim(raw []byte) (string, bool) {
	s, ok := c.Decode(raw)
	if !ok {
		return "", false
	}
	return strings.TrimRight(s, " \x00"), true
}
