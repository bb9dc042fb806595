package spss

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/statmeta/go-stat-catalog/internal/logger"
	"github.com/statmeta/go-stat-catalog/internal/parse"
	"github.com/statmeta/go-stat-catalog/internal/types"
)

// PorParser reads the dictionary of an SPSS portable file. Portable files
// are a character-oriented communications format: 200 bytes of splash text,
// a 256-byte character translation table, the "SPSSPORT" signature, then
// tagged records until the data tag. Numbers are base-30 with digits 0-9,
// A-T, terminated by '/'.
type PorParser struct{}

// porCharset is the portion of the portable character set the dictionary
// needs. The translation table stores, at index i, the file's byte for
// portable character i; comparing it against this canonical layout yields
// the byte-to-character mapping for files written on EBCDIC or other
// non-ASCII machines.
var porCharset = map[int]byte{
	126: ' ', 127: '.', 128: '<', 129: '(', 130: '+', 131: '|',
	132: '&', 133: '[', 134: ']', 135: '!', 136: '$', 137: '*',
	138: ')', 139: ';', 140: '^', 141: '-', 142: '/', 144: ',',
	145: '%', 146: '_', 147: '>', 148: '?', 149: '`', 150: ':',
	151: '#', 152: '@', 153: '\'', 154: '=', 155: '"',
}

func init() {
	for i := 0; i < 10; i++ {
		porCharset[64+i] = byte('0' + i)
	}
	for i := 0; i < 26; i++ {
		porCharset[74+i] = byte('A' + i)
		porCharset[100+i] = byte('a' + i)
	}
}

// porReader streams translated characters out of the portable file.
type porReader struct {
	src   string
	r     io.Reader
	trans [256]byte
	buf   [1]byte
	// one-character pushback for number parsing
	pushed  bool
	pushedC byte
}

// rawNext returns the next untranslated content byte. Portable files are
// physical 80-column lines from the first byte on; the terminators carry no
// content and are dropped here, before the translation table even exists.
func (pr *porReader) rawNext() (byte, error) {
	if _, err := io.ReadFull(pr.r, pr.buf[:]); err != nil {
		return 0, err
	}
	c := pr.buf[0]
	if c == '\r' || c == '\n' {
		return pr.rawNext()
	}
	return c, nil
}

func (pr *porReader) next() (byte, error) {
	if pr.pushed {
		pr.pushed = false
		return pr.pushedC, nil
	}
	raw, err := pr.rawNext()
	if err != nil {
		return 0, err
	}
	c := pr.trans[raw]
	if c == '\r' || c == '\n' {
		return pr.next()
	}
	return c, nil
}

func (pr *porReader) unread(c byte) {
	pr.pushed = true
	pr.pushedC = c
}

// number reads one base-30 number. '*.' is the system-missing marker and
// decodes as NaN.
func (pr *porReader) number() (float64, error) {
	c, err := pr.next()
	if err != nil {
		return 0, err
	}
	for c == ' ' {
		if c, err = pr.next(); err != nil {
			return 0, err
		}
	}
	if c == '*' {
		if c, err = pr.next(); err != nil {
			return 0, err
		}
		if c != '.' {
			return 0, fmt.Errorf("bad missing-value marker")
		}
		return math.NaN(), nil
	}
	neg := false
	if c == '-' {
		neg = true
		if c, err = pr.next(); err != nil {
			return 0, err
		}
	}
	var mantissa float64
	var digits int
	frac := 0
	sawDot := false
	exp := 0
	for {
		switch {
		case c >= '0' && c <= '9':
			mantissa = mantissa*30 + float64(c-'0')
			digits++
			if sawDot {
				frac++
			}
		case c >= 'A' && c <= 'T':
			mantissa = mantissa*30 + float64(c-'A'+10)
			digits++
			if sawDot {
				frac++
			}
		case c == '.':
			sawDot = true
		case c == '+' || c == '-':
			// exponent
			e, err := pr.exponent(c)
			if err != nil {
				return 0, err
			}
			exp = e
			c = '/'
		}
		if c == '/' {
			break
		}
		if c, err = pr.next(); err != nil {
			return 0, err
		}
	}
	if digits == 0 && !sawDot {
		return 0, fmt.Errorf("empty number")
	}
	v := mantissa * math.Pow(30, float64(exp-frac))
	if neg {
		v = -v
	}
	return v, nil
}

func (pr *porReader) exponent(sign byte) (int, error) {
	neg := sign == '-'
	e := 0
	for {
		c, err := pr.next()
		if err != nil {
			return 0, err
		}
		if c == '/' {
			break
		}
		switch {
		case c >= '0' && c <= '9':
			e = e*30 + int(c-'0')
		case c >= 'A' && c <= 'T':
			e = e*30 + int(c-'A'+10)
		default:
			return 0, fmt.Errorf("bad exponent digit %q", c)
		}
	}
	if neg {
		e = -e
	}
	return e, nil
}

func (pr *porReader) integer() (int, error) {
	f, err := pr.number()
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || f != math.Trunc(f) {
		return 0, fmt.Errorf("expected integer, got %v", f)
	}
	return int(f), nil
}

// str reads a length-prefixed string.
func (pr *porReader) str() (string, error) {
	n, err := pr.integer()
	if err != nil {
		return "", err
	}
	if n < 0 || n > 1<<20 {
		return "", fmt.Errorf("implausible string length %d", n)
	}
	b := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		c, err := pr.next()
		if err != nil {
			return "", err
		}
		b = append(b, c)
	}
	return string(b), nil
}

// Parse implements parse.Parser.
func (p *PorParser) Parse(r io.ReadSeeker, source string) (*types.VariableDictionary, error) {
	pr := &porReader{src: source, r: r}

	// Five 40-character splash lines precede the translation table. Line
	// terminators are interleaved from the very first byte, so even these
	// fixed regions go through the newline-dropping reader.
	for i := 0; i < 200; i++ {
		if _, err := pr.rawNext(); err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, source, "portable splash: %v", err)
		}
	}
	var table [256]byte
	for i := range table {
		b, err := pr.rawNext()
		if err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, source, "translation table: %v", err)
		}
		table[i] = b
	}
	buildTranslation(&pr.trans, table)

	sig := make([]byte, 8)
	for i := range sig {
		b, err := pr.rawNext()
		if err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, source, "signature: %v", err)
		}
		sig[i] = pr.trans[b]
	}
	if string(sig) != "SPSSPORT" {
		return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "missing SPSSPORT signature (got %q)", sig)
	}

	// Version tag plus 8-char date and 6-char time.
	version, err := pr.next()
	if err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, source, "version: %v", err)
	}
	if version != 'A' {
		return nil, parse.Errorf(parse.KindUnsupportedSubVersion, source, "portable version %q", version)
	}
	for i := 0; i < 14; i++ {
		if _, err := pr.next(); err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, source, "timestamp: %v", err)
		}
	}

	dict := &types.VariableDictionary{Source: source}
	declaredVars := -1
	var current *types.VariableMeta
	byName := map[string]int{}
	isStr := map[string]bool{}

	for {
		tag, err := pr.next()
		if err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, source, "record tag: %v", err)
		}
		switch tag {
		case '1', '2', '3': // product, author, subproduct
			if _, err := pr.str(); err != nil {
				return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "product record: %v", err)
			}
		case '4':
			if declaredVars, err = pr.integer(); err != nil {
				return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "variable count: %v", err)
			}
		case '5': // precision
			if _, err := pr.integer(); err != nil {
				return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "precision record: %v", err)
			}
		case '6': // case weight variable
			if _, err := pr.str(); err != nil {
				return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "weight record: %v", err)
			}
		case '7':
			v, str, err := p.readVariable(pr)
			if err != nil {
				return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "variable record: %v", err)
			}
			if v.Name == "" {
				return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "variable %d has an empty name", len(dict.Variables)+1)
			}
			dict.Variables = append(dict.Variables, v)
			current = &dict.Variables[len(dict.Variables)-1]
			byName[strings.ToUpper(v.Name)] = len(dict.Variables) - 1
			isStr[strings.ToUpper(v.Name)] = str
		case '8', '9', 'A': // missing value / LO THRU x / x THRU HI
			if current == nil {
				return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "missing-value record before any variable")
			}
			if err := p.skipMissing(pr, isStr[strings.ToUpper(current.Name)]); err != nil {
				return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "missing-value record: %v", err)
			}
		case 'B': // missing range
			if current == nil {
				return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "missing-range record before any variable")
			}
			for i := 0; i < 2; i++ {
				if err := p.skipMissing(pr, isStr[strings.ToUpper(current.Name)]); err != nil {
					return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "missing-range record: %v", err)
				}
			}
		case 'C':
			if current == nil {
				return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "label record before any variable")
			}
			label, err := pr.str()
			if err != nil {
				return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "variable label: %v", err)
			}
			current.Label = label
		case 'D':
			if err := p.readValueLabels(pr, dict, byName, isStr); err != nil {
				return nil, err
			}
		case 'E': // documents
			n, err := pr.integer()
			if err != nil {
				return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "document count: %v", err)
			}
			for i := 0; i < n; i++ {
				if _, err := pr.str(); err != nil {
					return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "document line: %v", err)
				}
			}
		case 'F', 'Z':
			// Case data (or an empty trailer): the dictionary is complete.
			if declaredVars >= 0 && len(dict.Variables) != declaredVars {
				return nil, parse.Errorf(parse.KindStructuralInconsistency, source,
					"declared %d variables, found %d", declaredVars, len(dict.Variables))
			}
			if len(dict.Variables) == 0 {
				return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "no variables before data record")
			}
			return dict, nil
		default:
			logger.Debugf("%s: unknown portable tag %q", source, tag)
			return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "unknown record tag %q", tag)
		}
	}
}

// readVariable consumes a '7' record: width, name, print format, write
// format. A width of zero marks a numeric variable.
func (p *PorParser) readVariable(pr *porReader) (types.VariableMeta, bool, error) {
	width, err := pr.integer()
	if err != nil {
		return types.VariableMeta{}, false, err
	}
	name, err := pr.str()
	if err != nil {
		return types.VariableMeta{}, false, err
	}
	var fmtType int
	for i := 0; i < 6; i++ { // print type/width/decimals, write type/width/decimals
		n, err := pr.integer()
		if err != nil {
			return types.VariableMeta{}, false, err
		}
		if i == 0 {
			fmtType = n
		}
	}
	meta := types.VariableMeta{Name: strings.TrimSpace(name)}
	switch {
	case width > 0:
		meta.Type = types.TypeString
	case savDateFormats[fmtType]:
		meta.Type = types.TypeDateTime
	default:
		meta.Type = types.TypeNumeric
	}
	return meta, width > 0, nil
}

func (p *PorParser) skipMissing(pr *porReader, str bool) error {
	if str {
		_, err := pr.str()
		return err
	}
	_, err := pr.number()
	return err
}

// readValueLabels consumes a 'D' record: a variable list followed by
// value/label pairs, expanded here into every listed variable.
func (p *PorParser) readValueLabels(pr *porReader, dict *types.VariableDictionary, byName map[string]int, isStr map[string]bool) error {
	src := dict.Source
	nVars, err := pr.integer()
	if err != nil || nVars <= 0 {
		return parse.Errorf(parse.KindStructuralInconsistency, src, "value-label variable count")
	}
	var targets []int
	str := false
	for i := 0; i < nVars; i++ {
		name, err := pr.str()
		if err != nil {
			return parse.Errorf(parse.KindStructuralInconsistency, src, "value-label variable name: %v", err)
		}
		idx, found := byName[strings.ToUpper(strings.TrimSpace(name))]
		if !found {
			return parse.Errorf(parse.KindStructuralInconsistency, src, "value labels for undeclared variable %q", name)
		}
		targets = append(targets, idx)
		if i == 0 {
			str = isStr[strings.ToUpper(strings.TrimSpace(name))]
		}
	}
	nLabels, err := pr.integer()
	if err != nil || nLabels < 0 {
		return parse.Errorf(parse.KindStructuralInconsistency, src, "value-label count")
	}
	for i := 0; i < nLabels; i++ {
		var value string
		if str {
			s, err := pr.str()
			if err != nil {
				return parse.Errorf(parse.KindStructuralInconsistency, src, "value-label value: %v", err)
			}
			value = strings.TrimRight(s, " ")
		} else {
			f, err := pr.number()
			if err != nil {
				return parse.Errorf(parse.KindStructuralInconsistency, src, "value-label value: %v", err)
			}
			value = formatNumeric(f)
		}
		label, err := pr.str()
		if err != nil {
			return parse.Errorf(parse.KindStructuralInconsistency, src, "value-label text: %v", err)
		}
		for _, t := range targets {
			dict.Variables[t].SetValueLabel(value, label)
		}
	}
	return nil
}

// buildTranslation derives the byte-to-character map from the file's
// translation table. ASCII files carry an identity table; EBCDIC-origin
// files are remapped through the canonical portable character set.
func buildTranslation(trans *[256]byte, table [256]byte) {
	for i := range trans {
		trans[i] = byte(i)
	}
	identity := true
	for idx, canon := range porCharset {
		if table[idx] != canon && table[idx] != 0 {
			identity = false
			break
		}
	}
	if identity {
		return
	}
	for idx, canon := range porCharset {
		if b := table[idx]; b != 0 {
			trans[b] = canon
		}
	}
}
