// Package spss parses the dictionary portion of SPSS system (.sav/.zsav)
// and portable (.por) files. Only the metadata records are read; the case
// data that follows the dictionary is never touched.
package spss

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/statmeta/go-stat-catalog/internal/logger"
	"github.com/statmeta/go-stat-catalog/internal/parse"
	"github.com/statmeta/go-stat-catalog/internal/types"
)

// System-file record type codes.
const (
	recVariable    = 2
	recValueLabels = 3
	recLabelIndex  = 4
	recDocuments   = 6
	recExtension   = 7
	recDictEnd     = 999
)

// Extension record subtypes carrying dictionary metadata.
const (
	subMachineInteger  = 3
	subLongNames       = 13
	subVeryLongStrings = 14
	subFileAttributes  = 17
	subVarAttributes   = 18
	subEncoding        = 20
	subLongStringLbls  = 21
)

// Print-format type codes that render as dates or times.
var savDateFormats = map[int]bool{
	20: true, // DATE
	21: true, // TIME
	22: true, // DATETIME
	23: true, // ADATE
	24: true, // JDATE
	25: true, // DTIME
	26: true, // WKDAY
	27: true, // MONTH
	28: true, // MOYR
	29: true, // QYR
	30: true, // WKYR
	38: true, // EDATE
	39: true, // SDATE
}

// SavParser reads the dictionary of a system file. The dictionary layout is
// identical for .sav and .zsav: zlib compression in zsav covers only the
// case data after record 999, which this parser never reaches.
type SavParser struct{}

// savElement is one on-disk variable record. Long strings occupy one real
// element followed by continuation elements (type -1); value-label index
// records address elements, not variables, so both are tracked.
type savElement struct {
	varIndex int // -1 for continuation elements
}

type savState struct {
	src      string
	order    binary.ByteOrder
	codec    *parse.TextCodec
	raw      []rawVariable
	elements []savElement
	// pending value-label sets decoded before the encoding is known
	pendingLabels []pendingLabelSet
}

type rawVariable struct {
	name    []byte
	label   []byte
	isStr   bool
	width   int
	fmtType int
}

type pendingLabelSet struct {
	values  [][8]byte
	labels  [][]byte
	targets []int // element indexes, 1-based
}

// Parse implements parse.Parser.
func (p *SavParser) Parse(r io.ReadSeeker, source string) (*types.VariableDictionary, error) {
	st := &savState{src: source}

	head := make([]byte, 176)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, source, "system file header: %v", err)
	}
	magic := string(head[0:4])
	if magic != "$FL2" && magic != "$FL3" {
		return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "bad signature %q", magic)
	}

	// The layout code at offset 64 is written as 2 (or 3) in the writer's
	// native byte order; reading it back settles endianness.
	st.order = binary.LittleEndian
	layout := st.order.Uint32(head[64:68])
	if layout != 2 && layout != 3 {
		st.order = binary.BigEndian
		layout = st.order.Uint32(head[64:68])
		if layout != 2 && layout != 3 {
			return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "unrecognized layout code %#x", head[64:68])
		}
	}
	nominalCaseSize := int(int32(st.order.Uint32(head[68:72])))

	var (
		encodingName string
		codepage     int
		longNames    []byte
		varAttrs     []byte
		longStrLbls  []byte
	)

	// Dictionary record loop. Offsets of later blocks are only known once
	// earlier records are consumed, so this is strictly sequential.
loop:
	for {
		recType, err := readInt32(r, st.order)
		if err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, source, "dictionary ended mid-record: %v", err)
		}
		switch recType {
		case recVariable:
			if err := p.readVariable(r, st); err != nil {
				return nil, err
			}
		case recValueLabels:
			if err := p.readValueLabels(r, st); err != nil {
				return nil, err
			}
		case recLabelIndex:
			return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "value-label index record without a preceding label record")
		case recDocuments:
			nLines, err := readInt32(r, st.order)
			if err != nil || nLines < 0 {
				return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "bad document record")
			}
			if err := skip(r, int64(nLines)*80); err != nil {
				return nil, parse.Errorf(parse.KindTruncatedHeader, source, "document record: %v", err)
			}
		case recExtension:
			subtype, data, err := readExtension(r, st.order)
			if err != nil {
				return nil, parse.Errorf(parse.KindTruncatedHeader, source, "extension record: %v", err)
			}
			switch subtype {
			case subMachineInteger:
				if len(data) >= 32 {
					codepage = int(int32(st.order.Uint32(data[28:32])))
				}
			case subEncoding:
				encodingName = strings.TrimSpace(string(data))
			case subLongNames:
				longNames = data
			case subVarAttributes:
				varAttrs = data
			case subFileAttributes:
				// File-scope attributes: out of scope for per-variable output.
			case subLongStringLbls:
				longStrLbls = data
			case subVeryLongStrings:
				// Segment widths only; variable identity is unaffected.
			default:
				logger.Debugf("%s: skipping extension subtype %d (%d bytes)", source, subtype, len(data))
			}
		case recDictEnd:
			if _, err := readInt32(r, st.order); err != nil {
				return nil, parse.Errorf(parse.KindTruncatedHeader, source, "dictionary terminator: %v", err)
			}
			break loop
		default:
			return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "unknown record type %d", recType)
		}
	}

	if nominalCaseSize > 0 && len(st.elements) != nominalCaseSize {
		return nil, parse.Errorf(parse.KindStructuralInconsistency, source,
			"header declares %d dictionary elements, found %d", nominalCaseSize, len(st.elements))
	}

	codec, err := resolveCodec(source, encodingName, codepage)
	if err != nil {
		return nil, err
	}
	st.codec = codec

	dict, err := p.assemble(st)
	if err != nil {
		return nil, err
	}
	if err := applyLongNames(dict, st, longNames); err != nil {
		return nil, err
	}
	if err := applyVariableAttributes(dict, st, varAttrs); err != nil {
		return nil, err
	}
	if err := applyLongStringLabels(dict, st, longStrLbls); err != nil {
		return nil, err
	}
	return dict, nil
}

func (p *SavParser) readVariable(r io.Reader, st *savState) error {
	fixed := make([]byte, 28)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return parse.Errorf(parse.KindTruncatedHeader, st.src, "variable record: %v", err)
	}
	typ := int(int32(st.order.Uint32(fixed[0:4])))
	hasLabel := st.order.Uint32(fixed[4:8]) != 0
	nMissing := int(int32(st.order.Uint32(fixed[8:12])))
	printFmt := st.order.Uint32(fixed[12:16])

	if typ == -1 {
		// Continuation element of a long string.
		st.elements = append(st.elements, savElement{varIndex: -1})
		if hasLabel || nMissing != 0 {
			return parse.Errorf(parse.KindStructuralInconsistency, st.src, "long-string continuation carries metadata")
		}
		return nil
	}

	rv := rawVariable{
		name:    append([]byte(nil), fixed[20:28]...),
		isStr:   typ > 0,
		width:   typ,
		fmtType: int((printFmt >> 16) & 0xff),
	}
	if hasLabel {
		labelLen, err := readInt32(r, st.order)
		if err != nil || labelLen < 0 || labelLen > 1<<16 {
			return parse.Errorf(parse.KindStructuralInconsistency, st.src, "bad variable label length")
		}
		padded := (labelLen + 3) &^ 3
		buf := make([]byte, padded)
		if _, err := io.ReadFull(r, buf); err != nil {
			return parse.Errorf(parse.KindTruncatedHeader, st.src, "variable label: %v", err)
		}
		rv.label = buf[:labelLen]
	}
	if nMissing != 0 {
		// Negative counts mean a range (two values), optionally plus one
		// discrete value; either way |n| doubles follow.
		n := nMissing
		if n < 0 {
			n = -n
		}
		if err := skip(r, int64(n)*8); err != nil {
			return parse.Errorf(parse.KindTruncatedHeader, st.src, "missing values: %v", err)
		}
	}
	st.elements = append(st.elements, savElement{varIndex: len(st.raw)})
	st.raw = append(st.raw, rv)
	return nil
}

func (p *SavParser) readValueLabels(r io.Reader, st *savState) error {
	count, err := readInt32(r, st.order)
	if err != nil || count < 0 {
		return parse.Errorf(parse.KindStructuralInconsistency, st.src, "bad value-label count")
	}
	set := pendingLabelSet{}
	for i := 0; i < int(count); i++ {
		var value [8]byte
		if _, err := io.ReadFull(r, value[:]); err != nil {
			return parse.Errorf(parse.KindTruncatedHeader, st.src, "value-label value: %v", err)
		}
		var lenByte [1]byte
		if _, err := io.ReadFull(r, lenByte[:]); err != nil {
			return parse.Errorf(parse.KindTruncatedHeader, st.src, "value-label length: %v", err)
		}
		labelLen := int(lenByte[0])
		padded := ((labelLen + 1 + 7) &^ 7) - 1
		buf := make([]byte, padded)
		if _, err := io.ReadFull(r, buf); err != nil {
			return parse.Errorf(parse.KindTruncatedHeader, st.src, "value-label text: %v", err)
		}
		set.values = append(set.values, value)
		set.labels = append(set.labels, buf[:labelLen])
	}

	// A type-4 record naming the labeled variables must follow immediately.
	recType, err := readInt32(r, st.order)
	if err != nil || recType != recLabelIndex {
		return parse.Errorf(parse.KindStructuralInconsistency, st.src, "value labels missing their variable index record")
	}
	nVars, err := readInt32(r, st.order)
	if err != nil || nVars <= 0 {
		return parse.Errorf(parse.KindStructuralInconsistency, st.src, "bad value-label variable count")
	}
	for i := 0; i < int(nVars); i++ {
		idx, err := readInt32(r, st.order)
		if err != nil {
			return parse.Errorf(parse.KindTruncatedHeader, st.src, "value-label variable index: %v", err)
		}
		set.targets = append(set.targets, int(idx))
	}
	st.pendingLabels = append(st.pendingLabels, set)
	return nil
}

// assemble decodes the raw records with the resolved codec and expands the
// shared value-label sets into each target variable.
func (p *SavParser) assemble(st *savState) (*types.VariableDictionary, error) {
	dict := &types.VariableDictionary{Source: st.src}
	for i, rv := range st.raw {
		name, ok := st.codec.DecodeTrim(rv.name)
		if !ok {
			return nil, parse.Errorf(parse.KindEncodingError, st.src, "variable %d name is not valid %s", i+1, st.codec.Name())
		}
		if name == "" {
			return nil, parse.Errorf(parse.KindStructuralInconsistency, st.src, "variable %d has an empty name", i+1)
		}
		label, ok := st.codec.DecodeTrim(rv.label)
		if !ok {
			return nil, parse.Errorf(parse.KindEncodingError, st.src, "label of %s is not valid %s", name, st.codec.Name())
		}
		meta := types.VariableMeta{Name: name, Label: label, Type: savType(rv)}
		dict.Variables = append(dict.Variables, meta)
	}

	for _, set := range st.pendingLabels {
		for _, elem := range set.targets {
			if elem < 1 || elem > len(st.elements) {
				return nil, parse.Errorf(parse.KindStructuralInconsistency, st.src, "value-label index %d out of range", elem)
			}
			vi := st.elements[elem-1].varIndex
			if vi < 0 {
				return nil, parse.Errorf(parse.KindStructuralInconsistency, st.src, "value labels attached to a string continuation")
			}
			v := &dict.Variables[vi]
			for j := range set.values {
				label, ok := st.codec.DecodeTrim(set.labels[j])
				if !ok {
					return nil, parse.Errorf(parse.KindEncodingError, st.src, "value label of %s is not valid %s", v.Name, st.codec.Name())
				}
				value, err := savLabelValue(st, st.raw[vi], set.values[j])
				if err != nil {
					return nil, err
				}
				v.SetValueLabel(value, label)
			}
		}
	}
	return dict, nil
}

func savType(rv rawVariable) types.TypeTag {
	if rv.isStr {
		return types.TypeString
	}
	if savDateFormats[rv.fmtType] {
		return types.TypeDateTime
	}
	return types.TypeNumeric
}

// savLabelValue renders the 8-byte coded value as text: numeric variables
// store a double, short strings store space-padded bytes.
func savLabelValue(st *savState, rv rawVariable, raw [8]byte) (string, error) {
	if rv.isStr {
		s, ok := st.codec.DecodeTrim(raw[:])
		if !ok {
			return "", parse.Errorf(parse.KindEncodingError, st.src, "string value code is not valid %s", st.codec.Name())
		}
		return s, nil
	}
	bits := st.order.Uint64(raw[:])
	return formatNumeric(math.Float64frombits(bits)), nil
}

func formatNumeric(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func resolveCodec(source, encodingName string, codepage int) (*parse.TextCodec, error) {
	// The subtype-20 name is authoritative; the machine-info codepage is
	// the fallback for older writers.
	if encodingName != "" {
		if c, ok := parse.CodecFor(encodingName); ok {
			return c, nil
		}
		return nil, parse.Errorf(parse.KindEncodingError, source, "unknown encoding %q", encodingName)
	}
	if codepage != 0 {
		if c, ok := parse.CodecFor(strconv.Itoa(codepage)); ok {
			return c, nil
		}
		return nil, parse.Errorf(parse.KindEncodingError, source, "unknown codepage %d", codepage)
	}
	return parse.MustCodec(""), nil
}

// applyLongNames rewrites short dictionary names using the subtype-13
// "SHORT=Long" tab-separated pair list.
func applyLongNames(dict *types.VariableDictionary, st *savState, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	text, ok := st.codec.Decode(data)
	if !ok {
		return parse.Errorf(parse.KindEncodingError, st.src, "long-name record is not valid %s", st.codec.Name())
	}
	byShort := make(map[string]int, len(dict.Variables))
	for i := range dict.Variables {
		byShort[strings.ToUpper(dict.Variables[i].Name)] = i
	}
	for _, pair := range strings.Split(text, "\t") {
		eq := strings.IndexByte(pair, '=')
		if eq <= 0 {
			continue
		}
		short := strings.ToUpper(strings.TrimSpace(pair[:eq]))
		long := strings.TrimRight(pair[eq+1:], " ")
		if long == "" {
			continue
		}
		if i, found := byShort[short]; found {
			dict.Variables[i].Name = long
		}
	}
	return nil
}

// applyVariableAttributes parses the subtype-18 record:
//
//	var1:attr('value'
//	)arrayattr('one'
//	'two'
//	)/var2:...
//
// Each quoted value ends with a line feed; multiple values make an array.
func applyVariableAttributes(dict *types.VariableDictionary, st *savState, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	text, ok := st.codec.Decode(data)
	if !ok {
		return parse.Errorf(parse.KindEncodingError, st.src, "attribute record is not valid %s", st.codec.Name())
	}
	byName := make(map[string]int, len(dict.Variables))
	for i := range dict.Variables {
		byName[strings.ToUpper(dict.Variables[i].Name)] = i
	}

	pos := 0
	for pos < len(text) {
		colon := strings.IndexByte(text[pos:], ':')
		if colon < 0 {
			break
		}
		varName := strings.ToUpper(strings.TrimSpace(text[pos : pos+colon]))
		pos += colon + 1
		attrs, next, err := parseAttributeSet(text, pos)
		if err != nil {
			return parse.Errorf(parse.KindStructuralInconsistency, st.src, "attribute record: %v", err)
		}
		pos = next
		vi, found := byName[varName]
		if !found {
			logger.Debugf("%s: attributes for unknown variable %q dropped", st.src, varName)
			continue
		}
		for _, a := range attrs {
			dict.Variables[vi].SetAttribute(a.Name, a.Values)
		}
		if pos < len(text) && text[pos] == '/' {
			pos++
		}
	}
	return nil
}

// parseAttributeSet consumes name('v'\n...)name2('v'\n...) until a '/' or
// end of text, returning the attributes and the next read position.
func parseAttributeSet(text string, pos int) ([]types.Attribute, int, error) {
	var attrs []types.Attribute
	for pos < len(text) && text[pos] != '/' {
		open := strings.IndexByte(text[pos:], '(')
		if open < 0 {
			return nil, pos, fmt.Errorf("attribute name without value list")
		}
		name := strings.TrimSpace(text[pos : pos+open])
		pos += open + 1
		var values []string
		for pos < len(text) && text[pos] != ')' {
			if text[pos] != '\'' {
				return nil, pos, fmt.Errorf("attribute value missing opening quote")
			}
			pos++
			// A quote inside a value is written doubled, so a closing quote
			// followed by another quote continues the same value.
			var val strings.Builder
			for {
				end := strings.IndexByte(text[pos:], '\'')
				if end < 0 {
					return nil, pos, fmt.Errorf("unterminated attribute value")
				}
				val.WriteString(text[pos : pos+end])
				pos += end + 1
				if pos < len(text) && text[pos] == '\'' {
					val.WriteByte('\'')
					pos++
					continue
				}
				break
			}
			values = append(values, val.String())
			if pos < len(text) && text[pos] == '\n' {
				pos++
			}
		}
		if pos >= len(text) {
			return nil, pos, fmt.Errorf("unterminated attribute list")
		}
		pos++ // consume ')'
		attrs = append(attrs, types.Attribute{Name: name, Values: values})
	}
	return attrs, pos, nil
}

// applyLongStringLabels merges subtype-21 value labels for string variables
// wider than eight bytes, which the type-3 records cannot carry.
func applyLongStringLabels(dict *types.VariableDictionary, st *savState, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	byName := make(map[string]int, len(dict.Variables))
	for i := range dict.Variables {
		byName[strings.ToUpper(dict.Variables[i].Name)] = i
	}
	pos := 0
	read32 := func() (int, bool) {
		if pos+4 > len(data) {
			return 0, false
		}
		v := int(int32(st.order.Uint32(data[pos : pos+4])))
		pos += 4
		return v, true
	}
	for pos < len(data) {
		nameLen, ok := read32()
		if !ok || nameLen <= 0 || pos+nameLen > len(data) {
			return parse.Errorf(parse.KindStructuralInconsistency, st.src, "bad long-string label block")
		}
		rawName := data[pos : pos+nameLen]
		pos += nameLen
		if _, ok = read32(); !ok { // variable width, unused here
			return parse.Errorf(parse.KindStructuralInconsistency, st.src, "bad long-string label block")
		}
		nLabels, ok := read32()
		if !ok || nLabels < 0 {
			return parse.Errorf(parse.KindStructuralInconsistency, st.src, "bad long-string label count")
		}
		name, okDec := st.codec.DecodeTrim(rawName)
		if !okDec {
			return parse.Errorf(parse.KindEncodingError, st.src, "long-string label variable name is not valid %s", st.codec.Name())
		}
		vi, found := byName[strings.ToUpper(name)]
		for j := 0; j < nLabels; j++ {
			valueLen, ok := read32()
			if !ok || valueLen < 0 || pos+valueLen > len(data) {
				return parse.Errorf(parse.KindStructuralInconsistency, st.src, "bad long-string label value")
			}
			rawValue := data[pos : pos+valueLen]
			pos += valueLen
			labelLen, ok := read32()
			if !ok || labelLen < 0 || pos+labelLen > len(data) {
				return parse.Errorf(parse.KindStructuralInconsistency, st.src, "bad long-string label text")
			}
			rawLabel := data[pos : pos+labelLen]
			pos += labelLen
			if !found {
				continue
			}
			value, okV := st.codec.DecodeTrim(rawValue)
			label, okL := st.codec.DecodeTrim(rawLabel)
			if !okV || !okL {
				return parse.Errorf(parse.KindEncodingError, st.src, "long-string label of %s is not valid %s", name, st.codec.Name())
			}
			dict.Variables[vi].SetValueLabel(value, label)
		}
	}
	return nil
}

func readInt32(r io.Reader, order binary.ByteOrder) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(order.Uint32(buf[:])), nil
}

func readExtension(r io.Reader, order binary.ByteOrder) (int, []byte, error) {
	subtype, err := readInt32(r, order)
	if err != nil {
		return 0, nil, err
	}
	size, err := readInt32(r, order)
	if err != nil {
		return 0, nil, err
	}
	count, err := readInt32(r, order)
	if err != nil {
		return 0, nil, err
	}
	if size < 0 || count < 0 || int64(size)*int64(count) > 1<<28 {
		return 0, nil, fmt.Errorf("implausible extension size %dx%d", size, count)
	}
	data := make([]byte, int64(size)*int64(count))
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, nil, err
	}
	return int(subtype), data, nil
}

func skip(r io.Reader, n int64) error {
	if s, ok := r.(io.Seeker); ok {
		_, err := s.Seek(n, io.SeekCurrent)
		return err
	}
	_, err := io.CopyN(io.Discard, r, n)
	return err
}
