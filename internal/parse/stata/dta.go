// Package stata parses the dictionary portion of Stata .dta datasets:
// legacy binary releases 111-115 and the tagged layout of releases 117-119.
// Characteristics become variable attributes; value-label tables are
// expanded into every variable whose lbllist entry names them.
package stata

import (
	"encoding/binary"
	"io"
	"strconv"
	"strings"

	"github.com/statmeta/go-stat-catalog/internal/logger"
	"github.com/statmeta/go-stat-catalog/internal/parse"
	"github.com/statmeta/go-stat-catalog/internal/types"
)

// Parser reads the dictionary of a Stata dataset.
type Parser struct{}

type dtaState struct {
	src     string
	r       io.ReadSeeker
	order   binary.ByteOrder
	release int
	codec   *parse.TextCodec
	nvar    int
	nobs    int64

	typlist []uint16
	names   []string
	lbllist []string
}

func (p *Parser) Parse(r io.ReadSeeker, source string) (*types.VariableDictionary, error) {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, source, "empty file: %v", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	st := &dtaState{src: source, r: r}
	if first[0] == '<' {
		return p.parseTagged(st)
	}
	return p.parseLegacy(st)
}

// --- legacy releases 110-115 ---

func (p *Parser) parseLegacy(st *dtaState) (*types.VariableDictionary, error) {
	head := make([]byte, 4)
	if _, err := io.ReadFull(st.r, head); err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "legacy header: %v", err)
	}
	st.release = int(head[0])
	switch st.release {
	case 111, 113, 114, 115:
	case 105, 108, 110:
		// Pre-111 releases use the old storage-type coding.
		return nil, parse.Errorf(parse.KindUnsupportedSubVersion, st.src, "release %d predates the supported range", st.release)
	default:
		return nil, parse.Errorf(parse.KindUnsupportedSubVersion, st.src, "unknown release byte %d", st.release)
	}
	switch head[1] {
	case 0x01:
		st.order = binary.BigEndian
	case 0x02:
		st.order = binary.LittleEndian
	default:
		return nil, parse.Errorf(parse.KindStructuralInconsistency, st.src, "bad byte-order flag %#x", head[1])
	}
	if head[2] != 0x01 {
		return nil, parse.Errorf(parse.KindStructuralInconsistency, st.src, "bad filetype byte %#x", head[2])
	}
	// Releases through 117 declare no encoding; windows-1252 is the
	// conventional reading of their "system encoding".
	st.codec = parse.MustCodec("windows-1252")

	var fixed [6]byte
	if _, err := io.ReadFull(st.r, fixed[:]); err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "legacy header: %v", err)
	}
	st.nvar = int(st.order.Uint16(fixed[0:2]))
	st.nobs = int64(st.order.Uint32(fixed[2:6]))
	if st.nvar <= 0 {
		return nil, parse.Errorf(parse.KindStructuralInconsistency, st.src, "declared %d variables", st.nvar)
	}

	// Dataset label and timestamp.
	if err := p.skipN(st, 81+18); err != nil {
		return nil, err
	}

	dict := &types.VariableDictionary{Source: st.src}

	st.typlist = make([]uint16, st.nvar)
	typ := make([]byte, st.nvar)
	if _, err := io.ReadFull(st.r, typ); err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "typlist: %v", err)
	}
	for i, t := range typ {
		st.typlist[i] = uint16(t)
	}

	names := make([]byte, st.nvar*33)
	if _, err := io.ReadFull(st.r, names); err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "varlist: %v", err)
	}
	for i := 0; i < st.nvar; i++ {
		name, ok := decodeCString(st.codec, names[i*33:(i+1)*33])
		if !ok {
			return nil, parse.Errorf(parse.KindEncodingError, st.src, "variable %d name is not valid %s", i+1, st.codec.Name())
		}
		if name == "" {
			return nil, parse.Errorf(parse.KindStructuralInconsistency, st.src, "variable %d has an empty name", i+1)
		}
		st.names = append(st.names, name)
	}

	if err := p.skipN(st, int64(2*(st.nvar+1))); err != nil { // srtlist
		return nil, err
	}

	fmtWidth := 49
	if st.release < 114 {
		fmtWidth = 12
	}
	fmts := make([]byte, st.nvar*fmtWidth)
	if _, err := io.ReadFull(st.r, fmts); err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "fmtlist: %v", err)
	}

	lbls := make([]byte, st.nvar*33)
	if _, err := io.ReadFull(st.r, lbls); err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "lbllist: %v", err)
	}
	for i := 0; i < st.nvar; i++ {
		lbl, ok := decodeCString(st.codec, lbls[i*33:(i+1)*33])
		if !ok {
			return nil, parse.Errorf(parse.KindEncodingError, st.src, "lbllist entry %d is not valid %s", i+1, st.codec.Name())
		}
		st.lbllist = append(st.lbllist, lbl)
	}

	varLabels := make([]byte, st.nvar*81)
	if _, err := io.ReadFull(st.r, varLabels); err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "variable labels: %v", err)
	}

	for i := 0; i < st.nvar; i++ {
		label, ok := decodeCString(st.codec, varLabels[i*81:(i+1)*81])
		if !ok {
			return nil, parse.Errorf(parse.KindEncodingError, st.src, "label of %s is not valid %s", st.names[i], st.codec.Name())
		}
		fmtStr, _ := decodeCString(st.codec, fmts[i*fmtWidth:(i+1)*fmtWidth])
		dict.Variables = append(dict.Variables, types.VariableMeta{
			Name:  st.names[i],
			Label: label,
			Type:  legacyType(st.typlist[i], fmtStr),
		})
	}

	// Expansion fields: characteristics become variable attributes.
	if err := p.readLegacyCharacteristics(st, dict); err != nil {
		return nil, err
	}

	// The case-data block is fixed-width; skip it arithmetically to reach
	// the trailing value labels.
	rowSize, err := legacyRowSize(st)
	if err != nil {
		return nil, err
	}
	if err := p.skipN(st, rowSize*st.nobs); err != nil {
		return nil, err
	}
	return dict, p.readValueLabelTables(st, dict, -1)
}

func legacyRowSize(st *dtaState) (int64, error) {
	var size int64
	for i, t := range st.typlist {
		switch {
		case t == 251: // byte
			size++
		case t == 252: // int
			size += 2
		case t == 253: // long
			size += 4
		case t == 254: // float
			size += 4
		case t == 255: // double
			size += 8
		case t >= 1 && t <= 244: // str#
			size += int64(t)
		default:
			return 0, parse.Errorf(parse.KindStructuralInconsistency, st.src, "variable %d has unknown storage type %d", i+1, t)
		}
	}
	return size, nil
}

func (p *Parser) readLegacyCharacteristics(st *dtaState, dict *types.VariableDictionary) error {
	for {
		var dataType [1]byte
		if _, err := io.ReadFull(st.r, dataType[:]); err != nil {
			return parse.Errorf(parse.KindTruncatedHeader, st.src, "expansion field: %v", err)
		}
		var length uint32
		if err := binary.Read(st.r, st.order, &length); err != nil {
			return parse.Errorf(parse.KindTruncatedHeader, st.src, "expansion field length: %v", err)
		}
		if dataType[0] == 0 && length == 0 {
			return nil
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(st.r, payload); err != nil {
			return parse.Errorf(parse.KindTruncatedHeader, st.src, "expansion field payload: %v", err)
		}
		if dataType[0] != 1 || length < 66 {
			continue // not a characteristic
		}
		p.applyCharacteristic(st, dict, payload, 33)
	}
}

// applyCharacteristic attaches one characteristic payload: a varname field,
// a charname field (each nameLen bytes), then the NUL-terminated contents.
// Dataset-scope characteristics (varname "_dta") carry no per-variable
// output and are dropped.
func (p *Parser) applyCharacteristic(st *dtaState, dict *types.VariableDictionary, payload []byte, nameLen int) {
	if len(payload) < 2*nameLen {
		return
	}
	varName, okV := decodeCString(st.codec, payload[:nameLen])
	charName, okC := decodeCString(st.codec, payload[nameLen:2*nameLen])
	value, okX := decodeCString(st.codec, payload[2*nameLen:])
	if !okV || !okC || !okX || charName == "" {
		logger.Debugf("%s: undecodable characteristic dropped", st.src)
		return
	}
	if varName == "" || varName == "_dta" {
		return
	}
	for i := range dict.Variables {
		if dict.Variables[i].Name == varName {
			dict.Variables[i].SetAttribute(charName, []string{value})
			return
		}
	}
	logger.Debugf("%s: characteristic %s for unknown variable %q dropped", st.src, charName, varName)
}

// readValueLabelTables reads the trailing value-label section. Each table:
// length, 33/129-byte label name, 3 bytes padding, then
// {n, txtlen, off[n], val[n], txt[txtlen]}. limit < 0 means read to EOF
// (legacy); otherwise limit bounds the section (tagged layout).
func (p *Parser) readValueLabelTables(st *dtaState, dict *types.VariableDictionary, nameLen int) error {
	if nameLen < 0 {
		nameLen = 33
	}
	for {
		var tableLen uint32
		err := binary.Read(st.r, st.order, &tableLen)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return parse.Errorf(parse.KindTruncatedHeader, st.src, "value-label table length: %v", err)
		}
		nameBuf := make([]byte, nameLen+3)
		if _, err := io.ReadFull(st.r, nameBuf); err != nil {
			return parse.Errorf(parse.KindTruncatedHeader, st.src, "value-label table name: %v", err)
		}
		labName, ok := decodeCString(st.codec, nameBuf[:nameLen])
		if !ok || labName == "" {
			return parse.Errorf(parse.KindStructuralInconsistency, st.src, "bad value-label table name")
		}
		table := make([]byte, tableLen)
		if _, err := io.ReadFull(st.r, table); err != nil {
			return parse.Errorf(parse.KindTruncatedHeader, st.src, "value-label table %s: %v", labName, err)
		}
		if err := p.applyValueLabelTable(st, dict, labName, table); err != nil {
			return err
		}
	}
}

func (p *Parser) applyValueLabelTable(st *dtaState, dict *types.VariableDictionary, labName string, table []byte) error {
	if len(table) < 8 {
		return parse.Errorf(parse.KindStructuralInconsistency, st.src, "value-label table %s too short", labName)
	}
	n := int(st.order.Uint32(table[0:4]))
	txtLen := int(st.order.Uint32(table[4:8]))
	need := 8 + 8*n + txtLen
	if n < 0 || txtLen < 0 || len(table) < need {
		return parse.Errorf(parse.KindStructuralInconsistency, st.src, "value-label table %s is inconsistent", labName)
	}
	offs := table[8 : 8+4*n]
	vals := table[8+4*n : 8+8*n]
	txt := table[8+8*n : need]

	var pairs []types.ValueLabel
	for i := 0; i < n; i++ {
		off := int(st.order.Uint32(offs[i*4 : i*4+4]))
		val := int32(st.order.Uint32(vals[i*4 : i*4+4]))
		if off >= len(txt) && len(txt) > 0 || off < 0 {
			return parse.Errorf(parse.KindStructuralInconsistency, st.src, "value-label table %s has a bad text offset", labName)
		}
		end := off
		for end < len(txt) && txt[end] != 0 {
			end++
		}
		label, ok := st.codec.Decode(txt[off:end])
		if !ok {
			return parse.Errorf(parse.KindEncodingError, st.src, "value label in table %s is not valid %s", labName, st.codec.Name())
		}
		pairs = append(pairs, types.ValueLabel{Value: strconv.FormatInt(int64(val), 10), Label: label})
	}

	// Denormalize into every variable whose lbllist entry names this table.
	attached := false
	for i, lbl := range st.lbllist {
		if lbl != labName {
			continue
		}
		attached = true
		for _, pair := range pairs {
			dict.Variables[i].SetValueLabel(pair.Value, pair.Label)
		}
	}
	if !attached {
		logger.Debugf("%s: value-label table %s is attached to no variable", st.src, labName)
	}
	return nil
}

// --- tagged releases 117-119 ---

func (p *Parser) parseTagged(st *dtaState) (*types.VariableDictionary, error) {
	if err := p.expect(st, "<stata_dta><header><release>"); err != nil {
		return nil, err
	}
	relBuf := make([]byte, 3)
	if _, err := io.ReadFull(st.r, relBuf); err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "release: %v", err)
	}
	release, err := strconv.Atoi(string(relBuf))
	if err != nil {
		return nil, parse.Errorf(parse.KindStructuralInconsistency, st.src, "bad release %q", relBuf)
	}
	st.release = release
	switch release {
	case 117, 118, 119:
	default:
		return nil, parse.Errorf(parse.KindUnsupportedSubVersion, st.src, "tagged release %d", release)
	}
	if err := p.expect(st, "</release><byteorder>"); err != nil {
		return nil, err
	}
	orderBuf := make([]byte, 3)
	if _, err := io.ReadFull(st.r, orderBuf); err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "byteorder: %v", err)
	}
	switch string(orderBuf) {
	case "LSF":
		st.order = binary.LittleEndian
	case "MSF":
		st.order = binary.BigEndian
	default:
		return nil, parse.Errorf(parse.KindStructuralInconsistency, st.src, "bad byte order %q", orderBuf)
	}
	if release >= 118 {
		st.codec = parse.MustCodec("utf-8")
	} else {
		st.codec = parse.MustCodec("windows-1252")
	}

	if err := p.expect(st, "</byteorder><K>"); err != nil {
		return nil, err
	}
	if release >= 119 {
		var k uint32
		if err := binary.Read(st.r, st.order, &k); err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "variable count: %v", err)
		}
		st.nvar = int(k)
	} else {
		var k uint16
		if err := binary.Read(st.r, st.order, &k); err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "variable count: %v", err)
		}
		st.nvar = int(k)
	}
	if st.nvar <= 0 {
		return nil, parse.Errorf(parse.KindStructuralInconsistency, st.src, "declared %d variables", st.nvar)
	}
	if err := p.expect(st, "</K><N>"); err != nil {
		return nil, err
	}
	if release >= 118 {
		var n uint64
		if err := binary.Read(st.r, st.order, &n); err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "observation count: %v", err)
		}
		st.nobs = int64(n)
	} else {
		var n uint32
		if err := binary.Read(st.r, st.order, &n); err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "observation count: %v", err)
		}
		st.nobs = int64(n)
	}
	if err := p.expect(st, "</N><label>"); err != nil {
		return nil, err
	}
	var dsLabelLen int
	if release >= 118 {
		var n uint16
		if err := binary.Read(st.r, st.order, &n); err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "dataset label: %v", err)
		}
		dsLabelLen = int(n)
	} else {
		var n [1]byte
		if _, err := io.ReadFull(st.r, n[:]); err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "dataset label: %v", err)
		}
		dsLabelLen = int(n[0])
	}
	if err := p.skipN(st, int64(dsLabelLen)); err != nil {
		return nil, err
	}
	if err := p.expect(st, "</label><timestamp>"); err != nil {
		return nil, err
	}
	var tsLen [1]byte
	if _, err := io.ReadFull(st.r, tsLen[:]); err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "timestamp: %v", err)
	}
	if err := p.skipN(st, int64(tsLen[0])); err != nil {
		return nil, err
	}
	if err := p.expect(st, "</timestamp></header>"); err != nil {
		return nil, err
	}

	// The map block carries the absolute offsets of every later section;
	// the data and strls blocks are jumped over with it.
	if err := p.expect(st, "<map>"); err != nil {
		return nil, err
	}
	var mapOffsets [14]uint64
	if err := binary.Read(st.r, st.order, &mapOffsets); err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "map block: %v", err)
	}
	if err := p.expect(st, "</map>"); err != nil {
		return nil, err
	}

	nameLen, fmtLen, lblNameLen, varLblLen := 33, 49, 33, 81
	if release >= 118 {
		nameLen, fmtLen, lblNameLen, varLblLen = 129, 57, 129, 321
	}

	if err := p.expect(st, "<variable_types>"); err != nil {
		return nil, err
	}
	st.typlist = make([]uint16, st.nvar)
	if err := binary.Read(st.r, st.order, st.typlist); err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "variable types: %v", err)
	}
	if err := p.expect(st, "</variable_types><varnames>"); err != nil {
		return nil, err
	}
	nameBuf := make([]byte, st.nvar*nameLen)
	if _, err := io.ReadFull(st.r, nameBuf); err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "varnames: %v", err)
	}
	for i := 0; i < st.nvar; i++ {
		name, ok := decodeCString(st.codec, nameBuf[i*nameLen:(i+1)*nameLen])
		if !ok {
			return nil, parse.Errorf(parse.KindEncodingError, st.src, "variable %d name is not valid %s", i+1, st.codec.Name())
		}
		if name == "" {
			return nil, parse.Errorf(parse.KindStructuralInconsistency, st.src, "variable %d has an empty name", i+1)
		}
		st.names = append(st.names, name)
	}
	if err := p.expect(st, "</varnames><sortlist>"); err != nil {
		return nil, err
	}
	sortWidth := 2
	if release >= 119 {
		sortWidth = 4
	}
	if err := p.skipN(st, int64(sortWidth)*int64(st.nvar+1)); err != nil {
		return nil, err
	}
	if err := p.expect(st, "</sortlist><formats>"); err != nil {
		return nil, err
	}
	fmtBuf := make([]byte, st.nvar*fmtLen)
	if _, err := io.ReadFull(st.r, fmtBuf); err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "formats: %v", err)
	}
	if err := p.expect(st, "</formats><value_label_names>"); err != nil {
		return nil, err
	}
	lblBuf := make([]byte, st.nvar*lblNameLen)
	if _, err := io.ReadFull(st.r, lblBuf); err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "value-label names: %v", err)
	}
	for i := 0; i < st.nvar; i++ {
		lbl, ok := decodeCString(st.codec, lblBuf[i*lblNameLen:(i+1)*lblNameLen])
		if !ok {
			return nil, parse.Errorf(parse.KindEncodingError, st.src, "lbllist entry %d is not valid %s", i+1, st.codec.Name())
		}
		st.lbllist = append(st.lbllist, lbl)
	}
	if err := p.expect(st, "</value_label_names><variable_labels>"); err != nil {
		return nil, err
	}
	varLblBuf := make([]byte, st.nvar*varLblLen)
	if _, err := io.ReadFull(st.r, varLblBuf); err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "variable labels: %v", err)
	}

	dict := &types.VariableDictionary{Source: st.src}
	for i := 0; i < st.nvar; i++ {
		label, ok := decodeCString(st.codec, varLblBuf[i*varLblLen:(i+1)*varLblLen])
		if !ok {
			return nil, parse.Errorf(parse.KindEncodingError, st.src, "label of %s is not valid %s", st.names[i], st.codec.Name())
		}
		fmtStr, _ := decodeCString(st.codec, fmtBuf[i*fmtLen:(i+1)*fmtLen])
		dict.Variables = append(dict.Variables, types.VariableMeta{
			Name:  st.names[i],
			Label: label,
			Type:  taggedType(st.typlist[i], fmtStr),
		})
	}
	if err := p.expect(st, "</variable_labels>"); err != nil {
		return nil, err
	}

	// Characteristics block.
	if err := p.expect(st, "<characteristics>"); err != nil {
		return nil, err
	}
	for {
		tag := make([]byte, 4)
		if _, err := io.ReadFull(st.r, tag); err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "characteristics: %v", err)
		}
		if string(tag) != "<ch>" {
			// "</ch" of "</characteristics>": rewind and leave the loop.
			if _, err := st.r.Seek(-4, io.SeekCurrent); err != nil {
				return nil, err
			}
			break
		}
		var chLen uint32
		if err := binary.Read(st.r, st.order, &chLen); err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "characteristic length: %v", err)
		}
		payload := make([]byte, chLen)
		if _, err := io.ReadFull(st.r, payload); err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "characteristic payload: %v", err)
		}
		p.applyCharacteristic(st, dict, payload, lblNameLen)
		if err := p.expect(st, "</ch>"); err != nil {
			return nil, err
		}
	}
	if err := p.expect(st, "</characteristics>"); err != nil {
		return nil, err
	}

	// Jump straight to the value-label section via the map; entry 11 is
	// the offset of <value_labels>, so the data and strls blocks are
	// never read.
	vlOff := mapOffsets[11]
	if vlOff == 0 {
		return dict, nil
	}
	if _, err := st.r.Seek(int64(vlOff), io.SeekStart); err != nil {
		return nil, parse.Errorf(parse.KindStructuralInconsistency, st.src, "seeking value labels: %v", err)
	}
	if err := p.expect(st, "<value_labels>"); err != nil {
		return nil, err
	}
	for {
		tag := make([]byte, 5)
		if _, err := io.ReadFull(st.r, tag); err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "value labels: %v", err)
		}
		if string(tag) != "<lbl>" {
			break // "</val" of the closing tag
		}
		var tableLen uint32
		if err := binary.Read(st.r, st.order, &tableLen); err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "value-label table length: %v", err)
		}
		nameBuf := make([]byte, lblNameLen+3)
		if _, err := io.ReadFull(st.r, nameBuf); err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "value-label table name: %v", err)
		}
		labName, ok := decodeCString(st.codec, nameBuf[:lblNameLen])
		if !ok || labName == "" {
			return nil, parse.Errorf(parse.KindStructuralInconsistency, st.src, "bad value-label table name")
		}
		table := make([]byte, tableLen)
		if _, err := io.ReadFull(st.r, table); err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, st.src, "value-label table %s: %v", labName, err)
		}
		if err := p.applyValueLabelTable(st, dict, labName, table); err != nil {
			return nil, err
		}
		if err := p.expect(st, "</lbl>"); err != nil {
			return nil, err
		}
	}
	return dict, nil
}

func (p *Parser) expect(st *dtaState, tag string) error {
	buf := make([]byte, len(tag))
	if _, err := io.ReadFull(st.r, buf); err != nil {
		return parse.Errorf(parse.KindTruncatedHeader, st.src, "expected %q: %v", tag, err)
	}
	if string(buf) != tag {
		return parse.Errorf(parse.KindStructuralInconsistency, st.src, "expected %q, found %q", tag, buf)
	}
	return nil
}

func (p *Parser) skipN(st *dtaState, n int64) error {
	if n < 0 {
		return parse.Errorf(parse.KindStructuralInconsistency, st.src, "negative skip")
	}
	if _, err := st.r.Seek(n, io.SeekCurrent); err != nil {
		return parse.Errorf(parse.KindTruncatedHeader, st.src, "short file: %v", err)
	}
	return nil
}

func legacyType(t uint16, format string) types.TypeTag {
	if t >= 1 && t <= 244 {
		return types.TypeString
	}
	if isDateFormat(format) {
		return types.TypeDateTime
	}
	return types.TypeNumeric
}

func taggedType(t uint16, format string) types.TypeTag {
	if t <= 2045 || t == 32768 { // str# and strL
		return types.TypeString
	}
	if isDateFormat(format) {
		return types.TypeDateTime
	}
	return types.TypeNumeric
}

// isDateFormat recognizes %t* display formats and the old %d date syntax.
func isDateFormat(format string) bool {
	f := strings.TrimPrefix(format, "%-")
	f = strings.TrimPrefix(f, "%")
	if strings.HasPrefix(f, "t") {
		return true
	}
	return strings.HasPrefix(f, "d") && !strings.ContainsAny(f, "0123456789.")
}

// decodeCString decodes a NUL-terminated fixed-width field.
func decodeCString(codec *parse.TextCodec, raw []byte) (string, bool) {
	if i := indexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	s, ok := codec.Decode(raw)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(s), true
}

func indexByte(b []byte, c byte) int {
	for i := range b {
		if b[i] == c {
			return i
		}
	}
	return -1
}
