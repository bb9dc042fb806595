// Package sas parses the dictionary portion of SAS datasets: the native
// sas7bdat container and the transport (.xpt) container. Neither carries
// value-label dictionaries (SAS stores those in separate catalog files), so
// variables from this family always have empty value-label maps.
package sas

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/statmeta/go-stat-catalog/internal/logger"
	"github.com/statmeta/go-stat-catalog/internal/parse"
	"github.com/statmeta/go-stat-catalog/internal/types"
)

// Page types whose subheaders describe the dictionary.
const (
	pageMeta  = 0x0000
	pageData  = 0x0100
	pageMix   = 0x0200
	pageAMD   = 0x0400
	pageMeta2 = 0x4000
)

// Subheader signatures, 32-bit form. The 64-bit form widens each to eight
// bytes by sign extension and is handled in signatureOf.
const (
	sigRowSize        = 0xf7f7f7f7
	sigColumnSize     = 0xf6f6f6f6
	sigCounts         = 0xfffffc00
	sigColumnText     = 0xfffffffd
	sigColumnName     = 0xffffffff
	sigColumnAttrs    = 0xfffffffc
	sigFormatAndLabel = 0xfffffbfe
	sigColumnList     = 0xfffffffe
)

// Encoding byte at header offset 70 to codec name. Only the codes seen in
// circulating files are mapped; unknown codes fail the file rather than
// guessing.
var sasEncodings = map[byte]string{
	0:  "windows-1252", // "default"
	20: "utf-8",
	28: "us-ascii",
	29: "latin1",
	30: "latin2",
	33: "cyrillic",
	60: "windows-1250",
	61: "windows-1251",
	62: "windows-1252",
	63: "windows-1253",
	64: "windows-1254",
	65: "windows-1255",
	66: "windows-1256",
}

// Format names that render as dates or times.
var sasDateFormats = map[string]bool{
	"DATE": true, "DATETIME": true, "TIME": true, "DDMMYY": true,
	"MMDDYY": true, "YYMMDD": true, "JULIAN": true, "MONYY": true,
	"WEEKDATE": true, "WORDDATE": true, "E8601DA": true, "E8601DT": true,
	"B8601DA": true, "B8601DT": true, "TOD": true, "DTDATE": true,
}

// SAS7BDATParser reads the dictionary of a native SAS dataset by walking
// the metadata subheaders of its pages.
type SAS7BDATParser struct{}

type sasHeader struct {
	u64       bool
	align1    int
	order     binary.ByteOrder
	codec     *parse.TextCodec
	headerLen int
	pageSize  int
	pageCount int
}

type textRef struct {
	block  int
	offset int
	length int
}

type sasColumn struct {
	name      textRef
	label     textRef
	format    textRef
	isStr     bool
	attrSet   bool
	labelDone bool
}

// Parse implements parse.Parser.
func (p *SAS7BDATParser) Parse(r io.ReadSeeker, source string) (*types.VariableDictionary, error) {
	hdr, err := p.readHeader(r, source)
	if err != nil {
		return nil, err
	}

	var (
		columnCount = -1
		textBlocks  [][]byte
		columns     []sasColumn
	)

	page := make([]byte, hdr.pageSize)
	for pageIdx := 0; pageIdx < hdr.pageCount; pageIdx++ {
		off := int64(hdr.headerLen) + int64(pageIdx)*int64(hdr.pageSize)
		if _, err := r.Seek(off, io.SeekStart); err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, source, "seeking page %d: %v", pageIdx, err)
		}
		if _, err := io.ReadFull(r, page); err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, source, "page %d: %v", pageIdx, err)
		}

		base := 16
		if hdr.u64 {
			base = 32
		}
		pageType := int(hdr.order.Uint16(page[base : base+2]))
		switch pageType &^ 0x0080 { // mask the "page has deleted rows" bit
		case pageMeta, pageMix, pageAMD, pageMeta2:
		case pageData:
			// Dictionary subheaders precede all pure data pages.
			pageIdx = hdr.pageCount
			continue
		default:
			logger.Debugf("%s: skipping page %d of type %#x", source, pageIdx, pageType)
			continue
		}
		subheaderCount := int(hdr.order.Uint16(page[base+4 : base+6]))

		ptrSize := 12
		ptrBase := base + 8
		if hdr.u64 {
			ptrSize = 24
		}
		for i := 0; i < subheaderCount; i++ {
			po := ptrBase + i*ptrSize
			if po+ptrSize > len(page) {
				return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "subheader pointer %d beyond page", i)
			}
			var shOff, shLen int
			var compression byte
			if hdr.u64 {
				shOff = int(hdr.order.Uint64(page[po : po+8]))
				shLen = int(hdr.order.Uint64(page[po+8 : po+16]))
				compression = page[po+16]
			} else {
				shOff = int(hdr.order.Uint32(page[po : po+4]))
				shLen = int(hdr.order.Uint32(page[po+4 : po+8]))
				compression = page[po+8]
			}
			if shLen == 0 || compression == 1 { // truncated slot
				continue
			}
			if shOff < 0 || shOff+shLen > len(page) {
				return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "subheader %d outside its page", i)
			}
			sh := page[shOff : shOff+shLen]
			switch p.signatureOf(hdr, sh) {
			case sigColumnSize:
				intLen := 4
				if hdr.u64 {
					intLen = 8
				}
				if len(sh) < 2*intLen {
					return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "short column-size subheader")
				}
				columnCount = int(readUint(hdr, sh[intLen:]))
			case sigColumnText:
				// Keep the content after the signature; text refs index
				// into these blocks in file order.
				intLen := 4
				if hdr.u64 {
					intLen = 8
				}
				textBlocks = append(textBlocks, append([]byte(nil), sh[intLen:]...))
			case sigColumnName:
				if err := p.readColumnNames(hdr, source, sh, &columns); err != nil {
					return nil, err
				}
			case sigColumnAttrs:
				if err := p.readColumnAttrs(hdr, source, sh, &columns); err != nil {
					return nil, err
				}
			case sigFormatAndLabel:
				if err := p.readFormatAndLabel(hdr, source, sh, &columns); err != nil {
					return nil, err
				}
			case sigRowSize, sigCounts, sigColumnList:
				// Row geometry and column ordering; not needed for the
				// dictionary.
			}
		}
	}

	if columnCount < 0 {
		return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "no column-size subheader found")
	}
	if len(columns) != columnCount {
		return nil, parse.Errorf(parse.KindStructuralInconsistency, source,
			"declared %d columns, found %d definitions", columnCount, len(columns))
	}

	dict := &types.VariableDictionary{Source: source}
	for i, col := range columns {
		name, err := p.resolveText(hdr, source, textBlocks, col.name)
		if err != nil {
			return nil, err
		}
		if name == "" {
			return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "column %d has an empty name", i+1)
		}
		label, err := p.resolveText(hdr, source, textBlocks, col.label)
		if err != nil {
			return nil, err
		}
		format, err := p.resolveText(hdr, source, textBlocks, col.format)
		if err != nil {
			return nil, err
		}
		meta := types.VariableMeta{Name: name, Label: label, Type: sasType(col.isStr, format)}
		dict.Variables = append(dict.Variables, meta)
	}
	return dict, nil
}

func (p *SAS7BDATParser) readHeader(r io.ReadSeeker, source string) (*sasHeader, error) {
	head := make([]byte, 288)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, source, "sas7bdat header: %v", err)
	}

	hdr := &sasHeader{order: binary.LittleEndian}
	align2 := 0
	if head[32] == 0x33 {
		align2 = 4
		hdr.u64 = true
	}
	if head[35] == 0x33 {
		hdr.align1 = 4
	}
	switch head[37] {
	case 0x01:
		hdr.order = binary.LittleEndian
	case 0x00:
		hdr.order = binary.BigEndian
	default:
		return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "unknown endianness byte %#x", head[37])
	}
	if string(head[84:92]) != "SAS FILE" {
		return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "missing SAS FILE marker")
	}

	encName, known := sasEncodings[head[70]]
	if !known {
		return nil, parse.Errorf(parse.KindEncodingError, source, "unknown SAS encoding code %d", head[70])
	}
	codec, ok := parse.CodecFor(encName)
	if !ok {
		return nil, parse.Errorf(parse.KindEncodingError, source, "unsupported SAS encoding %s", encName)
	}
	hdr.codec = codec

	a1 := hdr.align1
	hdr.headerLen = int(int32(hdr.order.Uint32(head[196+a1 : 200+a1])))
	hdr.pageSize = int(int32(hdr.order.Uint32(head[200+a1 : 204+a1])))
	if hdr.u64 {
		hdr.pageCount = int(int64(hdr.order.Uint64(head[204+a1 : 212+a1])))
	} else {
		hdr.pageCount = int(int32(hdr.order.Uint32(head[204+a1 : 208+a1])))
	}
	_ = align2

	if hdr.headerLen < 288 || hdr.pageSize <= 0 || hdr.pageCount <= 0 || hdr.pageSize > 1<<24 {
		return nil, parse.Errorf(parse.KindStructuralInconsistency, source,
			"implausible geometry: header %d, page size %d, pages %d", hdr.headerLen, hdr.pageSize, hdr.pageCount)
	}
	return hdr, nil
}

func (p *SAS7BDATParser) signatureOf(hdr *sasHeader, sh []byte) uint32 {
	if hdr.u64 {
		if len(sh) < 8 {
			return 0
		}
		// 64-bit signatures are the 32-bit value sign-extended; the low
		// word carries the identity on both byte orders.
		if hdr.order == binary.LittleEndian {
			return hdr.order.Uint32(sh[0:4])
		}
		return hdr.order.Uint32(sh[4:8])
	}
	if len(sh) < 4 {
		return 0
	}
	return hdr.order.Uint32(sh[0:4])
}

func readUint(hdr *sasHeader, b []byte) uint64 {
	if hdr.u64 {
		return hdr.order.Uint64(b[:8])
	}
	return uint64(hdr.order.Uint32(b[:4]))
}

// readColumnNames decodes a column-name subheader: a run of 8-byte pointers
// {text block index, offset, length} following the signature and an 8-byte
// preamble.
func (p *SAS7BDATParser) readColumnNames(hdr *sasHeader, source string, sh []byte, columns *[]sasColumn) error {
	intLen := 4
	if hdr.u64 {
		intLen = 8
	}
	n := (len(sh) - 2*intLen - 12) / 8
	if n < 0 {
		return parse.Errorf(parse.KindStructuralInconsistency, source, "short column-name subheader")
	}
	base := intLen + 8
	for i := 0; i < n; i++ {
		o := base + i*8
		ref := textRef{
			block:  int(hdr.order.Uint16(sh[o : o+2])),
			offset: int(hdr.order.Uint16(sh[o+2 : o+4])),
			length: int(hdr.order.Uint16(sh[o+4 : o+6])),
		}
		if ref.length == 0 {
			continue
		}
		*columns = append(*columns, sasColumn{name: ref})
	}
	return nil
}

// readColumnAttrs records each column's storage class (numeric or char).
// Entries follow the signature and an 8-byte preamble and are 8+intLen
// bytes each: row offset, width, and a type byte (1 numeric, 2 char).
func (p *SAS7BDATParser) readColumnAttrs(hdr *sasHeader, source string, sh []byte, columns *[]sasColumn) error {
	intLen := 4
	if hdr.u64 {
		intLen = 8
	}
	entry := intLen + 8
	n := (len(sh) - 2*intLen - 12) / entry
	if n < 0 {
		return parse.Errorf(parse.KindStructuralInconsistency, source, "short column-attribute subheader")
	}
	base := intLen + 8
	applied := 0
	for i := range *columns {
		if (*columns)[i].attrSet {
			continue
		}
		if applied >= n {
			break
		}
		o := base + applied*entry + intLen + 4
		typ := sh[o+2]
		(*columns)[i].isStr = typ == 2
		(*columns)[i].attrSet = true
		applied++
	}
	return nil
}

// readFormatAndLabel attaches format and label text refs to the next column
// lacking them; SAS emits one such subheader per column, in column order.
func (p *SAS7BDATParser) readFormatAndLabel(hdr *sasHeader, source string, sh []byte, columns *[]sasColumn) error {
	intLen := 4
	if hdr.u64 {
		intLen = 8
	}
	fmtOff := 22 + 3*intLen
	lblOff := 28 + 3*intLen
	if len(sh) < lblOff+6 {
		return parse.Errorf(parse.KindStructuralInconsistency, source, "short format-and-label subheader")
	}
	format := textRef{
		block:  int(hdr.order.Uint16(sh[fmtOff : fmtOff+2])),
		offset: int(hdr.order.Uint16(sh[fmtOff+2 : fmtOff+4])),
		length: int(hdr.order.Uint16(sh[fmtOff+4 : fmtOff+6])),
	}
	label := textRef{
		block:  int(hdr.order.Uint16(sh[lblOff : lblOff+2])),
		offset: int(hdr.order.Uint16(sh[lblOff+2 : lblOff+4])),
		length: int(hdr.order.Uint16(sh[lblOff+4 : lblOff+6])),
	}
	// One format-and-label subheader per column, emitted in column order.
	for i := range *columns {
		if !(*columns)[i].labelDone {
			(*columns)[i].format = format
			(*columns)[i].label = label
			(*columns)[i].labelDone = true
			return nil
		}
	}
	logger.Debugf("%s: unattached format-and-label subheader", source)
	return nil
}

func (p *SAS7BDATParser) resolveText(hdr *sasHeader, source string, blocks [][]byte, ref textRef) (string, error) {
	if ref.length == 0 {
		return "", nil
	}
	if ref.block < 0 || ref.block >= len(blocks) {
		return "", parse.Errorf(parse.KindStructuralInconsistency, source, "text reference to missing block %d", ref.block)
	}
	b := blocks[ref.block]
	if ref.offset+ref.length > len(b) {
		return "", parse.Errorf(parse.KindStructuralInconsistency, source, "text reference beyond block %d", ref.block)
	}
	s, ok := hdr.codec.DecodeTrim(b[ref.offset : ref.offset+ref.length])
	if !ok {
		return "", parse.Errorf(parse.KindEncodingError, source, "dictionary text is not valid %s", hdr.codec.Name())
	}
	return s, nil
}

func sasType(isStr bool, format string) types.TypeTag {
	if isStr {
		return types.TypeString
	}
	f := strings.ToUpper(strings.TrimRight(format, "0123456789."))
	if sasDateFormats[f] {
		return types.TypeDateTime
	}
	return types.TypeNumeric
}
