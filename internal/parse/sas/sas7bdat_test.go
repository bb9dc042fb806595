package sas

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/statmeta/go-stat-catalog/internal/parse"
	"github.com/statmeta/go-stat-catalog/internal/types"
)

// sasFixture builds a 32-bit little-endian dataset with one metadata page.
type sasFixture struct {
	headerLen int
	pageSize  int
	page      []byte
	pointers  []byte
	count     int
}

func newSasFixture() *sasFixture {
	f := &sasFixture{headerLen: 1024, pageSize: 4096}
	f.page = make([]byte, f.pageSize)
	return f
}

func (f *sasFixture) addSubheader(sh []byte, off int) {
	copy(f.page[off:], sh)
	var ptr [12]byte
	binary.LittleEndian.PutUint32(ptr[0:4], uint32(off))
	binary.LittleEndian.PutUint32(ptr[4:8], uint32(len(sh)))
	f.pointers = append(f.pointers, ptr[:]...)
	f.count++
}

func (f *sasFixture) bytes(encByte byte) []byte {
	head := make([]byte, f.headerLen)
	head[37] = 0x01 // little-endian
	head[70] = encByte
	copy(head[84:92], "SAS FILE")
	binary.LittleEndian.PutUint32(head[196:200], uint32(f.headerLen))
	binary.LittleEndian.PutUint32(head[200:204], uint32(f.pageSize))
	binary.LittleEndian.PutUint32(head[204:208], 1) // page count

	binary.LittleEndian.PutUint16(f.page[16:18], 0x0000) // meta page
	binary.LittleEndian.PutUint16(f.page[20:22], uint16(f.count))
	copy(f.page[24:], f.pointers)

	return append(head, f.page...)
}

func sig32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func putRef(dst []byte, off int, block, textOff, length uint16) {
	binary.LittleEndian.PutUint16(dst[off:], block)
	binary.LittleEndian.PutUint16(dst[off+2:], textOff)
	binary.LittleEndian.PutUint16(dst[off+4:], length)
}

func buildSampleSas7(encByte byte) []byte {
	f := newSasFixture()
	off := 256

	// Column count.
	sh := make([]byte, 12)
	copy(sh, sig32(sigColumnSize))
	binary.LittleEndian.PutUint32(sh[4:8], 3)
	f.addSubheader(sh, off)
	off += 64

	// Text block: names, a label and a format laid out back to back.
	// AGE (0,4) BDAY (4,4) CITY (8,4) "Age in years" (12,12) "DATE8." (24,6)
	text := []byte("AGE BDAYCITYAge in yearsDATE8.")
	sh = make([]byte, 4+len(text))
	copy(sh, sig32(sigColumnText))
	copy(sh[4:], text)
	f.addSubheader(sh, off)
	off += 64

	// Column names: 8 bytes of preamble after the signature, then one
	// {block, offset, length} pointer per column.
	sh = make([]byte, 20+3*8)
	copy(sh, sig32(sigColumnName))
	putRef(sh, 12, 0, 0, 4)
	putRef(sh, 20, 0, 4, 4)
	putRef(sh, 28, 0, 8, 4)
	f.addSubheader(sh, off)
	off += 64

	// Column attributes: 12-byte entries, type byte at entry offset 10.
	sh = make([]byte, 20+3*12)
	copy(sh, sig32(sigColumnAttrs))
	sh[22] = 1 // AGE numeric
	sh[34] = 1 // BDAY numeric
	sh[46] = 2 // CITY char
	f.addSubheader(sh, off)
	off += 64

	// One format-and-label subheader per column, in column order.
	fl := func(fmtBlock, fmtOff, fmtLen, lblBlock, lblOff, lblLen uint16) []byte {
		sh := make([]byte, 48)
		copy(sh, sig32(sigFormatAndLabel))
		putRef(sh, 34, fmtBlock, fmtOff, fmtLen)
		putRef(sh, 40, lblBlock, lblOff, lblLen)
		return sh
	}
	f.addSubheader(fl(0, 0, 0, 0, 12, 12), off) // AGE: label only
	off += 64
	f.addSubheader(fl(0, 24, 6, 0, 0, 0), off) // BDAY: DATE8. format
	off += 64
	f.addSubheader(fl(0, 0, 0, 0, 0, 0), off) // CITY: nothing

	return f.bytes(encByte)
}

func TestSas7bdatParse(t *testing.T) {
	var p SAS7BDATParser
	dict, err := p.Parse(bytes.NewReader(buildSampleSas7(62)), "sample.sas7bdat")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(dict.Variables) != 3 {
		t.Fatalf("got %d variables, want 3", len(dict.Variables))
	}

	age := dict.Variables[0]
	if age.Name != "AGE" || age.Label != "Age in years" || age.Type != types.TypeNumeric {
		t.Errorf("AGE = %+v", age)
	}
	bday := dict.Variables[1]
	if bday.Name != "BDAY" || bday.Type != types.TypeDateTime {
		t.Errorf("BDAY = %+v, want datetime via DATE8. format", bday)
	}
	city := dict.Variables[2]
	if city.Name != "CITY" || city.Type != types.TypeString {
		t.Errorf("CITY = %+v", city)
	}
	if len(age.ValueLabels) != 0 {
		t.Errorf("SAS variables must not carry value labels, got %v", age.ValueLabels)
	}
}

func TestSas7bdatUnknownEncoding(t *testing.T) {
	var p SAS7BDATParser
	_, err := p.Parse(bytes.NewReader(buildSampleSas7(250)), "enc.sas7bdat")
	var perr *parse.Error
	if !errors.As(err, &perr) || perr.Kind != parse.KindEncodingError {
		t.Fatalf("Parse error = %v, want encoding error", err)
	}
}

func TestSas7bdatTruncated(t *testing.T) {
	data := buildSampleSas7(62)
	var p SAS7BDATParser
	_, err := p.Parse(bytes.NewReader(data[:100]), "cut.sas7bdat")
	var perr *parse.Error
	if !errors.As(err, &perr) || perr.Kind != parse.KindTruncatedHeader {
		t.Fatalf("Parse error = %v, want truncated header", err)
	}
}

func TestSas7bdatMissingMarker(t *testing.T) {
	data := buildSampleSas7(62)
	copy(data[84:92], "NOT SAS!")
	var p SAS7BDATParser
	_, err := p.Parse(bytes.NewReader(data), "marker.sas7bdat")
	var perr *parse.Error
	if !errors.As(err, &perr) || perr.Kind != parse.KindStructuralInconsistency {
		t.Fatalf("Parse error = %v, want structural inconsistency", err)
	}
}

func TestSasTypeFormatTrimming(t *testing.T) {
	tests := []struct {
		isStr  bool
		format string
		want   types.TypeTag
	}{
		{false, "", types.TypeNumeric},
		{false, "BEST12.", types.TypeNumeric},
		{false, "DATE9.", types.TypeDateTime},
		{false, "datetime20.", types.TypeDateTime},
		{false, "YYMMDD10.", types.TypeDateTime},
		{true, "DATE9.", types.TypeString},
	}
	for _, tt := range tests {
		if got := sasType(tt.isStr, tt.format); got != tt.want {
			t.Errorf("sasType(%v, %q) = %v, want %v", tt.isStr, tt.format, got, tt.want)
		}
	}
}
