package sas

import (
	"bytes"
	"errors"
	"testing"

	"github.com/statmeta/go-stat-catalog/internal/parse"
	"github.com/statmeta/go-stat-catalog/internal/types"
)

// card builds one 80-byte transport record from a prefix and fixed-position
// field overlays.
func card(prefix string, overlays map[int]string) []byte {
	rec := bytes.Repeat([]byte{' '}, xptRecordLen)
	copy(rec, prefix)
	for off, s := range overlays {
		copy(rec[off:], s)
	}
	return rec
}

func namestr(ntype uint16, name, label, format string) []byte {
	ns := make([]byte, namestrLen)
	for i := range ns {
		ns[i] = ' '
	}
	ns[0] = byte(ntype >> 8)
	ns[1] = byte(ntype)
	copy(ns[8:16], name)
	copy(ns[16:56], label)
	copy(ns[56:64], format)
	return ns
}

func buildSampleXpt() []byte {
	var buf bytes.Buffer
	buf.Write(card("HEADER RECORD*******LIBRARY HEADER RECORD!!!!!!!", nil))
	buf.Write(card("SAS     SAS     SASLIB  6.06", nil))
	buf.Write(card("", nil)) // second real header record
	buf.Write(card("HEADER RECORD*******MEMBER  HEADER RECORD!!!!!!!", map[int]string{68: "0000000140"}))
	buf.Write(card("HEADER RECORD*******DSCRPTR HEADER RECORD!!!!!!!", nil))
	buf.Write(card("SAS     SAMPLE  SASDATA 6.06", nil))
	buf.Write(card("", nil)) // member label record
	buf.Write(card("HEADER RECORD*******NAMESTR HEADER RECORD!!!!!!!", map[int]string{48: "0000000003"}))
	buf.Write(namestr(1, "AGE", "Age in years", "BEST"))
	buf.Write(namestr(1, "BDAY", "Birth date", "DATE"))
	buf.Write(namestr(2, "CITY", "City of residence", ""))
	return buf.Bytes()
}

func TestXportParse(t *testing.T) {
	var p XportParser
	dict, err := p.Parse(bytes.NewReader(buildSampleXpt()), "sample.xpt")
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
	if dict.Variables[1].Type != types.TypeDateTime {
		t.Errorf("BDAY type = %v, want datetime", dict.Variables[1].Type)
	}
	if dict.Variables[2].Type != types.TypeString {
		t.Errorf("CITY type = %v, want string", dict.Variables[2].Type)
	}
}

func TestXportRejectsV8(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(card("HEADER RECORD*******LIBV8   HEADER RECORD!!!!!!!", nil))
	var p XportParser
	_, err := p.Parse(bytes.NewReader(buf.Bytes()), "v8.xpt")
	var perr *parse.Error
	if !errors.As(err, &perr) || perr.Kind != parse.KindUnsupportedSubVersion {
		t.Fatalf("Parse error = %v, want unsupported sub-version", err)
	}
}

func TestXportNotTransport(t *testing.T) {
	var p XportParser
	_, err := p.Parse(bytes.NewReader(card("something else entirely", nil)), "odd.xpt")
	var perr *parse.Error
	if !errors.As(err, &perr) || perr.Kind != parse.KindStructuralInconsistency {
		t.Fatalf("Parse error = %v, want structural inconsistency", err)
	}
}

func TestXportTruncatedNamestrs(t *testing.T) {
	data := buildSampleXpt()
	var p XportParser
	_, err := p.Parse(bytes.NewReader(data[:len(data)-200]), "cut.xpt")
	var perr *parse.Error
	if !errors.As(err, &perr) || perr.Kind != parse.KindTruncatedHeader {
		t.Fatalf("Parse error = %v, want truncated header", err)
	}
}
