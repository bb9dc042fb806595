package sas

import (
	"io"
	"strings"

	"github.com/statmeta/go-stat-catalog/internal/parse"
	"github.com/statmeta/go-stat-catalog/internal/types"
)

// XportParser reads the member dictionary of a SAS transport (.xpt) file:
// a sequence of 80-byte card-image records. Only version 5/6 transport is
// handled; the V8 extended layout reports UnsupportedSubVersion.
type XportParser struct{}

const xptRecordLen = 80

// namestrLen is the documented NAMESTR size; a few historic VAX files use
// 136 and declare it in the member header.
const namestrLen = 140

func (p *XportParser) Parse(r io.ReadSeeker, source string) (*types.VariableDictionary, error) {
	// Transport text is 7-bit with occasional 8-bit labels; windows-1252
	// covers both and cannot reject a byte.
	codec := parse.MustCodec("windows-1252")

	record := func() (string, error) {
		buf := make([]byte, xptRecordLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		s, _ := codec.Decode(buf)
		return s, nil
	}

	first, err := record()
	if err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, source, "library header: %v", err)
	}
	if strings.HasPrefix(first, "HEADER RECORD*******LIBV8") {
		return nil, parse.Errorf(parse.KindUnsupportedSubVersion, source, "V8 transport files are not supported")
	}
	if !strings.HasPrefix(first, "HEADER RECORD*******LIBRARY HEADER RECORD") {
		return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "not a transport library")
	}

	// Walk records to the NAMESTR header, skipping the library and member
	// preamble cards.
	var (
		nvar        int
		descriptLen = namestrLen
	)
	for {
		rec, err := record()
		if err != nil {
			return nil, parse.Errorf(parse.KindTruncatedHeader, source, "searching NAMESTR header: %v", err)
		}
		if strings.HasPrefix(rec, "HEADER RECORD*******MEMBER  HEADER RECORD") {
			// The NAMESTR record length (140, or 136 on old VAX files)
			// sits in the trailing numeric field.
			if n, ok := atoiField(rec, 68, 78); ok && n > 0 {
				descriptLen = n
			}
			continue
		}
		if strings.HasPrefix(rec, "HEADER RECORD*******NAMESTR HEADER RECORD") {
			n, ok := atoiField(rec, 48, 58)
			if !ok {
				return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "NAMESTR header lacks a variable count")
			}
			nvar = n
			break
		}
	}
	if nvar <= 0 {
		return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "transport member declares %d variables", nvar)
	}

	payload := make([]byte, nvar*descriptLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, parse.Errorf(parse.KindTruncatedHeader, source,
			"expected %d NAMESTR entries: %v", nvar, err)
	}

	dict := &types.VariableDictionary{Source: source}
	for i := 0; i < nvar; i++ {
		ns := payload[i*descriptLen : (i+1)*descriptLen]
		ntype := int(ns[0])<<8 | int(ns[1]) // big-endian u16, 1 numeric 2 char
		name, ok := codec.DecodeTrim(ns[8:16])
		if !ok || name == "" {
			return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "NAMESTR %d has an empty name", i+1)
		}
		label, _ := codec.DecodeTrim(ns[16:56])
		format, _ := codec.DecodeTrim(ns[56:64])
		isStr := ntype == 2
		if ntype != 1 && ntype != 2 {
			return nil, parse.Errorf(parse.KindStructuralInconsistency, source, "NAMESTR %d has variable type %d", i+1, ntype)
		}
		dict.Variables = append(dict.Variables, types.VariableMeta{
			Name:  name,
			Label: label,
			Type:  sasType(isStr, format),
		})
	}
	return dict, nil
}

// atoiField parses the decimal integer in rec[from:to], tolerating blank
// padding on either side.
func atoiField(rec string, from, to int) (int, bool) {
	if to > len(rec) {
		return 0, false
	}
	s := strings.TrimSpace(rec[from:to])
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
