package spss

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/statmeta/go-stat-catalog/internal/parse"
	"github.com/statmeta/go-stat-catalog/internal/types"
)

const base30Digits = "0123456789ABCDEFGHIJKLMNOPQRST"

// p30 renders a non-negative integer as a terminated base-30 number.
func p30(n int) string {
	if n == 0 {
		return "0/"
	}
	var out []byte
	for n > 0 {
		out = append([]byte{base30Digits[n%30]}, out...)
		n /= 30
	}
	return string(out) + "/"
}

// pstr renders a length-prefixed portable string.
func pstr(s string) string {
	return p30(len(s)) + s
}

// buildSamplePor writes an ASCII portable file dictionary. The translation
// table carries the canonical character positions, which the parser treats
// as identity.
func buildSamplePor(body string) []byte {
	var buf bytes.Buffer
	buf.Write(bytes.Repeat([]byte{' '}, 200))

	var table [256]byte
	for idx, canon := range porCharset {
		table[idx] = canon
	}
	buf.Write(table[:])

	buf.WriteString("SPSSPORT")
	buf.WriteString("A")              // version
	buf.WriteString("20260828" + "120000") // date + time
	buf.WriteString(body)
	return buf.Bytes()
}

func samplePorBody() string {
	var b strings.Builder
	b.WriteString("1" + pstr("TEST PRODUCT"))
	b.WriteString("4" + p30(2)) // variable count
	b.WriteString("5" + p30(11))

	// AGE: numeric, F8.0
	b.WriteString("7" + p30(0) + pstr("AGE"))
	b.WriteString(p30(5) + p30(8) + p30(0) + p30(5) + p30(8) + p30(0))
	b.WriteString("C" + pstr("Age in years"))

	// SEX: numeric with value labels
	b.WriteString("7" + p30(0) + pstr("SEX"))
	b.WriteString(p30(5) + p30(8) + p30(0) + p30(5) + p30(8) + p30(0))
	b.WriteString("D" + p30(1) + pstr("SEX") + p30(2))
	b.WriteString(p30(1) + pstr("Male"))
	b.WriteString(p30(2) + pstr("Female"))

	b.WriteString("F")
	return b.String()
}

func TestPorParse(t *testing.T) {
	var p PorParser
	dict, err := p.Parse(bytes.NewReader(buildSamplePor(samplePorBody())), "sample.por")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(dict.Variables) != 2 {
		t.Fatalf("got %d variables, want 2", len(dict.Variables))
	}
	age := dict.Variables[0]
	if age.Name != "AGE" || age.Label != "Age in years" || age.Type != types.TypeNumeric {
		t.Errorf("AGE = %+v", age)
	}
	sex := dict.Variables[1]
	if len(sex.ValueLabels) != 2 {
		t.Fatalf("SEX has %d value labels, want 2", len(sex.ValueLabels))
	}
	if sex.ValueLabels[0].Value != "1" || sex.ValueLabels[0].Label != "Male" {
		t.Errorf("first value label = %+v", sex.ValueLabels[0])
	}
	if sex.ValueLabels[1].Value != "2" || sex.ValueLabels[1].Label != "Female" {
		t.Errorf("second value label = %+v", sex.ValueLabels[1])
	}
}

func TestPorParseLineWrapped(t *testing.T) {
	// SPSS writes portable files as physical 80-column lines from the very
	// first byte, so the terminators land inside the splash, the translation
	// table and the signature too. They carry no content and must be
	// transparent to the parser everywhere.
	full := buildSamplePor(samplePorBody())
	var wrapped bytes.Buffer
	for i, c := range full {
		if i > 0 && i%80 == 0 {
			wrapped.WriteString("\r\n")
		}
		wrapped.WriteByte(c)
	}
	var p PorParser
	dict, err := p.Parse(bytes.NewReader(wrapped.Bytes()), "wrapped.por")
	if err != nil {
		t.Fatalf("Parse error on 80-column wrapped portable file: %v", err)
	}
	if len(dict.Variables) != 2 {
		t.Fatalf("got %d variables, want 2", len(dict.Variables))
	}
	if len(dict.Variables[1].ValueLabels) != 2 {
		t.Errorf("value labels lost across line wrapping: %v", dict.Variables[1].ValueLabels)
	}
}

func TestPorParseStringVariable(t *testing.T) {
	var b strings.Builder
	b.WriteString("4" + p30(1))
	b.WriteString("7" + p30(8) + pstr("CITY")) // width 8 string
	b.WriteString(p30(1) + p30(8) + p30(0) + p30(1) + p30(8) + p30(0))
	b.WriteString("F")

	var p PorParser
	dict, err := p.Parse(bytes.NewReader(buildSamplePor(b.String())), "str.por")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if dict.Variables[0].Type != types.TypeString {
		t.Errorf("CITY type = %v, want string", dict.Variables[0].Type)
	}
}

func TestPorParseBadSignature(t *testing.T) {
	data := buildSamplePor(samplePorBody())
	copy(data[456:], "NOTSPSS!")
	var p PorParser
	_, err := p.Parse(bytes.NewReader(data), "bad.por")
	var perr *parse.Error
	if !errors.As(err, &perr) || perr.Kind != parse.KindStructuralInconsistency {
		t.Fatalf("Parse error = %v, want structural inconsistency", err)
	}
}

func TestPorParseDeclaredCountMismatch(t *testing.T) {
	var b strings.Builder
	b.WriteString("4" + p30(3)) // declares 3, delivers 1
	b.WriteString("7" + p30(0) + pstr("X"))
	b.WriteString(p30(5) + p30(8) + p30(0) + p30(5) + p30(8) + p30(0))
	b.WriteString("F")

	var p PorParser
	_, err := p.Parse(bytes.NewReader(buildSamplePor(b.String())), "short.por")
	var perr *parse.Error
	if !errors.As(err, &perr) || perr.Kind != parse.KindStructuralInconsistency {
		t.Fatalf("Parse error = %v, want structural inconsistency", err)
	}
}
