package types

import (
	"reflect"
	"testing"
)

func TestSetValueLabelLastWriteWins(t *testing.T) {
	var v VariableMeta
	v.SetValueLabel("1", "Yes")
	v.SetValueLabel("2", "No")
	v.SetValueLabel("1", "Affirmative")

	want := []ValueLabel{
		{Value: "1", Label: "Affirmative"},
		{Value: "2", Label: "No"},
	}
	if !reflect.DeepEqual(v.ValueLabels, want) {
		t.Errorf("ValueLabels = %v, want %v", v.ValueLabels, want)
	}
}

func TestSetAttributeCaseInsensitive(t *testing.T) {
	var v VariableMeta
	v.SetAttribute("Notes", []string{"a"})
	v.SetAttribute("Origin", []string{"survey"})
	v.SetAttribute("NOTES", []string{"b"})

	if n := len(v.Attributes); n != 2 {
		t.Fatalf("len(Attributes) = %d, want 2", n)
	}
	if got := v.Attribute("notes"); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("Attribute(notes) = %v, want [b]", got)
	}
	if got := v.Attribute("missing"); got != nil {
		t.Errorf("Attribute(missing) = %v, want nil", got)
	}
}

func TestCatalogRows(t *testing.T) {
	cat := Catalog{
		Groups: []FileGroup{
			{Source: "a.sav", Rows: [][]string{{"a.sav", "v1", ""}, {"a.sav", "v2", ""}}},
			{Source: "b.dta", Rows: [][]string{{"b.dta", "x", ""}}},
		},
	}
	rows := cat.Rows()
	if len(rows) != 3 {
		t.Fatalf("len(Rows()) = %d, want 3", len(rows))
	}
	if rows[2][0] != "b.dta" {
		t.Errorf("rows out of discovery order: last row source %q", rows[2][0])
	}
}

func TestTypeTagString(t *testing.T) {
	tests := []struct {
		tag  TypeTag
		want string
	}{
		{TypeNumeric, "numeric"},
		{TypeString, "string"},
		{TypeDateTime, "datetime"},
		{TypeTag(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.tag.String(); got != tt.want {
			t.Errorf("TypeTag(%d).String() = %q, want %q", tt.tag, got, tt.want)
		}
	}
}
