package storage

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/statmeta/go-stat-catalog/internal/types"
)

func sampleCatalog() *types.Catalog {
	return &types.Catalog{
		Columns: []string{"source", "VariableName", "VariableLabel"},
		Groups: []types.FileGroup{
			{
				Source: "a.sav",
				Format: "spss",
				Rows: [][]string{
					{"a.sav", "age", "Age in years"},
					{"a.sav", "sex", "Sex"},
				},
			},
		},
		Skipped: []types.SkipRecord{
			{Source: "b.sav", Reason: "truncated header: short file"},
		},
	}
}

func TestNewUnknownFormat(t *testing.T) {
	if _, err := New("xml", "out.xml"); err == nil {
		t.Error("New(xml) must fail")
	}
}

func TestJSONWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	store, err := New("json", path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Write(sampleCatalog(), types.CatalogStats{FilesCataloged: 1}); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var out JSONOutput
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(out.Files) != 1 || len(out.Files[0].Rows) != 2 {
		t.Errorf("files = %+v", out.Files)
	}
	if len(out.Skipped) != 1 || out.Skipped[0].Source != "b.sav" {
		t.Errorf("skipped = %+v", out.Skipped)
	}
	if out.Stats.FilesCataloged != 1 {
		t.Errorf("stats = %+v", out.Stats)
	}
}

func TestJSONWriteEmptyCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	store, _ := New("json", path)
	if err := store.Write(&types.Catalog{Columns: []string{"source"}}, types.CatalogStats{}); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	var out JSONOutput
	data, _ := os.ReadFile(path)
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	// Empty runs serialize as [] rather than null.
	if out.Files == nil || out.Skipped == nil {
		t.Error("empty catalog must serialize empty arrays")
	}
}

func TestJSONGzipWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json.gz")
	store, _ := New("json", path)
	if err := store.Write(sampleCatalog(), types.CatalogStats{}); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("output is not gzip: %v", err)
	}
	var out JSONOutput
	if err := json.NewDecoder(zr).Decode(&out); err != nil {
		t.Fatalf("decompressed output is not valid JSON: %v", err)
	}
	if len(out.Files) != 1 {
		t.Errorf("files = %+v", out.Files)
	}
}

func TestCSVWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.csv")
	store, _ := New("csv", path)
	if err := store.Write(sampleCatalog(), types.CatalogStats{}); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want header + 2 rows", len(records))
	}
	if !reflect.DeepEqual(records[0], []string{"source", "VariableName", "VariableLabel"}) {
		t.Errorf("header = %v", records[0])
	}
	if records[1][1] != "age" || records[2][1] != "sex" {
		t.Errorf("rows = %v", records[1:])
	}
}

func TestCSVWriteRejectsRaggedRow(t *testing.T) {
	cat := sampleCatalog()
	cat.Groups[0].Rows[0] = []string{"a.sav", "age"} // one cell short
	store, _ := New("csv", filepath.Join(t.TempDir(), "bad.csv"))
	if err := store.Write(cat, types.CatalogStats{}); err == nil {
		t.Error("Write must reject a row narrower than the header")
	}
}

func TestSQLiteWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	store, _ := New("sqlite", path)
	if err := store.Write(sampleCatalog(), types.CatalogStats{}); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var rows int
	if err := db.QueryRow(`SELECT COUNT(*) FROM catalog`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 2 {
		t.Errorf("catalog rows = %d, want 2", rows)
	}
	var name string
	if err := db.QueryRow(`SELECT "VariableName" FROM catalog WHERE "VariableName" = 'age'`).Scan(&name); err != nil {
		t.Errorf("querying by quoted column: %v", err)
	}
	var skipped int
	if err := db.QueryRow(`SELECT COUNT(*) FROM skipped`).Scan(&skipped); err != nil {
		t.Fatal(err)
	}
	if skipped != 1 {
		t.Errorf("skipped rows = %d, want 1", skipped)
	}
}

func TestSQLiteWriteReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	store, _ := New("sqlite", path)
	if err := store.Write(sampleCatalog(), types.CatalogStats{}); err != nil {
		t.Fatal(err)
	}
	// A second run against the same file starts over.
	cat := sampleCatalog()
	cat.Groups[0].Rows = cat.Groups[0].Rows[:1]
	if err := store.Write(cat, types.CatalogStats{}); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var rows int
	if err := db.QueryRow(`SELECT COUNT(*) FROM catalog`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 1 {
		t.Errorf("catalog rows after rewrite = %d, want 1", rows)
	}
}
