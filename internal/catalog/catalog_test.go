package catalog

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/statmeta/go-stat-catalog/internal/config"
)

// writeSav writes a minimal little-endian system file declaring the given
// numeric variables and no case data.
func writeSav(t *testing.T, path string, varNames ...string) {
	t.Helper()
	buf := make([]byte, 0, 512)
	u32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}

	head := make([]byte, 176)
	copy(head, "$FL2")
	binary.LittleEndian.PutUint32(head[64:68], 2)
	binary.LittleEndian.PutUint32(head[68:72], uint32(len(varNames)))
	buf = append(buf, head...)

	for _, name := range varNames {
		u32(2)         // variable record
		u32(0)         // numeric
		u32(0)         // no label
		u32(0)         // no missing values
		u32(5 << 16)   // F print format
		u32(0)         // write format
		padded := []byte("        ")
		copy(padded, name)
		buf = append(buf, padded...)
	}
	u32(999)
	u32(0)

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}
}

func testConfig(t *testing.T, workers int) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Workers = workers
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return &cfg
}

func TestRunDeterministicAcrossWorkerCounts(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 10; i++ {
		writeSav(t, filepath.Join(dir, fmt.Sprintf("data%02d.sav", i)), "V1", "V2")
	}

	var catalogs []interface{}
	for _, workers := range []int{1, 8} {
		runner := New(testConfig(t, workers))
		cat, err := runner.Run(context.Background(), []string{dir})
		if err != nil {
			t.Fatalf("workers=%d: Run error: %v", workers, err)
		}
		catalogs = append(catalogs, cat)
	}
	if !reflect.DeepEqual(catalogs[0], catalogs[1]) {
		t.Error("catalog differs between 1 and 8 workers")
	}
}

func TestRunSkipsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 9; i++ {
		writeSav(t, filepath.Join(dir, fmt.Sprintf("good%d.sav", i)), "X")
	}
	if err := os.WriteFile(filepath.Join(dir, "bad5.sav"), []byte("not a system file"), 0o644); err != nil {
		t.Fatal(err)
	}

	runner := New(testConfig(t, 4))
	cat, err := runner.Run(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(cat.Groups) != 9 {
		t.Errorf("got %d groups, want 9", len(cat.Groups))
	}
	if len(cat.Skipped) != 1 {
		t.Fatalf("got %d skips, want 1", len(cat.Skipped))
	}
	if filepath.Base(cat.Skipped[0].Source) != "bad5.sav" || cat.Skipped[0].Reason == "" {
		t.Errorf("skip record = %+v", cat.Skipped[0])
	}

	stats := runner.Stats()
	if stats.FilesDiscovered != 10 || stats.FilesCataloged != 9 || stats.FilesSkipped != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.VariablesListed != 9 {
		t.Errorf("variables listed = %d, want 9", stats.VariablesListed)
	}
}

func TestRunMissingInput(t *testing.T) {
	runner := New(testConfig(t, 2))
	cat, err := runner.Run(context.Background(), []string{"/no/such/place.sav"})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(cat.Skipped) != 1 || cat.Skipped[0].Reason != "not found" {
		t.Errorf("skipped = %+v", cat.Skipped)
	}
}

func TestRunVarnameFilter(t *testing.T) {
	dir := t.TempDir()
	writeSav(t, filepath.Join(dir, "q.sav"), "Q1", "Q2", "WEIGHT")

	cfg := config.Defaults()
	cfg.VarnamePattern = "q[0-9]"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	cat, err := New(&cfg).Run(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(cat.Groups) != 1 || len(cat.Groups[0].Rows) != 2 {
		t.Fatalf("groups = %+v", cat.Groups)
	}
	for _, row := range cat.Groups[0].Rows {
		if row[1] != "Q1" && row[1] != "Q2" {
			t.Errorf("unexpected variable %q passed the filter", row[1])
		}
	}
}

func TestRunValueLabelColumns(t *testing.T) {
	dir := t.TempDir()
	writeSav(t, filepath.Join(dir, "v.sav"), "X")

	cfg := config.Defaults()
	cfg.ValueLabels = true
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	cat, err := New(&cfg).Run(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	wantCols := []string{"source", "VariableName", "VariableLabel", "label_count", "label_text"}
	if !reflect.DeepEqual(cat.Columns, wantCols) {
		t.Errorf("columns = %v", cat.Columns)
	}
	row := cat.Groups[0].Rows[0]
	if len(row) != len(wantCols) {
		t.Fatalf("row has %d cells, want %d", len(row), len(wantCols))
	}
	if row[3] != "0" || row[4] != "" {
		t.Errorf("unlabeled variable summary = %q/%q, want 0/empty", row[3], row[4])
	}
}

func TestRunHashFiles(t *testing.T) {
	dir := t.TempDir()
	writeSav(t, filepath.Join(dir, "h.sav"), "X")

	cfg := config.Defaults()
	cfg.HashFiles = true
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	cat, err := New(&cfg).Run(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(cat.Groups) != 1 {
		t.Fatal("expected one group")
	}
	if len(cat.Groups[0].SHA3Hash) != 64 {
		t.Errorf("hash = %q, want 64 hex characters", cat.Groups[0].SHA3Hash)
	}
}

func TestRunCancelled(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 20; i++ {
		writeSav(t, filepath.Join(dir, fmt.Sprintf("c%02d.sav", i)), "X")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cat, err := New(testConfig(t, 2)).Run(ctx, []string{dir})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	// Cancellation stops dispatch; whatever was already in flight may still
	// land, but nothing beyond the discovered set ever appears.
	if got := len(cat.Groups) + len(cat.Skipped); got > 20 {
		t.Errorf("catalog holds %d entries for 20 files", got)
	}
}
