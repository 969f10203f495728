package tabular

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func readAll(t *testing.T, src Source) [][]string {
	t.Helper()
	var rows [][]string
	for {
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			return rows
		}
		if err != nil {
			t.Fatal(err)
		}
		rows = append(rows, row)
	}
}

func TestNewCSV(t *testing.T) {
	input := "\xEF\xBB\xBFproperty_id,city,price\n7,Lisbon,100000\n3,\"Porto, Norte\",250000\n"
	src, err := NewCSV("mem.csv", strings.NewReader(input), int64(len(input)), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()
	if h := src.Header(); len(h) != 3 || h[0] != "property_id" {
		t.Fatalf("header = %q (BOM must be stripped)", h)
	}
	rows := readAll(t, src)
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[1][1] != "Porto, Norte" {
		t.Errorf("quoted field = %q", rows[1][1])
	}
}

func TestNewCSV_Delimiter(t *testing.T) {
	src, err := NewCSV("semi.csv", strings.NewReader("a;b\n1;2\n"), -1, ';')
	if err != nil {
		t.Fatal(err)
	}
	rows := readAll(t, src)
	if len(rows) != 1 || rows[0][1] != "2" {
		t.Errorf("rows = %q", rows)
	}
}

func TestNewCSV_Empty(t *testing.T) {
	_, err := NewCSV("empty.csv", strings.NewReader(""), 0, 0)
	if !errors.Is(err, ErrNoHeader) {
		t.Errorf("err = %v, want ErrNoHeader", err)
	}
}

func TestNewCSV_MalformedReportsLine(t *testing.T) {
	src, err := NewCSV("bad.csv", strings.NewReader("a,b\n1,2\n3,\"unterminated\n"), -1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.Next(); err != nil {
		t.Fatal(err)
	}
	_, err = src.Next()
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if !strings.Contains(err.Error(), "bad.csv") || !strings.Contains(err.Error(), "line") {
		t.Errorf("error should name input and line: %v", err)
	}
}

func TestOpen_MissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope.csv"), Options{}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestOpenXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.xlsx")
	f := excelize.NewFile()
	rows := [][]interface{}{
		{"property_id", "city", "price"},
		{"7", "Lisbon", "100000"},
		{"3", "Porto"},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	src, err := Open(path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()
	if src.Size() <= 0 {
		t.Errorf("size = %d", src.Size())
	}
	if h := src.Header(); len(h) != 3 || h[2] != "price" {
		t.Fatalf("header = %q", h)
	}
	got := readAll(t, src)
	if len(got) != 2 || got[0][1] != "Lisbon" || len(got[1]) != 2 {
		t.Errorf("rows = %q", got)
	}
}

func TestChunker(t *testing.T) {
	rows := [][]string{{"1"}, {"2"}, {"3"}, {"4"}, {"5"}}
	tests := []struct {
		size  int
		sizes []int
	}{
		{0, []int{5}},
		{2, []int{2, 2, 1}},
		{5, []int{5}},
		{10, []int{5}},
	}
	for _, tt := range tests {
		c := NewChunker(NewMemory("m", []string{"n"}, rows, -1), tt.size)
		var got []int
		for {
			chunk, err := c.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.Fatal(err)
			}
			got = append(got, len(chunk))
		}
		if len(got) != len(tt.sizes) {
			t.Errorf("size %d: chunks %v, want %v", tt.size, got, tt.sizes)
			continue
		}
		for i := range got {
			if got[i] != tt.sizes[i] {
				t.Errorf("size %d: chunks %v, want %v", tt.size, got, tt.sizes)
			}
		}
	}
}

func TestChunker_EmptySource(t *testing.T) {
	c := NewChunker(NewMemory("m", []string{"n"}, nil, 0), 3)
	if _, err := c.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want EOF", err)
	}
}

func TestChunkSizeFor(t *testing.T) {
	small := NewMemory("s", nil, nil, 10)
	big := NewMemory("b", nil, nil, AutoChunkThreshold+1)
	if got := ChunkSizeFor(small, 0); got != 0 {
		t.Errorf("small = %d", got)
	}
	if got := ChunkSizeFor(big, 0); got != AutoChunkRows {
		t.Errorf("big = %d", got)
	}
	if got := ChunkSizeFor(big, 7); got != 7 {
		t.Errorf("configured = %d", got)
	}
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	if _, err := ResolvePath("", dir); err == nil {
		t.Error("expected error when nothing is found")
	}
	other := filepath.Join(dir, "zz.csv")
	if err := os.WriteFile(other, []byte("a\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if got, _ := ResolvePath("", dir); got != other {
		t.Errorf("glob fallback = %s", got)
	}
	cand := filepath.Join(dir, DefaultCandidates[0])
	if err := os.WriteFile(cand, []byte("a\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if got, _ := ResolvePath("", dir); got != cand {
		t.Errorf("candidate = %s", got)
	}
	if got, _ := ResolvePath("/x/y.csv", dir); got != "/x/y.csv" {
		t.Errorf("explicit = %s", got)
	}
}
