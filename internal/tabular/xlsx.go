package tabular

import (
	"fmt"
	"io"
	"os"

	"github.com/xuri/excelize/v2"
)

// XLSXSource streams rows from one worksheet of a workbook.
type XLSXSource struct {
	name   string
	size   int64
	file   *excelize.File
	rows   *excelize.Rows
	header []string
}

// OpenXLSX opens sheet of the workbook at path. An empty sheet selects the first one.
func OpenXLSX(path, sheet string) (*XLSXSource, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	size := int64(-1)
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	src, err := newXLSX(path, f, sheet, size)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return src, nil
}

func newXLSX(name string, f *excelize.File, sheet string, size int64) (*XLSXSource, error) {
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("input '%s': workbook has no sheets", name)
		}
		sheet = sheets[0]
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("input '%s': rows for sheet %q: %w", name, sheet, err)
	}
	s := &XLSXSource{name: name, size: size, file: f, rows: rows}
	header, err := s.Next()
	if err == io.EOF {
		_ = rows.Close()
		return nil, fmt.Errorf("input '%s': %w", name, ErrNoHeader)
	}
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	s.header = header
	return s, nil
}

// Name returns the workbook path.
func (s *XLSXSource) Name() string { return s.name }

// Header returns the first row of the sheet.
func (s *XLSXSource) Header() []string { return s.header }

// Size returns the workbook size in bytes or -1.
func (s *XLSXSource) Size() int64 { return s.size }

// Next returns the next row. Trailing empty cells are not returned by excelize,
// so rows may be shorter than the header.
func (s *XLSXSource) Next() ([]string, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, fmt.Errorf("input '%s': %w", s.name, err)
		}
		return nil, io.EOF
	}
	cols, err := s.rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("input '%s': %w", s.name, err)
	}
	return cols, nil
}

// Close releases the row iterator and the workbook.
func (s *XLSXSource) Close() error {
	rerr := s.rows.Close()
	ferr := s.file.Close()
	if rerr != nil {
		return rerr
	}
	return ferr
}
