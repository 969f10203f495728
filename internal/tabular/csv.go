package tabular

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/jf-tech/go-corelib/ios"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVSource reads comma separated rows. The first row is the header.
type CSVSource struct {
	name   string
	size   int64
	r      *ios.LineNumReportingCsvReader
	closer io.Closer
	header []string
}

// OpenCSV opens a CSV file.
func OpenCSV(path string, delimiter rune) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	size := int64(-1)
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	src, err := NewCSV(path, f, size, delimiter)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	src.closer = f
	return src, nil
}

// NewCSV reads CSV rows from r. A leading UTF-8 BOM is skipped.
func NewCSV(name string, r io.Reader, size int64, delimiter rune) (*CSVSource, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	csvReader := ios.NewLineNumReportingCsvReader(br)
	if delimiter != 0 {
		csvReader.Comma = delimiter
	}
	csvReader.FieldsPerRecord = -1
	s := &CSVSource{name: name, size: size, r: csvReader}
	header, err := csvReader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("input '%s': %w", name, ErrNoHeader)
	}
	if err != nil {
		return nil, s.wrap(err)
	}
	s.header = append([]string(nil), header...)
	return s, nil
}

// Name returns the input name used in error messages.
func (s *CSVSource) Name() string { return s.name }

// Header returns the column names.
func (s *CSVSource) Header() []string { return s.header }

// Size returns the input size in bytes or -1.
func (s *CSVSource) Size() int64 { return s.size }

// Next returns the next data row.
func (s *CSVSource) Next() ([]string, error) {
	row, err := s.r.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, s.wrap(err)
	}
	return row, nil
}

// Close closes the underlying file, if any.
func (s *CSVSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *CSVSource) wrap(err error) error {
	return fmt.Errorf("input '%s' line %d: %w", s.name, s.r.LineNum(), err)
}
