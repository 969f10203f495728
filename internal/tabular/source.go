// Package tabular provides streaming row readers for CSV and XLSX sources.
package tabular

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoHeader is returned when a source does not even contain a header row.
var ErrNoHeader = errors.New("source has no header row")

// Source yields the rows of a table one at a time.
// Next returns io.EOF after the last row.
type Source interface {
	Name() string
	Header() []string
	Next() ([]string, error)
	// Size is the size of the underlying input in bytes, or -1 when unknown.
	Size() int64
	Close() error
}

// Options configures Open.
type Options struct {
	// Sheet selects the worksheet of an XLSX workbook; empty means the first sheet.
	Sheet string
	// Delimiter is the CSV field separator; zero means ','.
	Delimiter rune
}

// DefaultCandidates are looked up in the working directory when no source path is configured.
var DefaultCandidates = []string{
	"global_house_purchase_dataset.csv",
	"commodity_trade_statistics_data.csv",
}

// Open opens the tabular file at path, picking the reader from the file extension.
func Open(path string, opts Options) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return OpenXLSX(path, opts.Sheet)
	default:
		return OpenCSV(path, opts.Delimiter)
	}
}

// ResolvePath returns explicit when set, otherwise the first existing default
// candidate, otherwise the first *.csv file in dir.
func ResolvePath(explicit, dir string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	for _, c := range DefaultCandidates {
		p := filepath.Join(dir, c)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	found, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return "", err
	}
	if len(found) > 0 {
		return found[0], nil
	}
	return "", fmt.Errorf("no CSV source found in %s: set data.path or DATA_CSV", dir)
}
