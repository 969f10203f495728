package convert

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hyperjump/tabdoc/internal/layout"
	"github.com/hyperjump/tabdoc/internal/tabular"
)

// WriteFiles converts src into xmlPath and, when xsdPath is set, writes the
// companion schema. Each file is written to a temporary sibling and renamed into
// place so readers never observe a partial document.
func WriteFiles(ctx context.Context, src tabular.Source, l layout.Layout, xmlPath, xsdPath string) (Stats, error) {
	var stats Stats
	err := WriteFileAtomic(xmlPath, func(w io.Writer) error {
		var err error
		stats, err = Transform(ctx, src, l, w)
		return err
	})
	if err != nil {
		return stats, err
	}
	if xsdPath == "" {
		return stats, nil
	}
	header := src.Header()
	if err := WriteFileAtomic(xsdPath, func(w io.Writer) error {
		return WriteSchema(w, l, header)
	}); err != nil {
		return stats, err
	}
	return stats, nil
}

// WriteFileAtomic writes the output of fill to path via a temporary file and rename.
// Parent directories are created if they do not exist.
func WriteFileAtomic(path string, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
