// Package validate checks documents against an XSD schema.
package validate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jacoelho/xsd"
	xsderrors "github.com/jacoelho/xsd/errors"
)

// Problem is one schema violation.
type Problem struct {
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	var b strings.Builder
	if p.Line > 0 {
		fmt.Fprintf(&b, "line %d:%d: ", p.Line, p.Column)
	}
	if p.Path != "" {
		b.WriteString(p.Path)
		b.WriteString(": ")
	}
	b.WriteString(p.Message)
	return b.String()
}

// InvalidError is returned when a document does not conform to the schema.
type InvalidError struct {
	Problems []Problem
}

func (e *InvalidError) Error() string {
	switch len(e.Problems) {
	case 0:
		return "document is not valid"
	case 1:
		return "document is not valid: " + e.Problems[0].String()
	}
	return fmt.Sprintf("document is not valid: %s (and %d more)", e.Problems[0].String(), len(e.Problems)-1)
}

// Problems extracts schema violations from err, if any.
func Problems(err error) ([]Problem, bool) {
	var inv *InvalidError
	if errors.As(err, &inv) {
		return inv.Problems, true
	}
	return nil, false
}

// Schema is a compiled XSD. It is safe for concurrent use.
type Schema struct {
	path   string
	schema *xsd.Schema
}

// LoadSchema compiles the XSD at path. Includes and imports are resolved
// relative to its directory.
func LoadSchema(path string) (*Schema, error) {
	s, err := xsd.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", path, err)
	}
	return &Schema{path: path, schema: s}, nil
}

// Validate reads a document from r and checks it. Violations are reported as
// *InvalidError; other errors mean the document could not be read or parsed.
func (s *Schema) Validate(r io.Reader) error {
	err := s.schema.Validate(r)
	if err == nil {
		return nil
	}
	if list, ok := xsderrors.AsValidations(err); ok {
		inv := &InvalidError{Problems: make([]Problem, 0, len(list))}
		for i := range list {
			v := list[i]
			inv.Problems = append(inv.Problems, Problem{
				Line:    v.Line,
				Column:  v.Column,
				Path:    v.Path,
				Code:    v.Code,
				Message: v.Message,
			})
		}
		return inv
	}
	return fmt.Errorf("validate against %s: %w", s.path, err)
}

// Bytes validates an in-memory document.
func (s *Schema) Bytes(data []byte) error {
	return s.Validate(bytes.NewReader(data))
}

// File validates the document at path against the schema at schemaPath.
func File(path, schemaPath string) error {
	s, err := LoadSchema(schemaPath)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	defer f.Close()
	return s.Validate(f)
}
