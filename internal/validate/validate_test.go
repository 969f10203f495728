package validate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/tabdoc/internal/convert"
	"github.com/hyperjump/tabdoc/internal/layout"
	"github.com/hyperjump/tabdoc/internal/tabular"
)

func writeGenerated(t *testing.T) (xmlPath, xsdPath string) {
	t.Helper()
	dir := t.TempDir()
	xmlPath = filepath.Join(dir, "doc.xml")
	xsdPath = filepath.Join(dir, "doc.xsd")
	header := []string{"property_id", "city", "price"}
	src := tabular.NewMemory("mem", header, [][]string{{"7", "Lisbon", "1"}, {"3", "Porto & Co", "2"}}, -1)
	_, err := convert.WriteFiles(context.Background(), src, layout.Resolve(header, layout.Overrides{}), xmlPath, xsdPath)
	require.NoError(t, err)
	return xmlPath, xsdPath
}

func TestGeneratedDocumentConformsToGeneratedSchema(t *testing.T) {
	xmlPath, xsdPath := writeGenerated(t)
	assert.NoError(t, File(xmlPath, xsdPath))
}

func TestInvalidDocument(t *testing.T) {
	_, xsdPath := writeGenerated(t)
	s, err := LoadSchema(xsdPath)
	require.NoError(t, err)

	bad := []byte(`<?xml version="1.0"?><properties><property property_id="x"><city>A</city></property></properties>`)
	err = s.Bytes(bad)
	require.Error(t, err)
	problems, ok := Problems(err)
	require.True(t, ok, "expected schema violations, got %v", err)
	assert.NotEmpty(t, problems)

	wrongRoot := []byte(`<records/>`)
	err = s.Validate(bytes.NewReader(wrongRoot))
	assert.Error(t, err)
}

func TestLoadSchemaErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadSchema(filepath.Join(dir, "missing.xsd"))
	assert.Error(t, err)

	broken := filepath.Join(dir, "broken.xsd")
	require.NoError(t, os.WriteFile(broken, []byte("<xs:schema"), 0644))
	_, err = LoadSchema(broken)
	assert.Error(t, err)
}

func TestInvalidErrorMessage(t *testing.T) {
	err := &InvalidError{Problems: []Problem{{Line: 3, Column: 4, Message: "bad"}, {Message: "worse"}}}
	assert.Equal(t, "document is not valid: line 3:4: bad (and 1 more)", err.Error())
}
