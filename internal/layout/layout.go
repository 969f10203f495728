// Package layout infers how a tabular source is shaped into a document:
// the identifier column, root and item element names, the identifier attribute
// and a default path query.
package layout

import (
	"github.com/jf-tech/go-corelib/strs"

	"github.com/hyperjump/tabdoc/internal/tagmap"
)

const (
	// PropertyIDColumn is the conventional identifier column of property datasets.
	PropertyIDColumn = "property_id"
	// DefaultIDColumn is used when neither an override nor PropertyIDColumn is present.
	DefaultIDColumn = "id"

	cityColumn = "city"
)

// Overrides are explicit settings that always win over inference.
// Zero values mean "not set".
type Overrides struct {
	IDColumn  string
	RootTag   string
	ItemTag   string
	IDAttr    string
	Query     string
	MaxRows   int
	ChunkSize int
}

// Layout is the resolved document shape for one source.
type Layout struct {
	IDColumn  string
	RootTag   string
	ItemTag   string
	IDAttr    string
	Query     string
	MaxRows   int
	ChunkSize int
}

// Resolve derives a Layout from the source header. It never fails: every field
// falls back to a generic default.
func Resolve(header []string, o Overrides) Layout {
	has := make(map[string]bool, len(header))
	for _, h := range header {
		has[h] = true
	}

	idColumn := o.IDColumn
	if idColumn == "" {
		idColumn = DefaultIDColumn
		if has[PropertyIDColumn] {
			idColumn = PropertyIDColumn
		}
	}

	root, item := "records", "record"
	if idColumn == PropertyIDColumn && has[cityColumn] {
		root, item = "properties", "property"
	}

	l := Layout{
		IDColumn:  idColumn,
		RootTag:   strs.FirstNonBlank(o.RootTag, root),
		ItemTag:   strs.FirstNonBlank(o.ItemTag, item),
		IDAttr:    strs.FirstNonBlank(o.IDAttr, tagmap.Sanitize(idColumn)),
		MaxRows:   o.MaxRows,
		ChunkSize: o.ChunkSize,
	}
	l.Query = strs.FirstNonBlank(o.Query, defaultQuery(header, idColumn))
	return l
}

// defaultQuery targets the text of the first non-identifier column.
func defaultQuery(header []string, idColumn string) string {
	tags := tagmap.Ordered(header)
	for i, col := range header {
		if col != idColumn {
			return "//" + tags[i] + "/text()"
		}
	}
	return "//text()"
}
