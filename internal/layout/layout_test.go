package layout

import "testing"

func TestResolve_PropertyDataset(t *testing.T) {
	l := Resolve([]string{"property_id", "city", "price"}, Overrides{})
	if l.IDColumn != "property_id" {
		t.Errorf("IDColumn = %q", l.IDColumn)
	}
	if l.RootTag != "properties" || l.ItemTag != "property" {
		t.Errorf("tags = %q/%q, want properties/property", l.RootTag, l.ItemTag)
	}
	if l.IDAttr != "property_id" {
		t.Errorf("IDAttr = %q", l.IDAttr)
	}
	if l.Query != "//city/text()" {
		t.Errorf("Query = %q", l.Query)
	}
}

func TestResolve_GenericDataset(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		o      Overrides
		id     string
		root   string
		item   string
		attr   string
		query  string
	}{
		{
			name:   "property id without city",
			header: []string{"property_id", "price"},
			id:     "property_id", root: "records", item: "record", attr: "property_id", query: "//price/text()",
		},
		{
			name:   "plain id column",
			header: []string{"id", "country", "flow"},
			id:     "id", root: "records", item: "record", attr: "id", query: "//country/text()",
		},
		{
			name:   "absent id falls back to id",
			header: []string{"Country Name", "Year"},
			id:     "id", root: "records", item: "record", attr: "id", query: "//Country_Name/text()",
		},
		{
			name:   "only id column",
			header: []string{"id"},
			id:     "id", root: "records", item: "record", attr: "id", query: "//text()",
		},
		{
			name:   "empty header",
			header: nil,
			id:     "id", root: "records", item: "record", attr: "id", query: "//text()",
		},
		{
			name:   "override id column is sanitized for the attribute",
			header: []string{"row id", "city"},
			o:      Overrides{IDColumn: "row id"},
			id:     "row id", root: "records", item: "record", attr: "row_id", query: "//city/text()",
		},
		{
			name:   "partial tag override keeps inferred partner",
			header: []string{"property_id", "city"},
			o:      Overrides{RootTag: "houses"},
			id:     "property_id", root: "houses", item: "property", attr: "property_id", query: "//city/text()",
		},
		{
			name:   "all overrides",
			header: []string{"property_id", "city"},
			o:      Overrides{IDColumn: "property_id", RootTag: "r", ItemTag: "i", IDAttr: "key", Query: "count(//i)"},
			id:     "property_id", root: "r", item: "i", attr: "key", query: "count(//i)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := Resolve(tt.header, tt.o)
			if l.IDColumn != tt.id || l.RootTag != tt.root || l.ItemTag != tt.item || l.IDAttr != tt.attr || l.Query != tt.query {
				t.Errorf("got %+v", l)
			}
		})
	}
}

func TestResolve_CopiesLimits(t *testing.T) {
	l := Resolve([]string{"id"}, Overrides{MaxRows: 5, ChunkSize: 2})
	if l.MaxRows != 5 || l.ChunkSize != 2 {
		t.Errorf("limits not carried: %+v", l)
	}
}
