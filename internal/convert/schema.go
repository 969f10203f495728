package convert

import (
	"bufio"
	"fmt"
	"io"

	"github.com/hyperjump/tabdoc/internal/layout"
)

// WriteSchema writes the companion XSD for documents produced from header with l.
// Every field is typed xs:string so mixed or missing values never fail validation;
// the identifier attribute is a required xs:integer.
func WriteSchema(w io.Writer, l layout.Layout, header []string) error {
	if err := checkLayout(l); err != nil {
		return err
	}
	p := newPlan(header, l.IDColumn)
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, `<?xml version="1.0"?>
<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema">
  <xs:element name="%s">
    <xs:complexType>
      <xs:sequence>
        <xs:element name="%s" minOccurs="0" maxOccurs="unbounded">
          <xs:complexType>
            <xs:sequence>
`, l.RootTag, l.ItemTag)
	for _, tag := range p.tags {
		fmt.Fprintf(bw, "              <xs:element name=\"%s\" type=\"xs:string\" minOccurs=\"0\"/>\n", tag)
	}
	fmt.Fprintf(bw, `            </xs:sequence>
            <xs:attribute name="%s" type="xs:integer" use="required"/>
          </xs:complexType>
        </xs:element>
      </xs:sequence>
    </xs:complexType>
  </xs:element>
</xs:schema>
`, l.IDAttr)
	return bw.Flush()
}
