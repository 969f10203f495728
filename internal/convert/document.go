// Package convert transforms tabular rows into an XML document with sanitized
// element names and dense sequential identifiers.
package convert

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Field is one child element of a record.
type Field struct {
	Tag   string
	Value string
}

// Record is one item element. ID is its position in the output, starting at 1.
type Record struct {
	ID     int
	Fields []Field
}

// Document is a fully materialized conversion result.
type Document struct {
	RootTag string
	ItemTag string
	IDAttr  string
	Records []Record
}

// WriteTo serializes the document exactly as Transform would have streamed it.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	enc := newEncoder(cw, d.RootTag, d.ItemTag, d.IDAttr)
	if err := enc.start(); err != nil {
		return cw.n, err
	}
	for _, r := range d.Records {
		if err := enc.record(r); err != nil {
			return cw.n, err
		}
	}
	err := enc.end()
	return cw.n, err
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

// CleanValue removes characters that are not allowed in XML 1.0:
// control bytes 0x00-0x08, 0x0B, 0x0C and 0x0E-0x1F. Tab, LF and CR are kept.
// Invalid UTF-8 sequences become U+FFFD.
func CleanValue(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	if !hasInvalidControl(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if !isInvalidControl(s[i]) {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// EscapeText cleans s and escapes markup-significant characters for element content.
func EscapeText(s string) string {
	return textEscaper.Replace(CleanValue(s))
}

func hasInvalidControl(s string) bool {
	for i := 0; i < len(s); i++ {
		if isInvalidControl(s[i]) {
			return true
		}
	}
	return false
}

func isInvalidControl(c byte) bool {
	return c < 0x20 && c != '\t' && c != '\n' && c != '\r'
}

// encoder writes the document framing and records.
type encoder struct {
	w       *bufio.Writer
	rootTag string
	itemTag string
	idAttr  string
}

func newEncoder(w io.Writer, rootTag, itemTag, idAttr string) *encoder {
	return &encoder{w: bufio.NewWriterSize(w, 64*1024), rootTag: rootTag, itemTag: itemTag, idAttr: idAttr}
}

func (e *encoder) start() error {
	_, err := e.w.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n<" + e.rootTag + ">\n")
	return err
}

func (e *encoder) record(r Record) error {
	w := e.w
	w.WriteByte('<')
	w.WriteString(e.itemTag)
	w.WriteByte(' ')
	w.WriteString(e.idAttr)
	w.WriteString(`="`)
	w.WriteString(attrEscaper.Replace(strconv.Itoa(r.ID)))
	w.WriteString(`">`)
	for _, f := range r.Fields {
		w.WriteByte('<')
		w.WriteString(f.Tag)
		w.WriteByte('>')
		w.WriteString(EscapeText(f.Value))
		w.WriteString("</")
		w.WriteString(f.Tag)
		w.WriteByte('>')
	}
	w.WriteString("</")
	w.WriteString(e.itemTag)
	_, err := w.WriteString(">\n")
	return err
}

func (e *encoder) end() error {
	if _, err := e.w.WriteString("</" + e.rootTag + ">\n"); err != nil {
		return err
	}
	return e.w.Flush()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
