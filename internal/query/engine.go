// Package query answers count, lookup and path-query requests against the
// current document snapshot.
package query

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/hyperjump/tabdoc/internal/docstore"
)

var (
	// ErrNotLoaded means no document is being served.
	ErrNotLoaded = errors.New("document not loaded")
	// ErrNotFound means no record carries the requested identifier.
	ErrNotFound = errors.New("record not found")
)

// Payloads returned in place of data at the transport boundary.
const (
	NotLoadedText = "<error>document not loaded</error>"
	NotFoundText  = "<error>record not found</error>"
)

// Kind classifies a query result.
type Kind int

const (
	// Nodes is a node-set result, possibly empty.
	Nodes Kind = iota
	// Scalar is a number, string or boolean result.
	Scalar
	// Failed means the query could not be evaluated. Values holds one message.
	Failed
)

func (k Kind) String() string {
	switch k {
	case Nodes:
		return "nodes"
	case Scalar:
		return "scalar"
	default:
		return "failed"
	}
}

// Result is the outcome of Execute. Values is never nil.
type Result struct {
	Kind   Kind
	Values []string
}

// Field is one child element of a record.
type Field struct {
	Tag   string `json:"tag"`
	Value string `json:"value"`
}

// Record is a looked-up item element.
type Record struct {
	ID     string  `json:"id"`
	Fields []Field `json:"fields"`
	XML    string  `json:"xml"`
}

// Source provides the snapshot to read. *docstore.Store satisfies it.
type Source interface {
	Snapshot() *docstore.Snapshot
}

// Engine runs read operations. Each call reads exactly one snapshot.
type Engine struct {
	src Source
}

// NewEngine creates an engine over src.
func NewEngine(src Source) *Engine {
	return &Engine{src: src}
}

// Count returns the number of item elements, or 0 when nothing is loaded.
func (e *Engine) Count() int {
	snap := e.src.Snapshot()
	if snap == nil {
		return 0
	}
	return snap.Records
}

// GetByID returns the first item, in document order, whose identifier attribute
// equals id.
func (e *Engine) GetByID(id int) (*Record, error) {
	snap := e.src.Snapshot()
	if snap == nil {
		return nil, ErrNotLoaded
	}
	want := strconv.Itoa(id)
	var found *xmlquery.Node
	snap.Walk(snap.ItemTag, func(n *xmlquery.Node) bool {
		if n.SelectAttr(snap.IDAttr) == want {
			found = n
			return false
		}
		return true
	})
	if found == nil {
		return nil, fmt.Errorf("%w: %s=%d", ErrNotFound, snap.IDAttr, id)
	}
	return newRecord(found, want), nil
}

// LookupText renders GetByID for transports that carry a single string.
func (e *Engine) LookupText(id int) string {
	rec, err := e.GetByID(id)
	switch {
	case errors.Is(err, ErrNotLoaded):
		return NotLoadedText
	case err != nil:
		return NotFoundText
	}
	return rec.XML
}

func newRecord(n *xmlquery.Node, id string) *Record {
	rec := &Record{ID: id, XML: n.OutputXML(true), Fields: []Field{}}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			rec.Fields = append(rec.Fields, Field{Tag: c.Data, Value: c.InnerText()})
		}
	}
	return rec
}

// Execute evaluates q with the document's root element as context node.
// It never panics and never returns an error: failures become a Failed result.
func (e *Engine) Execute(q string) (res Result) {
	snap := e.src.Snapshot()
	if snap == nil {
		return Result{Kind: Failed, Values: []string{NotLoadedText}}
	}
	if strings.TrimSpace(q) == "" {
		return failed(errors.New("empty query"))
	}

	defer func() {
		if r := recover(); r != nil {
			res = failed(fmt.Errorf("%v", r))
		}
	}()

	// Compiled expressions are not shared between goroutines.
	expr, err := xpath.Compile(q)
	if err != nil {
		return failed(err)
	}
	nav := contextNavigator(snap)

	switch v := expr.Evaluate(nav).(type) {
	case *xpath.NodeIterator:
		values := []string{}
		for v.MoveNext() {
			values = append(values, render(v.Current()))
		}
		return Result{Kind: Nodes, Values: values}
	case float64:
		return Result{Kind: Scalar, Values: []string{FormatNumber(v)}}
	case string:
		return Result{Kind: Scalar, Values: []string{v}}
	case bool:
		return Result{Kind: Scalar, Values: []string{strconv.FormatBool(v)}}
	default:
		return failed(fmt.Errorf("unsupported result type %T", v))
	}
}

func failed(err error) Result {
	return Result{Kind: Failed, Values: []string{"query error: " + err.Error()}}
}

// contextNavigator returns a navigator positioned on the root element. Absolute
// paths still resolve from the document node.
func contextNavigator(snap *docstore.Snapshot) *xmlquery.NodeNavigator {
	nav := xmlquery.CreateXPathNavigator(snap.Doc)
	if !nav.MoveToChild() {
		return nav
	}
	for nav.Current() != snap.Root {
		if !nav.MoveToNext() {
			nav.MoveToRoot()
			break
		}
	}
	return nav
}

func render(n xpath.NodeNavigator) string {
	switch n.NodeType() {
	case xpath.ElementNode, xpath.RootNode:
		if x, ok := n.(*xmlquery.NodeNavigator); ok {
			return x.Current().OutputXML(true)
		}
	}
	return n.Value()
}

// FormatNumber converts a number the way XPath string() does: integral values
// have no fractional part.
func FormatNumber(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == math.Trunc(v) && math.Abs(v) < 1e15:
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
