package convert

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hyperjump/tabdoc/internal/layout"
	"github.com/hyperjump/tabdoc/internal/tabular"
	"github.com/hyperjump/tabdoc/internal/tagmap"
)

// ErrInvalidLayout is returned when a layout carries names that are not valid XML names.
var ErrInvalidLayout = errors.New("invalid layout")

// Stats summarizes one conversion run.
type Stats struct {
	Records   int
	Chunks    int
	ChunkSize int
	Columns   int
	// Capped is set when MaxRows stopped the run.
	Capped bool
}

// sink receives records in output order.
type sink interface {
	start() error
	record(Record) error
	end() error
}

// Transform streams src into w as an XML document shaped by l.
//
// Rows are read in chunks of l.ChunkSize, or automatically in chunks of
// tabular.AutoChunkRows for very large sources; chunking never changes the output.
// When l.MaxRows is positive exactly that many records are written at most.
func Transform(ctx context.Context, src tabular.Source, l layout.Layout, w io.Writer) (Stats, error) {
	if err := checkLayout(l); err != nil {
		return Stats{}, err
	}
	return run(ctx, src, l, newEncoder(w, l.RootTag, l.ItemTag, l.IDAttr))
}

// Build converts src fully into memory. Its WriteTo output equals what
// Transform would stream for the same input.
func Build(ctx context.Context, src tabular.Source, l layout.Layout) (*Document, Stats, error) {
	if err := checkLayout(l); err != nil {
		return nil, Stats{}, err
	}
	doc := &Document{RootTag: l.RootTag, ItemTag: l.ItemTag, IDAttr: l.IDAttr}
	stats, err := run(ctx, src, l, (*docSink)(doc))
	if err != nil {
		return nil, stats, err
	}
	return doc, stats, nil
}

func checkLayout(l layout.Layout) error {
	for _, name := range []string{l.RootTag, l.ItemTag, l.IDAttr} {
		if !tagmap.Valid(name) {
			return fmt.Errorf("%w: %q is not a valid element or attribute name", ErrInvalidLayout, name)
		}
	}
	if l.MaxRows < 0 || l.ChunkSize < 0 {
		return fmt.Errorf("%w: max rows and chunk size must not be negative", ErrInvalidLayout)
	}
	return nil
}

// plan maps source columns to output fields. The tag map is computed once from
// the header and reused for every chunk. The identifier column claims its tag
// first, so a field colliding with it gets the suffixed name.
type plan struct {
	cols []int
	tags []string
}

func newPlan(header []string, idColumn string) plan {
	idIdx := -1
	for i, col := range header {
		if col == idColumn {
			idIdx = i
			break
		}
	}

	order := make([]int, 0, len(header))
	if idIdx >= 0 {
		order = append(order, idIdx)
	}
	for i := range header {
		if i != idIdx {
			order = append(order, i)
		}
	}
	names := make([]string, len(order))
	for k, i := range order {
		names[k] = header[i]
	}
	ordered := tagmap.Ordered(names)
	tags := make([]string, len(header))
	for k, i := range order {
		tags[i] = ordered[k]
	}

	p := plan{}
	for i := range header {
		if i == idIdx {
			continue
		}
		p.cols = append(p.cols, i)
		p.tags = append(p.tags, tags[i])
	}
	return p
}

func (p plan) record(id int, row []string) Record {
	fields := make([]Field, len(p.cols))
	for i, col := range p.cols {
		var v string
		if col < len(row) {
			v = row[col]
		}
		fields[i] = Field{Tag: p.tags[i], Value: CleanValue(v)}
	}
	return Record{ID: id, Fields: fields}
}

func run(ctx context.Context, src tabular.Source, l layout.Layout, out sink) (Stats, error) {
	header := src.Header()
	p := newPlan(header, l.IDColumn)
	chunkSize := tabular.ChunkSizeFor(src, l.ChunkSize)
	stats := Stats{ChunkSize: chunkSize, Columns: len(p.cols)}

	if err := out.start(); err != nil {
		return stats, err
	}
	readSize := chunkSize
	if readSize == 0 && l.MaxRows > 0 {
		// Whole-source reads stop at the cap instead of loading every row.
		readSize = l.MaxRows
	}
	chunker := tabular.NewChunker(src, readSize)
	nextID := 1
	for {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("conversion cancelled after %d records: %w", stats.Records, err)
		}
		if l.MaxRows > 0 && stats.Records >= l.MaxRows {
			stats.Capped = true
			break
		}
		chunk, err := chunker.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read source: %w", err)
		}
		stats.Chunks++
		for _, row := range chunk {
			if l.MaxRows > 0 && stats.Records >= l.MaxRows {
				stats.Capped = true
				break
			}
			if err := out.record(p.record(nextID, row)); err != nil {
				return stats, fmt.Errorf("write record %d: %w", nextID, err)
			}
			nextID++
			stats.Records++
		}
	}
	if err := out.end(); err != nil {
		return stats, err
	}
	return stats, nil
}

type docSink Document

func (d *docSink) start() error { return nil }
func (d *docSink) end() error   { return nil }

func (d *docSink) record(r Record) error {
	d.Records = append(d.Records, r)
	return nil
}
