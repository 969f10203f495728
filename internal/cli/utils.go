// Package cli formats command output for the tabdoc CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hyperjump/tabdoc/internal/storage"
	"github.com/hyperjump/tabdoc/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat accepts "text" or "json"; empty means text.
func ParseFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

// QueryOutput is a query result as printed by the CLI.
type QueryOutput struct {
	Query   string   `json:"query"`
	Kind    string   `json:"kind"`
	Results []string `json:"results"`
}

// ConvertOutput summarizes a conversion.
type ConvertOutput struct {
	Source    string `json:"source"`
	XMLPath   string `json:"xml_path"`
	XSDPath   string `json:"xsd_path"`
	Records   int    `json:"records"`
	Columns   int    `json:"columns"`
	Chunks    int    `json:"chunks"`
	ChunkSize int    `json:"chunk_size"`
	Capped    bool   `json:"capped"`
	TookMS    int64  `json:"took_ms"`
}

// UploadOutput is the server's answer to an upload.
type UploadOutput struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message"`
	Records  int    `json:"records,omitempty"`
	UploadID string `json:"upload_id,omitempty"`
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteQueryResult writes one value per line in text format.
func WriteQueryResult(w io.Writer, out *QueryOutput, format OutputFormat) error {
	if format == OutputJSON {
		if out.Results == nil {
			out.Results = []string{}
		}
		return WriteJSON(w, out)
	}
	if out.Kind == "nodes" && len(out.Results) == 0 {
		fmt.Fprintln(w, "(no results)")
		return nil
	}
	for _, v := range out.Results {
		fmt.Fprintln(w, v)
	}
	return nil
}

// WriteCount writes a record count.
func WriteCount(w io.Writer, n int, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, map[string]int{"count": n})
	}
	fmt.Fprintln(w, n)
	return nil
}

// WriteRecord writes the text returned for a record lookup.
func WriteRecord(w io.Writer, id int, text string, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, map[string]interface{}{"id": id, "text": text})
	}
	fmt.Fprintln(w, text)
	return nil
}

// WriteUpload writes an upload result.
func WriteUpload(w io.Writer, out *UploadOutput, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, out)
	}
	status := "OK"
	if !out.OK {
		status = "FAILED"
	}
	fmt.Fprintf(w, "%s: %s\n", status, out.Message)
	if out.UploadID != "" {
		fmt.Fprintf(w, "upload id: %s\n", out.UploadID)
	}
	return nil
}

// WriteConvert writes a conversion summary.
func WriteConvert(w io.Writer, out *ConvertOutput, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, out)
	}
	fmt.Fprintf(w, "Converted %s -> %s (%d records, %d columns) in %dms\n",
		out.Source, out.XMLPath, out.Records, out.Columns, out.TookMS)
	fmt.Fprintf(w, "Schema: %s\n", out.XSDPath)
	fmt.Fprintf(w, "Chunks: %d x %d rows\n", out.Chunks, out.ChunkSize)
	if out.Capped {
		fmt.Fprintln(w, "Row cap reached; remaining rows were not converted.")
	}
	return nil
}

// WriteHistory writes upload history entries, newest first.
func WriteHistory(w io.Writer, entries []*storage.UploadEntry, format OutputFormat) error {
	if format == OutputJSON {
		if entries == nil {
			entries = []*storage.UploadEntry{}
		}
		return WriteJSON(w, map[string]interface{}{"uploads": entries})
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No uploads recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RECEIVED\tPROTOCOL\tOK\tRECORDS\tBYTES\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%d\t%s\n",
			e.ReceivedAt.Local().Format(time.DateTime), e.Protocol, e.OK, e.Records, e.Bytes,
			utils.Truncate(e.Message, 60))
	}
	return tw.Flush()
}
