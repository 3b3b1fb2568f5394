// Package output formats mirror rows for tablemesh-cli.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/tablemesh/tablemesh-go/internal/core/domain"
)

// Format is the output format.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

// Formatter renders rows to a writer.
type Formatter interface {
	FormatRows(w io.Writer, rows []*domain.RowRecord) error
}

// NewFormatter creates a formatter for the given format. Unknown formats
// fall back to the table renderer.
func NewFormatter(format Format) Formatter {
	if format == FormatJSON {
		return &JSONFormatter{}
	}
	return &TableFormatter{}
}

// JSONFormatter renders rows as an indented JSON array.
type JSONFormatter struct{}

// FormatRows writes the rows as JSON.
func (f *JSONFormatter) FormatRows(w io.Writer, rows []*domain.RowRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// TableFormatter renders rows as an aligned text table.
type TableFormatter struct {
	// NoHeaders suppresses the header row.
	NoHeaders bool
}

// FormatRows writes the rows as a table.
func (f *TableFormatter) FormatRows(w io.Writer, rows []*domain.RowRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if !f.NoHeaders {
		fmt.Fprintln(tw, "PARTITION\tROW\tTIMESTAMP\tEXPIRES\tPAYLOAD")
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			r.PartitionKey, r.RowKey, r.TimeStamp, formatExpiry(r.ExpiresAt), summarize(r.Payload))
	}
	return tw.Flush()
}

func formatExpiry(expiresAt int64) string {
	if expiresAt == domain.NoExpiry {
		return "-"
	}
	return time.UnixMilli(expiresAt).UTC().Format(time.RFC3339)
}

// summarize keeps payload cells readable; full bodies belong in JSON
// output, not a terminal table.
func summarize(payload []byte) string {
	const max = 48
	if len(payload) <= max {
		return string(payload)
	}
	return fmt.Sprintf("%s... (%d bytes)", payload[:max], len(payload))
}
