package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// ExportFormat selects the serialization for Export.
type ExportFormat string

const (
	FormatJSONL ExportFormat = "jsonl"
	FormatJSON  ExportFormat = "json"
	FormatCSV   ExportFormat = "csv"
)

// Export serializes the filtered events to w.
func (l *Logger) Export(w io.Writer, format ExportFormat, f Filter) error {
	events := l.Query(f)
	switch format {
	case FormatJSONL:
		enc := json.NewEncoder(w)
		for _, e := range events {
			if err := enc.Encode(e); err != nil {
				return fmt.Errorf("audit: encode event: %w", err)
			}
		}
		return nil
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if events == nil {
			events = []Event{}
		}
		if err := enc.Encode(events); err != nil {
			return fmt.Errorf("audit: encode events: %w", err)
		}
		return nil
	case FormatCSV:
		cw := csv.NewWriter(w)
		header := []string{"id", "ts", "type", "severity", "operation", "status",
			"session_id", "client_id", "workspace", "duration_ms", "error", "data_hash"}
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("audit: write csv header: %w", err)
		}
		for _, e := range events {
			row := []string{
				e.ID,
				e.Timestamp.UTC().Format(time.RFC3339Nano),
				string(e.Type),
				string(e.Severity),
				e.Operation,
				string(e.Status),
				e.SessionID,
				e.ClientID,
				e.Workspace,
				strconv.FormatInt(e.DurationMS, 10),
				e.Error,
				e.DataHash,
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("audit: write csv row: %w", err)
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		return fmt.Errorf("audit: unknown export format %q", format)
	}
}

// ExportFile writes the filtered events to path, creating or truncating it.
func (l *Logger) ExportFile(path string, format ExportFormat, f Filter) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create export file: %w", err)
	}
	if err := l.Export(out, format, f); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
