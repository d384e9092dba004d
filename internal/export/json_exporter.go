package export

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"time"

	"github.com/inferloop/p3gm/internal/dataset"
	"github.com/inferloop/p3gm/pkg/constants"
)

// JSONExporter implements JSON export functionality
type JSONExporter struct{}

// JSONExportWrapper is the document written for FormatJSON.
type JSONExportWrapper struct {
	ExportInfo JSONExportInfo `json:"export_info"`
	Columns    []string       `json:"columns"`
	Records    []JSONRecord   `json:"records"`
}

// JSONExportInfo describes the export
type JSONExportInfo struct {
	Timestamp   time.Time `json:"timestamp"`
	Format      string    `json:"format"`
	RecordCount int       `json:"record_count"`
	ExportedBy  string    `json:"exported_by"`
	Version     string    `json:"version"`
}

// JSONRecord maps column names to values. Finite values are rounded to the
// requested precision and kept as JSON numbers; NaN and Inf become null.
type JSONRecord map[string]any

// Name returns the exporter name
func (je *JSONExporter) Name() string {
	return "json"
}

// SupportedFormats returns supported formats
func (je *JSONExporter) SupportedFormats() []ExportFormat {
	return []ExportFormat{FormatJSON, FormatJSONLines}
}

// Export writes a single wrapper document, or one record per line for
// FormatJSONLines.
func (je *JSONExporter) Export(ctx context.Context, writer io.Writer, table *dataset.Table, format ExportFormat, options ExportOptions) error {
	encoder := json.NewEncoder(writer)
	if options.JSONOptions.Pretty && format != FormatJSONLines {
		encoder.SetIndent("", "  ")
	}

	rows, cols := table.Data.Dims()
	names := headers(table, cols)

	if format == FormatJSONLines {
		for i := 0; i < rows; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := encoder.Encode(je.record(table, i, names, options.Precision)); err != nil {
				return err
			}
		}
		return nil
	}

	records := make([]JSONRecord, rows)
	for i := range records {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		records[i] = je.record(table, i, names, options.Precision)
	}

	return encoder.Encode(JSONExportWrapper{
		ExportInfo: JSONExportInfo{
			Timestamp:   time.Now().UTC(),
			Format:      string(format),
			RecordCount: rows,
			ExportedBy:  constants.AppName,
			Version:     constants.AppVersion,
		},
		Columns: names,
		Records: records,
	})
}

// ValidateOptions validates JSON export options
func (je *JSONExporter) ValidateOptions(options ExportOptions) error {
	return nil
}

func (je *JSONExporter) record(table *dataset.Table, i int, names []string, precision int) JSONRecord {
	rec := make(JSONRecord, len(names))
	for j, name := range names {
		v := table.Data.At(i, j)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			rec[name] = nil
			continue
		}
		rec[name] = json.Number(formatValue(v, precision))
	}
	return rec
}
