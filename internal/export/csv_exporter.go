package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/inferloop/p3gm/internal/dataset"
)

// CSVExporter implements CSV export functionality
type CSVExporter struct{}

// Name returns the exporter name
func (ce *CSVExporter) Name() string {
	return "csv"
}

// SupportedFormats returns supported formats
func (ce *CSVExporter) SupportedFormats() []ExportFormat {
	return []ExportFormat{FormatCSV}
}

// Export writes one row per record, with the column names as header.
func (ce *CSVExporter) Export(ctx context.Context, writer io.Writer, table *dataset.Table, _ ExportFormat, options ExportOptions) error {
	csvWriter := csv.NewWriter(writer)
	if options.CSVOptions.Delimiter != "" {
		csvWriter.Comma, _ = utf8.DecodeRuneInString(options.CSVOptions.Delimiter)
	}
	csvWriter.UseCRLF = options.CSVOptions.UseCRLF

	rows, cols := table.Data.Dims()
	if options.IncludeHeaders {
		if err := csvWriter.Write(headers(table, cols)); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	record := make([]string, cols)
	for i := 0; i < rows; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		for j := range record {
			record[j] = formatValue(table.Data.At(i, j), options.Precision)
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// ValidateOptions validates CSV export options
func (ce *CSVExporter) ValidateOptions(options ExportOptions) error {
	if d := options.CSVOptions.Delimiter; d != "" {
		r, size := utf8.DecodeRuneInString(d)
		if size != len(d) || r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
			return fmt.Errorf("CSV delimiter must be a single character")
		}
	}
	return nil
}

// headers falls back to x0..xN when the table carries no column names.
func headers(table *dataset.Table, cols int) []string {
	if len(table.Columns) == cols {
		return table.Columns
	}
	names := make([]string, cols)
	for j := range names {
		names[j] = fmt.Sprintf("x%d", j)
	}
	return names
}
