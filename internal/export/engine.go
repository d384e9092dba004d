// Package export writes synthetic records to CSV and JSON.
package export

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/p3gm/internal/dataset"
	"github.com/inferloop/p3gm/pkg/errors"
)

// ExportFormat defines supported export formats
type ExportFormat string

const (
	FormatCSV       ExportFormat = "csv"
	FormatJSON      ExportFormat = "json"
	FormatJSONLines ExportFormat = "jsonl"
)

// ExportOptions contains export-specific options
type ExportOptions struct {
	IncludeHeaders bool        `json:"include_headers"`
	Precision      int         `json:"precision"`
	CSVOptions     CSVOptions  `json:"csv_options,omitempty"`
	JSONOptions    JSONOptions `json:"json_options,omitempty"`
}

// CSVOptions configures the CSV writer.
type CSVOptions struct {
	Delimiter string `json:"delimiter"`
	UseCRLF   bool   `json:"use_crlf"`
}

type JSONOptions struct {
	Pretty bool `json:"pretty"`
}

// DefaultExportOptions writes headers with six decimal places.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{IncludeHeaders: true, Precision: 6}
}

// Exporter interface for format-specific exporters
type Exporter interface {
	Name() string
	SupportedFormats() []ExportFormat
	Export(ctx context.Context, writer io.Writer, table *dataset.Table, format ExportFormat, options ExportOptions) error
	ValidateOptions(options ExportOptions) error
}

// ExportEngine dispatches tables to the exporter registered for a format.
type ExportEngine struct {
	exporters map[string]Exporter
	logger    *logrus.Logger
	mu        sync.RWMutex
}

// NewExportEngine returns an engine with the CSV and JSON exporters.
func NewExportEngine(logger *logrus.Logger) *ExportEngine {
	if logger == nil {
		logger = logrus.New()
	}
	ee := &ExportEngine{
		exporters: make(map[string]Exporter),
		logger:    logger,
	}
	ee.RegisterExporter(&CSVExporter{})
	ee.RegisterExporter(&JSONExporter{})
	return ee
}

// RegisterExporter registers a format-specific exporter
func (ee *ExportEngine) RegisterExporter(exporter Exporter) {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	ee.exporters[exporter.Name()] = exporter
}

// Export writes table to writer in the given format.
func (ee *ExportEngine) Export(ctx context.Context, table *dataset.Table, format ExportFormat, writer io.Writer, options ExportOptions) error {
	if table == nil || table.Data == nil {
		return errors.NewValidationError(errors.CodeMissingField, "nothing to export")
	}

	ee.mu.RLock()
	exporter, exists := ee.findExporterForFormat(format)
	ee.mu.RUnlock()
	if !exists {
		return errors.NewValidationError(errors.CodeInvalidInput, fmt.Sprintf("no exporter found for format %s", format))
	}
	if err := exporter.ValidateOptions(options); err != nil {
		return errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput, "invalid export options")
	}

	start := time.Now()
	err := exporter.Export(ctx, writer, table, format, options)

	ee.logger.WithFields(logrus.Fields{
		"format":   format,
		"records":  table.Rows(),
		"duration": time.Since(start),
	}).Debug("Export completed")
	return err
}

// ExportToFile writes table to path. A ".gz" suffix gzips the output and
// the format is taken from the remaining extension when format is empty.
func (ee *ExportEngine) ExportToFile(ctx context.Context, table *dataset.Table, format ExportFormat, path string, options ExportOptions) error {
	if format == "" {
		format = FormatFromPath(path)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	out, err := createOutputFile(path)
	if err != nil {
		return err
	}
	if err := ee.Export(ctx, table, format, out, options); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// GetSupportedFormats returns all supported export formats
func (ee *ExportEngine) GetSupportedFormats() []ExportFormat {
	ee.mu.RLock()
	defer ee.mu.RUnlock()

	var result []ExportFormat
	for _, exporter := range ee.exporters {
		result = append(result, exporter.SupportedFormats()...)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

func (ee *ExportEngine) findExporterForFormat(format ExportFormat) (Exporter, bool) {
	for _, exporter := range ee.exporters {
		for _, supported := range exporter.SupportedFormats() {
			if supported == format {
				return exporter, true
			}
		}
	}
	return nil, false
}

// FormatFromPath maps a file extension to a format, defaulting to CSV.
func FormatFromPath(path string) ExportFormat {
	path = strings.TrimSuffix(strings.ToLower(path), ".gz")
	switch filepath.Ext(path) {
	case ".json":
		return FormatJSON
	case ".jsonl", ".ndjson":
		return FormatJSONLines
	default:
		return FormatCSV
	}
}

func createOutputFile(path string) (io.WriteCloser, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".gz") {
		return &gzipWriter{file: file, gzWriter: gzip.NewWriter(file)}, nil
	}
	return file, nil
}

// gzipWriter wraps gzip writer with file
type gzipWriter struct {
	file     *os.File
	gzWriter *gzip.Writer
}

func (gw *gzipWriter) Write(p []byte) (int, error) {
	return gw.gzWriter.Write(p)
}

func (gw *gzipWriter) Close() error {
	if err := gw.gzWriter.Close(); err != nil {
		gw.file.Close()
		return err
	}
	return gw.file.Close()
}

func formatValue(value float64, precision int) string {
	if precision <= 0 {
		precision = 6
	}
	return fmt.Sprintf("%.*f", precision, value)
}
