package export

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/p3gm/internal/dataset"
	"github.com/inferloop/p3gm/pkg/errors"
)

func TestCSVExport(t *testing.T) {
	engine := NewExportEngine(quietLogger())
	var buf bytes.Buffer

	opts := DefaultExportOptions()
	opts.Precision = 2
	require.NoError(t, engine.Export(context.Background(), createTestTable(), FormatCSV, &buf, opts))

	assert.Equal(t, "age,income\n0.10,1.00\n0.25,-3.50\n", buf.String())
}

func TestCSVExportOptions(t *testing.T) {
	engine := NewExportEngine(quietLogger())
	table := &dataset.Table{Data: mat.NewDense(1, 2, []float64{1, 2})}

	var buf bytes.Buffer
	opts := ExportOptions{IncludeHeaders: true, Precision: 1, CSVOptions: CSVOptions{Delimiter: ";"}}
	require.NoError(t, engine.Export(context.Background(), table, FormatCSV, &buf, opts))
	assert.Equal(t, "x0;x1\n1.0;2.0\n", buf.String())

	opts.CSVOptions.Delimiter = ";;"
	err := engine.Export(context.Background(), table, FormatCSV, &buf, opts)
	assert.Equal(t, 400, errors.HTTPStatus(err))
}

func TestJSONExport(t *testing.T) {
	engine := NewExportEngine(quietLogger())
	var buf bytes.Buffer
	require.NoError(t, engine.Export(context.Background(), createTestTable(), FormatJSON, &buf, DefaultExportOptions()))

	var doc struct {
		ExportInfo JSONExportInfo       `json:"export_info"`
		Columns    []string             `json:"columns"`
		Records    []map[string]float64 `json:"records"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, 2, doc.ExportInfo.RecordCount)
	assert.Equal(t, "p3gm", doc.ExportInfo.ExportedBy)
	assert.Equal(t, []string{"age", "income"}, doc.Columns)
	assert.InDelta(t, -3.5, doc.Records[1]["income"], 1e-9)
}

func TestJSONLinesExport(t *testing.T) {
	engine := NewExportEngine(quietLogger())
	table := &dataset.Table{Columns: []string{"a"}, Data: mat.NewDense(2, 1, []float64{1, math.NaN()})}

	var buf bytes.Buffer
	require.NoError(t, engine.Export(context.Background(), table, FormatJSONLines, &buf, DefaultExportOptions()))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"a":1.000000}`, lines[0])
	assert.JSONEq(t, `{"a":null}`, lines[1])
}

func TestExportErrors(t *testing.T) {
	engine := NewExportEngine(quietLogger())

	err := engine.Export(context.Background(), nil, FormatCSV, io.Discard, DefaultExportOptions())
	assert.Equal(t, 400, errors.HTTPStatus(err))

	err = engine.Export(context.Background(), createTestTable(), "parquet", io.Discard, DefaultExportOptions())
	assert.Equal(t, 400, errors.HTTPStatus(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = engine.Export(ctx, createTestTable(), FormatCSV, io.Discard, DefaultExportOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExportToFile(t *testing.T) {
	engine := NewExportEngine(quietLogger())
	dir := t.TempDir()

	path := filepath.Join(dir, "out", "synthetic.csv.gz")
	require.NoError(t, engine.ExportToFile(context.Background(), createTestTable(), "", path, DefaultExportOptions()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	content, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "age,income\n"))
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatCSV, FormatFromPath("a.csv"))
	assert.Equal(t, FormatJSON, FormatFromPath("a.JSON.gz"))
	assert.Equal(t, FormatJSONLines, FormatFromPath("a.ndjson"))
	assert.Equal(t, FormatCSV, FormatFromPath("a"))
	assert.Equal(t, []ExportFormat{FormatCSV, FormatJSON, FormatJSONLines}, NewExportEngine(nil).GetSupportedFormats())
}

// Helper functions

func createTestTable() *dataset.Table {
	return &dataset.Table{
		Columns: []string{"age", "income"},
		Data:    mat.NewDense(2, 2, []float64{0.1, 1, 0.25, -3.5}),
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
