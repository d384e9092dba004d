// Package dataset loads numeric training tables and scales them for the
// autoencoder.
package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/p3gm/pkg/errors"
)

// Table is a numeric dataset with named columns.
type Table struct {
	Columns []string
	Data    *mat.Dense
}

// Rows returns the number of records.
func (t *Table) Rows() int {
	r, _ := t.Data.Dims()
	return r
}

// CSVOptions controls LoadCSV.
type CSVOptions struct {
	Delimiter rune
	// NoHeader treats the first line as data and names columns c0, c1, ...
	NoHeader bool
	// Columns restricts loading to the named columns, in order.
	Columns []string
}

// LoadCSVFile reads a numeric CSV file.
func LoadCSVFile(path string, opts CSVOptions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return LoadCSV(f, opts)
}

// LoadCSV reads a numeric CSV table. Every selected cell must parse as a
// float.
func LoadCSV(r io.Reader, opts CSVOptions) (*Table, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput, "failed to parse CSV")
	}
	if len(records) == 0 {
		return nil, errors.WrapError(errors.ErrInsufficientData, errors.ErrorTypeValidation, errors.CodeInsufficientData, "CSV is empty")
	}

	header := records[0]
	body := records[1:]
	if opts.NoHeader {
		header = make([]string, len(records[0]))
		for j := range header {
			header[j] = fmt.Sprintf("c%d", j)
		}
		body = records
	}

	idx, err := selectColumns(header, opts.Columns)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, errors.WrapError(errors.ErrInsufficientData, errors.ErrorTypeValidation, errors.CodeInsufficientData, "CSV has no data rows")
	}

	data := mat.NewDense(len(body), len(idx), nil)
	for i, rec := range body {
		for j, col := range idx {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
			if err != nil {
				return nil, errors.NewValidationError(errors.CodeInvalidInput,
					fmt.Sprintf("row %d column %q: %v", i+1, header[col], err))
			}
			data.Set(i, j, v)
		}
	}

	columns := make([]string, len(idx))
	for j, col := range idx {
		columns[j] = header[col]
	}
	return &Table{Columns: columns, Data: data}, nil
}

func selectColumns(header, wanted []string) ([]int, error) {
	if len(wanted) == 0 {
		idx := make([]int, len(header))
		for j := range idx {
			idx[j] = j
		}
		return idx, nil
	}
	pos := make(map[string]int, len(header))
	for j, h := range header {
		pos[strings.TrimSpace(h)] = j
	}
	idx := make([]int, len(wanted))
	for j, w := range wanted {
		p, ok := pos[w]
		if !ok {
			return nil, errors.NewValidationError(errors.CodeMissingField, fmt.Sprintf("column %q not found", w))
		}
		idx[j] = p
	}
	return idx, nil
}
