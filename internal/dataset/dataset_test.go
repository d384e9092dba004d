package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/p3gm/pkg/errors"
)

func TestLoadCSV(t *testing.T) {
	table, err := LoadCSV(strings.NewReader("a,b,c\n1,2,3\n4, 5.5,-6\n"), CSVOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, table.Columns)
	assert.Equal(t, 2, table.Rows())
	assert.Equal(t, []float64{4, 5.5, -6}, table.Data.RawRowView(1))
}

func TestLoadCSVSelectColumns(t *testing.T) {
	table, err := LoadCSV(strings.NewReader("a,b,c\n1,2,3\n4,5,6\n"), CSVOptions{Columns: []string{"c", "a"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "a"}, table.Columns)
	assert.Equal(t, []float64{3, 1}, table.Data.RawRowView(0))

	_, err = LoadCSV(strings.NewReader("a,b\n1,2\n"), CSVOptions{Columns: []string{"z"}})
	assert.Error(t, err)
}

func TestLoadCSVNoHeader(t *testing.T) {
	table, err := LoadCSV(strings.NewReader("1;2\n3;4\n"), CSVOptions{Delimiter: ';', NoHeader: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"c0", "c1"}, table.Columns)
	assert.Equal(t, 2, table.Rows())
}

func TestLoadCSVErrors(t *testing.T) {
	_, err := LoadCSV(strings.NewReader(""), CSVOptions{})
	assert.ErrorIs(t, err, errors.ErrInsufficientData)

	_, err = LoadCSV(strings.NewReader("a,b\n"), CSVOptions{})
	assert.ErrorIs(t, err, errors.ErrInsufficientData)

	_, err = LoadCSV(strings.NewReader("a,b\n1,x\n"), CSVOptions{})
	require.Error(t, err)
	assert.Equal(t, 400, errors.HTTPStatus(err))
}

func TestLoadCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("x,y\n0,1\n"), 0o644))

	table, err := LoadCSVFile(path, CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, table.Rows())

	_, err = LoadCSVFile(filepath.Join(t.TempDir(), "missing.csv"), CSVOptions{})
	assert.Error(t, err)
}

func TestScalerRoundTrip(t *testing.T) {
	data := mat.NewDense(3, 2, []float64{0, 10, 5, 20, 10, 30})
	scaler := NewScaler()
	assert.False(t, scaler.IsFitted())

	scaled, err := scaler.FitTransform(data)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, scaled.RawRowView(0))
	assert.Equal(t, []float64{0.5, 0.5}, scaled.RawRowView(1))
	assert.Equal(t, []float64{1, 1}, scaled.RawRowView(2))

	assert.True(t, mat.EqualApprox(data, scaler.InverseTransform(scaled), 1e-12))
}

func TestScalerConstantColumn(t *testing.T) {
	data := mat.NewDense(2, 1, []float64{3, 3})
	scaler := NewScaler()
	scaled, err := scaler.FitTransform(data)
	require.NoError(t, err)
	assert.Equal(t, 0.0, scaled.At(0, 0))
}

func TestScalerSnapshot(t *testing.T) {
	scaler := NewScaler()
	assert.Nil(t, scaler.Snapshot())
	require.NoError(t, scaler.Fit(mat.NewDense(2, 2, []float64{0, -1, 2, 1})))

	restored, err := NewScalerFromSnapshot(scaler.Snapshot())
	require.NoError(t, err)

	x := mat.NewDense(1, 2, []float64{1, 0})
	assert.True(t, mat.Equal(scaler.Transform(x), restored.Transform(x)))

	_, err = NewScalerFromSnapshot(nil)
	assert.Error(t, err)
}

func TestScalerSetBoundsValidation(t *testing.T) {
	scaler := NewScaler()
	assert.Error(t, scaler.SetBounds([]float64{0}, []float64{1, 2}))
	assert.Error(t, scaler.SetBounds([]float64{1}, []float64{0}))
}

func TestUnfittedScalerIsIdentity(t *testing.T) {
	x := mat.NewDense(1, 2, []float64{7, 8})
	assert.True(t, mat.Equal(x, NewScaler().Transform(x)))
}
