package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/p3gm/pkg/models"
)

func TestEpsilonCommand(t *testing.T) {
	globals := createTestGlobals(t, t.TempDir())

	out, err := execute(NewEpsilonCmd(globals), "--data-size", "10000", "--lot-size", "100",
		"--sgd-sigma", "1", "--gmm-sigma", "2", "--pca-sigma", "5", "--gmm-iter", "5",
		"--gmm-n-comp", "10", "--sgd-epoch", "10", "--delta", "1e-5", "--json")
	require.NoError(t, err)

	var report models.PrivacyReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Greater(t, report.Epsilon, 0.0)
	assert.Equal(t, 1000, report.SGDSteps)
	assert.Equal(t, 105, report.GMMSteps)

	out, err = execute(NewEpsilonCmd(globals), "--data-size", "1000")
	require.NoError(t, err)
	assert.Contains(t, out, "epsilon:")
	assert.Contains(t, out, "ratio pca:gmm:sgd")
}

func TestEpsilonCommandRejectsInvalidParams(t *testing.T) {
	globals := createTestGlobals(t, t.TempDir())

	_, err := execute(NewEpsilonCmd(globals), "--data-size", "1000", "--delta", "2")
	assert.Error(t, err)

	_, err = execute(NewEpsilonCmd(globals))
	assert.Error(t, err)
}

func TestTrainAndGenerate(t *testing.T) {
	dir := t.TempDir()
	globals := createTestGlobals(t, dir)
	data := writeTestCSV(t, dir)

	out, err := execute(NewTrainCmd(globals), "--data", data, "--id", "demo", "--lower", "0,0,0", "--upper", "1,10,100")
	require.NoError(t, err)
	assert.Contains(t, out, "model: demo")
	assert.Contains(t, out, "epsilon:")
	assert.FileExists(t, filepath.Join(dir, "models", "demo.json"))

	out, err = execute(NewGenerateCmd(globals), "--model", "demo", "--count", "6", "--precision", "3")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "x,y,z", lines[0])

	target := filepath.Join(dir, "out", "synthetic.jsonl")
	_, err = execute(NewGenerateCmd(globals), "--model", "demo", "--count", "4", "--output", target)
	require.NoError(t, err)
	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(content)), "\n"), 4)

	out, err = execute(NewGenerateCmd(globals), "--model", "demo", "--count", "3", "--by-pca", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"record_count":3`)
}

func TestTrainRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	globals := createTestGlobals(t, dir)
	data := writeTestCSV(t, dir)

	_, err := execute(NewTrainCmd(globals), "--data", data, "--id", "../escape")
	assert.Error(t, err)

	_, err = execute(NewTrainCmd(globals), "--data", data, "--lower", "0,0", "--upper", "1,1")
	assert.Error(t, err)

	_, err = execute(NewTrainCmd(globals), "--data", filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}

func TestGenerateUnknownModel(t *testing.T) {
	globals := createTestGlobals(t, t.TempDir())

	_, err := execute(NewGenerateCmd(globals), "--model", "nope")
	assert.Error(t, err)

	_, err = execute(NewGenerateCmd(globals), "--model", "nope", "--count", "0")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(NewVersionCmd(), "--json")
	require.NoError(t, err)

	var info BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

// Helper functions

func createTestGlobals(t *testing.T, dir string) *GlobalOptions {
	t.Helper()
	path := filepath.Join(dir, "p3gm.yaml")
	cfg := fmt.Sprintf(`
log:
  level: error
model:
  z_dim: 2
  hidden_dim: 4
  seed: 5
  pca_sigma: 1
  gmm_n_comp: 2
  gmm_iter: 2
  gmm_sigma: 1
  sgd_sigma: 1
  microbatches: 2
  epochs: 1
  batch_size: 20
  pretrain_iterations: 5
  pretrain_batch_size: 10
storage:
  type: file
  file:
    base_path: %s
    create_dirs: true
metrics:
  enabled: false
`, filepath.Join(dir, "models"))
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return &GlobalOptions{ConfigFile: path}
}

func writeTestCSV(t *testing.T, dir string) string {
	t.Helper()
	rng := rand.New(rand.NewPCG(1, 2))
	var buf bytes.Buffer
	buf.WriteString("x,y,z\n")
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&buf, "%.4f,%.4f,%.4f\n", rng.Float64(), 10*rng.Float64(), 100*rng.Float64())
	}
	path := filepath.Join(dir, "train.csv")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func execute(cmd *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	err := cmd.Execute()
	return out.String(), err
}
