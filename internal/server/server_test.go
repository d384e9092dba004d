package server

import (
	"context"
	"encoding/json"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/inferloop/p3gm/internal/generators/p3gm"
	"github.com/inferloop/p3gm/internal/observability/metrics"
	"github.com/inferloop/p3gm/internal/storage/implementations/file"
	"github.com/inferloop/p3gm/pkg/constants"
	"github.com/inferloop/p3gm/pkg/interfaces"
	"github.com/inferloop/p3gm/pkg/models"
)

func TestHealthAndVersion(t *testing.T) {
	srv, _ := createTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(constants.HeaderRequestID))

	var body map[string]string
	rec = doRequest(srv, http.MethodGet, "/version", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, constants.AppVersion, body["version"])
}

func TestRequestIDIsPropagated(t *testing.T) {
	srv, _ := createTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(constants.HeaderRequestID, "req-1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-1", rec.Header().Get(constants.HeaderRequestID))
}

func TestEpsilonEndpoint(t *testing.T) {
	srv, _ := createTestServer(t)

	body := `{"lot_size":100,"data_size":10000,"sgd_sigma":1.0,"gmm_sigma":2.0,"pca_sigma":5.0,
		"gmm_iter":5,"gmm_n_comp":10,"sgd_epoch":10,"delta":1e-5}`
	rec := doRequest(srv, http.MethodPost, "/api/v1/privacy/epsilon", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report models.PrivacyReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Greater(t, report.Epsilon, 0.0)
	assert.Equal(t, 1000, report.SGDSteps)
	assert.InDelta(t, 1.0, report.Ratios.PCA+report.Ratios.GMM+report.Ratios.SGD, 1e-9)
}

func TestEpsilonEndpointRejectsBadInput(t *testing.T) {
	srv, _ := createTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/v1/privacy/epsilon", `{"lot_size":0,"delta":1e-5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Error struct {
			Code    string                 `json:"code"`
			Context map[string]interface{} `json:"context"`
		} `json:"error"`
		Path string `json:"path"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
	assert.Contains(t, resp.Error.Context, "errors")
	assert.Equal(t, "/api/v1/privacy/epsilon", resp.Path)

	rec = doRequest(srv, http.MethodPost, "/api/v1/privacy/epsilon", `{"unknown":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/api/v1/privacy/epsilon", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModelEndpoints(t *testing.T) {
	srv, store := createTestServer(t)
	id := saveTrainedModel(t, store)

	rec := doRequest(srv, http.MethodGet, "/api/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)

	rec = doRequest(srv, http.MethodGet, "/api/v1/models/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary ModelSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, id, summary.ID)
	assert.Equal(t, "p3gm", summary.Mode)
	assert.Equal(t, 2, summary.Components)
	assert.Equal(t, []string{"a", "b", "c"}, summary.Columns)
	require.NotNil(t, summary.Privacy)
	assert.NotContains(t, rec.Body.String(), "parameters")

	rec = doRequest(srv, http.MethodGet, "/api/v1/models/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(srv, http.MethodDelete, "/api/v1/models/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doRequest(srv, http.MethodGet, "/api/v1/models/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateSamples(t *testing.T) {
	srv, store := createTestServer(t)
	id := saveTrainedModel(t, store)

	rec := doRequest(srv, http.MethodPost, "/api/v1/models/"+id+"/samples", `{"count":5,"seed":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, constants.ContentTypeJSON, rec.Header().Get(constants.HeaderContentType))

	var doc struct {
		Columns []string             `json:"columns"`
		Records []map[string]float64 `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, []string{"a", "b", "c"}, doc.Columns)
	assert.Len(t, doc.Records, 5)

	again := doRequest(srv, http.MethodPost, "/api/v1/models/"+id+"/samples", `{"count":5,"seed":3}`)
	assert.Equal(t, recordsOf(t, rec.Body.Bytes()), recordsOf(t, again.Body.Bytes()))

	rec = doRequest(srv, http.MethodPost, "/api/v1/models/"+id+"/samples", `{"count":4,"seed":3,"format":"csv"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Equal(t, "a,b,c", lines[0])
	assert.Len(t, lines, 5)
}

func TestGenerateSamplesValidation(t *testing.T) {
	srv, store := createTestServer(t)
	id := saveTrainedModel(t, store)

	rec := doRequest(srv, http.MethodPost, "/api/v1/models/"+id+"/samples", `{"count":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/api/v1/models/"+id+"/samples", `{"count":1000000}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/api/v1/models/"+id+"/samples", `{"count":2,"format":"parquet"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/api/v1/models/nope/samples", `{"count":2}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutingErrors(t *testing.T) {
	srv, _ := createTestServer(t)

	assert.Equal(t, http.StatusNotFound, doRequest(srv, http.MethodGet, "/nowhere", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, doRequest(srv, http.MethodPut, "/health", "").Code)
}

func TestRequestSizeLimit(t *testing.T) {
	srv, _ := createTestServer(t)
	srv.config.MaxRequestSize = 8

	rec := doRequest(srv, http.MethodPost, "/api/v1/privacy/epsilon", `{"lot_size":100,"data_size":1000}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := createTestServer(t)

	doRequest(srv, http.MethodGet, "/health", "")
	rec := doRequest(srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `p3gm_server_http_requests_total{method="GET",path="/health",status="200"} 1`)
}

func TestServeAndShutdown(t *testing.T) {
	srv, _ := createTestServer(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()

	resp, err := http.Get("http://" + listener.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(nil, nil, nil, quietLogger())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.MaxSampleCount = 0
	_, err = NewServer(cfg, nil, nil, quietLogger())
	assert.Error(t, err)
}

// Helper functions

func createTestServer(t *testing.T) (*Server, interfaces.ModelStore) {
	t.Helper()
	store, err := file.NewFileStorage(&file.FileStorageConfig{BasePath: t.TempDir()}, quietLogger())
	require.NoError(t, err)

	pm, err := metrics.NewPrometheusMetrics(metrics.DefaultPrometheusConfig(), quietLogger())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.MaxSampleCount = 1000
	srv, err := NewServer(cfg, store, pm, quietLogger())
	require.NoError(t, err)
	return srv, store
}

func saveTrainedModel(t *testing.T, store interfaces.ModelStore) string {
	t.Helper()
	cfg := &p3gm.Config{
		Mode:                 p3gm.ModeP3GM,
		ZDim:                 2,
		HiddenDim:            4,
		Seed:                 11,
		PCASigma:             1,
		MixtureComponents:    2,
		MixtureIterations:    2,
		MixtureSigma:         1,
		SGDSigma:             1,
		ClipNorm:             1,
		Microbatches:         2,
		Epochs:               1,
		BatchSize:            20,
		LearningRate:         1e-3,
		PretrainBatchSize:    10,
		PretrainLearningRate: 1e-3,
		Delta:                1e-5,
	}
	model, err := p3gm.NewModel(cfg, quietLogger())
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(5, 6))
	data := mat.NewDense(40, 3, nil)
	for i := 0; i < 40; i++ {
		for j := 0; j < 3; j++ {
			data.Set(i, j, rng.Float64())
		}
	}
	require.NoError(t, model.Train(context.Background(), data))

	snapshot, err := model.Snapshot()
	require.NoError(t, err)
	snapshot.Columns = []string{"a", "b", "c"}
	require.NoError(t, store.Save(context.Background(), snapshot))
	return snapshot.ID
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func recordsOf(t *testing.T, body []byte) []map[string]float64 {
	t.Helper()
	var doc struct {
		Records []map[string]float64 `json:"records"`
	}
	require.NoError(t, json.Unmarshal(body, &doc))
	return doc.Records
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
