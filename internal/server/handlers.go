package server

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/p3gm/internal/dataset"
	"github.com/inferloop/p3gm/internal/export"
	"github.com/inferloop/p3gm/internal/generators/p3gm"
	"github.com/inferloop/p3gm/internal/observability/metrics"
	"github.com/inferloop/p3gm/internal/privacy"
	"github.com/inferloop/p3gm/pkg/constants"
	"github.com/inferloop/p3gm/pkg/errors"
	"github.com/inferloop/p3gm/pkg/interfaces"
	"github.com/inferloop/p3gm/pkg/models"
)

// Handlers contains the HTTP handlers
type Handlers struct {
	store     interfaces.ModelStore
	exporter  *export.ExportEngine
	metrics   *metrics.PrometheusMetrics
	config    *Config
	logger    *logrus.Logger
	startTime time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(store interfaces.ModelStore, exporter *export.ExportEngine, pm *metrics.PrometheusMetrics, config *Config, logger *logrus.Logger) *Handlers {
	return &Handlers{
		store:     store,
		exporter:  exporter,
		metrics:   pm,
		config:    config,
		logger:    logger,
		startTime: time.Now(),
	}
}

// ModelSummary is the public description of a stored model. Network
// parameters are not exposed.
type ModelSummary struct {
	ID         string                `json:"id"`
	CreatedAt  time.Time             `json:"created_at"`
	Mode       string                `json:"mode"`
	InputDim   int                   `json:"input_dim"`
	ZDim       int                   `json:"z_dim"`
	HiddenDim  int                   `json:"hidden_dim"`
	Components int                   `json:"components"`
	Columns    []string              `json:"columns,omitempty"`
	Privacy    *models.PrivacyReport `json:"privacy,omitempty"`
}

// SampleRequest is the body of POST /models/{id}/samples.
type SampleRequest struct {
	Count     int                 `json:"count"`
	Seed      uint64              `json:"seed,omitempty"`
	Format    export.ExportFormat `json:"format,omitempty"`
	Precision int                 `json:"precision,omitempty"`
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   constants.AppVersion,
		"uptime":    time.Since(h.startTime).String(),
	})
}

// Version handles GET /version
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":        constants.AppName,
		"description": constants.AppDescription,
		"version":     constants.AppVersion,
		"api_version": constants.APIVersion,
	})
}

// Epsilon handles POST /api/v1/privacy/epsilon. The body is a
// models.PrivacyParams document; the response is the privacy report.
func (h *Handlers) Epsilon(w http.ResponseWriter, r *http.Request) {
	var params models.PrivacyParams
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, r, err)
		return
	}

	report, err := privacy.NewAccountant(nil, h.logger).Analyze(params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListModels handles GET /api/v1/models
func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	ids, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": ids, "count": len(ids)})
}

// GetModel handles GET /api/v1/models/{id}
func (h *Handlers) GetModel(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.store.Load(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	summary := ModelSummary{
		ID:        snapshot.ID,
		CreatedAt: snapshot.CreatedAt,
		Mode:      snapshot.Mode,
		InputDim:  snapshot.InputDim,
		ZDim:      snapshot.ZDim,
		HiddenDim: snapshot.HiddenDim,
		Columns:   snapshot.Columns,
		Privacy:   snapshot.Privacy,
	}
	if snapshot.Mixture != nil {
		summary.Components = len(snapshot.Mixture.Weights)
	}
	writeJSON(w, http.StatusOK, summary)
}

// DeleteModel handles DELETE /api/v1/models/{id}
func (h *Handlers) DeleteModel(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GenerateSamples handles POST /api/v1/models/{id}/samples. Records are
// returned in the requested format, JSON by default.
func (h *Handlers) GenerateSamples(w http.ResponseWriter, r *http.Request) {
	req := SampleRequest{Count: constants.DefaultSampleCount, Format: export.FormatJSON}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Count <= 0 || req.Count > h.config.MaxSampleCount {
		writeError(w, r, errors.NewValidationError(errors.CodeOutOfRange, "count must be in [1, max_sample_count]").
			WithContext("max_sample_count", h.config.MaxSampleCount))
		return
	}
	if req.Seed == 0 {
		req.Seed = rand.Uint64()
	}

	id := mux.Vars(r)["id"]
	snapshot, err := h.store.Load(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	model, err := p3gm.FromSnapshot(snapshot, req.Seed, h.logger)
	if err != nil {
		writeError(w, r, err)
		return
	}
	records, err := model.Generate(req.Count)
	if err != nil {
		writeError(w, r, err)
		return
	}

	contentType := constants.ContentTypeJSON
	if req.Format == export.FormatCSV {
		contentType = constants.ContentTypeCSV
	}
	opts := export.DefaultExportOptions()
	if req.Precision > 0 {
		opts.Precision = req.Precision
	}

	w.Header().Set(constants.HeaderContentType, contentType)
	table := &dataset.Table{Columns: model.Columns(), Data: records}
	if err := h.exporter.Export(r.Context(), table, req.Format, w, opts); err != nil {
		// Headers may already be out; only a format error can still be reported.
		h.logger.WithError(err).WithField("model_id", id).Error("Failed to write samples")
		if errors.HTTPStatus(err) == http.StatusBadRequest {
			writeError(w, r, err)
		}
		return
	}

	if h.metrics != nil {
		h.metrics.RecordGeneratedRecords(id, req.Count)
	}
	h.logger.WithFields(logrus.Fields{
		"model_id": id,
		"count":    req.Count,
		"format":   req.Format,
	}).Info("Generated synthetic records")
}

// NotFound handles unmatched routes
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	appErr := errors.NewAppError(errors.ErrorTypeValidation, "NOT_FOUND", "route not found")
	appErr.HTTPStatus = http.StatusNotFound
	writeError(w, r, appErr)
}

// MethodNotAllowed handles known routes called with the wrong method
func (h *Handlers) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	appErr := errors.NewAppError(errors.ErrorTypeValidation, "METHOD_NOT_ALLOWED", "method not allowed")
	appErr.HTTPStatus = http.StatusMethodNotAllowed
	writeError(w, r, appErr)
}

// decodeJSON reads a single JSON document. An empty body leaves v unchanged.
func decodeJSON(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil && err != io.EOF {
		var maxBytes *http.MaxBytesError
		if stderrors.As(err, &maxBytes) {
			appErr := errors.NewValidationError(errors.CodeInvalidInput, "request body too large")
			appErr.HTTPStatus = http.StatusRequestEntityTooLarge
			return appErr
		}
		return errors.WrapError(errors.ErrInvalidInputData, errors.ErrorTypeValidation, errors.CodeInvalidInput, "malformed JSON body").
			WithDetails(err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as an errors.ErrorResponse with the mapped status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)

	var appErr *errors.AppError
	var verrs *errors.ValidationErrors
	switch {
	case stderrors.As(err, &verrs):
		appErr = errors.NewValidationError(errors.CodeInvalidInput, verrs.Message).
			WithContext("errors", verrs.Errors)
	case stderrors.As(err, &appErr):
	default:
		appErr = errors.NewInternalError(err.Error())
	}

	writeJSON(w, status, errors.ErrorResponse{
		Error:     appErr,
		RequestID: getRequestID(r),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Path:      r.URL.Path,
	})
}
