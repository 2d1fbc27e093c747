package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/document-ingestion/internal/delivery/http/request"
	"github.com/user/document-ingestion/internal/delivery/http/response"
	"github.com/user/document-ingestion/internal/entity"
	"github.com/user/document-ingestion/internal/usecase"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// HealthCheck probes one backing service.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	refManager usecase.ReferenceManager
	checks     map[string]HealthCheck
	logger     *zap.Logger
}

func NewHandler(refManager usecase.ReferenceManager, checks map[string]HealthCheck, logger *zap.Logger) *Handler {
	return &Handler{
		refManager: refManager,
		checks:     checks,
		logger:     logger.Named("http"),
	}
}

func (h *Handler) HandleSubmitIngest(w http.ResponseWriter, r *http.Request) {
	var req request.SubmitIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		h.writeJSONError(w, "url is required", http.StatusBadRequest)
		return
	}

	key, err := h.refManager.Submit(r.Context(), req.URL, req.Force)
	switch {
	case errors.Is(err, usecase.ErrInvalidURL):
		h.writeJSONError(w, "Invalid URL format", http.StatusBadRequest)
		return
	case errors.Is(err, usecase.ErrHostNotAllowed):
		h.writeJSONError(w, "URL host is not a configured source", http.StatusUnprocessableEntity)
		return
	case errors.Is(err, usecase.ErrAlreadyQueued):
		h.writeJSONError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		h.logger.Error("failed to submit reference", zap.String("url", req.URL), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusAccepted, response.SubmitIngestResponse{
		Status:       "success",
		Message:      "Reference submitted for ingestion",
		ReferenceKey: key,
	})
}

func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		h.writeJSONError(w, "URL query parameter is required", http.StatusBadRequest)
		return
	}

	status, err := h.refManager.GetStatus(r.Context(), rawURL)
	if err != nil {
		if errors.Is(err, usecase.ErrInvalidURL) {
			h.writeJSONError(w, "Invalid URL format in query parameter", http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to get reference status", zap.String("url", rawURL), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if status.CurrentStatus == usecase.StatusNotFound {
		h.writeJSONError(w, "No ingestion status for the given URL", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, response.NewReferenceStatus(status))
}

func (h *Handler) HandleListFailures(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := h.page(w, r)
	if !ok {
		return
	}
	failures, err := h.refManager.ListFailures(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list failures", zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if failures == nil {
		failures = []*entity.TerminalFailure{}
	}
	h.writeJSON(w, http.StatusOK, response.FailuresResponse{Failures: failures, Limit: limit, Offset: offset})
}

func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _, ok := h.page(w, r)
	if !ok {
		return
	}
	runs, err := h.refManager.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*entity.IngestionRun{}
	}
	h.writeJSON(w, http.StatusOK, response.RunsResponse{Runs: runs})
}

func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	run, err := h.refManager.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			h.writeJSONError(w, "Run not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get run", zap.String("run_id", id.String()), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	limit, offset, ok := h.page(w, r)
	if !ok {
		return
	}
	events, err := h.refManager.ListEvents(r.Context(), id, limit, offset)
	if err != nil {
		h.logger.Error("failed to list events", zap.String("run_id", id.String()), zap.Error(err))
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []*entity.IngestionEvent{}
	}
	h.writeJSON(w, http.StatusOK, response.EventsResponse{Events: events, Limit: limit, Offset: offset})
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	healthStatus := map[string]string{"status": "ok"}
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			healthStatus[name] = "unhealthy"
			healthy = false
			h.logger.Error("health check failed", zap.String("service", name), zap.Error(err))
			continue
		}
		healthStatus[name] = "healthy"
	}

	if !healthy {
		healthStatus["status"] = "degraded"
		h.writeJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}
	h.writeJSON(w, http.StatusOK, healthStatus)
}

func (h *Handler) runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeJSONError(w, "Invalid run id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) page(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit, offset = defaultPageSize, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return 0, 0, false
		}
		limit = min(n, maxPageSize)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeJSONError(w, "offset must be a non-negative integer", http.StatusBadRequest)
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write JSON response", zap.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
