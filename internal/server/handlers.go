package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maxharrison/podcast-adblocker/internal/pipeline"
)

// RunService is the part of pipeline.Service the handlers use.
type RunService interface {
	Start(ctx context.Context, input pipeline.Input) (*pipeline.Run, error)
	GetRun(ctx context.Context, id string) (*pipeline.Run, error)
	ListRuns(ctx context.Context) ([]*pipeline.Run, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   RunService
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service RunService, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateRun handles POST /runs requests. An empty body runs the configured feed.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	// The run continues in the background after the response is written.
	run, err := h.service.Start(r.Context(), pipeline.Input{FeedURL: req.FeedURL})
	if err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			writeError(w, http.StatusConflict, "a run is already in progress", "RUN_IN_PROGRESS")
			return
		}
		h.logger.Error("failed to start run",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to start run", "RUN_START_FAILED")
		return
	}

	h.logger.Info("run started",
		slog.String("run_id", run.ID),
		slog.String("feed_url", run.FeedURL),
	)

	writeJSON(w, http.StatusAccepted, CreateRunResponse{
		ID:    run.ID,
		Stage: string(run.Stage),
	})
}

// GetRun handles GET /runs/{id} requests.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run ID is required", "MISSING_RUN_ID")
		return
	}

	run, err := h.service.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found", "RUN_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get run",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get run", "RUN_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(run))
}

// ListRuns handles GET /runs requests.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.service.ListRuns(r.Context())
	if err != nil {
		h.logger.Error("failed to list runs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list runs", "RUN_FETCH_FAILED")
		return
	}

	resp := ListRunsResponse{Runs: make([]RunResponse, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, toRunResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toRunResponse(run *pipeline.Run) RunResponse {
	return RunResponse{
		ID:               run.ID,
		Kind:             string(run.Kind),
		Stage:            string(run.Stage),
		FeedURL:          run.FeedURL,
		SourcePath:       run.SourcePath,
		EpisodeTitle:     run.EpisodeTitle,
		AudioURL:         run.AudioURL,
		AudioLength:      run.AudioLength.Seconds(),
		AdvertCount:      run.AdvertCount,
		KeptDuration:     run.KeptDuration.Seconds(),
		RemovedDuration:  run.RemovedDuration.Seconds(),
		OutputPath:       run.OutputPath,
		AdvertPaths:      run.AdvertPaths,
		PublishedFeedURL: run.PublishedFeedURL,
		Warnings:         run.Warnings,
		Error:            run.Error,
		CreatedAt:        run.CreatedAt,
		StartedAt:        optionalTime(run.StartedAt),
		CompletedAt:      optionalTime(run.CompletedAt),
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
