package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/italolelis/model_downloader/internal/downloader"
	"github.com/italolelis/model_downloader/internal/event"
	"github.com/italolelis/model_downloader/internal/logctx"
	"github.com/italolelis/model_downloader/internal/validate"
)

// ModelService is the part of the downloader the HTTP API needs.
type ModelService interface {
	Start(ctx context.Context, id string) (<-chan event.Event, error)
	Cancel(ctx context.Context, id string) bool
	Models() []downloader.ModelInfo
	Status(id string) (downloader.ModelStatus, error)
	ActiveCount() int
}

type ModelListResponse struct {
	Success bool                   `json:"success"`
	Models  []downloader.ModelInfo `json:"models"`
}

type ModelStatusResponse struct {
	Success bool `json:"success"`
	downloader.ModelStatus
}

type CancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status          string `json:"status"`
	ActiveDownloads int    `json:"active_downloads"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail"`
}

// ModelsHandler serves the model catalog and download endpoints.
type ModelsHandler struct {
	svc ModelService
}

// NewModelsHandler creates a new models handler.
func NewModelsHandler(svc ModelService) *ModelsHandler {
	return &ModelsHandler{svc: svc}
}

func (h *ModelsHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Access-Control-Allow-Origin", "*"))
	r.Use(middleware.SetHeader("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS"))
	r.Use(middleware.SetHeader("Access-Control-Allow-Headers", "*"))

	r.Use(preflight)

	r.Get("/health", h.Health)

	r.Route("/api/models", func(r chi.Router) {
		r.Get("/", h.ListModels)
		r.Get("/{id}/status", h.ModelStatus)
		r.Get("/{id}/download", h.Download)
		r.Delete("/{id}/download", h.CancelDownload)
	})

	return r
}

// ListModels returns every catalog entry with its download state.
func (h *ModelsHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, ModelListResponse{Success: true, Models: h.svc.Models()})
}

// ModelStatus returns the state of a single model.
func (h *ModelsHandler) ModelStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if !validID(ctx, id) {
		writeJSON(ctx, w, http.StatusBadRequest, ErrorResponse{Detail: "Invalid ID: use only letters, numbers, dots, underscores and hyphens"})

		return
	}

	status, err := h.svc.Status(id)
	if err != nil {
		if errors.Is(err, downloader.ErrUnknownArtifact) {
			writeJSON(ctx, w, http.StatusNotFound, ErrorResponse{Detail: "Model '" + id + "' not found"})

			return
		}

		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to get model status", "model_id", id, "err", err)
		writeJSON(ctx, w, http.StatusInternalServerError, ErrorResponse{Detail: "internal server error"})

		return
	}

	writeJSON(ctx, w, http.StatusOK, ModelStatusResponse{Success: true, ModelStatus: status})
}

// Download streams the events of a download as Server-Sent Events. The
// stream ends after a terminal event or when the client goes away, which
// also stops the transfer.
func (h *ModelsHandler) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)
	id := chi.URLParam(r, "id")

	if !validID(ctx, id) {
		writeJSON(ctx, w, http.StatusBadRequest, ErrorResponse{Detail: "Invalid ID"})

		return
	}

	event.SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)

	stream := event.NewStream(w)

	events, err := h.svc.Start(ctx, id)
	if err != nil {
		msg := "Internal error"

		switch {
		case errors.Is(err, downloader.ErrUnknownArtifact):
			msg = "Model not found"
		case errors.Is(err, downloader.ErrAlreadyInProgress):
			msg = "Download already in progress"
		default:
			logger.ErrorContext(ctx, "failed to start download", "model_id", id, "err", err)
		}

		if sendErr := stream.Send(event.Error{Message: msg}); sendErr != nil {
			logger.WarnContext(ctx, "failed to send event", "err", sendErr)
		}

		return
	}

	for ev := range events {
		if err := stream.Send(ev); err != nil {
			logger.WarnContext(ctx, "client stream broken", "model_id", id, "err", err)

			// Keep draining so the producer can finish.
			for range events {
			}

			return
		}
	}
}

// CancelDownload stops an active download.
func (h *ModelsHandler) CancelDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if !validID(ctx, id) {
		writeJSON(ctx, w, http.StatusBadRequest, ErrorResponse{Detail: "Invalid ID"})

		return
	}

	resp := CancelResponse{Success: h.svc.Cancel(ctx, id), Message: "No active download"}
	if resp.Success {
		resp.Message = "Cancelled"
	}

	writeJSON(ctx, w, http.StatusOK, resp)
}

// Health reports liveness and the number of active downloads.
func (h *ModelsHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, HealthResponse{Status: "ok", ActiveDownloads: h.svc.ActiveCount()})
}

// validID reports whether id is a well-formed model identifier and logs the
// rejection otherwise.
func validID(ctx context.Context, id string) bool {
	if validate.Identifier(id) {
		return true
	}

	logctx.LoggerFromContext(ctx).WarnContext(ctx, "rejected model id", "id", id)

	return false
}

// preflight answers CORS preflight requests for every route.
func preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to encode response", "err", err)
	}
}
