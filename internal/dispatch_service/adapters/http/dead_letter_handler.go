package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/pulsegate/pulsegate/internal/dispatch_service/app"
	"github.com/pulsegate/pulsegate/internal/dispatch_service/domain"
)

const defaultDeadLetterListLimit = 100

// DeadLetterHandler exposes dead-letter triage and replay.
type DeadLetterHandler struct {
	recorder *app.DeadLetterRecorder
	entries  domain.DeadLetterRepository
	logger   *slog.Logger
}

// NewDeadLetterHandler creates a DeadLetterHandler.
func NewDeadLetterHandler(recorder *app.DeadLetterRecorder, entries domain.DeadLetterRepository, logger *slog.Logger) *DeadLetterHandler {
	return &DeadLetterHandler{
		recorder: recorder,
		entries:  entries,
		logger:   logger.With("handler", "dead_letter"),
	}
}

// RegisterRoutes registers dead-letter routes with the given router.
func (h *DeadLetterHandler) RegisterRoutes(r chi.Router) {
	r.Get("/dead-letters", h.handleList)
	r.Post("/dead-letters/{entryID}/replay", h.handleReplay)
}

func (h *DeadLetterHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	limit := defaultDeadLetterListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			jsonError(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	entries, err := h.entries.List(ctx, limit)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to list dead letter entries", "error", err)
		jsonError(w, "Failed to list dead letter entries", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*domain.DeadLetterEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *DeadLetterHandler) handleReplay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	entryID := chi.URLParam(r, "entryID")
	if _, err := uuid.Parse(entryID); err != nil {
		jsonError(w, "Invalid dead letter entry ID format", http.StatusBadRequest)
		return
	}

	if err := h.recorder.Replay(ctx, entryID); err != nil {
		if errors.Is(err, domain.ErrDeadLetterNotFound) {
			jsonError(w, "Dead letter entry not found", http.StatusNotFound)
			return
		}
		logger.ErrorContext(ctx, "Failed to replay dead letter entry", "error", err, "entry_id", entryID)
		jsonError(w, "Failed to replay dead letter entry", http.StatusInternalServerError)
		return
	}

	logger.InfoContext(ctx, "Dead letter entry replayed", "entry_id", entryID)
	w.WriteHeader(http.StatusAccepted)
}
