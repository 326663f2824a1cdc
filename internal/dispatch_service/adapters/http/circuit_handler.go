package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pulsegate/pulsegate/internal/dispatch_service/app"
)

// CircuitHandler exposes the read-only circuit status query and the
// administrative reset.
type CircuitHandler struct {
	breakers map[string]*app.CircuitBreaker
	logger   *slog.Logger
}

// NewCircuitHandler creates a CircuitHandler over the configured breakers,
// keyed by provider service name.
func NewCircuitHandler(breakers map[string]*app.CircuitBreaker, logger *slog.Logger) *CircuitHandler {
	return &CircuitHandler{
		breakers: breakers,
		logger:   logger.With("handler", "circuit"),
	}
}

// RegisterRoutes registers circuit routes with the given router.
func (h *CircuitHandler) RegisterRoutes(r chi.Router) {
	r.Get("/circuits", h.handleListCircuits)
	r.Get("/circuits/{service}", h.handleGetCircuit)
	r.Post("/circuits/{service}/reset", h.handleResetCircuit)
}

func (h *CircuitHandler) handleListCircuits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	statuses := make([]app.CircuitStatus, 0, len(h.breakers))
	for service, breaker := range h.breakers {
		status, err := breaker.Status(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to read circuit status", "error", err, "provider", service)
			jsonError(w, "Failed to read circuit status", http.StatusInternalServerError)
			return
		}
		statuses = append(statuses, status)
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (h *CircuitHandler) handleGetCircuit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	service := chi.URLParam(r, "service")
	breaker, ok := h.breakers[service]
	if !ok {
		jsonError(w, "Unknown provider service", http.StatusNotFound)
		return
	}

	status, err := breaker.Status(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to read circuit status", "error", err, "provider", service)
		jsonError(w, "Failed to read circuit status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *CircuitHandler) handleResetCircuit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	service := chi.URLParam(r, "service")
	breaker, ok := h.breakers[service]
	if !ok {
		jsonError(w, "Unknown provider service", http.StatusNotFound)
		return
	}

	if err := breaker.Reset(ctx); err != nil {
		logger.ErrorContext(ctx, "Failed to reset circuit", "error", err, "provider", service)
		jsonError(w, "Failed to reset circuit", http.StatusInternalServerError)
		return
	}
	logger.InfoContext(ctx, "Circuit reset by operator", "provider", service)
	w.WriteHeader(http.StatusNoContent)
}
