package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/pulsegate/pulsegate/internal/dispatch_service/app"
	"github.com/pulsegate/pulsegate/internal/dispatch_service/domain"
)

// DispatchRequest is the DTO for POST /api/v1/messages.
type DispatchRequest struct {
	Channel        string            `json:"channel" validate:"required,oneof=sms whatsapp email"`
	Recipient      string            `json:"recipient" validate:"required"`
	Subject        string            `json:"subject,omitempty"`
	Body           string            `json:"body" validate:"required,min=1"`
	IdempotencyKey string            `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
	SendAt         *time.Time        `json:"send_at,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// DispatchResponse is the DTO returned on accepted dispatches.
type DispatchResponse struct {
	MessageID string `json:"message_id"`
}

// DispatchHandler exposes the dispatcher over HTTP.
type DispatchHandler struct {
	dispatcher *app.Dispatcher
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewDispatchHandler creates a DispatchHandler.
func NewDispatchHandler(dispatcher *app.Dispatcher, validate *validator.Validate, logger *slog.Logger) *DispatchHandler {
	return &DispatchHandler{
		dispatcher: dispatcher,
		validate:   validate,
		logger:     logger.With("handler", "dispatch"),
	}
}

// RegisterRoutes registers dispatch routes with the given router.
func (h *DispatchHandler) RegisterRoutes(r chi.Router) {
	r.Post("/messages", h.handleDispatch)
}

func (h *DispatchHandler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "Failed to decode dispatch request", "error", err)
		jsonError(w, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		logger.WarnContext(ctx, "Dispatch request failed validation", "error", err)
		jsonError(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	intent, err := domain.NewMessageIntent(
		domain.Channel(req.Channel), req.Recipient, req.Subject, req.Body,
		req.IdempotencyKey, req.SendAt, req.Metadata,
	)
	if err != nil {
		logger.WarnContext(ctx, "Invalid message intent", "error", err)
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	messageID, err := h.dispatcher.Dispatch(ctx, intent)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPayloadTooLarge):
			jsonError(w, err.Error(), http.StatusRequestEntityTooLarge)
		default:
			logger.ErrorContext(ctx, "Dispatch failed", "error", err)
			jsonError(w, "Failed to dispatch message", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, DispatchResponse{MessageID: messageID})
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
