package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pulsegate/pulsegate/internal/dispatch_service/domain"
	"github.com/pulsegate/pulsegate/internal/platform/messagebroker"
)

// NATSEventSink publishes engine events as JSON on dispatch.events.<type>.
// Emission is fire-and-forget: publish failures are logged, never propagated
// into the dispatch path.
type NATSEventSink struct {
	natsClient *messagebroker.NATSClient
	logger     *slog.Logger
}

// NewNATSEventSink creates a NATSEventSink.
func NewNATSEventSink(natsClient *messagebroker.NATSClient, logger *slog.Logger) *NATSEventSink {
	return &NATSEventSink{
		natsClient: natsClient,
		logger:     logger.With("service", "event_sink"),
	}
}

func (s *NATSEventSink) Emit(ctx context.Context, event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to marshal event", "error", err, "type", event.Type)
		return
	}
	subject := fmt.Sprintf("dispatch.events.%s", event.Type)
	if err := s.natsClient.Publish(ctx, subject, data); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish event", "error", err, "type", event.Type)
	}
}
