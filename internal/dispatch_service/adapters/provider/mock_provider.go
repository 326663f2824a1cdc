package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pulsegate/pulsegate/internal/dispatch_service/domain"
)

// MockProvider is a test implementation of domain.Sender, usable for any
// channel. Failure behavior is scripted through the exported fields.
type MockProvider struct {
	logger  *slog.Logger
	name    string
	channel domain.Channel

	// FailCode, when non-empty, makes every Send return a failed result with
	// this error code (e.g. "TIMEOUT" for transient, "INVALID_RECIPIENT" for
	// permanent).
	FailCode string
	// Undeliverable makes Send report the recipient as undeliverable.
	Undeliverable bool
	// SimulatedDelay adds artificial provider latency.
	SimulatedDelay time.Duration
}

// NewMockProvider creates a MockProvider for the given channel.
// name becomes the circuit-breaker service name, e.g. "mock-sms".
func NewMockProvider(name string, channel domain.Channel, logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger:  logger.With("provider", name),
		name:    name,
		channel: channel,
	}
}

// Send simulates one provider submission.
func (p *MockProvider) Send(ctx context.Context, intent domain.MessageIntent) (domain.SendResult, error) {
	p.logger.InfoContext(ctx, "Mock provider send called",
		"channel", intent.Channel, "recipient", intent.Recipient, "content_length", len(intent.Body))

	if p.SimulatedDelay > 0 {
		select {
		case <-time.After(p.SimulatedDelay):
		case <-ctx.Done():
			return domain.SendResult{}, ctx.Err()
		}
	}

	if p.Undeliverable {
		return domain.SendResult{
			Status:       domain.SendStatusUndeliverable,
			ErrorCode:    "INVALID_RECIPIENT",
			ErrorMessage: "mock provider: recipient rejected",
		}, nil
	}
	if p.FailCode != "" {
		return domain.SendResult{
			Status:       domain.SendStatusFailed,
			ErrorCode:    p.FailCode,
			ErrorMessage: "mock provider simulated failure",
		}, nil
	}

	providerMsgID := "mock-" + uuid.NewString()
	p.logger.InfoContext(ctx, "Mock provider send succeeded", "provider_msg_id", providerMsgID)
	return domain.SendResult{
		Status:            domain.SendStatusSent,
		ProviderMessageID: providerMsgID,
	}, nil
}

// ServiceName returns the provider identity used for circuit-breaker scoping.
func (p *MockProvider) ServiceName() string {
	return p.name
}
