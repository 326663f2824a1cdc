package domain

import "context"

// SendStatus is the provider-level outcome of one send call.
type SendStatus string

const (
	SendStatusSent          SendStatus = "sent"
	SendStatusFailed        SendStatus = "failed"
	SendStatusUndeliverable SendStatus = "undeliverable"
)

// SendResult is the normalized response from a provider adapter.
type SendResult struct {
	Status            SendStatus
	ProviderMessageID string
	ErrorCode         string
	ErrorMessage      string
}

// Sender submits one message to a concrete provider. Implementations exist per
// channel/provider pair; the retry coordinator never talks to provider SDKs
// directly.
type Sender interface {
	Send(ctx context.Context, intent MessageIntent) (SendResult, error)
	// ServiceName identifies the provider for circuit-breaker scoping,
	// e.g. "twilio-sms".
	ServiceName() string
}

// FailureClass partitions send outcomes for the retry decision.
type FailureClass string

const (
	FailureNone      FailureClass = "none"
	FailureTransient FailureClass = "transient"
	FailurePermanent FailureClass = "permanent"
)

// ErrCodeCircuitOpen is the synthesized error code for attempts rejected by an
// open circuit without reaching the provider.
const ErrCodeCircuitOpen = "CIRCUIT_OPEN"

// Error codes providers report that still warrant a retry.
var transientErrorCodes = map[string]struct{}{
	"TIMEOUT":        {},
	"NETWORK_ERROR":  {},
	"RATE_LIMITED":   {},
	"PROVIDER_ERROR": {},
	"SERVER_ERROR":   {},
}

// Classify maps a send result onto the retry taxonomy: success, transient
// (timeouts, rate limits, 5xx-class, provider internals) or permanent
// (undeliverable, validation, 4xx-class excluding rate limits).
func Classify(result SendResult) FailureClass {
	switch result.Status {
	case SendStatusSent:
		return FailureNone
	case SendStatusUndeliverable:
		return FailurePermanent
	}

	if _, ok := transientErrorCodes[result.ErrorCode]; ok {
		return FailureTransient
	}
	if result.ErrorCode == ErrCodeCircuitOpen {
		return FailureTransient
	}
	// Unknown failed results are retried rather than dropped: a code we do not
	// recognize is more likely a new provider hiccup than a bad recipient.
	if result.ErrorCode == "" {
		return FailureTransient
	}
	return FailurePermanent
}
