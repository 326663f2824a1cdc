package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
)

// Channel identifies the delivery channel for an outbound message.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

// KnownChannel reports whether c is one of the supported channels.
func KnownChannel(c Channel) bool {
	switch c {
	case ChannelSMS, ChannelWhatsApp, ChannelEmail:
		return true
	}
	return false
}

// MessageStatus defines the possible states of an outbound message.
type MessageStatus string

const (
	MessageStatusQueued       MessageStatus = "queued"
	MessageStatusSending      MessageStatus = "sending"
	MessageStatusSent         MessageStatus = "sent"
	MessageStatusDelivered    MessageStatus = "delivered"
	MessageStatusFailed       MessageStatus = "failed"
	MessageStatusDeadLettered MessageStatus = "dead_lettered"
)

// Value implements the driver.Valuer interface for MessageStatus.
func (ms MessageStatus) Value() (driver.Value, error) {
	return string(ms), nil
}

// Scan implements the sql.Scanner interface for MessageStatus.
func (ms *MessageStatus) Scan(value interface{}) error {
	strVal, ok := value.(string)
	if !ok {
		bytesVal, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("failed to scan MessageStatus: value is not string or []byte, it is %T", value)
		}
		strVal = string(bytesVal)
	}
	*ms = MessageStatus(strVal)
	switch *ms {
	case MessageStatusQueued, MessageStatusSending, MessageStatusSent,
		MessageStatusDelivered, MessageStatusFailed, MessageStatusDeadLettered:
		return nil
	default:
		return fmt.Errorf("unknown MessageStatus value: %s", strVal)
	}
}

// MaxIdempotencyKeyLen bounds caller-supplied idempotency keys.
const MaxIdempotencyKeyLen = 128

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// MessageIntent is the immutable description of one logical send. Construct it
// with NewMessageIntent so invalid input fails here, never during dispatch.
type MessageIntent struct {
	Channel        Channel           `json:"channel"`
	Recipient      string            `json:"recipient"`
	Subject        string            `json:"subject,omitempty"`
	Body           string            `json:"body"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	SendAt         *time.Time        `json:"send_at,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// NewMessageIntent validates and normalizes the intent fields.
func NewMessageIntent(channel Channel, recipient, subject, body, idempotencyKey string, sendAt *time.Time, metadata map[string]string) (MessageIntent, error) {
	if !KnownChannel(channel) {
		return MessageIntent{}, fmt.Errorf("%w: unknown channel %q", ErrInvalidIntent, channel)
	}

	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return MessageIntent{}, fmt.Errorf("%w: recipient is empty", ErrInvalidIntent)
	}

	switch channel {
	case ChannelSMS, ChannelWhatsApp:
		if !e164Pattern.MatchString(recipient) {
			return MessageIntent{}, fmt.Errorf("%w: recipient %q is not an E.164 phone number", ErrInvalidIntent, recipient)
		}
	case ChannelEmail:
		addr, err := mail.ParseAddress(recipient)
		if err != nil || addr.Name != "" {
			return MessageIntent{}, fmt.Errorf("%w: recipient %q is not a valid email address", ErrInvalidIntent, recipient)
		}
		recipient = strings.ToLower(addr.Address)
	}

	if body == "" {
		return MessageIntent{}, fmt.Errorf("%w: body is empty", ErrInvalidIntent)
	}

	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if len(idempotencyKey) > MaxIdempotencyKeyLen {
		return MessageIntent{}, fmt.Errorf("%w: idempotency key exceeds %d characters", ErrInvalidIntent, MaxIdempotencyKeyLen)
	}

	var meta map[string]string
	if len(metadata) > 0 {
		meta = make(map[string]string, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
	}

	return MessageIntent{
		Channel:        channel,
		Recipient:      recipient,
		Subject:        subject,
		Body:           body,
		IdempotencyKey: idempotencyKey,
		SendAt:         sendAt,
		Metadata:       meta,
	}, nil
}

// Serialize renders the intent payload persisted alongside the message row.
func (i MessageIntent) Serialize() ([]byte, error) {
	data, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message intent: %w", err)
	}
	return data, nil
}

// DeserializeIntent is the inverse of Serialize, used on replay.
func DeserializeIntent(data []byte) (MessageIntent, error) {
	var intent MessageIntent
	if err := json.Unmarshal(data, &intent); err != nil {
		return MessageIntent{}, fmt.Errorf("failed to deserialize message intent: %w", err)
	}
	return intent, nil
}

// OutboundMessage is the persisted record of one logical send.
type OutboundMessage struct {
	ID             string        `json:"id"` // UUID
	Channel        Channel       `json:"channel"`
	Recipient      string        `json:"recipient"`
	Payload        []byte        `json:"payload"` // serialized MessageIntent
	Status         MessageStatus `json:"status"`
	IdempotencyKey *string       `json:"idempotency_key,omitempty"` // globally unique when present
	Attempts       int           `json:"attempts"`
	LastError      *string       `json:"last_error,omitempty"`
	LastDelay      time.Duration `json:"last_delay,omitempty"` // backoff applied before the most recent requeue
	QueuedAt       time.Time     `json:"queued_at"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}
