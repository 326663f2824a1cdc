package domain

import "time"

// DeadLetterEntry captures a terminally failed message for operator triage and
// replay. Created once per terminal failure; deleted on successful replay.
type DeadLetterEntry struct {
	ID           string    `json:"id"` // UUID
	MessageID    string    `json:"message_id"`
	Channel      Channel   `json:"channel"`
	Payload      []byte    `json:"payload"` // serialized MessageIntent
	Attempts     int       `json:"attempts"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
	Trace        *string   `json:"trace,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
