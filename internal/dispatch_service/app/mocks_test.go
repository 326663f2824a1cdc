package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/pulsegate/pulsegate/internal/dispatch_service/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockMessageRepository is a mock implementation of domain.MessageRepository.
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Create(ctx context.Context, msg *domain.OutboundMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockMessageRepository) GetByID(ctx context.Context, id string) (*domain.OutboundMessage, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OutboundMessage), args.Error(1)
}

func (m *MockMessageRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.OutboundMessage, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OutboundMessage), args.Error(1)
}

func (m *MockMessageRepository) UpdateStatus(ctx context.Context, id string, status domain.MessageStatus, lastError *string) error {
	args := m.Called(ctx, id, status, lastError)
	return args.Error(0)
}

func (m *MockMessageRepository) ClaimForSending(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockMessageRepository) Requeue(ctx context.Context, id string, delay time.Duration) error {
	args := m.Called(ctx, id, delay)
	return args.Error(0)
}

func (m *MockMessageRepository) ResetForRetry(ctx context.Context, id string, payload []byte) error {
	args := m.Called(ctx, id, payload)
	return args.Error(0)
}

func (m *MockMessageRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

// MockDeadLetterRepository is a mock implementation of domain.DeadLetterRepository.
type MockDeadLetterRepository struct {
	mock.Mock
}

func (m *MockDeadLetterRepository) Create(ctx context.Context, entry *domain.DeadLetterEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockDeadLetterRepository) GetByID(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DeadLetterEntry), args.Error(1)
}

func (m *MockDeadLetterRepository) List(ctx context.Context, limit int) ([]*domain.DeadLetterEntry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.DeadLetterEntry), args.Error(1)
}

func (m *MockDeadLetterRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockScheduledAttemptRepository is a mock implementation of
// domain.ScheduledAttemptRepository.
type MockScheduledAttemptRepository struct {
	mock.Mock
}

func (m *MockScheduledAttemptRepository) Schedule(ctx context.Context, messageID string, notBefore time.Time) error {
	args := m.Called(ctx, messageID, notBefore)
	return args.Error(0)
}

func (m *MockScheduledAttemptRepository) AcquireDue(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduledAttempt, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ScheduledAttempt), args.Error(1)
}

// MockSender is a mock implementation of domain.Sender.
type MockSender struct {
	mock.Mock
	Name string
}

func (m *MockSender) Send(ctx context.Context, intent domain.MessageIntent) (domain.SendResult, error) {
	args := m.Called(ctx, intent)
	return args.Get(0).(domain.SendResult), args.Error(1)
}

func (m *MockSender) ServiceName() string {
	return m.Name
}

// recordingEventSink collects emitted events for assertions.
type recordingEventSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingEventSink) Emit(ctx context.Context, event domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingEventSink) byType(t domain.EventType) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
