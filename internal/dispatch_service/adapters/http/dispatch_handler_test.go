package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pulsegate/pulsegate/internal/dispatch_service/app"
	"github.com/pulsegate/pulsegate/internal/dispatch_service/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubMessageRepository struct {
	mock.Mock
}

func (m *stubMessageRepository) Create(ctx context.Context, msg *domain.OutboundMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *stubMessageRepository) GetByID(ctx context.Context, id string) (*domain.OutboundMessage, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OutboundMessage), args.Error(1)
}

func (m *stubMessageRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.OutboundMessage, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.OutboundMessage), args.Error(1)
}

func (m *stubMessageRepository) UpdateStatus(ctx context.Context, id string, status domain.MessageStatus, lastError *string) error {
	args := m.Called(ctx, id, status, lastError)
	return args.Error(0)
}

func (m *stubMessageRepository) ClaimForSending(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *stubMessageRepository) Requeue(ctx context.Context, id string, delay time.Duration) error {
	args := m.Called(ctx, id, delay)
	return args.Error(0)
}

func (m *stubMessageRepository) ResetForRetry(ctx context.Context, id string, payload []byte) error {
	args := m.Called(ctx, id, payload)
	return args.Error(0)
}

func (m *stubMessageRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

type stubAttemptRepository struct {
	mock.Mock
}

func (m *stubAttemptRepository) Schedule(ctx context.Context, messageID string, notBefore time.Time) error {
	args := m.Called(ctx, messageID, notBefore)
	return args.Error(0)
}

func (m *stubAttemptRepository) AcquireDue(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduledAttempt, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ScheduledAttempt), args.Error(1)
}

func newDispatchServer(messages *stubMessageRepository, attempts *stubAttemptRepository, maxPayloadBytes int) *chi.Mux {
	dispatcher := app.NewDispatcher(messages, attempts, domain.NoopEventSink{}, testLogger(), maxPayloadBytes)
	handler := NewDispatchHandler(dispatcher, validator.New(validator.WithRequiredStructEnabled()), testLogger())

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleDispatch_Accepted(t *testing.T) {
	messages := new(stubMessageRepository)
	attempts := new(stubAttemptRepository)
	messages.On("Create", mock.Anything, mock.Anything).Return(nil)
	attempts.On("Schedule", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	router := newDispatchServer(messages, attempts, 0)

	rec := postJSON(t, router, "/messages", DispatchRequest{
		Channel:   "sms",
		Recipient: "+14155550123",
		Body:      "hello there",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp DispatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.MessageID)
	messages.AssertExpectations(t)
	attempts.AssertExpectations(t)
}

func TestHandleDispatch_ValidationFailures(t *testing.T) {
	testCases := []struct {
		name string
		req  DispatchRequest
	}{
		{"unknown channel", DispatchRequest{Channel: "fax", Recipient: "+14155550123", Body: "hi"}},
		{"missing recipient", DispatchRequest{Channel: "sms", Body: "hi"}},
		{"missing body", DispatchRequest{Channel: "sms", Recipient: "+14155550123"}},
		{"malformed phone number", DispatchRequest{Channel: "sms", Recipient: "555-0123", Body: "hi"}},
		{"malformed email", DispatchRequest{Channel: "email", Recipient: "not-an-address", Body: "hi"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			messages := new(stubMessageRepository)
			attempts := new(stubAttemptRepository)
			router := newDispatchServer(messages, attempts, 0)

			rec := postJSON(t, router, "/messages", tc.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestHandleDispatch_MalformedJSON(t *testing.T) {
	router := newDispatchServer(new(stubMessageRepository), new(stubAttemptRepository), 0)

	req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDispatch_PayloadTooLarge(t *testing.T) {
	messages := new(stubMessageRepository)
	attempts := new(stubAttemptRepository)
	router := newDispatchServer(messages, attempts, 16)

	rec := postJSON(t, router, "/messages", DispatchRequest{
		Channel:   "sms",
		Recipient: "+14155550123",
		Body:      "this body pushes the serialized intent past the configured cap",
	})

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestHandleDispatch_DuplicateKeyReturnsExistingID(t *testing.T) {
	messages := new(stubMessageRepository)
	attempts := new(stubAttemptRepository)
	existing := &domain.OutboundMessage{ID: "msg-1", Status: domain.MessageStatusSent}
	messages.On("FindByIdempotencyKey", mock.Anything, "order:1:sms").Return(existing, nil)
	router := newDispatchServer(messages, attempts, 0)

	rec := postJSON(t, router, "/messages", DispatchRequest{
		Channel:        "sms",
		Recipient:      "+14155550123",
		Body:           "hello there",
		IdempotencyKey: "order:1:sms",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp DispatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "msg-1", resp.MessageID)
}

func TestHandleDispatch_StorageErrorIs500(t *testing.T) {
	messages := new(stubMessageRepository)
	attempts := new(stubAttemptRepository)
	messages.On("Create", mock.Anything, mock.Anything).Return(assert.AnError)
	router := newDispatchServer(messages, attempts, 0)

	rec := postJSON(t, router, "/messages", DispatchRequest{
		Channel:   "sms",
		Recipient: "+14155550123",
		Body:      "hello there",
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
