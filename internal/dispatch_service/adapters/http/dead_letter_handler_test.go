package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pulsegate/pulsegate/internal/dispatch_service/app"
	"github.com/pulsegate/pulsegate/internal/dispatch_service/domain"
)

type stubDeadLetterRepository struct {
	mock.Mock
}

func (m *stubDeadLetterRepository) Create(ctx context.Context, entry *domain.DeadLetterEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *stubDeadLetterRepository) GetByID(ctx context.Context, id string) (*domain.DeadLetterEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DeadLetterEntry), args.Error(1)
}

func (m *stubDeadLetterRepository) List(ctx context.Context, limit int) ([]*domain.DeadLetterEntry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.DeadLetterEntry), args.Error(1)
}

func (m *stubDeadLetterRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func newDeadLetterServer(entries *stubDeadLetterRepository, messages *stubMessageRepository, attempts *stubAttemptRepository) *chi.Mux {
	recorder := app.NewDeadLetterRecorder(entries, messages, attempts, domain.NoopEventSink{}, testLogger())
	handler := NewDeadLetterHandler(recorder, entries, testLogger())

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r
}

func TestHandleDeadLetterList(t *testing.T) {
	entries := new(stubDeadLetterRepository)
	entries.On("List", mock.Anything, 100).Return([]*domain.DeadLetterEntry{
		{ID: "entry-1", MessageID: "msg-1", Channel: domain.ChannelSMS, Attempts: 3, ErrorCode: "TIMEOUT"},
	}, nil)
	router := newDeadLetterServer(entries, new(stubMessageRepository), new(stubAttemptRepository))

	req := httptest.NewRequest(http.MethodGet, "/dead-letters", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []*domain.DeadLetterEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "entry-1", got[0].ID)
}

func TestHandleDeadLetterList_CustomLimit(t *testing.T) {
	entries := new(stubDeadLetterRepository)
	entries.On("List", mock.Anything, 5).Return([]*domain.DeadLetterEntry{}, nil)
	router := newDeadLetterServer(entries, new(stubMessageRepository), new(stubAttemptRepository))

	req := httptest.NewRequest(http.MethodGet, "/dead-letters?limit=5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	entries.AssertExpectations(t)
}

func TestHandleDeadLetterList_InvalidLimit(t *testing.T) {
	router := newDeadLetterServer(new(stubDeadLetterRepository), new(stubMessageRepository), new(stubAttemptRepository))

	for _, limit := range []string{"abc", "0", "-3"} {
		req := httptest.NewRequest(http.MethodGet, "/dead-letters?limit="+limit, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s accepted", limit)
	}
}

func TestHandleDeadLetterReplay_Accepted(t *testing.T) {
	entries := new(stubDeadLetterRepository)
	messages := new(stubMessageRepository)
	attempts := new(stubAttemptRepository)

	intent, err := domain.NewMessageIntent(
		domain.ChannelSMS, "+14155550123", "", "hello there", "", nil, nil)
	require.NoError(t, err)
	payload, err := intent.Serialize()
	require.NoError(t, err)

	entryID := uuid.NewString()
	entry := &domain.DeadLetterEntry{ID: entryID, MessageID: "msg-1", Channel: domain.ChannelSMS, Payload: payload}
	entries.On("GetByID", mock.Anything, entryID).Return(entry, nil)
	messages.On("ResetForRetry", mock.Anything, "msg-1", payload).Return(nil)
	attempts.On("Schedule", mock.Anything, "msg-1", mock.Anything).Return(nil)
	entries.On("Delete", mock.Anything, entryID).Return(nil)

	router := newDeadLetterServer(entries, messages, attempts)

	req := httptest.NewRequest(http.MethodPost, "/dead-letters/"+entryID+"/replay", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	entries.AssertExpectations(t)
	messages.AssertExpectations(t)
	attempts.AssertExpectations(t)
}

func TestHandleDeadLetterReplay_MalformedID(t *testing.T) {
	router := newDeadLetterServer(new(stubDeadLetterRepository), new(stubMessageRepository), new(stubAttemptRepository))

	req := httptest.NewRequest(http.MethodPost, "/dead-letters/not-a-uuid/replay", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDeadLetterReplay_UnknownEntry(t *testing.T) {
	entries := new(stubDeadLetterRepository)
	entryID := uuid.NewString()
	entries.On("GetByID", mock.Anything, entryID).Return(nil, domain.ErrDeadLetterNotFound)
	router := newDeadLetterServer(entries, new(stubMessageRepository), new(stubAttemptRepository))

	req := httptest.NewRequest(http.MethodPost, "/dead-letters/"+entryID+"/replay", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
