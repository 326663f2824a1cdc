package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegate/pulsegate/internal/dispatch_service/app"
	"github.com/pulsegate/pulsegate/internal/dispatch_service/domain"
	"github.com/pulsegate/pulsegate/internal/platform/cache"
)

func newCircuitServer(t *testing.T) (*chi.Mux, *app.CircuitBreaker) {
	t.Helper()
	settings := app.BreakerSettings{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		MaxTrials:        1,
		Timeout:          30 * time.Second,
		StateTTL:         24 * time.Hour,
	}
	breaker := app.NewCircuitBreaker("mock-sms", settings, cache.NewMemoryCache(), domain.NoopEventSink{}, testLogger())
	handler := NewCircuitHandler(map[string]*app.CircuitBreaker{"mock-sms": breaker}, testLogger())

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, breaker
}

func TestHandleGetCircuit_ReportsState(t *testing.T) {
	router, breaker := newCircuitServer(t)

	require.NoError(t, breaker.RecordFailure(context.Background()))
	require.NoError(t, breaker.RecordFailure(context.Background()))

	req := httptest.NewRequest(http.MethodGet, "/circuits/mock-sms", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status app.CircuitStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "mock-sms", status.Service)
	assert.Equal(t, app.CircuitOpen, status.State)
	assert.NotNil(t, status.RecoveryAt)
}

func TestHandleGetCircuit_UnknownService(t *testing.T) {
	router, _ := newCircuitServer(t)

	req := httptest.NewRequest(http.MethodGet, "/circuits/nonexistent", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListCircuits(t *testing.T) {
	router, _ := newCircuitServer(t)

	req := httptest.NewRequest(http.MethodGet, "/circuits", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var statuses []app.CircuitStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, app.CircuitClosed, statuses[0].State)
}

func TestHandleResetCircuit(t *testing.T) {
	router, breaker := newCircuitServer(t)
	ctx := context.Background()

	require.NoError(t, breaker.RecordFailure(ctx))
	require.NoError(t, breaker.RecordFailure(ctx))

	req := httptest.NewRequest(http.MethodPost, "/circuits/mock-sms/reset", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	status, err := breaker.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, app.CircuitClosed, status.State)
	assert.Zero(t, status.Failures)
}
