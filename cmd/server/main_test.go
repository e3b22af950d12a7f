package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tecu23/logpush/internal/auth"
	"github.com/tecu23/logpush/pkg/config"
	"github.com/tecu23/logpush/pkg/logtarget"
)

func newTestApp(keys ...string) *application {
	return &application{
		Auth:      auth.NewAPIKeyAuth(keys),
		Logger:    zap.NewNop(),
		AppLogger: zap.NewNop(),
		Config:    &config.Config{Layout: "console"},
		Target:    logtarget.New(nil, nil),
		StartTime: time.Now().Add(-time.Minute),
	}
}

func TestHandleHealth(t *testing.T) {
	app := newTestApp("secret")
	rec := httptest.NewRecorder()

	app.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "1m0s", body.Uptime)
	assert.Equal(t, 0, body.Connections)
}

func TestMetricsRequiresAPIKey(t *testing.T) {
	app := newTestApp("secret")
	handler := app.routes()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "APIKey", rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-Api-Key", "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-Api-Key", "secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "logpush_open_connections")
}

func TestMetricsOpenWithoutKeys(t *testing.T) {
	app := newTestApp()
	rec := httptest.NewRecorder()
	app.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewAppLoggerTeesIntoTarget(t *testing.T) {
	target := logtarget.New(nil, nil)
	logger := newAppLogger(zap.NewNop(), target, &config.Config{Layout: "json"})
	assert.NotPanics(t, func() { logger.Info("nobody listening") })
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
}
