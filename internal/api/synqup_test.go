package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/synqup/internal/config"
	"github.com/npezzotti/synqup/internal/database"
	"github.com/npezzotti/synqup/internal/limiter"
	"github.com/npezzotti/synqup/internal/stats"
	"github.com/npezzotti/synqup/internal/testutil"
	"github.com/npezzotti/synqup/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("test-signing-key")

func newTestApp(t *testing.T, db database.Repository, su *stats.MockStatsUpdater, lim limiter.Limiter) *SynqupApp {
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(2)

	return NewSynqupApp(http.NewServeMux(), testutil.TestLogger(t), nil, db, su, lim, &config.Config{
		ServerAddr:     "localhost:0",
		SigningKey:     testSigningKey,
		AllowedOrigins: []string{"http://localhost:3000"},
	})
}

// do sends req through the full handler chain with a session for userId.
// A nil userId sends the request unauthenticated.
func do(t *testing.T, app *SynqupApp, method, path string, body any, userId *uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, r)
	if userId != nil {
		token, _, err := app.createJwtForSession(types.User{Id: *userId}, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	app.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decodeApiError(t *testing.T, rr *httptest.ResponseRecorder) ApiError {
	t.Helper()
	var apiErr ApiError
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&apiErr), "failed to decode ApiError response")
	assert.Equal(t, apiErr.StatusCode, rr.Code)
	return apiErr
}

func TestNewSynqupApp(t *testing.T) {
	db := &database.MockRepository{}
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", stats.NumMessages).Return(nil).Once()
	su.On("RegisterMetric", stats.NumMediaUpdates).Return(nil).Once()

	logger := testutil.TestLogger(t)
	cfg := &config.Config{
		ServerAddr:     "localhost:8080",
		DatabaseDSN:    "dsn",
		SigningKey:     []byte("secret"),
		AllowedOrigins: []string{"http://localhost:3000"},
	}

	app := NewSynqupApp(http.NewServeMux(), logger, nil, db, su, nil, cfg)

	assert.NotNil(t, app, "expected app to be initialized")
	assert.NotNil(t, app.srv, "expected http server to be initialized")
	assert.Equal(t, logger, app.log, "expected logger to be set")
	assert.Equal(t, db, app.db, "expected db to be set")
	assert.Equal(t, cfg.SigningKey, app.signingKey, "expected signing key to be set")
	assert.Equal(t, cfg.AllowedOrigins, app.allowedOrigins)
	assert.Equal(t, cfg.ServerAddr, app.srv.Addr, "expected server address to match config")
	assert.IsType(t, limiter.NoopLimiter{}, app.limiter, "expected a noop limiter by default")
}

func TestRoutes_RequireAuth(t *testing.T) {
	app := newTestApp(t, &database.MockRepository{}, &stats.MockStatsUpdater{}, nil)
	roomId := uuid.New()

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/auth/session"},
		{http.MethodPost, "/api/auth/refresh"},
		{http.MethodGet, "/api/profiles/" + uuid.NewString()},
		{http.MethodGet, "/api/rooms"},
		{http.MethodPost, "/api/rooms"},
		{http.MethodPost, "/api/rooms/join"},
		{http.MethodGet, "/api/rooms/" + roomId.String()},
		{http.MethodGet, "/api/rooms/" + roomId.String() + "/members"},
		{http.MethodGet, "/api/rooms/" + roomId.String() + "/members/me"},
		{http.MethodPost, "/api/rooms/" + roomId.String() + "/members"},
		{http.MethodDelete, "/api/rooms/" + roomId.String() + "/members/" + uuid.NewString()},
		{http.MethodGet, "/api/rooms/" + roomId.String() + "/messages"},
		{http.MethodPost, "/api/rooms/" + roomId.String() + "/messages"},
		{http.MethodGet, "/api/rooms/" + roomId.String() + "/media"},
		{http.MethodPost, "/api/rooms/" + roomId.String() + "/media"},
		{http.MethodPut, "/api/rooms/" + roomId.String() + "/media/" + uuid.NewString()},
		{http.MethodDelete, "/api/rooms/" + roomId.String() + "/media"},
		{http.MethodGet, "/ws"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rr := do(t, app, rt.method, rt.path, nil, nil)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}
}
