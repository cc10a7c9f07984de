package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/synqup/internal/testutil"
	"github.com/npezzotti/synqup/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthServer(t *testing.T, user types.User) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, http.StatusCreated, user)
	})
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, http.StatusOK, AuthResult{User: user, Token: "login-token", ExpiresAt: time.Now().Add(time.Hour)})
	})
	mux.HandleFunc("POST /api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer login-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJson(w, http.StatusOK, AuthResult{User: user, Token: "refreshed-token", ExpiresAt: time.Now().Add(time.Hour)})
	})
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/auth/session", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer login-token" {
			writeJson(w, http.StatusUnauthorized, map[string]any{"status_code": 401, "message": "Unauthorized"})
			return
		}
		writeJson(w, http.StatusOK, user)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func recordEvents(s *Session) *[]types.AuthEvent {
	var events []types.AuthEvent
	s.OnChange(func(ev types.SessionEvent) {
		events = append(events, ev.Type)
	})
	return &events
}

func TestSession_SignInAndOut(t *testing.T) {
	user := types.User{Id: uuid.New(), Username: "alice"}
	srv := newAuthServer(t, user)
	path := filepath.Join(t.TempDir(), "synqup", "token")

	s := NewSession(srv.URL, path, testutil.TestLogger(t))
	events := recordEvents(s)

	_, ok := s.User()
	assert.False(t, ok, "expected no user before sign in")

	got, err := s.SignIn(context.Background(), "alice@example.com", "password")
	require.NoError(t, err)
	assert.Equal(t, user.Id, got.Id)
	assert.Equal(t, "login-token", s.Token())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "login-token", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.NoError(t, s.SignOut(context.Background()))
	_, ok = s.User()
	assert.False(t, ok)
	assert.Empty(t, s.Token())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "expected token file to be removed")

	assert.Equal(t, []types.AuthEvent{types.SignedIn, types.SignedOut}, *events)
}

func TestSession_SignUp(t *testing.T) {
	user := types.User{Id: uuid.New(), Username: "bob"}
	srv := newAuthServer(t, user)

	s := NewSession(srv.URL, "", testutil.TestLogger(t))
	events := recordEvents(s)

	got, err := s.SignUp(context.Background(), "bob@example.com", "bob", "password")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Username)
	assert.Equal(t, []types.AuthEvent{types.SignedIn}, *events)
}

func TestSession_Refresh(t *testing.T) {
	user := types.User{Id: uuid.New(), Username: "alice"}
	srv := newAuthServer(t, user)

	s := NewSession(srv.URL, filepath.Join(t.TempDir(), "token"), testutil.TestLogger(t))
	_, err := s.SignIn(context.Background(), "alice@example.com", "password")
	require.NoError(t, err)

	events := recordEvents(s)
	require.NoError(t, s.Refresh(context.Background()))

	assert.Equal(t, "refreshed-token", s.Token())
	assert.Equal(t, []types.AuthEvent{types.TokenRefreshed}, *events)
}

func TestSession_Restore(t *testing.T) {
	user := types.User{Id: uuid.New(), Username: "alice"}
	srv := newAuthServer(t, user)

	t.Run("valid token", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")
		require.NoError(t, os.WriteFile(path, []byte("login-token\n"), 0600))

		s := NewSession(srv.URL, path, testutil.TestLogger(t))
		events := recordEvents(s)

		got, err := s.Restore(context.Background())
		require.NoError(t, err)
		assert.Equal(t, user.Id, got.Id)
		assert.Equal(t, "login-token", s.Token())
		assert.Equal(t, []types.AuthEvent{types.SignedIn}, *events)
	})

	t.Run("rejected token is removed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")
		require.NoError(t, os.WriteFile(path, []byte("stale"), 0600))

		s := NewSession(srv.URL, path, testutil.TestLogger(t))
		_, err := s.Restore(context.Background())
		assert.ErrorIs(t, err, types.ErrUnauthorized)

		_, err = os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("no token", func(t *testing.T) {
		s := NewSession(srv.URL, filepath.Join(t.TempDir(), "token"), testutil.TestLogger(t))
		_, err := s.Restore(context.Background())
		assert.ErrorIs(t, err, types.ErrUnauthorized)
	})
}

func TestSession_OnChangeCancel(t *testing.T) {
	user := types.User{Id: uuid.New(), Username: "alice"}
	srv := newAuthServer(t, user)

	s := NewSession(srv.URL, "", testutil.TestLogger(t))

	var calls int
	cancel := s.OnChange(func(types.SessionEvent) { calls++ })
	cancel()
	cancel()

	_, err := s.SignIn(context.Background(), "alice@example.com", "password")
	require.NoError(t, err)
	assert.Zero(t, calls)
}
