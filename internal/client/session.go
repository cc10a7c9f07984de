package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/npezzotti/synqup/internal/types"
	"github.com/sirupsen/logrus"
)

// TokenFilePath returns the default location of the persisted session token.
func TokenFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".synqup", "token"), nil
}

// Session tracks the signed-in user and their token, persisting the token so
// a later process can restore it. Listeners registered with OnChange observe
// every auth state change.
type Session struct {
	api       *Client
	tokenPath string
	log       *logrus.Entry

	mu    sync.RWMutex
	token string
	user  *types.User

	listenersMu sync.Mutex
	listeners   []listener
	nextId      int
}

type listener struct {
	id int
	fn func(types.SessionEvent)
}

// NewSession creates a signed-out session against the API at baseURL. An
// empty tokenPath disables persistence.
func NewSession(baseURL, tokenPath string, l *logrus.Logger) *Session {
	s := &Session{
		tokenPath: tokenPath,
		log:       l.WithField("component", "session"),
	}
	s.api = New(baseURL, "").WithTokenSource(s.Token)
	return s
}

// Client returns an API client authenticated as the session's current user.
func (s *Session) Client() *Client {
	return s.api
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the signed-in user, if any.
func (s *Session) User() (types.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return types.User{}, false
	}
	return *s.user, true
}

// OnChange registers fn for session events. The returned func detaches it.
func (s *Session) OnChange(fn func(types.SessionEvent)) (cancel func()) {
	s.listenersMu.Lock()
	s.nextId++
	id := s.nextId
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			defer s.listenersMu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Restore loads a persisted token and validates it against the API. A token
// the server rejects is removed.
func (s *Session) Restore(ctx context.Context) (*types.User, error) {
	token, err := s.readToken()
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fmt.Errorf("restore session: %w: not logged in", types.ErrUnauthorized)
	}

	user, err := New(s.api.BaseURL(), token).GetSession(ctx)
	if err != nil {
		if errors.Is(err, types.ErrUnauthorized) {
			s.removeToken()
		}
		return nil, fmt.Errorf("restore session: %w", err)
	}

	s.set(token, user)
	s.emit(types.SessionEvent{Type: types.SignedIn, User: user})
	return user, nil
}

// SignUp registers a new account and signs into it.
func (s *Session) SignUp(ctx context.Context, email, username, password string) (*types.User, error) {
	if _, err := s.api.Register(ctx, email, username, password); err != nil {
		return nil, err
	}
	return s.SignIn(ctx, email, password)
}

func (s *Session) SignIn(ctx context.Context, email, password string) (*types.User, error) {
	res, err := s.api.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if err := s.saveToken(res.Token); err != nil {
		s.log.WithError(err).Warn("failed to persist token")
	}

	user := res.User
	s.set(res.Token, &user)
	s.emit(types.SessionEvent{Type: types.SignedIn, User: &user})
	return &user, nil
}

// SignOut ends the session locally even when the server cannot be reached.
func (s *Session) SignOut(ctx context.Context) error {
	var logoutErr error
	if s.Token() != "" {
		logoutErr = s.api.Logout(ctx)
	}

	s.removeToken()
	s.set("", nil)
	s.emit(types.SessionEvent{Type: types.SignedOut})

	return logoutErr
}

// Refresh swaps the current token for a fresh one.
func (s *Session) Refresh(ctx context.Context) error {
	res, err := s.api.Refresh(ctx)
	if err != nil {
		return err
	}

	if err := s.saveToken(res.Token); err != nil {
		s.log.WithError(err).Warn("failed to persist token")
	}

	user := res.User
	s.set(res.Token, &user)
	s.emit(types.SessionEvent{Type: types.TokenRefreshed, User: &user})
	return nil
}

func (s *Session) set(token string, user *types.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.user = user
}

func (s *Session) emit(ev types.SessionEvent) {
	s.listenersMu.Lock()
	fns := make([]func(types.SessionEvent), 0, len(s.listeners))
	for _, l := range s.listeners {
		fns = append(fns, l.fn)
	}
	s.listenersMu.Unlock()

	s.log.WithField("event", ev.Type).Debug("session changed")
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *Session) readToken() (string, error) {
	if s.tokenPath == "" {
		return "", nil
	}
	data, err := os.ReadFile(s.tokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *Session) saveToken(token string) error {
	if s.tokenPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.tokenPath), 0700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	return os.WriteFile(s.tokenPath, []byte(token), 0600)
}

func (s *Session) removeToken() {
	if s.tokenPath == "" {
		return
	}
	if err := os.Remove(s.tokenPath); err != nil && !os.IsNotExist(err) {
		s.log.WithError(err).Warn("failed to remove token")
	}
}
