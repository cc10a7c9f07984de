package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

func (s *SynqupApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}
			s.log.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
			}).WithError(err).Error("recovered from panic")
			w.Header().Set("Connection", "close")
			s.writeError(w, NewInternalServerError(err))
		}()

		next.ServeHTTP(w, r)
	})
}

// tokenFromRequest reads the session token from the cookie set at login,
// falling back to a bearer Authorization header for non-browser clients.
func tokenFromRequest(r *http.Request) (string, bool) {
	if c, err := r.Cookie(tokenCookieKey); err == nil && c.Value != "" {
		return c.Value, true
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

func (s *SynqupApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := tokenFromRequest(r)
		if !ok {
			s.writeError(w, NewUnauthorizedError())
			return
		}

		userId, err := s.extractUserIdFromToken(tokenString)
		if err != nil {
			s.log.WithError(err).Info("rejected session token")
			s.writeError(w, NewUnauthorizedError())
			return
		}

		ctx := WithUserId(r.Context(), userId)
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(ctx))
	}
}
