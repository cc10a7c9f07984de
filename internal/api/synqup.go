package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/synqup/internal/config"
	"github.com/npezzotti/synqup/internal/database"
	"github.com/npezzotti/synqup/internal/limiter"
	"github.com/npezzotti/synqup/internal/server"
	"github.com/npezzotti/synqup/internal/stats"
	"github.com/sirupsen/logrus"
)

type SynqupApp struct {
	log            *logrus.Logger
	db             database.Repository
	srv            *http.Server
	fs             *server.FeedServer
	stats          stats.StatsProvider
	limiter        limiter.Limiter
	signingKey     []byte
	allowedOrigins []string
}

func NewSynqupApp(mux *http.ServeMux, logger *logrus.Logger, fs *server.FeedServer, db database.Repository,
	st stats.StatsProvider, lim limiter.Limiter, cfg *config.Config) *SynqupApp {
	if lim == nil {
		lim = limiter.NoopLimiter{}
	}

	s := &SynqupApp{
		log:            logger,
		db:             db,
		fs:             fs,
		stats:          st,
		limiter:        lim,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	if st != nil {
		st.RegisterMetric(stats.NumMessages)
		st.RegisterMetric(stats.NumMediaUpdates)
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("POST /api/auth/refresh", s.authMiddleware(s.refresh))
	mux.HandleFunc("POST /api/auth/logout", s.logout)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/profiles/{id}", s.authMiddleware(s.getProfile))
	mux.HandleFunc("GET /api/rooms", s.authMiddleware(s.listRooms))
	mux.HandleFunc("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.HandleFunc("POST /api/rooms/join", s.authMiddleware(s.joinRoom))
	mux.HandleFunc("GET /api/rooms/{id}", s.authMiddleware(s.getRoom))
	mux.HandleFunc("GET /api/rooms/{id}/members", s.authMiddleware(s.listMembers))
	mux.HandleFunc("GET /api/rooms/{id}/members/me", s.authMiddleware(s.getOwnMembership))
	mux.HandleFunc("POST /api/rooms/{id}/members", s.authMiddleware(s.createMembership))
	mux.HandleFunc("DELETE /api/rooms/{id}/members/{memberId}", s.authMiddleware(s.removeMember))
	mux.HandleFunc("GET /api/rooms/{id}/messages", s.authMiddleware(s.listMessages))
	mux.HandleFunc("POST /api/rooms/{id}/messages", s.authMiddleware(s.createMessage))
	mux.HandleFunc("GET /api/rooms/{id}/media", s.authMiddleware(s.getMedia))
	mux.HandleFunc("POST /api/rooms/{id}/media", s.authMiddleware(s.upsertMedia))
	mux.HandleFunc("PUT /api/rooms/{id}/media/{mediaId}", s.authMiddleware(s.updateMedia))
	mux.HandleFunc("DELETE /api/rooms/{id}/media", s.authMiddleware(s.deleteMedia))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *SynqupApp) Start() error {
	s.log.Infof("starting server on %s", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *SynqupApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
