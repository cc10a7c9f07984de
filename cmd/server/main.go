package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/npezzotti/synqup/internal/api"
	"github.com/npezzotti/synqup/internal/config"
	"github.com/npezzotti/synqup/internal/database"
	"github.com/npezzotti/synqup/internal/feed"
	"github.com/npezzotti/synqup/internal/limiter"
	"github.com/npezzotti/synqup/internal/server"
	"github.com/npezzotti/synqup/internal/stats"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	redisAddr      string
	logLevel       string
	migrateOnStart bool
	allowedOrigins stringSliceFlag
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	env, err := config.LoadEnv()
	if err != nil {
		logger.WithError(err).Fatal("load env")
	}

	flag.StringVar(&addr, "addr", env.ServerAddr, "server address")
	flag.StringVar(&dsn, "dsn", env.DatabaseDSN, "database connection string")
	flag.StringVar(&signingKey, "signing-key", env.SigningSecret, "base64 encoded signing key")
	flag.StringVar(&redisAddr, "redis-addr", env.RedisAddr, "redis address for message rate limiting, disabled when empty")
	flag.StringVar(&logLevel, "log-level", "info", "log level")
	flag.BoolVar(&migrateOnStart, "migrate", true, "apply database migrations on start")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logger.WithError(err).Fatal("parse log level")
	}
	logger.SetLevel(level)

	env.ServerAddr = addr
	env.DatabaseDSN = dsn
	env.SigningSecret = signingKey
	env.RedisAddr = redisAddr
	if len(allowedOrigins) > 0 {
		env.AllowedOrigins = allowedOrigins
	}

	cfg, err := config.NewConfig(env)
	if err != nil {
		logger.WithError(err).Fatal("config")
	}

	db, err := database.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.WithError(err).Fatal("db open")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Error("db close")
		}
	}()

	if migrateOnStart {
		if err := db.Migrate(); err != nil {
			logger.WithError(err).Fatal("db migrate")
		}
	}

	var lim limiter.Limiter = limiter.NoopLimiter{}
	if cfg.RedisAddr != "" && cfg.MessageRateLimit > 0 {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		lim, err = limiter.NewRedisLimiter(rdb, cfg.MessageRateLimit, cfg.RateWindow)
		if err != nil {
			logger.WithError(err).Fatal("rate limiter")
		}
		logger.WithField("redis", cfg.RedisAddr).Info("message rate limiting enabled")
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	feedServer, err := server.NewFeedServer(logger, db, statsUpdater)
	if err != nil {
		logger.WithError(err).Fatal("new feed server")
	}

	app := api.NewSynqupApp(mux, logger, feedServer, db, statsUpdater, lim, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go feedServer.Run()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener := feed.NewPgListener(cfg.DatabaseDSN, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listener.Run(gctx)
	})
	g.Go(func() error {
		feedServer.Consume(gctx, listener.Events())
		return nil
	})
	g.Go(func() error {
		if err := app.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := app.Shutdown(shutDownCtx); err != nil {
			logger.WithError(err).Error("HTTP server shutdown")
		}

		logger.Info("shutting down feed server...")
		return feedServer.Shutdown(shutDownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server exited")
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
