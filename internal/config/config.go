package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Env holds the raw settings read from the environment. Command line flags
// may override any of them before NewConfig validates the result.
type Env struct {
	ServerAddr       string   `env:"SYNQUP_ADDR" env-default:"localhost:8000"`
	DatabaseDSN      string   `env:"SYNQUP_DATABASE_DSN" env-default:"host=localhost user=postgres password=postgres dbname=synqup sslmode=disable"`
	SigningSecret    string   `env:"SYNQUP_SIGNING_KEY"`
	AllowedOrigins   []string `env:"SYNQUP_ALLOWED_ORIGINS" env-separator:","`
	RedisAddr        string   `env:"SYNQUP_REDIS_ADDR"`
	MessageRateLimit int      `env:"SYNQUP_MESSAGE_RATE_LIMIT" env-default:"10"`
	RateWindow       string   `env:"SYNQUP_RATE_WINDOW" env-default:"10s"`
}

type Config struct {
	DatabaseDSN      string
	ServerAddr       string
	SigningKey       []byte
	AllowedOrigins   []string
	RedisAddr        string
	MessageRateLimit int
	RateWindow       time.Duration
}

// LoadEnv reads a .env file from the working directory when one exists and
// then the process environment.
func LoadEnv(files ...string) (Env, error) {
	var env Env
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return env, fmt.Errorf("load dotenv: %w", err)
	}

	if err := cleanenv.ReadEnv(&env); err != nil {
		return env, fmt.Errorf("read env: %w", err)
	}

	return env, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(env Env) (*Config, error) {
	if env.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if env.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if env.SigningSecret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if env.MessageRateLimit < 0 {
		return nil, fmt.Errorf("message rate limit cannot be negative")
	}

	signingKey, err := decodeSigningSecret(env.SigningSecret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	window := 10 * time.Second
	if env.RateWindow != "" {
		window, err = time.ParseDuration(env.RateWindow)
		if err != nil {
			return nil, fmt.Errorf("parse rate window: %w", err)
		}
	}

	return &Config{
		DatabaseDSN:      env.DatabaseDSN,
		ServerAddr:       env.ServerAddr,
		SigningKey:       signingKey,
		AllowedOrigins:   env.AllowedOrigins,
		RedisAddr:        env.RedisAddr,
		MessageRateLimit: env.MessageRateLimit,
		RateWindow:       window,
	}, nil
}
