package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joeshaw/envdecode"

	"github.com/ggoodman/casting-api/auth"
	"github.com/ggoodman/casting-api/storage/redis"
)

// config is the process configuration, read from the environment.
type config struct {
	Auth  auth.Config
	Redis redis.Config

	// ListenAddr for the HTTP server. ENV: LISTEN_ADDR
	ListenAddr string `env:"LISTEN_ADDR,default=:8080"`
	// Store selects the backend: memory or redis. ENV: STORE
	Store string `env:"STORE,default=memory"`
	// RoutePolicyFile overlays the built-in route policy. ENV: ROUTE_POLICY_FILE
	RoutePolicyFile string `env:"ROUTE_POLICY_FILE"`
	// LogLevel is one of debug, info, warn, error. ENV: LOG_LEVEL
	LogLevel string `env:"LOG_LEVEL,default=info"`
	// Realm advertised in WWW-Authenticate challenges. ENV: AUTH_REALM
	Realm string `env:"AUTH_REALM"`
	// Resource enables RFC 9728 metadata for this identifier. ENV: RESOURCE_URL
	Resource string `env:"RESOURCE_URL"`
}

func loadConfig() (config, error) {
	cfg := config{Auth: auth.DefaultConfig()}
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	var errs []error
	if err := c.Auth.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Store {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("STORE must be memory or redis, got %q", c.Store))
	}
	if _, err := c.level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return l, nil
}
