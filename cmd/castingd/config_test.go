package main

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("AUTH_ISSUER", "https://issuer.example/")
	t.Setenv("AUTH_AUDIENCE", "casting")
	t.Setenv("AUTH_JWKS_URL", "https://issuer.example/.well-known/jwks.json")
	t.Setenv("AUTH_CLOCK_SKEW", "30s")
	t.Setenv("STORE", "redis")
	t.Setenv("REDIS_KEY_PREFIX", "agency:")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Auth.ClockSkew != 30*time.Second || cfg.Auth.MaxRefreshes != 1 || cfg.Auth.Algorithm != "RS256" {
		t.Fatalf("auth config: %+v", cfg.Auth)
	}
	if cfg.ListenAddr != ":8080" || cfg.Store != "redis" || cfg.Redis.KeyPrefix != "agency:" {
		t.Fatalf("config: %+v", cfg)
	}
	if l, _ := cfg.level(); l != slog.LevelDebug {
		t.Fatalf("level: %v", l)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"missing issuer": {
			"AUTH_AUDIENCE": "casting",
			"AUTH_JWKS_URL": "https://issuer.example/jwks",
		},
		"unknown store": {
			"AUTH_ISSUER":   "https://issuer.example/",
			"AUTH_AUDIENCE": "casting",
			"AUTH_JWKS_URL": "https://issuer.example/jwks",
			"STORE":         "postgres",
		},
		"bad log level": {
			"AUTH_ISSUER":   "https://issuer.example/",
			"AUTH_AUDIENCE": "casting",
			"AUTH_JWKS_URL": "https://issuer.example/jwks",
			"LOG_LEVEL":     "chatty",
		},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "STORE", "LOG_LEVEL"} {
				t.Setenv(k, "")
			}
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := loadConfig(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
