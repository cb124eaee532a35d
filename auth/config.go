package auth

import (
	"errors"
	"fmt"
	"time"
)

// Config describes how bearer tokens are verified. Field tags allow loading it
// with envdecode; see cmd/castingd.
//
// Exactly one key source is used, in this order of precedence: JWKSFile,
// JWKSURL, then OIDC discovery of the issuer's jwks_uri (only when Discovery
// is true).
type Config struct {
	Issuer   string `env:"AUTH_ISSUER"`
	Audience string `env:"AUTH_AUDIENCE"`

	JWKSURL   string `env:"AUTH_JWKS_URL"`
	JWKSFile  string `env:"AUTH_JWKS_FILE"`
	Discovery bool   `env:"AUTH_DISCOVERY,default=false"`

	// Algorithm is the only accepted JWS algorithm.
	Algorithm string `env:"AUTH_ALGORITHM,default=RS256"`
	// ClockSkew widens the exp/nbf window. Zero unless configured.
	ClockSkew time.Duration `env:"AUTH_CLOCK_SKEW,default=0s"`

	FetchTimeout time.Duration `env:"AUTH_JWKS_TIMEOUT,default=5s"`
	// MaxRefreshes bounds key set refreshes per lookup of an unknown kid.
	MaxRefreshes int `env:"AUTH_JWKS_MAX_REFRESHES,default=1"`
}

// DefaultConfig returns a Config with the conservative defaults: RS256 only,
// no clock skew, a 5s fetch timeout and a single refresh on unknown kid.
func DefaultConfig() Config {
	return Config{
		Algorithm:    "RS256",
		FetchTimeout: 5 * time.Second,
		MaxRefreshes: 1,
	}
}

// Validate returns an error if required settings are missing or invalid. It
// is meant to run once at startup.
func (c Config) Validate() error {
	var errs []error
	if c.Issuer == "" {
		errs = append(errs, errors.New("auth: issuer required (AUTH_ISSUER)"))
	}
	if c.Audience == "" {
		errs = append(errs, errors.New("auth: audience required (AUTH_AUDIENCE)"))
	}
	if c.Algorithm == "" {
		errs = append(errs, errors.New("auth: algorithm required (AUTH_ALGORITHM)"))
	}
	if c.JWKSURL == "" && c.JWKSFile == "" && !c.Discovery {
		errs = append(errs, errors.New("auth: a key source is required (AUTH_JWKS_URL, AUTH_JWKS_FILE or AUTH_DISCOVERY=true)"))
	}
	if c.ClockSkew < 0 {
		errs = append(errs, fmt.Errorf("auth: clock skew must not be negative, got %s", c.ClockSkew))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("auth: jwks timeout must be positive, got %s", c.FetchTimeout))
	}
	if c.MaxRefreshes < 0 {
		errs = append(errs, fmt.Errorf("auth: max refreshes must not be negative, got %d", c.MaxRefreshes))
	}
	return errors.Join(errs...)
}
