package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/casting-api/internal/jwtauth"
)

// VerifierOption configures optional aspects of NewVerifier.
type VerifierOption func(*verifierOptions)

type verifierOptions struct {
	client *http.Client
	source jwtauth.KeySource
	now    func() time.Time
}

// WithHTTPClient sets the client used for discovery and JWKS fetches.
func WithHTTPClient(c *http.Client) VerifierOption {
	return func(o *verifierOptions) { o.client = c }
}

// WithKeySource replaces the configured key source, typically in tests.
func WithKeySource(src jwtauth.KeySource) VerifierOption {
	return func(o *verifierOptions) { o.source = src }
}

// WithClock injects the time source used for exp/nbf checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(o *verifierOptions) { o.now = now }
}

// Verifier validates bearer tokens against a cached key set. It implements
// TokenVerifier and is safe for concurrent use.
type Verifier struct {
	v    *jwtauth.Verifier
	keys *jwtauth.KeySetCache
	file string
	jwks string
}

var _ TokenVerifier = (*Verifier)(nil)

// NewVerifier validates cfg and assembles the key source, key set cache and
// token verifier. When cfg.Discovery is the only key source, the issuer's
// OpenID configuration is fetched once here.
func NewVerifier(ctx context.Context, cfg Config, opts ...VerifierOption) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := verifierOptions{client: &http.Client{}}
	for _, opt := range opts {
		opt(&o)
	}

	out := &Verifier{}
	src := o.source
	switch {
	case src != nil:
	case cfg.JWKSFile != "":
		out.file = cfg.JWKSFile
		src = jwtauth.NewFileSource(cfg.JWKSFile)
	case cfg.JWKSURL != "":
		out.jwks = cfg.JWKSURL
		src = jwtauth.NewHTTPSource(cfg.JWKSURL, o.client)
	default:
		u, err := DiscoverJWKSURL(ctx, cfg.Issuer, o.client)
		if err != nil {
			return nil, err
		}
		out.jwks = u
		src = jwtauth.NewHTTPSource(u, o.client)
	}

	out.keys = jwtauth.NewKeySetCache(src,
		jwtauth.WithFetchTimeout(cfg.FetchTimeout),
		jwtauth.WithMaxRefreshes(cfg.MaxRefreshes),
	)

	var vopts []jwtauth.VerifierOption
	if o.now != nil {
		vopts = append(vopts, jwtauth.WithClock(o.now))
	}
	v, err := jwtauth.NewVerifier(&jwtauth.Config{
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
		Algorithm: cfg.Algorithm,
		Leeway:    cfg.ClockSkew,
	}, out.keys, vopts...)
	if err != nil {
		return nil, err
	}
	out.v = v
	return out, nil
}

// Verify validates tok. Every failure is an *Error.
func (vr *Verifier) Verify(ctx context.Context, tok string) (*Claims, error) {
	c, err := vr.v.Verify(ctx, tok)
	if err != nil {
		return nil, mapVerifyError(err)
	}
	return &Claims{
		Issuer:         c.Issuer,
		Subject:        c.Subject,
		Audience:       c.Audience,
		ExpiresAt:      c.ExpiresAt,
		NotBefore:      c.NotBefore,
		IssuedAt:       c.IssuedAt,
		Permissions:    c.Permissions,
		HasPermissions: c.HasPermissions,
		raw:            c.Raw,
	}, nil
}

// JWKSURL reports the URL keys are fetched from, empty for file sources.
func (vr *Verifier) JWKSURL() string { return vr.jwks }

// Refresh forces a key set fetch. Useful as a startup readiness probe.
func (vr *Verifier) Refresh(ctx context.Context) error {
	if _, err := vr.keys.Refresh(ctx); err != nil {
		return mapVerifyError(err)
	}
	return nil
}

// WatchKeyFile invalidates cached keys whenever the configured JWKS file
// changes. It blocks until ctx is done and is a no-op for non-file sources.
func (vr *Verifier) WatchKeyFile(ctx context.Context, log *slog.Logger) error {
	if vr.file == "" {
		return nil
	}
	return jwtauth.WatchFile(ctx, vr.file, vr.keys, log)
}

// mapVerifyError maps internal sentinel errors to the public taxonomy.
func mapVerifyError(err error) *Error {
	switch {
	case errors.Is(err, jwtauth.ErrInvalidHeader):
		return newError(ErrInvalidHeader, "unable to parse authentication token", err)
	case errors.Is(err, jwtauth.ErrExpiredToken):
		return newError(ErrExpiredToken, "", err)
	case errors.Is(err, jwtauth.ErrInvalidClaims):
		return newError(ErrInvalidClaims, "", err)
	case errors.Is(err, jwtauth.ErrKeyNotFound):
		return newError(ErrKeyNotFound, "", err)
	case errors.Is(err, jwtauth.ErrKeySetUnavailable):
		return newError(ErrKeySetUnavailable, "", err)
	default:
		return newError(ErrInvalidToken, "unable to parse authentication token", err)
	}
}
