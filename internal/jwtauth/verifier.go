package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidHeader indicates a structurally malformed token or a token header
// that is missing alg/kid or declares a disallowed algorithm.
var ErrInvalidHeader = errors.New("jwtauth: invalid token header")

// ErrInvalidToken indicates the signature did not verify, or the token could
// not be parsed for any reason not otherwise classified.
var ErrInvalidToken = errors.New("jwtauth: invalid token")

// ErrExpiredToken indicates the current time is outside the token's
// [nbf, exp) validity window.
var ErrExpiredToken = errors.New("jwtauth: token expired")

// ErrInvalidClaims indicates an issuer or audience mismatch, or a missing
// required registered claim.
var ErrInvalidClaims = errors.New("jwtauth: invalid claims")

// Config controls validation behavior for bearer tokens.
type Config struct {
	Issuer   string
	Audience string
	// Algorithm is the single accepted JWS algorithm. Tokens declaring any
	// other value, including "none", are rejected before key lookup.
	Algorithm string
	// Leeway widens the [nbf, exp) window on both sides. Zero by default.
	Leeway time.Duration
}

// DefaultConfig returns a Config accepting RS256 with no clock skew.
func DefaultConfig() *Config {
	return &Config{Algorithm: "RS256"}
}

// Claims is the decoded payload of a verified token.
type Claims struct {
	Issuer    string
	Subject   string
	Audience  []string
	ExpiresAt time.Time
	NotBefore time.Time // zero if absent
	IssuedAt  time.Time // zero if absent

	// Permissions is the "permissions" claim. HasPermissions is false when
	// the claim was absent (or null), which is distinct from an empty list.
	Permissions    []string
	HasPermissions bool

	raw map[string]any
}

// Raw unmarshals the full claim set into ref.
func (c *Claims) Raw(ref any) error {
	b, err := json.Marshal(c.raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Permissions *[]string `json:"permissions,omitempty"`
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// KeyResolver returns the verification key for a key id.
type KeyResolver interface {
	Key(ctx context.Context, kid string) (SigningKey, error)
}

// Verifier validates compact JWS bearer tokens against a key set.
type Verifier struct {
	cfg  Config
	keys KeyResolver
	now  func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithClock overrides the time source used for exp/nbf checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier constructs a Verifier. Issuer, Audience and Algorithm are
// required.
func NewVerifier(cfg *Config, keys KeyResolver, opts ...VerifierOption) (*Verifier, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}
	if cfg.Algorithm == "" {
		return nil, errors.New("algorithm is required")
	}
	if strings.EqualFold(cfg.Algorithm, "none") {
		return nil, errors.New(`algorithm "none" is never allowed`)
	}
	if jwt.GetSigningMethod(cfg.Algorithm) == nil {
		return nil, fmt.Errorf("unsupported algorithm %q", cfg.Algorithm)
	}
	if strings.HasPrefix(cfg.Algorithm, "HS") {
		return nil, fmt.Errorf("algorithm %q is symmetric; an asymmetric algorithm is required", cfg.Algorithm)
	}
	if keys == nil {
		return nil, errors.New("key resolver is required")
	}
	v := &Verifier{cfg: *cfg, keys: keys, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks the token's structure, algorithm, signature, issuer,
// audience and validity window and returns its claims. Every error wraps
// exactly one of ErrInvalidHeader, ErrInvalidToken, ErrExpiredToken,
// ErrInvalidClaims, ErrKeyNotFound or ErrKeySetUnavailable.
func (v *Verifier) Verify(ctx context.Context, tok string) (*Claims, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, fmt.Errorf("%w: token must have three dot-separated segments", ErrInvalidHeader)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{v.cfg.Algorithm}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithAudience(v.cfg.Audience),
		jwt.WithLeeway(v.cfg.Leeway),
		jwt.WithTimeFunc(v.now),
	)

	rawHeader, err := parser.DecodeSegment(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header is not base64url: %v", ErrInvalidHeader, err)
	}
	var hdr tokenHeader
	if err := json.Unmarshal(rawHeader, &hdr); err != nil {
		return nil, fmt.Errorf("%w: header is not a JSON object: %v", ErrInvalidHeader, err)
	}
	if hdr.Alg == "" {
		return nil, fmt.Errorf("%w: missing alg", ErrInvalidHeader)
	}
	if hdr.Kid == "" {
		return nil, fmt.Errorf("%w: missing kid", ErrInvalidHeader)
	}
	if hdr.Alg != v.cfg.Algorithm {
		return nil, fmt.Errorf("%w: disallowed alg: %s", ErrInvalidHeader, hdr.Alg)
	}

	payload, err := parser.DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not base64url: %v", ErrInvalidHeader, err)
	}
	raw := map[string]any{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object: %v", ErrInvalidHeader, err)
	}
	if _, err := parser.DecodeSegment(parts[2]); err != nil {
		return nil, fmt.Errorf("%w: signature is not base64url: %v", ErrInvalidHeader, err)
	}

	key, err := v.keys.Key(ctx, hdr.Kid)
	if err != nil {
		return nil, err
	}
	if key.Algorithm != "" && key.Algorithm != hdr.Alg {
		return nil, fmt.Errorf("%w: key %q is published for %s", ErrInvalidToken, key.KID, key.Algorithm)
	}

	var tc tokenClaims
	if _, err := parser.ParseWithClaims(tok, &tc, func(*jwt.Token) (any, error) { return key.Key, nil }); err != nil {
		return nil, classify(err)
	}

	out := &Claims{
		Issuer:   tc.Issuer,
		Subject:  tc.Subject,
		Audience: append([]string(nil), tc.Audience...),
		raw:      raw,
	}
	if tc.ExpiresAt != nil {
		out.ExpiresAt = tc.ExpiresAt.Time
	}
	if tc.NotBefore != nil {
		out.NotBefore = tc.NotBefore.Time
	}
	if tc.IssuedAt != nil {
		out.IssuedAt = tc.IssuedAt.Time
	}
	if tc.Permissions != nil {
		out.HasPermissions = true
		out.Permissions = append([]string{}, (*tc.Permissions)...)
	}
	return out, nil
}

// classify maps golang-jwt validation errors onto this package's sentinels.
// Time-window failures win over issuer/audience failures when both occur.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return fmt.Errorf("%w: %v", ErrExpiredToken, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}
