package auth

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Kind classifies an authorization failure.
type Kind int

const (
	KindInvalidHeader Kind = iota + 1
	KindInvalidToken
	KindExpiredToken
	KindInvalidClaims
	KindKeyNotFound
	KindKeySetUnavailable
	KindPermissionDenied
)

// Code returns the machine-readable code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindInvalidHeader:
		return "invalid_header"
	case KindInvalidToken:
		return "invalid_token"
	case KindExpiredToken:
		return "token_expired"
	case KindInvalidClaims:
		return "invalid_claims"
	case KindKeyNotFound:
		return "key_not_found"
	case KindKeySetUnavailable:
		return "keyset_unavailable"
	case KindPermissionDenied:
		return "unauthorized"
	}
	return "unknown"
}

func (k Kind) String() string { return k.Code() }

// Error is the single failure type produced by the authorization core. Every
// rejected request yields exactly one *Error.
//
// Status is the HTTP status the failure should be rendered with. Description
// is safe to show to callers; Err carries the underlying cause for logs and
// is never rendered.
type Error struct {
	Kind        Kind
	Status      int
	Description string
	Err         error

	absent bool // no credentials were presented at all
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.Code() + ": " + e.Description + ": " + e.Err.Error()
	}
	return e.Kind.Code() + ": " + e.Description
}

// Code returns the machine-readable code of the failure.
func (e *Error) Code() string { return e.Kind.Code() }

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, auth.ErrPermissionDenied) works on any produced error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons. Do not return these directly; use
// newError so each failure carries its own cause.
var (
	ErrInvalidHeader     = &Error{Kind: KindInvalidHeader, Status: http.StatusUnauthorized, Description: "invalid authorization header"}
	ErrInvalidToken      = &Error{Kind: KindInvalidToken, Status: http.StatusUnauthorized, Description: "invalid token"}
	ErrExpiredToken      = &Error{Kind: KindExpiredToken, Status: http.StatusUnauthorized, Description: "token expired"}
	ErrInvalidClaims     = &Error{Kind: KindInvalidClaims, Status: http.StatusUnauthorized, Description: "incorrect claims, check the audience and issuer"}
	ErrKeyNotFound       = &Error{Kind: KindKeyNotFound, Status: http.StatusUnauthorized, Description: "unable to find the appropriate key"}
	ErrKeySetUnavailable = &Error{Kind: KindKeySetUnavailable, Status: http.StatusInternalServerError, Description: "signing keys unavailable"}
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied, Status: http.StatusForbidden, Description: "permission not found"}
)

func newError(base *Error, description string, cause error) *Error {
	e := *base
	if description != "" {
		e.Description = description
	}
	e.Err = cause
	return &e
}

// AsError converts err into an *Error. Errors that are not already an *Error
// become KindInvalidToken so that no unclassified failure leaves the core.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return newError(ErrInvalidToken, "", err)
}

// Claims is the verified payload of a bearer token. It is read-only for
// route handlers.
type Claims struct {
	Issuer    string
	Subject   string
	Audience  []string
	ExpiresAt time.Time
	NotBefore time.Time
	IssuedAt  time.Time

	// Permissions lists the permission scopes granted to the caller.
	// HasPermissions is false when the token carried no permissions claim.
	Permissions    []string
	HasPermissions bool

	raw func(ref any) error
}

// ErrNoRawClaims is returned by Claims.Raw for claims that were not decoded
// from a token, such as those built by hand or by a test verifier.
var ErrNoRawClaims = errors.New("auth: no raw claim set")

// Raw unmarshals the full claim set into ref. It returns ErrNoRawClaims and
// leaves ref untouched when the claims carry no decoded token payload.
func (c *Claims) Raw(ref any) error {
	if c.raw == nil {
		return ErrNoRawClaims
	}
	return c.raw(ref)
}

// TokenVerifier validates a bearer token and returns its claims. Failures
// MUST be *Error values.
type TokenVerifier interface {
	Verify(ctx context.Context, tok string) (*Claims, error)
}

// TokenVerifierFunc adapts a function to TokenVerifier.
type TokenVerifierFunc func(ctx context.Context, tok string) (*Claims, error)

func (f TokenVerifierFunc) Verify(ctx context.Context, tok string) (*Claims, error) {
	return f(ctx, tok)
}
