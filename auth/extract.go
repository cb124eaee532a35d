package auth

import (
	"net/http"
	"strings"
)

const (
	authorizationHeader = "Authorization"
	bearerScheme        = "Bearer"
)

// ExtractBearer returns the token from an "Authorization: Bearer <token>"
// header. The header must split on whitespace into exactly two parts, the
// first of which is "Bearer" (case-sensitive).
func ExtractBearer(h http.Header) (string, error) {
	raw := h.Get(authorizationHeader)
	if raw == "" {
		e := newError(ErrInvalidHeader, "authorization header is expected", nil)
		e.absent = true
		return "", e
	}
	parts := strings.Fields(raw)
	if len(parts) == 0 || parts[0] != bearerScheme {
		return "", newError(ErrInvalidHeader, `authorization header must start with "Bearer"`, nil)
	}
	if len(parts) == 1 {
		return "", newError(ErrInvalidHeader, "token not found", nil)
	}
	if len(parts) > 2 {
		return "", newError(ErrInvalidHeader, "authorization header must be a bearer token", nil)
	}
	return parts[1], nil
}
