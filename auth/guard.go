package auth

import (
	"context"
	"net/http"
)

type claimsKey struct{}

// WithClaims returns a copy of ctx carrying verified claims.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the claims placed by a Guard, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}

// ErrorHandler renders a rejected request.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err *Error)

// DecisionHook observes the outcome of each authorization attempt. err is nil
// when access was granted.
type DecisionHook func(ctx context.Context, required string, c *Claims, err *Error)

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithErrorHandler replaces the default JSON error renderer.
func WithErrorHandler(fn ErrorHandler) GuardOption {
	return func(g *Guard) {
		if fn != nil {
			g.onError = fn
		}
	}
}

// WithDecisionHook registers an observer for authorization outcomes, e.g.
// for logging or auditing. The hook cannot alter the decision.
func WithDecisionHook(fn DecisionHook) GuardOption {
	return func(g *Guard) { g.hook = fn }
}

// Guard composes header extraction, token verification and the permission
// check. A Guard holds no per-request state and is safe for concurrent use.
type Guard struct {
	verifier TokenVerifier
	onError  ErrorHandler
	hook     DecisionHook
}

// NewGuard constructs a Guard around verifier.
func NewGuard(verifier TokenVerifier, opts ...GuardOption) *Guard {
	g := &Guard{verifier: verifier, onError: WriteError}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize runs extract -> verify -> check for a single request and returns
// the verified claims. It stops at the first failure and never retries; the
// returned error is always an *Error.
func (g *Guard) Authorize(ctx context.Context, h http.Header, required string) (*Claims, error) {
	c, err := g.authorize(ctx, h, required)
	if g.hook != nil {
		g.hook(ctx, required, c, err)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (g *Guard) authorize(ctx context.Context, h http.Header, required string) (*Claims, *Error) {
	tok, err := ExtractBearer(h)
	if err != nil {
		return nil, AsError(err)
	}
	c, err := g.verifier.Verify(ctx, tok)
	if err != nil {
		return nil, AsError(err)
	}
	if err := CheckPermission(c, required); err != nil {
		return c, AsError(err)
	}
	return c, nil
}

// Require returns middleware that admits only requests whose token grants
// permission. Verified claims are available to the wrapped handler through
// ClaimsFromContext. Require panics if permission is empty, since a route
// registered without a permission is a programming error.
func (g *Guard) Require(permission string) func(http.Handler) http.Handler {
	if permission == "" {
		panic("auth: Require called with empty permission")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := g.Authorize(r.Context(), r.Header, permission)
			if err != nil {
				g.onError(w, r, AsError(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), c)))
		})
	}
}
