// Package castinghttp serves the casting agency's JSON API. Every route is
// guarded by the permission a route policy assigns to it; the handler refuses
// to start if a registered route has no rule.
package castinghttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/invopop/jsonschema"

	"github.com/ggoodman/casting-api/auth"
	"github.com/ggoodman/casting-api/internal/logctx"
	"github.com/ggoodman/casting-api/internal/policy"
	"github.com/ggoodman/casting-api/internal/wellknown"
	"github.com/ggoodman/casting-api/storage"
)

const (
	requestIDHeader = "X-Request-Id"

	corsAllowHeaders = "Content-Type,Authorization"
	corsAllowMethods = "GET,PATCH,POST,PUT,DELETE,OPTIONS"
)

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	logger   *slog.Logger
	policy   *policy.Policy
	realm    string
	resource *wellknown.ProtectedResourceMetadata
}

// WithLogger sets the logger used by the handler. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithPolicy replaces the built-in route policy.
func WithPolicy(p *policy.Policy) Option {
	return func(c *newConfig) { c.policy = p }
}

// WithRealm sets the realm advertised in WWW-Authenticate challenges. Empty
// (the default) omits the attribute.
func WithRealm(realm string) Option {
	return func(c *newConfig) { c.realm = strings.TrimSpace(realm) }
}

// WithProtectedResource publishes RFC 9728 metadata naming the resource
// identifier, its authorization server and key set. Without it the metadata
// route answers 404.
func WithProtectedResource(resource, issuer, jwksURL string) Option {
	return func(c *newConfig) {
		c.resource = &wellknown.ProtectedResourceMetadata{
			Resource:               resource,
			AuthorizationServers:   []string{issuer},
			JwksURI:                jwksURL,
			BearerMethodsSupported: []string{"header"},
		}
	}
}

// Handler is the casting API. It is safe for concurrent use.
type Handler struct {
	log     *slog.Logger
	store   storage.Store
	guard   *auth.Guard
	policy  *policy.Policy
	router  chi.Router
	prm     *wellknown.ProtectedResourceMetadata
	schemas map[string]*jsonschema.Schema
}

var _ http.Handler = (*Handler)(nil)

// New builds the API around store, authorizing requests with verifier.
func New(store storage.Store, verifier auth.TokenVerifier, opts ...Option) (*Handler, error) {
	if store == nil {
		return nil, errors.New("castinghttp: store is required")
	}
	if verifier == nil {
		return nil, errors.New("castinghttp: verifier is required")
	}

	cfg := &newConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.policy == nil {
		cfg.policy = policy.Default()
	}

	h := &Handler{
		log:     slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		store:   store,
		policy:  cfg.policy,
		schemas: buildSchemas(),
	}
	if cfg.resource != nil {
		prm := *cfg.resource
		prm.ScopesSupported = cfg.policy.Permissions()
		h.prm = &prm
	}
	h.guard = auth.NewGuard(verifier,
		auth.WithErrorHandler(auth.ErrorWriter(cfg.realm)),
		auth.WithDecisionHook(h.logDecision),
	)

	if err := h.routes(); err != nil {
		return nil, err
	}
	return h, nil
}

// routes registers every endpoint under the permission its policy rule names.
func (h *Handler) routes() error {
	r := chi.NewRouter()
	r.Use(h.recoverer)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) { writeStatus(w, http.StatusNotFound) })
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) { writeStatus(w, http.StatusMethodNotAllowed) })

	reg := &registrar{h: h, r: r, seen: map[policy.RouteKey]bool{}}

	reg.handle(http.MethodGet, "/", h.handleHealth)
	reg.handle(http.MethodGet, "/schemas/{name}", h.handleGetSchema)
	reg.handle(http.MethodGet, wellknown.ProtectedResourcePath, h.handleGetProtectedResourceMetadata)

	reg.handle(http.MethodGet, "/actors", h.handleListActors)
	reg.handle(http.MethodGet, "/actors/{id}", h.handleGetActor)
	reg.handle(http.MethodPost, "/actors", h.handlePostActor)
	reg.handle(http.MethodPatch, "/actors/{id}", h.handlePatchActor)
	reg.handle(http.MethodDelete, "/actors/{id}", h.handleDeleteActor)

	reg.handle(http.MethodGet, "/movies", h.handleListMovies)
	reg.handle(http.MethodGet, "/movies/{id}", h.handleGetMovie)
	reg.handle(http.MethodPost, "/movies", h.handlePostMovie)
	reg.handle(http.MethodPatch, "/movies/{id}", h.handlePatchMovie)
	reg.handle(http.MethodDelete, "/movies/{id}", h.handleDeleteMovie)

	reg.handle(http.MethodGet, "/movies/{id}/actors", h.handleListCast)
	reg.handle(http.MethodPut, "/movies/{id}/actors/{actorID}", h.handlePutCast)
	reg.handle(http.MethodDelete, "/movies/{id}/actors/{actorID}", h.handleDeleteCast)

	for _, key := range h.policy.Routes() {
		if !reg.seen[key] {
			reg.errs = append(reg.errs, fmt.Errorf("castinghttp: policy names unknown route %s", key))
		}
	}
	if err := errors.Join(reg.errs...); err != nil {
		return err
	}
	h.router = r
	return nil
}

type registrar struct {
	h    *Handler
	r    chi.Router
	seen map[policy.RouteKey]bool
	errs []error
}

func (g *registrar) handle(method, pattern string, fn http.HandlerFunc) {
	key := policy.RouteKey{Method: method, Path: pattern}
	g.seen[key] = true
	rule, ok := g.h.policy.Lookup(method, pattern)
	switch {
	case !ok:
		g.errs = append(g.errs, fmt.Errorf("castinghttp: no policy rule for %s", key))
	case rule.Public:
		g.r.Method(method, pattern, fn)
	default:
		g.r.With(g.h.guard.Require(rule.Permission), withPrincipal(rule.Permission)).Method(method, pattern, fn)
	}
}

// ServeHTTP attaches request metadata and CORS headers, answers preflight
// requests and dispatches to the router.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rd := &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	}
	ctx := logctx.WithRequestData(r.Context(), rd)

	w.Header().Set(requestIDHeader, rd.RequestID)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
	w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)

	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Max-Age", "600")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	h.router.ServeHTTP(sw, r.WithContext(ctx))
	h.log.InfoContext(ctx, "http.request.done",
		slog.Int("status", sw.status),
		slog.Duration("dur", time.Since(start)),
	)
}

// logDecision records authorization outcomes; it never alters them.
func (h *Handler) logDecision(ctx context.Context, required string, c *auth.Claims, err *auth.Error) {
	if err == nil {
		h.log.DebugContext(ctx, "auth.check.ok", slog.String("permission", required), slog.String("sub", c.Subject))
		return
	}
	attrs := []any{
		slog.String("permission", required),
		slog.String("code", err.Code()),
		slog.Int("status", err.Status),
	}
	if err.Err != nil {
		attrs = append(attrs, slog.String("err", err.Err.Error()))
	}
	if err.Kind == auth.KindKeySetUnavailable {
		h.log.ErrorContext(ctx, "auth.check.fail", attrs...)
		return
	}
	h.log.InfoContext(ctx, "auth.check.fail", attrs...)
}

// withPrincipal tags the request's log context with the verified caller.
func withPrincipal(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			ctx := logctx.WithPrincipalData(r.Context(), &logctx.PrincipalData{Subject: c.Subject, Permission: permission})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				h.log.ErrorContext(r.Context(), "http.handler.panic", slog.String("err", fmt.Sprint(v)))
				writeStatus(w, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}
