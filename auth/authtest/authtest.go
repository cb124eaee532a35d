// Package authtest provides a throwaway token issuer and fixed verifiers for
// tests of code that sits behind auth.Guard.
package authtest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ggoodman/casting-api/auth"
	"github.com/ggoodman/casting-api/internal/wellknown"
)

// Permission sets held by each role of the casting agency.
var (
	AssistantPermissions = []string{"get:actors", "get:movies"}
	DirectorPermissions  = []string{
		"get:actors", "get:movies",
		"post:actors", "patch:actors", "delete:actors",
		"post:movies", "patch:movies",
	}
	ProducerPermissions = []string{
		"get:actors", "get:movies",
		"post:actors", "patch:actors", "delete:actors",
		"patch:movies", "post:movies", "delete:movies",
	}
)

const jwksPath = "/.well-known/jwks.json"

type signingKey struct {
	kid string
	key *rsa.PrivateKey
}

// Issuer is an in-process authorization server. It publishes an OpenID
// configuration and a JWKS over httptest and mints RS256 tokens.
type Issuer struct {
	Audience string

	srv     *httptest.Server
	mu      sync.Mutex
	keys    []signingKey
	fetches atomic.Int64
}

// NewIssuer starts an Issuer whose tokens target audience. The server is
// closed when tb finishes.
func NewIssuer(tb testing.TB, audience string) *Issuer {
	tb.Helper()
	iss := &Issuer{Audience: audience}
	iss.Rotate(tb)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+jwksPath, func(w http.ResponseWriter, r *http.Request) {
		iss.fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(iss.JWKS())
	})
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(wellknown.AuthServerMetadata{
			Issuer:                           iss.URL(),
			JwksURI:                          iss.JWKSURL(),
			IDTokenSigningAlgValuesSupported: []string{"RS256"},
		})
	})
	iss.srv = httptest.NewServer(mux)
	tb.Cleanup(iss.srv.Close)
	return iss
}

// URL is the issuer identifier, also the base URL of the server.
func (i *Issuer) URL() string { return i.srv.URL }

// JWKSURL is where the key set is published.
func (i *Issuer) JWKSURL() string { return i.srv.URL + jwksPath }

// Fetches reports how many times the key set has been requested.
func (i *Issuer) Fetches() int { return int(i.fetches.Load()) }

// Config returns an auth.Config pointing at this issuer.
func (i *Issuer) Config() auth.Config {
	cfg := auth.DefaultConfig()
	cfg.Issuer = i.URL()
	cfg.Audience = i.Audience
	cfg.JWKSURL = i.JWKSURL()
	return cfg
}

// Verifier builds an auth.Verifier for this issuer.
func (i *Issuer) Verifier(tb testing.TB, opts ...auth.VerifierOption) *auth.Verifier {
	tb.Helper()
	opts = append([]auth.VerifierOption{auth.WithHTTPClient(i.srv.Client())}, opts...)
	v, err := auth.NewVerifier(context.Background(), i.Config(), opts...)
	if err != nil {
		tb.Fatalf("authtest: new verifier: %v", err)
	}
	return v
}

// Rotate adds a fresh signing key. Subsequent tokens are signed with it; old
// keys remain published.
func (i *Issuer) Rotate(tb testing.TB) string {
	tb.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tb.Fatalf("authtest: generate key: %v", err)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	kid := fmt.Sprintf("key-%d", len(i.keys)+1)
	i.keys = append(i.keys, signingKey{kid: kid, key: k})
	return kid
}

// JWKS returns the published key set document.
func (i *Issuer) JWKS() []byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	set := jose.JSONWebKeySet{}
	for _, k := range i.keys {
		set.Keys = append(set.Keys, jose.JSONWebKey{Key: &k.key.PublicKey, KeyID: k.kid, Algorithm: "RS256", Use: "sig"})
	}
	b, _ := json.Marshal(set)
	return b
}

// Mint returns a valid token granting permissions. A nil permissions list
// still produces an (empty) permissions claim; use MintClaims to omit it.
func (i *Issuer) Mint(tb testing.TB, permissions ...string) string {
	tb.Helper()
	if permissions == nil {
		permissions = []string{}
	}
	return i.MintClaims(tb, jwt.MapClaims{"permissions": permissions})
}

// MintClaims signs claims with the current key. Missing iss, aud, sub and exp
// are filled with valid values; set a claim to nil to drop it.
func (i *Issuer) MintClaims(tb testing.TB, claims jwt.MapClaims) string {
	tb.Helper()
	now := time.Now()
	defaults := jwt.MapClaims{
		"iss": i.URL(),
		"aud": i.Audience,
		"sub": "auth0|tester",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	out := jwt.MapClaims{}
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range claims {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}

	i.mu.Lock()
	cur := i.keys[len(i.keys)-1]
	i.mu.Unlock()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, out)
	tok.Header["kid"] = cur.kid
	s, err := tok.SignedString(cur.key)
	if err != nil {
		tb.Fatalf("authtest: sign token: %v", err)
	}
	return s
}

// StaticVerifier accepts every token and returns fixed claims, or fails every
// token with Err when set.
type StaticVerifier struct {
	Subject     string
	Permissions []string
	Err         error
}

var _ auth.TokenVerifier = (*StaticVerifier)(nil)

// NewStaticVerifier grants permissions to any presented token.
func NewStaticVerifier(permissions ...string) *StaticVerifier {
	if permissions == nil {
		permissions = []string{}
	}
	return &StaticVerifier{Subject: "test-user", Permissions: permissions}
}

func (s *StaticVerifier) Verify(ctx context.Context, tok string) (*auth.Claims, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return &auth.Claims{
		Subject:        s.Subject,
		Permissions:    append([]string(nil), s.Permissions...),
		HasPermissions: s.Permissions != nil,
	}, nil
}
