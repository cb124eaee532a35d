package jwtauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

const (
	testIssuer   = "https://issuer.example.com/"
	testAudience = "casting"
)

type mockJWKS struct {
	srv   *httptest.Server
	mu    sync.Mutex
	body  []byte
	code  int
	delay time.Duration
	hits  atomic.Int64
}

func newMockJWKS(t *testing.T, body []byte) *mockJWKS {
	t.Helper()
	m := &mockJWKS{body: body, code: http.StatusOK}
	m.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.hits.Add(1)
		m.mu.Lock()
		body, code, delay := m.body, m.code, m.delay
		m.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write(body)
	}))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *mockJWKS) set(body []byte, code int) {
	m.mu.Lock()
	m.body, m.code = body, code
	m.mu.Unlock()
}

func genRSA(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	return pk
}

func jwksJSON(t *testing.T, keys map[string]*rsa.PrivateKey) []byte {
	t.Helper()
	set := jose.JSONWebKeySet{}
	for kid, pk := range keys {
		set.Keys = append(set.Keys, jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"})
	}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return b
}

func signToken(t *testing.T, pk *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(pk)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func baseClaims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":         testIssuer,
		"sub":         "auth0|actor-admin",
		"aud":         []string{testAudience, "https://issuer.example.com/userinfo"},
		"iat":         now.Unix(),
		"exp":         now.Add(time.Hour).Unix(),
		"permissions": []string{"get:actors", "get:movies"},
	}
}

type fixture struct {
	pk       *rsa.PrivateKey
	jwks     *mockJWKS
	cache    *KeySetCache
	verifier *Verifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pk := genRSA(t)
	m := newMockJWKS(t, jwksJSON(t, map[string]*rsa.PrivateKey{"k1": pk}))
	cache := NewKeySetCache(NewHTTPSource(m.srv.URL, m.srv.Client()))
	cfg := DefaultConfig()
	cfg.Issuer = testIssuer
	cfg.Audience = testAudience
	v, err := NewVerifier(cfg, cache)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return &fixture{pk: pk, jwks: m, cache: cache, verifier: v}
}

func TestVerifier_HappyPath(t *testing.T) {
	f := newFixture(t)
	tok := signToken(t, f.pk, "k1", baseClaims(time.Now()))

	c, err := f.verifier.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if c.Subject != "auth0|actor-admin" {
		t.Fatalf("want sub auth0|actor-admin, got %q", c.Subject)
	}
	if !c.HasPermissions || !reflect.DeepEqual(c.Permissions, []string{"get:actors", "get:movies"}) {
		t.Fatalf("permissions mismatch: %v (present=%v)", c.Permissions, c.HasPermissions)
	}

	var raw struct {
		Permissions []string `json:"permissions"`
	}
	if err := c.Raw(&raw); err != nil {
		t.Fatalf("raw: %v", err)
	}
	if len(raw.Permissions) != 2 {
		t.Fatalf("raw roundtrip mismatch: %v", raw.Permissions)
	}
}

func TestVerifier_Idempotent(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.verifier.now = func() time.Time { return now }
	tok := signToken(t, f.pk, "k1", baseClaims(now))

	a, err := f.verifier.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("first verify: %v", err)
	}
	b, err := f.verifier.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("claims differ between runs:\n%+v\n%+v", a, b)
	}
	if hits := f.jwks.hits.Load(); hits != 1 {
		t.Fatalf("want a single jwks fetch, got %d", hits)
	}
}

func TestVerifier_Failures(t *testing.T) {
	f := newFixture(t)
	other := genRSA(t)
	now := time.Now()

	with := func(mut func(jwt.MapClaims)) jwt.MapClaims {
		c := baseClaims(now)
		mut(c)
		return c
	}
	hsTok := jwt.NewWithClaims(jwt.SigningMethodHS256, baseClaims(now))
	hsTok.Header["kid"] = "k1"
	hs256, err := hsTok.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign hs256: %v", err)
	}
	good := strings.Split(signToken(t, f.pk, "k1", baseClaims(now)), ".")
	notJSON := base64.RawURLEncoding.EncodeToString([]byte("not json"))
	noneTok := func() string {
		tk := jwt.NewWithClaims(jwt.SigningMethodNone, baseClaims(now))
		tk.Header["kid"] = "k1"
		s, err := tk.SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatalf("sign none: %v", err)
		}
		return s
	}()

	tests := []struct {
		name string
		tok  string
		want error
	}{
		{"not a jwt", "abc", ErrInvalidHeader},
		{"empty segment", "a..c", ErrInvalidHeader},
		{"header not json", "bm90anNvbg.e30.sig", ErrInvalidHeader},
		{"missing kid", signToken(t, f.pk, "", baseClaims(now)), ErrInvalidHeader},
		{"alg none", noneTok, ErrInvalidHeader},
		{"alg hs256", hs256, ErrInvalidHeader},
		{"payload not base64url", good[0] + ".!!!not*base64!!!." + good[2], ErrInvalidHeader},
		{"payload not json", good[0] + "." + notJSON + "." + good[2], ErrInvalidHeader},
		{"signature not base64url", good[0] + "." + good[1] + ".!!!", ErrInvalidHeader},
		{"wrong signing key", signToken(t, other, "k1", baseClaims(now)), ErrInvalidToken},
		{"tampered payload", tamper(t, signToken(t, f.pk, "k1", baseClaims(now))), ErrInvalidToken},
		{"expired", signToken(t, f.pk, "k1", with(func(c jwt.MapClaims) { c["exp"] = now.Unix() - 1 })), ErrExpiredToken},
		{"not yet valid", signToken(t, f.pk, "k1", with(func(c jwt.MapClaims) { c["nbf"] = now.Add(time.Hour).Unix() })), ErrExpiredToken},
		{"missing exp", signToken(t, f.pk, "k1", with(func(c jwt.MapClaims) { delete(c, "exp") })), ErrInvalidClaims},
		{"issuer mismatch", signToken(t, f.pk, "k1", with(func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com/" })), ErrInvalidClaims},
		{"audience mismatch", signToken(t, f.pk, "k1", with(func(c jwt.MapClaims) { c["aud"] = "someone-else" })), ErrInvalidClaims},
		{"unknown kid", signToken(t, f.pk, "k2", baseClaims(now)), ErrKeyNotFound},
		{"permissions wrong type", signToken(t, f.pk, "k1", with(func(c jwt.MapClaims) { c["permissions"] = "get:actors" })), ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.verifier.Verify(context.Background(), tt.tok)
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
}

func TestVerifier_MalformedTokenSkipsKeyLookup(t *testing.T) {
	f := newFixture(t)
	parts := strings.Split(signToken(t, f.pk, "unknown", baseClaims(time.Now())), ".")

	for name, tok := range map[string]string{
		"payload":   parts[0] + ".!!!." + parts[2],
		"signature": parts[0] + "." + parts[1] + ".***",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.verifier.Verify(context.Background(), tok)
			if !errors.Is(err, ErrInvalidHeader) {
				t.Fatalf("want %v, got %v", ErrInvalidHeader, err)
			}
		})
	}
	if hits := f.jwks.hits.Load(); hits != 0 {
		t.Fatalf("malformed tokens triggered %d JWKS fetches", hits)
	}
}

func tamper(t *testing.T, tok string) string {
	t.Helper()
	parts := strings.Split(tok, ".")
	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m["permissions"] = []string{"delete:movies"}
	b, _ := json.Marshal(m)
	parts[1] = base64.RawURLEncoding.EncodeToString(b)
	return strings.Join(parts, ".")
}

func TestVerifier_MissingPermissionsClaim(t *testing.T) {
	f := newFixture(t)
	c := baseClaims(time.Now())
	delete(c, "permissions")

	out, err := f.verifier.Verify(context.Background(), signToken(t, f.pk, "k1", c))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.HasPermissions {
		t.Fatalf("expected HasPermissions=false when claim is absent")
	}

	c["permissions"] = []string{}
	out, err = f.verifier.Verify(context.Background(), signToken(t, f.pk, "k1", c))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !out.HasPermissions || len(out.Permissions) != 0 {
		t.Fatalf("expected present but empty permissions, got %v (present=%v)", out.Permissions, out.HasPermissions)
	}
}

func TestVerifier_Leeway(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	c := baseClaims(now)
	c["exp"] = now.Add(-10 * time.Second).Unix()
	tok := signToken(t, f.pk, "k1", c)

	if _, err := f.verifier.Verify(context.Background(), tok); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("want ErrExpiredToken with zero leeway, got %v", err)
	}

	cfg := DefaultConfig()
	cfg.Issuer = testIssuer
	cfg.Audience = testAudience
	cfg.Leeway = time.Minute
	lenient, err := NewVerifier(cfg, f.cache)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if _, err := lenient.Verify(context.Background(), tok); err != nil {
		t.Fatalf("verify with leeway: %v", err)
	}
}

func TestNewVerifier_RejectsBadConfig(t *testing.T) {
	cache := NewKeySetCache(KeySourceFunc(func(context.Context) (map[string]SigningKey, error) { return nil, nil }))
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil", nil},
		{"no issuer", &Config{Audience: "a", Algorithm: "RS256"}},
		{"no audience", &Config{Issuer: "i", Algorithm: "RS256"}},
		{"no alg", &Config{Issuer: "i", Audience: "a"}},
		{"none", &Config{Issuer: "i", Audience: "a", Algorithm: "none"}},
		{"symmetric", &Config{Issuer: "i", Audience: "a", Algorithm: "HS256"}},
		{"unknown", &Config{Issuer: "i", Audience: "a", Algorithm: "XX999"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewVerifier(tt.cfg, cache); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestKeySetCache_MissRefreshesExactlyOnce(t *testing.T) {
	pk := genRSA(t)
	var fetches atomic.Int64
	src := KeySourceFunc(func(context.Context) (map[string]SigningKey, error) {
		fetches.Add(1)
		return map[string]SigningKey{"k1": {KID: "k1", Key: &pk.PublicKey}}, nil
	})
	cache := NewKeySetCache(src)
	ctx := context.Background()

	if _, err := cache.Key(ctx, "k1"); err != nil {
		t.Fatalf("prime: %v", err)
	}
	if got := fetches.Load(); got != 1 {
		t.Fatalf("want 1 fetch after prime, got %d", got)
	}

	_, err := cache.Key(ctx, "missing")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("want ErrKeyNotFound, got %v", err)
	}
	if got := fetches.Load(); got != 2 {
		t.Fatalf("want exactly one refresh on miss (2 fetches), got %d", got)
	}

	// Cached hit does not fetch.
	if _, err := cache.Key(ctx, "k1"); err != nil {
		t.Fatalf("hit: %v", err)
	}
	if got := fetches.Load(); got != 2 {
		t.Fatalf("hit should not fetch, got %d fetches", got)
	}
}

func TestKeySetCache_ColdMissFetchesOnce(t *testing.T) {
	var fetches atomic.Int64
	src := KeySourceFunc(func(context.Context) (map[string]SigningKey, error) {
		fetches.Add(1)
		return map[string]SigningKey{"k1": {KID: "k1"}}, nil
	})
	cache := NewKeySetCache(src)
	if _, err := cache.Key(context.Background(), "missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("want ErrKeyNotFound, got %v", err)
	}
	if got := fetches.Load(); got != 1 {
		t.Fatalf("cold miss should fetch once, got %d", got)
	}
}

func TestKeySetCache_RotationPickedUpOnMiss(t *testing.T) {
	old, rotated := genRSA(t), genRSA(t)
	m := newMockJWKS(t, jwksJSON(t, map[string]*rsa.PrivateKey{"old": old}))
	cache := NewKeySetCache(NewHTTPSource(m.srv.URL, m.srv.Client()))
	ctx := context.Background()

	if _, err := cache.Key(ctx, "old"); err != nil {
		t.Fatalf("prime: %v", err)
	}
	m.set(jwksJSON(t, map[string]*rsa.PrivateKey{"old": old, "new": rotated}), http.StatusOK)

	k, err := cache.Key(ctx, "new")
	if err != nil {
		t.Fatalf("rotated key lookup: %v", err)
	}
	if k.KID != "new" || k.Algorithm != "RS256" {
		t.Fatalf("unexpected key %+v", k)
	}
}

func TestKeySetCache_MaxRefreshes(t *testing.T) {
	var fetches atomic.Int64
	src := KeySourceFunc(func(context.Context) (map[string]SigningKey, error) {
		fetches.Add(1)
		return map[string]SigningKey{"k1": {KID: "k1"}}, nil
	})
	cache := NewKeySetCache(src, WithMaxRefreshes(0))
	ctx := context.Background()
	if _, err := cache.Key(ctx, "k1"); err != nil {
		t.Fatalf("prime: %v", err)
	}
	if _, err := cache.Key(ctx, "missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("want ErrKeyNotFound, got %v", err)
	}
	if got := fetches.Load(); got != 1 {
		t.Fatalf("refresh disabled, want 1 fetch, got %d", got)
	}
}

func TestKeySetCache_Unavailable(t *testing.T) {
	ctx := context.Background()

	t.Run("server error", func(t *testing.T) {
		m := newMockJWKS(t, []byte(`oops`))
		m.set([]byte(`oops`), http.StatusInternalServerError)
		cache := NewKeySetCache(NewHTTPSource(m.srv.URL, m.srv.Client()))
		if _, err := cache.Key(ctx, "k1"); !errors.Is(err, ErrKeySetUnavailable) {
			t.Fatalf("want ErrKeySetUnavailable, got %v", err)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		m := newMockJWKS(t, []byte(`{"keys": [`))
		cache := NewKeySetCache(NewHTTPSource(m.srv.URL, m.srv.Client()))
		if _, err := cache.Key(ctx, "k1"); !errors.Is(err, ErrKeySetUnavailable) {
			t.Fatalf("want ErrKeySetUnavailable, got %v", err)
		}
	})

	t.Run("missing keys field", func(t *testing.T) {
		m := newMockJWKS(t, []byte(`{"foo": []}`))
		cache := NewKeySetCache(NewHTTPSource(m.srv.URL, m.srv.Client()))
		if _, err := cache.Key(ctx, "k1"); !errors.Is(err, ErrKeySetUnavailable) {
			t.Fatalf("want ErrKeySetUnavailable, got %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		m := newMockJWKS(t, jwksJSON(t, map[string]*rsa.PrivateKey{"k1": genRSA(t)}))
		m.mu.Lock()
		m.delay = 2 * time.Second
		m.mu.Unlock()
		cache := NewKeySetCache(NewHTTPSource(m.srv.URL, m.srv.Client()), WithFetchTimeout(50*time.Millisecond))
		start := time.Now()
		if _, err := cache.Key(ctx, "k1"); !errors.Is(err, ErrKeySetUnavailable) {
			t.Fatalf("want ErrKeySetUnavailable, got %v", err)
		}
		if time.Since(start) > time.Second {
			t.Fatalf("fetch was not bounded by timeout")
		}
	})

	t.Run("generic source error is classified", func(t *testing.T) {
		cache := NewKeySetCache(KeySourceFunc(func(context.Context) (map[string]SigningKey, error) {
			return nil, errors.New("boom")
		}))
		if _, err := cache.Key(ctx, "k1"); !errors.Is(err, ErrKeySetUnavailable) {
			t.Fatalf("want ErrKeySetUnavailable, got %v", err)
		}
	})
}

func TestKeySetCache_ConcurrentMissesCoalesce(t *testing.T) {
	var fetches atomic.Int64
	release := make(chan struct{})
	src := KeySourceFunc(func(context.Context) (map[string]SigningKey, error) {
		fetches.Add(1)
		<-release
		return map[string]SigningKey{"k1": {KID: "k1"}}, nil
	})
	cache := NewKeySetCache(src)

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Key(context.Background(), "k1")
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
	}
	// Perfect coalescing is not required; boundedness is.
	if got := fetches.Load(); got < 1 || got > 2 {
		t.Fatalf("want coalesced fetches, got %d", got)
	}
}

func TestParseKeySet_SkipsUnusableEntries(t *testing.T) {
	pk := genRSA(t)
	good := jose.JSONWebKey{Key: &pk.PublicKey, KeyID: "good", Algorithm: "RS256", Use: "sig"}
	enc := jose.JSONWebKey{Key: &pk.PublicKey, KeyID: "enc", Algorithm: "RSA-OAEP", Use: "enc"}
	noKid := jose.JSONWebKey{Key: &pk.PublicKey, Algorithm: "RS256", Use: "sig"}
	priv := jose.JSONWebKey{Key: pk, KeyID: "priv", Algorithm: "RS256", Use: "sig"}

	entries := []json.RawMessage{}
	for _, k := range []jose.JSONWebKey{good, enc, noKid, priv} {
		b, err := json.Marshal(k)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		entries = append(entries, b)
	}
	entries = append(entries, json.RawMessage(`{"kty":"oct","kid":"hmac","k":"c2VjcmV0"}`), json.RawMessage(`{"kty":"weird","kid":"x"}`))
	doc, _ := json.Marshal(map[string]any{"keys": entries})

	keys, err := ParseKeySet(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := keys["good"]; !ok {
		t.Fatalf("good key missing: %v", keys)
	}
	if _, ok := keys["priv"].Key.(*rsa.PublicKey); !ok {
		t.Fatalf("private JWK should be reduced to its public half, got %T", keys["priv"].Key)
	}
	for _, kid := range []string{"enc", "hmac", "x"} {
		if _, ok := keys[kid]; ok {
			t.Fatalf("key %q should have been skipped", kid)
		}
	}
}

func TestFileSource_WatchInvalidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jwks.json")
	first, second := genRSA(t), genRSA(t)
	if err := os.WriteFile(path, jwksJSON(t, map[string]*rsa.PrivateKey{"a": first}), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cache := NewKeySetCache(NewFileSource(path), WithMaxRefreshes(0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := cache.Key(ctx, "a"); err != nil {
		t.Fatalf("initial load: %v", err)
	}

	go func() { _ = WatchFile(ctx, path, cache, nil) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, jwksJSON(t, map[string]*rsa.PrivateKey{"b": second}), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := cache.Key(ctx, "b"); err == nil {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("cache never picked up rewritten key file")
}
