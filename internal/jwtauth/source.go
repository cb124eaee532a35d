package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	jose "github.com/go-jose/go-jose/v4"
)

// maxJWKSBytes caps how much of a key set response is read.
const maxJWKSBytes = 1 << 20

// SigningKey is a public verification key published in a JWKS document.
type SigningKey struct {
	KID       string
	Algorithm string // empty if the JWK does not declare one
	Key       any
}

// KeySource loads a complete key set, indexed by key id.
//
// Implementations MUST return an error wrapping ErrKeySetUnavailable for any
// transport, status, or parse failure.
type KeySource interface {
	FetchKeys(ctx context.Context) (map[string]SigningKey, error)
}

// KeySourceFunc adapts a function to the KeySource interface.
type KeySourceFunc func(ctx context.Context) (map[string]SigningKey, error)

func (f KeySourceFunc) FetchKeys(ctx context.Context) (map[string]SigningKey, error) { return f(ctx) }

// HTTPSource fetches a JWKS document from a remote endpoint.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource returns a KeySource reading the JWKS document at jwksURL. A
// nil client means http.DefaultClient; request deadlines come from the
// context supplied by the caller.
func NewHTTPSource(jwksURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{url: jwksURL, client: client}
}

func (s *HTTPSource) FetchKeys(ctx context.Context) (map[string]SigningKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrKeySetUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrKeySetUnavailable, s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch %s: unexpected status %d", ErrKeySetUnavailable, s.url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrKeySetUnavailable, s.url, err)
	}
	return ParseKeySet(body)
}

// FileSource reads a JWKS document from the local filesystem. It is meant for
// deployments that distribute the provider's public keys out of band.
type FileSource struct {
	path string
}

// NewFileSource returns a KeySource reading the JWKS document at path.
func NewFileSource(path string) *FileSource { return &FileSource{path: path} }

func (s *FileSource) FetchKeys(ctx context.Context) (map[string]SigningKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrKeySetUnavailable, s.path, err)
	}
	return ParseKeySet(raw)
}

// ParseKeySet decodes a JWKS document. Entries without a key id, entries
// whose "use" is set to something other than "sig", symmetric keys, and key
// types go-jose does not understand are skipped. A document that yields no
// usable key is rejected.
func ParseKeySet(raw []byte) (map[string]SigningKey, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode jwks: %v", ErrKeySetUnavailable, err)
	}
	if doc.Keys == nil {
		return nil, fmt.Errorf("%w: jwks document has no keys field", ErrKeySetUnavailable)
	}

	keys := make(map[string]SigningKey, len(doc.Keys))
	for _, entry := range doc.Keys {
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON(entry); err != nil {
			continue
		}
		if jwk.KeyID == "" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		pub := jwk.Public()
		if pub.Key == nil || !pub.Valid() {
			continue
		}
		keys[jwk.KeyID] = SigningKey{KID: jwk.KeyID, Algorithm: jwk.Algorithm, Key: pub.Key}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: jwks document contains no usable signing keys", ErrKeySetUnavailable)
	}
	return keys, nil
}

// asUnavailable guarantees that source failures carry ErrKeySetUnavailable.
func asUnavailable(err error) error {
	if errors.Is(err, ErrKeySetUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
}
