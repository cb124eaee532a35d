package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/ggoodman/casting-api/internal/wellknown"
)

// DiscoverJWKSURL resolves the issuer's jwks_uri through OpenID Connect
// discovery. The issuer in the returned document must match issuer exactly.
func DiscoverJWKSURL(ctx context.Context, issuer string, client *http.Client) (string, error) {
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return "", fmt.Errorf("auth: failed to create OIDC provider: %w", err)
	}

	var asm wellknown.AuthServerMetadata
	if err := provider.Claims(&asm); err != nil {
		return "", fmt.Errorf("auth: unexpected or invalid authorization server metadata: %w", err)
	}
	if asm.JwksURI == "" {
		return "", fmt.Errorf("auth: issuer %q does not declare a jwks_uri", issuer)
	}
	return asm.JwksURI, nil
}
