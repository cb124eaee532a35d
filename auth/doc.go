// Package auth authorizes API requests carrying bearer tokens issued by an
// external OAuth 2.0 / OIDC authorization server.
//
// A request passes through three stages, and stops at the first failure:
//
//  1. ExtractBearer pulls the token from the Authorization header.
//  2. A TokenVerifier checks the token's signature against the issuer's
//     published key set, then its issuer, audience and time window.
//  3. CheckPermission looks for the route's permission string in the token's
//     "permissions" claim.
//
// Guard composes the three. Its Require method returns per-route middleware:
//
//	v, err := auth.NewVerifier(ctx, cfg)
//	if err != nil { log.Fatal(err) }
//	g := auth.NewGuard(v)
//	r.With(g.Require("get:actors")).Get("/actors", listActors)
//
// # Errors
//
// Every rejection is an *Error carrying a Kind, the HTTP status it maps to and
// a caller-safe description. Use errors.Is with the Err* sentinels to test a
// kind. WriteError renders the API's JSON envelope along with an RFC 6750
// WWW-Authenticate challenge on 401 and 403.
//
// # Keys
//
// Signing keys are cached in memory. A token naming an unknown kid triggers a
// bounded refresh of the key set (one by default, see Config.MaxRefreshes);
// concurrent misses share a single fetch.
package auth
