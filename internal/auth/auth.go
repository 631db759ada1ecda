// Package auth verifies the self-signed bearer tokens presented by signing
// clients. A client holds an ECDSA credential and signs a short-lived JWT
// with it, putting the credential fingerprint in the kid header. The server
// trusts exactly the public keys it has been given; there is no certificate
// authority or discovery step.
package auth

import (
	"context"
)

// Issuer identifies tokens minted by the signing CLI.
const Issuer = "inkseal-cli"

// Principal is the authenticated identity attached to a request after
// successful token verification.
type Principal struct {
	// Subject is the token's sub claim, typically the credential name.
	Subject string

	// Fingerprint identifies the public key that verified the token.
	Fingerprint string
}

type contextKey int

const principalContextKey contextKey = iota

// PrincipalFromContext returns the authenticated principal, or nil for an
// unauthenticated request.
func PrincipalFromContext(ctx context.Context) *Principal {
	principal, _ := ctx.Value(principalContextKey).(*Principal)
	return principal
}

func withPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}
