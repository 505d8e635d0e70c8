// Package auth defines the identity model and the collaborator
// contracts the core depends on for credential and token handling.
// Implementations live elsewhere (creds, internal/jwtauth); the core
// only sees these interfaces.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthorized indicates authentication failed or no valid
// credentials were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInvalidCredentials indicates a username/password pair did not
// resolve to an identity.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrUpstream indicates a credential or token collaborator failed for
// a reason unrelated to the supplied input.
var ErrUpstream = errors.New("upstream auth failure")

// Identity is an authenticated principal. It is resolved once at login
// (or token verification) and never mutated afterwards.
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// CredentialVerifier resolves a username/password pair to an identity.
// Implementations should return ErrInvalidCredentials for unknown
// users or mismatched passwords and ErrUpstream for their own faults.
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) (Identity, error)
}

// TokenIssuer mints an opaque bearer token embedding the identity.
// Tokens carry a fixed TTL; expiry is enforced by the verifier.
type TokenIssuer interface {
	Issue(identity Identity) (token string, err error)
}

// TokenVerifier validates a bearer token and recovers the identity it
// was issued for. Expired or tampered tokens yield ErrUnauthorized.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Tokens combines issuance and verification, the shape most callers
// want when wiring a single token collaborator.
type Tokens interface {
	TokenIssuer
	TokenVerifier
}
