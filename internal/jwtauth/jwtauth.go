// Package jwtauth implements the token collaborator with locally
// issued HS256 JWTs. Tokens embed the identity (id, username) and a
// fixed TTL; verification enforces signature, algorithm, and expiry.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/taskboard/taskboard-go/auth"
)

// Config controls issuance and validation behavior.
type Config struct {
	// Secret is the symmetric signing key. Required.
	Secret []byte
	// TTL is the token lifetime. Defaults to one hour.
	TTL time.Duration
	// Leeway tolerates clock skew during validation.
	Leeway time.Duration
}

// DefaultConfig returns a Config with the default TTL and leeway.
func DefaultConfig(secret []byte) *Config {
	return &Config{Secret: secret, TTL: time.Hour, Leeway: 30 * time.Second}
}

// Tokens issues and verifies bearer tokens for identities.
type Tokens struct {
	cfg    Config
	parser *jwt.Parser
}

// New constructs a Tokens collaborator from cfg.
func New(cfg *Config) (*Tokens, error) {
	if cfg == nil || len(cfg.Secret) == 0 {
		return nil, errors.New("signing secret is required")
	}
	c := *cfg
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	return &Tokens{
		cfg: c,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256"}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(c.Leeway),
		),
	}, nil
}

// TTL reports the configured token lifetime.
func (t *Tokens) TTL() time.Duration { return t.cfg.TTL }

// Issue mints a token for the identity, expiring after the configured
// TTL.
func (t *Tokens) Issue(id auth.Identity) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":       id.ID,
		"username": id.Username,
		"iat":      now.Unix(),
		"exp":      now.Add(t.cfg.TTL).Unix(),
	})
	signed, err := tok.SignedString(t.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("%w: signing failed: %v", auth.ErrUpstream, err)
	}
	return signed, nil
}

// Verify validates the token and recovers the embedded identity.
// Expired, malformed, or tampered tokens yield auth.ErrUnauthorized.
func (t *Tokens) Verify(ctx context.Context, token string) (auth.Identity, error) {
	if token == "" {
		return auth.Identity{}, fmt.Errorf("%w: empty token", auth.ErrUnauthorized)
	}

	parsed, err := t.parser.Parse(token, func(*jwt.Token) (any, error) {
		return t.cfg.Secret, nil
	})
	if err != nil {
		return auth.Identity{}, fmt.Errorf("%w: token parse/verify failed: %v", auth.ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return auth.Identity{}, fmt.Errorf("%w: invalid claims type", auth.ErrUnauthorized)
	}

	idf, _ := claims["id"].(float64)
	username, _ := claims["username"].(string)
	if username == "" {
		return auth.Identity{}, fmt.Errorf("%w: missing username claim", auth.ErrUnauthorized)
	}
	return auth.Identity{ID: int64(idf), Username: username}, nil
}

var _ auth.Tokens = (*Tokens)(nil)
