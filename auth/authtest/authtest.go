// Package authtest provides canned credential and token collaborators
// for tests and development environments.
package authtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/taskboard/taskboard-go/auth"
)

// Creds is a CredentialVerifier backed by a fixed username -> password
// map. Identities are assigned small sequential ids in registration
// order.
type Creds struct {
	mu    sync.Mutex
	users map[string]user
	next  int64
}

type user struct {
	id       int64
	password string
}

// NewCreds creates an empty credential set.
func NewCreds() *Creds {
	return &Creds{users: make(map[string]user)}
}

// Add registers a user with a plaintext password and returns its
// identity.
func (c *Creds) Add(username, password string) auth.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	c.users[username] = user{id: c.next, password: password}
	return auth.Identity{ID: c.next, Username: username}
}

func (c *Creds) Verify(ctx context.Context, username, password string) (auth.Identity, error) {
	c.mu.Lock()
	u, ok := c.users[username]
	c.mu.Unlock()
	if !ok || u.password != password {
		return auth.Identity{}, auth.ErrInvalidCredentials
	}
	return auth.Identity{ID: u.id, Username: username}, nil
}

// Tokens is an auth.Tokens implementation that encodes the identity
// directly in the token string. It performs no signing and must never
// be used outside tests.
type Tokens struct{}

func (Tokens) Issue(id auth.Identity) (string, error) {
	return fmt.Sprintf("test-token:%d:%s", id.ID, id.Username), nil
}

func (Tokens) Verify(ctx context.Context, token string) (auth.Identity, error) {
	var id auth.Identity
	if _, err := fmt.Sscanf(token, "test-token:%d:%s", &id.ID, &id.Username); err != nil {
		return auth.Identity{}, auth.ErrUnauthorized
	}
	return id, nil
}

var (
	_ auth.CredentialVerifier = (*Creds)(nil)
	_ auth.Tokens             = Tokens{}
)
