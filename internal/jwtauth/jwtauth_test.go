package jwtauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/taskboard/taskboard-go/auth"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	tok, err := New(DefaultConfig([]byte("test-secret")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	want := auth.Identity{ID: 1, Username: "student"}
	signed, err := tok.Issue(want)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	got, err := tok.Verify(context.Background(), signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != want {
		t.Errorf("Verify identity = %+v, want %+v", got, want)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	// Zero leeway so a millisecond TTL expires immediately.
	tok, err := New(&Config{Secret: []byte("test-secret"), TTL: time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	signed, err := tok.Issue(auth.Identity{ID: 1, Username: "student"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, err := tok.Verify(context.Background(), signed); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("Verify expired token: got %v, want ErrUnauthorized", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer, _ := New(DefaultConfig([]byte("secret-a")))
	verifier, _ := New(DefaultConfig([]byte("secret-b")))

	signed, err := issuer.Issue(auth.Identity{ID: 1, Username: "student"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := verifier.Verify(context.Background(), signed); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("Verify with wrong secret: got %v, want ErrUnauthorized", err)
	}
}

func TestVerifyRejectsEmptyToken(t *testing.T) {
	tok, _ := New(DefaultConfig([]byte("test-secret")))
	if _, err := tok.Verify(context.Background(), ""); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("Verify(\"\"): got %v, want ErrUnauthorized", err)
	}
}
