package httpapi

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	auth := NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour)

	token, expiresAt, err := auth.Issue("kasi", "cashier")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("token already expired")
	}

	actor, err := auth.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actor.Username != "kasi" || actor.Role != "cashier" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour)
	verifier := NewAuthManager("fedcba9876543210fedcba9876543210", time.Hour)

	token, _, err := issuer.Issue("kasi", "cashier")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.ParseToken(token); err == nil {
		t.Fatalf("expected verification failure with wrong secret")
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	auth := NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour)
	if _, err := auth.ParseToken("not.a.token"); err == nil {
		t.Fatalf("expected parse failure")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	auth := NewAuthManager("0123456789abcdef0123456789abcdef", time.Nanosecond)

	token, _, err := auth.Issue("kasi", "cashier")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := auth.ParseToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}
