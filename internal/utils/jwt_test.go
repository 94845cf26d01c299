package utils

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndParse_AccessToken(t *testing.T) {
	t.Parallel()

	codec := NewTokenCodec("super-secret", 15, 14)

	tok, err := codec.NewAccessToken(42, "COMMON")
	if err != nil {
		t.Fatalf("NewAccessToken error: %v", err)
	}
	if tok.Token == "" {
		t.Fatal("empty token string")
	}
	if !tok.Exp.After(time.Now().UTC()) {
		t.Fatalf("expiry not in the future: %v", tok.Exp)
	}

	claims, err := codec.Parse(tok.Token)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if claims.UserID != 42 {
		t.Fatalf("user id mismatch: got %d want 42", claims.UserID)
	}
	if claims.Role != "COMMON" {
		t.Fatalf("role mismatch: got %q", claims.Role)
	}
	if claims.TokenType != TokenTypeAccess {
		t.Fatalf("token type mismatch: got %q", claims.TokenType)
	}
}

func TestParse_RefreshCarriesRefreshType(t *testing.T) {
	t.Parallel()

	codec := NewTokenCodec("super-secret", 15, 14)

	tok, err := codec.NewRefreshToken(7, "PREMIUM")
	if err != nil {
		t.Fatalf("NewRefreshToken error: %v", err)
	}
	claims, err := codec.Parse(tok.Token)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if claims.TokenType != TokenTypeRefresh {
		t.Fatalf("expected refresh type, got %q", claims.TokenType)
	}
	if claims.Role != "PREMIUM" {
		t.Fatalf("role mismatch: got %q", claims.Role)
	}
}

func TestParse_Expired(t *testing.T) {
	t.Parallel()

	// Negative TTL produces an already-expired token.
	codec := NewTokenCodec("secret", -1, 14)

	tok, err := codec.NewAccessToken(1, "COMMON")
	if err != nil {
		t.Fatalf("NewAccessToken error: %v", err)
	}
	_, err = codec.Parse(tok.Token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestParse_WrongSecret(t *testing.T) {
	t.Parallel()

	issuer := NewTokenCodec("right-secret", 15, 14)
	verifier := NewTokenCodec("wrong-secret", 15, 14)

	tok, err := issuer.NewAccessToken(1, "COMMON")
	if err != nil {
		t.Fatalf("NewAccessToken error: %v", err)
	}
	_, err = verifier.Parse(tok.Token)
	if !errors.Is(err, ErrTokenSignatureInvalid) {
		t.Fatalf("expected ErrTokenSignatureInvalid, got %v", err)
	}
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()

	codec := NewTokenCodec("k", 15, 14)

	for _, raw := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := codec.Parse(raw); !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("Parse(%q): expected ErrTokenMalformed, got %v", raw, err)
		}
	}
}

func TestHashRefreshRaw(t *testing.T) {
	t.Parallel()

	h1 := HashRefreshRaw("token-a")
	h2 := HashRefreshRaw("token-a")
	h3 := HashRefreshRaw("token-b")

	if h1 != h2 {
		t.Fatal("hash not deterministic for identical input")
	}
	if h1 == h3 {
		t.Fatal("distinct inputs collided")
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h1))
	}
}
