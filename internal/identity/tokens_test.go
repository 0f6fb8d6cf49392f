package identity

import (
	"errors"
	"testing"
	"time"
)

func TestIDTokenRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", "portalgate", time.Minute)
	if err != nil {
		t.Fatalf("NewTokenIssuer() error: %v", err)
	}
	raw, err := issuer.IDToken(Record{UID: "u-1", Email: "ana@campus.edu", DisplayName: "Ana", EmailVerified: true})
	if err != nil {
		t.Fatalf("IDToken() error: %v", err)
	}

	claims, err := issuer.Parse(raw, PurposeID)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if claims.Subject != "u-1" || claims.Email != "ana@campus.edu" || !claims.EmailVerified || claims.Name != "Ana" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Issuer != "portalgate" {
		t.Fatalf("expected issuer portalgate, got %q", claims.Issuer)
	}
}

func TestParseRejectsExpiredAndForeignTokens(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", "portalgate", time.Minute)
	if err != nil {
		t.Fatalf("NewTokenIssuer() error: %v", err)
	}
	fakeNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer.nowFunc = func() time.Time { return fakeNow }

	raw, err := issuer.IDToken(Record{UID: "u-1"})
	if err != nil {
		t.Fatalf("IDToken() error: %v", err)
	}

	issuer.nowFunc = func() time.Time { return fakeNow.Add(2 * time.Minute) }
	if _, err := issuer.Parse(raw, PurposeID); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}

	other, err := NewTokenIssuer("other-secret", "portalgate", time.Minute)
	if err != nil {
		t.Fatalf("NewTokenIssuer() error: %v", err)
	}
	other.nowFunc = func() time.Time { return fakeNow }
	issuer.nowFunc = func() time.Time { return fakeNow }
	foreign, err := other.IDToken(Record{UID: "u-1"})
	if err != nil {
		t.Fatalf("IDToken() error: %v", err)
	}
	if _, err := issuer.Parse(foreign, PurposeID); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected foreign signature to fail, got %v", err)
	}
	if _, err := issuer.Parse(raw, PurposeReset); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected purpose mismatch to fail, got %v", err)
	}
}

func TestNewTokenIssuerValidation(t *testing.T) {
	if _, err := NewTokenIssuer("", "portalgate", time.Minute); err == nil {
		t.Fatalf("expected error for empty secret")
	}
	if _, err := NewTokenIssuer("secret", "portalgate", 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}
