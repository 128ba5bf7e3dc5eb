package token

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndValidate(t *testing.T) {
	issuer, err := NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}

	signed, err := issuer.Issue("user-123")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := issuer.Validate(signed)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.UserID != "user-123" {
		t.Errorf("UserID = %q, want user-123", claims.UserID)
	}

	ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if ttl != time.Hour {
		t.Errorf("token ttl = %v, want 1h", ttl)
	}
}

func TestIssueRequiresUserID(t *testing.T) {
	issuer, err := NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}

	if _, err := issuer.Issue(""); err == nil {
		t.Error("Issue(\"\") succeeded, want error")
	}
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	if _, err := NewIssuer(""); err == nil {
		t.Error("NewIssuer(\"\") succeeded, want error")
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	issuer, err := NewIssuer("test-secret", WithClock(func() time.Time { return issued }))
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	signed, err := issuer.Issue("user-123")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	later, err := NewIssuer("test-secret", WithClock(func() time.Time { return issued.Add(2 * time.Hour) }))
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	if _, err := later.Validate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate() of expired token error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer, _ := NewIssuer("secret-a")
	other, _ := NewIssuer("secret-b")

	signed, err := issuer.Issue("user-123")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := other.Validate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate() with wrong secret error = %v, want ErrInvalidToken", err)
	}
}
