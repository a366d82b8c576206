package service

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func initTestAuth(t *testing.T, expiry time.Duration) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	InitAuthConfig(AuthConfig{
		JWTSecret:         []byte("test-signing-key"),
		Username:          "admin",
		PasswordHash:      string(hash),
		AccessTokenExpiry: expiry,
	})
}

func TestAuthenticate(t *testing.T) {
	initTestAuth(t, time.Hour)

	if err := Authenticate("admin", "s3cret"); err != nil {
		t.Fatalf("valid credentials rejected: %v", err)
	}
	if err := Authenticate("admin", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := Authenticate("nobody", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	initTestAuth(t, time.Hour)

	token, err := GenerateAccessToken("admin")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	claims, err := ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("failed to validate token: %v", err)
	}
	if claims.Username != "admin" {
		t.Fatalf("got username %q", claims.Username)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	initTestAuth(t, -time.Minute)

	token, err := GenerateAccessToken("admin")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	if _, err := ValidateAccessToken(token); err == nil {
		t.Fatalf("expired token must be rejected")
	}
}
