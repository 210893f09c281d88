package crypto

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	userID := NewUUIDv7()

	signed, claims, err := issuer.Issue(userID)
	if err != nil {
		t.Fatal(err)
	}
	if claims.ID == "" {
		t.Fatal("expected token id")
	}

	parsed, err := issuer.Parse(signed)
	if err != nil {
		t.Fatal(err)
	}
	got, err := parsed.UserID()
	if err != nil {
		t.Fatal(err)
	}
	if got != userID {
		t.Fatalf("expected %s, got %s", userID, got)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	signed, _, err := NewTokenIssuer("a", time.Hour).Issue(uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewTokenIssuer("b", time.Hour).Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenExpired(t *testing.T) {
	issuer := NewTokenIssuer("secret", -time.Minute)
	signed, _, err := issuer.Issue(uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuer.Parse(signed); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestTokenRejectsOtherAlgorithms(t *testing.T) {
	claims := jwt.RegisteredClaims{
		ID:        "t1",
		Subject:   uuid.New().String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	issuer := NewTokenIssuer("secret", time.Hour)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuer.Parse(hs512); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("HS512: expected ErrInvalidToken, got %v", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuer.Parse(none); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("none: expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenWithoutExpiry(t *testing.T) {
	claims := jwt.RegisteredClaims{ID: "t1", Subject: uuid.New().String()}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewTokenIssuer("secret", time.Hour).Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if err := CheckPassword(hash, "hunter2"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if err := CheckPassword(hash, "hunter3"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestNewUUIDv7(t *testing.T) {
	if v := NewUUIDv7().Version(); v != 7 {
		t.Fatalf("expected version 7, got %d", v)
	}
}
