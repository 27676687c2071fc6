package authtoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func TestParseValidToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		InstanceID: "host-1",
	}
	token := signedToken(t, claims)

	got, err := Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.InstanceID != "host-1" {
		t.Fatalf("InstanceID = %q, want host-1", got.InstanceID)
	}
}

func TestParseExpiredToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	token := signedToken(t, claims)

	if _, err := Parse(token); err != ErrExpired {
		t.Fatalf("Parse(expired) = %v, want ErrExpired", err)
	}
}

func TestParseMalformedToken(t *testing.T) {
	if _, err := Parse("not-a-jwt"); err == nil {
		t.Fatal("Parse accepted a non-JWT string")
	}
}

func TestValidateEmptyKey(t *testing.T) {
	if err := Validate(""); err == nil {
		t.Fatal("Validate accepted an empty apiKey")
	}
}
