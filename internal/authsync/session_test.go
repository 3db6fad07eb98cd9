package authsync

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestUserIDFromToken(t *testing.T) {
	t.Parallel()
	tok := signedToken(t, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	id, err := UserIDFromToken(tok)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if id != "user-42" {
		t.Fatalf("expected user-42, got %q", id)
	}
}

func TestUserIDFromTokenRejectsBadInput(t *testing.T) {
	t.Parallel()
	if _, err := UserIDFromToken(""); err == nil {
		t.Fatalf("empty token must fail")
	}
	if _, err := UserIDFromToken("not-a-jwt"); err == nil {
		t.Fatalf("garbage must fail")
	}
	noSub := signedToken(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	if _, err := UserIDFromToken(noSub); err == nil {
		t.Fatalf("token without subject must fail")
	}
}
