package authsync

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the host application's authenticated session. The bridge never
// owns auth state; it tells the session what the server pushed and lets the
// session apply it wholesale.
type Session interface {
	// Token returns the current access token, empty when logged out.
	Token() string

	// ReplaceAuthState swaps role, permissions and feature flags in one step.
	// Partial application is not allowed; stale entries must not survive.
	ReplaceAuthState(role string, permissions map[string]bool, features map[string]bool)

	// Logout terminates the session. reason is surfaced to the user.
	Logout(reason string)
}

// UserIDFromToken extracts the subject claim without verifying the signature.
// The token was already accepted by the server; we only need the id to key
// local per-user storage.
func UserIDFromToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("authsync: empty token")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", err
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("authsync: token has no subject")
	}
	return sub, nil
}
