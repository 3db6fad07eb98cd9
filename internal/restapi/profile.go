package restapi

import (
	"context"
	"net/http"
)

// Profile is the authoritative authorization state for the session user.
type Profile struct {
	Role        string          `json:"role"`
	Permissions map[string]bool `json:"permissions"`
	Features    map[string]bool `json:"features"`
}

// Profile fetches the authoritative permission set. The Authorization Sync
// Bridge calls this whenever the server signals a change; the result replaces
// session auth state wholesale.
func (c *Client) Profile(ctx context.Context) (Profile, error) {
	var p Profile
	if err := c.doJSON(ctx, http.MethodGet, "/auth/profile", nil, &p); err != nil {
		return Profile{}, err
	}
	return p, nil
}
