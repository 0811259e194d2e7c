package domain

import "time"

// Client represents a registered third-party OAuth client.
//
// SecretHash is a bcrypt hash; the plaintext secret is returned exactly once
// at creation or rotation and is never persisted. PermissionMask is frozen at
// registration time from the owner's RoleMask and is the ceiling for every
// grant the client can ever receive, regardless of who later authenticates.
type Client struct {
	ID             string
	SecretHash     string
	Name           string
	RedirectURIs   []string
	OwnerUserID    int64
	PermissionMask uint64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AllowsRedirect reports whether uri is registered for the client.
// Matching is byte-exact: no normalization, no prefix matching.
func (c Client) AllowsRedirect(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}
