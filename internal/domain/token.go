package domain

import "time"

// AuthorizationCode is the persisted form of an issued code.
//
// Only the SHA-256 hash of the code is stored; the plaintext leaves the
// process exactly once, in the authorize redirect. Scope holds the granted
// (already capped) scope string, not the raw requested one.
type AuthorizationCode struct {
	CodeHash            string
	ClientID            string
	UserID              int64
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiresAt           time.Time
	CreatedAt           time.Time
}

// Expired reports whether the code is past its TTL.
func (c AuthorizationCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// GrantedToken is the ledger row behind a signed token pair.
//
// A JWT whose signature verifies is still dead if its jti has no row here or
// the row is revoked; this indirection is what makes revocation O(1).
type GrantedToken struct {
	JTI            string
	UserID         int64
	ClientID       string
	PermissionMask uint64
	Scope          string
	ExpiresAt      time.Time
	Revoked        bool
	CreatedAt      time.Time
}
