// Package scope implements the permission bitmask behind OAuth scopes.
//
// Application-defined scopes map to bits of a fixed-width mask; OIDC standard
// scopes are never part of the mask and pass through grant computation
// verbatim.
package scope

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain/oauth"
)

// Application scope bits. The assignment is part of the persisted format of
// users.role_mask and oauth_clients.permission_mask; never renumber.
const (
	UserRead uint64 = 1 << iota
	UserWrite
	UserDelete
	ClientRead
	ClientWrite
	AdminRead
	AdminWrite
)

var registry = map[string]uint64{
	"user:read":    UserRead,
	"user:write":   UserWrite,
	"user:delete":  UserDelete,
	"client:read":  ClientRead,
	"client:write": ClientWrite,
	"admin:read":   AdminRead,
	"admin:write":  AdminWrite,
}

// bitNames is the reverse of registry, indexed by bit position.
var bitNames = func() map[uint64]string {
	names := make(map[uint64]string, len(registry))
	for name, bit := range registry {
		names[bit] = name
	}
	return names
}()

// passthrough lists the OIDC standard scopes honored verbatim when requested,
// independent of any permission mask.
var passthrough = map[string]struct{}{
	"openid":  {},
	"profile": {},
	"email":   {},
	"address": {},
	"phone":   {},
}

// IsPassthrough reports whether name is an OIDC standard scope.
func IsPassthrough(name string) bool {
	_, ok := passthrough[name]
	return ok
}

// Engine translates between scope strings and permission masks.
// When DropUnknown is set, unregistered non-OIDC scope names are silently
// discarded before capping instead of failing the request.
type Engine struct {
	DropUnknown bool
}

// Request is a parsed scope string split into its maskable and pass-through
// halves.
type Request struct {
	Mask        uint64
	Passthrough []string
}

// Parse splits a space-separated scope string. Unregistered non-OIDC names
// fail with ErrInvalidScope unless the engine is configured to drop them.
func (e Engine) Parse(scopes string) (Request, error) {
	var req Request
	seen := make(map[string]struct{})
	for _, name := range strings.Fields(scopes) {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		if IsPassthrough(name) {
			req.Passthrough = append(req.Passthrough, name)
			continue
		}
		bit, ok := registry[name]
		if !ok {
			if e.DropUnknown {
				continue
			}
			return Request{}, fmt.Errorf("scope %q: %w", name, oauth.ErrInvalidScope)
		}
		req.Mask |= bit
	}
	return req, nil
}

// Names decodes the set bits of mask back into scope names, sorted for
// stable output. Bits without a registry entry are ignored so masks written
// by newer builds stay readable.
func Names(mask uint64) []string {
	var names []string
	for bit := uint64(1); bit != 0 && bit <= mask; bit <<= 1 {
		if mask&bit == 0 {
			continue
		}
		if name, ok := bitNames[bit]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Cap computes the granted mask for a request.
//
// The owner cap is applied first so the client's ceiling is fixed
// independently of who is logging in; the user cap second so the same client
// yields different grants per user.
func Cap(userMask, requested, ownerMask uint64) uint64 {
	return requested & ownerMask & userMask
}

// Format renders a granted mask plus pass-through scopes as the scope string
// returned to callers.
func Format(mask uint64, passthroughScopes []string) string {
	parts := Names(mask)
	for _, name := range passthroughScopes {
		if IsPassthrough(name) {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, " ")
}
