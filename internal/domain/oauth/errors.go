package oauth

import "errors"

// Sentinel errors for the protocol engine. Handlers map these onto the
// uniform error envelope; services wrap them with context via %w.
var (
	// ErrInvalidClient covers unknown client IDs and bad secrets alike.
	// The two cases are deliberately indistinguishable to the caller.
	ErrInvalidClient = errors.New("oauth: invalid client")
	// ErrInvalidRequest indicates a malformed request, e.g. client
	// credentials supplied through both Basic auth and body fields.
	ErrInvalidRequest = errors.New("oauth: invalid request")
	// ErrInvalidRedirectURI indicates a redirect URI that is not registered
	// for the client by exact string match.
	ErrInvalidRedirectURI = errors.New("oauth: invalid redirect uri")
	// ErrInvalidGrant covers expired/consumed/unknown codes, PKCE
	// mismatches, and reuse of rotated-away refresh tokens.
	ErrInvalidGrant = errors.New("oauth: invalid grant")
	// ErrInvalidScope indicates an unregistered, non-OIDC scope name.
	ErrInvalidScope = errors.New("oauth: invalid scope")
	// ErrForbidden indicates a non-owner attempting an owner-only mutation.
	ErrForbidden = errors.New("oauth: forbidden")
	// ErrInvalidToken indicates signature or expiry failure.
	ErrInvalidToken = errors.New("oauth: invalid token")
	// ErrTokenRevoked indicates a cryptographically valid token whose ledger
	// row is missing or revoked.
	ErrTokenRevoked = errors.New("oauth: token revoked")

	// Federation sentinels.
	ErrProviderNotFound = errors.New("oauth: provider not found")
	ErrInvalidState     = errors.New("oauth: invalid state")
	ErrUserNotFound     = errors.New("oauth: user not found")
)

// Code returns the stable machine-readable code for err, or an empty string
// when err is not one of the protocol sentinels.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidClient):
		return "InvalidClient"
	case errors.Is(err, ErrInvalidRequest):
		return "InvalidRequest"
	case errors.Is(err, ErrInvalidRedirectURI):
		return "InvalidRedirectUri"
	case errors.Is(err, ErrInvalidGrant):
		return "InvalidGrant"
	case errors.Is(err, ErrInvalidScope):
		return "InvalidScope"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	case errors.Is(err, ErrTokenRevoked):
		return "TokenRevoked"
	case errors.Is(err, ErrInvalidToken):
		return "InvalidToken"
	default:
		return ""
	}
}
