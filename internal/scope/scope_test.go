package scope_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain/oauth"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/scope"
)

func TestParseSplitsMaskAndPassthrough(t *testing.T) {
	req, err := scope.Engine{}.Parse("user:read admin:read openid profile")
	require.NoError(t, err)
	require.Equal(t, scope.UserRead|scope.AdminRead, req.Mask)
	require.Equal(t, []string{"openid", "profile"}, req.Passthrough)
}

func TestParseUnknownScopeFails(t *testing.T) {
	_, err := scope.Engine{}.Parse("user:read warehouse:burn")
	require.ErrorIs(t, err, oauth.ErrInvalidScope)
}

func TestParseUnknownScopeDroppedWhenConfigured(t *testing.T) {
	req, err := scope.Engine{DropUnknown: true}.Parse("user:read warehouse:burn openid")
	require.NoError(t, err)
	require.Equal(t, scope.UserRead, req.Mask)
	require.Equal(t, []string{"openid"}, req.Passthrough)
}

func TestParseDeduplicates(t *testing.T) {
	req, err := scope.Engine{}.Parse("user:read user:read openid openid")
	require.NoError(t, err)
	require.Equal(t, scope.UserRead, req.Mask)
	require.Equal(t, []string{"openid"}, req.Passthrough)
}

func TestNamesIgnoresUnregisteredBits(t *testing.T) {
	mask := scope.UserRead | scope.AdminWrite | 1<<62
	require.Equal(t, []string{"admin:write", "user:read"}, scope.Names(mask))
}

func TestCapOwnerCeilingBindsBeforeUser(t *testing.T) {
	userMask := scope.UserRead | scope.UserWrite
	ownerMask := scope.UserRead | scope.AdminRead
	requested := scope.UserRead | scope.AdminRead

	granted := scope.Cap(userMask, requested, ownerMask)
	require.Equal(t, scope.UserRead, granted)

	// admin:read never appears, even for a user who holds it: the owner cap
	// fixed the client's ceiling at registration time.
	adminUser := scope.UserRead | scope.AdminRead | scope.AdminWrite
	granted = scope.Cap(adminUser, scope.AdminWrite|scope.UserRead, ownerMask)
	require.Equal(t, scope.UserRead, granted)
}

func TestFormatUnionsPassthrough(t *testing.T) {
	out := scope.Format(scope.UserRead, []string{"openid", "email"})
	require.Equal(t, "user:read openid email", out)

	require.Equal(t, "openid", scope.Format(0, []string{"openid"}))
	require.Equal(t, "", scope.Format(0, nil))
}
