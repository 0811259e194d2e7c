package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain/oauth"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/password"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/scope"
)

func seedPasswordUser(t *testing.T, e *env, email, pass string, mask uint64, status string) domain.User {
	t.Helper()
	hash, err := password.Hash(pass)
	require.NoError(t, err)
	user, err := e.users.Create(context.Background(), domain.User{
		Email:        email,
		Name:         "Login User",
		PasswordHash: hash,
		RoleMask:     mask,
		Status:       status,
	})
	require.NoError(t, err)
	return user
}

func TestLoginIssuesFirstPartyPair(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	user := seedPasswordUser(t, e, "u@example.com", "hunter2hunter2", scope.UserRead|scope.UserWrite, domain.UserStatusActive)

	pair, got, err := e.authService.Login(ctx, "u@example.com", "hunter2hunter2")
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)

	row, err := e.ledger.GetRow(ctx, pair.JTI)
	require.NoError(t, err)
	require.Equal(t, e.cfg.FirstPartyClientID, row.ClientID)
	require.Equal(t, user.RoleMask, row.PermissionMask)
}

func TestLoginFailuresAreUniform(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	seedPasswordUser(t, e, "u@example.com", "hunter2hunter2", scope.UserRead, domain.UserStatusActive)

	_, _, err := e.authService.Login(ctx, "u@example.com", "wrong")
	require.ErrorIs(t, err, oauth.ErrInvalidGrant)

	_, _, err = e.authService.Login(ctx, "nobody@example.com", "hunter2hunter2")
	require.ErrorIs(t, err, oauth.ErrInvalidGrant)
}

func TestLoginRejectsSuspendedUser(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	seedPasswordUser(t, e, "u@example.com", "hunter2hunter2", scope.UserRead, domain.UserStatusSuspended)

	_, _, err := e.authService.Login(ctx, "u@example.com", "hunter2hunter2")
	require.ErrorIs(t, err, oauth.ErrForbidden)
}

func TestIdentifyResolvesPrincipal(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	user := seedPasswordUser(t, e, "u@example.com", "hunter2hunter2", scope.UserRead, domain.UserStatusActive)

	pair, _, err := e.authService.Login(ctx, "u@example.com", "hunter2hunter2")
	require.NoError(t, err)

	got, row, err := e.authService.Identify(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)
	require.Equal(t, pair.JTI, row.JTI)

	// A refresh token is not a session credential.
	_, _, err = e.authService.Identify(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, oauth.ErrInvalidToken)
}
