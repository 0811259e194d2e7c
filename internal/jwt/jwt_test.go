package jwt_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain/oauth"
	customjwt "github.com/Hashibutogarasu/karasu-lab-auth/internal/jwt"
)

const issuer = "https://auth.example"

func newGenerator(t *testing.T) *customjwt.Generator {
	t.Helper()
	return customjwt.NewGenerator(customjwt.NewKeyManager(&fakeKeyRepo{}))
}

func TestSignVerifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	generator := newGenerator(t)

	token, err := generator.Sign(ctx, customjwt.SignRequest{
		JTI:      "jti-1",
		UserID:   99,
		ClientID: "client-a",
		Scope:    "user:read openid",
		Issuer:   issuer,
		TokenUse: customjwt.UseAccess,
		TTL:      time.Hour,
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	std, custom, err := generator.Verify(ctx, token, issuer)
	require.NoError(t, err)
	require.Equal(t, "jti-1", std.ID)
	require.Equal(t, "99", std.Subject)
	require.Contains(t, std.Audience, "client-a")
	require.Equal(t, "user:read openid", custom.Scope)
	require.Equal(t, customjwt.UseAccess, custom.TokenUse)
}

func TestVerifyRejectsExpired(t *testing.T) {
	ctx := context.Background()
	generator := newGenerator(t)

	token, err := generator.Sign(ctx, customjwt.SignRequest{
		JTI: "jti-2", UserID: 1, ClientID: "c", Issuer: issuer,
		TokenUse: customjwt.UseAccess, TTL: -time.Minute,
	})
	require.NoError(t, err)

	_, _, err = generator.Verify(ctx, token, issuer)
	require.ErrorIs(t, err, oauth.ErrInvalidToken)
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	ctx := context.Background()
	signedElsewhere := newGenerator(t)
	verifier := newGenerator(t)

	token, err := signedElsewhere.Sign(ctx, customjwt.SignRequest{
		JTI: "jti-3", UserID: 1, ClientID: "c", Issuer: issuer,
		TokenUse: customjwt.UseAccess, TTL: time.Hour,
	})
	require.NoError(t, err)

	_, _, err = verifier.Verify(ctx, token, issuer)
	require.ErrorIs(t, err, oauth.ErrInvalidToken)
}

func TestDecodeJTIWorksOnExpiredTokens(t *testing.T) {
	ctx := context.Background()
	generator := newGenerator(t)

	token, err := generator.Sign(ctx, customjwt.SignRequest{
		JTI: "jti-4", UserID: 1, ClientID: "c", Issuer: issuer,
		TokenUse: customjwt.UseRefresh, TTL: -time.Hour,
	})
	require.NoError(t, err)

	jti, err := generator.DecodeJTI(token)
	require.NoError(t, err)
	require.Equal(t, "jti-4", jti)
}

type fakeKeyRepo struct {
	key domain.SigningKey
}

func (f *fakeKeyRepo) GetActive(ctx context.Context) (domain.SigningKey, error) {
	if f.key.ID == 0 {
		return domain.SigningKey{}, pgx.ErrNoRows
	}
	return f.key, nil
}

func (f *fakeKeyRepo) Create(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	key.ID = 1
	f.key = key
	return key, nil
}
