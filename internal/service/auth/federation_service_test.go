package auth_test

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/config"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain"
	domainoauth "github.com/Hashibutogarasu/karasu-lab-auth/internal/domain/oauth"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/jwt"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/service"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/service/auth"
)

const callbackURI = "https://auth.example/auth/federation/google/callback"

func testProvider() domainoauth.ProviderConfig {
	return domainoauth.ProviderConfig{
		ProviderName: "google",
		DisplayName:  "Google",
		ClientID:     "upstream-client",
		ClientSecret: "upstream-secret",
		AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:     "https://oauth2.googleapis.com/token",
		UserInfoURL:  "https://openidconnect.googleapis.com/v1/userinfo",
		Scopes:       []string{"openid", "email"},
	}
}

type fixture struct {
	svc    *auth.FederationService
	users  *memUserRepo
	states *memStateStore
	client *fakeProviderClient
	ledger *service.LedgerService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Config{
		Issuer:             "https://auth.example",
		AccessTokenTTL:     time.Hour,
		RefreshTokenTTL:    24 * time.Hour,
		FirstPartyClientID: "karasu-lab-web",
	}
	users := &memUserRepo{byID: map[int64]domain.User{}}
	states := &memStateStore{data: map[string]domainoauth.State{}}
	client := &fakeProviderClient{
		token: &domainoauth.ProviderTokenResponse{AccessToken: "upstream-access"},
		info:  &domainoauth.ProviderUserInfo{Subject: "sub-1", Email: "sns@example.com", Name: "SNS User"},
	}
	tokens := &memTokenRepo{byJTI: map[string]domain.GrantedToken{}}
	ledger := service.NewLedgerService(tokens, jwt.NewGenerator(jwt.NewKeyManager(&memKeyRepo{})), cfg, zap.NewNop())

	svc := auth.NewFederationService(&memProviderRepo{configs: []domainoauth.ProviderConfig{testProvider()}},
		states, client, users, ledger, cfg, zap.NewNop())
	return &fixture{svc: svc, users: users, states: states, client: client, ledger: ledger}
}

func start(t *testing.T, f *fixture) *auth.StartOutput {
	t.Helper()
	out, err := f.svc.StartAuthorization(context.Background(), auth.StartInput{
		Provider:    "google",
		RedirectURI: callbackURI,
	})
	require.NoError(t, err)
	return out
}

func TestStartAuthorizationBuildsURL(t *testing.T) {
	f := newFixture(t)
	out := start(t, f)

	parsed, err := url.Parse(out.AuthorizationURL)
	require.NoError(t, err)
	q := parsed.Query()
	require.Equal(t, "upstream-client", q.Get("client_id"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, callbackURI, q.Get("redirect_uri"))
	require.Equal(t, out.State, q.Get("state"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.NotEmpty(t, q.Get("code_challenge"))
	require.Equal(t, "openid email", q.Get("scope"))
}

func TestStartAuthorizationUnknownProvider(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartAuthorization(context.Background(), auth.StartInput{
		Provider: "myspace", RedirectURI: callbackURI,
	})
	require.ErrorIs(t, err, domainoauth.ErrProviderNotFound)
}

func TestCallbackEstablishesSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	out := start(t, f)

	session, err := f.svc.HandleCallback(ctx, auth.CallbackInput{
		Provider: "google", Code: "upstream-code", State: out.State, RedirectURI: callbackURI,
	})
	require.NoError(t, err)
	require.Equal(t, "sns@example.com", session.User.Email)
	require.True(t, session.User.EmailVerified)
	require.NotEmpty(t, session.Tokens.AccessToken)

	// The PKCE verifier saved at start was sent to the provider.
	require.Equal(t, "upstream-code", f.client.gotCode)
	require.NotEmpty(t, f.client.gotVerifier)

	// The grant is in the local ledger.
	row, err := f.ledger.GetRow(ctx, session.Tokens.JTI)
	require.NoError(t, err)
	require.Equal(t, session.User.ID, row.UserID)
	require.Equal(t, "karasu-lab-web", row.ClientID)
}

func TestCallbackStateIsSingleUse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	out := start(t, f)
	in := auth.CallbackInput{Provider: "google", Code: "c", State: out.State, RedirectURI: callbackURI}

	_, err := f.svc.HandleCallback(ctx, in)
	require.NoError(t, err)

	_, err = f.svc.HandleCallback(ctx, in)
	require.ErrorIs(t, err, domainoauth.ErrInvalidState)
}

func TestCallbackRejectsProviderMismatch(t *testing.T) {
	f := newFixture(t)
	out := start(t, f)

	_, err := f.svc.HandleCallback(context.Background(), auth.CallbackInput{
		Provider: "github", Code: "c", State: out.State, RedirectURI: callbackURI,
	})
	require.ErrorIs(t, err, domainoauth.ErrInvalidState)
}

func TestCallbackLinksExistingUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	existing, err := f.users.Create(ctx, domain.User{
		Email: "sns@example.com", Name: "Existing", RoleMask: 3, Status: domain.UserStatusActive,
	})
	require.NoError(t, err)

	out := start(t, f)
	session, err := f.svc.HandleCallback(ctx, auth.CallbackInput{
		Provider: "google", Code: "c", State: out.State, RedirectURI: callbackURI,
	})
	require.NoError(t, err)
	require.Equal(t, existing.ID, session.User.ID)
	require.Equal(t, "Existing", session.User.Name)
}

type memProviderRepo struct {
	configs []domainoauth.ProviderConfig
}

func (r *memProviderRepo) List(ctx context.Context) ([]domainoauth.ProviderConfig, error) {
	return r.configs, nil
}

func (r *memProviderRepo) GetByName(ctx context.Context, name string) (*domainoauth.ProviderConfig, error) {
	for _, cfg := range r.configs {
		if strings.EqualFold(cfg.ProviderName, name) {
			c := cfg
			return &c, nil
		}
	}
	return nil, domainoauth.ErrProviderNotFound
}

type memStateStore struct {
	mu   sync.Mutex
	data map[string]domainoauth.State
}

func (s *memStateStore) SaveState(ctx context.Context, key string, data domainoauth.State, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = data
	return nil
}

func (s *memStateStore) ConsumeState(ctx context.Context, key string) (*domainoauth.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	delete(s.data, key)
	return &state, nil
}

type fakeProviderClient struct {
	token       *domainoauth.ProviderTokenResponse
	info        *domainoauth.ProviderUserInfo
	gotCode     string
	gotVerifier string
}

func (c *fakeProviderClient) ExchangeCode(ctx context.Context, provider domainoauth.ProviderConfig, code, codeVerifier, redirectURI string) (*domainoauth.ProviderTokenResponse, error) {
	c.gotCode = code
	c.gotVerifier = codeVerifier
	return c.token, nil
}

func (c *fakeProviderClient) FetchUserInfo(ctx context.Context, provider domainoauth.ProviderConfig, accessToken string) (*domainoauth.ProviderUserInfo, error) {
	return c.info, nil
}

type memUserRepo struct {
	mu   sync.Mutex
	next int64
	byID map[int64]domain.User
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (r *memUserRepo) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (r *memUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	user.ID = r.next
	r.byID[user.ID] = user
	return user, nil
}

type memTokenRepo struct {
	mu    sync.Mutex
	byJTI map[string]domain.GrantedToken
}

func (r *memTokenRepo) Create(ctx context.Context, token domain.GrantedToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byJTI[token.JTI] = token
	return nil
}

func (r *memTokenRepo) GetByJTI(ctx context.Context, jti string) (domain.GrantedToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byJTI[jti]
	if !ok {
		return domain.GrantedToken{}, pgx.ErrNoRows
	}
	return t, nil
}

func (r *memTokenRepo) Rotate(ctx context.Context, oldJTI string, next domain.GrantedToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.byJTI[oldJTI]
	if !ok || old.Revoked {
		return pgx.ErrNoRows
	}
	delete(r.byJTI, oldJTI)
	r.byJTI[next.JTI] = next
	return nil
}

func (r *memTokenRepo) Revoke(ctx context.Context, jti string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byJTI[jti]; ok {
		t.Revoked = true
		r.byJTI[jti] = t
	}
	return nil
}

func (r *memTokenRepo) DeleteByClient(ctx context.Context, clientID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for jti, t := range r.byJTI {
		if t.ClientID == clientID {
			delete(r.byJTI, jti)
			n++
		}
	}
	return n, nil
}

func (r *memTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type memKeyRepo struct {
	mu  sync.Mutex
	key domain.SigningKey
}

func (r *memKeyRepo) GetActive(ctx context.Context) (domain.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.key.ID == 0 {
		return domain.SigningKey{}, pgx.ErrNoRows
	}
	return r.key, nil
}

func (r *memKeyRepo) Create(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key.ID = 1
	r.key = key
	return key, nil
}
