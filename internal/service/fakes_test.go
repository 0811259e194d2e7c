package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/config"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/jwt"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/service"
)

const testIssuer = "http://localhost:8080"

func testConfig() config.Config {
	return config.Config{
		Issuer:             testIssuer,
		AccessTokenTTL:     time.Hour,
		RefreshTokenTTL:    30 * 24 * time.Hour,
		AuthCodeTTL:        10 * time.Minute,
		FirstPartyClientID: "karasu-lab-web",
	}
}

// env bundles the service stack over in-memory repositories.
type env struct {
	users   *memUserRepo
	clients *memClientRepo
	codes   *memCodeRepo
	tokens  *memTokenRepo
	cfg     config.Config

	ledger        *service.LedgerService
	clientService *service.ClientService
	oauthService  *service.OAuthService
	authService   *service.AuthService
}

func newEnv() *env {
	return newEnvWith(testConfig())
}

func newEnvWith(cfg config.Config) *env {
	users := &memUserRepo{byID: map[int64]domain.User{}}
	clients := &memClientRepo{byID: map[string]domain.Client{}}
	codes := &memCodeRepo{byHash: map[string]domain.AuthorizationCode{}}
	tokens := &memTokenRepo{byJTI: map[string]domain.GrantedToken{}}

	generator := jwt.NewGenerator(jwt.NewKeyManager(&memKeyRepo{}))
	logger := zap.NewNop()

	ledger := service.NewLedgerService(tokens, generator, cfg, logger)
	clientService := service.NewClientService(clients, ledger, logger)
	oauthService := service.NewOAuthService(clientService, ledger, codes, users, cfg, logger)
	authService := service.NewAuthService(users, ledger, cfg, logger)

	return &env{
		users: users, clients: clients, codes: codes, tokens: tokens, cfg: cfg,
		ledger: ledger, clientService: clientService,
		oauthService: oauthService, authService: authService,
	}
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

type memClientRepo struct {
	mu   sync.Mutex
	byID map[string]domain.Client
}

func (r *memClientRepo) Create(ctx context.Context, client domain.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[client.ID] = client
	return nil
}

func (r *memClientRepo) GetByID(ctx context.Context, clientID string) (domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[clientID]
	if !ok {
		return domain.Client{}, pgx.ErrNoRows
	}
	return c, nil
}

func (r *memClientRepo) ListByOwner(ctx context.Context, ownerUserID int64) ([]domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Client
	for _, c := range r.byID {
		if c.OwnerUserID == ownerUserID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memClientRepo) UpdateSecret(ctx context.Context, clientID, secretHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[clientID]
	if !ok {
		return pgx.ErrNoRows
	}
	c.SecretHash = secretHash
	r.byID[clientID] = c
	return nil
}

func (r *memClientRepo) Delete(ctx context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[clientID]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.byID, clientID)
	return nil
}

type memCodeRepo struct {
	mu     sync.Mutex
	byHash map[string]domain.AuthorizationCode
}

func (r *memCodeRepo) Create(ctx context.Context, code domain.AuthorizationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHash[code.CodeHash] = code
	return nil
}

func (r *memCodeRepo) Consume(ctx context.Context, codeHash string) (domain.AuthorizationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.byHash[codeHash]
	if !ok {
		return domain.AuthorizationCode{}, pgx.ErrNoRows
	}
	delete(r.byHash, codeHash)
	return code, nil
}

func (r *memCodeRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for hash, code := range r.byHash {
		if code.Expired(now) {
			delete(r.byHash, hash)
			n++
		}
	}
	return n, nil
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
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for jti, t := range r.byJTI {
		if t.ExpiresAt.Before(now) {
			delete(r.byJTI, jti)
			n++
		}
	}
	return n, nil
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
