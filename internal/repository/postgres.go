package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain/oauth"
)

// Compile-time interface assertions.
var (
	_ UserRepository     = (*PostgresUserRepo)(nil)
	_ ClientRepository   = (*PostgresClientRepo)(nil)
	_ CodeRepository     = (*PostgresCodeRepo)(nil)
	_ TokenRepository    = (*PostgresTokenRepo)(nil)
	_ KeyRepository      = (*PostgresKeyRepo)(nil)
	_ ProviderRepository = (*PostgresProviderRepo)(nil)
)

// PostgresUserRepo implements UserRepository. User IDs are snowflakes minted
// at insert time.
type PostgresUserRepo struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresUserRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool, node: node}
}

const userColumns = `id, email, email_verified, password_hash, name, role_mask, status, created_at, updated_at`

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	if user.ID == 0 {
		user.ID = r.node.Generate().Int64()
	}
	row := r.db.QueryRow(ctx, `
INSERT INTO users (id, email, email_verified, password_hash, name, role_mask, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+userColumns,
		user.ID, user.Email, user.EmailVerified, user.PasswordHash, user.Name, int64(user.RoleMask), user.Status,
	)
	created, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	var roleMask int64
	if err := row.Scan(&u.ID, &u.Email, &u.EmailVerified, &u.PasswordHash, &u.Name, &roleMask, &u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return domain.User{}, err
	}
	u.RoleMask = uint64(roleMask)
	return u, nil
}

// PostgresClientRepo implements ClientRepository.
type PostgresClientRepo struct {
	db *pgxpool.Pool
}

func NewPostgresClientRepo(pool *pgxpool.Pool) *PostgresClientRepo {
	return &PostgresClientRepo{db: pool}
}

const clientColumns = `id, secret_hash, name, redirect_uris, owner_user_id, permission_mask, created_at, updated_at`

func (r *PostgresClientRepo) Create(ctx context.Context, client domain.Client) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO oauth_clients (id, secret_hash, name, redirect_uris, owner_user_id, permission_mask)
VALUES ($1, $2, $3, $4, $5, $6)`,
		client.ID, client.SecretHash, client.Name, client.RedirectURIs, client.OwnerUserID, int64(client.PermissionMask),
	)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

func (r *PostgresClientRepo) GetByID(ctx context.Context, clientID string) (domain.Client, error) {
	row := r.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM oauth_clients WHERE id = $1`, clientID)
	return scanClient(row)
}

func (r *PostgresClientRepo) ListByOwner(ctx context.Context, ownerUserID int64) ([]domain.Client, error) {
	rows, err := r.db.Query(ctx, `SELECT `+clientColumns+` FROM oauth_clients WHERE owner_user_id = $1 ORDER BY created_at`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var clients []domain.Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, client)
	}
	return clients, rows.Err()
}

func (r *PostgresClientRepo) UpdateSecret(ctx context.Context, clientID, secretHash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE oauth_clients SET secret_hash = $2, updated_at = now() WHERE id = $1`, clientID, secretHash)
	if err != nil {
		return fmt.Errorf("update client secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PostgresClientRepo) Delete(ctx context.Context, clientID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM oauth_clients WHERE id = $1`, clientID)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanClient(row pgx.Row) (domain.Client, error) {
	var c domain.Client
	var mask int64
	if err := row.Scan(&c.ID, &c.SecretHash, &c.Name, &c.RedirectURIs, &c.OwnerUserID, &mask, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return domain.Client{}, err
	}
	c.PermissionMask = uint64(mask)
	return c, nil
}

// PostgresCodeRepo implements CodeRepository.
type PostgresCodeRepo struct {
	db *pgxpool.Pool
}

func NewPostgresCodeRepo(pool *pgxpool.Pool) *PostgresCodeRepo {
	return &PostgresCodeRepo{db: pool}
}

func (r *PostgresCodeRepo) Create(ctx context.Context, code domain.AuthorizationCode) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO authorization_codes (code_hash, client_id, user_id, redirect_uri, scope, code_challenge, code_challenge_method, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		code.CodeHash, code.ClientID, code.UserID, code.RedirectURI, code.Scope,
		code.CodeChallenge, code.CodeChallengeMethod, code.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert code: %w", err)
	}
	return nil
}

// Consume is a single conditional delete: the row is gone the moment it is
// read, so a raced second redemption sees pgx.ErrNoRows.
func (r *PostgresCodeRepo) Consume(ctx context.Context, codeHash string) (domain.AuthorizationCode, error) {
	row := r.db.QueryRow(ctx, `
DELETE FROM authorization_codes
WHERE code_hash = $1
RETURNING code_hash, client_id, user_id, redirect_uri, scope, code_challenge, code_challenge_method, expires_at, created_at`,
		codeHash,
	)
	var c domain.AuthorizationCode
	if err := row.Scan(&c.CodeHash, &c.ClientID, &c.UserID, &c.RedirectURI, &c.Scope, &c.CodeChallenge, &c.CodeChallengeMethod, &c.ExpiresAt, &c.CreatedAt); err != nil {
		return domain.AuthorizationCode{}, err
	}
	return c, nil
}

func (r *PostgresCodeRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM authorization_codes WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep codes: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PostgresTokenRepo implements TokenRepository.
type PostgresTokenRepo struct {
	db *pgxpool.Pool
}

func NewPostgresTokenRepo(pool *pgxpool.Pool) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: pool}
}

const tokenColumns = `jti, user_id, client_id, permission_mask, scope, expires_at, revoked, created_at`

func (r *PostgresTokenRepo) Create(ctx context.Context, token domain.GrantedToken) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO granted_tokens (jti, user_id, client_id, permission_mask, scope, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		token.JTI, token.UserID, token.ClientID, int64(token.PermissionMask), token.Scope, token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert granted token: %w", err)
	}
	return nil
}

func (r *PostgresTokenRepo) GetByJTI(ctx context.Context, jti string) (domain.GrantedToken, error) {
	row := r.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM granted_tokens WHERE jti = $1`, jti)
	return scanToken(row)
}

func (r *PostgresTokenRepo) Rotate(ctx context.Context, oldJTI string, next domain.GrantedToken) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rotate: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM granted_tokens WHERE jti = $1 AND NOT revoked`, oldJTI)
	if err != nil {
		return fmt.Errorf("delete rotated token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	_, err = tx.Exec(ctx, `
INSERT INTO granted_tokens (jti, user_id, client_id, permission_mask, scope, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		next.JTI, next.UserID, next.ClientID, int64(next.PermissionMask), next.Scope, next.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert rotated token: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PostgresTokenRepo) Revoke(ctx context.Context, jti string) error {
	if _, err := r.db.Exec(ctx, `UPDATE granted_tokens SET revoked = true WHERE jti = $1`, jti); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (r *PostgresTokenRepo) DeleteByClient(ctx context.Context, clientID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM granted_tokens WHERE client_id = $1`, clientID)
	if err != nil {
		return 0, fmt.Errorf("cascade delete tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM granted_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("sweep tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanToken(row pgx.Row) (domain.GrantedToken, error) {
	var t domain.GrantedToken
	var mask int64
	if err := row.Scan(&t.JTI, &t.UserID, &t.ClientID, &mask, &t.Scope, &t.ExpiresAt, &t.Revoked, &t.CreatedAt); err != nil {
		return domain.GrantedToken{}, err
	}
	t.PermissionMask = uint64(mask)
	return t, nil
}

// PostgresKeyRepo implements KeyRepository.
type PostgresKeyRepo struct {
	db *pgxpool.Pool
}

func NewPostgresKeyRepo(pool *pgxpool.Pool) *PostgresKeyRepo {
	return &PostgresKeyRepo{db: pool}
}

func (r *PostgresKeyRepo) GetActive(ctx context.Context) (domain.SigningKey, error) {
	row := r.db.QueryRow(ctx, `
SELECT id, kid, private_key, algorithm, is_active, created_at, rotated_at
FROM signing_keys WHERE is_active ORDER BY created_at DESC LIMIT 1`)
	var k domain.SigningKey
	if err := row.Scan(&k.ID, &k.KID, &k.PrivateKeyDER, &k.Algorithm, &k.IsActive, &k.CreatedAt, &k.RotatedAt); err != nil {
		return domain.SigningKey{}, err
	}
	return k, nil
}

func (r *PostgresKeyRepo) Create(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	row := r.db.QueryRow(ctx, `
INSERT INTO signing_keys (kid, private_key, algorithm, is_active)
VALUES ($1, $2, $3, true)
RETURNING id, created_at`,
		key.KID, key.PrivateKeyDER, key.Algorithm,
	)
	if err := row.Scan(&key.ID, &key.CreatedAt); err != nil {
		return domain.SigningKey{}, fmt.Errorf("insert signing key: %w", err)
	}
	key.IsActive = true
	return key, nil
}

// PostgresProviderRepo implements ProviderRepository.
type PostgresProviderRepo struct {
	db *pgxpool.Pool
}

func NewPostgresProviderRepo(pool *pgxpool.Pool) *PostgresProviderRepo {
	return &PostgresProviderRepo{db: pool}
}

const providerColumns = `provider, display_name, icon_url, client_id, client_secret, auth_url, token_url, userinfo_url, scopes, created_at, updated_at`

func (r *PostgresProviderRepo) List(ctx context.Context) ([]oauth.ProviderConfig, error) {
	rows, err := r.db.Query(ctx, `SELECT `+providerColumns+` FROM federation_providers ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var configs []oauth.ProviderConfig
	for rows.Next() {
		cfg, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func (r *PostgresProviderRepo) GetByName(ctx context.Context, name string) (*oauth.ProviderConfig, error) {
	row := r.db.QueryRow(ctx, `SELECT `+providerColumns+` FROM federation_providers WHERE provider = $1`, name)
	cfg, err := scanProvider(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("provider %s: %w", name, oauth.ErrProviderNotFound)
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}
	return &cfg, nil
}

func scanProvider(row pgx.Row) (oauth.ProviderConfig, error) {
	var cfg oauth.ProviderConfig
	if err := row.Scan(&cfg.ProviderName, &cfg.DisplayName, &cfg.IconURL, &cfg.ClientID, &cfg.ClientSecret,
		&cfg.AuthURL, &cfg.TokenURL, &cfg.UserInfoURL, &cfg.Scopes, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		return oauth.ProviderConfig{}, err
	}
	return cfg, nil
}
