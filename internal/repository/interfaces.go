package repository

import (
	"context"
	"time"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain/oauth"
)

// UserRepository exposes persistence for end users.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByID(ctx context.Context, userID int64) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
}

// ClientRepository persists registered OAuth clients.
type ClientRepository interface {
	Create(ctx context.Context, client domain.Client) error
	GetByID(ctx context.Context, clientID string) (domain.Client, error)
	ListByOwner(ctx context.Context, ownerUserID int64) ([]domain.Client, error)
	UpdateSecret(ctx context.Context, clientID, secretHash string) error
	Delete(ctx context.Context, clientID string) error
}

// CodeRepository manages authorization codes keyed by code hash.
type CodeRepository interface {
	Create(ctx context.Context, code domain.AuthorizationCode) error
	// Consume atomically removes and returns the code for hash. A second
	// call with the same hash must not succeed, even when raced.
	Consume(ctx context.Context, codeHash string) (domain.AuthorizationCode, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TokenRepository persists granted-token ledger rows keyed by jti.
type TokenRepository interface {
	Create(ctx context.Context, token domain.GrantedToken) error
	GetByJTI(ctx context.Context, jti string) (domain.GrantedToken, error)
	// Rotate removes the row for oldJTI and inserts next in one transaction.
	// It fails if the old row is already gone or revoked, which is how
	// refresh-token replay is detected.
	Rotate(ctx context.Context, oldJTI string, next domain.GrantedToken) error
	Revoke(ctx context.Context, jti string) error
	DeleteByClient(ctx context.Context, clientID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// KeyRepository stores the RS256 signing keypair.
type KeyRepository interface {
	GetActive(ctx context.Context) (domain.SigningKey, error)
	Create(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error)
}

// ProviderRepository exposes federated IdP configuration.
type ProviderRepository interface {
	List(ctx context.Context) ([]oauth.ProviderConfig, error)
	GetByName(ctx context.Context, name string) (*oauth.ProviderConfig, error)
}

// StateStore persists short-lived federation state/nonce/PKCE tuples.
type StateStore interface {
	SaveState(ctx context.Context, key string, data oauth.State, ttl time.Duration) error
	// ConsumeState atomically loads and deletes the state, so a callback can
	// redeem it at most once. A nil result means unknown or expired.
	ConsumeState(ctx context.Context, key string) (*oauth.State, error)
}
