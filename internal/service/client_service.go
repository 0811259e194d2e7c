package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain/oauth"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/repository"
)

const (
	clientSecretBytes = 32
	secretHashCost    = 12
)

// dummySecretHash is compared against when the client ID is unknown, so
// authentication takes the same time whether the ID exists or not.
var dummySecretHash = func() string {
	h, err := bcrypt.GenerateFromPassword([]byte("karasu-lab-auth-dummy"), secretHashCost)
	if err != nil {
		panic(err)
	}
	return string(h)
}()

// ClientService is the registry of third-party OAuth clients.
type ClientService struct {
	clients repository.ClientRepository
	ledger  *LedgerService
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewClientService wires dependencies.
func NewClientService(clients repository.ClientRepository, ledger *LedgerService, logger *zap.Logger) *ClientService {
	return &ClientService{
		clients: clients,
		ledger:  ledger,
		logger:  logger,
		tracer:  otel.Tracer("github.com/Hashibutogarasu/karasu-lab-auth/internal/service"),
	}
}

// Create registers a client owned by owner. The plaintext secret is returned
// exactly once; only its bcrypt hash is stored. The client's permission mask
// is frozen from the owner's role mask at this moment and never recomputed.
func (s *ClientService) Create(ctx context.Context, owner domain.User, name string, redirectURIs []string) (domain.Client, string, error) {
	ctx, span := s.tracer.Start(ctx, "ClientService.Create")
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" || len(redirectURIs) == 0 {
		return domain.Client{}, "", fmt.Errorf("client name and redirect uris required: %w", oauth.ErrInvalidRequest)
	}
	for _, uri := range redirectURIs {
		if strings.TrimSpace(uri) == "" {
			return domain.Client{}, "", fmt.Errorf("empty redirect uri: %w", oauth.ErrInvalidRequest)
		}
	}

	secret, err := randomSecret()
	if err != nil {
		return domain.Client{}, "", fmt.Errorf("generate client secret: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), secretHashCost)
	if err != nil {
		return domain.Client{}, "", fmt.Errorf("hash client secret: %w", err)
	}

	client := domain.Client{
		ID:             uuid.NewString(),
		SecretHash:     string(hash),
		Name:           name,
		RedirectURIs:   redirectURIs,
		OwnerUserID:    owner.ID,
		PermissionMask: owner.RoleMask,
	}
	if err := s.clients.Create(ctx, client); err != nil {
		span.RecordError(err)
		return domain.Client{}, "", fmt.Errorf("persist client: %w", err)
	}

	audit(s.logger, "client.created", "client_id", client.ID, "owner_user_id", owner.ID)
	return client, secret, nil
}

// Authenticate verifies client credentials. Unknown IDs and wrong secrets
// produce the same ErrInvalidClient, and both paths cost one bcrypt compare.
func (s *ClientService) Authenticate(ctx context.Context, clientID, secret string) (domain.Client, error) {
	client, lookupErr := s.clients.GetByID(ctx, clientID)

	hash := client.SecretHash
	if lookupErr != nil || hash == "" {
		hash = dummySecretHash
	}
	compareErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))

	if lookupErr != nil {
		if errors.Is(lookupErr, pgx.ErrNoRows) {
			return domain.Client{}, fmt.Errorf("client %s: %w", clientID, oauth.ErrInvalidClient)
		}
		return domain.Client{}, fmt.Errorf("lookup client: %w", lookupErr)
	}
	if compareErr != nil {
		return domain.Client{}, fmt.Errorf("client %s: %w", clientID, oauth.ErrInvalidClient)
	}
	return client, nil
}

// Get loads a client by ID.
func (s *ClientService) Get(ctx context.Context, clientID string) (domain.Client, error) {
	client, err := s.clients.GetByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Client{}, fmt.Errorf("client %s: %w", clientID, oauth.ErrInvalidClient)
		}
		return domain.Client{}, fmt.Errorf("lookup client: %w", err)
	}
	return client, nil
}

// ListByOwner returns the requester's clients. Secret hashes are stripped;
// there is nothing useful a caller could do with them.
func (s *ClientService) ListByOwner(ctx context.Context, ownerUserID int64) ([]domain.Client, error) {
	clients, err := s.clients.ListByOwner(ctx, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	for i := range clients {
		clients[i].SecretHash = ""
	}
	return clients, nil
}

// RegenerateSecret rotates the client secret and cascade-invalidates every
// granted token for the client, across all users. Owner-only.
func (s *ClientService) RegenerateSecret(ctx context.Context, clientID string, requester domain.User) (string, error) {
	ctx, span := s.tracer.Start(ctx, "ClientService.RegenerateSecret")
	defer span.End()

	client, err := s.Get(ctx, clientID)
	if err != nil {
		return "", err
	}
	if client.OwnerUserID != requester.ID {
		return "", fmt.Errorf("user %d does not own client %s: %w", requester.ID, clientID, oauth.ErrForbidden)
	}

	secret, err := randomSecret()
	if err != nil {
		return "", fmt.Errorf("generate client secret: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), secretHashCost)
	if err != nil {
		return "", fmt.Errorf("hash client secret: %w", err)
	}
	if err := s.clients.UpdateSecret(ctx, clientID, string(hash)); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("persist client secret: %w", err)
	}

	// Tokens issued under the old secret may be in hostile hands; rotation
	// is a blast-radius operation.
	if err := s.ledger.CascadeInvalidate(ctx, clientID); err != nil {
		span.RecordError(err)
		return "", err
	}

	audit(s.logger, "client.secret_rotated", "client_id", clientID, "owner_user_id", requester.ID)
	return secret, nil
}

// Delete removes the client and cascade-invalidates its tokens. Owner-only.
func (s *ClientService) Delete(ctx context.Context, clientID string, requester domain.User) error {
	ctx, span := s.tracer.Start(ctx, "ClientService.Delete")
	defer span.End()

	client, err := s.Get(ctx, clientID)
	if err != nil {
		return err
	}
	if client.OwnerUserID != requester.ID {
		return fmt.Errorf("user %d does not own client %s: %w", requester.ID, clientID, oauth.ErrForbidden)
	}

	if err := s.clients.Delete(ctx, clientID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete client: %w", err)
	}
	if err := s.ledger.CascadeInvalidate(ctx, clientID); err != nil {
		span.RecordError(err)
		return err
	}

	audit(s.logger, "client.deleted", "client_id", clientID, "owner_user_id", requester.ID)
	return nil
}

func randomSecret() (string, error) {
	buf := make([]byte, clientSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
