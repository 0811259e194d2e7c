// Package bootstrap seeds the records the server cannot run without: the
// admin user and the built-in first-party client.
package bootstrap

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/config"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/password"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/repository"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/scope"
)

const adminRoleMask = scope.UserRead | scope.UserWrite | scope.UserDelete |
	scope.ClientRead | scope.ClientWrite | scope.AdminRead | scope.AdminWrite

// EnsureSeed creates the admin user and first-party client on startup when
// missing.
func EnsureSeed(lc fx.Lifecycle, cfg config.Config, users repository.UserRepository, clients repository.ClientRepository, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			admin, err := ensureAdmin(ctx, cfg, users, logger)
			if err != nil {
				return err
			}
			return ensureFirstPartyClient(ctx, cfg, clients, admin, logger)
		},
	})
}

func ensureAdmin(ctx context.Context, cfg config.Config, users repository.UserRepository, logger *zap.Logger) (domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))

	existing, err := users.GetByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, fmt.Errorf("bootstrap lookup admin: %w", err)
	}

	hashed, err := password.Hash(cfg.AdminPassword)
	if err != nil {
		return domain.User{}, fmt.Errorf("bootstrap hash password: %w", err)
	}

	created, err := users.Create(ctx, domain.User{
		Email:         email,
		EmailVerified: true,
		PasswordHash:  hashed,
		Name:          "Admin",
		RoleMask:      adminRoleMask,
		Status:        domain.UserStatusActive,
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("bootstrap create admin: %w", err)
	}

	logger.Info("bootstrap admin user created",
		zap.String("email", created.Email),
		zap.Int64("user_id", created.ID),
	)
	return created, nil
}

// ensureFirstPartyClient seeds the client row that password and federated
// logins are recorded under. Its secret is random and discarded; the
// first-party client never authenticates at the token endpoint.
func ensureFirstPartyClient(ctx context.Context, cfg config.Config, clients repository.ClientRepository, admin domain.User, logger *zap.Logger) error {
	if _, err := clients.GetByID(ctx, cfg.FirstPartyClientID); err == nil {
		return nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("bootstrap lookup first-party client: %w", err)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("bootstrap client secret: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(base64.RawURLEncoding.EncodeToString(secret)), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("bootstrap hash client secret: %w", err)
	}

	if err := clients.Create(ctx, domain.Client{
		ID:             cfg.FirstPartyClientID,
		SecretHash:     string(hash),
		Name:           "First-party web",
		RedirectURIs:   []string{cfg.Issuer},
		OwnerUserID:    admin.ID,
		PermissionMask: admin.RoleMask,
	}); err != nil {
		return fmt.Errorf("bootstrap create first-party client: %w", err)
	}

	logger.Info("bootstrap first-party client created",
		zap.String("client_id", cfg.FirstPartyClientID),
	)
	return nil
}
