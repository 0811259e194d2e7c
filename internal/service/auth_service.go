package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/config"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain/oauth"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/jwt"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/password"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/repository"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/scope"
)

// AuthService handles first-party password login. Successful logins are
// recorded in the granted-token ledger under the built-in first-party
// client, with the user's full role mask as the granted scope.
type AuthService struct {
	users  repository.UserRepository
	ledger *LedgerService
	cfg    config.Config
	logger *zap.Logger
	tracer trace.Tracer
}

// NewAuthService wires dependencies.
func NewAuthService(users repository.UserRepository, ledger *LedgerService, cfg config.Config, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:  users,
		ledger: ledger,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("github.com/Hashibutogarasu/karasu-lab-auth/internal/service"),
	}
}

// Login verifies the password and issues a first-party token pair. Unknown
// emails and wrong passwords are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, pass string) (*TokenPair, domain.User, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Login")
	defer span.End()

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Burn a hash anyway so the timing does not reveal whether
			// the email exists.
			_, _ = password.Verify(pass, mustDummyPasswordHash)
			return nil, domain.User{}, fmt.Errorf("login failed: %w", oauth.ErrInvalidGrant)
		}
		return nil, domain.User{}, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := password.Verify(pass, user.PasswordHash)
	if err != nil || !ok {
		audit(s.logger, "login.failed", "user_id", user.ID)
		return nil, domain.User{}, fmt.Errorf("login failed: %w", oauth.ErrInvalidGrant)
	}
	if user.Status != domain.UserStatusActive {
		return nil, domain.User{}, fmt.Errorf("user %d is %s: %w", user.ID, user.Status, oauth.ErrForbidden)
	}

	pair, err := s.ledger.Grant(ctx, user.ID, s.cfg.FirstPartyClientID, user.RoleMask,
		scope.Format(user.RoleMask, []string{"openid", "profile", "email"}), s.cfg.Issuer)
	if err != nil {
		span.RecordError(err)
		return nil, domain.User{}, err
	}

	audit(s.logger, "login.succeeded", "user_id", user.ID)
	return pair, user, nil
}

// Identify resolves a bearer access token to its user. Middleware uses this
// to populate the request principal.
func (s *AuthService) Identify(ctx context.Context, accessToken string) (domain.User, domain.GrantedToken, error) {
	row, _, _, err := s.ledger.Verify(ctx, accessToken, s.cfg.Issuer, jwt.UseAccess)
	if err != nil {
		return domain.User{}, domain.GrantedToken{}, err
	}
	user, err := s.users.GetByID(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.GrantedToken{}, fmt.Errorf("subject gone: %w", oauth.ErrInvalidToken)
		}
		return domain.User{}, domain.GrantedToken{}, fmt.Errorf("load user: %w", err)
	}
	return user, row, nil
}

// mustDummyPasswordHash is a valid argon2id hash of a throwaway value, used
// to equalize timing on unknown-email logins.
var mustDummyPasswordHash = func() string {
	h, err := password.Hash("karasu-lab-auth-dummy")
	if err != nil {
		panic(err)
	}
	return h
}()
