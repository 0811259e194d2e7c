package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/config"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain/oauth"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/jwt"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/repository"
)

// TokenPair is the result of a grant or rotation: two RS256 JWTs sharing one
// jti with different expiry horizons.
type TokenPair struct {
	JTI          string
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
	Scope        string
}

// LedgerService owns the granted-token ledger, the single source of truth
// for whether a bearer token is still live.
type LedgerService struct {
	tokens repository.TokenRepository
	jwt    *jwt.Generator
	cfg    config.Config
	logger *zap.Logger
	tracer trace.Tracer
}

// NewLedgerService wires dependencies.
func NewLedgerService(tokens repository.TokenRepository, generator *jwt.Generator, cfg config.Config, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		tokens: tokens,
		jwt:    generator,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("github.com/Hashibutogarasu/karasu-lab-auth/internal/service"),
	}
}

// Grant creates a ledger row under a fresh jti and signs the token pair.
func (s *LedgerService) Grant(ctx context.Context, userID int64, clientID string, mask uint64, scope, issuer string) (*TokenPair, error) {
	ctx, span := s.tracer.Start(ctx, "LedgerService.Grant")
	defer span.End()

	jti := uuid.NewString()
	row := domain.GrantedToken{
		JTI:            jti,
		UserID:         userID,
		ClientID:       clientID,
		PermissionMask: mask,
		Scope:          scope,
		ExpiresAt:      time.Now().Add(s.cfg.RefreshTokenTTL),
	}
	if err := s.tokens.Create(ctx, row); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("persist granted token: %w", err)
	}

	pair, err := s.signPair(ctx, row, issuer)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.audit("token.granted", "jti", jti, "user_id", userID, "client_id", clientID)
	return pair, nil
}

// Verify checks the token cryptographically and then against the ledger.
// A missing or revoked row kills the token no matter how valid the
// signature still is; this check is deliberately uncached.
func (s *LedgerService) Verify(ctx context.Context, token, issuer, wantUse string) (domain.GrantedToken, *gojwt.Claims, *jwt.TokenClaims, error) {
	std, custom, err := s.jwt.Verify(ctx, token, issuer)
	if err != nil {
		return domain.GrantedToken{}, nil, nil, err
	}
	if wantUse != "" && custom.TokenUse != wantUse {
		return domain.GrantedToken{}, nil, nil, fmt.Errorf("token use %q: %w", custom.TokenUse, oauth.ErrInvalidToken)
	}

	row, err := s.tokens.GetByJTI(ctx, std.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.GrantedToken{}, nil, nil, fmt.Errorf("jti %s: %w", std.ID, oauth.ErrTokenRevoked)
		}
		return domain.GrantedToken{}, nil, nil, fmt.Errorf("lookup granted token: %w", err)
	}
	if row.Revoked {
		return domain.GrantedToken{}, nil, nil, fmt.Errorf("jti %s: %w", std.ID, oauth.ErrTokenRevoked)
	}

	return row, std, custom, nil
}

// Rotate redeems a refresh token for a new pair. The old ledger row is
// deleted and a new one inserted in a single transaction; redeeming an
// already-rotated refresh token therefore fails, which is how replay is
// detected.
func (s *LedgerService) Rotate(ctx context.Context, refreshToken, issuer string) (*TokenPair, domain.GrantedToken, error) {
	ctx, span := s.tracer.Start(ctx, "LedgerService.Rotate")
	defer span.End()

	old, _, _, err := s.Verify(ctx, refreshToken, issuer, jwt.UseRefresh)
	if err != nil {
		if errors.Is(err, oauth.ErrTokenRevoked) {
			// The signature is ours but the row is gone or dead: a
			// rotated-away or revoked refresh token is a grant failure.
			return nil, domain.GrantedToken{}, fmt.Errorf("refresh token replay: %w", oauth.ErrInvalidGrant)
		}
		return nil, domain.GrantedToken{}, err
	}

	next := domain.GrantedToken{
		JTI:            uuid.NewString(),
		UserID:         old.UserID,
		ClientID:       old.ClientID,
		PermissionMask: old.PermissionMask,
		Scope:          old.Scope,
		ExpiresAt:      time.Now().Add(s.cfg.RefreshTokenTTL),
	}
	if err := s.tokens.Rotate(ctx, old.JTI, next); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.GrantedToken{}, fmt.Errorf("refresh token replay: %w", oauth.ErrInvalidGrant)
		}
		span.RecordError(err)
		return nil, domain.GrantedToken{}, fmt.Errorf("rotate granted token: %w", err)
	}

	pair, err := s.signPair(ctx, next, issuer)
	if err != nil {
		span.RecordError(err)
		return nil, domain.GrantedToken{}, err
	}

	s.audit("token.rotated", "old_jti", old.JTI, "jti", next.JTI, "user_id", next.UserID, "client_id", next.ClientID)
	return pair, next, nil
}

// RevokeJTI marks the ledger row revoked. Idempotent: revoking an unknown or
// already-revoked jti is a no-op.
func (s *LedgerService) RevokeJTI(ctx context.Context, jti string) error {
	if err := s.tokens.Revoke(ctx, jti); err != nil {
		return err
	}
	s.audit("token.revoked", "jti", jti)
	return nil
}

// GetRow loads the ledger row for a jti.
func (s *LedgerService) GetRow(ctx context.Context, jti string) (domain.GrantedToken, error) {
	return s.tokens.GetByJTI(ctx, jti)
}

// DecodeJTI extracts the jti from a token without verification, so expired
// tokens stay revocable.
func (s *LedgerService) DecodeJTI(token string) (string, error) {
	return s.jwt.DecodeJTI(token)
}

// CascadeInvalidate deletes every ledger row for the client across all
// users. Secret rotation and client deletion both funnel through here.
func (s *LedgerService) CascadeInvalidate(ctx context.Context, clientID string) error {
	ctx, span := s.tracer.Start(ctx, "LedgerService.CascadeInvalidate")
	defer span.End()

	n, err := s.tokens.DeleteByClient(ctx, clientID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("cascade invalidate: %w", err)
	}
	s.audit("token.cascade_invalidated", "client_id", clientID, "revoked", n)
	return nil
}

func (s *LedgerService) signPair(ctx context.Context, row domain.GrantedToken, issuer string) (*TokenPair, error) {
	access, err := s.jwt.Sign(ctx, jwt.SignRequest{
		JTI: row.JTI, UserID: row.UserID, ClientID: row.ClientID,
		Scope: row.Scope, Issuer: issuer,
		TokenUse: jwt.UseAccess, TTL: s.cfg.AccessTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.jwt.Sign(ctx, jwt.SignRequest{
		JTI: row.JTI, UserID: row.UserID, ClientID: row.ClientID,
		Scope: row.Scope, Issuer: issuer,
		TokenUse: jwt.UseRefresh, TTL: s.cfg.RefreshTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{
		JTI:          row.JTI,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.cfg.AccessTokenTTL.Seconds()),
		Scope:        row.Scope,
	}, nil
}

func (s *LedgerService) audit(event string, attrs ...any) {
	audit(s.logger, event, attrs...)
}
