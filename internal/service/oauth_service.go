package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/config"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain/oauth"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/jwt"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/repository"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/scope"
)

const authCodeBytes = 32

// ClientCredentials carries the client ID and secret extracted from a token
// endpoint request, via either HTTP Basic or the form body but never both.
type ClientCredentials struct {
	ID     string
	Secret string
}

// AuthorizeRequest is a validated-to-be authorization request from the
// consent surface.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Introspection is the state of a token as reported by the introspection
// endpoint.
type Introspection struct {
	Active   bool   `json:"active"`
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Subject  string `json:"sub,omitempty"`
	TokenUse string `json:"token_use,omitempty"`
	JTI      string `json:"jti,omitempty"`
	Expiry   int64  `json:"exp,omitempty"`
}

// UserInfoClaims is the OIDC userinfo response, filtered by granted scope.
type UserInfoClaims struct {
	Subject       string `json:"sub"`
	Name          string `json:"name,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
}

// OAuthService orchestrates the authorization-code flow end to end: code
// issuance, exchange, refresh rotation and revocation.
type OAuthService struct {
	clients *ClientService
	ledger  *LedgerService
	codes   repository.CodeRepository
	users   repository.UserRepository
	engine  scope.Engine
	cfg     config.Config
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewOAuthService wires dependencies.
func NewOAuthService(
	clients *ClientService,
	ledger *LedgerService,
	codes repository.CodeRepository,
	users repository.UserRepository,
	cfg config.Config,
	logger *zap.Logger,
) *OAuthService {
	return &OAuthService{
		clients: clients,
		ledger:  ledger,
		codes:   codes,
		users:   users,
		engine:  scope.Engine{DropUnknown: cfg.ScopeDropUnknown},
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("github.com/Hashibutogarasu/karasu-lab-auth/internal/service"),
	}
}

// Authorize issues a single-use authorization code for user. The plaintext
// code goes back to the caller for the redirect; only its SHA-256 hash is
// stored. Scope capping happens here, at issuance, so the code already
// carries the granted scope.
func (s *OAuthService) Authorize(ctx context.Context, user domain.User, req AuthorizeRequest) (string, error) {
	ctx, span := s.tracer.Start(ctx, "OAuthService.Authorize")
	defer span.End()

	client, err := s.clients.Get(ctx, req.ClientID)
	if err != nil {
		return "", err
	}
	if !client.AllowsRedirect(req.RedirectURI) {
		return "", fmt.Errorf("redirect uri %q not registered: %w", req.RedirectURI, oauth.ErrInvalidRedirectURI)
	}

	method, err := normalizeChallenge(req.CodeChallenge, req.CodeChallengeMethod)
	if err != nil {
		return "", err
	}

	parsed, err := s.engine.Parse(req.Scope)
	if err != nil {
		return "", err
	}
	granted := scope.Cap(user.RoleMask, parsed.Mask, client.PermissionMask)
	grantedScope := scope.Format(granted, parsed.Passthrough)

	code, err := randomSecret()
	if err != nil {
		return "", fmt.Errorf("generate authorization code: %w", err)
	}

	row := domain.AuthorizationCode{
		CodeHash:            hashCode(code),
		ClientID:            client.ID,
		UserID:              user.ID,
		RedirectURI:         req.RedirectURI,
		Scope:               grantedScope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		ExpiresAt:           time.Now().Add(s.cfg.AuthCodeTTL),
	}
	if err := s.codes.Create(ctx, row); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("persist authorization code: %w", err)
	}

	audit(s.logger, "code.issued", "client_id", client.ID, "user_id", user.ID, "scope", grantedScope)
	return code, nil
}

// Exchange redeems an authorization code for a token pair. The code is
// consumed atomically before any validation, so a failed exchange still
// burns it.
func (s *OAuthService) Exchange(ctx context.Context, creds ClientCredentials, code, redirectURI, codeVerifier string) (*TokenPair, error) {
	ctx, span := s.tracer.Start(ctx, "OAuthService.Exchange")
	defer span.End()

	client, err := s.clients.Authenticate(ctx, creds.ID, creds.Secret)
	if err != nil {
		return nil, err
	}

	row, err := s.codes.Consume(ctx, hashCode(code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("unknown or already used code: %w", oauth.ErrInvalidGrant)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("consume authorization code: %w", err)
	}

	switch {
	case row.Expired(time.Now()):
		return nil, fmt.Errorf("code expired: %w", oauth.ErrInvalidGrant)
	case row.ClientID != client.ID:
		return nil, fmt.Errorf("code issued to a different client: %w", oauth.ErrInvalidGrant)
	case row.RedirectURI != redirectURI:
		return nil, fmt.Errorf("redirect uri mismatch: %w", oauth.ErrInvalidGrant)
	}
	if err := verifyPKCE(row.CodeChallenge, row.CodeChallengeMethod, codeVerifier); err != nil {
		return nil, err
	}

	// The stored scope was capped at issuance; parsing it back just
	// splits it into mask and pass-through halves for the ledger row.
	parsed, err := scope.Engine{DropUnknown: true}.Parse(row.Scope)
	if err != nil {
		return nil, fmt.Errorf("parse granted scope: %w", err)
	}

	pair, err := s.ledger.Grant(ctx, row.UserID, client.ID, parsed.Mask, row.Scope, s.cfg.Issuer)
	if err != nil {
		return nil, err
	}
	audit(s.logger, "code.exchanged", "client_id", client.ID, "user_id", row.UserID, "jti", pair.JTI)
	return pair, nil
}

// Refresh rotates a refresh token into a new pair. Ownership is checked
// before rotation so a foreign client cannot burn another client's grant.
func (s *OAuthService) Refresh(ctx context.Context, creds ClientCredentials, refreshToken string) (*TokenPair, error) {
	ctx, span := s.tracer.Start(ctx, "OAuthService.Refresh")
	defer span.End()

	client, err := s.clients.Authenticate(ctx, creds.ID, creds.Secret)
	if err != nil {
		return nil, err
	}

	row, _, _, err := s.ledger.Verify(ctx, refreshToken, s.cfg.Issuer, jwt.UseRefresh)
	if err != nil {
		if errors.Is(err, oauth.ErrTokenRevoked) {
			return nil, fmt.Errorf("refresh token no longer live: %w", oauth.ErrInvalidGrant)
		}
		return nil, err
	}
	if row.ClientID != client.ID {
		return nil, fmt.Errorf("refresh token issued to a different client: %w", oauth.ErrInvalidGrant)
	}

	pair, _, err := s.ledger.Rotate(ctx, refreshToken, s.cfg.Issuer)
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Revoke marks the token's ledger row revoked. Per RFC 7009 the operation is
// idempotent: malformed and unknown tokens succeed silently. A token owned by
// another client is the one case that fails.
func (s *OAuthService) Revoke(ctx context.Context, creds ClientCredentials, token string) error {
	ctx, span := s.tracer.Start(ctx, "OAuthService.Revoke")
	defer span.End()

	client, err := s.clients.Authenticate(ctx, creds.ID, creds.Secret)
	if err != nil {
		return err
	}

	jti, err := s.ledger.DecodeJTI(token)
	if err != nil {
		return nil
	}
	row, err := s.ledger.GetRow(ctx, jti)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("lookup granted token: %w", err)
	}
	if row.ClientID != client.ID {
		return fmt.Errorf("token issued to a different client: %w", oauth.ErrForbidden)
	}

	return s.ledger.RevokeJTI(ctx, jti)
}

// Introspect reports whether a token is live, per RFC 7662. Every failure
// mode collapses to active=false; callers learn nothing about why.
func (s *OAuthService) Introspect(ctx context.Context, creds ClientCredentials, token string) (Introspection, error) {
	if _, err := s.clients.Authenticate(ctx, creds.ID, creds.Secret); err != nil {
		return Introspection{}, err
	}

	row, std, custom, err := s.ledger.Verify(ctx, token, s.cfg.Issuer, "")
	if err != nil {
		if errors.Is(err, oauth.ErrInvalidToken) || errors.Is(err, oauth.ErrTokenRevoked) {
			return Introspection{Active: false}, nil
		}
		return Introspection{}, err
	}

	return Introspection{
		Active:   true,
		Scope:    row.Scope,
		ClientID: row.ClientID,
		Subject:  std.Subject,
		TokenUse: custom.TokenUse,
		JTI:      row.JTI,
		Expiry:   std.Expiry.Time().Unix(),
	}, nil
}

// UserInfo answers the OIDC userinfo endpoint. Requires a live access token
// granted with the openid scope; profile and email claims are released only
// when those scopes were granted too.
func (s *OAuthService) UserInfo(ctx context.Context, accessToken string) (UserInfoClaims, error) {
	row, std, _, err := s.ledger.Verify(ctx, accessToken, s.cfg.Issuer, jwt.UseAccess)
	if err != nil {
		return UserInfoClaims{}, err
	}

	grantedScopes := strings.Fields(row.Scope)
	if !containsScope(grantedScopes, "openid") {
		return UserInfoClaims{}, fmt.Errorf("openid scope not granted: %w", oauth.ErrForbidden)
	}

	user, err := s.users.GetByID(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserInfoClaims{}, fmt.Errorf("subject gone: %w", oauth.ErrInvalidToken)
		}
		return UserInfoClaims{}, fmt.Errorf("load user: %w", err)
	}

	claims := UserInfoClaims{Subject: std.Subject}
	if containsScope(grantedScopes, "profile") {
		claims.Name = user.Name
	}
	if containsScope(grantedScopes, "email") {
		claims.Email = user.Email
		verified := user.EmailVerified
		claims.EmailVerified = &verified
	}
	return claims, nil
}

// ResolveClientCredentials extracts client credentials from an Authorization
// header and the form body. Exactly one transport must be used; supplying
// both, or neither, is a malformed request.
func ResolveClientCredentials(authorizationHeader, formID, formSecret string) (ClientCredentials, error) {
	basicID, basicSecret, hasBasic, err := parseBasicAuth(authorizationHeader)
	if err != nil {
		return ClientCredentials{}, err
	}
	hasForm := formID != "" || formSecret != ""

	switch {
	case hasBasic && hasForm:
		return ClientCredentials{}, fmt.Errorf("client credentials in both header and body: %w", oauth.ErrInvalidRequest)
	case hasBasic:
		return ClientCredentials{ID: basicID, Secret: basicSecret}, nil
	case hasForm:
		return ClientCredentials{ID: formID, Secret: formSecret}, nil
	default:
		return ClientCredentials{}, fmt.Errorf("missing client credentials: %w", oauth.ErrInvalidRequest)
	}
}

func parseBasicAuth(header string) (id, secret string, ok bool, err error) {
	if header == "" {
		return "", "", false, nil
	}
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		// A Bearer header on the token endpoint is not client auth.
		return "", "", false, nil
	}
	raw, decodeErr := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, prefix))
	if decodeErr != nil {
		return "", "", false, fmt.Errorf("malformed basic auth: %w", oauth.ErrInvalidRequest)
	}
	id, secret, found := strings.Cut(string(raw), ":")
	if !found {
		return "", "", false, fmt.Errorf("malformed basic auth: %w", oauth.ErrInvalidRequest)
	}
	return id, secret, true, nil
}

// normalizeChallenge validates the PKCE parameters of an authorize request
// and returns the effective method. An empty method with a challenge present
// means plain, per RFC 7636.
func normalizeChallenge(challenge, method string) (string, error) {
	if challenge == "" {
		if method != "" {
			return "", fmt.Errorf("code_challenge_method without code_challenge: %w", oauth.ErrInvalidRequest)
		}
		return "", nil
	}
	switch method {
	case "", "plain":
		return "plain", nil
	case "S256":
		return "S256", nil
	default:
		return "", fmt.Errorf("unsupported code_challenge_method %q: %w", method, oauth.ErrInvalidRequest)
	}
}

// verifyPKCE checks the verifier against the challenge recorded at issuance.
// A code issued with a challenge cannot be redeemed without the verifier.
func verifyPKCE(challenge, method, verifier string) error {
	if challenge == "" {
		return nil
	}
	if verifier == "" {
		return fmt.Errorf("missing code_verifier: %w", oauth.ErrInvalidGrant)
	}

	var derived string
	switch method {
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		derived = base64.RawURLEncoding.EncodeToString(sum[:])
	default:
		derived = verifier
	}
	if subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier mismatch: %w", oauth.ErrInvalidGrant)
	}
	return nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func containsScope(scopes []string, name string) bool {
	for _, s := range scopes {
		if s == name {
			return true
		}
	}
	return false
}
