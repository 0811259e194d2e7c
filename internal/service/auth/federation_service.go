// Package auth implements federated (SNS) login against external identity
// providers. The round trip is standard authorization-code with PKCE on the
// outbound side; successful callbacks land in the local granted-token ledger
// like any other login.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	oauthadapter "github.com/Hashibutogarasu/karasu-lab-auth/internal/adapter/oauth"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/config"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain"
	domainoauth "github.com/Hashibutogarasu/karasu-lab-auth/internal/domain/oauth"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/repository"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/scope"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/service"
)

const (
	statePrefix = "federation:state:"
	stateTTL    = 5 * time.Minute
)

// defaultRoleMask is granted to users auto-provisioned through federation.
const defaultRoleMask = scope.UserRead

// Provider is the public shape of a configured external IdP.
type Provider struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	IconURL     string `json:"icon_url,omitempty"`
}

// StartInput contains parameters for constructing an authorization URL.
type StartInput struct {
	Provider    string
	RedirectURI string
	Scopes      []string
}

// StartOutput returns the prepared authorization URL and CSRF metadata.
type StartOutput struct {
	AuthorizationURL string
	State            string
	Nonce            string
}

// CallbackInput captures the provider callback query parameters.
type CallbackInput struct {
	Provider    string
	Code        string
	State       string
	RedirectURI string
}

// Session is the local session established by a successful callback.
type Session struct {
	User   domain.User
	Tokens *service.TokenPair
}

// FederationService drives the outbound OAuth round trip.
type FederationService struct {
	providers repository.ProviderRepository
	states    repository.StateStore
	client    oauthadapter.ProviderClient
	users     repository.UserRepository
	ledger    *service.LedgerService
	cfg       config.Config
	logger    *zap.Logger
}

// NewFederationService wires dependencies.
func NewFederationService(
	providers repository.ProviderRepository,
	states repository.StateStore,
	client oauthadapter.ProviderClient,
	users repository.UserRepository,
	ledger *service.LedgerService,
	cfg config.Config,
	logger *zap.Logger,
) *FederationService {
	return &FederationService{
		providers: providers,
		states:    states,
		client:    client,
		users:     users,
		ledger:    ledger,
		cfg:       cfg,
		logger:    logger,
	}
}

// ListProviders returns the configured external IdPs. Client secrets never
// leave this package.
func (s *FederationService) ListProviders(ctx context.Context) ([]Provider, error) {
	configs, err := s.providers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	providers := make([]Provider, 0, len(configs))
	for _, cfg := range configs {
		providers = append(providers, Provider{
			Name:        cfg.ProviderName,
			DisplayName: cfg.DisplayName,
			IconURL:     cfg.IconURL,
		})
	}
	return providers, nil
}

// StartAuthorization builds the provider authorization URL and persists the
// state/nonce/verifier tuple for the callback.
func (s *FederationService) StartAuthorization(ctx context.Context, in StartInput) (*StartOutput, error) {
	provider := strings.TrimSpace(in.Provider)
	redirect := strings.TrimSpace(in.RedirectURI)
	if provider == "" || redirect == "" {
		return nil, fmt.Errorf("provider and redirect_uri required: %w", domainoauth.ErrInvalidRequest)
	}

	cfg, err := s.providers.GetByName(ctx, provider)
	if err != nil {
		if errors.Is(err, domainoauth.ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}

	state, err := secureRandomString(32)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	nonce, err := secureRandomString(32)
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	codeVerifier, err := secureRandomString(64)
	if err != nil {
		return nil, fmt.Errorf("generate pkce verifier: %w", err)
	}

	authURL, err := url.Parse(cfg.AuthURL)
	if err != nil {
		return nil, fmt.Errorf("parse auth url: %w", err)
	}

	scopes := in.Scopes
	if len(scopes) == 0 {
		scopes = cfg.Scopes
	}
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email"}
	}

	params := authURL.Query()
	params.Set("client_id", cfg.ClientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", redirect)
	params.Set("scope", strings.Join(scopes, " "))
	params.Set("state", state)
	params.Set("nonce", nonce)
	params.Set("code_challenge", pkceChallenge(codeVerifier))
	params.Set("code_challenge_method", "S256")
	authURL.RawQuery = params.Encode()

	payload := domainoauth.State{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: codeVerifier,
		Provider:     cfg.ProviderName,
		RedirectURI:  redirect,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.states.SaveState(ctx, statePrefix+state, payload, stateTTL); err != nil {
		return nil, fmt.Errorf("persist state: %w", err)
	}

	return &StartOutput{
		AuthorizationURL: authURL.String(),
		State:            state,
		Nonce:            nonce,
	}, nil
}

// HandleCallback redeems the provider callback. The persisted state is
// consumed before anything else, so a replayed callback fails on state
// lookup regardless of what the provider would say about the code.
func (s *FederationService) HandleCallback(ctx context.Context, in CallbackInput) (*Session, error) {
	if strings.TrimSpace(in.State) == "" || strings.TrimSpace(in.Code) == "" {
		return nil, fmt.Errorf("state and code required: %w", domainoauth.ErrInvalidRequest)
	}

	state, err := s.states.ConsumeState(ctx, statePrefix+strings.TrimSpace(in.State))
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if state == nil {
		return nil, fmt.Errorf("unknown or expired state: %w", domainoauth.ErrInvalidState)
	}
	if !strings.EqualFold(state.Provider, in.Provider) {
		return nil, fmt.Errorf("provider mismatch: %w", domainoauth.ErrInvalidState)
	}
	if redirect := strings.TrimSpace(in.RedirectURI); redirect != "" && redirect != state.RedirectURI {
		return nil, fmt.Errorf("redirect mismatch: %w", domainoauth.ErrInvalidState)
	}

	cfg, err := s.providers.GetByName(ctx, state.Provider)
	if err != nil {
		if errors.Is(err, domainoauth.ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}

	tokenResp, err := s.client.ExchangeCode(ctx, *cfg, in.Code, state.CodeVerifier, state.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	if strings.TrimSpace(tokenResp.AccessToken) == "" {
		return nil, fmt.Errorf("provider returned no access token: %w", domainoauth.ErrInvalidGrant)
	}

	info, err := s.client.FetchUserInfo(ctx, *cfg, tokenResp.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	if strings.TrimSpace(info.Email) == "" {
		return nil, fmt.Errorf("provider userinfo missing email: %w", domainoauth.ErrInvalidGrant)
	}

	user, err := s.ensureUser(ctx, info)
	if err != nil {
		return nil, err
	}
	if user.Status != domain.UserStatusActive {
		return nil, fmt.Errorf("user %d is %s: %w", user.ID, user.Status, domainoauth.ErrForbidden)
	}

	pair, err := s.ledger.Grant(ctx, user.ID, s.cfg.FirstPartyClientID, user.RoleMask,
		scope.Format(user.RoleMask, []string{"openid", "profile", "email"}), s.cfg.Issuer)
	if err != nil {
		return nil, err
	}

	s.logger.Info("federated login",
		zap.String("provider", cfg.ProviderName),
		zap.Int64("user_id", user.ID),
	)
	return &Session{User: user, Tokens: pair}, nil
}

// ensureUser links the provider identity to a local account by email,
// creating one on first login.
func (s *FederationService) ensureUser(ctx context.Context, info *domainoauth.ProviderUserInfo) (domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(info.Email))
	user, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}

	name := strings.TrimSpace(info.Name)
	if name == "" {
		name = email
	}
	created, err := s.users.Create(ctx, domain.User{
		Email:         email,
		EmailVerified: true,
		Name:          name,
		RoleMask:      defaultRoleMask,
		Status:        domain.UserStatusActive,
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

func secureRandomString(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
