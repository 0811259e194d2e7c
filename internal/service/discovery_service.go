package service

import (
	"fmt"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/config"
)

// DiscoveryService builds responses for the well-known endpoints.
type DiscoveryService struct {
	cfg config.Config
}

// NewDiscoveryService wires dependencies.
func NewDiscoveryService(cfg config.Config) *DiscoveryService {
	return &DiscoveryService{cfg: cfg}
}

// OpenIDConfiguration matches the OIDC discovery document.
type OpenIDConfiguration struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	UserinfoEndpoint              string   `json:"userinfo_endpoint"`
	RevocationEndpoint            string   `json:"revocation_endpoint"`
	IntrospectionEndpoint         string   `json:"introspection_endpoint"`
	JWKSURI                       string   `json:"jwks_uri"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	GrantTypesSupported           []string `json:"grant_types_supported"`
	SubjectTypesSupported         []string `json:"subject_types_supported"`
	SigningAlgValuesSupported     []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported               []string `json:"scopes_supported"`
	TokenEndpointAuthMethods      []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
	ClaimsSupported               []string `json:"claims_supported"`
}

// OpenIDConfigurationResponse builds the discovery document from the
// configured issuer.
func (s *DiscoveryService) OpenIDConfigurationResponse() OpenIDConfiguration {
	base := s.cfg.Issuer
	return OpenIDConfiguration{
		Issuer:                        base,
		AuthorizationEndpoint:         fmt.Sprintf("%s/oauth/authorize", base),
		TokenEndpoint:                 fmt.Sprintf("%s/oauth/token", base),
		UserinfoEndpoint:              fmt.Sprintf("%s/oauth/userinfo", base),
		RevocationEndpoint:            fmt.Sprintf("%s/oauth/revoke", base),
		IntrospectionEndpoint:         fmt.Sprintf("%s/oauth/introspect", base),
		JWKSURI:                       fmt.Sprintf("%s/.well-known/jwks.json", base),
		ResponseTypesSupported:        []string{"code"},
		GrantTypesSupported:           []string{"authorization_code", "refresh_token"},
		SubjectTypesSupported:         []string{"public"},
		SigningAlgValuesSupported:     []string{"RS256"},
		ScopesSupported:               []string{"openid", "profile", "email", "address", "phone"},
		TokenEndpointAuthMethods:      []string{"client_secret_basic", "client_secret_post"},
		CodeChallengeMethodsSupported: []string{"S256", "plain"},
		ClaimsSupported:               []string{"sub", "email", "email_verified", "name"},
	}
}
