package oauth

import "time"

// ProviderConfig stores the configuration of an external identity provider
// used for federated (SNS) login.
type ProviderConfig struct {
	ProviderName string
	DisplayName  string
	IconURL      string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// State captures the state/nonce/PKCE tuple persisted while a federated
// authorization round-trip is in flight. Single use, short TTL.
type State struct {
	State        string
	Nonce        string
	CodeVerifier string
	Provider     string
	RedirectURI  string
	CreatedAt    time.Time
}

// ProviderTokenResponse models the response of an external IdP token endpoint.
type ProviderTokenResponse struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	TokenType    string
	IDToken      string
	Scope        string
	Raw          map[string]any
}

// ProviderUserInfo is the normalized profile returned by external IdPs.
type ProviderUserInfo struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}
