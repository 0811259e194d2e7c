package handler

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain/oauth"
	httpmiddleware "github.com/Hashibutogarasu/karasu-lab-auth/internal/http/middleware"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/service"
)

// OAuthHandler exposes the protocol endpoints: authorize, token, revoke,
// introspect, userinfo.
type OAuthHandler struct {
	OAuth *service.OAuthService
}

// NewOAuthHandler creates the handler set.
func NewOAuthHandler(oauthService *service.OAuthService) *OAuthHandler {
	return &OAuthHandler{OAuth: oauthService}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

func toTokenResponse(pair *service.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
		Scope:        pair.Scope,
	}
}

type authorizeQuery struct {
	ClientID            string `form:"client_id"`
	ResponseType        string `form:"response_type"`
	RedirectURI         string `form:"redirect_uri"`
	Scope               string `form:"scope"`
	State               string `form:"state"`
	CodeChallenge       string `form:"code_challenge"`
	CodeChallengeMethod string `form:"code_challenge_method"`
}

// Authorize issues an authorization code for the session user and redirects
// back to the client. Failures never redirect: until the redirect URI is
// validated against the client registration there is nowhere safe to send
// the browser, and after validation the remaining failures are server-side.
func (h *OAuthHandler) Authorize(c *gin.Context) {
	user, ok := httpmiddleware.GetPrincipal(c)
	if !ok {
		respondError(c, oauth.ErrInvalidToken)
		return
	}

	var q authorizeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, fmt.Errorf("bind authorize query: %w", oauth.ErrInvalidRequest))
		return
	}
	if !strings.EqualFold(q.ResponseType, "code") {
		respondError(c, fmt.Errorf("response_type %q: %w", q.ResponseType, oauth.ErrInvalidRequest))
		return
	}
	if strings.TrimSpace(q.ClientID) == "" || strings.TrimSpace(q.RedirectURI) == "" {
		respondError(c, fmt.Errorf("client_id and redirect_uri required: %w", oauth.ErrInvalidRequest))
		return
	}
	parsedRedirect, err := url.Parse(q.RedirectURI)
	if err != nil || parsedRedirect.Scheme == "" || parsedRedirect.Host == "" {
		respondError(c, fmt.Errorf("redirect_uri must be absolute: %w", oauth.ErrInvalidRequest))
		return
	}

	code, err := h.OAuth.Authorize(c.Request.Context(), user, service.AuthorizeRequest{
		ClientID:            q.ClientID,
		RedirectURI:         q.RedirectURI,
		Scope:               q.Scope,
		CodeChallenge:       q.CodeChallenge,
		CodeChallengeMethod: q.CodeChallengeMethod,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	query := parsedRedirect.Query()
	query.Set("code", code)
	if q.State != "" {
		query.Set("state", q.State)
	}
	parsedRedirect.RawQuery = query.Encode()
	c.Redirect(http.StatusFound, parsedRedirect.String())
}

// Token handles the token endpoint grants.
func (h *OAuthHandler) Token(c *gin.Context) {
	var req struct {
		GrantType    string `form:"grant_type" binding:"required"`
		Code         string `form:"code"`
		RedirectURI  string `form:"redirect_uri"`
		CodeVerifier string `form:"code_verifier"`
		RefreshToken string `form:"refresh_token"`
		ClientID     string `form:"client_id"`
		ClientSecret string `form:"client_secret"`
	}
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, fmt.Errorf("bind token request: %w", oauth.ErrInvalidRequest))
		return
	}

	creds, err := service.ResolveClientCredentials(c.GetHeader("Authorization"), req.ClientID, req.ClientSecret)
	if err != nil {
		respondError(c, err)
		return
	}

	var pair *service.TokenPair
	switch strings.ToLower(req.GrantType) {
	case "authorization_code":
		pair, err = h.OAuth.Exchange(c.Request.Context(), creds, req.Code, req.RedirectURI, req.CodeVerifier)
	case "refresh_token":
		pair, err = h.OAuth.Refresh(c.Request.Context(), creds, req.RefreshToken)
	default:
		respondError(c, fmt.Errorf("grant_type %q: %w", req.GrantType, oauth.ErrInvalidRequest))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, toTokenResponse(pair))
}

// Revoke processes RFC 7009 revocation. The 200 on unknown tokens is part
// of the contract.
func (h *OAuthHandler) Revoke(c *gin.Context) {
	var req struct {
		Token        string `form:"token" binding:"required"`
		ClientID     string `form:"client_id"`
		ClientSecret string `form:"client_secret"`
	}
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, fmt.Errorf("token is required: %w", oauth.ErrInvalidRequest))
		return
	}
	creds, err := service.ResolveClientCredentials(c.GetHeader("Authorization"), req.ClientID, req.ClientSecret)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.OAuth.Revoke(c.Request.Context(), creds, req.Token); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

// Introspect validates tokens per RFC 7662.
func (h *OAuthHandler) Introspect(c *gin.Context) {
	var req struct {
		Token        string `form:"token" binding:"required"`
		ClientID     string `form:"client_id"`
		ClientSecret string `form:"client_secret"`
	}
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, fmt.Errorf("token is required: %w", oauth.ErrInvalidRequest))
		return
	}
	creds, err := service.ResolveClientCredentials(c.GetHeader("Authorization"), req.ClientID, req.ClientSecret)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.OAuth.Introspect(c.Request.Context(), creds, req.Token)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// UserInfo returns OIDC userinfo claims for the bearer access token.
func (h *OAuthHandler) UserInfo(c *gin.Context) {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		c.Header("WWW-Authenticate", "Bearer")
		respondError(c, oauth.ErrInvalidToken)
		return
	}

	claims, err := h.OAuth.UserInfo(c.Request.Context(), strings.TrimSpace(parts[1]))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, claims)
}
