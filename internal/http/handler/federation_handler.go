package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain/oauth"
	authsvc "github.com/Hashibutogarasu/karasu-lab-auth/internal/service/auth"
)

// FederationHandler serves the SNS login endpoints.
type FederationHandler struct {
	Federation *authsvc.FederationService
}

// NewFederationHandler creates the handler set.
func NewFederationHandler(federation *authsvc.FederationService) *FederationHandler {
	return &FederationHandler{Federation: federation}
}

// Providers lists the configured external IdPs.
func (h *FederationHandler) Providers(c *gin.Context) {
	providers, err := h.Federation.ListProviders(c.Request.Context())
	if err != nil {
		h.respondFederationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers})
}

// Start builds the provider authorization URL.
func (h *FederationHandler) Start(c *gin.Context) {
	provider := strings.TrimSpace(c.Query("provider"))
	redirectURI := strings.TrimSpace(c.Query("redirect_uri"))
	if provider == "" || redirectURI == "" {
		respondError(c, fmt.Errorf("provider and redirect_uri required: %w", oauth.ErrInvalidRequest))
		return
	}
	var scopes []string
	if scopeParam := strings.TrimSpace(c.Query("scope")); scopeParam != "" {
		scopes = strings.Fields(scopeParam)
	}

	out, err := h.Federation.StartAuthorization(c.Request.Context(), authsvc.StartInput{
		Provider:    provider,
		RedirectURI: redirectURI,
		Scopes:      scopes,
	})
	if err != nil {
		h.respondFederationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authorization_url": out.AuthorizationURL,
		"state":             out.State,
		"nonce":             out.Nonce,
	})
}

// Callback redeems the provider callback and returns a local session.
func (h *FederationHandler) Callback(c *gin.Context) {
	session, err := h.Federation.HandleCallback(c.Request.Context(), authsvc.CallbackInput{
		Provider:    c.Query("provider"),
		Code:        c.Query("code"),
		State:       c.Query("state"),
		RedirectURI: c.Query("redirect_uri"),
	})
	if err != nil {
		h.respondFederationError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{
		"access_token":  session.Tokens.AccessToken,
		"refresh_token": session.Tokens.RefreshToken,
		"token_type":    session.Tokens.TokenType,
		"expires_in":    session.Tokens.ExpiresIn,
		"scope":         session.Tokens.Scope,
		"user": gin.H{
			"id":    session.User.ID,
			"email": session.User.Email,
			"name":  session.User.Name,
		},
	})
}

// respondFederationError handles the federation-only sentinels before
// falling back to the shared envelope writer.
func (h *FederationHandler) respondFederationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, oauth.ErrProviderNotFound):
		writeEnvelope(c, http.StatusNotFound, "ProviderNotFound", "The requested identity provider is not configured.")
	case errors.Is(err, oauth.ErrInvalidState):
		writeEnvelope(c, http.StatusBadRequest, "InvalidState", "The state is unknown, expired, or already used.")
	default:
		respondError(c, err)
	}
}
