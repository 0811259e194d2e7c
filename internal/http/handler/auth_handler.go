package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Hashibutogarasu/karasu-lab-auth/internal/domain/oauth"
	httpmiddleware "github.com/Hashibutogarasu/karasu-lab-auth/internal/http/middleware"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/scope"
	"github.com/Hashibutogarasu/karasu-lab-auth/internal/service"
)

// AuthHandler serves first-party login and session endpoints.
type AuthHandler struct {
	Auth *service.AuthService
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{Auth: auth}
}

// Login handles password login and returns a first-party token pair.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" form:"email" binding:"required"`
		Password string `json:"password" form:"password" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, fmt.Errorf("email and password required: %w", oauth.ErrInvalidRequest))
		return
	}

	pair, user, err := h.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    pair.TokenType,
		"expires_in":    pair.ExpiresIn,
		"scope":         pair.Scope,
		"user": gin.H{
			"id":    user.ID,
			"email": user.Email,
			"name":  user.Name,
		},
	})
}

// Me returns the session principal.
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := httpmiddleware.GetPrincipal(c)
	if !ok {
		respondError(c, oauth.ErrInvalidToken)
		return
	}
	grant, _ := httpmiddleware.GetGrant(c)

	c.JSON(http.StatusOK, gin.H{
		"id":             user.ID,
		"email":          user.Email,
		"email_verified": user.EmailVerified,
		"name":           user.Name,
		"scopes":         scope.Names(grant.PermissionMask),
	})
}
